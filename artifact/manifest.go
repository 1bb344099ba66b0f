package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ManifestEntry records one stage artifact written during a run.
type ManifestEntry struct {
	Stage       string `json:"stage"`
	Key         string `json:"key"`
	RecordCount int    `json:"record_count"`
	FileSize    int64  `json:"file_size_in_bytes"`
	WrittenMs   int64  `json:"written-ms"`
}

// Manifest is the top-level run record. It is advisory metadata for
// operators and tooling; stage artifacts themselves carry the
// reproducibility contract.
type Manifest struct {
	FormatVersion int             `json:"format-version"`
	RunID         string          `json:"run-id"`
	Strategy      string          `json:"strategy"`
	CreatedMs     int64           `json:"created-ms"`
	Entries       []ManifestEntry `json:"entries"`
}

// ManifestWriter incrementally builds the manifest for a run and rewrites
// it through the store after every recorded artifact, so a crashed run
// still leaves an accurate partial manifest behind.
type ManifestWriter struct {
	mu       sync.Mutex
	store    Store
	key      string
	manifest Manifest
}

// NewManifestWriter starts a manifest for a fresh run with a generated run ID.
func NewManifestWriter(store Store, strategy string, now time.Time) *ManifestWriter {
	runID := uuid.NewString()
	return &ManifestWriter{
		store: store,
		key:   ManifestKey(runID),
		manifest: Manifest{
			FormatVersion: 1,
			RunID:         runID,
			Strategy:      strategy,
			CreatedMs:     now.UnixMilli(),
		},
	}
}

// ManifestKey returns the store key for a run's manifest.
func ManifestKey(runID string) string {
	return fmt.Sprintf("manifest/run-%s.json", runID)
}

// RunID returns the generated identifier for this run.
func (w *ManifestWriter) RunID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.manifest.RunID
}

// Record appends an artifact entry and persists the updated manifest.
func (w *ManifestWriter) Record(ctx context.Context, stage, key string, recordCount int, size int64, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.manifest.Entries = append(w.manifest.Entries, ManifestEntry{
		Stage:       stage,
		Key:         key,
		RecordCount: recordCount,
		FileSize:    size,
		WrittenMs:   at.UnixMilli(),
	})
	return w.persistLocked(ctx)
}

func (w *ManifestWriter) persistLocked(ctx context.Context) error {
	data, err := json.MarshalIndent(w.manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run manifest: %w", err)
	}
	if err := w.store.Save(ctx, w.key, data); err != nil {
		return fmt.Errorf("failed to persist run manifest: %w", err)
	}
	return nil
}

// LoadManifest fetches a run manifest by run ID.
func LoadManifest(ctx context.Context, store Store, runID string) (*Manifest, bool, error) {
	data, found, err := store.Load(ctx, ManifestKey(runID))
	if err != nil || !found {
		return nil, found, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false, fmt.Errorf("failed to decode run manifest %s: %w", runID, err)
	}
	return &m, true, nil
}
