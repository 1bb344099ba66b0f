// Package artifact implements the stage artifact store: opaque keys mapping
// to tabular blobs, written once per stage invocation and overwritten only
// by re-invoking the same stage. Backends share the Store contract so the
// engine never knows whether it is writing to a local directory or S3.
package artifact

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Store is the key→blob persistence consumed by the step engine. Load
// reports absence via the bool, not an error, so callers can distinguish
// a missing artifact from a broken backend.
type Store interface {
	Save(ctx context.Context, key string, data []byte) error
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// keyTimeFormat is a compact UTC timestamp, fixed width so keys sort
// lexicographically in time order.
const keyTimeFormat = "20060102T150405Z"

// Key composes the artifact key for a stage invocation at T. Keys use
// partition-path form so prefix listing groups by stage.
func Key(stage string, t time.Time) string {
	return fmt.Sprintf("stage=%s/%s.json", stage, t.UTC().Format(keyTimeFormat))
}

// StagePrefix returns the listing prefix covering every artifact of a stage.
func StagePrefix(stage string) string {
	return fmt.Sprintf("stage=%s/", stage)
}

// ParseKey recovers the stage name and timestamp from a key produced by Key.
func ParseKey(key string) (string, time.Time, error) {
	dir, file, ok := strings.Cut(key, "/")
	if !ok || !strings.HasPrefix(dir, "stage=") || !strings.HasSuffix(file, ".json") {
		return "", time.Time{}, fmt.Errorf("malformed artifact key %q", key)
	}
	stage := strings.TrimPrefix(dir, "stage=")
	ts, err := time.Parse(keyTimeFormat, strings.TrimSuffix(file, ".json"))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("malformed artifact key %q: %w", key, err)
	}
	return stage, ts, nil
}
