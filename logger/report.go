package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net" //cloudwatch

	"github.com/aws/aws-sdk-go-v2/aws"                              //cloudwatch
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types" //cloudwatch
)

type streamStat struct {
	messages int64
	bytes    int64
}

var (
	errorsStage    int64
	errorsVenue    int64
	warnsStage     int64
	warnsVenue     int64
	stageRuns      int64
	artifactWrites int64
	ledgerAppends  int64
	venueCalls     int64
	streams        sync.Map // map[string]*streamStat
)

func isVenueComponent(component string) bool {
	return strings.Contains(component, "exchange") ||
		strings.Contains(component, "venue") ||
		strings.Contains(component, "binance")
}

func recordWarn(component string) {
	if isVenueComponent(component) {
		atomic.AddInt64(&warnsVenue, 1)
	} else {
		atomic.AddInt64(&warnsStage, 1)
	}
}

func recordError(component string) {
	if isVenueComponent(component) {
		atomic.AddInt64(&errorsVenue, 1)
	} else {
		atomic.AddInt64(&errorsStage, 1)
	}
}

// IncrementStageRun counts one completed stage execution producing rows rows.
func IncrementStageRun(rows int) {
	atomic.AddInt64(&stageRuns, 1)
	recordStream("stage_rows", rows)
}

// IncrementArtifactWrite counts one artifact persisted with the given size.
func IncrementArtifactWrite(size int64) {
	atomic.AddInt64(&artifactWrites, 1)
	recordStream("artifact_write", int(size))
}

// IncrementLedgerAppend counts fills appended to the ledger.
func IncrementLedgerAppend(n int) {
	atomic.AddInt64(&ledgerAppends, 1)
	recordStream("ledger_append", n)
}

// IncrementVenueCall counts one round trip to an execution venue or data feed.
func IncrementVenueCall(size int) {
	atomic.AddInt64(&venueCalls, 1)
	recordStream("venue_call", size)
}

func RecordStreamMessage(name string, size int) {
	recordStream(name, size)
}

func recordStream(name string, size int) {
	v, _ := streams.LoadOrStore(name, &streamStat{})
	cs := v.(*streamStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and pipeline statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	streamData := map[string]map[string]int64{}
	streams.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*streamStat)
		streamData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_stage":    atomic.LoadInt64(&errorsStage),
		"errors_venue":    atomic.LoadInt64(&errorsVenue),
		"warns_stage":     atomic.LoadInt64(&warnsStage),
		"warns_venue":     atomic.LoadInt64(&warnsVenue),
		"stage_runs":      atomic.LoadInt64(&stageRuns),
		"artifact_writes": atomic.LoadInt64(&artifactWrites),
		"ledger_appends":  atomic.LoadInt64(&ledgerAppends),
		"venue_calls":     atomic.LoadInt64(&venueCalls),
		"goroutines":      runtime.NumGoroutine(),
		"cpu_percent":     cpuPct,
		"memory_mb":       int64(memStats.Used) / 1024 / 1024,
		"disk_mb":         int64(diskStats.Used) / 1024 / 1024,
		"streams":         streamData,
		"net_bytes_sent":  int64(bytesSent),
		"net_bytes_recv":  int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("StageErrors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_stage"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("VenueErrors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_venue"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("StageWarns"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_stage"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("VenueWarns"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_venue"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("StageRuns"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["stage_runs"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ArtifactWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["artifact_writes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("LedgerAppends"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["ledger_appends"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("VenueCalls"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["venue_calls"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range streamData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("StreamMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Stream"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("StreamBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Stream"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
