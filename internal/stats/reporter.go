package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// TableSizes reports the current size of the learned tables.
type TableSizes func() (macEntries, arpEntries int)

// Reporter outputs statistics to console and/or file.
type Reporter struct {
	collector   *Collector
	intervalSec int
	exportFile  string
	tables      TableSizes
}

// NewReporter creates a new statistics reporter. tables may be nil.
func NewReporter(collector *Collector, intervalSec int, exportFile string, tables TableSizes) *Reporter {
	return &Reporter{
		collector:   collector,
		intervalSec: intervalSec,
		exportFile:  exportFile,
		tables:      tables,
	}
}

// StartPeriodicReport begins periodic statistics reporting in a goroutine.
func (r *Reporter) StartPeriodicReport(ctx context.Context) {
	if r.intervalSec <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(time.Duration(r.intervalSec) * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Println(r.FormatReport())
			}
		}
	}()
}

// PrintFinalReport prints the final statistics summary.
func (r *Reporter) PrintFinalReport() {
	r.collector.Finish()
	fmt.Println(r.FormatReport())
}

func (r *Reporter) exportData() map[string]interface{} {
	snap := r.collector.Snapshot()
	min, avg, max, p99 := snap.DecisionTimeStats()

	export := map[string]interface{}{
		"start_time":   snap.StartTime.Format(time.RFC3339),
		"end_time":     snap.EndTime.Format(time.RFC3339),
		"duration_sec": snap.Duration().Seconds(),
		"frames": map[string]interface{}{
			"received":     snap.FramesReceived,
			"filtered":     snap.FramesFiltered,
			"dropped":      snap.FramesDropped,
			"fast_path":    snap.FastPathHits,
			"parse_errors": snap.ParseErrors,
			"control":      snap.ControlFrames,
		},
		"routes":    snap.Routes,
		"decisions": snap.Decisions,
		"side_effects": map[string]interface{}{
			"installs":          snap.Installs,
			"install_failures":  snap.InstallFailures,
			"transmits":         snap.Transmits,
			"transmit_failures": snap.TransmitFailures,
			"dropped":           snap.SideEffectsDropped,
		},
		"decision_times_us": map[string]interface{}{
			"min": float64(min) / float64(time.Microsecond),
			"avg": float64(avg) / float64(time.Microsecond),
			"max": float64(max) / float64(time.Microsecond),
			"p99": float64(p99) / float64(time.Microsecond),
		},
	}

	if r.tables != nil {
		macs, arps := r.tables()
		export["tables"] = map[string]interface{}{
			"mac_entries": macs,
			"arp_entries": arps,
		}
	}

	duration := snap.Duration().Seconds()
	if duration > 0 {
		export["throughput_frames_per_sec"] = float64(snap.TotalDecisions()) / duration
	}
	return export
}

// Export writes statistics to the export file, as YAML when it ends in .yaml or .yml
// and as JSON otherwise.
func (r *Reporter) Export() error {
	if r.exportFile == "" {
		return nil
	}

	export := r.exportData()

	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(r.exportFile)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(export)
	default:
		data, err = json.MarshalIndent(export, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	if err := os.WriteFile(r.exportFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write stats file %s: %w", r.exportFile, err)
	}

	log.WithField("file", r.exportFile).Info("Statistics exported")
	return nil
}

// FormatReport generates a formatted statistics report string.
func (r *Reporter) FormatReport() string {
	snap := r.collector.Snapshot()
	elapsed := snap.Duration()
	min, avg, max, p99 := snap.DecisionTimeStats()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\n=== L2 Controller Statistics (elapsed: %s) ===\n", elapsed.Round(time.Second)))
	sb.WriteString("Frames:\n")
	sb.WriteString(fmt.Sprintf("  Received: %d  |  Filtered: %d  |  Dropped: %d  |  Fast path: %d\n",
		snap.FramesReceived, snap.FramesFiltered, snap.FramesDropped, snap.FastPathHits))
	sb.WriteString(fmt.Sprintf("  Parse errors: %d  |  Control frames: %d\n", snap.ParseErrors, snap.ControlFrames))

	sb.WriteString("Decisions:\n")
	kinds := make([]string, 0, len(snap.Decisions))
	for name := range snap.Decisions {
		kinds = append(kinds, name)
	}
	sort.Strings(kinds)
	for _, name := range kinds {
		sb.WriteString(fmt.Sprintf("  %-20s %d\n", name+":", snap.Decisions[name]))
	}

	sb.WriteString("Side effects:\n")
	sb.WriteString(fmt.Sprintf("  Installs: %d (failed %d)  |  Transmits: %d (failed %d)  |  Dropped: %d\n",
		snap.Installs, snap.InstallFailures, snap.Transmits, snap.TransmitFailures, snap.SideEffectsDropped))

	if r.tables != nil {
		macs, arps := r.tables()
		sb.WriteString("Tables:\n")
		sb.WriteString(fmt.Sprintf("  MAC entries: %d  |  ARP entries: %d\n", macs, arps))
	}

	if len(snap.DecisionTimes) > 0 {
		sb.WriteString("Decision Times:\n")
		sb.WriteString(fmt.Sprintf("  Min: %s  |  Avg: %s  |  Max: %s  |  P99: %s\n",
			min, avg, max, p99))
	}

	if elapsed.Seconds() > 0 {
		sb.WriteString("Throughput:\n")
		sb.WriteString(fmt.Sprintf("  %.1f frames/s\n", float64(snap.TotalDecisions())/elapsed.Seconds()))
	}

	sb.WriteString("================================================\n")
	return sb.String()
}
