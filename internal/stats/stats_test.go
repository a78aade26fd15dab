package stats

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestCollector_RecordDecision(t *testing.T) {
	c := NewCollector()
	c.RecordDecision("bridge", "Flood", time.Microsecond)
	c.RecordDecision("bridge", "InstallAndForward", 3*time.Microsecond)
	c.RecordDecision("arp", "ArpReply", 2*time.Microsecond)

	snap := c.Snapshot()
	assert.Equal(t, uint64(2), snap.Routes["bridge"])
	assert.Equal(t, uint64(1), snap.Routes["arp"])
	assert.Equal(t, uint64(3), snap.TotalDecisions())

	min, avg, max, p99 := snap.DecisionTimeStats()
	assert.Equal(t, time.Microsecond, min)
	assert.Equal(t, 2*time.Microsecond, avg)
	assert.Equal(t, 3*time.Microsecond, max)
	assert.Equal(t, 3*time.Microsecond, p99)
}

func TestCollector_SideEffects(t *testing.T) {
	c := NewCollector()
	c.RecordInstall(nil)
	c.RecordInstall(errors.New("rejected"))
	c.RecordTransmit(nil)
	c.RecordTransmit(nil)
	c.RecordTransmit(errors.New("link down"))
	c.RecordSideEffectDropped()

	snap := c.Snapshot()
	assert.Equal(t, uint64(1), snap.Installs)
	assert.Equal(t, uint64(1), snap.InstallFailures)
	assert.Equal(t, uint64(2), snap.Transmits)
	assert.Equal(t, uint64(1), snap.TransmitFailures)
	assert.Equal(t, uint64(1), snap.SideEffectsDropped)
}

func TestCollector_LatencyWindowIsBounded(t *testing.T) {
	c := NewCollector()
	for i := 0; i < maxLatencySamples+50; i++ {
		c.RecordDecision("bridge", "Flood", time.Duration(i))
	}
	assert.Len(t, c.Snapshot().DecisionTimes, maxLatencySamples)
	assert.Equal(t, uint64(maxLatencySamples+50), c.TotalDecisions())
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordReceived()
			c.RecordDecision("bridge", "Flood", time.Microsecond)
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(100), c.Snapshot().FramesReceived)
	assert.Equal(t, uint64(100), c.TotalDecisions())
}

func TestReporter_ExportJSON(t *testing.T) {
	c := NewCollector()
	c.RecordReceived()
	c.RecordDecision("bridge", "Flood", time.Microsecond)

	file := filepath.Join(t.TempDir(), "stats.json")
	r := NewReporter(c, 0, file, func() (int, int) { return 3, 1 })
	c.Finish()
	require.NoError(t, r.Export())

	data, err := os.ReadFile(file)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, float64(1), out["decisions"].(map[string]interface{})["Flood"])
	assert.Equal(t, float64(3), out["tables"].(map[string]interface{})["mac_entries"])
}

func TestReporter_ExportYAML(t *testing.T) {
	c := NewCollector()
	c.RecordParseError()

	file := filepath.Join(t.TempDir(), "stats.yaml")
	r := NewReporter(c, 0, file, nil)
	require.NoError(t, r.Export())

	data, err := os.ReadFile(file)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &out))
	assert.Equal(t, 1, out["frames"].(map[string]interface{})["parse_errors"])
}

func TestReporter_ExportDisabled(t *testing.T) {
	r := NewReporter(NewCollector(), 0, "", nil)
	assert.NoError(t, r.Export())
}

func TestReporter_FormatReport(t *testing.T) {
	c := NewCollector()
	c.RecordDecision("arp", "ArpReply", time.Microsecond)
	r := NewReporter(c, 0, "", func() (int, int) { return 0, 2 })

	report := r.FormatReport()
	assert.Contains(t, report, "ArpReply:")
	assert.Contains(t, report, "ARP entries: 2")
}

func TestCollector_SnapshotOfSnapshot(t *testing.T) {
	c := NewCollector()
	c.RecordReceived()
	c.RecordDecision("arp", "ArpReply", time.Microsecond)

	snap := c.Snapshot().Snapshot()
	assert.Equal(t, uint64(1), snap.FramesReceived)
	assert.Equal(t, uint64(1), snap.Routes["arp"])
	assert.Equal(t, uint64(1), snap.Decisions["ArpReply"])
	assert.Equal(t, uint64(1), snap.TotalDecisions())
	assert.Len(t, snap.DecisionTimes, 1)
}

func TestCollector_ConcurrentDecisionsAcrossKinds(t *testing.T) {
	c := NewCollector()
	kinds := []string{"Flood", "InstallAndForward", "ArpReply", "FloodArpRequest"}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				c.RecordDecision("bridge", kinds[(w+i)%len(kinds)], time.Duration(i))
			}
		}(w)
	}
	wg.Wait()

	snap := c.Snapshot()
	assert.Equal(t, uint64(4000), snap.TotalDecisions())
	assert.Equal(t, uint64(4000), snap.Routes["bridge"])
	for _, k := range kinds {
		assert.Equal(t, uint64(1000), snap.Decisions[k])
	}
	assert.Len(t, snap.DecisionTimes, maxLatencySamples/10*4)
}
