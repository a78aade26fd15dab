package table

import (
	"net"
	"sort"
	"sync"

	"l2-controller/pkg/types"
)

type macKey struct {
	device types.DeviceID
	mac    [6]byte
}

type macShard struct {
	entries map[macKey]types.PortID
	mu      sync.RWMutex
}

// MacTable maps (device, hardware address) to the port the address was first seen on.
// Entries are never overwritten or expired.
type MacTable struct {
	shards []*macShard
}

// NewMacTable creates a MAC learning table split into n independently locked shards.
func NewMacTable(n int) *MacTable {
	n = shardCount(n)
	t := &MacTable{shards: make([]*macShard, n)}
	for i := range t.shards {
		t.shards[i] = &macShard{entries: make(map[macKey]types.PortID)}
	}
	return t
}

func newMacKey(device types.DeviceID, mac net.HardwareAddr) (macKey, bool) {
	var k macKey
	if len(mac) != 6 {
		return k, false
	}
	k.device = device
	copy(k.mac[:], mac)
	return k, true
}

func (t *MacTable) shard(k macKey) *macShard {
	key := make([]byte, 0, len(k.device)+6)
	key = append(key, string(k.device)...)
	key = append(key, k.mac[:]...)
	return t.shards[shardIndex(key, len(t.shards))]
}

// Learn records port for (device, mac) unless an entry already exists.
// It returns the port now stored and whether this call created the entry.
func (t *MacTable) Learn(device types.DeviceID, mac net.HardwareAddr, port types.PortID) (types.PortID, bool) {
	k, ok := newMacKey(device, mac)
	if !ok {
		return 0, false
	}
	s := t.shard(k)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, found := s.entries[k]; found {
		return existing, false
	}
	s.entries[k] = port
	return port, true
}

// Lookup returns the port learned for (device, mac).
func (t *MacTable) Lookup(device types.DeviceID, mac net.HardwareAddr) (types.PortID, bool) {
	k, ok := newMacKey(device, mac)
	if !ok {
		return 0, false
	}
	s := t.shard(k)

	s.mu.RLock()
	defer s.mu.RUnlock()
	port, found := s.entries[k]
	return port, found
}

// Entries returns a copy of the table for one device, keyed by the address string.
func (t *MacTable) Entries(device types.DeviceID) map[string]types.PortID {
	out := make(map[string]types.PortID)
	for _, s := range t.shards {
		s.mu.RLock()
		for k, port := range s.entries {
			if k.device == device {
				out[net.HardwareAddr(k.mac[:]).String()] = port
			}
		}
		s.mu.RUnlock()
	}
	return out
}

// Devices returns the devices that have at least one learned entry, sorted.
func (t *MacTable) Devices() []types.DeviceID {
	seen := make(map[types.DeviceID]bool)
	for _, s := range t.shards {
		s.mu.RLock()
		for k := range s.entries {
			seen[k.device] = true
		}
		s.mu.RUnlock()
	}

	devices := make([]types.DeviceID, 0, len(seen))
	for d := range seen {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i] < devices[j] })
	return devices
}

// Len returns the total number of entries across all devices.
func (t *MacTable) Len() int {
	total := 0
	for _, s := range t.shards {
		s.mu.RLock()
		total += len(s.entries)
		s.mu.RUnlock()
	}
	return total
}
