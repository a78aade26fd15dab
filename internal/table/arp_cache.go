package table

import (
	"net"
	"sync"
)

type arpShard struct {
	entries map[[4]byte]net.HardwareAddr
	mu      sync.RWMutex
}

// ArpCache maps IPv4 addresses to the hardware address first observed for them.
// Entries are never overwritten or expired.
type ArpCache struct {
	shards []*arpShard
}

// NewArpCache creates an ARP cache split into n independently locked shards.
func NewArpCache(n int) *ArpCache {
	n = shardCount(n)
	c := &ArpCache{shards: make([]*arpShard, n)}
	for i := range c.shards {
		c.shards[i] = &arpShard{entries: make(map[[4]byte]net.HardwareAddr)}
	}
	return c
}

func ip4Key(ip net.IP) ([4]byte, bool) {
	var k [4]byte
	v4 := ip.To4()
	if v4 == nil {
		return k, false
	}
	copy(k[:], v4)
	return k, true
}

func (c *ArpCache) shard(k [4]byte) *arpShard {
	return c.shards[shardIndex(k[:], len(c.shards))]
}

// Learn records mac for ip unless an entry already exists.
// It returns the address now stored and whether this call created the entry.
func (c *ArpCache) Learn(ip net.IP, mac net.HardwareAddr) (net.HardwareAddr, bool) {
	k, ok := ip4Key(ip)
	if !ok || len(mac) != 6 {
		return nil, false
	}
	s := c.shard(k)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, found := s.entries[k]; found {
		return cloneMAC(existing), false
	}
	s.entries[k] = cloneMAC(mac)
	return cloneMAC(mac), true
}

// Lookup returns the hardware address cached for ip.
func (c *ArpCache) Lookup(ip net.IP) (net.HardwareAddr, bool) {
	k, ok := ip4Key(ip)
	if !ok {
		return nil, false
	}
	s := c.shard(k)

	s.mu.RLock()
	defer s.mu.RUnlock()
	mac, found := s.entries[k]
	if !found {
		return nil, false
	}
	return cloneMAC(mac), true
}

// Snapshot returns a copy of the cache keyed by dotted IPv4 string.
func (c *ArpCache) Snapshot() map[string]string {
	out := make(map[string]string)
	for _, s := range c.shards {
		s.mu.RLock()
		for k, mac := range s.entries {
			out[net.IP(k[:]).String()] = mac.String()
		}
		s.mu.RUnlock()
	}
	return out
}

// Len returns the number of cached addresses.
func (c *ArpCache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.entries)
		s.mu.RUnlock()
	}
	return total
}

func cloneMAC(mac net.HardwareAddr) net.HardwareAddr {
	out := make(net.HardwareAddr, len(mac))
	copy(out, mac)
	return out
}
