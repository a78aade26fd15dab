package datapath

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"l2-controller/pkg/types"
)

type flowKey struct {
	device types.DeviceID
	src    [6]byte
	dst    [6]byte
}

// FlowEntry is an installed temporary rule.
type FlowEntry struct {
	Rule        types.FlowRule
	InstalledAt time.Time
	LastHit     time.Time
	Hits        uint64
}

func (e *FlowEntry) expired(now time.Time) bool {
	return now.Sub(e.LastHit) > time.Duration(e.Rule.TimeoutSec)*time.Second
}

// FlowTable holds temporary (src, dst) forwarding rules. A rule is removed once it has not
// matched any frame for its timeout.
type FlowTable struct {
	entries map[flowKey]*FlowEntry
	mu      sync.Mutex
	now     func() time.Time
}

// NewFlowTable creates an empty flow table.
func NewFlowTable() *FlowTable {
	return &FlowTable{
		entries: make(map[flowKey]*FlowEntry),
		now:     time.Now,
	}
}

func newFlowKey(device types.DeviceID, src, dst net.HardwareAddr) (flowKey, error) {
	var k flowKey
	if len(src) != 6 || len(dst) != 6 {
		return k, fmt.Errorf("flow match needs 6-byte addresses, got src=%q dst=%q", src, dst)
	}
	k.device = device
	copy(k.src[:], src)
	copy(k.dst[:], dst)
	return k, nil
}

// Install adds a rule, replacing any rule with the same match unless that one has a higher priority.
func (t *FlowTable) Install(rule types.FlowRule) error {
	if rule.TimeoutSec <= 0 {
		return fmt.Errorf("flow rule %s has no timeout", rule)
	}
	k, err := newFlowKey(rule.Device, rule.MatchSrc, rule.MatchDst)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.entries[k]; ok && existing.Rule.Priority > rule.Priority && !existing.expired(t.now()) {
		return fmt.Errorf("flow rule %s shadowed by priority %d", rule, existing.Rule.Priority)
	}

	now := t.now()
	t.entries[k] = &FlowEntry{
		Rule:        rule,
		InstalledAt: now,
		LastHit:     now,
	}
	return nil
}

// Match returns the output port of the live rule matching (device, src, dst) and refreshes it.
func (t *FlowTable) Match(device types.DeviceID, src, dst net.HardwareAddr) (types.PortID, bool) {
	k, err := newFlowKey(device, src, dst)
	if err != nil {
		return 0, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[k]
	if !ok {
		return 0, false
	}
	now := t.now()
	if e.expired(now) {
		delete(t.entries, k)
		return 0, false
	}
	e.LastHit = now
	e.Hits++
	return e.Rule.Output, true
}

// Expire removes every rule idle for longer than its timeout and returns how many were removed.
func (t *FlowTable) Expire() int {
	t.mu.Lock()
	var expired []types.FlowRule
	now := t.now()
	for k, e := range t.entries {
		if e.expired(now) {
			expired = append(expired, e.Rule)
			delete(t.entries, k)
		}
	}
	t.mu.Unlock()

	for _, rule := range expired {
		log.WithFields(log.Fields{
			"device": rule.Device,
			"src":    rule.MatchSrc,
			"dst":    rule.MatchDst,
			"port":   rule.Output,
		}).Debug("Flow rule expired")
	}
	return len(expired)
}

// StartExpiryMonitor starts a goroutine that removes idle rules every interval.
func (t *FlowTable) StartExpiryMonitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.Expire()
			}
		}
	}()
}

// Entries returns a copy of all installed rules, ordered by device then source address.
func (t *FlowTable) Entries() []FlowEntry {
	t.mu.Lock()
	out := make([]FlowEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Rule.Device != out[j].Rule.Device {
			return out[i].Rule.Device < out[j].Rule.Device
		}
		if s1, s2 := out[i].Rule.MatchSrc.String(), out[j].Rule.MatchSrc.String(); s1 != s2 {
			return s1 < s2
		}
		return out[i].Rule.MatchDst.String() < out[j].Rule.MatchDst.String()
	})
	return out
}

// Len returns the number of installed rules.
func (t *FlowTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
