package table

import (
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l2-controller/pkg/types"
)

func mac(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	m, err := net.ParseMAC(s)
	require.NoError(t, err)
	return m
}

func TestMacTable_Learn_FirstWriterWins(t *testing.T) {
	tbl := NewMacTable(4)
	m := mac(t, "00:00:00:00:aa:aa")

	port, learned := tbl.Learn("of:1", m, 1)
	assert.True(t, learned)
	assert.Equal(t, types.PortID(1), port)

	port, learned = tbl.Learn("of:1", m, 2)
	assert.False(t, learned)
	assert.Equal(t, types.PortID(1), port)

	got, ok := tbl.Lookup("of:1", m)
	require.True(t, ok)
	assert.Equal(t, types.PortID(1), got)
}

func TestMacTable_DevicesAreIndependent(t *testing.T) {
	tbl := NewMacTable(4)
	m := mac(t, "00:00:00:00:aa:aa")

	tbl.Learn("of:1", m, 1)
	_, learned := tbl.Learn("of:2", m, 7)
	assert.True(t, learned)

	p1, _ := tbl.Lookup("of:1", m)
	p2, _ := tbl.Lookup("of:2", m)
	assert.Equal(t, types.PortID(1), p1)
	assert.Equal(t, types.PortID(7), p2)
	assert.Equal(t, []types.DeviceID{"of:1", "of:2"}, tbl.Devices())
	assert.Equal(t, 2, tbl.Len())
}

func TestMacTable_Lookup_Miss(t *testing.T) {
	tbl := NewMacTable(0)
	_, ok := tbl.Lookup("of:1", mac(t, "00:00:00:00:bb:bb"))
	assert.False(t, ok)
	assert.Len(t, tbl.shards, DefaultShards)
}

func TestMacTable_RejectsInvalidAddress(t *testing.T) {
	tbl := NewMacTable(4)
	_, learned := tbl.Learn("of:1", net.HardwareAddr{1, 2, 3}, 1)
	assert.False(t, learned)
	assert.Equal(t, 0, tbl.Len())
}

func TestMacTable_Entries(t *testing.T) {
	tbl := NewMacTable(4)
	tbl.Learn("of:1", mac(t, "00:00:00:00:aa:aa"), 1)
	tbl.Learn("of:1", mac(t, "00:00:00:00:bb:bb"), 2)
	tbl.Learn("of:2", mac(t, "00:00:00:00:cc:cc"), 3)

	entries := tbl.Entries("of:1")
	assert.Equal(t, map[string]types.PortID{
		"00:00:00:00:aa:aa": 1,
		"00:00:00:00:bb:bb": 2,
	}, entries)
}

func TestMacTable_ConcurrentLearn_SingleWinner(t *testing.T) {
	tbl := NewMacTable(8)
	m := mac(t, "00:00:00:00:aa:aa")

	var wg sync.WaitGroup
	winners := make(chan types.PortID, 100)
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(port types.PortID) {
			defer wg.Done()
			if _, learned := tbl.Learn("of:1", m, port); learned {
				winners <- port
			}
		}(types.PortID(i))
	}
	wg.Wait()
	close(winners)

	var won []types.PortID
	for p := range winners {
		won = append(won, p)
	}
	require.Len(t, won, 1)

	stored, ok := tbl.Lookup("of:1", m)
	require.True(t, ok)
	assert.Equal(t, won[0], stored)
}

func TestMacTable_ConcurrentDevices(t *testing.T) {
	tbl := NewMacTable(16)
	var wg sync.WaitGroup
	for d := 0; d < 10; d++ {
		for h := 0; h < 50; h++ {
			wg.Add(1)
			go func(d, h int) {
				defer wg.Done()
				device := types.DeviceID(fmt.Sprintf("of:%d", d))
				tbl.Learn(device, net.HardwareAddr{0, 0, 0, 0, byte(d), byte(h)}, types.PortID(h))
			}(d, h)
		}
	}
	wg.Wait()
	assert.Equal(t, 500, tbl.Len())
	assert.Len(t, tbl.Devices(), 10)
}

func TestArpCache_Learn_FirstWriterWins(t *testing.T) {
	c := NewArpCache(4)
	ip := net.ParseIP("10.0.0.1")
	m1 := mac(t, "00:00:00:00:aa:aa")
	m2 := mac(t, "00:00:00:00:bb:bb")

	stored, learned := c.Learn(ip, m1)
	assert.True(t, learned)
	assert.Equal(t, m1.String(), stored.String())

	stored, learned = c.Learn(ip, m2)
	assert.False(t, learned)
	assert.Equal(t, m1.String(), stored.String())

	got, ok := c.Lookup(ip)
	require.True(t, ok)
	assert.Equal(t, m1.String(), got.String())
}

func TestArpCache_IPv4AndMappedFormsShareEntry(t *testing.T) {
	c := NewArpCache(4)
	c.Learn(net.IPv4(10, 0, 0, 1), mac(t, "00:00:00:00:aa:aa"))

	_, ok := c.Lookup(net.IP{10, 0, 0, 1})
	assert.True(t, ok)
}

func TestArpCache_RejectsIPv6(t *testing.T) {
	c := NewArpCache(4)
	_, learned := c.Learn(net.ParseIP("fe80::1"), mac(t, "00:00:00:00:aa:aa"))
	assert.False(t, learned)
	_, ok := c.Lookup(net.ParseIP("fe80::1"))
	assert.False(t, ok)
}

func TestArpCache_LookupReturnsCopy(t *testing.T) {
	c := NewArpCache(4)
	ip := net.ParseIP("10.0.0.1")
	c.Learn(ip, mac(t, "00:00:00:00:aa:aa"))

	got, _ := c.Lookup(ip)
	got[0] = 0xff

	again, _ := c.Lookup(ip)
	assert.Equal(t, "00:00:00:00:aa:aa", again.String())
}

func TestArpCache_Snapshot(t *testing.T) {
	c := NewArpCache(4)
	c.Learn(net.ParseIP("10.0.0.1"), mac(t, "00:00:00:00:aa:aa"))
	c.Learn(net.ParseIP("10.0.0.2"), mac(t, "00:00:00:00:bb:bb"))

	assert.Equal(t, map[string]string{
		"10.0.0.1": "00:00:00:00:aa:aa",
		"10.0.0.2": "00:00:00:00:bb:bb",
	}, c.Snapshot())
	assert.Equal(t, 2, c.Len())
}

func TestArpCache_ConcurrentLearn_SingleWinner(t *testing.T) {
	c := NewArpCache(8)
	ip := net.ParseIP("10.0.0.9")

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, learned := c.Learn(ip, net.HardwareAddr{0, 0, 0, 0, 0, byte(i)}); learned {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, c.Len())
}
