package dispatch

import (
	"errors"
	"net"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l2-controller/internal/bridge"
	"l2-controller/internal/decision"
	"l2-controller/internal/frame"
	"l2-controller/internal/proxyarp"
	"l2-controller/internal/table"
	"l2-controller/pkg/types"
)

var (
	macA = net.HardwareAddr{0, 0, 0, 0, 0xaa, 0xaa}
	macB = net.HardwareAddr{0, 0, 0, 0, 0xbb, 0xbb}
)

type staticEdges []types.ConnectPoint

func (s staticEdges) EdgePorts() []types.ConnectPoint { return s }

func rawFrame(t *testing.T, port types.PortID, v *frame.View) types.RawFrame {
	t.Helper()
	data, err := frame.Encode(v, []byte{0xde, 0xad})
	require.NoError(t, err)
	return types.RawFrame{Device: "of:1", Port: port, Data: data}
}

func newDispatcher() (*Dispatcher, *table.MacTable, *table.ArpCache) {
	macs := table.NewMacTable(4)
	cache := table.NewArpCache(4)
	edges := staticEdges{{Device: "of:1", Port: 1}, {Device: "of:1", Port: 2}, {Device: "of:1", Port: 3}}
	return NewDispatcher(bridge.NewEngine(bridge.DefaultConfig(), macs), proxyarp.NewEngine(cache), edges), macs, cache
}

func TestClassify(t *testing.T) {
	assert.Equal(t, RouteIgnore, Classify(&frame.View{EtherType: layers.EthernetTypeLinkLayerDiscovery}))
	assert.Equal(t, RouteIgnore, Classify(&frame.View{EtherType: frame.EtherTypeBSN}))
	assert.Equal(t, RouteArp, Classify(&frame.View{EtherType: layers.EthernetTypeARP}))
	assert.Equal(t, RouteBridge, Classify(&frame.View{EtherType: layers.EthernetTypeIPv4}))
	assert.Equal(t, RouteBridge, Classify(&frame.View{EtherType: layers.EthernetTypeIPv6}))

	// Tagged frames are classified by the type after the tag.
	assert.Equal(t, RouteArp, Classify(&frame.View{EtherType: layers.EthernetTypeARP, Tagged: true, VLAN: 10}))
	assert.Equal(t, RouteIgnore, Classify(&frame.View{EtherType: layers.EthernetTypeLinkLayerDiscovery, Tagged: true, VLAN: 10}))
}

func TestDispatcher_ParseError(t *testing.T) {
	d, macs, _ := newDispatcher()

	res, err := d.Dispatch(types.RawFrame{Device: "of:1", Port: 1, Data: []byte{1, 2, 3}})
	require.Error(t, err)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, types.DeviceID("of:1"), perr.Device)
	assert.True(t, errors.Is(err, frame.ErrMalformed))
	assert.Equal(t, decision.Ignore, res.Decision.Kind)
	assert.Nil(t, res.View)
	assert.Equal(t, 0, macs.Len())
}

func TestDispatcher_LLDPIgnoredWithoutLearning(t *testing.T) {
	d, macs, _ := newDispatcher()

	res, err := d.Dispatch(rawFrame(t, 1, &frame.View{
		EtherType: layers.EthernetTypeLinkLayerDiscovery, SrcMAC: macA, DstMAC: macB,
	}))
	require.NoError(t, err)
	assert.Equal(t, RouteIgnore, res.Route)
	assert.Equal(t, decision.Ignore, res.Decision.Kind)
	assert.Equal(t, 0, macs.Len())
}

func TestDispatcher_BSNIgnored(t *testing.T) {
	d, macs, _ := newDispatcher()

	res, err := d.Dispatch(rawFrame(t, 1, &frame.View{EtherType: frame.EtherTypeBSN, SrcMAC: macA, DstMAC: macB}))
	require.NoError(t, err)
	assert.Equal(t, decision.Ignore, res.Decision.Kind)
	assert.Equal(t, 0, macs.Len())
}

func TestDispatcher_IPv4GoesToBridge(t *testing.T) {
	d, macs, _ := newDispatcher()

	res, err := d.Dispatch(rawFrame(t, 1, &frame.View{EtherType: layers.EthernetTypeIPv4, SrcMAC: macA, DstMAC: macB}))
	require.NoError(t, err)
	assert.Equal(t, RouteBridge, res.Route)
	assert.Equal(t, decision.Flood, res.Decision.Kind)
	assert.Equal(t, 1, macs.Len())
}

func TestDispatcher_ARPGoesOnlyToProxy(t *testing.T) {
	d, macs, cache := newDispatcher()

	res, err := d.Dispatch(rawFrame(t, 3, &frame.View{
		EtherType: layers.EthernetTypeARP,
		SrcMAC:    macA,
		DstMAC:    layers.EthernetBroadcast,
		ARP: &frame.ARPMessage{
			Operation: layers.ARPRequest,
			SenderMAC: macA,
			SenderIP:  net.ParseIP("10.0.0.1"),
			TargetIP:  net.ParseIP("10.0.0.2"),
		},
	}))
	require.NoError(t, err)
	assert.Equal(t, RouteArp, res.Route)
	require.Equal(t, decision.FloodArpRequest, res.Decision.Kind)
	assert.Len(t, res.Decision.Targets, 2)
	assert.Equal(t, 0, macs.Len(), "ARP frames must not be learned by the bridge")
	assert.Equal(t, 1, cache.Len())
}

func TestDispatcher_TaggedARPGoesOnlyToProxy(t *testing.T) {
	d, macs, cache := newDispatcher()

	res, err := d.Dispatch(rawFrame(t, 3, &frame.View{
		EtherType: layers.EthernetTypeARP,
		SrcMAC:    macA,
		DstMAC:    layers.EthernetBroadcast,
		Tagged:    true,
		VLAN:      10,
		ARP: &frame.ARPMessage{
			Operation: layers.ARPRequest,
			SenderMAC: macA,
			SenderIP:  net.ParseIP("10.0.0.1"),
			TargetIP:  net.ParseIP("10.0.0.2"),
		},
	}))
	require.NoError(t, err)
	assert.Equal(t, RouteArp, res.Route)
	assert.Equal(t, decision.FloodArpRequest, res.Decision.Kind)
	assert.Equal(t, 0, macs.Len())
	assert.Equal(t, 1, cache.Len())
}

func TestDispatcher_TaggedLLDPIgnored(t *testing.T) {
	d, macs, _ := newDispatcher()

	res, err := d.Dispatch(rawFrame(t, 1, &frame.View{
		EtherType: layers.EthernetTypeLinkLayerDiscovery, SrcMAC: macA, DstMAC: macB, Tagged: true, VLAN: 10,
	}))
	require.NoError(t, err)
	assert.Equal(t, RouteIgnore, res.Route)
	assert.Equal(t, decision.Ignore, res.Decision.Kind)
	assert.Equal(t, 0, macs.Len())
}

func TestDispatcher_DisabledEngines(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)

	res, err := d.Dispatch(rawFrame(t, 1, &frame.View{EtherType: layers.EthernetTypeIPv4, SrcMAC: macA, DstMAC: macB}))
	require.NoError(t, err)
	assert.Equal(t, decision.Ignore, res.Decision.Kind)
	assert.Equal(t, "bridge disabled", res.Decision.Reason)
}

func TestRoute_String(t *testing.T) {
	assert.Equal(t, "bridge", RouteBridge.String())
	assert.Equal(t, "arp", RouteArp.String())
	assert.Equal(t, "ignore", RouteIgnore.String())
	assert.Equal(t, "unknown", Route(9).String())
}
