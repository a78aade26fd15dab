package dispatch

import (
	"github.com/google/gopacket/layers"

	"l2-controller/internal/frame"
)

// Route says which engine handles a frame.
type Route int

const (
	RouteIgnore Route = iota
	RouteBridge
	RouteArp
)

func (r Route) String() string {
	switch r {
	case RouteIgnore:
		return "ignore"
	case RouteBridge:
		return "bridge"
	case RouteArp:
		return "arp"
	default:
		return "unknown"
	}
}

// routes lists the ether-types that do not go to the bridge.
var routes = map[layers.EthernetType]Route{
	layers.EthernetTypeLinkLayerDiscovery: RouteIgnore,
	frame.EtherTypeBSN:                    RouteIgnore,
	layers.EthernetTypeARP:                RouteArp,
}

// Classify returns the route for a parsed frame.
func Classify(v *frame.View) Route {
	if r, ok := routes[v.EtherType]; ok {
		return r
	}
	return RouteBridge
}
