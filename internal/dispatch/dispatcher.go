package dispatch

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"l2-controller/internal/bridge"
	"l2-controller/internal/decision"
	"l2-controller/internal/frame"
	"l2-controller/internal/platform"
	"l2-controller/internal/proxyarp"
	"l2-controller/pkg/types"
)

// ParseError reports a frame that could not be decoded. It unwraps to frame.ErrMalformed.
type ParseError struct {
	Device types.DeviceID
	Port   types.PortID
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("frame from %s/%d: %v", e.Device, e.Port, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Result is the outcome of dispatching one frame.
type Result struct {
	Route    Route
	View     *frame.View // nil when the frame did not parse
	Decision decision.Decision
}

// Dispatcher decodes inbound frames and hands them to the engine for their ether-type.
// A nil engine disables its route.
type Dispatcher struct {
	bridge *bridge.Engine
	arp    *proxyarp.Engine
	edges  platform.EdgePortDirectory
}

// NewDispatcher creates a dispatcher. edges is only consulted for ARP requests.
func NewDispatcher(b *bridge.Engine, a *proxyarp.Engine, edges platform.EdgePortDirectory) *Dispatcher {
	return &Dispatcher{bridge: b, arp: a, edges: edges}
}

// Dispatch computes the decision for one frame. It performs no I/O.
func (d *Dispatcher) Dispatch(raw types.RawFrame) (Result, error) {
	v, err := frame.Decode(raw.Data)
	if err != nil {
		return Result{Route: RouteIgnore, Decision: decision.NewIgnore("parse error")},
			&ParseError{Device: raw.Device, Port: raw.Port, Err: err}
	}

	route := Classify(v)
	res := Result{Route: route, View: v}

	switch route {
	case RouteBridge:
		if d.bridge == nil {
			res.Decision = decision.NewIgnore("bridge disabled")
			break
		}
		res.Decision = d.bridge.Process(raw.Device, raw.Port, v)
	case RouteArp:
		if d.arp == nil {
			res.Decision = decision.NewIgnore("proxy arp disabled")
			break
		}
		var edges []types.ConnectPoint
		if d.edges != nil {
			edges = d.edges.EdgePorts()
		}
		res.Decision = d.arp.Process(raw.Device, raw.Port, edges, v)
	default:
		log.WithFields(log.Fields{
			"device":     raw.Device,
			"port":       raw.Port,
			"ether_type": frame.EtherTypeName(v.EtherType),
		}).Debug("Ignoring discovery frame")
		res.Decision = decision.NewIgnore("control frame")
	}

	return res, nil
}
