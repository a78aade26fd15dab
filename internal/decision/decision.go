package decision

import (
	"fmt"
	"net"

	"l2-controller/pkg/types"
)

// Kind is the variant tag of a Decision.
type Kind int

const (
	Ignore Kind = iota
	Flood
	Forward
	InstallAndForward
	ArpReply
	FloodArpRequest
)

var kindNames = map[Kind]string{
	Ignore:            "Ignore",
	Flood:             "Flood",
	Forward:           "Forward",
	InstallAndForward: "InstallAndForward",
	ArpReply:          "ArpReply",
	FloodArpRequest:   "FloodArpRequest",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Kinds returns every variant in declaration order.
func Kinds() []Kind {
	return []Kind{Ignore, Flood, Forward, InstallAndForward, ArpReply, FloodArpRequest}
}

// Decision is the outcome of processing one frame. Only the fields of its Kind are set.
type Decision struct {
	Kind Kind

	// Forward, InstallAndForward
	Port types.PortID

	// InstallAndForward
	MatchSrc   net.HardwareAddr
	MatchDst   net.HardwareAddr
	Priority   int
	TimeoutSec int

	// ArpReply
	TargetIP  net.IP
	TargetMAC net.HardwareAddr

	// FloodArpRequest
	Exclude types.ConnectPoint
	Targets []types.ConnectPoint

	// Ignore
	Reason string
}

// NewIgnore drops the frame. reason is for logging only.
func NewIgnore(reason string) Decision {
	return Decision{Kind: Ignore, Reason: reason}
}

// NewFlood sends the frame out every port of the device except the ingress port.
func NewFlood() Decision {
	return Decision{Kind: Flood}
}

// NewForward sends the frame out port.
func NewForward(port types.PortID) Decision {
	return Decision{Kind: Forward, Port: port}
}

// NewInstallAndForward programs a temporary (src, dst) rule to port and forwards the frame.
func NewInstallAndForward(port types.PortID, src, dst net.HardwareAddr, priority, timeoutSec int) Decision {
	return Decision{
		Kind:       InstallAndForward,
		Port:       port,
		MatchSrc:   src,
		MatchDst:   dst,
		Priority:   priority,
		TimeoutSec: timeoutSec,
	}
}

// NewArpReply answers the request with ip is-at mac, sent back out the ingress port.
func NewArpReply(ip net.IP, mac net.HardwareAddr) Decision {
	return Decision{Kind: ArpReply, TargetIP: ip, TargetMAC: mac}
}

// NewFloodArpRequest re-transmits the request out targets, which never contains exclude.
func NewFloodArpRequest(exclude types.ConnectPoint, targets []types.ConnectPoint) Decision {
	return Decision{Kind: FloodArpRequest, Exclude: exclude, Targets: targets}
}

func (d Decision) String() string {
	switch d.Kind {
	case Ignore:
		if d.Reason != "" {
			return fmt.Sprintf("Ignore(%s)", d.Reason)
		}
		return "Ignore"
	case Forward:
		return fmt.Sprintf("Forward(port=%d)", d.Port)
	case InstallAndForward:
		return fmt.Sprintf("InstallAndForward(port=%d, src=%s, dst=%s, priority=%d, timeout=%ds)",
			d.Port, d.MatchSrc, d.MatchDst, d.Priority, d.TimeoutSec)
	case ArpReply:
		return fmt.Sprintf("ArpReply(%s is-at %s)", d.TargetIP, d.TargetMAC)
	case FloodArpRequest:
		return fmt.Sprintf("FloodArpRequest(exclude=%s, targets=%d)", d.Exclude, len(d.Targets))
	default:
		return d.Kind.String()
	}
}
