package types

import (
	"fmt"
	"net"
	"time"
)

// DeviceID identifies a network device (switch) for its whole lifetime.
type DeviceID string

// PortID identifies a port, unique within one device.
type PortID uint32

// ConnectPoint is a (device, port) pair.
type ConnectPoint struct {
	Device DeviceID
	Port   PortID
}

func (c ConnectPoint) String() string {
	return fmt.Sprintf("%s/%d", c.Device, c.Port)
}

// RawFrame is an inbound link-layer frame as delivered by a packet source.
type RawFrame struct {
	Device    DeviceID
	Port      PortID
	Data      []byte
	Timestamp time.Time
}

// ConnectPoint returns where the frame entered the network.
func (f RawFrame) ConnectPoint() ConnectPoint {
	return ConnectPoint{Device: f.Device, Port: f.Port}
}

// FlowRule is a temporary forwarding rule matching an exact (src, dst) hardware address pair.
type FlowRule struct {
	Device     DeviceID
	MatchSrc   net.HardwareAddr
	MatchDst   net.HardwareAddr
	Output     PortID
	Priority   int
	TimeoutSec int // idle timeout, rule is removed after this many seconds without a hit
	AppID      string
}

func (r FlowRule) String() string {
	return fmt.Sprintf("%s: %s -> %s => port %d (prio=%d, timeout=%ds)",
		r.Device, r.MatchSrc, r.MatchDst, r.Output, r.Priority, r.TimeoutSec)
}
