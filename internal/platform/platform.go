package platform

import (
	"context"
	"errors"

	"l2-controller/pkg/types"
)

var (
	ErrUnknownDevice = errors.New("unknown device")
	ErrUnknownPort   = errors.New("unknown port")
)

// PacketSource delivers inbound frames until ctx is cancelled or the source is exhausted.
type PacketSource interface {
	Run(ctx context.Context, deliver func(types.RawFrame)) error
}

// WaitingSource is a PacketSource that can be held back while the controller is busy.
// Its frames are queued with backpressure instead of being dropped on a full queue.
type WaitingSource interface {
	PacketSource
	CanWait() bool
}

// CanWait reports whether src tolerates backpressure.
func CanWait(src PacketSource) bool {
	w, ok := src.(WaitingSource)
	return ok && w.CanWait()
}

// EdgePortDirectory lists the ports where end hosts attach.
type EdgePortDirectory interface {
	EdgePorts() []types.ConnectPoint
}

// FlowRuleInstaller programs temporary forwarding rules on devices.
type FlowRuleInstaller interface {
	Install(ctx context.Context, rule types.FlowRule) error
}

// PacketTransmitter sends frames out device ports.
type PacketTransmitter interface {
	Emit(device types.DeviceID, port types.PortID, data []byte) error
	FloodExcept(device types.DeviceID, inPort types.PortID, data []byte) error
}
