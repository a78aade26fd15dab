package capture

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"l2-controller/internal/platform"
	"l2-controller/pkg/types"
)

// Replayer delivers captured frames as if they arrived on a device port.
type Replayer struct {
	frames   []Frame
	device   types.DeviceID
	port     types.PortID
	interval time.Duration
}

var _ platform.WaitingSource = (*Replayer)(nil)

// NewReplayer creates a packet source for frames. A zero port maps pcapng interface i to
// port i+1; otherwise every frame arrives on port.
func NewReplayer(frames []Frame, device types.DeviceID, port types.PortID, interval time.Duration) *Replayer {
	return &Replayer{
		frames:   frames,
		device:   device,
		port:     port,
		interval: interval,
	}
}

func (r *Replayer) ingress(fr Frame) types.PortID {
	if r.port != 0 {
		return r.port
	}
	return types.PortID(fr.Interface + 1)
}

// CanWait is always true: a capture file loses nothing by being read slower.
func (r *Replayer) CanWait() bool { return true }

// Run delivers every frame in order, pausing for the configured interval between frames.
func (r *Replayer) Run(ctx context.Context, deliver func(types.RawFrame)) error {
	for i, fr := range r.frames {
		if err := ctx.Err(); err != nil {
			return err
		}

		deliver(types.RawFrame{
			Device:    r.device,
			Port:      r.ingress(fr),
			Data:      fr.Data,
			Timestamp: fr.Timestamp,
		})

		if r.interval > 0 && i < len(r.frames)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.interval):
			}
		}
	}

	log.WithField("frames", len(r.frames)).Info("Replay complete")
	return nil
}
