package datapath

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	log "github.com/sirupsen/logrus"

	"l2-controller/internal/platform"
	"l2-controller/pkg/types"
)

// Link transmits frames out of one port. Links that also implement gopacket.PacketDataSource
// are read by Run.
type Link interface {
	WritePacketData(data []byte) error
}

// Port is one numbered port of a device.
type Port struct {
	ID        types.PortID
	Interface string
	Edge      bool
	link      Link
}

type device struct {
	id    types.DeviceID
	ports map[types.PortID]*Port
}

func (d *device) portIDs() []types.PortID {
	ids := make([]types.PortID, 0, len(d.ports))
	for id := range d.ports {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Fabric is a software network of devices. It acts as packet transmitter, flow rule
// installer, edge port directory, and packet source for the controller.
type Fabric struct {
	devices map[types.DeviceID]*device
	flows   *FlowTable
	mu      sync.RWMutex
}

var (
	_ platform.PacketTransmitter = (*Fabric)(nil)
	_ platform.FlowRuleInstaller = (*Fabric)(nil)
	_ platform.EdgePortDirectory = (*Fabric)(nil)
	_ platform.PacketSource      = (*Fabric)(nil)
)

// NewFabric creates an empty fabric whose rules are kept in flows.
func NewFabric(flows *FlowTable) *Fabric {
	return &Fabric{
		devices: make(map[types.DeviceID]*device),
		flows:   flows,
	}
}

// AddPort attaches link as port of dev, creating the device on first use.
func (f *Fabric) AddPort(dev types.DeviceID, port Port, link Link) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.devices[dev]
	if !ok {
		d = &device{id: dev, ports: make(map[types.PortID]*Port)}
		f.devices[dev] = d
	}
	if _, exists := d.ports[port.ID]; exists {
		return fmt.Errorf("port %d already exists on %s", port.ID, dev)
	}
	port.link = link
	d.ports[port.ID] = &port
	return nil
}

// Flows returns the fabric's flow table.
func (f *Fabric) Flows() *FlowTable {
	return f.flows
}

func (f *Fabric) port(dev types.DeviceID, id types.PortID) (*Port, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	d, ok := f.devices[dev]
	if !ok {
		return nil, fmt.Errorf("%w: %s", platform.ErrUnknownDevice, dev)
	}
	p, ok := d.ports[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%d", platform.ErrUnknownPort, dev, id)
	}
	return p, nil
}

// Emit sends data out one port.
func (f *Fabric) Emit(dev types.DeviceID, id types.PortID, data []byte) error {
	p, err := f.port(dev, id)
	if err != nil {
		return err
	}
	if err := p.link.WritePacketData(data); err != nil {
		return fmt.Errorf("failed to send on %s/%d: %w", dev, id, err)
	}
	return nil
}

// FloodExcept sends data out every port of dev except inPort.
func (f *Fabric) FloodExcept(dev types.DeviceID, inPort types.PortID, data []byte) error {
	f.mu.RLock()
	d, ok := f.devices[dev]
	if !ok {
		f.mu.RUnlock()
		return fmt.Errorf("%w: %s", platform.ErrUnknownDevice, dev)
	}
	var targets []*Port
	for _, id := range d.portIDs() {
		if id != inPort {
			targets = append(targets, d.ports[id])
		}
	}
	f.mu.RUnlock()

	var errs []error
	for _, p := range targets {
		if err := p.link.WritePacketData(data); err != nil {
			errs = append(errs, fmt.Errorf("failed to flood on %s/%d: %w", dev, p.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Install programs a temporary rule. The device and output port must exist.
func (f *Fabric) Install(ctx context.Context, rule types.FlowRule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := f.port(rule.Device, rule.Output); err != nil {
		return fmt.Errorf("cannot install rule: %w", err)
	}
	if err := f.flows.Install(rule); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"device":   rule.Device,
		"src":      rule.MatchSrc,
		"dst":      rule.MatchDst,
		"port":     rule.Output,
		"priority": rule.Priority,
		"timeout":  rule.TimeoutSec,
		"app":      rule.AppID,
	}).Debug("Installed flow rule")
	return nil
}

// EdgePorts lists ports marked as edge. When no port is marked, every port is an edge port.
func (f *Fabric) EdgePorts() []types.ConnectPoint {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var edges, all []types.ConnectPoint
	for _, dev := range f.deviceIDs() {
		d := f.devices[dev]
		for _, id := range d.portIDs() {
			cp := types.ConnectPoint{Device: dev, Port: id}
			all = append(all, cp)
			if d.ports[id].Edge {
				edges = append(edges, cp)
			}
		}
	}
	if len(edges) == 0 {
		return all
	}
	return edges
}

func (f *Fabric) deviceIDs() []types.DeviceID {
	ids := make([]types.DeviceID, 0, len(f.devices))
	for id := range f.devices {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Ingress forwards raw through a matching flow rule without involving the controller.
// It returns false when no rule matches and the frame must be delivered to the controller.
func (f *Fabric) Ingress(raw types.RawFrame) bool {
	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(raw.Data, gopacket.NilDecodeFeedback); err != nil {
		return false
	}

	out, ok := f.flows.Match(raw.Device, eth.SrcMAC, eth.DstMAC)
	if !ok {
		return false
	}
	if out == raw.Port {
		// A rule never sends a frame back out its ingress port.
		return true
	}
	if err := f.Emit(raw.Device, out, raw.Data); err != nil {
		log.WithError(err).WithField("device", raw.Device).Warn("Fast path forward failed")
	}
	return true
}

// Run reads every readable port link and delivers its frames until ctx is cancelled
// or all links are exhausted.
func (f *Fabric) Run(ctx context.Context, deliver func(types.RawFrame)) error {
	type reader struct {
		dev  types.DeviceID
		port types.PortID
		src  gopacket.PacketDataSource
	}

	f.mu.RLock()
	var readers []reader
	for _, dev := range f.deviceIDs() {
		d := f.devices[dev]
		for _, id := range d.portIDs() {
			if src, ok := d.ports[id].link.(gopacket.PacketDataSource); ok {
				readers = append(readers, reader{dev: dev, port: id, src: src})
			}
		}
	}
	f.mu.RUnlock()

	if len(readers) == 0 {
		return fmt.Errorf("fabric has no readable ports")
	}

	var wg sync.WaitGroup
	for _, r := range readers {
		wg.Add(1)
		go func(r reader) {
			defer wg.Done()
			packets := gopacket.NewPacketSource(r.src, layers.LinkTypeEthernet).Packets()
			for {
				select {
				case <-ctx.Done():
					return
				case pkt, ok := <-packets:
					if !ok {
						return
					}
					deliver(types.RawFrame{
						Device:    r.dev,
						Port:      r.port,
						Data:      pkt.Data(),
						Timestamp: pkt.Metadata().Timestamp,
					})
				}
			}
		}(r)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
	return nil
}

// Close closes every port link that is an io.Closer.
func (f *Fabric) Close() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var errs []error
	for _, d := range f.devices {
		for _, p := range d.ports {
			if c, ok := p.link.(io.Closer); ok {
				if err := c.Close(); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	return errors.Join(errs...)
}

// Discard is a link that drops every frame written to it.
type Discard struct{}

func (Discard) WritePacketData([]byte) error { return nil }
