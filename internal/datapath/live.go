package datapath

import (
	"fmt"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	log "github.com/sirupsen/logrus"

	"l2-controller/internal/config"
	"l2-controller/pkg/types"
)

// LinkFactory opens the link behind one configured port.
type LinkFactory func(dev types.DeviceID, port config.PortConfig) (Link, error)

// Build creates a fabric with every device and port listed in cfg. Links already opened
// are closed when a later one fails.
func Build(cfg config.DatapathConfig, flows *FlowTable, open LinkFactory) (*Fabric, error) {
	f := NewFabric(flows)
	for _, dc := range cfg.Devices {
		dev := types.DeviceID(dc.ID)
		for _, pc := range dc.Ports {
			link, err := open(dev, pc)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to open %s/%d: %w", dev, pc.Number, err)
			}
			port := Port{ID: types.PortID(pc.Number), Interface: pc.Interface, Edge: pc.Edge}
			if err := f.AddPort(dev, port, link); err != nil {
				f.Close()
				return nil, err
			}
		}
	}
	return f, nil
}

// InterfaceLink is a port bound to a host network interface through libpcap.
type InterfaceLink struct {
	handle *pcap.Handle
	name   string
	mu     sync.Mutex
}

// OpenInterface opens a live capture on iface. Only inbound frames are read, so frames the
// fabric writes are not delivered back to it. bpf may be empty.
func OpenInterface(iface string, snaplen int, promisc bool, bpf string) (*InterfaceLink, error) {
	handle, err := pcap.OpenLive(iface, int32(snaplen), promisc, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("failed to open interface %s: %w", iface, err)
	}
	if err := handle.SetDirection(pcap.DirectionIn); err != nil {
		handle.Close()
		return nil, fmt.Errorf("failed to set capture direction on %s: %w", iface, err)
	}
	if bpf != "" {
		if err := handle.SetBPFFilter(bpf); err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to set BPF filter %q on %s: %w", bpf, iface, err)
		}
	}

	log.WithFields(log.Fields{
		"interface": iface,
		"snaplen":   snaplen,
		"promisc":   promisc,
		"bpf":       bpf,
	}).Info("Opened interface")

	return &InterfaceLink{handle: handle, name: iface}, nil
}

// ReadPacketData implements gopacket.PacketDataSource.
func (l *InterfaceLink) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return l.handle.ReadPacketData()
}

// WritePacketData transmits data on the interface.
func (l *InterfaceLink) WritePacketData(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.handle.WritePacketData(data); err != nil {
		return fmt.Errorf("failed to write to %s: %w", l.name, err)
	}
	return nil
}

// Close releases the capture handle.
func (l *InterfaceLink) Close() error {
	l.handle.Close()
	return nil
}

// LiveLinks returns a LinkFactory opening each port's configured interface.
func LiveLinks(cfg config.DatapathConfig, bpf string) LinkFactory {
	return func(dev types.DeviceID, port config.PortConfig) (Link, error) {
		if port.Interface == "" {
			return nil, fmt.Errorf("port %s/%d has no interface", dev, port.Number)
		}
		link, err := OpenInterface(port.Interface, cfg.SnapLen, cfg.Promiscuous, bpf)
		if err != nil {
			return nil, err
		}
		return link, nil
	}
}
