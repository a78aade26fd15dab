package frame

import (
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// EtherTypeBSN is the ether-type of the controller's internal discovery protocol (BDDP).
const EtherTypeBSN layers.EthernetType = 0x8942

// EtherTypeQinQ is the 802.1ad service tag.
const EtherTypeQinQ layers.EthernetType = 0x88a8

// ErrMalformed is returned when raw bytes do not decode as a link-layer frame.
var ErrMalformed = errors.New("malformed frame")

// View is a parsed, read-only view of an inbound Ethernet frame. For 802.1Q tagged frames
// EtherType is the type carried after the innermost tag.
type View struct {
	EtherType layers.EthernetType
	SrcMAC    net.HardwareAddr
	DstMAC    net.HardwareAddr
	Tagged    bool
	VLAN      uint16      // innermost VLAN ID, valid when Tagged
	ARP       *ARPMessage // set only when EtherType is ARP
}

// ARPMessage holds the fields of an IPv4-over-Ethernet ARP packet.
type ARPMessage struct {
	Operation uint16
	SenderMAC net.HardwareAddr
	SenderIP  net.IP
	TargetMAC net.HardwareAddr
	TargetIP  net.IP
}

// IsRequest reports whether the message is an ARP request.
func (a *ARPMessage) IsRequest() bool {
	return a.Operation == layers.ARPRequest
}

// IsReply reports whether the message is an ARP reply.
func (a *ARPMessage) IsReply() bool {
	return a.Operation == layers.ARPReply
}

// Decode parses raw bytes into a View.
func Decode(data []byte) (*View, error) {
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)

	ethLayer := packet.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		if errLayer := packet.ErrorLayer(); errLayer != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, errLayer.Error())
		}
		return nil, fmt.Errorf("%w: no ethernet header in %d bytes", ErrMalformed, len(data))
	}
	eth := ethLayer.(*layers.Ethernet)

	view := &View{
		EtherType: eth.EthernetType,
		SrcMAC:    eth.SrcMAC,
		DstMAC:    eth.DstMAC,
	}
	for _, l := range packet.Layers() {
		if tag, ok := l.(*layers.Dot1Q); ok {
			view.Tagged = true
			view.VLAN = tag.VLANIdentifier
			view.EtherType = tag.Type
		}
	}

	if view.EtherType != layers.EthernetTypeARP {
		return view, nil
	}

	arpLayer := packet.Layer(layers.LayerTypeARP)
	if arpLayer == nil {
		return nil, fmt.Errorf("%w: truncated ARP payload", ErrMalformed)
	}
	arp := arpLayer.(*layers.ARP)
	if arp.AddrType != layers.LinkTypeEthernet || arp.Protocol != layers.EthernetTypeIPv4 ||
		arp.HwAddressSize != 6 || arp.ProtAddressSize != 4 {
		return nil, fmt.Errorf("%w: unsupported ARP hardware/protocol type %s/%s",
			ErrMalformed, arp.AddrType, arp.Protocol)
	}

	view.ARP = &ARPMessage{
		Operation: arp.Operation,
		SenderMAC: net.HardwareAddr(arp.SourceHwAddress),
		SenderIP:  net.IP(arp.SourceProtAddress).To4(),
		TargetMAC: net.HardwareAddr(arp.DstHwAddress),
		TargetIP:  net.IP(arp.DstProtAddress).To4(),
	}
	return view, nil
}

// IsControlFrame returns true for discovery-protocol frames (LLDP or BSN).
func IsControlFrame(t layers.EthernetType) bool {
	return t == layers.EthernetTypeLinkLayerDiscovery || t == EtherTypeBSN
}

// EtherTypeName returns a human-readable name for an ether-type.
func EtherTypeName(t layers.EthernetType) string {
	switch t {
	case layers.EthernetTypeIPv4:
		return "IPv4"
	case layers.EthernetTypeIPv6:
		return "IPv6"
	case layers.EthernetTypeARP:
		return "ARP"
	case layers.EthernetTypeLinkLayerDiscovery:
		return "LLDP"
	case EtherTypeBSN:
		return "BSN"
	case layers.EthernetTypeDot1Q:
		return "802.1Q"
	default:
		return fmt.Sprintf("Unknown(0x%04x)", uint16(t))
	}
}
