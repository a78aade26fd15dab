package frame

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Encode serializes a View back to Ethernet bytes, with an 802.1Q tag when the view is tagged.
// Non-ARP views are encoded with the given payload.
func Encode(v *View, payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       v.SrcMAC,
		DstMAC:       v.DstMAC,
		EthernetType: v.EtherType,
	}
	stack := []gopacket.SerializableLayer{eth}
	if v.Tagged {
		eth.EthernetType = layers.EthernetTypeDot1Q
		stack = append(stack, &layers.Dot1Q{VLANIdentifier: v.VLAN, Type: v.EtherType})
	}

	if v.ARP != nil {
		stack = append(stack, &layers.ARP{
			AddrType:          layers.LinkTypeEthernet,
			Protocol:          layers.EthernetTypeIPv4,
			HwAddressSize:     6,
			ProtAddressSize:   4,
			Operation:         v.ARP.Operation,
			SourceHwAddress:   hwBytes(v.ARP.SenderMAC),
			SourceProtAddress: ip4Bytes(v.ARP.SenderIP),
			DstHwAddress:      hwBytes(v.ARP.TargetMAC),
			DstProtAddress:    ip4Bytes(v.ARP.TargetIP),
		})
	} else {
		stack = append(stack, gopacket.Payload(payload))
	}

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, stack...); err != nil {
		return nil, fmt.Errorf("failed to serialize frame: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildARPReply answers an ARP request on behalf of ip, whose hardware address is mac.
// The reply is addressed back to the requester, on the request's VLAN.
func BuildARPReply(req *View, ip net.IP, mac net.HardwareAddr) ([]byte, error) {
	if req.ARP == nil || !req.ARP.IsRequest() {
		return nil, fmt.Errorf("cannot build ARP reply: frame is not an ARP request")
	}
	if ip.To4() == nil || len(mac) != 6 {
		return nil, fmt.Errorf("cannot build ARP reply for %s at %s", ip, mac)
	}

	reply := &View{
		EtherType: layers.EthernetTypeARP,
		SrcMAC:    mac,
		DstMAC:    req.SrcMAC,
		Tagged:    req.Tagged,
		VLAN:      req.VLAN,
		ARP: &ARPMessage{
			Operation: layers.ARPReply,
			SenderMAC: mac,
			SenderIP:  ip,
			TargetMAC: req.ARP.SenderMAC,
			TargetIP:  req.ARP.SenderIP,
		},
	}
	return Encode(reply, nil)
}

func hwBytes(mac net.HardwareAddr) []byte {
	if len(mac) != 6 {
		return make([]byte, 6)
	}
	return []byte(mac)
}

func ip4Bytes(ip net.IP) []byte {
	if v4 := ip.To4(); v4 != nil {
		return []byte(v4)
	}
	return make([]byte, 4)
}
