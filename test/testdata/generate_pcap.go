//go:build ignore

// This program generates a sample pcapng capture for replay testing. Each interface in the
// capture is one switch port (interface i arrives on port i+1 when input.port is 0).
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

type host struct {
	mac  net.HardwareAddr
	ip   net.IP
	port int // pcapng interface index
}

func main() {
	filename := "test/testdata/sample.pcapng"
	if len(os.Args) > 1 {
		filename = os.Args[1]
	}

	f, err := os.Create(filename)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	intf := pcapgo.NgInterface{
		Name:                "port1",
		LinkType:            layers.LinkTypeEthernet,
		SnapLength:          65535,
		TimestampResolution: 9,
	}
	w, err := pcapgo.NewNgWriterInterface(f, intf, pcapgo.DefaultNgWriterOptions)
	if err != nil {
		panic(err)
	}
	for _, name := range []string{"port2", "port3"} {
		intf.Name = name
		if _, err := w.AddInterface(intf); err != nil {
			panic(err)
		}
	}
	defer w.Flush()

	hostA := host{mac: mustMAC("00:00:00:00:00:0a"), ip: net.IPv4(10, 0, 0, 1).To4(), port: 0}
	hostB := host{mac: mustMAC("00:00:00:00:00:0b"), ip: net.IPv4(10, 0, 0, 2).To4(), port: 1}
	hostC := host{mac: mustMAC("00:00:00:00:00:0c"), ip: net.IPv4(10, 0, 0, 3).To4(), port: 2}

	ts := time.Now()
	count := 0
	write := func(port int, layerList ...gopacket.SerializableLayer) {
		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		if err := gopacket.SerializeLayers(buf, opts, layerList...); err != nil {
			panic(fmt.Sprintf("failed to serialize: %v", err))
		}
		writeRaw(w, port, ts, buf.Bytes())
		ts = ts.Add(10 * time.Millisecond)
		count++
	}

	// A asks for B: proxy ARP misses and forwards to the other edge ports.
	write(hostA.port, ethernet(hostA.mac, layers.EthernetBroadcast, layers.EthernetTypeARP),
		arp(layers.ARPRequest, hostA, host{mac: make(net.HardwareAddr, 6), ip: hostB.ip}))
	// B answers directly; the reply is only learned.
	write(hostB.port, ethernet(hostB.mac, hostA.mac, layers.EthernetTypeARP),
		arp(layers.ARPReply, hostB, hostA))

	// A to B: B unknown to the bridge, flooded.
	ipv4(write, hostA, hostB)
	// B to A: A known, rule installed.
	ipv4(write, hostB, hostA)
	// A to B: now known, rule installed for the other direction.
	ipv4(write, hostA, hostB)
	// B to A again: handled by the installed rule.
	ipv4(write, hostB, hostA)

	// C asks for A: answered from the cache.
	write(hostC.port, ethernet(hostC.mac, layers.EthernetBroadcast, layers.EthernetTypeARP),
		arp(layers.ARPRequest, hostC, host{mac: make(net.HardwareAddr, 6), ip: hostA.ip}))

	// LLDP from the switch itself is ignored.
	write(hostC.port, ethernet(mustMAC("02:00:00:00:00:01"), mustMAC("01:80:c2:00:00:0e"),
		layers.EthernetTypeLinkLayerDiscovery), gopacket.Payload(make([]byte, 46)))

	// Truncated ARP: a parse error.
	truncated := []byte{
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x0c,
		0x08, 0x06,
		0x00, 0x01, 0x08, 0x00,
	}
	writeRaw(w, hostC.port, ts, truncated)
	count++

	fmt.Printf("Generated %s with %d frames\n", filename, count)
}

func writeRaw(w *pcapgo.NgWriter, port int, ts time.Time, data []byte) {
	ci := gopacket.CaptureInfo{
		Timestamp:      ts,
		CaptureLength:  len(data),
		Length:         len(data),
		InterfaceIndex: port,
	}
	if err := w.WritePacket(ci, data); err != nil {
		panic(fmt.Sprintf("failed to write packet: %v", err))
	}
}

func ipv4(write func(int, ...gopacket.SerializableLayer), src, dst host) {
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src.ip,
		DstIP:    dst.ip,
	}
	udp := &layers.UDP{SrcPort: 40000, DstPort: 9}
	udp.SetNetworkLayerForChecksum(ip)
	write(src.port, ethernet(src.mac, dst.mac, layers.EthernetTypeIPv4), ip, udp,
		gopacket.Payload([]byte("hello")))
}

func ethernet(src, dst net.HardwareAddr, t layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{SrcMAC: src, DstMAC: dst, EthernetType: t}
}

func arp(op uint16, sender, target host) *layers.ARP {
	return &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         op,
		SourceHwAddress:   sender.mac,
		SourceProtAddress: sender.ip,
		DstHwAddress:      target.mac,
		DstProtAddress:    target.ip,
	}
}

func mustMAC(s string) net.HardwareAddr {
	mac, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return mac
}
