package platform

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"l2-controller/internal/frame"
)

var etherTypeNames = map[string]layers.EthernetType{
	"ipv4": layers.EthernetTypeIPv4,
	"ipv6": layers.EthernetTypeIPv6,
	"arp":  layers.EthernetTypeARP,
	"lldp": layers.EthernetTypeLinkLayerDiscovery,
	"bsn":  frame.EtherTypeBSN,
	"vlan": layers.EthernetTypeDot1Q,
}

// bpfNames are the libpcap keywords for ether-types that have one.
var bpfNames = map[layers.EthernetType]string{
	layers.EthernetTypeIPv4: "ip",
	layers.EthernetTypeIPv6: "ip6",
	layers.EthernetTypeARP:  "arp",
}

// Filter selects which frames the platform delivers to the controller, by outer ether-type.
type Filter struct {
	etherTypes map[layers.EthernetType]bool
}

// ParseEtherType accepts a known name (ipv4, arp, ...) or a hex value such as 0x88cc.
func ParseEtherType(s string) (layers.EthernetType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if t, ok := etherTypeNames[s]; ok {
		return t, nil
	}
	if strings.HasPrefix(s, "0x") {
		v, err := strconv.ParseUint(s[2:], 16, 16)
		if err != nil {
			return 0, fmt.Errorf("invalid ether-type %q: %w", s, err)
		}
		return layers.EthernetType(v), nil
	}
	return 0, fmt.Errorf("unknown ether-type %q", s)
}

// NewFilter builds a filter from ether-type names. An empty list admits everything.
func NewFilter(names []string) (*Filter, error) {
	f := &Filter{etherTypes: make(map[layers.EthernetType]bool)}
	for _, name := range names {
		t, err := ParseEtherType(name)
		if err != nil {
			return nil, err
		}
		f.etherTypes[t] = true
	}
	return f, nil
}

// Contains reports whether t is admitted.
func (f *Filter) Contains(t layers.EthernetType) bool {
	if len(f.etherTypes) == 0 {
		return true
	}
	return f.etherTypes[t]
}

// Admits reports whether the frame should be delivered. A tagged frame is admitted when either
// its outer type or the type after its 802.1Q tags is listed. Frames without a readable Ethernet
// header are admitted so that the dispatcher can report them.
func (f *Filter) Admits(data []byte) bool {
	if len(f.etherTypes) == 0 {
		return true
	}
	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return true
	}
	if f.etherTypes[eth.EthernetType] {
		return true
	}

	t, payload := eth.EthernetType, eth.Payload
	for t == layers.EthernetTypeDot1Q || t == frame.EtherTypeQinQ {
		var tag layers.Dot1Q
		if err := tag.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
			return true
		}
		t, payload = tag.Type, tag.Payload
	}
	return f.etherTypes[t]
}

// BPF renders the filter as a libpcap expression that also matches the listed types inside
// 802.1Q tags. An empty string captures everything.
func (f *Filter) BPF() string {
	if len(f.etherTypes) == 0 {
		return ""
	}
	types := make([]int, 0, len(f.etherTypes))
	for t := range f.etherTypes {
		types = append(types, int(t))
	}
	sort.Ints(types)

	terms := make([]string, 0, len(types))
	for _, v := range types {
		t := layers.EthernetType(v)
		if name, ok := bpfNames[t]; ok {
			terms = append(terms, name)
		} else {
			terms = append(terms, fmt.Sprintf("ether proto 0x%04x", v))
		}
	}
	expr := strings.Join(terms, " or ")
	if f.etherTypes[layers.EthernetTypeDot1Q] {
		return expr
	}
	// "vlan" shifts the offsets of the following terms past the tag.
	return fmt.Sprintf("%s or (vlan and (%s))", expr, expr)
}

func (f *Filter) String() string {
	if len(f.etherTypes) == 0 {
		return "any"
	}
	names := make([]string, 0, len(f.etherTypes))
	for t := range f.etherTypes {
		names = append(names, frame.EtherTypeName(t))
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
