package capture

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"

	"l2-controller/internal/frame"
)

// pcapng section header block type.
var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// Frame is one captured Ethernet frame.
type Frame struct {
	Data      []byte
	Timestamp time.Time
	// Interface is the pcapng interface index, always 0 for classic pcap files.
	Interface int
}

type packetReader interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// Reader reads Ethernet frames from pcap and pcapng files.
type Reader struct{}

// NewReader creates a new capture reader.
func NewReader() *Reader {
	return &Reader{}
}

func open(r io.Reader) (packetReader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}
	if bytes.Equal(magic, ngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, err
		}
		return ng, nil
	}
	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, err
	}
	return pr, nil
}

// ReadFrames returns every frame in filename in capture order.
func (r *Reader) ReadFrames(filename string) ([]Frame, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file %s: %w", filename, err)
	}
	defer f.Close()

	frames, err := r.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture file %s: %w", filename, err)
	}
	return frames, nil
}

// Decode reads every frame from an open capture stream.
func (r *Reader) Decode(in io.Reader) ([]Frame, error) {
	src, err := open(in)
	if err != nil {
		return nil, err
	}
	if lt := src.LinkType(); lt != layers.LinkTypeEthernet {
		return nil, fmt.Errorf("unsupported link type %s, only Ethernet captures can be replayed", lt)
	}

	var frames []Frame
	for {
		data, ci, err := src.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			return frames, err
		}
		frames = append(frames, Frame{
			Data:      append([]byte(nil), data...),
			Timestamp: ci.Timestamp,
			Interface: ci.InterfaceIndex,
		})
	}

	log.WithField("frames", len(frames)).Debug("Capture read complete")
	return frames, nil
}

// CountEtherTypes returns how many frames of each outer ether-type a capture holds.
// Frames too short to carry an Ethernet header are counted as "malformed".
func (r *Reader) CountEtherTypes(filename string) (map[string]int, error) {
	frames, err := r.ReadFrames(filename)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, fr := range frames {
		var eth layers.Ethernet
		if err := eth.DecodeFromBytes(fr.Data, gopacket.NilDecodeFeedback); err != nil {
			counts["malformed"]++
			continue
		}
		counts[frame.EtherTypeName(eth.EthernetType)]++
	}
	return counts, nil
}
