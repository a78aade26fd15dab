package capture

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"

	"l2-controller/pkg/types"
)

// Writer records frames sent out of device ports into a pcapng file, one interface per port.
type Writer struct {
	ng      *pcapgo.NgWriter
	closer  io.Closer
	index   map[types.ConnectPoint]int
	written int
	now     func() time.Time
	mu      sync.Mutex
}

func ngInterface(cp types.ConnectPoint) pcapgo.NgInterface {
	return pcapgo.NgInterface{
		Name:                cp.String(),
		OS:                  runtime.GOOS,
		LinkType:            layers.LinkTypeEthernet,
		SnapLength:          65535,
		TimestampResolution: 9,
	}
}

// NewWriter writes a pcapng section to out with an interface for each port.
func NewWriter(out io.Writer, ports []types.ConnectPoint) (*Writer, error) {
	if len(ports) == 0 {
		return nil, fmt.Errorf("capture writer needs at least one port")
	}

	ng, err := pcapgo.NewNgWriterInterface(out, ngInterface(ports[0]), pcapgo.DefaultNgWriterOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to write pcapng header: %w", err)
	}

	w := &Writer{
		ng:    ng,
		index: map[types.ConnectPoint]int{ports[0]: 0},
		now:   time.Now,
	}
	for _, cp := range ports[1:] {
		if _, dup := w.index[cp]; dup {
			continue
		}
		id, err := ng.AddInterface(ngInterface(cp))
		if err != nil {
			return nil, fmt.Errorf("failed to add interface %s: %w", cp, err)
		}
		w.index[cp] = id
	}
	return w, nil
}

// Create opens filename for writing and returns a Writer over it.
func Create(filename string, ports []types.ConnectPoint) (*Writer, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file %s: %w", filename, err)
	}
	w, err := NewWriter(f, ports)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// Link returns the transmit side of one port.
func (w *Writer) Link(cp types.ConnectPoint) (*PortLink, error) {
	id, ok := w.index[cp]
	if !ok {
		return nil, fmt.Errorf("port %s is not part of the capture", cp)
	}
	return &PortLink{w: w, id: id}, nil
}

func (w *Writer) write(id int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ci := gopacket.CaptureInfo{
		Timestamp:      w.now(),
		CaptureLength:  len(data),
		Length:         len(data),
		InterfaceIndex: id,
	}
	if err := w.ng.WritePacket(ci, data); err != nil {
		return err
	}
	w.written++
	return nil
}

// Written returns how many frames have been recorded.
func (w *Writer) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Close flushes buffered frames and closes the underlying file, if any.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ng.Flush(); err != nil {
		return fmt.Errorf("failed to flush capture: %w", err)
	}
	log.WithField("frames", w.written).Info("Output capture closed")
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// PortLink writes frames transmitted on one port.
type PortLink struct {
	w  *Writer
	id int
}

// WritePacketData records data as sent on the port.
func (l *PortLink) WritePacketData(data []byte) error {
	return l.w.write(l.id, data)
}
