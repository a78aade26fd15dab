package bridge

import (
	"net"

	log "github.com/sirupsen/logrus"

	"l2-controller/internal/decision"
	"l2-controller/internal/frame"
	"l2-controller/internal/table"
	"l2-controller/pkg/types"
)

const (
	DefaultFlowPriority   = 30
	DefaultFlowTimeoutSec = 30
)

// Config holds the flow rule parameters of the learning bridge.
type Config struct {
	FlowPriority   int
	FlowTimeoutSec int
}

// DefaultConfig returns the default flow priority and idle timeout.
func DefaultConfig() Config {
	return Config{
		FlowPriority:   DefaultFlowPriority,
		FlowTimeoutSec: DefaultFlowTimeoutSec,
	}
}

// Engine is a learning L2 switch. It learns source addresses per device and turns
// each frame into a Flood or InstallAndForward decision.
type Engine struct {
	cfg   Config
	table *table.MacTable
}

// NewEngine creates a learning bridge over tbl.
func NewEngine(cfg Config, tbl *table.MacTable) *Engine {
	if cfg.FlowPriority <= 0 {
		cfg.FlowPriority = DefaultFlowPriority
	}
	if cfg.FlowTimeoutSec <= 0 {
		cfg.FlowTimeoutSec = DefaultFlowTimeoutSec
	}
	return &Engine{cfg: cfg, table: tbl}
}

// Table returns the engine's MAC learning table.
func (e *Engine) Table() *table.MacTable {
	return e.table
}

// Learn records that mac is reachable through port on device, unless already known.
// A host that moves to another port is not relearned.
func (e *Engine) Learn(device types.DeviceID, mac net.HardwareAddr, port types.PortID) bool {
	stored, learned := e.table.Learn(device, mac, port)
	if learned {
		log.WithFields(log.Fields{
			"device": device,
			"mac":    mac,
			"port":   port,
		}).Info("Learned MAC address")
	} else if stored != port {
		log.WithFields(log.Fields{
			"device":  device,
			"mac":     mac,
			"port":    port,
			"learned": stored,
		}).Debug("MAC address seen on another port, keeping first entry")
	}
	return learned
}

// Process learns the frame's source and decides how to forward it.
func (e *Engine) Process(device types.DeviceID, inPort types.PortID, v *frame.View) decision.Decision {
	e.Learn(device, v.SrcMAC, inPort)

	port, ok := e.table.Lookup(device, v.DstMAC)
	if !ok {
		log.WithFields(log.Fields{
			"device": device,
			"dst":    v.DstMAC,
		}).Debug("MAC table miss, flooding")
		return decision.NewFlood()
	}

	log.WithFields(log.Fields{
		"device": device,
		"dst":    v.DstMAC,
		"port":   port,
	}).Debug("MAC table hit, installing flow rule")
	return decision.NewInstallAndForward(port, v.SrcMAC, v.DstMAC, e.cfg.FlowPriority, e.cfg.FlowTimeoutSec)
}
