package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/gopacket/layers"

	"l2-controller/internal/platform"
)

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if c.App.ID == "" {
		errs = append(errs, "app.id must be specified")
	}

	// Flow rule parameters
	if c.Bridge.FlowPriority <= 0 || c.Bridge.FlowPriority > 65535 {
		errs = append(errs, fmt.Sprintf("bridge.flow_priority must be between 1 and 65535, got %d", c.Bridge.FlowPriority))
	}
	if c.Bridge.FlowTimeoutSec <= 0 {
		errs = append(errs, fmt.Sprintf("bridge.flow_timeout_sec must be > 0, got %d", c.Bridge.FlowTimeoutSec))
	}

	if !c.Bridge.Enabled && !c.ProxyARP.Enabled {
		errs = append(errs, "at least one of bridge.enabled or proxy_arp.enabled must be true")
	}

	// Ether-types must parse
	for _, name := range c.Filter.EtherTypes {
		if _, err := platform.ParseEtherType(name); err != nil {
			errs = append(errs, fmt.Sprintf("filter.ether_types: %v", err))
		}
	}

	// Devices and ports
	if len(c.Datapath.Devices) == 0 {
		errs = append(errs, "datapath.devices must list at least one device")
	}
	seenDevices := make(map[string]bool)
	for i, d := range c.Datapath.Devices {
		if d.ID == "" {
			errs = append(errs, fmt.Sprintf("datapath.devices[%d].id must be set", i))
		} else if seenDevices[d.ID] {
			errs = append(errs, fmt.Sprintf("datapath.devices[%d].id %q is duplicated", i, d.ID))
		}
		seenDevices[d.ID] = true

		if len(d.Ports) == 0 {
			errs = append(errs, fmt.Sprintf("datapath.devices[%d].ports must not be empty", i))
		}
		seenPorts := make(map[uint32]bool)
		for j, p := range d.Ports {
			if p.Number == 0 {
				errs = append(errs, fmt.Sprintf("datapath.devices[%d].ports[%d].number must be > 0", i, j))
			} else if seenPorts[p.Number] {
				errs = append(errs, fmt.Sprintf("datapath.devices[%d].ports[%d].number %d is duplicated", i, j, p.Number))
			}
			seenPorts[p.Number] = true

			if !c.Replay() && p.Interface == "" {
				errs = append(errs, fmt.Sprintf("datapath.devices[%d].ports[%d].interface must be set for live capture", i, j))
			}
		}
	}
	if c.Datapath.ExpiryIntervalMs <= 0 {
		errs = append(errs, "datapath.expiry_interval_ms must be > 0")
	}

	// Replay input
	if c.Replay() {
		if _, err := os.Stat(c.Input.PcapFile); os.IsNotExist(err) {
			errs = append(errs, fmt.Sprintf("pcap file not found: %s", c.Input.PcapFile))
		}
		if !seenDevices[c.Input.Device] {
			errs = append(errs, fmt.Sprintf("input.device %q is not a configured datapath device", c.Input.Device))
		}
		if c.Input.IntervalMs < 0 {
			errs = append(errs, "input.interval_ms must be >= 0")
		}
	}

	// Workers
	if c.Workers.Dispatch <= 0 {
		errs = append(errs, "workers.dispatch must be > 0")
	}
	if c.Workers.QueueSize <= 0 {
		errs = append(errs, "workers.queue_size must be > 0")
	}
	if c.Workers.Executor <= 0 {
		errs = append(errs, "workers.executor must be > 0")
	}
	if c.Workers.ExecutorQueue <= 0 {
		errs = append(errs, "workers.executor_queue must be > 0")
	}

	if c.Tables.Shards <= 0 {
		errs = append(errs, "tables.shards must be > 0")
	}

	// Log level must be valid
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Sprintf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ARPReachable reports whether the packet filter lets ARP frames reach the proxy ARP engine.
func (c *Config) ARPReachable() bool {
	f, err := platform.NewFilter(c.Filter.EtherTypes)
	if err != nil {
		return false
	}
	return f.Contains(layers.EthernetTypeARP)
}
