package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"l2-controller/internal/bridge"
	"l2-controller/internal/capture"
	"l2-controller/internal/config"
	"l2-controller/internal/controller"
	"l2-controller/internal/datapath"
	"l2-controller/internal/platform"
	"l2-controller/internal/proxyarp"
	"l2-controller/internal/stats"
	"l2-controller/internal/table"
	"l2-controller/pkg/types"
)

var (
	version    = "1.0.0"
	cfgFile    string
	dryRun     bool
	statsOnly  bool
	dumpTables bool
)

// flagKeys maps CLI flags to the configuration keys they override.
var flagKeys = map[string]string{
	"pcap":          "input.pcap_file",
	"device":        "input.device",
	"port":          "input.port",
	"interval":      "input.interval_ms",
	"output":        "output.pcap_file",
	"filter":        "filter.ether_types",
	"flow-priority": "bridge.flow_priority",
	"flow-timeout":  "bridge.flow_timeout_sec",
	"workers":       "workers.dispatch",
	"log-level":     "logging.level",
	"log-file":      "logging.file",
	"stats-export":  "stats.export_file",
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "l2-controller",
		Short: "Learning L2 bridge and proxy ARP controller",
		Long: `A software SDN controller running two applications over a set of switches:
a learning bridge that floods unknown destinations and installs temporary
flow rules for known ones, and a proxy ARP responder that answers ARP
requests from its learned IP to MAC cache.

Frames come from live interfaces (one per switch port) or from a capture file.`,
		Version:      version,
		SilenceUsage: true,
		RunE:         run,
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "Configuration file path (default: config.yaml)")

	rootCmd.Flags().String("pcap", "", "Replay frames from this pcap/pcapng file instead of live interfaces")
	rootCmd.Flags().String("device", "", "Device the replayed frames arrive on")
	rootCmd.Flags().Uint32("port", 0, "Ingress port for replayed frames (0: pcapng interface index + 1)")
	rootCmd.Flags().Int("interval", 0, "Delay between replayed frames in ms")
	rootCmd.Flags().String("output", "", "Write transmitted frames to this pcapng file (replay only)")
	rootCmd.Flags().StringSlice("filter", nil, "Ether-types delivered to the controller (ipv4,arp,ipv6,lldp,bsn,vlan,0x....)")
	rootCmd.Flags().Int("flow-priority", 0, "Priority of installed flow rules")
	rootCmd.Flags().Int("flow-timeout", 0, "Idle timeout of installed flow rules in seconds")
	rootCmd.Flags().Int("workers", 0, "Concurrent dispatch workers")
	rootCmd.Flags().String("log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.Flags().String("log-file", "", "Log to this file with rotation instead of stderr")
	rootCmd.Flags().String("stats-export", "", "Export final statistics to this file (.json, .yaml)")
	rootCmd.Flags().Bool("no-bridge", false, "Disable the learning bridge")
	rootCmd.Flags().Bool("no-proxy-arp", false, "Disable proxy ARP")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Replay the capture without transmitting or writing output")
	rootCmd.Flags().BoolVar(&statsOnly, "stats-only", false, "Show capture ether-type statistics only")
	rootCmd.Flags().BoolVar(&dumpTables, "dump-tables", false, "Print the learned MAC table and ARP cache on exit")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	v := viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		log.Debug("No config file found, using defaults and CLI flags")
	}

	// Flags override the config file only when set.
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	if off, _ := cmd.Flags().GetBool("no-bridge"); off {
		v.Set("bridge.enabled", false)
	}
	if off, _ := cmd.Flags().GetBool("no-proxy-arp"); off {
		v.Set("proxy_arp.enabled", false)
	}

	cfg, err := config.LoadWithViper(v)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	setupLogging(cfg)

	fmt.Printf("L2 Controller v%s\n", version)
	fmt.Println("==================")
	fmt.Print(cfg.Summary())
	fmt.Println()

	if statsOnly {
		if !cfg.Replay() {
			return fmt.Errorf("--stats-only needs a capture file (--pcap)")
		}
		return showStats(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if dryRun && !cfg.Replay() {
		return fmt.Errorf("--dry-run needs a capture file (--pcap)")
	}

	if cfg.ProxyARP.Enabled && !cfg.ARPReachable() {
		log.WithField("filter", cfg.Filter.EtherTypes).
			Warn("Proxy ARP is enabled but ARP frames are not delivered; add \"arp\" to filter.ether_types")
	}

	filter, err := platform.NewFilter(cfg.Filter.EtherTypes)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	flows := datapath.NewFlowTable()
	flows.StartExpiryMonitor(ctx, time.Duration(cfg.Datapath.ExpiryIntervalMs)*time.Millisecond)

	var (
		fabric *datapath.Fabric
		source platform.PacketSource
		output *capture.Writer
	)

	if cfg.Replay() {
		frames, err := capture.NewReader().ReadFrames(cfg.Input.PcapFile)
		if err != nil {
			return err
		}
		if len(frames) == 0 {
			return fmt.Errorf("no frames found in capture file")
		}
		fmt.Printf("Found %d frames\n\n", len(frames))

		links := func(types.DeviceID, config.PortConfig) (datapath.Link, error) {
			return datapath.Discard{}, nil
		}
		if cfg.Output.PcapFile != "" && !dryRun {
			output, err = capture.Create(cfg.Output.PcapFile, configuredPorts(cfg))
			if err != nil {
				return err
			}
			defer output.Close()
			links = func(dev types.DeviceID, pc config.PortConfig) (datapath.Link, error) {
				link, err := output.Link(types.ConnectPoint{Device: dev, Port: types.PortID(pc.Number)})
				if err != nil {
					return nil, err
				}
				return link, nil
			}
		}

		fabric, err = datapath.Build(cfg.Datapath, flows, links)
		if err != nil {
			return err
		}
		source = capture.NewReplayer(frames, types.DeviceID(cfg.Input.Device), types.PortID(cfg.Input.Port),
			time.Duration(cfg.Input.IntervalMs)*time.Millisecond)
	} else {
		fabric, err = datapath.Build(cfg.Datapath, flows, datapath.LiveLinks(cfg.Datapath, filter.BPF()))
		if err != nil {
			return err
		}
		source = fabric
	}
	defer fabric.Close()

	collector := stats.NewCollector()
	ctrl, err := newController(cfg, fabric, source, filter, collector)
	if err != nil {
		return err
	}

	reporter := stats.NewReporter(collector, cfg.Stats.ReportIntervalSec, cfg.Stats.ExportFile, tableSizes(ctrl))
	if cfg.Stats.Enabled {
		reporter.StartPeriodicReport(ctx)
	}

	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	if cfg.Replay() {
		fmt.Println("Replaying frames...")
	} else {
		fmt.Println("Listening on live interfaces, press Ctrl+C to stop...")
	}

	if err := ctrl.Wait(); err != nil {
		log.WithError(err).Error("Packet source failed")
	}
	collector.Finish()

	if dumpTables {
		printTables(ctrl.MacTable(), ctrl.ArpCache())
	}
	if cfg.Stats.Enabled {
		reporter.PrintFinalReport()
		if err := reporter.Export(); err != nil {
			log.WithError(err).Warn("Failed to export statistics")
		}
	}
	return nil
}

func newController(cfg *config.Config, fabric *datapath.Fabric, source platform.PacketSource,
	filter *platform.Filter, collector *stats.Collector) (*controller.Controller, error) {
	deps := controller.Deps{
		Source:      source,
		Transmitter: fabric,
		Installer:   fabric,
		Edges:       fabric,
		FastPath:    fabric,
		Filter:      filter,
		Stats:       collector,
	}
	if cfg.Bridge.Enabled {
		deps.Bridge = bridge.NewEngine(bridge.Config{
			FlowPriority:   cfg.Bridge.FlowPriority,
			FlowTimeoutSec: cfg.Bridge.FlowTimeoutSec,
		}, table.NewMacTable(cfg.Tables.Shards))
	}
	if cfg.ProxyARP.Enabled {
		deps.ProxyARP = proxyarp.NewEngine(table.NewArpCache(cfg.Tables.Shards))
	}

	return controller.New(controller.Options{
		AppID:           cfg.App.ID,
		DispatchWorkers: cfg.Workers.Dispatch,
		QueueSize:       cfg.Workers.QueueSize,
		ExecutorWorkers: cfg.Workers.Executor,
		ExecutorQueue:   cfg.Workers.ExecutorQueue,
	}, deps)
}

func configuredPorts(cfg *config.Config) []types.ConnectPoint {
	var ports []types.ConnectPoint
	for _, d := range cfg.Datapath.Devices {
		for _, p := range d.Ports {
			ports = append(ports, types.ConnectPoint{Device: types.DeviceID(d.ID), Port: types.PortID(p.Number)})
		}
	}
	return ports
}

func tableSizes(ctrl *controller.Controller) stats.TableSizes {
	return func() (int, int) {
		var macs, arps int
		if t := ctrl.MacTable(); t != nil {
			macs = t.Len()
		}
		if c := ctrl.ArpCache(); c != nil {
			arps = c.Len()
		}
		return macs, arps
	}
}

func showStats(cfg *config.Config) error {
	counts, err := capture.NewReader().CountEtherTypes(cfg.Input.PcapFile)
	if err != nil {
		return fmt.Errorf("failed to count frames: %w", err)
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Capture Statistics:")
	total := 0
	for _, name := range names {
		fmt.Printf("  %-20s %d\n", name, counts[name])
		total += counts[name]
	}
	fmt.Printf("  %-20s %d\n", "Total:", total)
	return nil
}

func printTables(macs *table.MacTable, arps *table.ArpCache) {
	if macs != nil {
		fmt.Println("MAC Table:")
		for _, dev := range macs.Devices() {
			entries := macs.Entries(dev)
			keys := make([]string, 0, len(entries))
			for mac := range entries {
				keys = append(keys, mac)
			}
			sort.Strings(keys)
			for _, mac := range keys {
				fmt.Printf("  %-24s %-18s port %d\n", dev, mac, entries[mac])
			}
		}
	}
	if arps != nil {
		fmt.Println("ARP Cache:")
		snap := arps.Snapshot()
		keys := make([]string, 0, len(snap))
		for ip := range snap {
			keys = append(keys, ip)
		}
		sort.Strings(keys)
		for _, ip := range keys {
			fmt.Printf("  %-16s %s\n", ip, snap[ip])
		}
	}
}

func setupLogging(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	if cfg.Logging.File != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		})
	}
}
