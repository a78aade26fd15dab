package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the L2 controller.
type Config struct {
	App      AppConfig      `yaml:"app"       mapstructure:"app"`
	Bridge   BridgeConfig   `yaml:"bridge"    mapstructure:"bridge"`
	ProxyARP ProxyARPConfig `yaml:"proxy_arp" mapstructure:"proxy_arp"`
	Filter   FilterConfig   `yaml:"filter"    mapstructure:"filter"`
	Datapath DatapathConfig `yaml:"datapath"  mapstructure:"datapath"`
	Input    InputConfig    `yaml:"input"     mapstructure:"input"`
	Output   OutputConfig   `yaml:"output"    mapstructure:"output"`
	Workers  WorkersConfig  `yaml:"workers"   mapstructure:"workers"`
	Tables   TablesConfig   `yaml:"tables"    mapstructure:"tables"`
	Logging  LoggingConfig  `yaml:"logging"   mapstructure:"logging"`
	Stats    StatsConfig    `yaml:"stats"     mapstructure:"stats"`
}

type AppConfig struct {
	ID string `yaml:"id" mapstructure:"id"`
}

type BridgeConfig struct {
	Enabled        bool `yaml:"enabled"          mapstructure:"enabled"`
	FlowPriority   int  `yaml:"flow_priority"    mapstructure:"flow_priority"`
	FlowTimeoutSec int  `yaml:"flow_timeout_sec" mapstructure:"flow_timeout_sec"`
}

type ProxyARPConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// FilterConfig lists the ether-types the platform delivers to the controller.
type FilterConfig struct {
	EtherTypes []string `yaml:"ether_types" mapstructure:"ether_types"`
}

type DatapathConfig struct {
	Devices          []DeviceConfig `yaml:"devices"             mapstructure:"devices"`
	ExpiryIntervalMs int            `yaml:"expiry_interval_ms"  mapstructure:"expiry_interval_ms"`
	SnapLen          int            `yaml:"snaplen"             mapstructure:"snaplen"`
	Promiscuous      bool           `yaml:"promiscuous"         mapstructure:"promiscuous"`
}

type DeviceConfig struct {
	ID    string       `yaml:"id"    mapstructure:"id"`
	Ports []PortConfig `yaml:"ports" mapstructure:"ports"`
}

type PortConfig struct {
	Number    uint32 `yaml:"number"    mapstructure:"number"`
	Interface string `yaml:"interface" mapstructure:"interface"`
	Edge      bool   `yaml:"edge"      mapstructure:"edge"`
}

type InputConfig struct {
	PcapFile   string `yaml:"pcap_file"   mapstructure:"pcap_file"`
	Device     string `yaml:"device"      mapstructure:"device"`
	Port       uint32 `yaml:"port"        mapstructure:"port"`
	IntervalMs int    `yaml:"interval_ms" mapstructure:"interval_ms"`
}

type OutputConfig struct {
	PcapFile string `yaml:"pcap_file" mapstructure:"pcap_file"`
}

type WorkersConfig struct {
	Dispatch      int `yaml:"dispatch"       mapstructure:"dispatch"`
	QueueSize     int `yaml:"queue_size"     mapstructure:"queue_size"`
	Executor      int `yaml:"executor"       mapstructure:"executor"`
	ExecutorQueue int `yaml:"executor_queue" mapstructure:"executor_queue"`
}

type TablesConfig struct {
	Shards int `yaml:"shards" mapstructure:"shards"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"        mapstructure:"level"`
	File       string `yaml:"file"         mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"  mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"  mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `yaml:"compress"     mapstructure:"compress"`
}

type StatsConfig struct {
	Enabled           bool   `yaml:"enabled"             mapstructure:"enabled"`
	ReportIntervalSec int    `yaml:"report_interval_sec" mapstructure:"report_interval_sec"`
	ExportFile        string `yaml:"export_file"         mapstructure:"export_file"`
}

// SetDefaults configures default values for the configuration.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app.id", "org.l2controller.apps")
	v.SetDefault("bridge.enabled", true)
	v.SetDefault("bridge.flow_priority", 30)
	v.SetDefault("bridge.flow_timeout_sec", 30)
	v.SetDefault("proxy_arp.enabled", true)
	// Both apps register for IPv4 only; ARP has to be added explicitly.
	v.SetDefault("filter.ether_types", []string{"ipv4"})
	v.SetDefault("datapath.expiry_interval_ms", 1000)
	v.SetDefault("datapath.snaplen", 65535)
	v.SetDefault("datapath.promiscuous", true)
	v.SetDefault("input.device", "of:0000000000000001")
	v.SetDefault("input.port", 0)
	v.SetDefault("input.interval_ms", 0)
	v.SetDefault("workers.dispatch", 8)
	v.SetDefault("workers.queue_size", 1024)
	v.SetDefault("workers.executor", 4)
	v.SetDefault("workers.executor_queue", 1024)
	v.SetDefault("tables.shards", 64)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("stats.enabled", true)
	v.SetDefault("stats.report_interval_sec", 10)
}

// Load reads configuration from a YAML file and returns a Config.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithViper reads configuration using an existing viper instance (for CLI flag binding).
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Replay reports whether frames come from a capture file instead of live interfaces.
func (c *Config) Replay() bool {
	return c.Input.PcapFile != ""
}

// Summary returns a human-readable summary of the configuration.
func (c *Config) Summary() string {
	var sb strings.Builder
	sb.WriteString("Configuration:\n")
	sb.WriteString(fmt.Sprintf("  App ID:        %s\n", c.App.ID))
	sb.WriteString(fmt.Sprintf("  Bridge:        enabled=%v priority=%d timeout=%ds\n",
		c.Bridge.Enabled, c.Bridge.FlowPriority, c.Bridge.FlowTimeoutSec))
	sb.WriteString(fmt.Sprintf("  Proxy ARP:     enabled=%v\n", c.ProxyARP.Enabled))
	sb.WriteString(fmt.Sprintf("  Filter:        %s\n", strings.Join(c.Filter.EtherTypes, ",")))
	for _, d := range c.Datapath.Devices {
		ports := make([]string, 0, len(d.Ports))
		for _, p := range d.Ports {
			s := fmt.Sprintf("%d", p.Number)
			if p.Interface != "" {
				s += "=" + p.Interface
			}
			if p.Edge {
				s += "(edge)"
			}
			ports = append(ports, s)
		}
		sb.WriteString(fmt.Sprintf("  Device:        %s ports=[%s]\n", d.ID, strings.Join(ports, " ")))
	}
	if c.Replay() {
		sb.WriteString(fmt.Sprintf("  Replay:        %s (device %s)\n", c.Input.PcapFile, c.Input.Device))
	}
	if c.Output.PcapFile != "" {
		sb.WriteString(fmt.Sprintf("  Output:        %s\n", c.Output.PcapFile))
	}
	sb.WriteString(fmt.Sprintf("  Workers:       dispatch=%d executor=%d\n", c.Workers.Dispatch, c.Workers.Executor))
	return sb.String()
}
