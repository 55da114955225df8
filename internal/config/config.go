package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPanelListen       = ":8000"
	DefaultAgentListen       = ":8888"
	DefaultLivenessWindowSec = 90
	DefaultGracePeriodSec    = 180
	DefaultSweepIntervalSec  = 30
	DefaultPushTimeoutSec    = 30
	DefaultPromptWindowMs    = 1500
	DefaultHeartbeatSec      = 30
	DefaultUsageReportSec    = 60
	DefaultLogBufferSize     = 1000
)

// Config holds both panel and node settings. A file usually carries one
// section or the other.
type Config struct {
	Panel *PanelConfig `yaml:"panel,omitempty"`
	Node  *NodeConfig  `yaml:"node,omitempty"`
}

// PanelConfig is used by the control-plane (panel) process.
type PanelConfig struct {
	Listen             string `yaml:"listen"`
	DataDir            string `yaml:"data_dir"`
	CertDir            string `yaml:"cert_dir"`
	UsageLogPath       string `yaml:"usage_log_path"`
	LivenessWindowSec  int    `yaml:"liveness_window_sec"`
	GracePeriodSec     int    `yaml:"grace_period_sec"`
	SweepIntervalSec   int    `yaml:"sweep_interval_sec"`
	PushTimeoutSec     int    `yaml:"push_timeout_sec"`
	PromptWindowMs     int    `yaml:"prompt_window_ms"`
	LogBufferSize      int    `yaml:"log_buffer_size"`
}

// NodeConfig is used by the agent process running on a node.
type NodeConfig struct {
	Name           string              `yaml:"name"`
	Panel          string              `yaml:"panel"`
	Listen         string              `yaml:"listen"`
	DataDir        string              `yaml:"data_dir"`
	CertFile       string              `yaml:"cert_file"`
	KeyFile        string              `yaml:"key_file"`
	AdvertiseAddr  string              `yaml:"advertise_addr"`
	STUNServers    []string            `yaml:"stun_servers"`
	HeartbeatSec   int                 `yaml:"heartbeat_sec"`
	UsageReportSec int                 `yaml:"usage_report_sec"`
	ReloadCommands map[string][]string `yaml:"reload_commands,omitempty"`
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate performs minimal validation for required fields.
func Validate(cfg Config) error {
	if cfg.Panel == nil && cfg.Node == nil {
		return fmt.Errorf("config must contain panel or node section")
	}
	if cfg.Panel != nil && cfg.Panel.DataDir == "" {
		return fmt.Errorf("panel.data_dir is required")
	}
	if cfg.Node != nil {
		if cfg.Node.Name == "" {
			return fmt.Errorf("node.name is required")
		}
		if cfg.Node.Panel == "" {
			return fmt.Errorf("node.panel is required")
		}
		if cfg.Node.CertFile == "" || cfg.Node.KeyFile == "" {
			return fmt.Errorf("node.cert_file and node.key_file are required")
		}
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Panel != nil {
		p := cfg.Panel
		if p.Listen == "" {
			p.Listen = DefaultPanelListen
		}
		if p.CertDir == "" && p.DataDir != "" {
			p.CertDir = filepath.Join(p.DataDir, "certs")
		}
		if p.UsageLogPath == "" && p.DataDir != "" {
			p.UsageLogPath = filepath.Join(p.DataDir, "usage.csv")
		}
		if p.LivenessWindowSec == 0 {
			p.LivenessWindowSec = DefaultLivenessWindowSec
		}
		if p.GracePeriodSec == 0 {
			p.GracePeriodSec = DefaultGracePeriodSec
		}
		if p.SweepIntervalSec == 0 {
			p.SweepIntervalSec = DefaultSweepIntervalSec
		}
		if p.PushTimeoutSec == 0 {
			p.PushTimeoutSec = DefaultPushTimeoutSec
		}
		if p.PromptWindowMs == 0 {
			p.PromptWindowMs = DefaultPromptWindowMs
		}
		if p.LogBufferSize == 0 {
			p.LogBufferSize = DefaultLogBufferSize
		}
	}

	if cfg.Node != nil {
		n := cfg.Node
		if n.Listen == "" {
			n.Listen = DefaultAgentListen
		}
		if n.HeartbeatSec == 0 {
			n.HeartbeatSec = DefaultHeartbeatSec
		}
		if n.UsageReportSec == 0 {
			n.UsageReportSec = DefaultUsageReportSec
		}
	}
}
