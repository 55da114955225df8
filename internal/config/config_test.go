package config

import (
	"path/filepath"
	"testing"
)

func TestLoadSaveRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	in := Config{
		Panel: &PanelConfig{
			Listen:  ":9000",
			DataDir: "/var/lib/tunnelctl",
		},
	}
	if err := Save(path, in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Panel == nil {
		t.Fatal("panel section lost")
	}
	if out.Panel.Listen != ":9000" || out.Panel.DataDir != "/var/lib/tunnelctl" {
		t.Fatalf("unexpected panel config: %+v", out.Panel)
	}
}

func TestApplyDefaultsPanel(t *testing.T) {
	t.Parallel()

	cfg := Config{Panel: &PanelConfig{DataDir: "/data"}}
	ApplyDefaults(&cfg)

	p := cfg.Panel
	if p.Listen != DefaultPanelListen {
		t.Fatalf("Listen = %q", p.Listen)
	}
	if p.CertDir != filepath.Join("/data", "certs") {
		t.Fatalf("CertDir = %q", p.CertDir)
	}
	if p.UsageLogPath != filepath.Join("/data", "usage.csv") {
		t.Fatalf("UsageLogPath = %q", p.UsageLogPath)
	}
	if p.LivenessWindowSec != DefaultLivenessWindowSec || p.GracePeriodSec != DefaultGracePeriodSec {
		t.Fatalf("liveness defaults missing: %+v", p)
	}
	if p.PromptWindowMs != DefaultPromptWindowMs || p.LogBufferSize != DefaultLogBufferSize {
		t.Fatalf("defaults missing: %+v", p)
	}
}

func TestApplyDefaultsNode(t *testing.T) {
	t.Parallel()

	cfg := Config{Node: &NodeConfig{Name: "edge-1", Panel: "panel:8000"}}
	ApplyDefaults(&cfg)

	n := cfg.Node
	if n.Listen != DefaultAgentListen {
		t.Fatalf("Listen = %q", n.Listen)
	}
	if n.HeartbeatSec != DefaultHeartbeatSec || n.UsageReportSec != DefaultUsageReportSec {
		t.Fatalf("interval defaults missing: %+v", n)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"empty", Config{}, true},
		{"panel missing data dir", Config{Panel: &PanelConfig{}}, true},
		{"panel ok", Config{Panel: &PanelConfig{DataDir: "/data"}}, false},
		{"node missing name", Config{Node: &NodeConfig{Panel: "p", CertFile: "c", KeyFile: "k"}}, true},
		{"node missing panel", Config{Node: &NodeConfig{Name: "n", CertFile: "c", KeyFile: "k"}}, true},
		{"node missing cert", Config{Node: &NodeConfig{Name: "n", Panel: "p"}}, true},
		{"node ok", Config{Node: &NodeConfig{Name: "n", Panel: "p", CertFile: "c", KeyFile: "k"}}, false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(tc.cfg)
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
