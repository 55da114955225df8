// Package agent is the node-side process: it enrolls with the panel, serves
// the push endpoints, heartbeats, and reports per-tunnel usage deltas.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tunnelctl/internal/addrutil"
	"tunnelctl/internal/config"
	"tunnelctl/internal/execx"
	"tunnelctl/internal/pki"
	"tunnelctl/internal/stunutil"
)

// Run starts the long-running agent loop and blocks until ctx is done.
func Run(ctx context.Context, cfg config.NodeConfig) error {
	certPEM, err := os.ReadFile(cfg.CertFile)
	if err != nil {
		return fmt.Errorf("load node certificate: %w", err)
	}
	cert, err := pki.ParseCertPEM(certPEM)
	if err != nil {
		return err
	}
	fingerprint := pki.Fingerprint(cert.Raw)

	client := NewPanelClient(cfg.Panel)
	adapter := NewAdapter(cfg.DataDir, execx.OSRunner{}, cfg.ReloadCommands)

	app := App(adapter)
	go func() {
		if err := app.Listen(cfg.Listen); err != nil {
			log.Printf("agent listener stopped: %v", err)
		}
	}()
	defer func() {
		_ = app.Shutdown()
	}()

	metadata := map[string]string{
		"api_address": addrutil.Advertise(cfg.AdvertiseAddr, cfg.Listen),
	}
	if len(cfg.STUNServers) > 0 {
		if addr, err := stunutil.Discover(ctx, cfg.STUNServers, 5*time.Second); err == nil {
			metadata["public_addr"] = addr
		} else {
			log.Printf("STUN discovery failed: %v", err)
		}
	}

	nodeID, err := enroll(ctx, client, cfg.Name, fingerprint, certPEM, metadata)
	if err != nil {
		return err
	}
	log.Printf("agent enrolled node=%s name=%s", nodeID, cfg.Name)

	if err := client.Heartbeat(ctx, fingerprint); err != nil {
		log.Printf("initial heartbeat failed: %v", err)
	}

	heartbeatTicker := time.NewTicker(time.Duration(cfg.HeartbeatSec) * time.Second)
	defer heartbeatTicker.Stop()
	usageTicker := time.NewTicker(time.Duration(cfg.UsageReportSec) * time.Second)
	defer usageTicker.Stop()

	reported := map[string]int64{}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-heartbeatTicker.C:
			if err := client.Heartbeat(ctx, fingerprint); err != nil {
				log.Printf("heartbeat failed: %v", err)
			}
		case <-usageTicker.C:
			reportUsage(ctx, client, cfg.DataDir, nodeID, reported)
		}
	}
}

// enroll registers with the panel, recovering the node id when the
// fingerprint is already known from a previous run.
func enroll(ctx context.Context, client *PanelClient, name, fingerprint string, certPEM []byte, metadata map[string]string) (string, error) {
	node, err := client.Register(ctx, name, fingerprint, certPEM, metadata)
	if err == nil {
		return node.ID, nil
	}
	if !errors.Is(err, ErrAlreadyRegistered) {
		return "", fmt.Errorf("register with panel: %w", err)
	}
	node, err = client.Lookup(ctx, fingerprint)
	if err != nil {
		return "", err
	}
	return node.ID, nil
}

// reportUsage reads cumulative per-tunnel byte counters dropped under
// <dataDir>/usage by the core accounting hooks and reports the delta since
// the last successful report. A counter that went backwards is treated as a
// restart and reported from zero.
func reportUsage(ctx context.Context, client *PanelClient, dataDir, nodeID string, reported map[string]int64) {
	counters, err := readCounters(filepath.Join(dataDir, "usage"))
	if err != nil {
		log.Printf("read usage counters: %v", err)
		return
	}

	for tunnelID, total := range counters {
		last := reported[tunnelID]
		delta := total - last
		if delta < 0 {
			delta = total
		}
		if delta == 0 {
			continue
		}
		if err := client.ReportUsage(ctx, tunnelID, nodeID, delta); err != nil {
			log.Printf("report usage tunnel=%s: %v", tunnelID, err)
			continue
		}
		reported[tunnelID] = total
	}
}

// readCounters parses one plain-text cumulative byte count per file, named by
// tunnel id.
func readCounters(dir string) (map[string]int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	counters := map[string]int64{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		total, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
		if err != nil || total < 0 {
			continue
		}
		counters[entry.Name()] = total
	}
	return counters, nil
}
