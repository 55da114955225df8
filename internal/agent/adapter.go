package agent

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tunnelctl/internal/execx"
	"tunnelctl/internal/nodeclient"
)

// configExt maps a core to the file extension its runtime expects.
var configExt = map[string]string{
	"xray":      ".json",
	"wireguard": ".conf",
	"rathole":   ".toml",
}

// Adapter materializes pushed tunnel configurations on disk and pokes the
// core runtimes to reload them. The cores themselves are opaque; all the
// adapter knows is where their config lives and which command reloads them.
type Adapter struct {
	dataDir string
	runner  execx.Runner
	reload  map[string][]string
}

// NewAdapter creates an adapter rooted at dataDir. reload maps a core name to
// the command that makes the runtime pick up config changes.
func NewAdapter(dataDir string, runner execx.Runner, reload map[string][]string) *Adapter {
	if runner == nil {
		runner = execx.NopRunner{}
	}
	return &Adapter{dataDir: dataDir, runner: runner, reload: reload}
}

func (a *Adapter) coreDir(core string) string {
	return filepath.Join(a.dataDir, core)
}

// Apply writes the rendered configuration for the tunnel and reloads the
// core.
func (a *Adapter) Apply(ctx context.Context, payload nodeclient.ApplyPayload) error {
	ext, ok := configExt[payload.Core]
	if !ok {
		return fmt.Errorf("unknown core %q", payload.Core)
	}
	if payload.TunnelID == "" {
		return fmt.Errorf("tunnel_id is required")
	}

	dir := a.coreDir(payload.Core)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, payload.TunnelID+ext)
	if err := os.WriteFile(path, payload.Rendered, 0o600); err != nil {
		return err
	}
	log.Printf("applied tunnel=%s core=%s rev=%d path=%s", payload.TunnelID, payload.Core, payload.Revision, path)

	return a.reloadCore(ctx, payload.Core)
}

// Teardown removes the tunnel's configuration wherever it lives and reloads
// the affected cores. Removing an unknown tunnel is not an error.
func (a *Adapter) Teardown(ctx context.Context, tunnelID string) error {
	if tunnelID == "" {
		return fmt.Errorf("tunnel_id is required")
	}

	var reloadErr error
	for core, ext := range configExt {
		path := filepath.Join(a.coreDir(core), tunnelID+ext)
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		log.Printf("tore down tunnel=%s core=%s", tunnelID, core)
		if err := a.reloadCore(ctx, core); err != nil {
			reloadErr = err
		}
	}
	return reloadErr
}

// Active lists the tunnel ids with configuration currently on disk.
func (a *Adapter) Active() []string {
	seen := map[string]bool{}
	for core, ext := range configExt {
		entries, err := os.ReadDir(a.coreDir(core))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ext) {
				continue
			}
			seen[strings.TrimSuffix(entry.Name(), ext)] = true
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (a *Adapter) reloadCore(ctx context.Context, core string) error {
	cmd, ok := a.reload[core]
	if !ok || len(cmd) == 0 {
		return nil
	}
	if err := a.runner.Run(ctx, cmd[0], cmd[1:]...); err != nil {
		return fmt.Errorf("reload %s: %w", core, err)
	}
	return nil
}
