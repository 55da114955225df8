package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tunnelctl/internal/agent"
	"tunnelctl/internal/config"
	"tunnelctl/internal/logbuf"
	"tunnelctl/internal/nodeclient"
	"tunnelctl/internal/pki"
	"tunnelctl/internal/quota"
	"tunnelctl/internal/reconcile"
	"tunnelctl/internal/registry"
	"tunnelctl/internal/server"
	"tunnelctl/internal/store"
)

const usage = `tunnelctl - multi-core tunnel control plane

Usage:
  tunnelctl panel serve --config <path>
  tunnelctl panel status --config <path>
  tunnelctl panel issue-cert --config <path> --name <node> [--out-dir <dir>]
  tunnelctl node run --config <path>
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "panel":
		handlePanel(os.Args[2:])
	case "node":
		handleNode(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func handlePanel(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "panel subcommand required\n")
		os.Exit(2)
	}
	switch args[0] {
	case "serve":
		panelServe(args[1:])
	case "status":
		panelStatus(args[1:])
	case "issue-cert":
		panelIssueCert(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown panel subcommand %q\n", args[0])
		os.Exit(2)
	}
}

func handleNode(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "node subcommand required\n")
		os.Exit(2)
	}
	switch args[0] {
	case "run":
		nodeRun(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown node subcommand %q\n", args[0])
		os.Exit(2)
	}
}

func panelServe(args []string) {
	fs := flag.NewFlagSet("panel serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	listen := fs.String("listen", "", "listen address override")
	_ = fs.Parse(args)

	cfg := loadPanelConfig(*configPath)
	if *listen != "" {
		cfg.Listen = *listen
	}

	logs := logbuf.New(cfg.LogBufferSize)
	log.SetOutput(io.MultiWriter(os.Stderr, logbuf.NewWriter(logs)))

	st, err := store.Open(filepath.Join(cfg.DataDir, "state.yaml"))
	if err != nil {
		fatal(err)
	}

	ca := pki.NewAuthority(cfg.CertDir)
	if err := ca.EnsureCA(); err != nil {
		fatal(err)
	}

	pushTimeout := time.Duration(cfg.PushTimeoutSec) * time.Second
	reg := registry.New(st, ca,
		time.Duration(cfg.LivenessWindowSec)*time.Second,
		time.Duration(cfg.GracePeriodSec)*time.Second)
	engine := reconcile.New(st, nodeclient.New(pushTimeout), pushTimeout,
		time.Duration(cfg.PromptWindowMs)*time.Millisecond)
	meter := quota.New(st, cfg.UsageLogPath)

	// Cross-component hooks are wired here, not in the packages, to keep the
	// dependency graph acyclic.
	reg.SetCascade(engine)
	meter.SetBreacher(engine)

	ctx, cancel := signalContext()
	defer cancel()

	sweepInterval := time.Duration(cfg.SweepIntervalSec) * time.Second
	go reg.Run(ctx, sweepInterval)
	go engine.Run(ctx, sweepInterval)

	app := server.New(st, reg, engine, meter, ca, logs).App()
	go func() {
		<-ctx.Done()
		_ = app.ShutdownWithTimeout(5 * time.Second)
	}()

	log.Printf("panel listening on %s data_dir=%s", cfg.Listen, cfg.DataDir)
	if err := app.Listen(cfg.Listen); err != nil {
		fatal(err)
	}
}

func panelStatus(args []string) {
	fs := flag.NewFlagSet("panel status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	_ = fs.Parse(args)

	cfg := loadPanelConfig(*configPath)
	st, err := store.Open(filepath.Join(cfg.DataDir, "state.yaml"))
	if err != nil {
		fatal(err)
	}

	nodes := st.ListNodes()
	if len(nodes) == 0 {
		fmt.Fprintln(os.Stdout, "no registered nodes")
	} else {
		fmt.Fprintf(os.Stdout, "%-12s  %-36s  %-16s  %-20s  %-8s\n",
			"NAME", "ID", "FINGERPRINT", "LAST_SEEN", "STATUS")
		for _, node := range nodes {
			lastSeen := ""
			if !node.LastSeen.IsZero() {
				lastSeen = node.LastSeen.UTC().Format(time.RFC3339)
			}
			fp := node.Fingerprint
			if len(fp) > 16 {
				fp = fp[:16]
			}
			fmt.Fprintf(os.Stdout, "%-12s  %-36s  %-16s  %-20s  %-8s\n",
				node.Name, node.ID, fp, lastSeen, node.Status)
		}
	}

	tunnels := st.ListTunnels()
	if len(tunnels) == 0 {
		fmt.Fprintln(os.Stdout, "no tunnels")
		return
	}
	fmt.Fprintf(os.Stdout, "\n%-12s  %-36s  %-10s  %-10s  %-4s  %-10s  %-10s\n",
		"NAME", "ID", "CORE", "TYPE", "REV", "USED_MB", "STATUS")
	for _, t := range tunnels {
		fmt.Fprintf(os.Stdout, "%-12s  %-36s  %-10s  %-10s  %-4d  %-10.1f  %-10s\n",
			t.Name, t.ID, t.Core, t.Type, t.Revision, t.UsedMB, t.Status)
	}
}

func panelIssueCert(args []string) {
	fs := flag.NewFlagSet("panel issue-cert", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	name := fs.String("name", "", "node name")
	outDir := fs.String("out-dir", ".", "directory for the issued cert and key")
	_ = fs.Parse(args)

	if *name == "" {
		fatal(errors.New("--name is required"))
	}

	cfg := loadPanelConfig(*configPath)
	ca := pki.NewAuthority(cfg.CertDir)
	if err := ca.EnsureCA(); err != nil {
		fatal(err)
	}

	certPEM, keyPEM, err := ca.IssueNodeCert(*name)
	if err != nil {
		fatal(err)
	}

	certPath := filepath.Join(*outDir, *name+".crt")
	keyPath := filepath.Join(*outDir, *name+".key")
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		fatal(err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		fatal(err)
	}

	cert, err := pki.ParseCertPEM(certPEM)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "issued cert=%s key=%s fingerprint=%s\n",
		certPath, keyPath, pki.Fingerprint(cert.Raw))
}

func nodeRun(args []string) {
	fs := flag.NewFlagSet("node run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	_ = fs.Parse(args)

	if *configPath == "" {
		fatal(errors.New("--config is required"))
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if cfg.Node == nil {
		fatal(errors.New("node config required"))
	}
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := agent.Run(ctx, *cfg.Node); err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

func loadPanelConfig(path string) config.PanelConfig {
	if path == "" {
		fatal(errors.New("--config is required"))
	}
	cfg, err := config.Load(path)
	if err != nil {
		fatal(err)
	}
	if cfg.Panel == nil {
		fatal(errors.New("panel config required"))
	}
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}
	return *cfg.Panel
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()
	return ctx, cancel
}

func fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
