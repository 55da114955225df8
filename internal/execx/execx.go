// Package execx abstracts host command execution so the agent's core
// adapters can be unit-tested without running real reload commands.
package execx

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner runs a host command to completion.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// OSRunner executes commands via os/exec.
type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %s", err, msg)
		}
		return err
	}
	return nil
}

// NopRunner ignores every command. Used when no reload commands are
// configured.
type NopRunner struct{}

func (NopRunner) Run(context.Context, string, ...string) error { return nil }
