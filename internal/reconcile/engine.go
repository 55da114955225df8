// Package reconcile drives declared tunnels toward their applied state on
// nodes. It is the sole writer of tunnel status and revision.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"tunnelctl/internal/model"
	"tunnelctl/internal/nodeclient"
	"tunnelctl/internal/spec"
	"tunnelctl/internal/store"
	"tunnelctl/internal/telemetry"
)

var (
	// ErrConflict means another apply or delete holds the tunnel's guard.
	ErrConflict = errors.New("operation already in progress")
	// ErrAlreadyExpired means the tunnel is terminal and cannot be applied.
	ErrAlreadyExpired = errors.New("tunnel is expired")
	// ErrNodeUnreachable means the push failed before the prompt window closed.
	ErrNodeUnreachable = errors.New("node unreachable")
	// ErrQuotaExhausted means the tunnel's usage budget is spent; raising the
	// quota or resetting usage is required before another apply.
	ErrQuotaExhausted = errors.New("quota exhausted")
)

// Engine reconciles tunnels onto their nodes.
type Engine struct {
	store        *store.Store
	client       *nodeclient.Client
	pushTimeout  time.Duration
	promptWindow time.Duration

	guardMu sync.Mutex
	guards  map[string]*sync.Mutex
}

// New creates an engine. pushTimeout bounds each push to a node;
// promptWindow bounds how long Apply waits before answering "applying".
func New(st *store.Store, client *nodeclient.Client, pushTimeout, promptWindow time.Duration) *Engine {
	return &Engine{
		store:        st,
		client:       client,
		pushTimeout:  pushTimeout,
		promptWindow: promptWindow,
		guards:       make(map[string]*sync.Mutex),
	}
}

// guard returns the per-tunnel mutex, creating it on first use.
func (e *Engine) guard(id string) *sync.Mutex {
	e.guardMu.Lock()
	defer e.guardMu.Unlock()
	mu, ok := e.guards[id]
	if !ok {
		mu = &sync.Mutex{}
		e.guards[id] = mu
	}
	return mu
}

func (e *Engine) dropGuard(id string) {
	e.guardMu.Lock()
	defer e.guardMu.Unlock()
	delete(e.guards, id)
}

// Apply compiles the tunnel and pushes the result to its node. The push runs
// asynchronously; Apply waits at most the prompt window for the outcome. A
// push that fails within the window is reported as an error, a slower one
// leaves the tunnel in applying and resolves in the background.
func (e *Engine) Apply(ctx context.Context, tunnelID string) (model.Tunnel, error) {
	tunnel, err := e.store.GetTunnel(tunnelID)
	if err != nil {
		return model.Tunnel{}, err
	}
	if tunnel.Terminal() {
		return tunnel, ErrAlreadyExpired
	}
	if tunnel.QuotaMB > 0 && tunnel.UsedMB >= tunnel.QuotaMB {
		return tunnel, ErrQuotaExhausted
	}

	node, err := e.store.GetNode(tunnel.NodeID)
	if err != nil {
		return model.Tunnel{}, fmt.Errorf("tunnel %s: node %s: %w", tunnelID, tunnel.NodeID, err)
	}
	addr, err := nodeclient.ResolveAddress(node, e.store.Settings())
	if err != nil {
		return model.Tunnel{}, err
	}

	mu := e.guard(tunnelID)
	if !mu.TryLock() {
		return tunnel, ErrConflict
	}

	compiled, err := spec.Compile(tunnel.Name, tunnel.Core, tunnel.Type, tunnel.Spec)
	if err != nil {
		mu.Unlock()
		return tunnel, err
	}

	// Persist generated secrets and claim the attempt before the push so a
	// crash mid-push leaves an honest applying record behind.
	var claimed model.Tunnel
	err = e.store.UpdateTunnel(tunnelID, func(t *model.Tunnel) {
		t.Spec = compiled.Params
		t.Revision++
		t.Status = model.TunnelApplying
		t.StatusReason = ""
		claimed = *t
	})
	if err != nil {
		mu.Unlock()
		return model.Tunnel{}, err
	}
	telemetry.ApplyAttempts.Inc()

	done := make(chan error, 1)
	go func() {
		defer mu.Unlock()

		pushCtx, cancel := context.WithTimeout(context.Background(), e.pushTimeout)
		defer cancel()

		pushErr := e.client.Apply(pushCtx, addr, nodeclient.ApplyPayload{
			TunnelID: tunnelID,
			Name:     claimed.Name,
			Core:     string(claimed.Core),
			Type:     string(claimed.Type),
			Revision: claimed.Revision,
			Rendered: compiled.Rendered,
		})
		e.finishApply(tunnelID, claimed.Revision, pushErr)
		done <- pushErr
	}()

	select {
	case pushErr := <-done:
		current, getErr := e.store.GetTunnel(tunnelID)
		if getErr != nil {
			current = claimed
		}
		if pushErr != nil {
			return current, fmt.Errorf("%w: %v", ErrNodeUnreachable, pushErr)
		}
		return current, nil
	case <-time.After(e.promptWindow):
		return claimed, nil
	case <-ctx.Done():
		return claimed, nil
	}
}

// finishApply writes the push outcome back, unless the attempt was
// superseded or the tunnel removed while the push was in flight.
func (e *Engine) finishApply(tunnelID string, revision int64, pushErr error) {
	current, err := e.store.GetTunnel(tunnelID)
	if err != nil {
		// Deleted while pushing; the delete already tore the node down.
		return
	}
	if current.Revision != revision || current.Status != model.TunnelApplying {
		return
	}

	err = e.store.UpdateTunnel(tunnelID, func(t *model.Tunnel) {
		if pushErr != nil {
			t.Status = model.TunnelError
			t.StatusReason = pushErr.Error()
			return
		}
		t.Status = model.TunnelActive
		t.StatusReason = ""
	})
	if err != nil {
		log.Printf("apply write-back tunnel=%s: %v", tunnelID, err)
		return
	}
	if pushErr != nil {
		telemetry.ApplyFailures.Inc()
		log.Printf("apply failed tunnel=%s rev=%d: %v", tunnelID, revision, pushErr)
	} else {
		log.Printf("apply succeeded tunnel=%s rev=%d", tunnelID, revision)
	}
	e.updateActiveGauge()
}

// Delete tears the tunnel down on its node and removes the record. The
// teardown is best effort; an unreachable node never blocks the delete.
func (e *Engine) Delete(ctx context.Context, tunnelID string) error {
	tunnel, err := e.store.GetTunnel(tunnelID)
	if err != nil {
		return err
	}

	mu := e.guard(tunnelID)
	mu.Lock()
	defer mu.Unlock()

	e.teardown(ctx, tunnel)

	if err := e.store.DeleteTunnel(tunnelID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	e.dropGuard(tunnelID)
	e.updateActiveGauge()
	log.Printf("deleted tunnel=%s", tunnelID)
	return nil
}

// teardown pushes a removal to the node and logs failures without
// propagating them.
func (e *Engine) teardown(ctx context.Context, tunnel model.Tunnel) {
	node, err := e.store.GetNode(tunnel.NodeID)
	if err != nil {
		return
	}
	addr, err := nodeclient.ResolveAddress(node, e.store.Settings())
	if err != nil {
		log.Printf("teardown tunnel=%s: %v", tunnel.ID, err)
		return
	}

	tctx, cancel := context.WithTimeout(ctx, e.pushTimeout)
	defer cancel()
	if err := e.client.Teardown(tctx, addr, nodeclient.TeardownPayload{TunnelID: tunnel.ID}); err != nil {
		log.Printf("teardown tunnel=%s node=%s: %v", tunnel.ID, tunnel.NodeID, err)
	}
}

// QuotaBreach shuts a tunnel off after its budget is exhausted. The record
// stays so the operator sees why it stopped.
func (e *Engine) QuotaBreach(tunnelID string) {
	tunnel, err := e.store.GetTunnel(tunnelID)
	if err != nil {
		return
	}
	if tunnel.Terminal() {
		return
	}

	mu := e.guard(tunnelID)
	mu.Lock()
	defer mu.Unlock()

	err = e.store.UpdateTunnel(tunnelID, func(t *model.Tunnel) {
		t.Status = model.TunnelError
		t.StatusReason = "quota exceeded"
	})
	if err != nil {
		log.Printf("quota breach tunnel=%s: %v", tunnelID, err)
		return
	}
	e.teardown(context.Background(), tunnel)
	e.updateActiveGauge()
}

// FailNodeTunnels marks every non-terminal tunnel on the node as errored.
// Called when the node is removed or declared dead; records are kept.
func (e *Engine) FailNodeTunnels(nodeID, reason string) {
	for _, tunnel := range e.store.ListTunnels() {
		if tunnel.NodeID != nodeID || tunnel.Terminal() {
			continue
		}
		if tunnel.Status == model.TunnelError && tunnel.StatusReason == reason {
			continue
		}
		err := e.store.UpdateTunnel(tunnel.ID, func(t *model.Tunnel) {
			t.Status = model.TunnelError
			t.StatusReason = reason
		})
		if err != nil {
			log.Printf("fail tunnel=%s: %v", tunnel.ID, err)
		}
	}
	e.updateActiveGauge()
}

// Run executes the periodic expiry sweep until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.SweepExpired()
		}
	}
}

// SweepExpired moves past-deadline tunnels to the terminal expired status and
// tears them down.
func (e *Engine) SweepExpired() {
	now := time.Now().UTC()
	for _, tunnel := range e.store.ListTunnels() {
		if tunnel.Terminal() || tunnel.ExpiresAt == nil || tunnel.ExpiresAt.After(now) {
			continue
		}

		mu := e.guard(tunnel.ID)
		mu.Lock()
		err := e.store.UpdateTunnel(tunnel.ID, func(t *model.Tunnel) {
			t.Status = model.TunnelExpired
			t.StatusReason = "expired at " + tunnel.ExpiresAt.Format(time.RFC3339)
		})
		if err == nil {
			e.teardown(context.Background(), tunnel)
			log.Printf("tunnel expired id=%s name=%s", tunnel.ID, tunnel.Name)
		}
		mu.Unlock()
	}
	e.updateActiveGauge()
}

func (e *Engine) updateActiveGauge() {
	active := 0
	for _, t := range e.store.ListTunnels() {
		if t.Status == model.TunnelActive {
			active++
		}
	}
	telemetry.TunnelsActive.Set(float64(active))
}
