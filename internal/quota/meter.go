// Package quota accumulates traffic usage against per-tunnel byte budgets and
// triggers enforcement when a budget is exhausted.
package quota

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"tunnelctl/internal/model"
	"tunnelctl/internal/store"
	"tunnelctl/internal/telemetry"
	"tunnelctl/internal/usage"
)

// ErrNegativeDelta rejects usage reports that would decrease the counter.
var ErrNegativeDelta = errors.New("usage delta must be non-negative")

// Breacher is invoked once per breach transition. Implemented by the
// reconciliation engine, which owns the resulting status change and teardown.
type Breacher interface {
	QuotaBreach(tunnelID string)
}

// Meter is the sole writer of per-tunnel usage counters.
type Meter struct {
	store   *store.Store
	logPath string
	breach  Breacher

	mu sync.Mutex // serializes CSV appends
}

// New creates a meter persisting samples to the CSV log at logPath. An empty
// logPath disables the sample log.
func New(st *store.Store, logPath string) *Meter {
	return &Meter{store: st, logPath: logPath}
}

// SetBreacher injects the enforcement hook. Wired at assembly time to avoid a
// package cycle with the engine.
func (m *Meter) SetBreacher(b Breacher) {
	m.breach = b
}

// RecordUsage adds deltaBytes to the tunnel's counter and enforces the quota
// on the transition past the budget. Reports against terminal tunnels are
// still accumulated so the final tally is honest.
func (m *Meter) RecordUsage(tunnelID, nodeID string, deltaBytes int64) (model.Tunnel, error) {
	if deltaBytes < 0 {
		return model.Tunnel{}, fmt.Errorf("%w: got %d", ErrNegativeDelta, deltaBytes)
	}

	var (
		updated  model.Tunnel
		breached bool
	)
	err := m.store.UpdateTunnel(tunnelID, func(t *model.Tunnel) {
		before := m.withinQuota(t)
		t.UsedMB += float64(deltaBytes) / (1 << 20)
		updated = *t
		breached = before && !m.withinQuota(t)
	})
	if err != nil {
		return model.Tunnel{}, err
	}

	if m.logPath != "" {
		m.mu.Lock()
		appendErr := usage.AppendCSV(m.logPath, []usage.Sample{{
			Timestamp: time.Now().UTC(),
			TunnelID:  tunnelID,
			NodeID:    nodeID,
			BytesUsed: deltaBytes,
		}})
		m.mu.Unlock()
		if appendErr != nil {
			log.Printf("usage log append: %v", appendErr)
		}
	}

	if breached {
		telemetry.QuotaBreaches.Inc()
		log.Printf("quota breached tunnel=%s used_mb=%.1f quota_mb=%.1f", tunnelID, updated.UsedMB, updated.QuotaMB)
		if m.breach != nil {
			m.breach.QuotaBreach(tunnelID)
		}
	}
	return updated, nil
}

// ResetUsage zeroes the tunnel's counter. This is the only way the counter
// goes down.
func (m *Meter) ResetUsage(tunnelID string) (model.Tunnel, error) {
	var updated model.Tunnel
	err := m.store.UpdateTunnel(tunnelID, func(t *model.Tunnel) {
		t.UsedMB = 0
		updated = *t
	})
	if err != nil {
		return model.Tunnel{}, err
	}
	log.Printf("usage reset tunnel=%s", tunnelID)
	return updated, nil
}

// WithinQuota reports whether the tunnel still has budget. A zero quota means
// unlimited.
func (m *Meter) WithinQuota(t model.Tunnel) bool {
	return m.withinQuota(&t)
}

func (m *Meter) withinQuota(t *model.Tunnel) bool {
	if t.QuotaMB <= 0 {
		return true
	}
	return t.UsedMB < t.QuotaMB
}

// Summary computes a traffic summary over samples newer than since.
func (m *Meter) Summary(since time.Time) (usage.Summary, error) {
	if m.logPath == "" {
		return usage.Summary{}, nil
	}
	items, err := usage.ReadCSV(m.logPath)
	if err != nil {
		return usage.Summary{}, err
	}
	return usage.Summarize(items, since), nil
}
