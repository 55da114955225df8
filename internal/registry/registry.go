// Package registry is the identity and liveness store for remote nodes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"tunnelctl/internal/model"
	"tunnelctl/internal/pki"
	"tunnelctl/internal/store"
	"tunnelctl/internal/telemetry"
)

var (
	// ErrDuplicateFingerprint means a node with the fingerprint already exists.
	ErrDuplicateFingerprint = errors.New("fingerprint already registered")
	// ErrInvalidProof means the identity proof did not verify.
	ErrInvalidProof = errors.New("invalid identity proof")
	// ErrUnknownNode means a heartbeat referenced no registered node.
	ErrUnknownNode = errors.New("unknown node")
)

// Cascader is notified when a node's tunnels must be failed. Implemented by
// the reconciliation engine, which is the sole writer of tunnel status.
type Cascader interface {
	FailNodeTunnels(nodeID, reason string)
}

// Registry registers nodes, tracks liveness, and sweeps stale entries.
type Registry struct {
	store          *store.Store
	ca             *pki.Authority
	livenessWindow time.Duration
	gracePeriod    time.Duration
	cascade        Cascader
	now            func() time.Time

	registerMu sync.Mutex // spans the duplicate check and the insert
}

// New creates a registry over the given store and CA.
func New(st *store.Store, ca *pki.Authority, livenessWindow, gracePeriod time.Duration) *Registry {
	return &Registry{
		store:          st,
		ca:             ca,
		livenessWindow: livenessWindow,
		gracePeriod:    gracePeriod,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// SetCascade injects the tunnel-failure hook. Wired at assembly time to
// avoid a package cycle with the engine.
func (r *Registry) SetCascade(c Cascader) {
	r.cascade = c
}

// RegisterRequest is the validated input to Register.
type RegisterRequest struct {
	Name        string
	Fingerprint string
	Certificate []byte // PEM; the identity proof
	Metadata    map[string]string
}

// Register adds a node after verifying its identity proof. The stored
// fingerprint is always derived from the certificate, never taken from the
// caller's claim.
func (r *Registry) Register(req RegisterRequest) (model.Node, error) {
	if req.Name == "" {
		return model.Node{}, fmt.Errorf("%w: name is required", ErrInvalidProof)
	}
	if len(req.Certificate) == 0 {
		return model.Node{}, fmt.Errorf("%w: certificate is required", ErrInvalidProof)
	}

	fp, err := r.ca.VerifyNodeCert(req.Certificate, req.Fingerprint)
	if err != nil {
		return model.Node{}, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	// The uniqueness check and the insert must be one atomic step, or two
	// registrations carrying the same certificate could both pass the check.
	r.registerMu.Lock()
	defer r.registerMu.Unlock()

	if _, err := r.store.GetNodeByFingerprint(fp); err == nil {
		return model.Node{}, ErrDuplicateFingerprint
	}

	meta := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		meta[k] = v
	}

	node := model.Node{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Fingerprint:  fp,
		Status:       model.NodeInactive, // active only after a heartbeat
		RegisteredAt: r.now(),
		Metadata:     meta,
	}
	if err := r.store.PutNode(node); err != nil {
		return model.Node{}, err
	}

	log.Printf("registered node id=%s name=%s fingerprint=%s", node.ID, node.Name, shortFP(fp))
	return node, nil
}

// Heartbeat updates last_seen for the node with the given fingerprint.
func (r *Registry) Heartbeat(fingerprint string) error {
	node, err := r.store.GetNodeByFingerprint(fingerprint)
	if err != nil {
		return ErrUnknownNode
	}
	return r.store.UpdateNode(node.ID, func(n *model.Node) {
		n.LastSeen = r.now()
		n.Status = model.NodeActive
	})
}

// Deregister removes a node. Its tunnels are failed, not deleted.
func (r *Registry) Deregister(id string) error {
	if _, err := r.store.GetNode(id); err != nil {
		return err
	}
	if err := r.store.DeleteNode(id); err != nil {
		return err
	}
	if r.cascade != nil {
		r.cascade.FailNodeTunnels(id, "node removed")
	}
	log.Printf("deregistered node id=%s", id)
	return nil
}

// Get returns a node with its computed status.
func (r *Registry) Get(id string) (model.Node, error) {
	node, err := r.store.GetNode(id)
	if err != nil {
		return model.Node{}, err
	}
	node.Status = r.effectiveStatus(node)
	return node, nil
}

// List returns all nodes with computed statuses.
func (r *Registry) List() []model.Node {
	nodes := r.store.ListNodes()
	active := 0
	for i := range nodes {
		nodes[i].Status = r.effectiveStatus(nodes[i])
		if nodes[i].Status == model.NodeActive {
			active++
		}
	}
	telemetry.NodesActive.Set(float64(active))
	return nodes
}

// effectiveStatus computes activity from elapsed time since last_seen.
// Callers never get to assert activity directly.
func (r *Registry) effectiveStatus(n model.Node) model.NodeStatus {
	if n.LastSeen.IsZero() {
		return model.NodeInactive
	}
	if r.now().Sub(n.LastSeen) > r.livenessWindow {
		return model.NodeInactive
	}
	return model.NodeActive
}

// Run executes the periodic liveness sweep until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep marks stale nodes inactive and, once a node has been silent past the
// grace period, fails its tunnels. A single node error never stops the
// sweep over the rest.
func (r *Registry) Sweep() {
	now := r.now()
	for _, node := range r.store.ListNodes() {
		stale := node.LastSeen.IsZero() || now.Sub(node.LastSeen) > r.livenessWindow
		if !stale {
			continue
		}
		if node.Status == model.NodeActive {
			if err := r.store.UpdateNode(node.ID, func(n *model.Node) {
				n.Status = model.NodeInactive
			}); err != nil {
				log.Printf("liveness sweep: mark inactive node=%s: %v", node.ID, err)
				continue
			}
			log.Printf("node inactive id=%s name=%s last_seen=%s", node.ID, node.Name, node.LastSeen.Format(time.RFC3339))
		}

		// Tunnels fail only after the grace period so a transient network
		// blip doesn't flap every tunnel on the node.
		if r.cascade != nil && !node.LastSeen.IsZero() && now.Sub(node.LastSeen) > r.livenessWindow+r.gracePeriod {
			r.cascade.FailNodeTunnels(node.ID, "node inactive")
		}
	}
}

func shortFP(fp string) string {
	if len(fp) > 16 {
		return fp[:16]
	}
	return fp
}
