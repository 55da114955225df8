package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"tunnelctl/internal/model"
)

// ErrNotFound is returned when an id references nothing in the store.
var ErrNotFound = fmt.Errorf("not found")

// State is the persisted snapshot of the control plane.
type State struct {
	UpdatedAt time.Time      `yaml:"updated_at"`
	Nodes     []NodeRecord   `yaml:"nodes"`
	Tunnels   []TunnelRecord `yaml:"tunnels"`
	Settings  model.Settings `yaml:"settings"`
}

// Store is the single-writer state store backing the control plane. All
// mutations go through it and are flushed to disk as one YAML snapshot.
type Store struct {
	path  string
	mu    sync.RWMutex
	state *State
}

// Open loads the state snapshot from disk. A missing file yields an empty
// store.
func Open(path string) (*Store, error) {
	st := &State{Settings: model.DefaultSettings()}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	return &Store{path: path, state: st}, nil
}

// flushLocked writes the snapshot to disk. Caller must hold mu.
func (s *Store) flushLocked() error {
	s.state.UpdatedAt = time.Now().UTC()
	data, err := yaml.Marshal(s.state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return atomicWriteFile(s.path, data, 0o600)
}

// --- Nodes ---

// ListNodes returns a copy of all node records.
func (s *Store) ListNodes() []model.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodes := make([]model.Node, 0, len(s.state.Nodes))
	for _, rec := range s.state.Nodes {
		nodes = append(nodes, rec.toModel())
	}
	return nodes
}

// GetNode returns the node with the given id.
func (s *Store) GetNode(id string) (model.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.state.Nodes {
		if rec.ID == id {
			return rec.toModel(), nil
		}
	}
	return model.Node{}, ErrNotFound
}

// GetNodeByFingerprint returns the node with the given fingerprint.
func (s *Store) GetNodeByFingerprint(fp string) (model.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.state.Nodes {
		if rec.Fingerprint == fp {
			return rec.toModel(), nil
		}
	}
	return model.Node{}, ErrNotFound
}

// PutNode inserts or replaces a node record and persists the snapshot.
func (s *Store) PutNode(n model.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := nodeRecord(n)
	for i := range s.state.Nodes {
		if s.state.Nodes[i].ID == n.ID {
			s.state.Nodes[i] = rec
			return s.flushLocked()
		}
	}
	s.state.Nodes = append(s.state.Nodes, rec)
	return s.flushLocked()
}

// UpdateNode applies fn to the stored node under the write lock.
func (s *Store) UpdateNode(id string, fn func(*model.Node)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.Nodes {
		if s.state.Nodes[i].ID == id {
			n := s.state.Nodes[i].toModel()
			fn(&n)
			s.state.Nodes[i] = nodeRecord(n)
			return s.flushLocked()
		}
	}
	return ErrNotFound
}

// DeleteNode removes a node record. Tunnels are untouched; the caller owns
// the cascade.
func (s *Store) DeleteNode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.Nodes {
		if s.state.Nodes[i].ID == id {
			s.state.Nodes = append(s.state.Nodes[:i], s.state.Nodes[i+1:]...)
			return s.flushLocked()
		}
	}
	return ErrNotFound
}

// --- Tunnels ---

// ListTunnels returns a copy of all tunnel records.
func (s *Store) ListTunnels() []model.Tunnel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tunnels := make([]model.Tunnel, 0, len(s.state.Tunnels))
	for _, rec := range s.state.Tunnels {
		tunnels = append(tunnels, rec.toModel())
	}
	return tunnels
}

// GetTunnel returns the tunnel with the given id.
func (s *Store) GetTunnel(id string) (model.Tunnel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.state.Tunnels {
		if rec.ID == id {
			return rec.toModel(), nil
		}
	}
	return model.Tunnel{}, ErrNotFound
}

// PutTunnel inserts or replaces a tunnel record and persists the snapshot.
func (s *Store) PutTunnel(t model.Tunnel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := tunnelRecord(t)
	for i := range s.state.Tunnels {
		if s.state.Tunnels[i].ID == t.ID {
			s.state.Tunnels[i] = rec
			return s.flushLocked()
		}
	}
	s.state.Tunnels = append(s.state.Tunnels, rec)
	return s.flushLocked()
}

// UpdateTunnel applies fn to the stored tunnel under the write lock. This is
// how field ownership is kept honest: each writer mutates only the fields it
// owns inside fn.
func (s *Store) UpdateTunnel(id string, fn func(*model.Tunnel)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.Tunnels {
		if s.state.Tunnels[i].ID == id {
			t := s.state.Tunnels[i].toModel()
			fn(&t)
			t.UpdatedAt = time.Now().UTC()
			s.state.Tunnels[i] = tunnelRecord(t)
			return s.flushLocked()
		}
	}
	return ErrNotFound
}

// DeleteTunnel removes a tunnel record.
func (s *Store) DeleteTunnel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.Tunnels {
		if s.state.Tunnels[i].ID == id {
			s.state.Tunnels = append(s.state.Tunnels[:i], s.state.Tunnels[i+1:]...)
			return s.flushLocked()
		}
	}
	return ErrNotFound
}

// --- Settings ---

// Settings returns the current settings record.
func (s *Store) Settings() model.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Settings
}

// ReplaceSettings stores a full replacement of the settings record and bumps
// its version.
func (s *Store) ReplaceSettings(next model.Settings) (model.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next.Version = s.state.Settings.Version + 1
	s.state.Settings = next
	if err := s.flushLocked(); err != nil {
		return model.Settings{}, err
	}
	return next, nil
}

// atomicWriteFile writes data via a temp file + rename so a crash never
// leaves a truncated snapshot behind.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
