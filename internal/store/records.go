package store

import (
	"time"

	"tunnelctl/internal/model"
)

// NodeRecord is the YAML snapshot shape for a node.
type NodeRecord struct {
	ID           string            `yaml:"id"`
	Name         string            `yaml:"name"`
	Fingerprint  string            `yaml:"fingerprint"`
	Status       string            `yaml:"status"`
	RegisteredAt time.Time         `yaml:"registered_at"`
	LastSeenAt   time.Time         `yaml:"last_seen_at"`
	Metadata     map[string]string `yaml:"metadata,omitempty"`
}

// TunnelRecord is the YAML snapshot shape for a tunnel. The spec variant is
// flattened; only the fields for the record's type are populated.
type TunnelRecord struct {
	ID           string     `yaml:"id"`
	Name         string     `yaml:"name"`
	Core         string     `yaml:"core"`
	Type         string     `yaml:"type"`
	NodeID       string     `yaml:"node_id"`
	Spec         SpecRecord `yaml:"spec"`
	QuotaMB      float64    `yaml:"quota_mb"`
	UsedMB       float64    `yaml:"used_mb"`
	ExpiresAt    *time.Time `yaml:"expires_at,omitempty"`
	Status       string     `yaml:"status"`
	StatusReason string     `yaml:"status_reason,omitempty"`
	Revision     int64      `yaml:"revision"`
	CreatedAt    time.Time  `yaml:"created_at"`
	UpdatedAt    time.Time  `yaml:"updated_at"`
}

// SpecRecord is the union of all spec fields for persistence. Conversion back
// to the typed variant is keyed by the tunnel type.
type SpecRecord struct {
	ListenPort     int    `yaml:"listen_port,omitempty"`
	Path           string `yaml:"path,omitempty"`
	ServiceName    string `yaml:"service_name,omitempty"`
	UUID           string `yaml:"uuid,omitempty"`
	Address        string `yaml:"address,omitempty"`
	AllowedIPs     string `yaml:"allowed_ips,omitempty"`
	PrivateKey     string `yaml:"private_key,omitempty"`
	PeerPublicKey  string `yaml:"peer_public_key,omitempty"`
	PeerPrivateKey string `yaml:"peer_private_key,omitempty"`
	LocalAddr      string `yaml:"local_addr,omitempty"`
	RemoteAddr     string `yaml:"remote_addr,omitempty"`
	Token          string `yaml:"token,omitempty"`
}

func nodeRecord(n model.Node) NodeRecord {
	meta := make(map[string]string, len(n.Metadata))
	for k, v := range n.Metadata {
		meta[k] = v
	}
	return NodeRecord{
		ID:           n.ID,
		Name:         n.Name,
		Fingerprint:  n.Fingerprint,
		Status:       string(n.Status),
		RegisteredAt: n.RegisteredAt,
		LastSeenAt:   n.LastSeen,
		Metadata:     meta,
	}
}

func (r NodeRecord) toModel() model.Node {
	meta := make(map[string]string, len(r.Metadata))
	for k, v := range r.Metadata {
		meta[k] = v
	}
	return model.Node{
		ID:           r.ID,
		Name:         r.Name,
		Fingerprint:  r.Fingerprint,
		Status:       model.NodeStatus(r.Status),
		RegisteredAt: r.RegisteredAt,
		LastSeen:     r.LastSeenAt,
		Metadata:     meta,
	}
}

func tunnelRecord(t model.Tunnel) TunnelRecord {
	return TunnelRecord{
		ID:           t.ID,
		Name:         t.Name,
		Core:         string(t.Core),
		Type:         string(t.Type),
		NodeID:       t.NodeID,
		Spec:         specRecord(t.Spec),
		QuotaMB:      t.QuotaMB,
		UsedMB:       t.UsedMB,
		ExpiresAt:    t.ExpiresAt,
		Status:       string(t.Status),
		StatusReason: t.StatusReason,
		Revision:     t.Revision,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

func (r TunnelRecord) toModel() model.Tunnel {
	return model.Tunnel{
		ID:           r.ID,
		Name:         r.Name,
		Core:         model.Core(r.Core),
		Type:         model.TunnelType(r.Type),
		NodeID:       r.NodeID,
		Spec:         r.Spec.toParams(model.TunnelType(r.Type)),
		QuotaMB:      r.QuotaMB,
		UsedMB:       r.UsedMB,
		ExpiresAt:    r.ExpiresAt,
		Status:       model.TunnelStatus(r.Status),
		StatusReason: r.StatusReason,
		Revision:     r.Revision,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func specRecord(p model.SpecParams) SpecRecord {
	switch s := p.(type) {
	case model.TCPSpec:
		return SpecRecord{ListenPort: s.ListenPort}
	case model.UDPSpec:
		return SpecRecord{ListenPort: s.ListenPort}
	case model.WSSpec:
		return SpecRecord{ListenPort: s.ListenPort, Path: s.Path, UUID: s.UUID}
	case model.GRPCSpec:
		return SpecRecord{ListenPort: s.ListenPort, ServiceName: s.ServiceName, UUID: s.UUID}
	case model.WireGuardSpec:
		return SpecRecord{Address: s.Address, AllowedIPs: s.AllowedIPs, PrivateKey: s.PrivateKey, PeerPublicKey: s.PeerPublicKey, PeerPrivateKey: s.PeerPrivateKey}
	case model.RatholeSpec:
		return SpecRecord{LocalAddr: s.LocalAddr, RemoteAddr: s.RemoteAddr, Token: s.Token}
	default:
		return SpecRecord{}
	}
}

func (r SpecRecord) toParams(t model.TunnelType) model.SpecParams {
	switch t {
	case model.TypeTCP:
		return model.TCPSpec{ListenPort: r.ListenPort}
	case model.TypeUDP:
		return model.UDPSpec{ListenPort: r.ListenPort}
	case model.TypeWS:
		return model.WSSpec{ListenPort: r.ListenPort, Path: r.Path, UUID: r.UUID}
	case model.TypeGRPC:
		return model.GRPCSpec{ListenPort: r.ListenPort, ServiceName: r.ServiceName, UUID: r.UUID}
	case model.TypeWireGuard:
		return model.WireGuardSpec{Address: r.Address, AllowedIPs: r.AllowedIPs, PrivateKey: r.PrivateKey, PeerPublicKey: r.PeerPublicKey, PeerPrivateKey: r.PeerPrivateKey}
	case model.TypeRathole:
		return model.RatholeSpec{LocalAddr: r.LocalAddr, RemoteAddr: r.RemoteAddr, Token: r.Token}
	default:
		return nil
	}
}
