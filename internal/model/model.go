package model

import "time"

// NodeStatus is the computed liveness state of a node.
type NodeStatus string

const (
	NodeActive   NodeStatus = "active"
	NodeInactive NodeStatus = "inactive"
)

// TunnelStatus is the reconciliation state of a tunnel.
type TunnelStatus string

const (
	TunnelPending  TunnelStatus = "pending"
	TunnelApplying TunnelStatus = "applying"
	TunnelActive   TunnelStatus = "active"
	TunnelError    TunnelStatus = "error"
	TunnelExpired  TunnelStatus = "expired"
)

// Core is the underlying tunneling technology.
type Core string

const (
	CoreXray      Core = "xray"
	CoreWireGuard Core = "wireguard"
	CoreRathole   Core = "rathole"
)

// TunnelType is the transport/protocol shape of a tunnel.
type TunnelType string

const (
	TypeTCP       TunnelType = "tcp"
	TypeUDP       TunnelType = "udp"
	TypeWS        TunnelType = "ws"
	TypeGRPC      TunnelType = "grpc"
	TypeWireGuard TunnelType = "wireguard"
	TypeRathole   TunnelType = "rathole"
)

// Node is a registered remote execution target.
type Node struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Fingerprint  string            `json:"fingerprint"`
	Status       NodeStatus        `json:"status"`
	RegisteredAt time.Time         `json:"registered_at"`
	LastSeen     time.Time         `json:"last_seen"`
	Metadata     map[string]string `json:"metadata"`
}

// Tunnel is a declared network path bound to exactly one node.
//
// Status and Revision are owned by the reconciliation engine, UsedMB by the
// quota meter. Everything else is set from validated client input.
type Tunnel struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Core         Core         `json:"core"`
	Type         TunnelType   `json:"type"`
	NodeID       string       `json:"node_id"`
	Spec         SpecParams   `json:"spec"`
	QuotaMB      float64      `json:"quota_mb"`
	UsedMB       float64      `json:"used_mb"`
	ExpiresAt    *time.Time   `json:"expires_at,omitempty"`
	Status       TunnelStatus `json:"status"`
	StatusReason string       `json:"status_reason,omitempty"`
	Revision     int64        `json:"revision"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Terminal reports whether the tunnel can never be applied again.
func (t *Tunnel) Terminal() bool {
	return t.Status == TunnelExpired
}
