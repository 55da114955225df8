package model

import (
	"encoding/json"
	"fmt"
)

// SpecParams is the discriminated spec variant carried by a tunnel. The
// concrete shape is keyed by the tunnel's Type; the JSON boundary stays
// permissive but the decoded value is always one of the typed variants below.
type SpecParams interface {
	TunnelType() TunnelType
}

// TCPSpec declares a plain TCP inbound.
type TCPSpec struct {
	ListenPort int `json:"listen_port" yaml:"listen_port"`
}

func (TCPSpec) TunnelType() TunnelType { return TypeTCP }

// UDPSpec declares a plain UDP inbound.
type UDPSpec struct {
	ListenPort int `json:"listen_port" yaml:"listen_port"`
}

func (UDPSpec) TunnelType() TunnelType { return TypeUDP }

// WSSpec declares a websocket inbound. UUID is generated by the compiler and
// must never be supplied by a client.
type WSSpec struct {
	ListenPort int    `json:"listen_port" yaml:"listen_port"`
	Path       string `json:"path" yaml:"path"`
	UUID       string `json:"uuid,omitempty" yaml:"uuid,omitempty"`
}

func (WSSpec) TunnelType() TunnelType { return TypeWS }

// GRPCSpec declares a gRPC inbound. UUID is compiler-generated.
type GRPCSpec struct {
	ListenPort  int    `json:"listen_port" yaml:"listen_port"`
	ServiceName string `json:"service_name" yaml:"service_name"`
	UUID        string `json:"uuid,omitempty" yaml:"uuid,omitempty"`
}

func (GRPCSpec) TunnelType() TunnelType { return TypeGRPC }

// WireGuardSpec declares a WireGuard interface. Both key pairs are
// compiler-generated. PeerPrivateKey is kept on the record so the operator can
// provision the client side; it is never part of the configuration pushed to
// the node.
type WireGuardSpec struct {
	Address        string `json:"address" yaml:"address"`
	AllowedIPs     string `json:"allowed_ips" yaml:"allowed_ips"`
	PrivateKey     string `json:"private_key,omitempty" yaml:"private_key,omitempty"`
	PeerPublicKey  string `json:"peer_public_key,omitempty" yaml:"peer_public_key,omitempty"`
	PeerPrivateKey string `json:"peer_private_key,omitempty" yaml:"peer_private_key,omitempty"`
}

func (WireGuardSpec) TunnelType() TunnelType { return TypeWireGuard }

// RatholeSpec declares a rathole forwarding service. RemoteAddr and Token are
// compiler-generated.
type RatholeSpec struct {
	LocalAddr  string `json:"local_addr" yaml:"local_addr"`
	RemoteAddr string `json:"remote_addr,omitempty" yaml:"remote_addr,omitempty"`
	Token      string `json:"token,omitempty" yaml:"token,omitempty"`
}

func (RatholeSpec) TunnelType() TunnelType { return TypeRathole }

// DecodeSpec decodes a raw JSON spec into the variant matching the tunnel
// type. Unknown fields are ignored (the boundary format is permissive); the
// compiler later rejects semantically invalid values.
func DecodeSpec(t TunnelType, raw json.RawMessage) (SpecParams, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	switch t {
	case TypeTCP:
		var s TCPSpec
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode tcp spec: %w", err)
		}
		return s, nil
	case TypeUDP:
		var s UDPSpec
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode udp spec: %w", err)
		}
		return s, nil
	case TypeWS:
		var s WSSpec
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode ws spec: %w", err)
		}
		return s, nil
	case TypeGRPC:
		var s GRPCSpec
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode grpc spec: %w", err)
		}
		return s, nil
	case TypeWireGuard:
		var s WireGuardSpec
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode wireguard spec: %w", err)
		}
		return s, nil
	case TypeRathole:
		var s RatholeSpec
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode rathole spec: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown tunnel type %q", t)
	}
}

// ValidTunnelType reports whether t is one of the known tunnel types.
func ValidTunnelType(t TunnelType) bool {
	switch t {
	case TypeTCP, TypeUDP, TypeWS, TypeGRPC, TypeWireGuard, TypeRathole:
		return true
	}
	return false
}

// ValidCore reports whether c is one of the known cores.
func ValidCore(c Core) bool {
	switch c {
	case CoreXray, CoreWireGuard, CoreRathole:
		return true
	}
	return false
}
