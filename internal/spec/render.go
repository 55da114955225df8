package spec

import (
	"encoding/json"
	"fmt"
	"strings"

	"tunnelctl/internal/model"
)

// render produces the technology-native configuration for a validated,
// fully-generated spec. Output is deterministic for identical inputs.
func render(name string, core model.Core, params model.SpecParams) ([]byte, error) {
	switch core {
	case model.CoreXray:
		return renderXray(params)
	case model.CoreWireGuard:
		wg, ok := params.(model.WireGuardSpec)
		if !ok {
			return nil, fmt.Errorf("wireguard core with %s spec", params.TunnelType())
		}
		return renderWireGuard(wg), nil
	case model.CoreRathole:
		rh, ok := params.(model.RatholeSpec)
		if !ok {
			return nil, fmt.Errorf("rathole core with %s spec", params.TunnelType())
		}
		return renderRathole(name, rh), nil
	default:
		return nil, fmt.Errorf("no renderer for core %s", core)
	}
}

// xray inbound config. Shapes follow the upstream JSON schema closely enough
// for the node-side core to consume directly.
type xrayConfig struct {
	Inbounds []xrayInbound `json:"inbounds"`
}

type xrayInbound struct {
	Listen         string              `json:"listen"`
	Port           int                 `json:"port"`
	Protocol       string              `json:"protocol"`
	Settings       map[string]any      `json:"settings"`
	StreamSettings *xrayStreamSettings `json:"streamSettings,omitempty"`
}

type xrayStreamSettings struct {
	Network    string         `json:"network"`
	WSSettings map[string]any `json:"wsSettings,omitempty"`
	GRPC       map[string]any `json:"grpcSettings,omitempty"`
}

func renderXray(params model.SpecParams) ([]byte, error) {
	var inbound xrayInbound
	inbound.Listen = "0.0.0.0"

	switch s := params.(type) {
	case model.TCPSpec:
		inbound.Port = s.ListenPort
		inbound.Protocol = "dokodemo-door"
		inbound.Settings = map[string]any{"network": "tcp", "followRedirect": true}
	case model.UDPSpec:
		inbound.Port = s.ListenPort
		inbound.Protocol = "dokodemo-door"
		inbound.Settings = map[string]any{"network": "udp", "followRedirect": true}
	case model.WSSpec:
		inbound.Port = s.ListenPort
		inbound.Protocol = "vless"
		inbound.Settings = map[string]any{
			"clients":    []map[string]any{{"id": s.UUID}},
			"decryption": "none",
		}
		inbound.StreamSettings = &xrayStreamSettings{
			Network:    "ws",
			WSSettings: map[string]any{"path": s.Path},
		}
	case model.GRPCSpec:
		inbound.Port = s.ListenPort
		inbound.Protocol = "vless"
		inbound.Settings = map[string]any{
			"clients":    []map[string]any{{"id": s.UUID}},
			"decryption": "none",
		}
		inbound.StreamSettings = &xrayStreamSettings{
			Network: "grpc",
			GRPC:    map[string]any{"serviceName": s.ServiceName},
		}
	default:
		return nil, fmt.Errorf("xray core with %s spec", params.TunnelType())
	}

	return json.MarshalIndent(xrayConfig{Inbounds: []xrayInbound{inbound}}, "", "  ")
}

func renderWireGuard(s model.WireGuardSpec) []byte {
	var b strings.Builder
	b.WriteString("[Interface]\n")
	fmt.Fprintf(&b, "PrivateKey = %s\n", s.PrivateKey)
	fmt.Fprintf(&b, "Address = %s\n", s.Address)
	b.WriteString("\n[Peer]\n")
	fmt.Fprintf(&b, "PublicKey = %s\n", s.PeerPublicKey)
	fmt.Fprintf(&b, "AllowedIPs = %s\n", s.AllowedIPs)
	return []byte(b.String())
}

func renderRathole(name string, s model.RatholeSpec) []byte {
	service := sanitizeServiceName(name)
	var b strings.Builder
	b.WriteString("[client]\n")
	fmt.Fprintf(&b, "remote_addr = %q\n", s.RemoteAddr)
	fmt.Fprintf(&b, "\n[client.services.%s]\n", service)
	fmt.Fprintf(&b, "token = %q\n", s.Token)
	fmt.Fprintf(&b, "local_addr = %q\n", s.LocalAddr)
	return []byte(b.String())
}

func sanitizeServiceName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == ' ':
			return '-'
		default:
			return -1
		}
	}, name)
	if mapped == "" {
		return "tunnel"
	}
	return mapped
}
