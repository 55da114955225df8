// Package spec compiles declarative tunnel definitions into
// technology-native configurations. It is the only place secrets (session
// UUIDs, WireGuard key pairs, rathole tokens) are minted; clients never
// supply their own.
package spec

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"tunnelctl/internal/model"
)

// InvalidParamError names the offending spec field.
type InvalidParamError struct {
	Field  string
	Reason string
}

func (e *InvalidParamError) Error() string {
	return fmt.Sprintf("invalid param %s: %s", e.Field, e.Reason)
}

// UnsupportedCombinationError reports a (core, type) pair the compiler cannot
// target.
type UnsupportedCombinationError struct {
	Core model.Core
	Type model.TunnelType
}

func (e *UnsupportedCombinationError) Error() string {
	return fmt.Sprintf("unsupported combination: core=%s type=%s", e.Core, e.Type)
}

// CompiledSpec is an immutable compilation result. Params carries the fully
// populated variant (including generated secrets) so the engine can persist
// it back onto the tunnel; Rendered is the technology-native configuration
// pushed to the node.
type CompiledSpec struct {
	Core     model.Core
	Type     model.TunnelType
	Params   model.SpecParams
	Rendered []byte
}

var supported = map[model.Core][]model.TunnelType{
	model.CoreXray:      {model.TypeTCP, model.TypeUDP, model.TypeWS, model.TypeGRPC},
	model.CoreWireGuard: {model.TypeWireGuard},
	model.CoreRathole:   {model.TypeRathole},
}

// Supported reports whether the (core, type) pair is compilable.
func Supported(core model.Core, typ model.TunnelType) bool {
	for _, t := range supported[core] {
		if t == typ {
			return true
		}
	}
	return false
}

// Compile validates params against the (core, type) pair, fills generated
// fields that are still empty, and renders the native configuration.
// Recompiling with previously generated secrets in params is deterministic.
func Compile(name string, core model.Core, typ model.TunnelType, params model.SpecParams) (CompiledSpec, error) {
	if !Supported(core, typ) {
		return CompiledSpec{}, &UnsupportedCombinationError{Core: core, Type: typ}
	}
	if params == nil {
		return CompiledSpec{}, &InvalidParamError{Field: "spec", Reason: "spec is required"}
	}
	if params.TunnelType() != typ {
		return CompiledSpec{}, &InvalidParamError{Field: "spec", Reason: fmt.Sprintf("spec shape is %s, tunnel type is %s", params.TunnelType(), typ)}
	}

	out, err := validateAndGenerate(params)
	if err != nil {
		return CompiledSpec{}, err
	}

	rendered, err := render(name, core, out)
	if err != nil {
		return CompiledSpec{}, err
	}

	return CompiledSpec{Core: core, Type: typ, Params: out, Rendered: rendered}, nil
}

func validateAndGenerate(params model.SpecParams) (model.SpecParams, error) {
	switch s := params.(type) {
	case model.TCPSpec:
		if err := validatePort("listen_port", s.ListenPort); err != nil {
			return nil, err
		}
		return s, nil

	case model.UDPSpec:
		if err := validatePort("listen_port", s.ListenPort); err != nil {
			return nil, err
		}
		return s, nil

	case model.WSSpec:
		if err := validatePort("listen_port", s.ListenPort); err != nil {
			return nil, err
		}
		if strings.TrimSpace(s.Path) == "" {
			return nil, &InvalidParamError{Field: "path", Reason: "must not be empty"}
		}
		if !strings.HasPrefix(s.Path, "/") {
			return nil, &InvalidParamError{Field: "path", Reason: "must start with /"}
		}
		// Session identifier is server-minted; whatever the client sent for a
		// fresh tunnel was discarded at the boundary.
		if s.UUID == "" {
			s.UUID = uuid.NewString()
		}
		return s, nil

	case model.GRPCSpec:
		if err := validatePort("listen_port", s.ListenPort); err != nil {
			return nil, err
		}
		if strings.TrimSpace(s.ServiceName) == "" {
			return nil, &InvalidParamError{Field: "service_name", Reason: "must not be empty"}
		}
		if s.UUID == "" {
			s.UUID = uuid.NewString()
		}
		return s, nil

	case model.WireGuardSpec:
		if _, err := netip.ParsePrefix(s.Address); err != nil {
			return nil, &InvalidParamError{Field: "address", Reason: "must be an address/prefix (e.g. 10.0.0.1/24)"}
		}
		if strings.TrimSpace(s.AllowedIPs) == "" {
			return nil, &InvalidParamError{Field: "allowed_ips", Reason: "must not be empty"}
		}
		for _, cidr := range strings.Split(s.AllowedIPs, ",") {
			if _, err := netip.ParsePrefix(strings.TrimSpace(cidr)); err != nil {
				return nil, &InvalidParamError{Field: "allowed_ips", Reason: fmt.Sprintf("bad CIDR %q", strings.TrimSpace(cidr))}
			}
		}
		if s.PrivateKey == "" || s.PeerPublicKey == "" || s.PeerPrivateKey == "" {
			nodeKey, err := wgtypes.GeneratePrivateKey()
			if err != nil {
				return nil, fmt.Errorf("generate wireguard key: %w", err)
			}
			peerKey, err := wgtypes.GeneratePrivateKey()
			if err != nil {
				return nil, fmt.Errorf("generate wireguard peer key: %w", err)
			}
			s.PrivateKey = nodeKey.String()
			// The peer's private half stays on the record for client-side
			// provisioning; the node only ever sees the public key.
			s.PeerPrivateKey = peerKey.String()
			s.PeerPublicKey = peerKey.PublicKey().String()
		}
		return s, nil

	case model.RatholeSpec:
		if err := validateHostPort("local_addr", s.LocalAddr); err != nil {
			return nil, err
		}
		if s.RemoteAddr == "" {
			port, err := randomPort(20000, 60000)
			if err != nil {
				return nil, fmt.Errorf("allocate remote port: %w", err)
			}
			s.RemoteAddr = "0.0.0.0:" + strconv.Itoa(port)
		}
		if s.Token == "" {
			token, err := randomToken(16)
			if err != nil {
				return nil, fmt.Errorf("generate token: %w", err)
			}
			s.Token = token
		}
		return s, nil

	default:
		return nil, &InvalidParamError{Field: "spec", Reason: "unknown spec shape"}
	}
}

func validatePort(field string, port int) error {
	if port < 1 || port > 65535 {
		return &InvalidParamError{Field: field, Reason: "must be in 1-65535"}
	}
	return nil
}

func validateHostPort(field, addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return &InvalidParamError{Field: field, Reason: "must be host:port"}
	}
	if host == "" {
		return &InvalidParamError{Field: field, Reason: "host must not be empty"}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return &InvalidParamError{Field: field, Reason: "port must be numeric"}
	}
	return validatePort(field, port)
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func randomPort(lo, hi int) (int, error) {
	span := big.NewInt(int64(hi - lo))
	v, err := rand.Int(rand.Reader, span)
	if err != nil {
		return 0, err
	}
	return lo + int(v.Int64()), nil
}
