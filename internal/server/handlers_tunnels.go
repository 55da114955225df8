package server

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"tunnelctl/internal/model"
	"tunnelctl/internal/reconcile"
	"tunnelctl/internal/spec"
)

type createTunnelRequest struct {
	Name      string          `json:"name"`
	Core      string          `json:"core"`
	Type      string          `json:"type"`
	NodeID    string          `json:"node_id"`
	QuotaMB   float64         `json:"quota_mb"`
	ExpiresAt *time.Time      `json:"expires_at"`
	Spec      json.RawMessage `json:"spec"`
}

type applyResponse struct {
	ID           string             `json:"id"`
	Revision     int64              `json:"revision"`
	Status       model.TunnelStatus `json:"status"`
	StatusReason string             `json:"status_reason,omitempty"`
}

type usageRequest struct {
	NodeID     string   `json:"node_id"`
	DeltaBytes *int64   `json:"delta_bytes"`
	DeltaMB    *float64 `json:"delta_mb"`
}

type usageResponse struct {
	ID          string  `json:"id"`
	UsedMB      float64 `json:"used_mb"`
	QuotaMB     float64 `json:"quota_mb"`
	WithinQuota bool    `json:"within_quota"`
}

func (s *Server) handleListTunnels(c *fiber.Ctx) error {
	return c.JSON(s.store.ListTunnels())
}

func (s *Server) handleGetTunnel(c *fiber.Ctx) error {
	tunnel, err := s.store.GetTunnel(c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(tunnel)
}

func (s *Server) handleCreateTunnel(c *fiber.Ctx) error {
	var req createTunnelRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, fiber.StatusBadRequest, kindInvalidInput, "malformed request body", "")
	}

	if req.Name == "" {
		return writeError(c, fiber.StatusUnprocessableEntity, kindInvalidInput, "name is required", "name")
	}
	core := model.Core(req.Core)
	if !model.ValidCore(core) {
		return writeError(c, fiber.StatusUnprocessableEntity, kindInvalidInput, "unknown core "+req.Core, "core")
	}
	typ := model.TunnelType(req.Type)
	if !model.ValidTunnelType(typ) {
		return writeError(c, fiber.StatusUnprocessableEntity, kindInvalidInput, "unknown type "+req.Type, "type")
	}
	if req.QuotaMB < 0 {
		return writeError(c, fiber.StatusUnprocessableEntity, kindInvalidInput, "quota_mb must be >= 0", "quota_mb")
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now().UTC()) {
		return writeError(c, fiber.StatusUnprocessableEntity, kindInvalidInput, "expires_at must be in the future", "expires_at")
	}
	if req.NodeID == "" {
		return writeError(c, fiber.StatusUnprocessableEntity, kindInvalidInput, "node_id is required", "node_id")
	}
	if _, err := s.store.GetNode(req.NodeID); err != nil {
		return s.fail(c, err)
	}

	params, err := model.DecodeSpec(typ, req.Spec)
	if err != nil {
		return writeError(c, fiber.StatusUnprocessableEntity, kindInvalidInput, err.Error(), "spec")
	}
	params = scrubGenerated(params)

	// Compile once at the boundary so invalid specs fail the declaration, not
	// the later apply. The minted secrets are persisted with the record.
	compiled, err := spec.Compile(req.Name, core, typ, params)
	if err != nil {
		return s.fail(c, err)
	}

	now := time.Now().UTC()
	tunnel := model.Tunnel{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Core:      core,
		Type:      typ,
		NodeID:    req.NodeID,
		Spec:      compiled.Params,
		QuotaMB:   req.QuotaMB,
		ExpiresAt: req.ExpiresAt,
		Status:    model.TunnelPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.PutTunnel(tunnel); err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(tunnel)
}

func (s *Server) handleApplyTunnel(c *fiber.Ctx) error {
	tunnel, err := s.engine.Apply(c.Context(), c.Params("id"))
	if err != nil && !errors.Is(err, reconcile.ErrNodeUnreachable) {
		return s.fail(c, err)
	}
	// A push that failed inside the prompt window still answers with the
	// tunnel's state; the attempt consumed a revision either way.
	return c.JSON(applyResponse{
		ID:           tunnel.ID,
		Revision:     tunnel.Revision,
		Status:       tunnel.Status,
		StatusReason: tunnel.StatusReason,
	})
}

func (s *Server) handleDeleteTunnel(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.engine.Delete(c.Context(), id); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleRecordUsage(c *fiber.Ctx) error {
	var req usageRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, fiber.StatusBadRequest, kindInvalidInput, "malformed request body", "")
	}

	var delta int64
	switch {
	case req.DeltaBytes != nil:
		delta = *req.DeltaBytes
	case req.DeltaMB != nil:
		delta = int64(*req.DeltaMB * (1 << 20))
	default:
		return writeError(c, fiber.StatusUnprocessableEntity, kindInvalidInput, "delta_bytes or delta_mb is required", "delta_bytes")
	}

	tunnel, err := s.meter.RecordUsage(c.Params("id"), req.NodeID, delta)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(usageResponse{
		ID:          tunnel.ID,
		UsedMB:      tunnel.UsedMB,
		QuotaMB:     tunnel.QuotaMB,
		WithinQuota: s.meter.WithinQuota(tunnel),
	})
}

func (s *Server) handleResetUsage(c *fiber.Ctx) error {
	tunnel, err := s.meter.ResetUsage(c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(usageResponse{
		ID:          tunnel.ID,
		UsedMB:      tunnel.UsedMB,
		QuotaMB:     tunnel.QuotaMB,
		WithinQuota: s.meter.WithinQuota(tunnel),
	})
}

// scrubGenerated drops client-supplied values for fields the compiler mints.
// Secrets are chosen server-side, whatever the caller sent.
func scrubGenerated(params model.SpecParams) model.SpecParams {
	switch p := params.(type) {
	case model.WSSpec:
		p.UUID = ""
		return p
	case model.GRPCSpec:
		p.UUID = ""
		return p
	case model.WireGuardSpec:
		p.PrivateKey = ""
		p.PeerPublicKey = ""
		p.PeerPrivateKey = ""
		return p
	case model.RatholeSpec:
		p.RemoteAddr = ""
		p.Token = ""
		return p
	default:
		return params
	}
}
