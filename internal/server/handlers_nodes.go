package server

import (
	"github.com/gofiber/fiber/v2"

	"tunnelctl/internal/registry"
)

type registerNodeRequest struct {
	Name        string            `json:"name"`
	Fingerprint string            `json:"fingerprint"`
	Certificate string            `json:"certificate"`
	Metadata    map[string]string `json:"metadata"`
}

type heartbeatRequest struct {
	Fingerprint string `json:"fingerprint"`
}

func (s *Server) handleListNodes(c *fiber.Ctx) error {
	return c.JSON(s.registry.List())
}

func (s *Server) handleGetNode(c *fiber.Ctx) error {
	node, err := s.registry.Get(c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(node)
}

func (s *Server) handleRegisterNode(c *fiber.Ctx) error {
	var req registerNodeRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, fiber.StatusBadRequest, kindInvalidInput, "malformed request body", "")
	}

	node, err := s.registry.Register(registry.RegisterRequest{
		Name:        req.Name,
		Fingerprint: req.Fingerprint,
		Certificate: []byte(req.Certificate),
		Metadata:    req.Metadata,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(node)
}

func (s *Server) handleHeartbeat(c *fiber.Ctx) error {
	var req heartbeatRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, fiber.StatusBadRequest, kindInvalidInput, "malformed request body", "")
	}
	if req.Fingerprint == "" {
		return writeError(c, fiber.StatusUnprocessableEntity, kindInvalidInput, "fingerprint is required", "fingerprint")
	}
	if err := s.registry.Heartbeat(req.Fingerprint); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleDeregisterNode(c *fiber.Ctx) error {
	if err := s.registry.Deregister(c.Params("id")); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
