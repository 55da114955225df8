package server

import (
	"github.com/gofiber/fiber/v2"

	"tunnelctl/internal/model"
)

func (s *Server) handleGetSettings(c *fiber.Ctx) error {
	return c.JSON(s.store.Settings())
}

// handlePutSettings replaces the whole settings record. Partial updates are
// not supported; the version field in the body is ignored.
func (s *Server) handlePutSettings(c *fiber.Ctx) error {
	var next model.Settings
	if err := c.BodyParser(&next); err != nil {
		return writeError(c, fiber.StatusBadRequest, kindInvalidInput, "malformed request body", "")
	}
	if next.FRP.Port < 0 || next.FRP.Port > 65535 {
		return writeError(c, fiber.StatusUnprocessableEntity, kindInvalidInput, "frp.port must be in 0-65535", "frp.port")
	}
	if next.Telegram.AdminIDs == nil {
		next.Telegram.AdminIDs = []string{}
	}

	stored, err := s.store.ReplaceSettings(next)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(stored)
}
