package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"tunnelctl/internal/quota"
	"tunnelctl/internal/reconcile"
	"tunnelctl/internal/registry"
	"tunnelctl/internal/spec"
	"tunnelctl/internal/store"
)

// Error kinds exposed on the wire. Clients dispatch on kind, not message.
const (
	kindNotFound        = "not_found"
	kindConflict        = "conflict"
	kindInvalidInput    = "invalid_input"
	kindNodeUnreachable = "node_unreachable"
	kindAlreadyExpired  = "already_expired"
	kindQuotaExceeded   = "quota_exceeded"
	kindInternal        = "internal"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeError(c *fiber.Ctx, status int, kind, message, field string) error {
	return c.Status(status).JSON(errorBody{Error: errorDetail{
		Kind:    kind,
		Message: message,
		Field:   field,
	}})
}

// fail maps a domain error onto the structured error body.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	var invalid *spec.InvalidParamError
	var unsupported *spec.UnsupportedCombinationError

	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, registry.ErrUnknownNode):
		return writeError(c, fiber.StatusNotFound, kindNotFound, err.Error(), "")
	case errors.Is(err, registry.ErrDuplicateFingerprint), errors.Is(err, reconcile.ErrConflict):
		return writeError(c, fiber.StatusConflict, kindConflict, err.Error(), "")
	case errors.Is(err, reconcile.ErrAlreadyExpired):
		return writeError(c, fiber.StatusConflict, kindAlreadyExpired, err.Error(), "")
	case errors.Is(err, reconcile.ErrQuotaExhausted):
		return writeError(c, fiber.StatusConflict, kindQuotaExceeded, err.Error(), "")
	case errors.Is(err, registry.ErrInvalidProof), errors.Is(err, quota.ErrNegativeDelta):
		return writeError(c, fiber.StatusUnprocessableEntity, kindInvalidInput, err.Error(), "")
	case errors.As(err, &invalid):
		return writeError(c, fiber.StatusUnprocessableEntity, kindInvalidInput, err.Error(), invalid.Field)
	case errors.As(err, &unsupported):
		return writeError(c, fiber.StatusUnprocessableEntity, kindInvalidInput, err.Error(), "")
	case errors.Is(err, reconcile.ErrNodeUnreachable):
		return writeError(c, fiber.StatusBadGateway, kindNodeUnreachable, err.Error(), "")
	default:
		return writeError(c, fiber.StatusInternalServerError, kindInternal, err.Error(), "")
	}
}
