package agent

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"tunnelctl/internal/nodeclient"
)

// App builds the agent's HTTP surface: the endpoints the panel pushes to.
func App(adapter *Adapter) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "tunnelctl-agent",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())

	api := app.Group("/api/agent")

	api.Post("/tunnels/apply", func(c *fiber.Ctx) error {
		var payload nodeclient.ApplyPayload
		if err := c.BodyParser(&payload); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed request body"})
		}
		if err := adapter.Apply(c.Context(), payload); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"ok": true, "revision": payload.Revision})
	})

	api.Post("/tunnels/teardown", func(c *fiber.Ctx) error {
		var payload nodeclient.TeardownPayload
		if err := c.BodyParser(&payload); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed request body"})
		}
		if err := adapter.Teardown(c.Context(), payload.TunnelID); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"ok": true})
	})

	api.Get("/status", func(c *fiber.Ctx) error {
		return c.JSON(nodeclient.AgentStatus{
			Status:  "ok",
			Tunnels: adapter.Active(),
		})
	})

	return app
}
