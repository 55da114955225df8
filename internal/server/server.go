// Package server is the control-plane HTTP boundary. It translates REST
// requests into registry, compiler, engine, and meter operations and owns the
// error-body mapping; it holds no domain state of its own.
package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tunnelctl/internal/logbuf"
	"tunnelctl/internal/pki"
	"tunnelctl/internal/quota"
	"tunnelctl/internal/reconcile"
	"tunnelctl/internal/registry"
	"tunnelctl/internal/store"
)

// Server wires the API surface over the domain components.
type Server struct {
	store    *store.Store
	registry *registry.Registry
	engine   *reconcile.Engine
	meter    *quota.Meter
	ca       *pki.Authority
	logs     *logbuf.Buffer
}

// New assembles a server. All collaborators are required.
func New(st *store.Store, reg *registry.Registry, eng *reconcile.Engine, meter *quota.Meter, ca *pki.Authority, logs *logbuf.Buffer) *Server {
	return &Server{
		store:    st,
		registry: reg,
		engine:   eng,
		meter:    meter,
		ca:       ca,
		logs:     logs,
	}
}

// App builds the fiber application with all routes mounted.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "tunnelctl",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())

	api := app.Group("/api")

	api.Get("/status", s.handleStatus)
	api.Get("/logs", s.handleLogs)

	api.Get("/panel/ca", s.handleCACert)
	api.Get("/panel/health", s.handleHealth)

	api.Get("/nodes", s.handleListNodes)
	api.Post("/nodes", s.handleRegisterNode)
	api.Post("/nodes/heartbeat", s.handleHeartbeat)
	api.Get("/nodes/:id", s.handleGetNode)
	api.Delete("/nodes/:id", s.handleDeregisterNode)

	api.Get("/tunnels", s.handleListTunnels)
	api.Post("/tunnels", s.handleCreateTunnel)
	api.Get("/tunnels/:id", s.handleGetTunnel)
	api.Delete("/tunnels/:id", s.handleDeleteTunnel)
	api.Post("/tunnels/:id/apply", s.handleApplyTunnel)
	api.Post("/tunnels/:id/usage", s.handleRecordUsage)
	api.Post("/tunnels/:id/reset-usage", s.handleResetUsage)

	api.Get("/settings", s.handleGetSettings)
	api.Put("/settings", s.handlePutSettings)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	return app
}
