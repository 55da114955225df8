package server

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"tunnelctl/internal/logbuf"
	"tunnelctl/internal/model"
	"tunnelctl/internal/sysinfo"
)

type countSummary struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

type trafficSummary struct {
	TotalMB              float64 `json:"total_mb"`
	TotalBytes           int64   `json:"total_bytes"`
	CurrentRateMBPerHour float64 `json:"current_rate_mb_per_hour"`
}

type statusResponse struct {
	System  sysinfo.Snapshot `json:"system"`
	Tunnels countSummary     `json:"tunnels"`
	Nodes   countSummary     `json:"nodes"`
	Traffic trafficSummary   `json:"traffic"`
}

type logsResponse struct {
	Logs []logbuf.Entry `json:"logs"`
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	nodes := s.registry.List()
	nodeCounts := countSummary{Total: len(nodes)}
	for _, n := range nodes {
		if n.Status == model.NodeActive {
			nodeCounts.Active++
		}
	}

	tunnels := s.store.ListTunnels()
	tunnelCounts := countSummary{Total: len(tunnels)}
	for _, t := range tunnels {
		if t.Status == model.TunnelActive {
			tunnelCounts.Active++
		}
	}

	traffic := trafficSummary{}
	if summary, err := s.meter.Summary(time.Now().Add(-time.Hour)); err == nil {
		traffic.TotalBytes = summary.TotalBytes
		traffic.TotalMB = float64(summary.TotalBytes) / (1 << 20)
		traffic.CurrentRateMBPerHour = summary.RateMBPerHour
	}

	return c.JSON(statusResponse{
		System:  sysinfo.Sample(),
		Tunnels: tunnelCounts,
		Nodes:   nodeCounts,
		Traffic: traffic,
	})
}

func (s *Server) handleLogs(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	// A zero or negative limit would dump the whole buffer.
	if limit <= 0 {
		limit = 100
	}
	return c.JSON(logsResponse{Logs: s.logs.Tail(limit)})
}

func (s *Server) handleCACert(c *fiber.Ctx) error {
	pem, err := s.ca.CACertPEM()
	if err != nil {
		return s.fail(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/x-pem-file")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="ca.crt"`)
	return c.Send(pem)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}
