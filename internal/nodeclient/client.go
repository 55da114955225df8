// Package nodeclient is the panel-side HTTP client for pushing configuration
// to node agents.
package nodeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tunnelctl/internal/model"
)

// Client pushes compiled configuration toward node agents. Every call is
// bounded by the caller's context; the embedded client timeout is a backstop.
type Client struct {
	http *http.Client
}

// New creates a push client with the given backstop timeout.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http: &http.Client{Timeout: timeout},
	}
}

// Apply pushes a compiled tunnel configuration to the agent at baseURL.
func (c *Client) Apply(ctx context.Context, baseURL string, payload ApplyPayload) error {
	return c.postJSON(ctx, baseURL, "/api/agent/tunnels/apply", payload)
}

// Teardown asks the agent at baseURL to remove a tunnel configuration.
func (c *Client) Teardown(ctx context.Context, baseURL string, payload TeardownPayload) error {
	return c.postJSON(ctx, baseURL, "/api/agent/tunnels/teardown", payload)
}

// Status fetches the agent's self-report.
func (c *Client) Status(ctx context.Context, baseURL string) (AgentStatus, error) {
	var status AgentStatus
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/agent/status", nil)
	if err != nil {
		return status, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return status, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return status, responseError(res)
	}
	return status, json.NewDecoder(res.Body).Decode(&status)
}

func (c *Client) postJSON(ctx context.Context, baseURL, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return responseError(res)
	}
	return nil
}

func responseError(res *http.Response) error {
	body, _ := io.ReadAll(res.Body)
	msg := strings.TrimSpace(string(body))
	if msg != "" {
		return fmt.Errorf("node returned %s: %s", res.Status, msg)
	}
	return fmt.Errorf("node returned %s", res.Status)
}

// ResolveAddress determines how to reach a node: through the FRP relay when
// enabled and the node advertises a remote port, otherwise via the node's
// advertised API address.
func ResolveAddress(node model.Node, settings model.Settings) (string, error) {
	if settings.FRP.Enabled {
		if port, ok := node.Metadata["frp_remote_port"]; ok && port != "" {
			return "http://127.0.0.1:" + port, nil
		}
	}

	addr := node.Metadata["api_address"]
	if addr == "" {
		return "", fmt.Errorf("node %s has no api_address", node.ID)
	}
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return strings.TrimRight(addr, "/"), nil
}
