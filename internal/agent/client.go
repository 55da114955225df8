package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tunnelctl/internal/model"
)

// ErrAlreadyRegistered is returned when the panel already knows this node's
// fingerprint. The agent then recovers its id from the node list.
var ErrAlreadyRegistered = errors.New("node already registered")

// PanelClient is the agent-side client for the panel API.
type PanelClient struct {
	base string
	http *http.Client
}

// NewPanelClient creates a client for the panel at addr. A bare host:port is
// promoted to http://.
func NewPanelClient(addr string) *PanelClient {
	base := strings.TrimSpace(addr)
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &PanelClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

type registerRequest struct {
	Name        string            `json:"name"`
	Fingerprint string            `json:"fingerprint"`
	Certificate string            `json:"certificate"`
	Metadata    map[string]string `json:"metadata"`
}

type usageReport struct {
	NodeID     string `json:"node_id"`
	DeltaBytes int64  `json:"delta_bytes"`
}

// Register enrolls the node and returns its assigned record.
func (c *PanelClient) Register(ctx context.Context, name, fingerprint string, certPEM []byte, metadata map[string]string) (model.Node, error) {
	var node model.Node
	status, err := c.doJSON(ctx, http.MethodPost, "/api/nodes", registerRequest{
		Name:        name,
		Fingerprint: fingerprint,
		Certificate: string(certPEM),
		Metadata:    metadata,
	}, &node)
	if err != nil {
		if status == http.StatusConflict {
			return model.Node{}, ErrAlreadyRegistered
		}
		return model.Node{}, err
	}
	return node, nil
}

// Lookup finds this node's record by fingerprint.
func (c *PanelClient) Lookup(ctx context.Context, fingerprint string) (model.Node, error) {
	var nodes []model.Node
	if _, err := c.doJSON(ctx, http.MethodGet, "/api/nodes", nil, &nodes); err != nil {
		return model.Node{}, err
	}
	for _, n := range nodes {
		if n.Fingerprint == fingerprint {
			return n, nil
		}
	}
	return model.Node{}, fmt.Errorf("node with fingerprint %s not registered", fingerprint)
}

// Heartbeat signals liveness.
func (c *PanelClient) Heartbeat(ctx context.Context, fingerprint string) error {
	_, err := c.doJSON(ctx, http.MethodPost, "/api/nodes/heartbeat", map[string]string{
		"fingerprint": fingerprint,
	}, nil)
	return err
}

// ReportUsage submits a usage delta for one tunnel.
func (c *PanelClient) ReportUsage(ctx context.Context, tunnelID, nodeID string, deltaBytes int64) error {
	_, err := c.doJSON(ctx, http.MethodPost, "/api/tunnels/"+tunnelID+"/usage", usageReport{
		NodeID:     nodeID,
		DeltaBytes: deltaBytes,
	}, nil)
	return err
}

func (c *PanelClient) doJSON(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(res.Body)
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = res.Status
		}
		return res.StatusCode, fmt.Errorf("panel returned %d: %s", res.StatusCode, msg)
	}
	if out == nil {
		return res.StatusCode, nil
	}
	return res.StatusCode, json.NewDecoder(res.Body).Decode(out)
}
