package agent

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"tunnelctl/internal/nodeclient"
)

func TestAgentPushEndpoints(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	app := App(NewAdapter(dir, nil, nil))

	post := func(path string, body any) *http.Response {
		t.Helper()
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, 5000)
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	resp := post("/api/agent/tunnels/apply", nodeclient.ApplyPayload{
		TunnelID: "t1",
		Core:     "xray",
		Revision: 1,
		Rendered: []byte(`{"inbounds":[]}`),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("apply status = %d, want 200", resp.StatusCode)
	}
	if _, err := os.Stat(filepath.Join(dir, "xray", "t1.json")); err != nil {
		t.Fatalf("config not written: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/agent/status", nil)
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatal(err)
	}
	var status nodeclient.AgentStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if status.Status != "ok" || len(status.Tunnels) != 1 || status.Tunnels[0] != "t1" {
		t.Fatalf("status = %+v", status)
	}

	resp = post("/api/agent/tunnels/teardown", nodeclient.TeardownPayload{TunnelID: "t1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("teardown status = %d, want 200", resp.StatusCode)
	}
	if _, err := os.Stat(filepath.Join(dir, "xray", "t1.json")); !os.IsNotExist(err) {
		t.Fatal("config must be removed")
	}

	// Unknown core is the agent's error, reported to the pusher.
	resp = post("/api/agent/tunnels/apply", nodeclient.ApplyPayload{TunnelID: "t2", Core: "nginx"})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("bad core status = %d, want 500", resp.StatusCode)
	}
}
