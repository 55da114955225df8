package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"tunnelctl/internal/logbuf"
	"tunnelctl/internal/model"
	"tunnelctl/internal/nodeclient"
	"tunnelctl/internal/pki"
	"tunnelctl/internal/quota"
	"tunnelctl/internal/reconcile"
	"tunnelctl/internal/registry"
	"tunnelctl/internal/store"
)

type testPanel struct {
	app   *fiber.App
	store *store.Store
	ca    *pki.Authority
	logs  *logbuf.Buffer
}

func newTestPanel(t *testing.T) *testPanel {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "state.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	ca := pki.NewAuthority(filepath.Join(dir, "certs"))
	if err := ca.EnsureCA(); err != nil {
		t.Fatal(err)
	}

	reg := registry.New(st, ca, 90*time.Second, 180*time.Second)
	engine := reconcile.New(st, nodeclient.New(2*time.Second), 2*time.Second, time.Second)
	meter := quota.New(st, filepath.Join(dir, "usage.csv"))
	reg.SetCascade(engine)
	meter.SetBreacher(engine)

	logs := logbuf.New(200)
	srv := New(st, reg, engine, meter, ca, logs)
	return &testPanel{app: srv.App(), store: st, ca: ca, logs: logs}
}

func (p *testPanel) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	resp, err := p.app.Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func errorKind(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error struct {
			Kind  string `json:"kind"`
			Field string `json:"field"`
		} `json:"error"`
	}
	decodeBody(t, resp, &body)
	return body.Error.Kind
}

// registerNode enrolls a node with a valid certificate proof and returns its id.
func (p *testPanel) registerNode(t *testing.T, name, apiAddress string) string {
	t.Helper()
	certPEM, _, err := p.ca.IssueNodeCert(name)
	if err != nil {
		t.Fatal(err)
	}
	resp := p.do(t, http.MethodPost, "/api/nodes", fiber.Map{
		"name":        name,
		"certificate": string(certPEM),
		"metadata":    map[string]string{"api_address": apiAddress},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register node: status %d", resp.StatusCode)
	}
	var node model.Node
	decodeBody(t, resp, &node)
	return node.ID
}

func agentStub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNodeLifecycle(t *testing.T) {
	t.Parallel()

	panel := newTestPanel(t)
	certPEM, _, err := panel.ca.IssueNodeCert("edge-1")
	if err != nil {
		t.Fatal(err)
	}
	cert, err := pki.ParseCertPEM(certPEM)
	if err != nil {
		t.Fatal(err)
	}
	fp := pki.Fingerprint(cert.Raw)

	resp := panel.do(t, http.MethodPost, "/api/nodes", fiber.Map{
		"name":        "edge-1",
		"certificate": string(certPEM),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var node model.Node
	decodeBody(t, resp, &node)
	if node.Fingerprint != fp {
		t.Fatalf("fingerprint = %s, want %s", node.Fingerprint, fp)
	}
	if node.Status != model.NodeInactive {
		t.Fatalf("status = %s, want inactive before first heartbeat", node.Status)
	}

	// Second enrollment with the same certificate is a conflict.
	resp = panel.do(t, http.MethodPost, "/api/nodes", fiber.Map{
		"name":        "edge-1-copy",
		"certificate": string(certPEM),
	})
	if resp.StatusCode != http.StatusConflict || errorKind(t, resp) != "conflict" {
		t.Fatalf("duplicate enroll: status %d", resp.StatusCode)
	}

	// Heartbeat activates.
	resp = panel.do(t, http.MethodPost, "/api/nodes/heartbeat", fiber.Map{"fingerprint": fp})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("heartbeat status = %d, want 204", resp.StatusCode)
	}
	resp = panel.do(t, http.MethodGet, "/api/nodes/"+node.ID, nil)
	decodeBody(t, resp, &node)
	if node.Status != model.NodeActive {
		t.Fatalf("status = %s, want active after heartbeat", node.Status)
	}

	// Unknown fingerprint.
	resp = panel.do(t, http.MethodPost, "/api/nodes/heartbeat", fiber.Map{"fingerprint": "deadbeef"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown heartbeat status = %d, want 404", resp.StatusCode)
	}

	resp = panel.do(t, http.MethodDelete, "/api/nodes/"+node.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("deregister status = %d, want 204", resp.StatusCode)
	}
	resp = panel.do(t, http.MethodGet, "/api/nodes/"+node.ID, nil)
	if resp.StatusCode != http.StatusNotFound || errorKind(t, resp) != "not_found" {
		t.Fatalf("get after deregister: status %d", resp.StatusCode)
	}
}

func TestRegisterNodeRejectsBadProof(t *testing.T) {
	t.Parallel()

	panel := newTestPanel(t)
	resp := panel.do(t, http.MethodPost, "/api/nodes", fiber.Map{
		"name":        "intruder",
		"certificate": "not a certificate",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	if kind := errorKind(t, resp); kind != "invalid_input" {
		t.Fatalf("kind = %s", kind)
	}
}

func TestTunnelLifecycle(t *testing.T) {
	t.Parallel()

	panel := newTestPanel(t)
	agent := agentStub(t)
	nodeID := panel.registerNode(t, "edge-1", agent.URL)

	// Client-supplied UUID must be discarded; the panel mints its own.
	resp := panel.do(t, http.MethodPost, "/api/tunnels", fiber.Map{
		"name":     "web",
		"core":     "xray",
		"type":     "ws",
		"node_id":  nodeID,
		"quota_mb": 100,
		"spec":     fiber.Map{"listen_port": 8443, "path": "/ws", "uuid": "client-chosen"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Spec   struct {
			UUID string `json:"uuid"`
		} `json:"spec"`
	}
	decodeBody(t, resp, &created)
	if created.Status != string(model.TunnelPending) {
		t.Fatalf("status = %s, want pending", created.Status)
	}
	if created.Spec.UUID == "" || created.Spec.UUID == "client-chosen" {
		t.Fatalf("uuid = %q, want server-minted", created.Spec.UUID)
	}

	resp = panel.do(t, http.MethodPost, "/api/tunnels/"+created.ID+"/apply", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("apply status = %d, want 200", resp.StatusCode)
	}
	var applied applyResponse
	decodeBody(t, resp, &applied)
	if applied.Revision != 1 || applied.Status != model.TunnelActive {
		t.Fatalf("apply = %+v, want revision 1 active", applied)
	}

	// The minted UUID is stable across recompiles.
	resp = panel.do(t, http.MethodGet, "/api/tunnels/"+created.ID, nil)
	var fetched struct {
		Spec struct {
			UUID string `json:"uuid"`
		} `json:"spec"`
	}
	decodeBody(t, resp, &fetched)
	if fetched.Spec.UUID != created.Spec.UUID {
		t.Fatal("minted uuid must survive apply")
	}

	resp = panel.do(t, http.MethodDelete, "/api/tunnels/"+created.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}
	resp = panel.do(t, http.MethodGet, "/api/tunnels/"+created.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete: status %d", resp.StatusCode)
	}
}

func TestCreateTunnelValidation(t *testing.T) {
	t.Parallel()

	panel := newTestPanel(t)
	nodeID := panel.registerNode(t, "edge-1", "http://127.0.0.1:1")

	cases := []struct {
		name     string
		body     fiber.Map
		wantCode int
		wantKind string
	}{
		{
			"unknown core",
			fiber.Map{"name": "t", "core": "nginx", "type": "tcp", "node_id": nodeID},
			http.StatusUnprocessableEntity, "invalid_input",
		},
		{
			"unknown node",
			fiber.Map{"name": "t", "core": "xray", "type": "tcp", "node_id": "missing", "spec": fiber.Map{"listen_port": 80}},
			http.StatusNotFound, "not_found",
		},
		{
			"unsupported combination",
			fiber.Map{"name": "t", "core": "wireguard", "type": "tcp", "node_id": nodeID, "spec": fiber.Map{"listen_port": 80}},
			http.StatusUnprocessableEntity, "invalid_input",
		},
		{
			"bad listen port",
			fiber.Map{"name": "t", "core": "xray", "type": "tcp", "node_id": nodeID, "spec": fiber.Map{"listen_port": 0}},
			http.StatusUnprocessableEntity, "invalid_input",
		},
		{
			"negative quota",
			fiber.Map{"name": "t", "core": "xray", "type": "tcp", "node_id": nodeID, "quota_mb": -1, "spec": fiber.Map{"listen_port": 80}},
			http.StatusUnprocessableEntity, "invalid_input",
		},
		{
			"deadline already past",
			fiber.Map{"name": "t", "core": "xray", "type": "tcp", "node_id": nodeID, "expires_at": time.Now().UTC().Add(-time.Hour), "spec": fiber.Map{"listen_port": 80}},
			http.StatusUnprocessableEntity, "invalid_input",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			resp := panel.do(t, http.MethodPost, "/api/tunnels", tc.body)
			if resp.StatusCode != tc.wantCode {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantCode)
			}
			if kind := errorKind(t, resp); kind != tc.wantKind {
				t.Fatalf("kind = %s, want %s", kind, tc.wantKind)
			}
		})
	}
}

func TestApplyUnreachableNodeReportsError(t *testing.T) {
	t.Parallel()

	panel := newTestPanel(t)
	dead := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	deadURL := dead.URL
	dead.Close()
	nodeID := panel.registerNode(t, "edge-1", deadURL)

	resp := panel.do(t, http.MethodPost, "/api/tunnels", fiber.Map{
		"name": "t", "core": "xray", "type": "tcp", "node_id": nodeID,
		"spec": fiber.Map{"listen_port": 80},
	})
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &created)

	// A failed push still answers with the tunnel's state and a bumped revision.
	resp = panel.do(t, http.MethodPost, "/api/tunnels/"+created.ID+"/apply", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var applied applyResponse
	decodeBody(t, resp, &applied)
	if applied.Revision != 1 || applied.Status != model.TunnelError {
		t.Fatalf("apply = %+v, want revision 1 error", applied)
	}
	if applied.StatusReason == "" {
		t.Fatal("expected a status reason")
	}
}

func TestUsageAndBreach(t *testing.T) {
	t.Parallel()

	panel := newTestPanel(t)
	agent := agentStub(t)
	nodeID := panel.registerNode(t, "edge-1", agent.URL)

	resp := panel.do(t, http.MethodPost, "/api/tunnels", fiber.Map{
		"name": "metered", "core": "xray", "type": "tcp", "node_id": nodeID,
		"quota_mb": 100, "spec": fiber.Map{"listen_port": 80},
	})
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &created)

	usagePath := "/api/tunnels/" + created.ID + "/usage"

	resp = panel.do(t, http.MethodPost, usagePath, fiber.Map{"node_id": nodeID, "delta_mb": 60})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("usage status = %d, want 200", resp.StatusCode)
	}
	var usage usageResponse
	decodeBody(t, resp, &usage)
	if usage.UsedMB != 60 || !usage.WithinQuota {
		t.Fatalf("usage = %+v, want 60 MB within quota", usage)
	}

	// delta_bytes works too, and the breach shuts the tunnel off.
	resp = panel.do(t, http.MethodPost, usagePath, fiber.Map{
		"node_id": nodeID, "delta_bytes": int64(90) * (1 << 20),
	})
	decodeBody(t, resp, &usage)
	if usage.UsedMB != 150 || usage.WithinQuota {
		t.Fatalf("usage = %+v, want 150 MB over quota", usage)
	}

	resp = panel.do(t, http.MethodGet, "/api/tunnels/"+created.ID, nil)
	var fetched struct {
		Status       string `json:"status"`
		StatusReason string `json:"status_reason"`
	}
	decodeBody(t, resp, &fetched)
	if fetched.Status != string(model.TunnelError) || fetched.StatusReason != "quota exceeded" {
		t.Fatalf("tunnel after breach: %+v", fetched)
	}

	// Applying an exhausted tunnel is refused until the quota is raised.
	resp = panel.do(t, http.MethodPost, "/api/tunnels/"+created.ID+"/apply", nil)
	if resp.StatusCode != http.StatusConflict || errorKind(t, resp) != "quota_exceeded" {
		t.Fatalf("apply over quota: status %d", resp.StatusCode)
	}

	// Negative deltas are rejected.
	resp = panel.do(t, http.MethodPost, usagePath, fiber.Map{"node_id": nodeID, "delta_bytes": -5})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("negative delta status = %d, want 422", resp.StatusCode)
	}

	// Reset clears the counter.
	resp = panel.do(t, http.MethodPost, "/api/tunnels/"+created.ID+"/reset-usage", nil)
	decodeBody(t, resp, &usage)
	if usage.UsedMB != 0 || !usage.WithinQuota {
		t.Fatalf("after reset: %+v", usage)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	t.Parallel()

	panel := newTestPanel(t)

	resp := panel.do(t, http.MethodGet, "/api/settings", nil)
	var settings model.Settings
	decodeBody(t, resp, &settings)
	if settings.FRP.Port != 7000 {
		t.Fatalf("default frp port = %d, want 7000", settings.FRP.Port)
	}

	resp = panel.do(t, http.MethodPut, "/api/settings", fiber.Map{
		"frp": fiber.Map{"enabled": true, "port": 7100, "token": "s3cret"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put status = %d, want 200", resp.StatusCode)
	}
	decodeBody(t, resp, &settings)
	if settings.Version != 1 || !settings.FRP.Enabled || settings.FRP.Port != 7100 {
		t.Fatalf("stored settings = %+v", settings)
	}
	if settings.Telegram.AdminIDs == nil {
		t.Fatal("admin_ids must default to an empty list")
	}

	resp = panel.do(t, http.MethodPut, "/api/settings", fiber.Map{
		"frp": fiber.Map{"port": 70000},
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("bad port status = %d, want 422", resp.StatusCode)
	}
}

func TestStatusAndLogs(t *testing.T) {
	t.Parallel()

	panel := newTestPanel(t)
	agent := agentStub(t)
	panel.registerNode(t, "edge-1", agent.URL)

	for i := 0; i < 5; i++ {
		panel.logs.Append("info", fmt.Sprintf("line %d", i))
	}

	resp := panel.do(t, http.MethodGet, "/api/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var status struct {
		Nodes struct {
			Total int `json:"total"`
		} `json:"nodes"`
		Tunnels struct {
			Total int `json:"total"`
		} `json:"tunnels"`
	}
	decodeBody(t, resp, &status)
	if status.Nodes.Total != 1 || status.Tunnels.Total != 0 {
		t.Fatalf("counts = %+v", status)
	}

	resp = panel.do(t, http.MethodGet, "/api/logs?limit=2", nil)
	var logs struct {
		Logs []logbuf.Entry `json:"logs"`
	}
	decodeBody(t, resp, &logs)
	if len(logs.Logs) != 2 || logs.Logs[1].Message != "line 4" {
		t.Fatalf("logs tail = %+v", logs.Logs)
	}
}

func TestLogsLimitClamped(t *testing.T) {
	t.Parallel()

	panel := newTestPanel(t)
	for i := 0; i < 150; i++ {
		panel.logs.Append("info", fmt.Sprintf("line %d", i))
	}

	// A non-positive limit must not dump the whole buffer.
	for _, query := range []string{"?limit=-1", "?limit=0"} {
		resp := panel.do(t, http.MethodGet, "/api/logs"+query, nil)
		var logs struct {
			Logs []logbuf.Entry `json:"logs"`
		}
		decodeBody(t, resp, &logs)
		if len(logs.Logs) != 100 {
			t.Fatalf("%s: got %d entries, want 100", query, len(logs.Logs))
		}
		if logs.Logs[99].Message != "line 149" {
			t.Fatalf("%s: tail must stay newest-last, got %q", query, logs.Logs[99].Message)
		}
	}
}

func TestCACertAndHealth(t *testing.T) {
	t.Parallel()

	panel := newTestPanel(t)

	resp := panel.do(t, http.MethodGet, "/api/panel/ca", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get(fiber.HeaderContentType); ct != "application/x-pem-file" {
		t.Fatalf("content type = %q", ct)
	}
	pem, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(pem), "BEGIN CERTIFICATE") {
		t.Fatal("expected a PEM certificate body")
	}

	resp = panel.do(t, http.MethodGet, "/api/panel/health", nil)
	var health struct {
		Status string `json:"status"`
	}
	decodeBody(t, resp, &health)
	if health.Status != "ok" {
		t.Fatalf("health = %q", health.Status)
	}
}
