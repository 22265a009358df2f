package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"gateline/internal/config"
	"gateline/internal/db"
	"gateline/internal/engine"
	"gateline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("gateline")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg, engine.DefaultRegistry(), nil)
	if _, err := e.InitProject(context.Background(), cfg.Project.ID, "", "", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: "test-secret", AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

var asTester = map[string]string{"X-Actor-Id": "tester"}

func cleanArtifactPayload() map[string]any {
	return map[string]any{
		"lint":       map[string]any{"errors": []any{}, "warnings": []any{}},
		"coverage":   map[string]any{"measured_percentage": 92.5},
		"security":   map[string]any{"vulnerabilities": []any{}},
		"complexity": map[string]any{"functions": []any{}},
		"type_check": map[string]any{"type_errors": []any{}, "implicit_any": []any{}},
	}
}

func TestRunGatesEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/gateline/runs", map[string]any{
		"target":    map[string]any{"task_id": "t-1"},
		"artifacts": cleanArtifactPayload(),
	}, asTester)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("run status %d: %s", res.StatusCode, string(data))
	}
	var run RunResultResponse
	if err := json.Unmarshal(data, &run); err != nil {
		t.Fatalf("unmarshal run: %v", err)
	}
	if run.RunID == "" || len(run.Executions) != 5 {
		t.Fatalf("unexpected run result: %s", string(data))
	}
	if run.Blocking {
		t.Fatalf("clean run should not block: %s", string(data))
	}
	for _, exec := range run.Executions {
		if exec.Status != "passed" {
			t.Fatalf("gate %s: %s (%s)", exec.GateType, exec.Status, exec.ErrorMessage)
		}
	}

	listRes, listBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/gateline/executions", nil, asTester)
	if listRes.StatusCode != http.StatusOK {
		t.Fatalf("list executions %d: %s", listRes.StatusCode, string(listBody))
	}
	var page paginatedExecutions
	if err := json.Unmarshal(listBody, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page.Items) != 5 {
		t.Fatalf("expected 5 listed executions, got %d", len(page.Items))
	}

	execRes, execBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/executions/"+run.Executions[0].ID, nil, asTester)
	if execRes.StatusCode != http.StatusOK {
		t.Fatalf("get execution %d: %s", execRes.StatusCode, string(execBody))
	}
}

func TestGatePatchAndBlockingRun(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/projects/gateline/gates/coverage", map[string]any{
		"threshold_config": map[string]any{"min_percentage": 95},
	}, asTester)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d: %s", res.StatusCode, string(data))
	}
	var gc GateConfigResponse
	if err := json.Unmarshal(data, &gc); err != nil {
		t.Fatalf("unmarshal gate config: %v", err)
	}
	if gc.ThresholdConfig["min_percentage"].(float64) != 95 {
		t.Fatalf("threshold not updated: %v", gc.ThresholdConfig)
	}

	payload := cleanArtifactPayload()
	payload["coverage"] = map[string]any{"measured_percentage": 90}
	runRes, runBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/gateline/runs", map[string]any{
		"target":    map[string]any{"task_id": "t-1"},
		"artifacts": payload,
	}, asTester)
	if runRes.StatusCode != http.StatusCreated {
		t.Fatalf("run status %d: %s", runRes.StatusCode, string(runBody))
	}
	var run RunResultResponse
	if err := json.Unmarshal(runBody, &run); err != nil {
		t.Fatalf("unmarshal run: %v", err)
	}
	if !run.Blocking || len(run.BlockingGateIDs) != 1 || run.BlockingGateIDs[0] != gc.ID {
		t.Fatalf("expected blocking coverage gate: %s", string(runBody))
	}

	gateRes, gateBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/gateline/gates/coverage", nil, asTester)
	if gateRes.StatusCode != http.StatusOK {
		t.Fatalf("get gate %d: %s", gateRes.StatusCode, string(gateBody))
	}
	var after GateConfigResponse
	_ = json.Unmarshal(gateBody, &after)
	if after.TotalEvaluations != 1 || after.FailedEvaluations != 1 {
		t.Fatalf("counters not updated: %s", string(gateBody))
	}
	if after.LastResult == nil || *after.LastResult != "failed" {
		t.Fatalf("last_result not recorded: %s", string(gateBody))
	}
}

func TestRunInvalidTarget(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/gateline/runs", map[string]any{
		"target": map[string]any{},
	}, asTester)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty target, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/gateline/runs", map[string]any{
		"target": map[string]any{"task_id": "t-1", "task_run_id": "r-1"},
	}, asTester)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for double target, got %d: %s", res.StatusCode, string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", res.StatusCode)
	}
}

func TestDevLoginAndBearer(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "dev-user",
		"roles":    []string{"admin"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("no token in response: %s", string(data))
	}

	meRes, meBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if meRes.StatusCode != http.StatusOK {
		t.Fatalf("me %d: %s", meRes.StatusCode, string(meBody))
	}
	var me WhoAmIResponse
	if err := json.Unmarshal(meBody, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.ActorID != "dev-user" || me.Source != "jwt" {
		t.Fatalf("unexpected principal: %+v", me)
	}

	badRes, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if badRes.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", badRes.StatusCode)
	}
}

func TestAPIKeyFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/keys", map[string]any{
		"name": "ci",
	}, asTester)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key %d: %s", res.StatusCode, string(data))
	}
	var created APIKeyResponse
	if err := json.Unmarshal(data, &created); err != nil || created.Key == "" {
		t.Fatalf("raw key not returned once: %s", string(data))
	}

	meRes, meBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"X-Api-Key": created.Key,
	})
	if meRes.StatusCode != http.StatusOK {
		t.Fatalf("me with api key %d: %s", meRes.StatusCode, string(meBody))
	}
	var me WhoAmIResponse
	_ = json.Unmarshal(meBody, &me)
	if me.ActorID != "tester" || me.Source != "api_key" {
		t.Fatalf("unexpected principal: %+v", me)
	}

	listRes, listBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/keys", nil, asTester)
	if listRes.StatusCode != http.StatusOK {
		t.Fatalf("list keys %d: %s", listRes.StatusCode, string(listBody))
	}
	var keys []APIKeyResponse
	_ = json.Unmarshal(listBody, &keys)
	if len(keys) != 1 || keys[0].Key != "" {
		t.Fatalf("listing must never expose raw keys: %s", string(listBody))
	}
	if keys[0].LastUsedAt == nil || *keys[0].LastUsedAt == "" {
		t.Fatalf("key use should set last_used_at: %s", string(listBody))
	}
}

func TestDryRunCoversDisabledGates(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/gateline/runs", map[string]any{
		"target":    map[string]any{"task_run_id": "r-9"},
		"dry_run":   true,
		"artifacts": cleanArtifactPayload(),
	}, asTester)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("dry run %d: %s", res.StatusCode, string(data))
	}
	var run RunResultResponse
	if err := json.Unmarshal(data, &run); err != nil {
		t.Fatalf("unmarshal run: %v", err)
	}
	if len(run.Executions) != 7 {
		t.Fatalf("dry run should cover all gates, got %d", len(run.Executions))
	}
	skipped := 0
	for _, exec := range run.Executions {
		if exec.Status == "skipped" {
			skipped++
		}
	}
	if skipped != 2 {
		t.Fatalf("expected 2 skipped disabled gates, got %d", skipped)
	}
}

func TestGateExecutionHistoryEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	for _, pct := range []float64{92.5, 61.0} {
		payload := cleanArtifactPayload()
		payload["coverage"] = map[string]any{"measured_percentage": pct}
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/gateline/runs", map[string]any{
			"target":    map[string]any{"task_id": "t-1"},
			"artifacts": payload,
		}, asTester)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("run status %d: %s", res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/gateline/gates/coverage/executions", nil, asTester)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("gate history %d: %s", res.StatusCode, string(data))
	}
	var history []ExecutionResponse
	if err := json.Unmarshal(data, &history); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 coverage executions, got %d: %s", len(history), string(data))
	}
	statuses := map[string]int{}
	for _, exec := range history {
		if exec.GateType != "coverage" {
			t.Fatalf("history leaked other gates: %s", exec.GateType)
		}
		statuses[exec.Status]++
	}
	if statuses["passed"] != 1 || statuses["failed"] != 1 {
		t.Fatalf("expected one passed and one failed execution, got %v", statuses)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/no-such/gates/coverage/executions", nil, asTester)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown project should 404, got %d: %s", res.StatusCode, string(data))
	}
}
