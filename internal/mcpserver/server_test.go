package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/obsidian2bookstack/internal/bookstack"
	"github.com/starford/obsidian2bookstack/internal/engine"
	"github.com/starford/obsidian2bookstack/internal/syncservice"
	"github.com/starford/obsidian2bookstack/internal/testutil"
)

func testServer(t *testing.T, files map[string]string) (*Server, *testutil.FakeBookStack) {
	t.Helper()

	fake := testutil.NewFakeBookStack(t)
	_, fs := testutil.TestVault(t, files)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := bookstack.New(bookstack.Config{
		BaseURL:        fake.URL,
		TokenID:        testutil.FakeTokenID,
		TokenSecret:    testutil.FakeTokenSecret,
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		Logger:         logger,
	})
	eng := engine.New(fs, client, engine.Config{Workers: 2}, engine.WithLogger(logger))
	svc := syncservice.NewService(eng, testutil.TestLedger(t), logger)
	return New(svc, "test"), fake
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "plan_sync":
		result, err = srv.planSync(ctx, req)
	case "run_sync":
		result, err = srv.runSync(ctx, req)
	case "list_runs":
		result, err = srv.listRuns(ctx, req)
	case "get_run":
		result, err = srv.getRun(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestPlanSync(t *testing.T) {
	srv, fake := testServer(t, map[string]string{
		"Projects/Alpha.md": "[[Beta]] and [[Gamma]]",
		"Projects/Beta.md":  "b",
	})

	r := callTool(t, srv, "plan_sync", nil)
	if r.IsError {
		t.Fatalf("plan_sync error: %s", resultText(r))
	}
	text := resultText(r)
	for _, want := range []string{"create_book", "Projects/Alpha (links pending)", "warning LinkUnresolved"} {
		if !strings.Contains(text, want) {
			t.Errorf("plan output missing %q:\n%s", want, text)
		}
	}
	if fake.Mutations() != 0 {
		t.Error("plan_sync must not mutate")
	}
}

func TestRunSyncThenHistory(t *testing.T) {
	srv, fake := testServer(t, map[string]string{"Book/a.md": "hello"})

	r := callTool(t, srv, "run_sync", nil)
	if r.IsError {
		t.Fatalf("run_sync error: %s", resultText(r))
	}
	var rep engine.Report
	if err := json.Unmarshal([]byte(resultText(r)), &rep); err != nil {
		t.Fatalf("report json: %v", err)
	}
	if rep.RunID == "" || len(rep.Nodes) != 2 {
		t.Errorf("report = %+v", rep)
	}
	if _, ok := fake.Find("pages", "a"); !ok {
		t.Error("page not created")
	}

	r = callTool(t, srv, "list_runs", map[string]any{"limit": 5})
	var listed struct {
		Runs []struct {
			ID      string `json:"id"`
			Created int    `json:"created"`
		} `json:"runs"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &listed); err != nil {
		t.Fatalf("list json: %v", err)
	}
	if listed.Total != 1 || listed.Runs[0].ID != rep.RunID || listed.Runs[0].Created != 2 {
		t.Errorf("listed = %+v", listed)
	}

	r = callTool(t, srv, "get_run", map[string]any{"id": rep.RunID})
	if r.IsError || !strings.Contains(resultText(r), `"path": "Book/a"`) {
		t.Errorf("get_run = %s", resultText(r))
	}
}

func TestRunSyncReportsFailure(t *testing.T) {
	srv, fake := testServer(t, map[string]string{"Book/a.md": "hello"})
	fake.Fail(testutil.Fault{Method: "POST", Path: "/api/pages", Status: 422})

	r := callTool(t, srv, "run_sync", nil)
	if !r.IsError {
		t.Fatal("expected error result for partial failure")
	}
	if !strings.Contains(resultText(r), `"error_kind": "RemoteRejected"`) {
		t.Errorf("report = %s", resultText(r))
	}
}

func TestGetRunMissing(t *testing.T) {
	srv, _ := testServer(t, nil)
	r := callTool(t, srv, "get_run", map[string]any{"id": "nope"})
	if !r.IsError || !strings.Contains(resultText(r), "run not found") {
		t.Errorf("get_run = %s", resultText(r))
	}
}

func TestToolsRegistered(t *testing.T) {
	srv, _ := testServer(t, nil)
	tools := srv.MCPServer().ListTools()
	for _, name := range []string{"plan_sync", "run_sync", "list_runs", "get_run"} {
		if _, ok := tools[name]; !ok {
			t.Errorf("tool %s not registered", name)
		}
	}
}
