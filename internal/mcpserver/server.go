// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes sync tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/obsidian2bookstack/internal/engine"
	"github.com/starford/obsidian2bookstack/internal/ledger"
)

const mappingURI = "o2b://mapping-rules"

// Service is the sync surface exposed as tools.
type Service interface {
	Plan(ctx context.Context) (*engine.Plan, *engine.Report, error)
	Sync(ctx context.Context) (*engine.Report, error)
	History(ctx context.Context, limit, offset int) ([]ledger.Run, int, error)
	RunDetail(ctx context.Context, id string) (*ledger.Record, error)
}

// Server wraps the MCP server with sync tools.
type Server struct {
	mcp *server.MCPServer
	svc Service
}

// New creates a new MCP server with all tools registered.
func New(svc Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"obsidian2bookstack",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("plan_sync",
		mcp.WithDescription("Compute what a sync would change in the wiki without changing anything. "+
			"Returns one line per create/update operation followed by warnings."),
	), s.planSync)

	s.mcp.AddTool(mcp.NewTool("run_sync",
		mcp.WithDescription("Push the vault into the wiki. Returns the run report as JSON. "+
			"Call plan_sync first to review the changes."),
	), s.runSync)

	s.mcp.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List recorded sync runs, newest first."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 20)")),
		mcp.WithNumber("offset", mcp.Description("Number of runs to skip")),
	), s.listRuns)

	s.mcp.AddTool(mcp.NewTool("get_run",
		mcp.WithDescription("Return one recorded run with per-node results and warnings."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Run ID as returned by list_runs")),
	), s.getRun)

	s.mcp.AddResource(
		mcp.NewResource(mappingURI, "Vault mapping rules",
			mcp.WithResourceDescription("How vault folders, notes and links map onto shelves, books, chapters and pages."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readMappingResource,
	)

	return s
}

// Serve runs the MCP stdio transport on in/out until ctx is cancelled or in
// is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) planSync(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	plan, rep, err := s.svc.Plan(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	if !plan.Changes() {
		b.WriteString("no changes\n")
	}
	_, _ = plan.WriteTo(&b)
	if n := plan.Counts()[engine.Skip]; n > 0 {
		fmt.Fprintf(&b, "unchanged: %d\n", n)
	}
	for _, w := range rep.Warnings {
		fmt.Fprintf(&b, "warning %s: %s\n", w.Kind, w.Message)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) runSync(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rep, err := s.svc.Sync(ctx)
	if rep == nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(rep, "", "  ")
	if err != nil || rep.ExitCode() != 0 {
		res := mcp.NewToolResultText(string(out))
		res.IsError = true
		return res, nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runs, total, err := s.svc.History(ctx, req.GetInt("limit", 20), req.GetInt("offset", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if runs == nil {
		runs = []ledger.Run{}
	}
	out, _ := json.MarshalIndent(map[string]any{"runs": runs, "total": total}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.svc.RunDetail(ctx, id)
	if errors.Is(err, ledger.ErrRunNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("run not found: %s", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(rec, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readMappingResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      mappingURI,
			MIMEType: "text/markdown",
			Text:     MappingContract,
		},
	}, nil
}
