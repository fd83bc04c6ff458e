// Package mcpserver exposes task management and Ralph status as MCP tools
// served over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hivellm/rulebook-sub008/internal/config"
	"github.com/hivellm/rulebook-sub008/internal/ralph"
	"github.com/hivellm/rulebook-sub008/internal/storage"
	"github.com/hivellm/rulebook-sub008/internal/tasks"
)

// Name is the server name announced during the MCP handshake.
const Name = "rulebook"

// handlers holds the project the tools operate on.
type handlers struct {
	cfg   *config.Config
	tasks *tasks.Manager
	store *storage.FileStorage
}

func newHandlers(root string, cfg *config.Config) *handlers {
	return &handlers{
		cfg:   cfg,
		tasks: tasks.NewManager(root, cfg.TasksDir),
		store: storage.ForProject(root),
	}
}

// New builds the MCP server for the project at root with every tool
// registered.
func New(root string, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		Name,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions()),
	)

	h := newHandlers(root, cfg)
	for _, t := range h.tools() {
		s.AddTool(t.tool, t.handler)
	}
	return s
}

// Serve runs the server on stdin/stdout until the client disconnects.
func Serve(root string, cfg *config.Config, version string) error {
	return server.ServeStdio(New(root, cfg, version))
}

type toolDef struct {
	tool    mcp.Tool
	handler server.ToolHandlerFunc
}

func (h *handlers) tools() []toolDef {
	statuses := make([]string, 0, len(tasks.Statuses()))
	for _, s := range tasks.Statuses() {
		statuses = append(statuses, string(s))
	}

	return []toolDef{
		{
			tool: mcp.NewTool("rulebook_task_create",
				mcp.WithDescription("Create a task directory with proposal.md, tasks.md and spec deltas."),
				mcp.WithString("id", mcp.Required(), mcp.Description("Kebab-case task id, e.g. add-login-form")),
				mcp.WithString("title", mcp.Description("Human-readable title")),
				mcp.WithString("modules", mcp.Description("Comma-separated module names that get a spec delta")),
			),
			handler: h.taskCreate,
		},
		{
			tool: mcp.NewTool("rulebook_task_list",
				mcp.WithDescription("List tasks with status and checklist progress."),
				mcp.WithBoolean("include_archived", mcp.Description("Include archived tasks")),
			),
			handler: h.taskList,
		},
		{
			tool: mcp.NewTool("rulebook_task_show",
				mcp.WithDescription("Show a task's proposal, checklist and spec deltas."),
				mcp.WithString("id", mcp.Required(), mcp.Description("Task id")),
			),
			handler: h.taskShow,
		},
		{
			tool: mcp.NewTool("rulebook_task_update",
				mcp.WithDescription("Set a task's status."),
				mcp.WithString("id", mcp.Required(), mcp.Description("Task id")),
				mcp.WithString("status", mcp.Required(), mcp.Description("New status"), mcp.Enum(statuses...)),
			),
			handler: h.taskUpdate,
		},
		{
			tool: mcp.NewTool("rulebook_task_validate",
				mcp.WithDescription("Validate a task's proposal, checklist and spec deltas."),
				mcp.WithString("id", mcp.Required(), mcp.Description("Task id")),
			),
			handler: h.taskValidate,
		},
		{
			tool: mcp.NewTool("rulebook_task_archive",
				mcp.WithDescription("Move a task to the dated archive."),
				mcp.WithString("id", mcp.Required(), mcp.Description("Task id")),
				mcp.WithBoolean("force", mcp.Description("Archive even if validation fails")),
			),
			handler: h.taskArchive,
		},
		{
			tool: mcp.NewTool("rulebook_ralph_status",
				mcp.WithDescription("Report the Ralph loop state and backlog summary."),
			),
			handler: h.ralphStatus,
		},
	}
}

func (h *handlers) taskCreate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts := tasks.CreateOptions{Title: req.GetString("title", "")}
	for _, m := range strings.Split(req.GetString("modules", ""), ",") {
		if m = strings.TrimSpace(m); m != "" {
			opts.Modules = append(opts.Modules, m)
		}
	}

	task, err := h.tasks.Create(id, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("create %s: %v", id, err)), nil
	}
	return jsonResult(task)
}

func (h *handlers) taskList(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := h.tasks.List(req.GetBool("include_archived", false))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if list == nil {
		list = []tasks.Task{}
	}
	return jsonResult(list)
}

func (h *handlers) taskShow(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := h.tasks.Show(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(d)
}

func (h *handlers) taskUpdate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := req.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	status, err := tasks.ParseStatus(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := h.tasks.SetStatus(id, status); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := h.tasks.Show(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(d.Task)
}

func (h *handlers) taskValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := h.tasks.Validate(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (h *handlers) taskArchive(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dest, err := h.tasks.Archive(id, req.GetBool("force", false))
	if err != nil {
		if errors.Is(err, tasks.ErrValidationFailed) {
			return mcp.NewToolResultError(err.Error() + " (pass force=true to archive anyway)"), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]string{"id": id, "archivedTo": dest})
}

func (h *handlers) ralphStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := ralph.Status(h.store, h.cfg.Ralph.MaxFailures)
	if err != nil {
		if errors.Is(err, ralph.ErrNoPRD) {
			return mcp.NewToolResultError("no Ralph backlog; run `rulebook ralph init` first"), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(report)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func instructions() string {
	return `rulebook manages spec-driven tasks for this project.

Use rulebook_task_create before starting new work, keep tasks.md checkboxes
current while implementing, and run rulebook_task_validate before
rulebook_task_archive. rulebook_ralph_status reports the autonomous loop's
backlog.`
}
