package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivellm/rulebook-sub008/internal/config"
	"github.com/hivellm/rulebook-sub008/internal/ralph"
	"github.com/hivellm/rulebook-sub008/internal/storage"
	"github.com/hivellm/rulebook-sub008/internal/tasks"
)

func request(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return tc.Text
}

func newTestHandlers(t *testing.T) (*handlers, string) {
	t.Helper()
	root := t.TempDir()
	return newHandlers(root, config.Default()), root
}

func TestToolsRegistered(t *testing.T) {
	h, _ := newTestHandlers(t)
	var names []string
	for _, td := range h.tools() {
		names = append(names, td.tool.Name)
	}
	assert.Equal(t, []string{
		"rulebook_task_create",
		"rulebook_task_list",
		"rulebook_task_show",
		"rulebook_task_update",
		"rulebook_task_validate",
		"rulebook_task_archive",
		"rulebook_ralph_status",
	}, names)

	assert.NotNil(t, New(t.TempDir(), config.Default(), "test"))
}

func TestTaskLifecycle(t *testing.T) {
	h, _ := newTestHandlers(t)
	ctx := context.Background()

	res, err := h.taskCreate(ctx, request("rulebook_task_create", map[string]any{
		"id": "add-login", "title": "Add login", "modules": "auth, api",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	var created tasks.Task
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &created))
	assert.Equal(t, "add-login", created.ID)
	assert.Equal(t, tasks.StatusPending, created.Status)
	assert.ElementsMatch(t, []string{"auth", "api"}, created.Specs)

	res, err = h.taskCreate(ctx, request("rulebook_task_create", map[string]any{"id": "add-login"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = h.taskUpdate(ctx, request("rulebook_task_update", map[string]any{"id": "add-login", "status": "in-progress"}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	assert.Contains(t, text(t, res), `"status": "in_progress"`)

	res, err = h.taskList(ctx, request("rulebook_task_list", nil))
	require.NoError(t, err)
	var list []tasks.Task
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &list))
	require.Len(t, list, 1)

	res, err = h.taskShow(ctx, request("rulebook_task_show", map[string]any{"id": "add-login"}))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), `"proposal"`)

	res, err = h.taskValidate(ctx, request("rulebook_task_validate", map[string]any{"id": "add-login"}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, text(t, res), `"valid"`)

	res, err = h.taskArchive(ctx, request("rulebook_task_archive", map[string]any{"id": "add-login", "force": true}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	assert.Contains(t, text(t, res), "archivedTo")

	res, err = h.taskList(ctx, request("rulebook_task_list", map[string]any{"include_archived": false}))
	require.NoError(t, err)
	assert.JSONEq(t, "[]", text(t, res))
}

func TestTaskErrors(t *testing.T) {
	h, _ := newTestHandlers(t)
	ctx := context.Background()

	res, err := h.taskShow(ctx, request("rulebook_task_show", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = h.taskShow(ctx, request("rulebook_task_show", map[string]any{"id": "missing"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = h.taskUpdate(ctx, request("rulebook_task_update", map[string]any{"id": "missing", "status": "sideways"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "invalid task status")
}

func TestRalphStatus(t *testing.T) {
	h, root := newTestHandlers(t)
	ctx := context.Background()

	res, err := h.ralphStatus(ctx, request("rulebook_ralph_status", nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "ralph init")

	store := storage.ForProject(root)
	require.NoError(t, store.Init())
	require.NoError(t, ralph.SavePRD(store.PRDPath(), &ralph.PRD{
		Project:     "demo",
		UserStories: []ralph.Story{{ID: "US-001", Title: "Login", Priority: 1, Status: ralph.StatusPending}},
	}))

	res, err = h.ralphStatus(ctx, request("rulebook_ralph_status", nil))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	var report ralph.StatusReport
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &report))
	assert.Equal(t, "demo", report.Project)
	assert.Equal(t, 1, report.Summary.Pending)
	require.NotNil(t, report.Next)
	assert.Equal(t, "US-001", report.Next.ID)
}
