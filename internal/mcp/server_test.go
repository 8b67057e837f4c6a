package mcp

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/devcoord/internal/coord"
	"github.com/fyrsmithlabs/devcoord/internal/lock"
	"github.com/fyrsmithlabs/devcoord/internal/render"
	"github.com/fyrsmithlabs/devcoord/internal/store"
	"github.com/fyrsmithlabs/devcoord/internal/telemetry"
)

const commit = "abc1234def5678abc1234def5678abc1234def56"

func newTestEngine(t *testing.T) *coord.Engine {
	t.Helper()
	ws := t.TempDir()
	r := render.New(render.Config{
		LogsDir:      filepath.Join(ws, "dev_docs", "logs"),
		ProgressFile: filepath.Join(ws, "dev_docs", "progress", "project_progress.md"),
		Coordinator:  coord.DefaultCoordinator,
		Workspace:    ws,
	}, time.Now)
	e, err := coord.New(store.NewMemoryStore(),
		coord.WithLocker(lock.New(filepath.Join(ws, ".devcoord", lock.FileName))),
		coord.WithRenderer(r),
		coord.WithWorkspace(ws),
		coord.WithBranchDetector(func(string) (string, error) { return "main", nil }),
	)
	require.NoError(t, err)
	return e
}

func connect(t *testing.T, cfg *Config) (*Server, *mcp.ClientSession) {
	t.Helper()
	ctx := context.Background()

	s, err := NewServer(cfg, newTestEngine(t))
	require.NoError(t, err)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := s.Connect(ctx, serverTransport)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return s, cs
}

func call(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	return res
}

func text(res *mcp.CallToolResult) string {
	var b strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func TestNewServer_RequiresEngine(t *testing.T) {
	_, err := NewServer(nil, nil)
	assert.Error(t, err)
}

func TestServer_ListTools(t *testing.T) {
	s, cs := connect(t, nil)

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.Len(t, names, s.Registry().Count())
	assert.Contains(t, names, "coord_open_gate")
	assert.Contains(t, names, "coord_gate_close")
	assert.Contains(t, names, "coord_apply")
	assert.Len(t, s.Registry().ListByCategory(CategoryWatchdog), 4)
}

func TestServer_GateFlow(t *testing.T) {
	_, cs := connect(t, nil)

	res := call(t, cs, "coord_init", map[string]any{"milestone": "m7", "roles": []string{"pm", "backend"}})
	require.False(t, res.IsError, text(res))

	res = call(t, cs, "coord_open_gate", map[string]any{
		"milestone":     "m7",
		"phase":         "backend",
		"gate_id":       "g1",
		"allowed_role":  "backend",
		"target_commit": commit,
	})
	require.False(t, res.IsError, text(res))

	res = call(t, cs, "coord_ack", map[string]any{
		"milestone": "m7",
		"role":      "backend",
		"command":   "GATE_OPEN",
		"gate_id":   "g1",
		"commit":    commit,
	})
	require.False(t, res.IsError, text(res))

	res = call(t, cs, "coord_audit", map[string]any{"milestone": "m7"})
	require.False(t, res.IsError, text(res))
	assert.Contains(t, text(res), "reconciled=false")

	res = call(t, cs, "coord_render", map[string]any{"milestone": "m7"})
	require.False(t, res.IsError, text(res))

	res = call(t, cs, "coord_audit", map[string]any{"milestone": "m7"})
	assert.Contains(t, text(res), "reconciled=true")
}

func TestServer_ErrorsCarryCode(t *testing.T) {
	_, cs := connect(t, nil)

	res := call(t, cs, "coord_ack", map[string]any{
		"milestone": "m7",
		"role":      "backend",
		"command":   "GATE_OPEN",
		"gate_id":   "g1",
		"commit":    commit,
	})
	require.True(t, res.IsError)
	assert.Contains(t, text(res), "[missing_entity]")
}

func TestServer_Apply(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	cfg := DefaultConfig()
	cfg.MeterProvider = tel.MeterProvider()
	_, cs := connect(t, cfg)

	res := call(t, cs, "coord_apply", map[string]any{
		"payload": `{"action":"init","milestone":"m7","roles":["pm","backend"]}`,
	})
	require.False(t, res.IsError, text(res))

	res = call(t, cs, "coord_apply", map[string]any{"payload": `{"action":"launch"}`})
	require.True(t, res.IsError)
	assert.Contains(t, text(res), "[malformed_payload]")

	assert.Equal(t, int64(2), tel.CounterValue(t, "devcoord.mcp.tool.invocations_total"))
	assert.Equal(t, int64(1), tel.CounterValue(t, "devcoord.mcp.tool.errors_total"))
}

func TestServer_SearchTools(t *testing.T) {
	_, cs := connect(t, nil)

	res := call(t, cs, "coord_tools", map[string]any{"query": "stale"})
	require.False(t, res.IsError, text(res))
	assert.Equal(t, "1 tools", text(res))

	res = call(t, cs, "coord_tools", map[string]any{"category": "projection"})
	assert.Equal(t, "2 tools", text(res))
}

func TestToolRegistry_Search(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&ToolMetadata{Name: "coord_ping", Description: "Ping a role", Keywords: []string{"liveness"}})
	r.Register(&ToolMetadata{Name: "coord_ack", Description: "Acknowledge a ping"})
	r.Register(&ToolMetadata{Name: "coord_render", Description: "Rebuild projections", Keywords: []string{"ledger"}})
	r.Register(nil)

	results := r.Search("ping")
	require.Len(t, results, 2)
	assert.Equal(t, "coord_ping", results[0].Tool.Name)
	assert.Equal(t, 2, results[0].Score)
	assert.Equal(t, "coord_ack", results[1].Tool.Name)
	assert.Equal(t, "description match", results[1].MatchReason)

	results = r.Search("COORD_ACK")
	require.Len(t, results, 1)
	assert.Equal(t, 3, results[0].Score)

	results = r.Search("LEDGER")
	require.Len(t, results, 1)
	assert.Equal(t, "keyword match", results[0].MatchReason)

	assert.Empty(t, r.Search(""))
	assert.Equal(t, 3, r.Count())
}
