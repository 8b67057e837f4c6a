package render

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/devcoord/internal/entity"
)

func fixtureIndex() *entity.Index {
	return &entity.Index{
		MilestoneID: "m7",
		Milestone:   &entity.Milestone{Milestone: "m7", RunDate: "2026-10-19"},
		Gates: []*entity.Gate{
			{Gate: "G2", Phase: "2", State: entity.GatePending, AllowedRole: "backend", TargetCommit: "def5678"},
			{Gate: "G1", Phase: "1", State: entity.GateClosed, Result: "PASS_WITH_RISK",
				ReportPath: "docs/g1.md", ReportCommit: "abc1234", OpenedAt: "2026-10-19T10:00:00Z",
				ClosedAt: "2026-10-19T12:00:00Z", TargetCommit: "abc1234"},
		},
		Agents: []*entity.Agent{
			{Role: "tester", State: entity.AgentDone, StaleRisk: entity.StaleNone},
			{Role: "pm", State: entity.AgentIdle, StaleRisk: entity.StaleNone},
			{Role: "backend", State: entity.AgentSpawning, CurrentTask: "build | ship", StaleRisk: entity.StaleSuspected,
				NextAction: "awaiting ACK"},
		},
		Events: []*entity.Event{
			{Milestone: "m7", Seq: 1, TS: "2026-10-19T10:00:00Z", Type: entity.EventGateOpenSent, Role: "pm",
				Phase: "1", Status: "pending_ack", Task: "open G1", Gate: "G1", AllowedRole: "backend"},
			{Milestone: "m7", Seq: 2, TS: "2026-10-19T10:01:00Z", Type: entity.EventAck, Role: "backend",
				Phase: "1", Status: "acked", Task: "ack", Gate: "G1", AckOf: "GATE_OPEN", MessageID: "dc-1"},
		},
	}
}

func TestEncodeLedger(t *testing.T) {
	ix := fixtureIndex()
	data, err := EncodeLedger(ix.Events, "pm")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t,
		`{"event_seq":1,"ts":"2026-10-19T10:00:00Z","milestone":"m7","event":"GATE_OPEN_SENT","role":"PM","phase":"1","status":"pending_ack","task":"open G1","gate":"G1","allowed_role":"backend"}`,
		lines[0])
	assert.NotContains(t, lines[1], "null")
	assert.NotContains(t, lines[1], "ping_count")
	assert.Contains(t, lines[1], `"role":"backend"`)

	ix.Events[1].Task = "fix a<b && c>d"
	data, err = EncodeLedger(ix.Events, "pm")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"task":"fix a<b && c>d"`)
	assert.NotContains(t, string(data), `\u003c`)

	empty, err := EncodeLedger(nil, "pm")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestReadLedgerStats(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, LedgerFile)

	stats, err := ReadLedgerStats(path)
	require.NoError(t, err)
	assert.False(t, stats.Exists)

	data, err := EncodeLedger(fixtureIndex().Events, "pm")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	stats, err = ReadLedgerStats(path)
	require.NoError(t, err)
	assert.True(t, stats.Exists)
	assert.Equal(t, 2, stats.Lines)
	assert.Equal(t, 2, stats.LatestSeq)
}

func TestGateTable(t *testing.T) {
	out := GateTable(fixtureIndex())
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "# Gate State: m7", lines[0])
	assert.Equal(t, "| Gate | Phase | Status | Result | Opened At | Closed At | Target Commit | Report |", lines[2])
	assert.Equal(t, "| G1 | 1 | closed | PASS_WITH_RISK | 2026-10-19T10:00:00Z | 2026-10-19T12:00:00Z | abc1234 | docs/g1.md@abc1234 |", lines[4])
	assert.Equal(t, "| G2 | 2 | pending |  |  |  | def5678 |  |", lines[5])
}

func TestWatchdogTable(t *testing.T) {
	out := WatchdogTable(fixtureIndex(), "pm")
	assert.Contains(t, out, "| Role | State | Last Activity | Current Task | Stale Risk | Action |")
	assert.Contains(t, out, `| backend | spawning |  | build \| ship | suspected_stale | awaiting ACK |`)
	assert.Contains(t, out, "| tester | done |  |  | none |  |")
	assert.NotContains(t, out, "| PM |")

	onlyPM := &entity.Index{MilestoneID: "m7", Agents: []*entity.Agent{{Role: "pm", State: entity.AgentIdle, StaleRisk: entity.StaleNone}}}
	assert.Contains(t, WatchdogTable(onlyPM, "pm"), "| PM | idle |  |  | none |  |")
}

func TestProgressBlock(t *testing.T) {
	ix := fixtureIndex()
	block := ProgressBlock(ix, ProgressInput{Date: "2026-10-19", LedgerPath: "dev_docs/logs/m7/heartbeat_events.jsonl", Coordinator: "pm"})

	want := strings.Join([]string{
		"<!-- devcoord:begin milestone=m7 -->",
		"### 2026-10-19 m7 coordination",
		"- Status: in_progress",
		"- Done: G1 (PASS_WITH_RISK)",
		"- Evidence: dev_docs/logs/m7/heartbeat_events.jsonl (2 events, latest seq 2)",
		"- Next: G2 awaiting ACK from backend",
		"- Risk: G1 result PASS_WITH_RISK",
		"<!-- devcoord:end milestone=m7 -->",
	}, "\n")
	assert.Equal(t, want, block)
}

func TestProgressStatusAndRisk(t *testing.T) {
	ix := &entity.Index{
		MilestoneID: "m7",
		Gates:       []*entity.Gate{{Gate: "G1", Phase: "1", State: entity.GateClosed, Result: "PASS"}},
		Agents:      []*entity.Agent{{Role: "backend", StaleRisk: entity.StaleSuspected}},
	}
	assert.Equal(t, "done", ProgressStatus(ix))
	assert.Equal(t, "backend suspected_stale", progressRisk(ix, "pm"))
	assert.Equal(t, "open the next gate", progressNext(ix))

	ix.Gates[0].Result = "FAIL"
	assert.Equal(t, "in_progress", ProgressStatus(ix))
	assert.Equal(t, "G1 result FAIL", progressRisk(ix, "pm"))

	ix.Agents[0].StaleRisk = entity.StaleNone
	ix.Gates[0].Result = "PASS"
	assert.Equal(t, "none", progressRisk(ix, "pm"))
}

func TestUpsertBlock(t *testing.T) {
	blockA1 := BeginMarker("m6") + "\nold m6\n" + EndMarker("m6")
	blockB1 := BeginMarker("m7") + "\nold m7\n" + EndMarker("m7")
	doc := "# Progress\n\n" + blockA1 + "\n\n" + blockB1 + "\n\ntrailer\n"

	blockB2 := BeginMarker("m7") + "\nnew m7\n" + EndMarker("m7")
	out := UpsertBlock(doc, "m7", blockB2)
	assert.Contains(t, out, "old m6")
	assert.Contains(t, out, "new m7")
	assert.NotContains(t, out, "old m7")
	assert.True(t, strings.HasSuffix(out, "\n\ntrailer\n"))
	assert.Equal(t, out, UpsertBlock(out, "m7", blockB2), "upsert is idempotent")

	blockC := BeginMarker("m8") + "\nm8\n" + EndMarker("m8")
	appended := UpsertBlock("# Progress", "m8", blockC)
	assert.Equal(t, "# Progress\n\n"+blockC+"\n", appended)

	assert.Equal(t, blockC+"\n", UpsertBlock("", "m8", blockC))
}

func TestRenderer_Render(t *testing.T) {
	ws := t.TempDir()
	r := New(Config{
		LogsDir:         filepath.Join(ws, "dev_docs", "logs"),
		ProgressFile:    filepath.Join(ws, "dev_docs", "progress", "project_progress.md"),
		Coordinator:     "pm",
		MetricsTextfile: true,
		Workspace:       ws,
	}, func() time.Time { return time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC) })

	ix := fixtureIndex()
	sum, err := r.Render(ix)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Events)
	assert.Equal(t, "in_progress", sum.Status)

	stats, err := ReadLedgerStats(sum.LedgerPath)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Lines)

	gates, err := os.ReadFile(sum.GatePath)
	require.NoError(t, err)
	assert.Contains(t, string(gates), "| G1 | 1 | closed |")

	progress, err := os.ReadFile(sum.ProgressPath)
	require.NoError(t, err)
	assert.Contains(t, string(progress), "dev_docs/logs/m7/heartbeat_events.jsonl (2 events, latest seq 2)")

	metrics, err := os.ReadFile(sum.MetricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `devcoord_events{milestone="m7"} 2`)
	assert.Contains(t, string(metrics), `devcoord_gates{milestone="m7",state="closed"} 1`)
	assert.Contains(t, string(metrics), `devcoord_agents{milestone="m7",state="dead"} 0`)

	// Rendering again rebuilds rather than appends.
	ix.Events = ix.Events[:1]
	_, err = r.Render(ix)
	require.NoError(t, err)
	stats, err = ReadLedgerStats(sum.LedgerPath)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Lines)

	progress, err = os.ReadFile(sum.ProgressPath)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(progress), BeginMarker("m7")))
}

func TestWatcher_RerendersOnChange(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32

	w, err := NewWatcher([]string{dir}, []string{"devcoord.lock"}, 20*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return nil
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "devcoord.db"), []byte("x"), 0o644))
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
