package render

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/devcoord/internal/entity"
)

var (
	gateColumns     = []string{"Gate", "Phase", "Status", "Result", "Opened At", "Closed At", "Target Commit", "Report"}
	watchdogColumns = []string{"Role", "State", "Last Activity", "Current Task", "Stale Risk", "Action"}
)

// GateTable renders one row per gate, ordered by phase then gate id.
func GateTable(ix *entity.Index) string {
	var rows [][]string
	for _, g := range ix.SortedGates() {
		rows = append(rows, []string{
			g.Gate,
			g.Phase,
			string(g.State),
			g.Result,
			g.OpenedAt,
			g.ClosedAt,
			g.TargetCommit,
			reportRef(g.ReportPath, g.ReportCommit),
		})
	}
	return document(fmt.Sprintf("Gate State: %s", ix.MilestoneID), gateColumns, rows)
}

// WatchdogTable renders one row per non-coordinator agent, or every agent
// when the coordinator is the only one.
func WatchdogTable(ix *entity.Index, coordinator string) string {
	agents := ix.SortedAgents()
	var workers []*entity.Agent
	for _, a := range agents {
		if a.Role != coordinator {
			workers = append(workers, a)
		}
	}
	if len(workers) == 0 {
		workers = agents
	}

	var rows [][]string
	for _, a := range workers {
		rows = append(rows, []string{
			DisplayRole(a.Role, coordinator),
			string(a.State),
			a.LastActivity,
			a.CurrentTask,
			string(a.StaleRisk),
			a.NextAction,
		})
	}
	return document(fmt.Sprintf("Watchdog Status: %s", ix.MilestoneID), watchdogColumns, rows)
}

func reportRef(path, commit string) string {
	switch {
	case path != "" && commit != "":
		return path + "@" + commit
	case path != "":
		return path
	}
	return ""
}

func document(title string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	writeRow(&b, columns)
	sep := make([]string, len(columns))
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(&b, sep)
	for _, row := range rows {
		writeRow(&b, row)
	}
	return b.String()
}

func writeRow(b *strings.Builder, cells []string) {
	b.WriteString("|")
	for _, c := range cells {
		b.WriteString(" ")
		b.WriteString(escapeCell(c))
		b.WriteString(" |")
	}
	b.WriteString("\n")
}

var cellReplacer = strings.NewReplacer("|", `\|`, "\r\n", " ", "\n", " ", "\r", " ")

func escapeCell(s string) string {
	return cellReplacer.Replace(strings.TrimSpace(s))
}
