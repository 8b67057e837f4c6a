package render

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/devcoord/internal/entity"
)

// BeginMarker opens the progress block of milestone.
func BeginMarker(milestone string) string {
	return fmt.Sprintf("<!-- devcoord:begin milestone=%s -->", milestone)
}

// EndMarker closes the progress block of milestone.
func EndMarker(milestone string) string {
	return fmt.Sprintf("<!-- devcoord:end milestone=%s -->", milestone)
}

// ProgressInput carries what the progress block reports besides the index.
type ProgressInput struct {
	Date        string
	LedgerPath  string
	Coordinator string
}

// ProgressStatus is done only when the latest gate is closed with a
// passing result.
func ProgressStatus(ix *entity.Index) string {
	g := ix.LatestGate()
	if g != nil && g.State == entity.GateClosed && entity.PassingResult(g.Result) {
		return "done"
	}
	return "in_progress"
}

// ProgressBlock renders the fenced block for ix, markers included.
func ProgressBlock(ix *entity.Index, in ProgressInput) string {
	m := ix.MilestoneID
	var b strings.Builder
	b.WriteString(BeginMarker(m) + "\n")
	fmt.Fprintf(&b, "### %s %s coordination\n", in.Date, m)
	fmt.Fprintf(&b, "- Status: %s\n", ProgressStatus(ix))
	fmt.Fprintf(&b, "- Done: %s\n", progressDone(ix))
	fmt.Fprintf(&b, "- Evidence: %s\n", progressEvidence(ix, in.LedgerPath))
	fmt.Fprintf(&b, "- Next: %s\n", progressNext(ix))
	fmt.Fprintf(&b, "- Risk: %s\n", progressRisk(ix, in.Coordinator))
	b.WriteString(EndMarker(m))
	return b.String()
}

func progressDone(ix *entity.Index) string {
	var done []string
	for _, g := range ix.SortedGates() {
		if g.State != entity.GateClosed {
			continue
		}
		if g.Result != "" {
			done = append(done, fmt.Sprintf("%s (%s)", g.Gate, g.Result))
		} else {
			done = append(done, g.Gate)
		}
	}
	if len(done) == 0 {
		return "none"
	}
	return strings.Join(done, ", ")
}

func progressEvidence(ix *entity.Index, ledgerPath string) string {
	parts := []string{fmt.Sprintf("%s (%d events, latest seq %d)", ledgerPath, len(ix.Events), ix.LatestSeq())}
	if g := ix.LatestGate(); g != nil && g.ReportPath != "" {
		parts = append(parts, fmt.Sprintf("%s report %s", g.Gate, reportRef(g.ReportPath, g.ReportCommit)))
	}
	return strings.Join(parts, "; ")
}

func progressNext(ix *entity.Index) string {
	g := ix.LatestGate()
	if g == nil {
		return "open the first gate"
	}
	switch {
	case g.State == entity.GatePending:
		return fmt.Sprintf("%s awaiting ACK from %s", g.Gate, g.AllowedRole)
	case g.State == entity.GateOpen && g.Result == "":
		return fmt.Sprintf("%s awaiting review", g.Gate)
	case g.State == entity.GateOpen:
		return fmt.Sprintf("%s ready to close (render, then gate-close)", g.Gate)
	case !entity.PassingResult(g.Result):
		return fmt.Sprintf("%s closed with %s; plan remediation", g.Gate, g.Result)
	}
	return "open the next gate"
}

func progressRisk(ix *entity.Index, coordinator string) string {
	for _, g := range ix.SortedGates() {
		if entity.RiskResult(g.Result) {
			return fmt.Sprintf("%s result %s", g.Gate, strings.ToUpper(g.Result))
		}
	}
	for _, a := range ix.SortedAgents() {
		if a.StaleRisk != "" && a.StaleRisk != entity.StaleNone {
			return fmt.Sprintf("%s %s", DisplayRole(a.Role, coordinator), a.StaleRisk)
		}
	}
	return "none"
}

// UpsertBlock replaces the block delimited by the markers of milestone in
// doc, or appends block when none exists. Other milestones' blocks are
// left untouched.
func UpsertBlock(doc, milestone, block string) string {
	begin, end := BeginMarker(milestone), EndMarker(milestone)
	if i := strings.Index(doc, begin); i >= 0 {
		if j := strings.Index(doc[i:], end); j >= 0 {
			return doc[:i] + block + doc[i+j+len(end):]
		}
		// Unterminated block: replace through the end of the document.
		return doc[:i] + block + "\n"
	}

	if doc == "" {
		return block + "\n"
	}
	if !strings.HasSuffix(doc, "\n") {
		doc += "\n"
	}
	return doc + "\n" + block + "\n"
}
