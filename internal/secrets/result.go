package secrets

import "sort"

// Result is the outcome of one Scrub call.
type Result struct {
	Scrubbed      string
	Findings      []Finding
	TotalFindings int
	ByRule        map[string]int
}

// Finding locates a detected secret without carrying its value.
type Finding struct {
	RuleID      string
	Description string
	Severity    string
	StartIndex  int
	EndIndex    int
}

// HasFindings returns true if any secrets were found.
func (r *Result) HasFindings() bool {
	return r.TotalFindings > 0
}

// RuleIDs returns the matched rule IDs in sorted order.
func (r *Result) RuleIDs() []string {
	ids := make([]string, 0, len(r.ByRule))
	for id := range r.ByRule {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func newResult(content string) *Result {
	return &Result{
		Scrubbed: content,
		Findings: make([]Finding, 0),
		ByRule:   make(map[string]int),
	}
}

func (r *Result) add(f Finding) {
	r.Findings = append(r.Findings, f)
	r.ByRule[f.RuleID]++
	r.TotalFindings++
}
