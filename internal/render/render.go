// Package render derives the human-readable projections of a milestone:
// the JSONL event ledger, the gate-state and watchdog tables, the fenced
// block in the cumulative progress document and, optionally, a Prometheus
// textfile. Every artifact is rebuilt from the entity index; nothing is
// appended.
package render

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/devcoord/internal/entity"
)

// Artifact file names inside the per-milestone log directory.
const (
	LedgerFile   = "heartbeat_events.jsonl"
	GateFile     = "gate_state.md"
	WatchdogFile = "watchdog_status.md"
	MetricsFile  = "metrics.prom"
)

// Config locates the rendered artifacts.
type Config struct {
	// LogsDir holds one subdirectory per milestone.
	LogsDir string

	// ProgressFile is the cumulative progress document.
	ProgressFile string

	// Coordinator is the role rendered as an upper-case label.
	Coordinator string

	// MetricsTextfile enables metrics.prom.
	MetricsTextfile bool

	// Workspace, when set, makes paths in the progress block relative.
	Workspace string
}

// Renderer writes projections.
type Renderer struct {
	cfg Config
	now func() time.Time
}

// New returns a Renderer. now supplies the date used when a milestone has
// no run date.
func New(cfg Config, now func() time.Time) *Renderer {
	if now == nil {
		now = time.Now
	}
	return &Renderer{cfg: cfg, now: now}
}

// Summary reports what a render wrote.
type Summary struct {
	Milestone    string `json:"milestone"`
	Events       int    `json:"events"`
	LatestSeq    int    `json:"latest_seq"`
	LedgerPath   string `json:"ledger_path"`
	GatePath     string `json:"gate_path"`
	WatchdogPath string `json:"watchdog_path"`
	ProgressPath string `json:"progress_path"`
	MetricsPath  string `json:"metrics_path,omitempty"`
	Status       string `json:"status"`
}

// Dir returns the per-milestone log directory.
func (r *Renderer) Dir(milestone string) string {
	return filepath.Join(r.cfg.LogsDir, milestone)
}

// LedgerPath returns the ledger file of milestone.
func (r *Renderer) LedgerPath(milestone string) string {
	return filepath.Join(r.Dir(milestone), LedgerFile)
}

// Render rebuilds every artifact for ix.
func (r *Renderer) Render(ix *entity.Index) (*Summary, error) {
	m := ix.MilestoneID
	dir := r.Dir(m)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}

	sum := &Summary{
		Milestone:    m,
		Events:       len(ix.Events),
		LatestSeq:    ix.LatestSeq(),
		LedgerPath:   r.LedgerPath(m),
		GatePath:     filepath.Join(dir, GateFile),
		WatchdogPath: filepath.Join(dir, WatchdogFile),
		ProgressPath: r.cfg.ProgressFile,
		Status:       ProgressStatus(ix),
	}

	ledger, err := EncodeLedger(ix.Events, r.cfg.Coordinator)
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(sum.LedgerPath, ledger); err != nil {
		return nil, fmt.Errorf("writing ledger: %w", err)
	}
	if err := writeFileAtomic(sum.GatePath, []byte(GateTable(ix))); err != nil {
		return nil, fmt.Errorf("writing gate table: %w", err)
	}
	if err := writeFileAtomic(sum.WatchdogPath, []byte(WatchdogTable(ix, r.cfg.Coordinator))); err != nil {
		return nil, fmt.Errorf("writing watchdog table: %w", err)
	}
	if err := r.upsertProgress(ix, sum.LedgerPath); err != nil {
		return nil, err
	}
	if r.cfg.MetricsTextfile {
		sum.MetricsPath = filepath.Join(dir, MetricsFile)
		if err := WriteMetrics(sum.MetricsPath, ix); err != nil {
			return nil, err
		}
	}
	return sum, nil
}

func (r *Renderer) upsertProgress(ix *entity.Index, ledgerPath string) error {
	if r.cfg.ProgressFile == "" {
		return nil
	}
	doc, err := os.ReadFile(r.cfg.ProgressFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading progress document: %w", err)
	}

	date := r.now().UTC().Format("2006-01-02")
	if ix.Milestone != nil && ix.Milestone.RunDate != "" {
		date = ix.Milestone.RunDate
	}
	block := ProgressBlock(ix, ProgressInput{
		Date:        date,
		LedgerPath:  r.relative(ledgerPath),
		Coordinator: r.cfg.Coordinator,
	})

	if err := os.MkdirAll(filepath.Dir(r.cfg.ProgressFile), 0o755); err != nil {
		return fmt.Errorf("creating progress dir: %w", err)
	}
	out := UpsertBlock(string(doc), ix.MilestoneID, block)
	if err := writeFileAtomic(r.cfg.ProgressFile, []byte(out)); err != nil {
		return fmt.Errorf("writing progress document: %w", err)
	}
	return nil
}

func (r *Renderer) relative(p string) string {
	if r.cfg.Workspace == "" {
		return filepath.ToSlash(p)
	}
	rel, err := filepath.Rel(r.cfg.Workspace, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}

// writeFileAtomic replaces path with data via a temp file in the same
// directory.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}
