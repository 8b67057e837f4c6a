// Package store provides the labeled record store that backs devcoord.
//
// Records are opaque to the store: a title, a type, free-text description,
// a label set, a metadata map and an optional parent. All coordination
// semantics live in the engine; the store only persists and lists.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Update when the record id is unknown.
var ErrNotFound = errors.New("record not found")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("store is closed")

// DefaultStatus is the status assigned to records created without one.
const DefaultStatus = "open"

// Record is one stored item.
type Record struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Type        string         `json:"type"`
	Description string         `json:"description,omitempty"`
	Status      string         `json:"status"`
	Assignee    string         `json:"assignee,omitempty"`
	ParentID    string         `json:"parent_id,omitempty"`
	Labels      []string       `json:"labels"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// HasLabel reports whether the record carries label.
func (r *Record) HasLabel(label string) bool {
	for _, l := range r.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// CreateRequest describes a new record.
type CreateRequest struct {
	Title       string
	Type        string
	Description string
	Labels      []string
	Metadata    map[string]any
	Assignee    string
	ParentID    string
	Status      string
}

// UpdateRequest describes a partial update. Nil fields are left untouched.
// Metadata and Labels, when set, replace the stored values wholesale.
type UpdateRequest struct {
	Title       *string
	Description *string
	Labels      []string
	Metadata    map[string]any
	Assignee    *string
	Status      *string
}

// Store is the record store contract.
type Store interface {
	// Init prepares the backing storage. It is safe to call repeatedly.
	Init(ctx context.Context) error

	// LoadAll returns every record in creation order.
	LoadAll(ctx context.Context) ([]Record, error)

	// Create stores a new record and returns its id.
	Create(ctx context.Context, req CreateRequest) (string, error)

	// Update applies a partial update to an existing record.
	Update(ctx context.Context, id string, req UpdateRequest) error

	// Close releases resources.
	Close() error
}

// NewID returns a short random record id.
func NewID() string {
	return "dc-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

func normalizeLabels(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

func copyMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
