package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Records live only as long as the
// value; it is used by tests and by the "memory" backend for dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	index   map[string]int
	closed  bool
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		index: make(map[string]int),
		now:   time.Now,
	}
}

// Init is a no-op.
func (m *MemoryStore) Init(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// LoadAll returns copies of every record in creation order.
func (m *MemoryStore) LoadAll(ctx context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]Record, len(m.records))
	for i, rec := range m.records {
		out[i] = cloneRecord(rec)
	}
	return out, nil
}

// Create stores a new record.
func (m *MemoryStore) Create(ctx context.Context, req CreateRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	if req.Type == "" {
		req.Type = "task"
	}
	if req.Status == "" {
		req.Status = DefaultStatus
	}

	now := m.now().UTC()
	rec := Record{
		ID:          NewID(),
		Title:       req.Title,
		Type:        req.Type,
		Description: req.Description,
		Status:      req.Status,
		Assignee:    req.Assignee,
		ParentID:    req.ParentID,
		Labels:      sortedLabels(req.Labels),
		Metadata:    copyMetadata(req.Metadata),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.index[rec.ID] = len(m.records)
	m.records = append(m.records, rec)
	return rec.ID, nil
}

// Update applies the set fields of req.
func (m *MemoryStore) Update(ctx context.Context, id string, req UpdateRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	i, ok := m.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec := &m.records[i]
	if req.Title != nil {
		rec.Title = *req.Title
	}
	if req.Description != nil {
		rec.Description = *req.Description
	}
	if req.Assignee != nil {
		rec.Assignee = *req.Assignee
	}
	if req.Status != nil {
		rec.Status = *req.Status
	}
	if req.Labels != nil {
		rec.Labels = sortedLabels(req.Labels)
	}
	if req.Metadata != nil {
		rec.Metadata = copyMetadata(req.Metadata)
	}
	rec.UpdatedAt = m.now().UTC()
	return nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func sortedLabels(labels []string) []string {
	out := normalizeLabels(labels)
	sort.Strings(out)
	return out
}

func cloneRecord(rec Record) Record {
	rec.Labels = append([]string(nil), rec.Labels...)
	rec.Metadata = copyMetadata(rec.Metadata)
	return rec
}
