// Package testutil provides in-memory doubles for the workflow's ports.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pesio-ai/be-approvals/internal/workflow"
)

// MemoryStore is a workflow.Store backed by maps. It copies requests on the
// way in and out so callers never share state with it.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[string]*workflow.Request
	audit    map[string][]*workflow.AuditEntry
	seq      int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*workflow.Request),
		audit:    make(map[string][]*workflow.AuditEntry),
	}
}

func (s *MemoryStore) Create(_ context.Context, req *workflow.Request, entry *workflow.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[req.ID]; exists {
		return fmt.Errorf("request %s already exists", req.ID)
	}
	if req.Version == 0 {
		req.Version = 1
	}
	s.requests[req.ID] = req.Clone()
	s.appendAudit(entry)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*workflow.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, workflow.NotFound(id)
	}
	return req.Clone(), nil
}

func (s *MemoryStore) Apply(_ context.Context, req *workflow.Request, expectedVersion int64, entry *workflow.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.requests[req.ID]
	if !ok {
		return workflow.NotFound(req.ID)
	}
	if current.Version != expectedVersion {
		return workflow.ConcurrentModification(req.ID, current.State)
	}
	stored := req.Clone()
	stored.Version = expectedVersion + 1
	s.requests[req.ID] = stored
	s.appendAudit(entry)
	req.Version = stored.Version
	return nil
}

func (s *MemoryStore) History(_ context.Context, requestID string) ([]*workflow.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[requestID]; !ok {
		return nil, workflow.NotFound(requestID)
	}
	entries := s.audit[requestID]
	out := make([]*workflow.AuditEntry, len(entries))
	for i, e := range entries {
		c := *e
		out[i] = &c
	}
	return out, nil
}

func (s *MemoryStore) List(_ context.Context, filter workflow.ListFilter) ([]*workflow.Request, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make(map[workflow.State]bool, len(filter.States))
	for _, st := range filter.States {
		states[st] = true
	}

	var matched []*workflow.Request
	for _, req := range s.requests {
		if filter.Kind != "" && req.Kind != filter.Kind {
			continue
		}
		if filter.OwnerID != "" && req.OwnerID != filter.OwnerID {
			continue
		}
		if len(states) > 0 && !states[req.State] {
			continue
		}
		matched = append(matched, req)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := make([]*workflow.Request, len(matched))
	for i, req := range matched {
		out[i] = req.Clone()
	}
	return out, total, nil
}

// Put seeds or overwrites a request, bypassing version checks.
func (s *MemoryStore) Put(req *workflow.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req.Clone()
}

// Touch bumps a request's version without changing anything else, the way
// an unrelated edit would.
func (s *MemoryStore) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req, ok := s.requests[id]; ok {
		req.Version++
	}
}

func (s *MemoryStore) appendAudit(entry *workflow.AuditEntry) {
	if entry == nil {
		return
	}
	s.seq++
	c := *entry
	if c.ID == "" {
		c.ID = fmt.Sprintf("audit-%d", s.seq)
		entry.ID = c.ID
	}
	s.audit[c.RequestID] = append(s.audit[c.RequestID], &c)
}

var _ workflow.Store = (*MemoryStore)(nil)
