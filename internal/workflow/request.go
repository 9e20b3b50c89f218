package workflow

import (
	"context"
	"time"
)

// Request is a unit of work routed through a definition's stages.
type Request struct {
	ID          string        `json:"id"`
	Kind        string        `json:"kind"`
	Title       string        `json:"title"`
	Category    string        `json:"category"`
	Amount      int64         `json:"amount"` // centavos
	Description string        `json:"description"`
	State       State         `json:"state"`
	Remarks     string        `json:"remarks"`
	SkipNext    bool          `json:"skip_next"`
	OwnerID     string        `json:"owner_id"`
	Stages      []StageRecord `json:"stages"` // index i is stage i+1
	Version     int64         `json:"version"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// StageRecord is the provenance of one stage: who acted and when.
// A zero record means the stage has not been passed (or was skipped).
type StageRecord struct {
	Actor string     `json:"actor,omitempty"`
	At    *time.Time `json:"at,omitempty"`
	Note  string     `json:"note,omitempty"`
}

// Passed reports whether someone acted on the stage.
func (r StageRecord) Passed() bool {
	return r.Actor != "" && r.At != nil
}

// Clone returns a deep copy.
func (r *Request) Clone() *Request {
	c := *r
	c.Stages = make([]StageRecord, len(r.Stages))
	for i, s := range r.Stages {
		c.Stages[i] = s
		if s.At != nil {
			at := *s.At
			c.Stages[i].At = &at
		}
	}
	return &c
}

// AuditEntry is one immutable record of a transition.
type AuditEntry struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	ActorID   string    `json:"actor_id"`
	Action    string    `json:"action"`
	Remark    string    `json:"remark,omitempty"`
	FromState State     `json:"from_state,omitempty"`
	ToState   State     `json:"to_state"`
	CreatedAt time.Time `json:"created_at"`
}

// ListFilter selects requests for the query surface.
type ListFilter struct {
	Kind    string
	States  []State
	OwnerID string
	Limit   int
	Offset  int
}

// Store is the durable record of requests and their audit trail.
type Store interface {
	// Create persists a new request together with its submission entry.
	Create(ctx context.Context, req *Request, entry *AuditEntry) error
	// Get returns the request or an error matching ErrNotFound.
	Get(ctx context.Context, id string) (*Request, error)
	// Apply writes req and appends entry in one unit of work, but only if the
	// stored version still equals expectedVersion. Otherwise nothing is
	// written and the error matches ErrConcurrentModification. On success
	// req.Version is set to the new version.
	Apply(ctx context.Context, req *Request, expectedVersion int64, entry *AuditEntry) error
	// History returns a request's audit entries oldest first.
	History(ctx context.Context, requestID string) ([]*AuditEntry, error)
	// List returns requests matching filter, newest first, and the total count.
	List(ctx context.Context, filter ListFilter) ([]*Request, int64, error)
}
