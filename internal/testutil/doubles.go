package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/pesio-ai/be-approvals/internal/workflow"
)

// StaticRoles is a fixed user to roles mapping.
type StaticRoles map[string][]string

func (r StaticRoles) RolesOf(_ context.Context, userID string) (workflow.RoleSet, error) {
	return workflow.NewRoleSet(r[userID]...), nil
}

func (r StaticRoles) MembersOf(_ context.Context, role string) ([]string, error) {
	var members []string
	for user, roles := range r {
		for _, held := range roles {
			if held == role {
				members = append(members, user)
				break
			}
		}
	}
	sort.Strings(members)
	return members, nil
}

// Delivery is one call observed by a RecordingNotifier.
type Delivery struct {
	Notification workflow.Notification
	Recipients   []string
}

// RecordingNotifier remembers every delivery. When Err is set every call
// fails with it after being recorded.
type RecordingNotifier struct {
	mu         sync.Mutex
	deliveries []Delivery
	Err        error
}

func (n *RecordingNotifier) Notify(_ context.Context, note workflow.Notification, recipients []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveries = append(n.deliveries, Delivery{Notification: note, Recipients: append([]string(nil), recipients...)})
	return n.Err
}

// Deliveries returns a snapshot of what has been delivered so far.
func (n *RecordingNotifier) Deliveries() []Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Delivery(nil), n.deliveries...)
}

// ErrInjected is returned by FailingStore.
var ErrInjected = errors.New("injected failure")

// FailingStore wraps a store and fails Apply calls with ErrInjected.
type FailingStore struct {
	workflow.Store
}

func (s FailingStore) Apply(context.Context, *workflow.Request, int64, *workflow.AuditEntry) error {
	return ErrInjected
}

// BarrierStore holds every Get until Parties callers have read, so that they
// all act on the same snapshot.
type BarrierStore struct {
	workflow.Store

	once    sync.Once
	mu      sync.Mutex
	waiting int
	Parties int
	release chan struct{}
}

func (s *BarrierStore) Get(ctx context.Context, id string) (*workflow.Request, error) {
	req, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.once.Do(func() { s.release = make(chan struct{}) })

	s.mu.Lock()
	s.waiting++
	if s.waiting == s.Parties {
		close(s.release)
	}
	s.mu.Unlock()

	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return req, nil
}
