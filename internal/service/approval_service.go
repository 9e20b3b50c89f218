package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-approvals/internal/platform/metrics"
	"github.com/pesio-ai/be-approvals/internal/workflow"
)

const defaultMaxAttempts = 3

// SubmitRequest is the caller-supplied part of a new request.
type SubmitRequest struct {
	Kind        string
	Title       string
	Category    string
	Amount      int64
	Description string
	SkipNext    bool
}

// ApprovalService applies workflow transitions against the store and hands
// the resulting notifications to the dispatcher.
type ApprovalService struct {
	store       workflow.Store
	roles       workflow.RoleDirectory
	registry    *workflow.Registry
	dispatcher  *NotificationDispatcher
	metrics     *metrics.Workflow
	log         *logger.Logger
	now         func() time.Time
	newID       func() string
	maxAttempts int
}

// Option customises an ApprovalService.
type Option func(*ApprovalService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *ApprovalService) { s.now = now }
}

// WithIDGenerator overrides request and audit id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *ApprovalService) { s.newID = newID }
}

// WithMaxAttempts bounds how many times a transition is re-applied after a
// version conflict that left the state unchanged.
func WithMaxAttempts(n int) Option {
	return func(s *ApprovalService) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(
	store workflow.Store,
	roles workflow.RoleDirectory,
	registry *workflow.Registry,
	dispatcher *NotificationDispatcher,
	m *metrics.Workflow,
	log *logger.Logger,
	opts ...Option,
) *ApprovalService {
	s := &ApprovalService{
		store:       store,
		roles:       roles,
		registry:    registry,
		dispatcher:  dispatcher,
		metrics:     m,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       func() string { return uuid.NewString() },
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ── Submission ────────────────────────────────────────────────────────────────

// Submit creates a request and routes it according to the submitter's roles.
func (s *ApprovalService) Submit(ctx context.Context, in SubmitRequest, submitterID string) (*workflow.Request, error) {
	def, ok := s.registry.Get(in.Kind)
	if !ok {
		return nil, workflow.InvalidRequest(fmt.Sprintf("unknown request kind %q", in.Kind))
	}
	if submitterID == "" {
		return nil, workflow.InvalidRequest("submitter is required")
	}

	roles, err := s.roles.RolesOf(ctx, submitterID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to resolve submitter roles")
	}

	now := s.now()
	out, err := def.Open(&workflow.Request{
		ID:          s.newID(),
		Kind:        def.Kind,
		Title:       strings.TrimSpace(in.Title),
		Category:    in.Category,
		Amount:      in.Amount,
		Description: in.Description,
		SkipNext:    in.SkipNext,
		OwnerID:     submitterID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, roles)
	if err != nil {
		s.metrics.Refused(def.Kind, workflow.Reason(err))
		return nil, err
	}

	out.Audit.ID = s.newID()
	if err := s.store.Create(ctx, out.Request, &out.Audit); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create request")
	}

	s.metrics.Transition(def.Kind, out.Audit.Action, false)
	s.log.Info().
		Str("request_id", out.Request.ID).
		Str("kind", def.Kind).
		Str("submitted_by", submitterID).
		Str("state", out.Request.State.String()).
		Str("action", out.Audit.Action).
		Msg("Request submitted")

	s.dispatcher.Dispatch(out.Notifications)
	return out.Request, nil
}

// ── Transitions ───────────────────────────────────────────────────────────────

// Approve passes the request's current stage.
func (s *ApprovalService) Approve(ctx context.Context, id, actorID string) (*workflow.Request, error) {
	return s.transition(ctx, id, workflow.ActionApprove, actorID, "")
}

// Reject closes the request. A non-empty remark is required.
func (s *ApprovalService) Reject(ctx context.Context, id, actorID, remark string) (*workflow.Request, error) {
	return s.transition(ctx, id, workflow.ActionReject, actorID, remark)
}

// SkipToFinalStage moves a stage-1 request directly to its final stage.
func (s *ApprovalService) SkipToFinalStage(ctx context.Context, id, actorID string) (*workflow.Request, error) {
	return s.transition(ctx, id, workflow.ActionSkipToFinal, actorID, "")
}

// transition runs read, evaluate and compare-and-swap. A lost swap is retried
// only while the stored state is still the one the first read observed; any
// other movement means the decision is stale and the conflict is returned.
func (s *ApprovalService) transition(ctx context.Context, id string, action workflow.Action, actorID, remark string) (*workflow.Request, error) {
	if actorID == "" {
		return nil, workflow.InvalidRequest("actor is required")
	}
	roles, err := s.roles.RolesOf(ctx, actorID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to resolve actor roles")
	}

	var observed workflow.State
	for attempt := 1; ; attempt++ {
		req, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		def, ok := s.registry.Get(req.Kind)
		if !ok {
			return nil, errors.New(errors.ErrCodeInternal, fmt.Sprintf("no definition for kind %q", req.Kind))
		}

		if attempt == 1 {
			observed = req.State
		} else if req.State != observed {
			s.metrics.Conflict(req.Kind)
			s.log.Info().
				Str("request_id", id).
				Str("action", string(action)).
				Str("expected_state", observed.String()).
				Str("state", req.State.String()).
				Msg("Transition lost to a concurrent change")
			return nil, workflow.ConcurrentModification(id, req.State)
		}

		out, err := def.Evaluate(req, workflow.Command{
			Action:  action,
			ActorID: actorID,
			Roles:   roles,
			Remark:  remark,
			At:      s.now(),
		})
		if err != nil {
			s.metrics.Refused(req.Kind, workflow.Reason(err))
			s.log.Debug().Err(err).
				Str("request_id", id).
				Str("actor_id", actorID).
				Strs("roles", roles.Sorted()).
				Msg("Transition refused")
			return nil, err
		}

		out.Audit.ID = s.newID()
		err = s.store.Apply(ctx, out.Request, req.Version, &out.Audit)
		switch {
		case err == nil:
		case stderrors.Is(err, workflow.ErrConcurrentModification):
			if attempt < s.maxAttempts {
				s.log.Debug().
					Str("request_id", id).
					Int("attempt", attempt).
					Msg("Version conflict, retrying")
				continue
			}
			s.metrics.Conflict(req.Kind)
			return nil, err
		default:
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to apply transition")
		}

		s.metrics.Transition(req.Kind, out.Audit.Action, out.Escalated)
		s.log.Info().
			Str("request_id", id).
			Str("kind", req.Kind).
			Str("actor_id", actorID).
			Str("action", out.Audit.Action).
			Str("from_state", out.Audit.FromState.String()).
			Str("to_state", out.Audit.ToState.String()).
			Bool("escalated", out.Escalated).
			Msg("Request transitioned")

		s.dispatcher.Dispatch(out.Notifications)
		return out.Request, nil
	}
}

// ── Query helpers ─────────────────────────────────────────────────────────────

// Get returns a request by id.
func (s *ApprovalService) Get(ctx context.Context, id string) (*workflow.Request, error) {
	return s.store.Get(ctx, id)
}

// History returns the audit trail of a request, oldest first.
func (s *ApprovalService) History(ctx context.Context, id string) ([]*workflow.AuditEntry, error) {
	return s.store.History(ctx, id)
}

// ListPending returns requests of kind waiting on a stage the actor can act
// on, either through a nominal role or an escalation role.
func (s *ApprovalService) ListPending(ctx context.Context, actorID, kind string, limit, offset int) ([]*workflow.Request, int64, error) {
	def, ok := s.registry.Get(kind)
	if !ok {
		return nil, 0, workflow.InvalidRequest(fmt.Sprintf("unknown request kind %q", kind))
	}
	roles, err := s.roles.RolesOf(ctx, actorID)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to resolve actor roles")
	}

	states := def.PendingStatesFor(roles)
	if len(states) == 0 {
		return []*workflow.Request{}, 0, nil
	}
	return s.store.List(ctx, workflow.ListFilter{Kind: def.Kind, States: states, Limit: limit, Offset: offset})
}

// Kinds lists the registered request kinds.
func (s *ApprovalService) Kinds() []string {
	return s.registry.Kinds()
}
