package repository

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-approvals/internal/platform/database"
	"github.com/pesio-ai/be-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-approvals/internal/workflow"
)

// RequestRepository is the PostgreSQL workflow.Store. A request row, its
// stage rows and its audit entries are always written in one transaction.
type RequestRepository struct {
	db *database.DB
}

// NewRequestRepository creates a new RequestRepository.
func NewRequestRepository(db *database.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

const requestColumns = `
	id, kind, title, category, amount, description,
	state, remarks, skip_next, owner_id, stage_count,
	version, created_at, updated_at`

// Create inserts a request, its passed stages and its submission entry.
func (r *RequestRepository) Create(ctx context.Context, req *workflow.Request, entry *workflow.AuditEntry) error {
	if req.Version == 0 {
		req.Version = 1
	}
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO approval_requests
			    (id, kind, title, category, amount, description,
			     state, remarks, skip_next, owner_id, stage_count,
			     version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6,
			        $7, $8, $9, $10, $11,
			        $12, $13, $14)
		`
		_, err := tx.Exec(ctx, query,
			req.ID,
			req.Kind,
			req.Title,
			req.Category,
			req.Amount,
			req.Description,
			string(req.State),
			req.Remarks,
			req.SkipNext,
			req.OwnerID,
			len(req.Stages),
			req.Version,
			req.CreatedAt,
			req.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval request")
		}

		if err := r.saveStages(ctx, tx, req); err != nil {
			return err
		}
		return r.appendAudit(ctx, tx, entry)
	})
}

// Get retrieves a request and its stage records.
func (r *RequestRepository) Get(ctx context.Context, id string) (*workflow.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE id = $1`

	req, err := r.scanRequest(r.db.QueryRow(ctx, query, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, workflow.NotFound(id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval request")
	}

	if err := r.loadStages(ctx, []*workflow.Request{req}); err != nil {
		return nil, err
	}
	return req, nil
}

// Apply updates the request only when its stored version equals
// expectedVersion, then writes the stage records and the audit entry.
func (r *RequestRepository) Apply(ctx context.Context, req *workflow.Request, expectedVersion int64, entry *workflow.AuditEntry) error {
	var newVersion int64
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE approval_requests
			SET state      = $3,
			    remarks    = $4,
			    skip_next  = $5,
			    updated_at = $6,
			    version    = version + 1
			WHERE id = $1 AND version = $2
			RETURNING version
		`
		err := tx.QueryRow(ctx, query,
			req.ID,
			expectedVersion,
			string(req.State),
			req.Remarks,
			req.SkipNext,
			req.UpdatedAt,
		).Scan(&newVersion)
		if stderrors.Is(err, pgx.ErrNoRows) {
			return r.lostSwap(ctx, tx, req.ID)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval request")
		}

		if err := r.saveStages(ctx, tx, req); err != nil {
			return err
		}
		return r.appendAudit(ctx, tx, entry)
	})
	if err != nil {
		return err
	}
	req.Version = newVersion
	return nil
}

// lostSwap explains a zero-row conditional update: either the request is
// gone or someone else moved it first.
func (r *RequestRepository) lostSwap(ctx context.Context, tx pgx.Tx, id string) error {
	var state string
	err := tx.QueryRow(ctx, `SELECT state FROM approval_requests WHERE id = $1`, id).Scan(&state)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return workflow.NotFound(id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to read approval request state")
	}
	return workflow.ConcurrentModification(id, workflow.State(state))
}

// History returns a request's audit trail oldest first. Every stored request
// has at least its submission entry, so an empty trail means an unknown id.
func (r *RequestRepository) History(ctx context.Context, requestID string) ([]*workflow.AuditEntry, error) {
	query := `
		SELECT id, request_id, actor_id, action, remark,
		       from_state, to_state, created_at
		FROM approval_audit_log
		WHERE request_id = $1
		ORDER BY created_at ASC, seq ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	var entries []*workflow.AuditEntry
	for rows.Next() {
		var (
			e        workflow.AuditEntry
			from, to string
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &e.ActorID, &e.Action, &e.Remark, &from, &to, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
		}
		e.FromState = workflow.State(from)
		e.ToState = workflow.State(to)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read audit log")
	}
	if len(entries) == 0 {
		return nil, workflow.NotFound(requestID)
	}
	return entries, nil
}

// List returns the requests matching filter, newest first, plus the total
// number of matches ignoring limit and offset.
func (r *RequestRepository) List(ctx context.Context, filter workflow.ListFilter) ([]*workflow.Request, int64, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Kind != "" {
		where = append(where, "kind = "+arg(filter.Kind))
	}
	if filter.OwnerID != "" {
		where = append(where, "owner_id = "+arg(filter.OwnerID))
	}
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, s := range filter.States {
			states[i] = string(s)
		}
		where = append(where, "state = ANY("+arg(states)+")")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM approval_requests`+clause, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count approval requests")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + requestColumns + ` FROM approval_requests` + clause +
		` ORDER BY created_at DESC, id DESC LIMIT ` + arg(limit) + ` OFFSET ` + arg(filter.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval requests")
	}
	defer rows.Close()

	reqs := []*workflow.Request{}
	for rows.Next() {
		req, err := r.scanRequest(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval request")
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval requests")
	}
	rows.Close()

	if err := r.loadStages(ctx, reqs); err != nil {
		return nil, 0, err
	}
	return reqs, total, nil
}

// ── stage and audit helpers ───────────────────────────────────────────────────

// saveStages upserts every stage record that carries provenance. Stage
// records are never cleared, so untouched stages need no row.
func (r *RequestRepository) saveStages(ctx context.Context, tx pgx.Tx, req *workflow.Request) error {
	query := `
		INSERT INTO approval_request_stages (request_id, stage, actor_id, acted_at, note)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (request_id, stage) DO UPDATE
		SET actor_id = EXCLUDED.actor_id,
		    acted_at = EXCLUDED.acted_at,
		    note     = EXCLUDED.note
	`
	for i, s := range req.Stages {
		if s.Actor == "" && s.At == nil && s.Note == "" {
			continue
		}
		if _, err := tx.Exec(ctx, query, req.ID, i+1, nullIfEmpty(s.Actor), s.At, s.Note); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, fmt.Sprintf("failed to save stage %d", i+1))
		}
	}
	return nil
}

func (r *RequestRepository) loadStages(ctx context.Context, reqs []*workflow.Request) error {
	if len(reqs) == 0 {
		return nil
	}
	byID := make(map[string]*workflow.Request, len(reqs))
	ids := make([]string, len(reqs))
	for i, req := range reqs {
		byID[req.ID] = req
		ids[i] = req.ID
	}

	rows, err := r.db.Query(ctx, `
		SELECT request_id, stage, actor_id, acted_at, note
		FROM approval_request_stages
		WHERE request_id = ANY($1)
	`, ids)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to load request stages")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			requestID string
			stage     int
			actor     *string
			actedAt   *time.Time
			note      string
		)
		if err := rows.Scan(&requestID, &stage, &actor, &actedAt, &note); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to scan request stage")
		}
		req, ok := byID[requestID]
		if !ok || stage < 1 || stage > len(req.Stages) {
			continue
		}
		rec := workflow.StageRecord{At: actedAt, Note: note}
		if actor != nil {
			rec.Actor = *actor
		}
		req.Stages[stage-1] = rec
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to load request stages")
	}
	return nil
}

func (r *RequestRepository) appendAudit(ctx context.Context, tx pgx.Tx, entry *workflow.AuditEntry) error {
	if entry == nil {
		return nil
	}
	query := `
		INSERT INTO approval_audit_log
		    (id, request_id, actor_id, action, remark, from_state, to_state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := tx.Exec(ctx, query,
		entry.ID,
		entry.RequestID,
		entry.ActorID,
		entry.Action,
		entry.Remark,
		string(entry.FromState),
		string(entry.ToState),
		entry.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to write audit entry")
	}
	return nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type requestScanner interface {
	Scan(dest ...any) error
}

func (r *RequestRepository) scanRequest(row requestScanner) (*workflow.Request, error) {
	req := &workflow.Request{}
	var (
		state      string
		stageCount int
	)
	err := row.Scan(
		&req.ID,
		&req.Kind,
		&req.Title,
		&req.Category,
		&req.Amount,
		&req.Description,
		&state,
		&req.Remarks,
		&req.SkipNext,
		&req.OwnerID,
		&stageCount,
		&req.Version,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	req.State = workflow.State(state)
	req.Stages = make([]workflow.StageRecord, stageCount)
	return req, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ workflow.Store = (*RequestRepository)(nil)
