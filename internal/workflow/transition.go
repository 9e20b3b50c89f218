package workflow

import (
	"fmt"
	"strings"
	"time"
)

// Action is an operation an actor attempts on a pending request.
type Action string

const (
	ActionApprove     Action = "approve"
	ActionReject      Action = "reject"
	ActionSkipToFinal Action = "skip_to_final_stage"
)

// Command is one attempted transition. Roles are the actor's roles as
// resolved by the RoleDirectory.
type Command struct {
	Action  Action
	ActorID string
	Roles   RoleSet
	Remark  string
	At      time.Time
}

// Outcome is the result of a legal transition: the updated request (same
// version as the input; the store bumps it), the audit entry to append in the
// same unit of work, and the notifications to hand off after the write.
type Outcome struct {
	Request       *Request
	Audit         AuditEntry
	Notifications []Notification
	Escalated     bool
}

// Evaluate validates cmd against req and computes the transition. It never
// mutates req. Refusals are *TransitionError values matching ErrWrongState,
// ErrWrongRole or ErrMissingRemark.
func (d *Definition) Evaluate(req *Request, cmd Command) (*Outcome, error) {
	if req.Kind != d.Kind {
		return nil, fmt.Errorf("request %s is of kind %q, definition is %q", req.ID, req.Kind, d.Kind)
	}

	switch cmd.Action {
	case ActionApprove:
		return d.approve(req, cmd)
	case ActionReject:
		return d.reject(req, cmd)
	case ActionSkipToFinal:
		return d.skipToFinal(req, cmd)
	default:
		return nil, InvalidRequest(fmt.Sprintf("unknown action %q", cmd.Action))
	}
}

func (d *Definition) approve(req *Request, cmd Command) (*Outcome, error) {
	stage, err := d.currentStage(req, cmd.Action)
	if err != nil {
		return nil, err
	}
	escalated, err := d.authorize(req, cmd, stage)
	if err != nil {
		return nil, err
	}

	next := d.advance(req, cmd)
	next.Stages[stage-1] = stageRecord(cmd, "")

	var (
		tag   string
		notes []Notification
	)
	switch {
	case stage == d.StageCount():
		next.State = StateCompleted
		tag = completedTag(stage)
		notes = append(notes, d.notifyOwner(next, d.completedEvent(), cmd.ActorID))
	case stage == 1 && req.SkipNext && d.StageCount() > 2:
		skipped := []int{2}
		next.State = PendingStage(3)
		next.Stages[0].Note = skipNote(skipped)
		tag = approvedSkippingTag(1, skipped)
		notes = append(notes, d.notifyStage(next, 3, cmd.ActorID))
	default:
		next.State = PendingStage(stage + 1)
		tag = approvedTag(stage)
		notes = append(notes, d.notifyStage(next, stage+1, cmd.ActorID))
	}

	return d.outcome(req, next, cmd, tag, next.Stages[stage-1].Note, escalated, notes), nil
}

func (d *Definition) reject(req *Request, cmd Command) (*Outcome, error) {
	remark := strings.TrimSpace(cmd.Remark)
	if remark == "" {
		return nil, MissingRemark(req.ID)
	}
	stage, err := d.currentStage(req, cmd.Action)
	if err != nil {
		return nil, err
	}
	escalated, err := d.authorize(req, cmd, stage)
	if err != nil {
		return nil, err
	}

	next := d.advance(req, cmd)
	next.State = StateRejected
	next.Remarks = remark

	notes := []Notification{d.notifyOwner(next, d.rejectedEvent(), cmd.ActorID)}
	return d.outcome(req, next, cmd, TagRejected, remark, escalated, notes), nil
}

// skipToFinal moves a stage-1 request straight to the final stage. The actor
// must hold the stage-1 role and the role of every skipped stage; escalation
// roles do not satisfy this.
func (d *Definition) skipToFinal(req *Request, cmd Command) (*Outcome, error) {
	if req.State != PendingStage(1) {
		return nil, wrongState(req, cmd.Action, "only legal from "+string(PendingStage(1)))
	}
	n := d.StageCount()
	if !d.AllowSkip || n < 3 {
		return nil, wrongState(req, cmd.Action, fmt.Sprintf("%s requests cannot skip stages", d.Kind))
	}

	var (
		skipped []int
		missing []string
	)
	if !cmd.Roles.Has(d.RoleOf(1)) {
		missing = append(missing, d.RoleOf(1))
	}
	for s := 2; s < n; s++ {
		skipped = append(skipped, s)
		if !cmd.Roles.Has(d.RoleOf(s)) {
			missing = append(missing, d.RoleOf(s))
		}
	}
	if len(missing) > 0 {
		return nil, wrongRole(req, cmd.Action, "missing role "+strings.Join(missing, ", "))
	}

	note := skipNote(skipped)
	next := d.advance(req, cmd)
	next.State = PendingStage(n)
	next.Stages[0] = stageRecord(cmd, note)
	next.Remarks = note

	notes := []Notification{d.notifyStage(next, n, cmd.ActorID)}
	return d.outcome(req, next, cmd, skippedTag(1, skipped), note, false, notes), nil
}

func (d *Definition) currentStage(req *Request, action Action) (int, error) {
	if req.State.IsTerminal() {
		return 0, wrongState(req, action, "request is closed")
	}
	stage, ok := req.State.Stage()
	if !ok || stage > d.StageCount() {
		return 0, wrongState(req, action, "unrecognised state")
	}
	return stage, nil
}

// authorize admits holders of the stage's nominal role and, failing that,
// holders of an escalation role. The boolean reports the latter.
func (d *Definition) authorize(req *Request, cmd Command, stage int) (bool, error) {
	role := d.RoleOf(stage)
	if cmd.Roles.Has(role) {
		return false, nil
	}
	if cmd.Roles.HasAny(d.EscalationRoles) {
		return true, nil
	}
	return false, wrongRole(req, cmd.Action, fmt.Sprintf("stage %d (%s) requires role %s", stage, d.Stages[stage-1].Name, role))
}

func (d *Definition) advance(req *Request, cmd Command) *Request {
	next := req.Clone()
	if len(next.Stages) < d.StageCount() {
		stages := make([]StageRecord, d.StageCount())
		copy(stages, next.Stages)
		next.Stages = stages
	}
	next.UpdatedAt = cmd.At
	return next
}

func (d *Definition) outcome(prev, next *Request, cmd Command, tag, remark string, escalated bool, notes []Notification) *Outcome {
	if escalated {
		tag += escalatedSuffix
	}
	return &Outcome{
		Request: next,
		Audit: AuditEntry{
			RequestID: next.ID,
			ActorID:   cmd.ActorID,
			Action:    tag,
			Remark:    remark,
			FromState: prev.State,
			ToState:   next.State,
			CreatedAt: cmd.At,
		},
		Notifications: notes,
		Escalated:     escalated,
	}
}

func stageRecord(cmd Command, note string) StageRecord {
	at := cmd.At
	return StageRecord{Actor: cmd.ActorID, At: &at, Note: note}
}
