package workflow

import "strings"

// Route names the submission rule that fired.
type Route string

const (
	RouteNormal        Route = "normal"
	RouteSelfApproved  Route = "self_approved"
	RouteCrossCheck    Route = "cross_check"
	RouteAutoCompleted Route = "auto_completed"
)

// Decision is the routing of a new request. It depends only on the
// definition and the submitter's roles.
type Decision struct {
	Route Route
	State State
	Tag   string
	// AutoFilled is the number of leading stages recorded as passed by the
	// submitter.
	AutoFilled int
}

// Decide applies the submission rules in priority order; the first match wins.
//
//  1. stage-1 role: the originating office approves its own request.
//  2. stage-2 role: routed back to stage 1 for a cross-check. Skipped when
//     stage 2 is the final stage, where rule 3 governs.
//  3. final-stage role: completed on submission.
//  4. anyone else, escalation roles included: normal routing.
func (d *Definition) Decide(roles RoleSet) Decision {
	n := d.StageCount()
	switch {
	case roles.Has(d.RoleOf(1)):
		return Decision{Route: RouteSelfApproved, State: PendingStage(2), Tag: TagSubmittedStage1Approved, AutoFilled: 1}
	case n > 2 && roles.Has(d.RoleOf(2)):
		return Decision{Route: RouteCrossCheck, State: PendingStage(1), Tag: TagSubmittedForCrossCheck}
	case roles.Has(d.RoleOf(n)):
		return Decision{Route: RouteAutoCompleted, State: StateCompleted, Tag: TagSubmittedAutoCompleted, AutoFilled: n}
	default:
		return Decision{Route: RouteNormal, State: PendingStage(1), Tag: TagSubmitted}
	}
}

// Open initialises a new request submitted by req.OwnerID at req.CreatedAt.
// The returned request carries version 1.
func (d *Definition) Open(req *Request, roles RoleSet) (*Outcome, error) {
	switch {
	case req.OwnerID == "":
		return nil, InvalidRequest("submitter is required")
	case strings.TrimSpace(req.Title) == "":
		return nil, InvalidRequest("title is required")
	case req.Amount < 0:
		return nil, InvalidRequest("amount cannot be negative")
	}

	dec := d.Decide(roles)

	next := req.Clone()
	next.Kind = d.Kind
	next.State = dec.State
	next.Version = 1
	next.UpdatedAt = req.CreatedAt
	next.Stages = make([]StageRecord, d.StageCount())
	for i := 0; i < dec.AutoFilled; i++ {
		at := req.CreatedAt
		next.Stages[i] = StageRecord{Actor: req.OwnerID, At: &at}
	}

	var notes []Notification
	switch dec.Route {
	case RouteSelfApproved:
		notes = append(notes, d.notifyStage(next, 2, req.OwnerID))
	case RouteNormal, RouteCrossCheck:
		notes = append(notes, d.notifyStage(next, 1, req.OwnerID))
	}

	return &Outcome{
		Request: next,
		Audit: AuditEntry{
			RequestID: next.ID,
			ActorID:   req.OwnerID,
			Action:    dec.Tag,
			ToState:   dec.State,
			CreatedAt: req.CreatedAt,
		},
		Notifications: notes,
	}, nil
}
