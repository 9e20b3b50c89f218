package workflow

import "context"

// Target is either a single user or a role group.
type Target struct {
	UserID string `json:"user_id,omitempty"`
	Role   string `json:"role,omitempty"`
}

// Notification is a request to tell a target that a request changed state.
type Notification struct {
	EventType string `json:"event_type"`
	RequestID string `json:"request_id"`
	Kind      string `json:"kind"`
	Title     string `json:"title"`
	Amount    int64  `json:"amount"`
	State     State  `json:"state"`
	ActorID   string `json:"actor_id"`
	Target    Target `json:"target"`
}

// Notifier delivers a notification to resolved recipients. Delivery errors
// are reported but never affect the transition that produced them.
type Notifier interface {
	Notify(ctx context.Context, n Notification, recipients []string) error
}

func (d *Definition) approvalRequiredEvent() string {
	return d.Kind + "_approval_required"
}

func (d *Definition) completedEvent() string {
	return d.Kind + "_" + d.TerminalAction
}

func (d *Definition) rejectedEvent() string {
	return d.Kind + "_rejected"
}

func (d *Definition) notifyStage(req *Request, stage int, actorID string) Notification {
	return Notification{
		EventType: d.approvalRequiredEvent(),
		RequestID: req.ID,
		Kind:      d.Kind,
		Title:     req.Title,
		Amount:    req.Amount,
		State:     req.State,
		ActorID:   actorID,
		Target:    Target{Role: d.RoleOf(stage)},
	}
}

func (d *Definition) notifyOwner(req *Request, event, actorID string) Notification {
	return Notification{
		EventType: event,
		RequestID: req.ID,
		Kind:      d.Kind,
		Title:     req.Title,
		Amount:    req.Amount,
		State:     req.State,
		ActorID:   actorID,
		Target:    Target{UserID: req.OwnerID},
	}
}
