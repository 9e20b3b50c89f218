package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var actedAt = time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC)

func pendingAt(t *testing.T, kind string, stage int) *Request {
	t.Helper()
	d := mustDef(t, kind)
	out, err := d.Open(newDraft(kind, "u-clerk"), NewRoleSet())
	require.NoError(t, err)
	req := out.Request
	req.State = PendingStage(stage)
	return req
}

func cmd(action Action, actor string, roles ...string) Command {
	return Command{Action: action, ActorID: actor, Roles: NewRoleSet(roles...), At: actedAt}
}

func TestEvaluate_ApproveAdvancesEachStage(t *testing.T) {
	d := mustDef(t, "disbursement")

	tests := []struct {
		stage     int
		role      string
		wantState State
		wantTag   string
		wantNote  Target
	}{
		{1, "Budget", PendingStage(2), "stage1_approved", Target{Role: "Accounting"}},
		{2, "Accounting", PendingStage(3), "stage2_approved", Target{Role: "Cashier"}},
		{3, "Cashier", StateCompleted, "stage3_completed", Target{UserID: "u-clerk"}},
	}
	for _, tt := range tests {
		t.Run(tt.wantTag, func(t *testing.T) {
			req := pendingAt(t, "disbursement", tt.stage)
			before := req.Clone()

			out, err := d.Evaluate(req, cmd(ActionApprove, "u-actor", tt.role))
			require.NoError(t, err)

			assert.Equal(t, before, req, "input must not be mutated")
			assert.Equal(t, tt.wantState, out.Request.State)
			assert.Equal(t, "u-actor", out.Request.Stages[tt.stage-1].Actor)
			assert.Equal(t, actedAt, *out.Request.Stages[tt.stage-1].At)
			assert.Equal(t, actedAt, out.Request.UpdatedAt)
			assert.Equal(t, req.Version, out.Request.Version)
			assert.Equal(t, tt.wantTag, out.Audit.Action)
			assert.Equal(t, PendingStage(tt.stage), out.Audit.FromState)
			assert.Equal(t, tt.wantState, out.Audit.ToState)
			assert.False(t, out.Escalated)
			require.Len(t, out.Notifications, 1)
			assert.Equal(t, tt.wantNote, out.Notifications[0].Target)
		})
	}
}

func TestEvaluate_CompletionEventUsesTerminalAction(t *testing.T) {
	d := mustDef(t, "disbursement")

	out, err := d.Evaluate(pendingAt(t, "disbursement", 3), cmd(ActionApprove, "u-cashier", "Cashier"))
	require.NoError(t, err)
	assert.Equal(t, "disbursement_paid", out.Notifications[0].EventType)
}

func TestEvaluate_ApproveWithSkipNext(t *testing.T) {
	d := mustDef(t, "disbursement")
	req := pendingAt(t, "disbursement", 1)
	req.SkipNext = true

	out, err := d.Evaluate(req, cmd(ActionApprove, "u-budget", "Budget"))
	require.NoError(t, err)

	assert.Equal(t, PendingStage(3), out.Request.State)
	assert.Equal(t, "stage1_approved_stage2_skipped", out.Audit.Action)
	assert.Equal(t, "[skipped stage2]", out.Audit.Remark)
	assert.False(t, out.Request.Stages[1].Passed())
	assert.Equal(t, Target{Role: "Cashier"}, out.Notifications[0].Target)
}

func TestEvaluate_SkipNextIgnoredAfterStageOne(t *testing.T) {
	d := mustDef(t, "disbursement")
	req := pendingAt(t, "disbursement", 2)
	req.SkipNext = true

	out, err := d.Evaluate(req, cmd(ActionApprove, "u-acct", "Accounting"))
	require.NoError(t, err)
	assert.Equal(t, PendingStage(3), out.Request.State)
	assert.Equal(t, "stage2_approved", out.Audit.Action)
}

func TestEvaluate_Escalation(t *testing.T) {
	d := mustDef(t, "disbursement")

	out, err := d.Evaluate(pendingAt(t, "disbursement", 2), cmd(ActionApprove, "u-rd", "RD"))
	require.NoError(t, err)
	assert.True(t, out.Escalated)
	assert.Equal(t, PendingStage(3), out.Request.State)
	assert.Equal(t, "stage2_approved_escalated", out.Audit.Action)
	assert.True(t, IsEscalated(out.Audit.Action))

	out, err = d.Evaluate(pendingAt(t, "disbursement", 3), cmd(ActionReject, "u-chief", "Chief").withRemark("duplicate voucher"))
	require.NoError(t, err)
	assert.Equal(t, "rejected_escalated", out.Audit.Action)
	assert.Equal(t, StateRejected, out.Request.State)
}

func TestEvaluate_NominalRoleTakesPrecedenceOverEscalation(t *testing.T) {
	d := mustDef(t, "disbursement")

	out, err := d.Evaluate(pendingAt(t, "disbursement", 1), cmd(ActionApprove, "u-budget-head", "Budget", "SuperAdmin"))
	require.NoError(t, err)
	assert.False(t, out.Escalated)
	assert.Equal(t, "stage1_approved", out.Audit.Action)
}

func TestEvaluate_Reject(t *testing.T) {
	d := mustDef(t, "disbursement")
	req := pendingAt(t, "disbursement", 2)

	out, err := d.Evaluate(req, cmd(ActionReject, "u-acct", "Accounting").withRemark("  insufficient documentation "))
	require.NoError(t, err)

	assert.Equal(t, StateRejected, out.Request.State)
	assert.Equal(t, "insufficient documentation", out.Request.Remarks)
	assert.Equal(t, TagRejected, out.Audit.Action)
	assert.Equal(t, "insufficient documentation", out.Audit.Remark)
	assert.False(t, out.Request.Stages[1].Passed(), "rejection does not pass the stage")
	require.Len(t, out.Notifications, 1)
	assert.Equal(t, Target{UserID: "u-clerk"}, out.Notifications[0].Target)
	assert.Equal(t, "disbursement_rejected", out.Notifications[0].EventType)
}

func TestEvaluate_RejectRequiresRemark(t *testing.T) {
	d := mustDef(t, "disbursement")

	// Missing remark wins over every other precondition.
	for _, req := range []*Request{
		pendingAt(t, "disbursement", 1),
		withState(pendingAt(t, "disbursement", 1), StateCompleted),
		withState(pendingAt(t, "disbursement", 1), StateRejected),
	} {
		for _, roles := range [][]string{{"Budget"}, {"Clerk"}, nil} {
			_, err := d.Evaluate(req, cmd(ActionReject, "u-x", roles...).withRemark(" \t"))
			assert.ErrorIs(t, err, ErrMissingRemark)
		}
	}
}

func TestEvaluate_SkipToFinal(t *testing.T) {
	d := mustDef(t, "disbursement")

	out, err := d.Evaluate(pendingAt(t, "disbursement", 1), cmd(ActionSkipToFinal, "u-ba", "Budget", "Accounting"))
	require.NoError(t, err)

	assert.Equal(t, PendingStage(3), out.Request.State)
	assert.Equal(t, "stage1_skipped_stage2", out.Audit.Action)
	assert.Equal(t, "[skipped stage2]", out.Audit.Remark)
	assert.Equal(t, "[skipped stage2]", out.Request.Stages[0].Note)
	assert.Equal(t, "[skipped stage2]", out.Request.Remarks)
	assert.Equal(t, "u-ba", out.Request.Stages[0].Actor)
	assert.False(t, out.Request.Stages[1].Passed())
	assert.Equal(t, Target{Role: "Cashier"}, out.Notifications[0].Target)
}

func TestEvaluate_SkipToFinalPreconditions(t *testing.T) {
	d := mustDef(t, "disbursement")

	_, err := d.Evaluate(pendingAt(t, "disbursement", 1), cmd(ActionSkipToFinal, "u-b", "Budget"))
	assert.ErrorIs(t, err, ErrWrongRole, "stage-2 role is also required")

	_, err = d.Evaluate(pendingAt(t, "disbursement", 1), cmd(ActionSkipToFinal, "u-a", "Accounting"))
	assert.ErrorIs(t, err, ErrWrongRole)

	_, err = d.Evaluate(pendingAt(t, "disbursement", 1), cmd(ActionSkipToFinal, "u-rd", "RD", "SuperAdmin"))
	assert.ErrorIs(t, err, ErrWrongRole, "escalation does not satisfy skip")

	_, err = d.Evaluate(pendingAt(t, "disbursement", 2), cmd(ActionSkipToFinal, "u-ba", "Budget", "Accounting"))
	assert.ErrorIs(t, err, ErrWrongState)

	leave := mustDef(t, "leave")
	_, err = leave.Evaluate(pendingAt(t, "leave", 1), cmd(ActionSkipToFinal, "u-c", "Chief", "RD"))
	assert.ErrorIs(t, err, ErrWrongState, "two-stage pipelines cannot skip")
}

func TestEvaluate_SkipAcrossSeveralStages(t *testing.T) {
	d := &Definition{
		Kind:           "procurement",
		TerminalAction: "ordered",
		AllowSkip:      true,
		Stages:         []Stage{{Role: "Supply"}, {Role: "Budget"}, {Role: "Accounting"}, {Role: "Director"}},
	}
	req := &Request{ID: "req-9", Kind: "procurement", State: PendingStage(1), OwnerID: "u-clerk", Stages: make([]StageRecord, 4)}

	_, err := d.Evaluate(req, cmd(ActionSkipToFinal, "u-x", "Supply", "Budget"))
	assert.ErrorIs(t, err, ErrWrongRole)

	out, err := d.Evaluate(req, cmd(ActionSkipToFinal, "u-x", "Supply", "Budget", "Accounting"))
	require.NoError(t, err)
	assert.Equal(t, PendingStage(4), out.Request.State)
	assert.Equal(t, "stage1_skipped_stage2_stage3", out.Audit.Action)
	assert.Equal(t, "[skipped stage2, stage3]", out.Audit.Remark)
}

func TestEvaluate_TerminalStatesRefuseEverything(t *testing.T) {
	d := mustDef(t, "disbursement")
	everyone := []string{"Budget", "Accounting", "Cashier", "RD", "Chief", "SuperAdmin"}

	for _, terminal := range []State{StateCompleted, StateRejected} {
		for _, c := range []Command{
			cmd(ActionApprove, "u-all", everyone...),
			cmd(ActionReject, "u-all", everyone...).withRemark("too late"),
			cmd(ActionSkipToFinal, "u-all", everyone...),
		} {
			req := withState(pendingAt(t, "disbursement", 1), terminal)
			before := req.Clone()

			out, err := d.Evaluate(req, c)
			assert.Nil(t, out)
			assert.ErrorIs(t, err, ErrWrongState, "%s from %s", c.Action, terminal)
			assert.Equal(t, before, req)
		}
	}
}

func TestEvaluate_RoleEnforcement(t *testing.T) {
	d := mustDef(t, "disbursement")
	others := map[int][]string{
		1: {"Accounting", "Cashier", "Clerk"},
		2: {"Budget", "Cashier"},
		3: {"Budget", "Accounting"},
	}

	for stage, roles := range others {
		for _, c := range []Command{
			cmd(ActionApprove, "u-x", roles...),
			cmd(ActionReject, "u-x", roles...).withRemark("no"),
		} {
			req := pendingAt(t, "disbursement", stage)
			before := req.Clone()

			_, err := d.Evaluate(req, c)
			assert.ErrorIs(t, err, ErrWrongRole, "%s at stage %d", c.Action, stage)
			assert.Equal(t, before, req)
		}
	}
}

func TestEvaluate_AuditTagsAreUnique(t *testing.T) {
	d := mustDef(t, "disbursement")
	seen := map[string]string{}
	record := func(label string, out *Outcome, err error) {
		require.NoError(t, err, label)
		if prev, dup := seen[out.Audit.Action]; dup {
			t.Fatalf("tag %q shared by %s and %s", out.Audit.Action, prev, label)
		}
		seen[out.Audit.Action] = label
	}

	for stage, role := range map[int]string{1: "Budget", 2: "Accounting", 3: "Cashier"} {
		out, err := d.Evaluate(pendingAt(t, "disbursement", stage), cmd(ActionApprove, "u", role))
		record("approve nominal "+role, out, err)
		out, err = d.Evaluate(pendingAt(t, "disbursement", stage), cmd(ActionApprove, "u", "RD"))
		record("approve escalated "+role, out, err)
	}
	skipNext := pendingAt(t, "disbursement", 1)
	skipNext.SkipNext = true
	out, err := d.Evaluate(skipNext, cmd(ActionApprove, "u", "Budget"))
	record("approve skip-next", out, err)
	out, err = d.Evaluate(skipNext, cmd(ActionApprove, "u", "Chief"))
	record("approve skip-next escalated", out, err)
	out, err = d.Evaluate(pendingAt(t, "disbursement", 2), cmd(ActionReject, "u", "Accounting").withRemark("x"))
	record("reject nominal", out, err)
	out, err = d.Evaluate(pendingAt(t, "disbursement", 2), cmd(ActionReject, "u", "SuperAdmin").withRemark("x"))
	record("reject escalated", out, err)
	out, err = d.Evaluate(pendingAt(t, "disbursement", 1), cmd(ActionSkipToFinal, "u", "Budget", "Accounting"))
	record("skip", out, err)

	for _, tag := range []string{TagSubmitted, TagSubmittedStage1Approved, TagSubmittedForCrossCheck, TagSubmittedAutoCompleted} {
		_, dup := seen[tag]
		assert.False(t, dup, tag)
	}
	assert.Len(t, seen, 11)
}

func TestEvaluate_UnknownAction(t *testing.T) {
	d := mustDef(t, "disbursement")
	_, err := d.Evaluate(pendingAt(t, "disbursement", 1), cmd("recall", "u", "Budget"))
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestEvaluate_KindMismatch(t *testing.T) {
	d := mustDef(t, "travel")
	_, err := d.Evaluate(pendingAt(t, "disbursement", 1), cmd(ActionApprove, "u", "Chief"))
	assert.Error(t, err)
}

func TestEvaluate_ExampleScenario(t *testing.T) {
	d := mustDef(t, "disbursement")

	opened, err := d.Open(newDraft("disbursement", "u-clerk"), NewRoleSet())
	require.NoError(t, err)
	req := opened.Request
	assert.Equal(t, PendingStage(1), req.State)

	out, err := d.Evaluate(req, cmd(ActionApprove, "u-budget", "Budget"))
	require.NoError(t, err)
	assert.Equal(t, PendingStage(2), out.Request.State)
	assert.Equal(t, "stage1_approved", out.Audit.Action)
	req = out.Request

	out, err = d.Evaluate(req, cmd(ActionReject, "u-acct", "Accounting").withRemark("insufficient documentation"))
	require.NoError(t, err)
	assert.Equal(t, StateRejected, out.Request.State)
	assert.Equal(t, TagRejected, out.Audit.Action)
	req = out.Request

	_, err = d.Evaluate(req, cmd(ActionApprove, "u-cashier", "Cashier"))
	assert.ErrorIs(t, err, ErrWrongState)
}

func (c Command) withRemark(remark string) Command {
	c.Remark = remark
	return c
}

func withState(req *Request, s State) *Request {
	req.State = s
	return req
}
