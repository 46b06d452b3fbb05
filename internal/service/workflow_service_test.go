package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenchain/esg-approvals/internal/apperr"
	"github.com/greenchain/esg-approvals/internal/repository"
	"github.com/greenchain/esg-approvals/internal/repository/memstore"
	"github.com/greenchain/esg-approvals/internal/service"
)

func newEngine(t *testing.T) (*service.WorkflowService, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	engine := service.NewWorkflowService(store, service.RoleAudienceResolver{}, nil, nil, zerolog.Nop())
	return engine, store
}

func createWorkflow(t *testing.T, engine *service.WorkflowService) *repository.ApprovalWorkflow {
	t.Helper()
	wf, err := engine.CreateWorkflow(context.Background(), service.CreateWorkflowRequest{
		Title:       "Q1 ESG Submission",
		SubmittedBy: "alice",
		ESGDataID:   "42",
	})
	require.NoError(t, err)
	return wf
}

func auditCount(t *testing.T, store *memstore.Store) int {
	t.Helper()
	entries, err := store.ListAuditChain(context.Background())
	require.NoError(t, err)
	return len(entries)
}

func TestCreateWorkflow(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()

	wf, err := engine.CreateWorkflow(ctx, service.CreateWorkflowRequest{
		Title:       "Q1 ESG Submission",
		SubmittedBy: "alice",
		ESGDataID:   "42",
		Metadata:    map[string]any{"site": "plant-7"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, wf.ID)
	assert.Equal(t, repository.WorkflowStatusPending, wf.Status)
	assert.Equal(t, 1, wf.CurrentLevel)
	require.Len(t, wf.Steps, 4)
	for i, step := range wf.Steps {
		assert.Equal(t, i+1, step.Level)
		assert.Equal(t, repository.StepStatusWaiting, step.Status)
		assert.Equal(t, repository.RoleForLevel(i+1), step.ApproverRole)
	}

	entries, err := store.ListAuditChain(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, service.ActionWorkflowCreated, entries[0].Action)
	assert.Equal(t, "alice", entries[0].UserID)
	assert.Equal(t, "workflow", entries[0].Category)

	notifications, err := store.ListNotifications(ctx, "site_approvers", false)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.False(t, notifications[0].Read)
	assert.Equal(t, wf.ID, *notifications[0].WorkflowID)
}

func TestCreateWorkflow_Validation(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  service.CreateWorkflowRequest
	}{
		{"missing title", service.CreateWorkflowRequest{SubmittedBy: "alice"}},
		{"missing submitter", service.CreateWorkflowRequest{Title: "Q1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.CreateWorkflow(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
		})
	}
	assert.Zero(t, auditCount(t, store))
}

func TestApproveStep_AdvancesLevel(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	wf := createWorkflow(t, engine)

	updated, err := engine.ApproveStep(ctx, wf.ID, 1, "bob", "looks good")
	require.NoError(t, err)

	assert.Equal(t, repository.WorkflowStatusPending, updated.Status)
	assert.Equal(t, 2, updated.CurrentLevel)

	step := updated.Steps[0]
	assert.Equal(t, repository.StepStatusApproved, step.Status)
	require.NotNil(t, step.Approver)
	assert.Equal(t, "bob", *step.Approver)
	require.NotNil(t, step.Comments)
	assert.Equal(t, "looks good", *step.Comments)
	require.NotNil(t, step.ActionAt)
	assert.Equal(t, repository.StepStatusWaiting, updated.Steps[1].Status)

	notifications, err := store.ListNotifications(ctx, "business_unit_approvers", false)
	require.NoError(t, err)
	require.Len(t, notifications, 1)

	entries, err := store.ListAudit(ctx, repository.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, service.ActionStepApproved, entries[0].Action)
	assert.EqualValues(t, 1, entries[0].Metadata["level"])
}

func TestApproveStep_WrongLevel(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	wf := createWorkflow(t, engine)

	_, err := engine.ApproveStep(ctx, wf.ID, 1, "bob", "")
	require.NoError(t, err)
	before := auditCount(t, store)

	_, err = engine.ApproveStep(ctx, wf.ID, 3, "carol", "")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidLevel, apperr.CodeOf(err))
	assert.Contains(t, err.Error(), "Cannot approve level 3")

	// No rows changed: workflow, steps, audit, notifications all untouched.
	current, err := engine.GetWorkflowByID(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, current.CurrentLevel)
	assert.Equal(t, repository.WorkflowStatusPending, current.Status)
	assert.Equal(t, repository.StepStatusWaiting, current.Steps[2].Status)
	assert.Equal(t, before, auditCount(t, store))

	notifications, err := store.ListNotifications(ctx, "group_esg_approvers", false)
	require.NoError(t, err)
	assert.Empty(t, notifications)
}

func TestApproveStep_SameLevelTwice(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	wf := createWorkflow(t, engine)

	_, err := engine.ApproveStep(ctx, wf.ID, 1, "bob", "")
	require.NoError(t, err)

	// Once the first approval lands, a second one for the same level must
	// fail the guard; the row lock makes concurrent callers resolve this way.
	_, err = engine.ApproveStep(ctx, wf.ID, 1, "mallory", "")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidLevel, apperr.CodeOf(err))

	step, err := store.GetStep(ctx, wf.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "bob", *step.Approver)

	entries, err := store.ListAuditChain(ctx)
	require.NoError(t, err)
	approvals := 0
	for _, e := range entries {
		if e.Action == service.ActionStepApproved {
			approvals++
		}
	}
	assert.Equal(t, 1, approvals)
}

func TestApproveStep_ReadsWorkflowUnderLock(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	wf := createWorkflow(t, engine)

	// The approval transaction must acquire the workflow row lock before any
	// mutation; a failed locking read aborts with nothing changed.
	store.FailOn("GetWorkflowForUpdate", errors.New("lock wait timeout"))
	_, err := engine.ApproveStep(ctx, wf.ID, 1, "bob", "")
	require.Error(t, err)

	current, err := engine.GetWorkflowByID(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, current.CurrentLevel)
	assert.Equal(t, repository.WorkflowStatusPending, current.Status)
	assert.Equal(t, 1, auditCount(t, store))
}

func TestApproveStep_NotFound(t *testing.T) {
	engine, _ := newEngine(t)

	_, err := engine.ApproveStep(context.Background(), "no-such-workflow", 1, "bob", "")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestRejectStep_TerminatesWorkflow(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	wf := createWorkflow(t, engine)

	_, err := engine.ApproveStep(ctx, wf.ID, 1, "bob", "")
	require.NoError(t, err)

	updated, err := engine.RejectStep(ctx, wf.ID, 2, "carol", "missing data")
	require.NoError(t, err)

	// Rejected immediately even though levels 3 and 4 never acted.
	assert.Equal(t, repository.WorkflowStatusRejected, updated.Status)
	assert.Equal(t, repository.StepStatusRejected, updated.Steps[1].Status)
	require.NotNil(t, updated.Steps[1].Comments)
	assert.Equal(t, "missing data", *updated.Steps[1].Comments)
	assert.Equal(t, repository.StepStatusWaiting, updated.Steps[2].Status)
	assert.Equal(t, repository.StepStatusWaiting, updated.Steps[3].Status)

	// Submitter is notified with the reason.
	notifications, err := store.ListNotifications(ctx, "alice", false)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, service.NotificationError, notifications[0].Type)
	assert.Contains(t, notifications[0].Message, "missing data")

	entries, err := store.ListAudit(ctx, repository.AuditFilter{})
	require.NoError(t, err)
	assert.Equal(t, service.ActionStepRejected, entries[0].Action)
	assert.Equal(t, "missing data", entries[0].Metadata["reason"])
}

func TestRejectStep_WrongLevel(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	wf := createWorkflow(t, engine)
	before := auditCount(t, store)

	_, err := engine.RejectStep(ctx, wf.ID, 3, "carol", "nope")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidLevel, apperr.CodeOf(err))
	assert.Contains(t, err.Error(), "Cannot reject level 3")

	current, err := engine.GetWorkflowByID(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.WorkflowStatusPending, current.Status)
	assert.Equal(t, before, auditCount(t, store))
}

func TestTerminalImmutability(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()

	t.Run("after rejection", func(t *testing.T) {
		wf := createWorkflow(t, engine)
		rejected, err := engine.RejectStep(ctx, wf.ID, 1, "bob", "no")
		require.NoError(t, err)
		assert.True(t, rejected.Terminal())
		before := auditCount(t, store)

		_, err = engine.ApproveStep(ctx, wf.ID, 1, "bob", "")
		require.Error(t, err)
		assert.Equal(t, apperr.CodeTerminal, apperr.CodeOf(err))
		assert.Contains(t, err.Error(), "not pending")

		_, err = engine.RejectStep(ctx, wf.ID, 1, "bob", "again")
		require.Error(t, err)
		assert.Equal(t, apperr.CodeTerminal, apperr.CodeOf(err))
		assert.Equal(t, before, auditCount(t, store))
	})

	t.Run("after full approval", func(t *testing.T) {
		wf := createWorkflow(t, engine)
		var final *repository.ApprovalWorkflow
		for level := 1; level <= 4; level++ {
			var err error
			final, err = engine.ApproveStep(ctx, wf.ID, level, fmt.Sprintf("approver-%d", level), "")
			require.NoError(t, err)
		}
		assert.True(t, final.Terminal())
		before := auditCount(t, store)

		_, err := engine.ApproveStep(ctx, wf.ID, 4, "late", "")
		require.Error(t, err)
		assert.Equal(t, apperr.CodeTerminal, apperr.CodeOf(err))
		assert.Equal(t, before, auditCount(t, store))
	})
}

func TestFullApprovalSequence(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	wf := createWorkflow(t, engine)

	var final *repository.ApprovalWorkflow
	for level := 1; level <= 4; level++ {
		var err error
		final, err = engine.ApproveStep(ctx, wf.ID, level, fmt.Sprintf("approver-%d", level), "ok")
		require.NoError(t, err)

		if level < 4 {
			// currentLevel only ever increases by exactly 1 per approval.
			assert.Equal(t, level+1, final.CurrentLevel)
			assert.Equal(t, repository.WorkflowStatusPending, final.Status)
		}
	}

	assert.Equal(t, repository.WorkflowStatusApproved, final.Status)
	assert.Equal(t, 4, final.CurrentLevel)
	for _, step := range final.Steps {
		assert.Equal(t, repository.StepStatusApproved, step.Status)
	}

	// 1 WORKFLOW_CREATED + 4 STEP_APPROVED, chained end-to-end.
	entries, err := store.ListAuditChain(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, "0", entries[0].PreviousHash)
	for i := 1; i < len(entries); i++ {
		assert.Equal(t, entries[i-1].Hash, entries[i].PreviousHash, "link %d", i)
	}

	audits := service.NewAuditService(store, zerolog.Nop())
	count, err := audits.VerifyChain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	// No notification is sent for the terminal level-4 approval.
	notifications, err := store.ListNotifications(ctx, "executive_approvers", false)
	require.NoError(t, err)
	assert.Len(t, notifications, 1) // only the 3->4 advancement notice
}

func TestHashChain_InterleavedWorkflows(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()

	a := createWorkflow(t, engine)
	b := createWorkflow(t, engine)

	_, err := engine.ApproveStep(ctx, a.ID, 1, "bob", "")
	require.NoError(t, err)
	_, err = engine.ApproveStep(ctx, b.ID, 1, "bob", "")
	require.NoError(t, err)
	_, err = engine.RejectStep(ctx, b.ID, 2, "carol", "wrong scope")
	require.NoError(t, err)

	// Appends from unrelated workflows interleave into one valid chain.
	audits := service.NewAuditService(store, zerolog.Nop())
	count, err := audits.VerifyChain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestApproveStep_Atomicity(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	wf := createWorkflow(t, engine)
	before := auditCount(t, store)

	store.FailOn("AppendAudit", errors.New("storage failure"))

	_, err := engine.ApproveStep(ctx, wf.ID, 1, "bob", "")
	require.Error(t, err)

	// The step update rolled back with the failed audit append.
	current, err := engine.GetWorkflowByID(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, current.CurrentLevel)
	assert.Equal(t, repository.WorkflowStatusPending, current.Status)
	assert.Equal(t, repository.StepStatusWaiting, current.Steps[0].Status)
	assert.Nil(t, current.Steps[0].Approver)
	assert.Equal(t, before, auditCount(t, store))

	notifications, err := store.ListNotifications(ctx, "business_unit_approvers", false)
	require.NoError(t, err)
	assert.Empty(t, notifications)

	// The workflow is still actionable afterwards.
	_, err = engine.ApproveStep(ctx, wf.ID, 1, "bob", "")
	require.NoError(t, err)
}

func TestCreateWorkflow_Atomicity(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()

	store.FailOn("InsertNotification", errors.New("storage failure"))

	_, err := engine.CreateWorkflow(ctx, service.CreateWorkflowRequest{
		Title:       "Q1 ESG Submission",
		SubmittedBy: "alice",
	})
	require.Error(t, err)

	// No partial workflow, no orphan steps, no orphan audit entry.
	workflows, err := store.ListWorkflows(ctx, repository.WorkflowFilter{})
	require.NoError(t, err)
	assert.Empty(t, workflows)
	assert.Zero(t, auditCount(t, store))
}

func TestGetWorkflows_Filters(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	a := createWorkflow(t, engine)
	_, err := engine.CreateWorkflow(ctx, service.CreateWorkflowRequest{
		Title:       "Q2 ESG Submission",
		SubmittedBy: "dave",
	})
	require.NoError(t, err)
	_, err = engine.RejectStep(ctx, a.ID, 1, "bob", "redo")
	require.NoError(t, err)

	all, err := engine.GetWorkflows(ctx, repository.WorkflowFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, wf := range all {
		assert.Len(t, wf.Steps, 4)
	}

	rejected := repository.WorkflowStatusRejected
	got, err := engine.GetWorkflows(ctx, repository.WorkflowFilter{Status: &rejected})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)

	dave := "dave"
	got, err = engine.GetWorkflows(ctx, repository.WorkflowFilter{SubmittedBy: &dave})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "dave", got[0].SubmittedBy)

	// Read paths are side-effect free: repeating yields the same result.
	again, err := engine.GetWorkflows(ctx, repository.WorkflowFilter{SubmittedBy: &dave})
	require.NoError(t, err)
	assert.Equal(t, got, again)
}
