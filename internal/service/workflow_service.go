package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/greenchain/esg-approvals/internal/apperr"
	"github.com/greenchain/esg-approvals/internal/metrics"
	"github.com/greenchain/esg-approvals/internal/repository"
)

// Audit actions emitted by the engine.
const (
	ActionWorkflowCreated = "WORKFLOW_CREATED"
	ActionStepApproved    = "STEP_APPROVED"
	ActionStepRejected    = "STEP_REJECTED"
)

// auditCategory groups all engine entries in the audit log.
const auditCategory = "workflow"

// Notification types.
const (
	NotificationInfo  = "info"
	NotificationError = "error"
)

// EventPublisher mirrors committed workflow transitions to an event bus.
// Publishing happens after commit and is never allowed to fail an operation.
type EventPublisher interface {
	PublishWorkflowEvent(ctx context.Context, eventType, workflowID, actorID string, payload map[string]any)
}

// WorkflowService is the approval workflow engine. It owns all workflow and
// step mutations; every transition runs as one transaction containing the
// state change, its audit entry and its notification.
type WorkflowService struct {
	store     repository.Store
	audience  AudienceResolver
	publisher EventPublisher
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

// NewWorkflowService creates the engine. publisher and m may be nil.
func NewWorkflowService(
	store repository.Store,
	audience AudienceResolver,
	publisher EventPublisher,
	m *metrics.Metrics,
	log zerolog.Logger,
) *WorkflowService {
	if audience == nil {
		audience = RoleAudienceResolver{}
	}
	return &WorkflowService{
		store:     store,
		audience:  audience,
		publisher: publisher,
		metrics:   m,
		log:       log,
	}
}

// CreateWorkflowRequest carries the submission under review.
type CreateWorkflowRequest struct {
	Title       string         `json:"title"`
	SubmittedBy string         `json:"submittedBy"`
	ESGDataID   string         `json:"esgDataId"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// CreateWorkflow opens a workflow at level 1 with its four waiting steps.
func (s *WorkflowService) CreateWorkflow(ctx context.Context, req CreateWorkflowRequest) (*repository.ApprovalWorkflow, error) {
	if req.Title == "" {
		return nil, apperr.InvalidInput("title", "title is required")
	}
	if req.SubmittedBy == "" {
		return nil, apperr.InvalidInput("submittedBy", "submitter is required")
	}

	wf := &repository.ApprovalWorkflow{
		Title:        req.Title,
		SubmittedBy:  req.SubmittedBy,
		ESGDataID:    req.ESGDataID,
		Metadata:     req.Metadata,
		Status:       repository.WorkflowStatusPending,
		CurrentLevel: 1,
	}

	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		if err := tx.InsertWorkflow(ctx, wf); err != nil {
			return err
		}

		for level := 1; level <= repository.NumLevels; level++ {
			step := &repository.ApprovalStep{
				WorkflowID:   wf.ID,
				Level:        level,
				ApproverRole: repository.RoleForLevel(level),
				Status:       repository.StepStatusWaiting,
			}
			if err := tx.InsertStep(ctx, step); err != nil {
				return err
			}
			wf.Steps = append(wf.Steps, step)
		}

		if err := tx.AppendAudit(ctx, &repository.AuditEntry{
			Action:   ActionWorkflowCreated,
			UserID:   req.SubmittedBy,
			Category: auditCategory,
			Details:  fmt.Sprintf("approval workflow %q created by %s", req.Title, req.SubmittedBy),
			Metadata: map[string]any{
				"workflowId": wf.ID,
				"esgDataId":  req.ESGDataID,
			},
		}); err != nil {
			return err
		}

		return tx.InsertNotification(ctx, &repository.Notification{
			UserID:     s.audience.ApproverAudience(1),
			Title:      "Approval required",
			Message:    fmt.Sprintf("ESG submission %q is awaiting %s review (level 1)", req.Title, repository.RoleForLevel(1)),
			Type:       NotificationInfo,
			WorkflowID: &wf.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.WorkflowCreated()
	s.publish(ctx, "workflow_created", wf.ID, req.SubmittedBy, map[string]any{
		"title":     wf.Title,
		"esgDataId": wf.ESGDataID,
	})
	s.log.Info().
		Str("workflow_id", wf.ID).
		Str("submitted_by", wf.SubmittedBy).
		Msg("Approval workflow created")

	return wf, nil
}

// ApproveStep approves the current level of a pending workflow. Approving
// level 4 completes the workflow; any earlier level advances it.
func (s *WorkflowService) ApproveStep(ctx context.Context, workflowID string, level int, approver, comments string) (*repository.ApprovalWorkflow, error) {
	var result *repository.ApprovalWorkflow

	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		// Locking read: a concurrent approval of the same workflow waits
		// here and then sees the committed level/status, failing the guard.
		wf, err := tx.GetWorkflowForUpdate(ctx, workflowID)
		if err != nil {
			return err
		}
		if err := s.guard(wf, level, "approve"); err != nil {
			return err
		}

		step, err := tx.GetStep(ctx, workflowID, level)
		if err != nil {
			return err
		}
		if step.Status != repository.StepStatusWaiting {
			return apperr.Newf(apperr.CodeConflict, "step %d is not waiting (status: %s)", level, step.Status)
		}

		now := time.Now().UTC()
		if err := tx.RecordStepAction(ctx, step.ID, repository.StepStatusApproved, approver, comments, now); err != nil {
			return err
		}

		if level < repository.NumLevels {
			nextLevel := level + 1
			if err := tx.AdvanceWorkflowLevel(ctx, workflowID, nextLevel); err != nil {
				return err
			}
			if err := tx.InsertNotification(ctx, &repository.Notification{
				UserID: s.audience.ApproverAudience(nextLevel),
				Title:  "Approval required",
				Message: fmt.Sprintf("ESG submission %q approved at %s, now awaiting %s review (level %d)",
					wf.Title, repository.RoleForLevel(level), repository.RoleForLevel(nextLevel), nextLevel),
				Type:       NotificationInfo,
				WorkflowID: &wf.ID,
			}); err != nil {
				return err
			}
		} else {
			if err := tx.SetWorkflowStatus(ctx, workflowID, repository.WorkflowStatusApproved); err != nil {
				return err
			}
		}

		if err := tx.AppendAudit(ctx, &repository.AuditEntry{
			Action:   ActionStepApproved,
			UserID:   approver,
			Category: auditCategory,
			Details:  fmt.Sprintf("level %d (%s) approved by %s", level, repository.RoleForLevel(level), approver),
			Metadata: map[string]any{
				"workflowId": workflowID,
				"level":      level,
				"comments":   comments,
			},
		}); err != nil {
			return err
		}

		result, err = s.loadWorkflow(ctx, tx, workflowID)
		return err
	})
	if err != nil {
		s.observeGuardFailure(err)
		return nil, err
	}

	s.metrics.StepApproved()
	s.publish(ctx, "step_approved", workflowID, approver, map[string]any{
		"level":  level,
		"status": result.Status,
	})
	s.log.Info().
		Str("workflow_id", workflowID).
		Int("level", level).
		Str("approver", approver).
		Str("status", result.Status).
		Msg("Approval step approved")

	return result, nil
}

// RejectStep rejects the current level of a pending workflow, terminating it.
// Rejection carries the same level and status guards as approval; the
// submitter is notified with the reason.
func (s *WorkflowService) RejectStep(ctx context.Context, workflowID string, level int, approver, reason string) (*repository.ApprovalWorkflow, error) {
	var result *repository.ApprovalWorkflow

	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		wf, err := tx.GetWorkflowForUpdate(ctx, workflowID)
		if err != nil {
			return err
		}
		if err := s.guard(wf, level, "reject"); err != nil {
			return err
		}

		step, err := tx.GetStep(ctx, workflowID, level)
		if err != nil {
			return err
		}
		if step.Status != repository.StepStatusWaiting {
			return apperr.Newf(apperr.CodeConflict, "step %d is not waiting (status: %s)", level, step.Status)
		}

		now := time.Now().UTC()
		if err := tx.RecordStepAction(ctx, step.ID, repository.StepStatusRejected, approver, reason, now); err != nil {
			return err
		}
		if err := tx.SetWorkflowStatus(ctx, workflowID, repository.WorkflowStatusRejected); err != nil {
			return err
		}

		if err := tx.AppendAudit(ctx, &repository.AuditEntry{
			Action:   ActionStepRejected,
			UserID:   approver,
			Category: auditCategory,
			Details:  fmt.Sprintf("level %d (%s) rejected by %s", level, repository.RoleForLevel(level), approver),
			Metadata: map[string]any{
				"workflowId": workflowID,
				"level":      level,
				"reason":     reason,
			},
		}); err != nil {
			return err
		}

		if err := tx.InsertNotification(ctx, &repository.Notification{
			UserID: s.audience.SubmitterAudience(wf.SubmittedBy),
			Title:  "Submission rejected",
			Message: fmt.Sprintf("ESG submission %q was rejected at %s (level %d): %s",
				wf.Title, repository.RoleForLevel(level), level, reason),
			Type:       NotificationError,
			WorkflowID: &wf.ID,
		}); err != nil {
			return err
		}

		result, err = s.loadWorkflow(ctx, tx, workflowID)
		return err
	})
	if err != nil {
		s.observeGuardFailure(err)
		return nil, err
	}

	s.metrics.StepRejected()
	s.publish(ctx, "step_rejected", workflowID, approver, map[string]any{
		"level":  level,
		"reason": reason,
	})
	s.log.Info().
		Str("workflow_id", workflowID).
		Int("level", level).
		Str("approver", approver).
		Msg("Approval step rejected")

	return result, nil
}

// GetWorkflowByID returns a workflow with its steps.
func (s *WorkflowService) GetWorkflowByID(ctx context.Context, id string) (*repository.ApprovalWorkflow, error) {
	return s.loadWorkflow(ctx, s.store, id)
}

// GetWorkflows returns workflows matching the filter, newest first, each with
// its steps.
func (s *WorkflowService) GetWorkflows(ctx context.Context, f repository.WorkflowFilter) ([]*repository.ApprovalWorkflow, error) {
	workflows, err := s.store.ListWorkflows(ctx, f)
	if err != nil {
		return nil, err
	}
	for _, wf := range workflows {
		steps, err := s.store.ListSteps(ctx, wf.ID)
		if err != nil {
			return nil, err
		}
		wf.Steps = steps
	}
	return workflows, nil
}

// ── internals ─────────────────────────────────────────────────────────────────

// guard enforces the transition preconditions: the workflow must be pending
// and the action must target the current level.
func (s *WorkflowService) guard(wf *repository.ApprovalWorkflow, level int, verb string) error {
	if wf.Status != repository.WorkflowStatusPending {
		return apperr.Newf(apperr.CodeTerminal, "Workflow is not pending (status: %s)", wf.Status)
	}
	if level != wf.CurrentLevel {
		return apperr.Newf(apperr.CodeInvalidLevel, "Cannot %s level %d (current level: %d)", verb, level, wf.CurrentLevel)
	}
	return nil
}

func (s *WorkflowService) loadWorkflow(ctx context.Context, store repository.Store, id string) (*repository.ApprovalWorkflow, error) {
	wf, err := store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	steps, err := store.ListSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	wf.Steps = steps
	return wf, nil
}

func (s *WorkflowService) observeGuardFailure(err error) {
	switch apperr.CodeOf(err) {
	case apperr.CodeInvalidLevel, apperr.CodeTerminal:
		s.metrics.GuardFailure()
	}
}

func (s *WorkflowService) publish(ctx context.Context, eventType, workflowID, actorID string, payload map[string]any) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishWorkflowEvent(ctx, eventType, workflowID, actorID, payload)
}
