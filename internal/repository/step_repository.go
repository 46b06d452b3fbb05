package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/greenchain/esg-approvals/internal/apperr"
	"github.com/greenchain/esg-approvals/internal/database"
)

// StepRepository handles reads and updates on individual approval steps.
// Steps are created together with their workflow inside one transaction.
type StepRepository struct {
	q database.Querier
}

// NewStepRepository creates a repository bound to a pool or transaction.
func NewStepRepository(q database.Querier) *StepRepository {
	return &StepRepository{q: q}
}

// Insert creates one step row and fills in generated fields.
func (r *StepRepository) Insert(ctx context.Context, step *ApprovalStep) error {
	query := `
		INSERT INTO approval_steps
		    (workflow_id, level, approver_role, status)
		VALUES ($1, $2, $3, $4::step_status)
		RETURNING id, created_at, updated_at
	`

	err := r.q.QueryRow(ctx, query,
		step.WorkflowID,
		step.Level,
		step.ApproverRole,
		step.Status,
	).Scan(&step.ID, &step.CreatedAt, &step.UpdatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to create approval step")
	}
	return nil
}

// ListByWorkflowID returns all steps for a workflow ordered by level.
func (r *StepRepository) ListByWorkflowID(ctx context.Context, workflowID string) ([]*ApprovalStep, error) {
	query := `
		SELECT id, workflow_id, level, approver_role, status,
		       approver, comments, action_at, created_at, updated_at
		FROM approval_steps
		WHERE workflow_id = $1
		ORDER BY level ASC
	`

	rows, err := r.q.Query(ctx, query, workflowID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to list approval steps")
	}
	defer rows.Close()

	var steps []*ApprovalStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan approval step")
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// GetByLevel returns the step at the given level within a workflow.
func (r *StepRepository) GetByLevel(ctx context.Context, workflowID string, level int) (*ApprovalStep, error) {
	query := `
		SELECT id, workflow_id, level, approver_role, status,
		       approver, comments, action_at, created_at, updated_at
		FROM approval_steps
		WHERE workflow_id = $1 AND level = $2
	`

	step, err := scanStep(r.q.QueryRow(ctx, query, workflowID, level))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.CodeNotFound, "step level %d not found for workflow %s", level, workflowID)
	}
	return step, err
}

// RecordAction records the outcome of an approval action on a step.
func (r *StepRepository) RecordAction(ctx context.Context, stepID, status, approver, comments string, actionAt time.Time) error {
	query := `
		UPDATE approval_steps
		SET status     = $2::step_status,
		    approver   = $3,
		    comments   = $4,
		    action_at  = $5,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.q.QueryRow(ctx, query, stepID, status, approver, comments, actionAt).Scan(&returnedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("step", stepID)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to record step action")
	}
	return nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

func scanStep(row rowScanner) (*ApprovalStep, error) {
	s := &ApprovalStep{}
	err := row.Scan(
		&s.ID,
		&s.WorkflowID,
		&s.Level,
		&s.ApproverRole,
		&s.Status,
		&s.Approver,
		&s.Comments,
		&s.ActionAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}
