package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/greenchain/esg-approvals/internal/apperr"
	"github.com/greenchain/esg-approvals/internal/database"
)

// WorkflowRepository manages approval workflow rows. Only the workflow
// service mutates workflows; the repository is not exposed outside the store.
type WorkflowRepository struct {
	q database.Querier
}

// NewWorkflowRepository creates a repository bound to a pool or transaction.
func NewWorkflowRepository(q database.Querier) *WorkflowRepository {
	return &WorkflowRepository{q: q}
}

// Insert creates a workflow row and fills in generated fields.
func (r *WorkflowRepository) Insert(ctx context.Context, wf *ApprovalWorkflow) error {
	metadataJSON, err := marshalMetadata(wf.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO approval_workflows
		    (title, submitted_by, esg_data_id, metadata, status, current_level)
		VALUES ($1, $2, $3, $4, $5::workflow_status, $6)
		RETURNING id, created_at, updated_at
	`

	err = r.q.QueryRow(ctx, query,
		wf.Title,
		wf.SubmittedBy,
		wf.ESGDataID,
		metadataJSON,
		wf.Status,
		wf.CurrentLevel,
	).Scan(&wf.ID, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to create approval workflow")
	}
	return nil
}

// GetByID retrieves a workflow by its primary key.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*ApprovalWorkflow, error) {
	query := `
		SELECT id, title, submitted_by, esg_data_id, metadata,
		       status, current_level, created_at, updated_at
		FROM approval_workflows
		WHERE id = $1
	`

	wf, err := scanWorkflow(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("workflow", id)
	}
	return wf, err
}

// GetByIDForUpdate retrieves a workflow and locks its row until the caller's
// transaction ends. Mutating operations read through this so two concurrent
// approvals of the same workflow serialize on the row lock instead of both
// evaluating their guards against the same pre-commit snapshot.
func (r *WorkflowRepository) GetByIDForUpdate(ctx context.Context, id string) (*ApprovalWorkflow, error) {
	query := `
		SELECT id, title, submitted_by, esg_data_id, metadata,
		       status, current_level, created_at, updated_at
		FROM approval_workflows
		WHERE id = $1
		FOR UPDATE
	`

	wf, err := scanWorkflow(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("workflow", id)
	}
	return wf, err
}

// List returns workflows matching the filter, newest-created first.
func (r *WorkflowRepository) List(ctx context.Context, f WorkflowFilter) ([]*ApprovalWorkflow, error) {
	query := `
		SELECT id, title, submitted_by, esg_data_id, metadata,
		       status, current_level, created_at, updated_at
		FROM approval_workflows
		WHERE ($1::text IS NULL OR status = $1::workflow_status)
		  AND ($2::text IS NULL OR submitted_by = $2)
		ORDER BY created_at DESC
	`

	rows, err := r.q.Query(ctx, query, f.Status, f.SubmittedBy)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to list workflows")
	}
	defer rows.Close()

	var workflows []*ApprovalWorkflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan workflow")
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// UpdateStatus sets the workflow status.
func (r *WorkflowRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `
		UPDATE approval_workflows
		SET status     = $2::workflow_status,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.q.QueryRow(ctx, query, id, status).Scan(&returnedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("workflow", id)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to update workflow status")
	}
	return nil
}

// AdvanceLevel moves current_level to the given level.
func (r *WorkflowRepository) AdvanceLevel(ctx context.Context, id string, level int) error {
	if level < 1 || level > NumLevels {
		return apperr.Newf(apperr.CodeInternal, "level %d out of range", level)
	}

	query := `
		UPDATE approval_workflows
		SET current_level = $2,
		    updated_at    = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.q.QueryRow(ctx, query, id, level).Scan(&returnedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("workflow", id)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to advance workflow level")
	}
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*ApprovalWorkflow, error) {
	wf := &ApprovalWorkflow{}
	var metadataJSON []byte
	err := row.Scan(
		&wf.ID,
		&wf.Title,
		&wf.SubmittedBy,
		&wf.ESGDataID,
		&metadataJSON,
		&wf.Status,
		&wf.CurrentLevel,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &wf.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow metadata: %w", err)
		}
	}
	return wf, nil
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to marshal metadata")
	}
	return b, nil
}
