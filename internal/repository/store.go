package repository

import (
	"context"
	"time"

	"github.com/greenchain/esg-approvals/internal/database"
)

// Store is the persistence port consumed by the services. WithinTx hands the
// callback a Store bound to an open transaction; every mutation made through
// it commits or rolls back as a unit.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Store) error) error

	InsertWorkflow(ctx context.Context, wf *ApprovalWorkflow) error
	GetWorkflow(ctx context.Context, id string) (*ApprovalWorkflow, error)
	// GetWorkflowForUpdate locks the workflow row for the rest of the
	// transaction. Only meaningful inside WithinTx.
	GetWorkflowForUpdate(ctx context.Context, id string) (*ApprovalWorkflow, error)
	ListWorkflows(ctx context.Context, f WorkflowFilter) ([]*ApprovalWorkflow, error)
	SetWorkflowStatus(ctx context.Context, id, status string) error
	AdvanceWorkflowLevel(ctx context.Context, id string, level int) error

	InsertStep(ctx context.Context, step *ApprovalStep) error
	ListSteps(ctx context.Context, workflowID string) ([]*ApprovalStep, error)
	GetStep(ctx context.Context, workflowID string, level int) (*ApprovalStep, error)
	RecordStepAction(ctx context.Context, stepID, status, approver, comments string, actionAt time.Time) error

	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAudit(ctx context.Context, f AuditFilter) ([]*AuditEntry, error)
	ListAuditChain(ctx context.Context) ([]*AuditEntry, error)

	InsertNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]*Notification, error)
	MarkNotificationRead(ctx context.Context, id string) (*Notification, error)
}

// PgStore is the Postgres-backed Store. Outside a transaction it queries the
// pool; inside WithinTx all repositories are bound to the open pgx.Tx.
type PgStore struct {
	db            *database.DB
	workflows     *WorkflowRepository
	steps         *StepRepository
	audits        *AuditRepository
	notifications *NotificationRepository
}

// NewPgStore creates a pool-backed store.
func NewPgStore(db *database.DB) *PgStore {
	return newPgStore(db, db.Pool())
}

func newPgStore(db *database.DB, q database.Querier) *PgStore {
	return &PgStore{
		db:            db,
		workflows:     NewWorkflowRepository(q),
		steps:         NewStepRepository(q),
		audits:        NewAuditRepository(q),
		notifications: NewNotificationRepository(q),
	}
}

// WithinTx runs fn against a transaction-bound copy of the store.
func (s *PgStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.InTransaction(ctx, func(q database.Querier) error {
		return fn(newPgStore(s.db, q))
	})
}

func (s *PgStore) InsertWorkflow(ctx context.Context, wf *ApprovalWorkflow) error {
	return s.workflows.Insert(ctx, wf)
}

func (s *PgStore) GetWorkflow(ctx context.Context, id string) (*ApprovalWorkflow, error) {
	return s.workflows.GetByID(ctx, id)
}

func (s *PgStore) GetWorkflowForUpdate(ctx context.Context, id string) (*ApprovalWorkflow, error) {
	return s.workflows.GetByIDForUpdate(ctx, id)
}

func (s *PgStore) ListWorkflows(ctx context.Context, f WorkflowFilter) ([]*ApprovalWorkflow, error) {
	return s.workflows.List(ctx, f)
}

func (s *PgStore) SetWorkflowStatus(ctx context.Context, id, status string) error {
	return s.workflows.UpdateStatus(ctx, id, status)
}

func (s *PgStore) AdvanceWorkflowLevel(ctx context.Context, id string, level int) error {
	return s.workflows.AdvanceLevel(ctx, id, level)
}

func (s *PgStore) InsertStep(ctx context.Context, step *ApprovalStep) error {
	return s.steps.Insert(ctx, step)
}

func (s *PgStore) ListSteps(ctx context.Context, workflowID string) ([]*ApprovalStep, error) {
	return s.steps.ListByWorkflowID(ctx, workflowID)
}

func (s *PgStore) GetStep(ctx context.Context, workflowID string, level int) (*ApprovalStep, error) {
	return s.steps.GetByLevel(ctx, workflowID, level)
}

func (s *PgStore) RecordStepAction(ctx context.Context, stepID, status, approver, comments string, actionAt time.Time) error {
	return s.steps.RecordAction(ctx, stepID, status, approver, comments, actionAt)
}

func (s *PgStore) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	return s.audits.Append(ctx, entry)
}

func (s *PgStore) ListAudit(ctx context.Context, f AuditFilter) ([]*AuditEntry, error) {
	return s.audits.List(ctx, f)
}

func (s *PgStore) ListAuditChain(ctx context.Context) ([]*AuditEntry, error) {
	return s.audits.ListChain(ctx)
}

func (s *PgStore) InsertNotification(ctx context.Context, n *Notification) error {
	return s.notifications.Insert(ctx, n)
}

func (s *PgStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]*Notification, error) {
	return s.notifications.ListForUser(ctx, userID, unreadOnly)
}

func (s *PgStore) MarkNotificationRead(ctx context.Context, id string) (*Notification, error) {
	return s.notifications.MarkRead(ctx, id)
}
