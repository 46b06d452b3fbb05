package repository

import "time"

// ── Workflow levels ───────────────────────────────────────────────────────────

// NumLevels is the fixed number of approval levels every workflow carries.
const NumLevels = 4

// Approver roles by level. The role string is denormalized onto each step for
// auditability and display.
const (
	RoleSite         = "SITE"
	RoleBusinessUnit = "BUSINESS_UNIT"
	RoleGroupESG     = "GROUP_ESG"
	RoleExecutive    = "EXECUTIVE"
)

var levelRoles = [NumLevels + 1]string{
	1: RoleSite,
	2: RoleBusinessUnit,
	3: RoleGroupESG,
	4: RoleExecutive,
}

// RoleForLevel returns the approver role for a level, or "" when the level is
// out of range.
func RoleForLevel(level int) string {
	if level < 1 || level > NumLevels {
		return ""
	}
	return levelRoles[level]
}

// ── Statuses ──────────────────────────────────────────────────────────────────

// Workflow statuses. Approved and rejected are terminal.
const (
	WorkflowStatusPending  = "pending"
	WorkflowStatusApproved = "approved"
	WorkflowStatusRejected = "rejected"
)

// Step statuses.
const (
	StepStatusWaiting  = "waiting"
	StepStatusApproved = "approved"
	StepStatusRejected = "rejected"
)

// ── Domain types ──────────────────────────────────────────────────────────────

// ApprovalWorkflow is one submission moving through the 4-level pipeline.
type ApprovalWorkflow struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	SubmittedBy  string          `json:"submittedBy"`
	ESGDataID    string          `json:"esgDataId"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	Status       string          `json:"status"`
	CurrentLevel int             `json:"currentLevel"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	Steps        []*ApprovalStep `json:"steps,omitempty"`
}

// Terminal reports whether the workflow can no longer be acted on.
func (w *ApprovalWorkflow) Terminal() bool {
	return w.Status == WorkflowStatusApproved || w.Status == WorkflowStatusRejected
}

// ApprovalStep is one of the four fixed approval levels of a workflow.
type ApprovalStep struct {
	ID           string     `json:"id"`
	WorkflowID   string     `json:"workflowId"`
	Level        int        `json:"level"`
	ApproverRole string     `json:"approverRole"`
	Status       string     `json:"status"`
	Approver     *string    `json:"approver"`
	Comments     *string    `json:"comments"`
	ActionAt     *time.Time `json:"actionAt"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// AuditEntry is one immutable, hash-chained record of a system action.
type AuditEntry struct {
	ID           string         `json:"id"`
	Seq          int64          `json:"seq"`
	Action       string         `json:"action"`
	UserID       string         `json:"userId"`
	Category     string         `json:"category"`
	Details      string         `json:"details"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	PreviousHash string         `json:"previousHash"`
	Hash         string         `json:"hash"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Notification is one message queued for a recipient or audience string.
type Notification struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Type       string    `json:"type"`
	WorkflowID *string   `json:"workflowId"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ── Filters ───────────────────────────────────────────────────────────────────

// WorkflowFilter narrows ListWorkflows by optional equality matches.
type WorkflowFilter struct {
	Status      *string
	SubmittedBy *string
}

// AuditFilter narrows ListAudit. Limit defaults to DefaultAuditLimit.
type AuditFilter struct {
	UserID   *string
	Category *string
	Limit    int
}

// DefaultAuditLimit caps audit listings when no limit is given.
const DefaultAuditLimit = 100
