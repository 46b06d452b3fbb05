package service

import (
	"strings"

	"github.com/greenchain/esg-approvals/internal/repository"
)

// AudienceResolver maps workflow events to notification recipients. The
// engine never interprets the returned strings; resolving an audience to
// individual users is an external concern.
type AudienceResolver interface {
	// ApproverAudience returns the recipient string for the approvers of a level.
	ApproverAudience(level int) string
	// SubmitterAudience returns the recipient string for the original submitter.
	SubmitterAudience(submittedBy string) string
}

// RoleAudienceResolver is the default convention: the lowercased level role
// plus an "_approvers" suffix (e.g. "business_unit_approvers"), and the
// submitter id verbatim.
type RoleAudienceResolver struct{}

func (RoleAudienceResolver) ApproverAudience(level int) string {
	role := repository.RoleForLevel(level)
	if role == "" {
		return ""
	}
	return strings.ToLower(role) + "_approvers"
}

func (RoleAudienceResolver) SubmitterAudience(submittedBy string) string {
	return submittedBy
}
