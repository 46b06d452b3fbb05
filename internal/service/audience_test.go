package service

import "testing"

func TestRoleAudienceResolver(t *testing.T) {
	var resolver RoleAudienceResolver

	tests := []struct {
		level int
		want  string
	}{
		{1, "site_approvers"},
		{2, "business_unit_approvers"},
		{3, "group_esg_approvers"},
		{4, "executive_approvers"},
		{0, ""},
		{5, ""},
	}

	for _, tt := range tests {
		if got := resolver.ApproverAudience(tt.level); got != tt.want {
			t.Errorf("ApproverAudience(%d) = %q, want %q", tt.level, got, tt.want)
		}
	}

	if got := resolver.SubmitterAudience("alice"); got != "alice" {
		t.Errorf("SubmitterAudience(alice) = %q, want alice", got)
	}
}
