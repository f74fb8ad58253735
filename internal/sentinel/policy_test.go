package sentinel

import (
	"testing"

	"github.com/linnemanlabs/sentinel/internal/notice"
)

func TestAccept(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role        notice.Role
		processTest bool
		want        bool
	}{
		{notice.RoleObservation, false, true},
		{notice.RoleObservation, true, true},
		{notice.RoleTest, false, false},
		{notice.RoleTest, true, true},
		{notice.RoleUtility, true, false},
		{notice.Role("prediction"), true, false},
		{notice.Role(""), true, false},
	}

	for _, tt := range tests {
		if got := Accept(tt.role, tt.processTest); got != tt.want {
			t.Errorf("Accept(%q, %v) = %v, want %v", tt.role, tt.processTest, got, tt.want)
		}
	}
}
