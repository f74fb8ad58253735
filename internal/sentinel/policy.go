package sentinel

import "github.com/linnemanlabs/sentinel/internal/notice"

// Accept is the pre-queue role filter. Observation notices always pass,
// test notices only when processTest is set, utility notices never.
func Accept(role notice.Role, processTest bool) bool {
	switch role {
	case notice.RoleObservation:
		return true
	case notice.RoleTest:
		return processTest
	default:
		return false
	}
}
