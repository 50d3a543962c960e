package packages

import "time"

// Remaining-session thresholds. Fixed clinic policy.
const (
	CriticalThreshold = 3
	WarningThreshold  = 5
)

// CalculateStatus derives a package status. Expiration wins over exhaustion.
func CalculateStatus(totalSessions, sessionsUsed int, expirationDate *time.Time, now time.Time) Status {
	if expirationDate != nil && now.After(*expirationDate) {
		return StatusExpired
	}
	remaining := totalSessions - sessionsUsed
	switch {
	case remaining <= 0:
		return StatusFinished
	case remaining <= CriticalThreshold:
		return StatusCritical
	case remaining <= WarningThreshold:
		return StatusWarning
	default:
		return StatusActive
	}
}

// effectiveStatus re-evaluates a stored package against now. Terminal states are sticky.
func effectiveStatus(p *TherapyPackage, now time.Time) Status {
	if p.Status.IsTerminal() {
		return p.Status
	}
	return CalculateStatus(p.TotalSessions, p.SessionsUsed, p.ExpirationDate, now)
}
