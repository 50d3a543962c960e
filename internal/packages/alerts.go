package packages

import "fmt"

// AlertTypeForRemaining maps the remaining count after a consumption to an alert tier.
func AlertTypeForRemaining(remaining int) (AlertType, bool) {
	switch {
	case remaining <= 0:
		return "", false
	case remaining == 1:
		return AlertPriorityRed, true
	case remaining <= CriticalThreshold:
		return AlertRed, true
	case remaining <= WarningThreshold:
		return AlertYellow, true
	default:
		return "", false
	}
}

// AlertMessage renders the staff-facing text for an alert.
func AlertMessage(alertType AlertType, packageName string, remaining int) string {
	switch alertType {
	case AlertPriorityRed:
		return fmt.Sprintf("URGENT: only 1 session left in package %q. Offer a renewal at this visit.", packageName)
	case AlertRed:
		return fmt.Sprintf("Package %q is almost used up: %d sessions left. Plan a renewal with the patient.", packageName, remaining)
	case AlertYellow:
		return fmt.Sprintf("Package %q has %d sessions left.", packageName, remaining)
	case AlertExpired:
		return fmt.Sprintf("Package %q has expired with %d unused sessions.", packageName, remaining)
	case AlertExpiringSoon:
		return fmt.Sprintf("Package %q expires soon with %d sessions left.", packageName, remaining)
	default:
		return fmt.Sprintf("Package %q: %d sessions left.", packageName, remaining)
	}
}
