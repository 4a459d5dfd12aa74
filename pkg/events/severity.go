package events

import "encoding/json"

// ValidationResult represents the final verdict for a validated event.
// Results are ordered by severity: VALID < WARNING < ERROR < CRITICAL.
type ValidationResult int

const (
	ResultValid ValidationResult = iota
	ResultWarning
	ResultError
	ResultCritical
)

func (r ValidationResult) String() string {
	switch r {
	case ResultValid:
		return "VALID"
	case ResultWarning:
		return "WARNING"
	case ResultError:
		return "ERROR"
	case ResultCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// IsFailure reports whether the result should be treated as a validation
// failure by the circuit breaker and metrics.
func (r ValidationResult) IsFailure() bool {
	return r >= ResultError
}

// MarshalJSON serializes the result as its string form so reports stay
// readable across SDKs.
func (r ValidationResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}
