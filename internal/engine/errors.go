package engine

import "fmt"

// ValidationError rejects malformed input before any state is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// State conflict codes. Code names are part of the API error envelope.
const (
	CodeInvalidTransition = "invalid_transition"
	CodeNotReady          = "not_ready"
	CodeAlreadyFunded     = "already_funded"
	CodeAlreadyRated      = "already_rated"
	CodePlanLocked        = "plan_locked"
	CodeAmountMismatch    = "amount_mismatch"
	CodeEngagementExists  = "engagement_exists"
	CodeRatingClosed      = "rating_closed"
)

// StateConflictError reports an operation that is well-formed but not
// allowed in the engagement's current state.
type StateConflictError struct {
	Code   string
	Reason string
}

func (e StateConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// InvariantViolationError means a mutation produced an aggregate that
// fails its own consistency checks. The transaction is rolled back and
// the stored state stays intact.
type InvariantViolationError struct {
	Err error
}

func (e InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation: %v", e.Err)
}

func (e InvariantViolationError) Unwrap() error { return e.Err }
