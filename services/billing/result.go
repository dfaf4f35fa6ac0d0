package billing

// Outcome classifies what a handler did with an event
type Outcome string

const (
	// OutcomeProcessed - the handler applied a durable side effect
	OutcomeProcessed Outcome = "processed"
	// OutcomeSkipped - the handler intentionally applied no effect, not an error
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed - the handler could not apply its effect and the event should be redelivered
	OutcomeFailed Outcome = "failed"
)

// skip reasons surfaced in logs and metrics
const (
	reasonUnhandledEventType = "unhandled_event_type"
	reasonDuplicateEvent     = "duplicate_event"
	reasonCannotIdentifyUser = "cannot_identify_user"
	reasonNoSubscription     = "invoice_has_no_subscription"
	reasonNotInFailureStatus = "subscription_not_in_failure_status"
	reasonNotActionable      = "subscription_status_not_actionable"
	reasonPaymentSuccessErr  = "error_processing_payment_success"
	reasonStaleEvent         = "stale_event"
)

// Result is the tagged outcome returned by every handler. It is consumed by
// the coordinator to decide commit vs rollback and by the webhook controller
// to pick a response status.
type Result struct {
	Outcome Outcome
	Reason  string // populated on skips
	Err     error  // populated on failures
	UserID  string // populated when a user's billing state changed
}

// Processed - the effect was applied for the given user
func Processed(userID string) Result {
	return Result{Outcome: OutcomeProcessed, UserID: userID}
}

// Skipped - no effect was applied, by design
func Skipped(reason string) Result {
	return Result{Outcome: OutcomeSkipped, Reason: reason}
}

// Failed - the effect was not applied and the provider should redeliver
func Failed(err error) Result {
	return Result{Outcome: OutcomeFailed, Err: err}
}
