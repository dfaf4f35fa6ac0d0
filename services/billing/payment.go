package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/stripe/stripe-go/v72"

	"github.com/fanlink/fanlink/libs/logging"
)

// paymentHandler reconciles invoice payment events. Success can only upgrade,
// failure can only downgrade, and both defer to the subscription's current
// status as reported by the provider.
type paymentHandler struct {
	ds       Datastore
	provider providerClient
	sink     Sink
	tiers    map[string]string
}

func newPaymentHandler(ds Datastore, provider providerClient, sink Sink, tiers map[string]string) *paymentHandler {
	return &paymentHandler{ds: ds, provider: provider, sink: sink, tiers: tiers}
}

// EventTypes lists the event types this handler accepts
func (h *paymentHandler) EventTypes() []string {
	return []string{
		StripeInvoicePaymentOK,
		StripeInvoicePaymentBad,
	}
}

// Handle routes to the success or failure path for the invoice
func (h *paymentHandler) Handle(ctx context.Context, tx *sqlx.Tx, env *Envelope) Result {
	invoice, err := parseEventData[stripe.Invoice](env.Raw)
	if err != nil {
		return Failed(fmt.Errorf("error parsing webhook invoice: %w", err))
	}

	switch env.Type {
	case StripeInvoicePaymentOK:
		return h.handlePaymentSucceeded(ctx, tx, env, invoice)
	case StripeInvoicePaymentBad:
		return h.handlePaymentFailed(ctx, tx, env, invoice)
	}

	return Skipped(reasonUnhandledEventType)
}

// handlePaymentSucceeded upgrades the user when a subscription invoice is
// paid. A missed upgrade is low severity, so unexpected errors on this path
// are reported and skipped rather than failed; failing would put the provider
// into an indefinite redelivery loop for an event we can never act on better.
func (h *paymentHandler) handlePaymentSucceeded(ctx context.Context, tx *sqlx.Tx, env *Envelope, invoice *stripe.Invoice) Result {
	logger := logging.Logger(ctx, "billing").With().
		Str("func", "paymentHandler.handlePaymentSucceeded").
		Str("event_id", env.ID).
		Logger()

	subID := env.referenceID("subscription")
	if subID == "" {
		// one-time payment, nothing to reconcile
		return Skipped(reasonNoSubscription)
	}

	sub, err := h.provider.Subscription(ctx, subID, nil)
	if err != nil {
		h.sink.ReportError(ctx, "error retrieving subscription for paid invoice", err, map[string]string{
			"event_id":        env.ID,
			"invoice_id":      invoice.ID,
			"subscription_id": subID,
		})
		return Skipped(reasonPaymentSuccessErr)
	}

	userID, err := resolveSubscriptionUser(ctx, tx, h.ds, sub)
	if err != nil {
		if errors.Is(err, errNotFound) {
			logger.Warn().Str("subscription_id", sub.ID).Msg("no user id resolvable for paid invoice")
			return Skipped("no_user_id_on_subscription")
		}
		h.sink.ReportError(ctx, "error resolving user for paid invoice", err, map[string]string{
			"event_id":        env.ID,
			"subscription_id": sub.ID,
		})
		return Skipped(reasonPaymentSuccessErr)
	}

	if !statusEntitles(sub.Status) {
		logger.Info().
			Str("subscription_status", string(sub.Status)).
			Msg("paid invoice for subscription not in an entitling status")
		return Skipped(reasonNotActionable)
	}

	update := &BillingUpdate{
		UserID:         userID,
		IsEntitled:     true,
		PlanTier:       planTierFor(h.tiers, sub),
		CustomerID:     subscriptionCustomerID(sub),
		SubscriptionID: sub.ID,
		EventAt:        env.CreatedAt,
	}

	if err := h.ds.UpdateBillingState(ctx, tx, update); err != nil {
		switch {
		case errors.Is(err, errStaleEvent):
			return Skipped(reasonStaleEvent)
		case errors.Is(err, errNotFound):
			return Skipped("no_user_id_on_subscription")
		}
		h.sink.ReportError(ctx, "error updating billing state for paid invoice", err, map[string]string{
			"event_id": env.ID,
			"user_id":  userID,
		})
		return Skipped(reasonPaymentSuccessErr)
	}

	logger.Info().Str("user_id", userID).Msg("payment success reconciled")

	return Processed(userID)
}

// handlePaymentFailed downgrades the user only once the provider itself
// reports the subscription in a failure status. Payment failures are always
// audited first, whatever the outcome; a billing-state write failure is a
// real, retry-worthy fault and propagates as Failed.
func (h *paymentHandler) handlePaymentFailed(ctx context.Context, tx *sqlx.Tx, env *Envelope, invoice *stripe.Invoice) Result {
	logger := logging.Logger(ctx, "billing").With().
		Str("func", "paymentHandler.handlePaymentFailed").
		Str("event_id", env.ID).
		Logger()

	h.sink.ReportAudit(ctx, "invoice payment failed", map[string]string{
		"event_id":      env.ID,
		"invoice_id":    invoice.ID,
		"amount_due":    strconv.FormatInt(invoice.AmountDue, 10),
		"attempt_count": strconv.FormatInt(invoice.AttemptCount, 10),
	})

	subID := env.referenceID("subscription")
	if subID == "" {
		return Skipped(reasonNoSubscription)
	}

	sub, err := h.provider.Subscription(ctx, subID, nil)
	if err != nil {
		return Failed(fmt.Errorf("error retrieving subscription for failed invoice: %w", err))
	}

	if !statusIsFailure(sub.Status) {
		// the provider has not given up retrying the charge yet
		logger.Info().
			Str("subscription_status", string(sub.Status)).
			Msg("payment failed but subscription not in failure status, no downgrade")
		return Skipped(reasonNotInFailureStatus)
	}

	userID, err := resolveSubscriptionUser(ctx, tx, h.ds, sub)
	if err != nil {
		if errors.Is(err, errNotFound) {
			logger.Warn().Str("subscription_id", sub.ID).Msg("could not identify user for failed invoice")
			return Skipped(reasonCannotIdentifyUser)
		}
		return Failed(fmt.Errorf("error resolving user for failed invoice: %w", err))
	}

	update := &BillingUpdate{
		UserID:         userID,
		IsEntitled:     false,
		CustomerID:     subscriptionCustomerID(sub),
		SubscriptionID: sub.ID,
		EventAt:        env.CreatedAt,
	}

	if err := h.ds.UpdateBillingState(ctx, tx, update); err != nil {
		switch {
		case errors.Is(err, errStaleEvent):
			return Skipped(reasonStaleEvent)
		case errors.Is(err, errNotFound):
			return Skipped(reasonCannotIdentifyUser)
		}
		return Failed(fmt.Errorf("error updating billing state for failed invoice: %w", err))
	}

	logger.Info().Str("user_id", userID).Msg("payment failure reconciled, user downgraded")

	return Processed(userID)
}
