package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/stripe/stripe-go/v72"

	"github.com/fanlink/fanlink/libs/logging"
)

// subscriptionHandler reconciles subscription lifecycle events into the
// user's entitlement flag
type subscriptionHandler struct {
	ds    Datastore
	sink  Sink
	tiers map[string]string
}

func newSubscriptionHandler(ds Datastore, sink Sink, tiers map[string]string) *subscriptionHandler {
	return &subscriptionHandler{ds: ds, sink: sink, tiers: tiers}
}

// EventTypes lists the event types this handler accepts
func (h *subscriptionHandler) EventTypes() []string {
	return []string{
		StripeSubscriptionCreated,
		StripeSubscriptionUpdated,
		StripeSubscriptionDeleted,
	}
}

// Handle maps the provider subscription status onto the entitled flag and
// persists the change inside the coordinator's transaction.
func (h *subscriptionHandler) Handle(ctx context.Context, tx *sqlx.Tx, env *Envelope) Result {
	logger := logging.Logger(ctx, "billing").With().
		Str("func", "subscriptionHandler.Handle").
		Str("event_id", env.ID).
		Logger()

	sub, err := parseEventData[stripe.Subscription](env.Raw)
	if err != nil {
		return Failed(fmt.Errorf("error parsing webhook subscription: %w", err))
	}

	userID, err := resolveSubscriptionUser(ctx, tx, h.ds, sub)
	if err != nil {
		if errors.Is(err, errNotFound) {
			// no retry path would resolve this user
			logger.Warn().Str("subscription_id", sub.ID).Msg("could not identify user for subscription event")
			return Skipped(reasonCannotIdentifyUser)
		}
		return Failed(fmt.Errorf("error resolving user for subscription: %w", err))
	}

	entitled := statusEntitles(sub.Status)

	update := &BillingUpdate{
		UserID:         userID,
		IsEntitled:     entitled,
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
			return Skipped(reasonCannotIdentifyUser)
		}
		return Failed(fmt.Errorf("error updating billing state: %w", err))
	}

	logger.Info().
		Str("user_id", userID).
		Str("subscription_status", string(sub.Status)).
		Bool("is_entitled", entitled).
		Msg("subscription reconciled")

	return Processed(userID)
}
