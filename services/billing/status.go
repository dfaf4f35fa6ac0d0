package billing

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/stripe/stripe-go/v72"

	"github.com/fanlink/fanlink/libs/logging"
)

// statusEntitles reports whether the provider subscription status grants the
// entitled flag. Trials count; everything else does not.
func statusEntitles(status stripe.SubscriptionStatus) bool {
	return status == stripe.SubscriptionStatusActive ||
		status == stripe.SubscriptionStatusTrialing
}

// failure statuses mean the provider has stopped, or given up, collecting
// payment. A subscription still reporting active is inside the provider's own
// retry window and must not be downgraded yet.
var failureStatuses = map[stripe.SubscriptionStatus]bool{
	stripe.SubscriptionStatusPastDue:           true,
	stripe.SubscriptionStatusUnpaid:            true,
	stripe.SubscriptionStatusIncomplete:        true,
	stripe.SubscriptionStatusIncompleteExpired: true,
}

func statusIsFailure(status stripe.SubscriptionStatus) bool {
	return failureStatuses[status]
}

// planTierFor maps the subscription's price to an internal plan tier name.
// Auxiliary display data only; not part of the idempotency contract.
func planTierFor(tiers map[string]string, sub *stripe.Subscription) string {
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return ""
	}
	price := sub.Items.Data[0].Price
	if price == nil {
		return ""
	}
	return tiers[price.ID]
}

func subscriptionCustomerID(sub *stripe.Subscription) string {
	if sub.Customer == nil {
		return ""
	}
	return sub.Customer.ID
}

// resolveSubscriptionUser resolves the internal user an event concerns.
// The identifier embedded in the subscription's own metadata wins; the
// fallback is a store lookup by the provider customer id, logged so the
// fallback path stays visible in dashboards. errNotFound means no retry
// would ever resolve this user.
func resolveSubscriptionUser(ctx context.Context, tx *sqlx.Tx, ds Datastore, sub *stripe.Subscription) (string, error) {
	if userID := sub.Metadata["user_id"]; userID != "" {
		return userID, nil
	}

	customerID := subscriptionCustomerID(sub)
	if customerID == "" {
		return "", errNotFound
	}

	logger := logging.Logger(ctx, "billing").With().
		Str("func", "resolveSubscriptionUser").
		Logger()
	logger.Warn().
		Str("subscription_id", sub.ID).
		Str("customer_id", customerID).
		Msg("subscription metadata missing user_id, falling back to customer lookup")

	return ds.GetUserIDByCustomerID(ctx, tx, customerID)
}
