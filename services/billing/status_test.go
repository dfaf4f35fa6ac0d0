package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v72"
)

func TestStatusEntitles(t *testing.T) {
	assert.True(t, statusEntitles(stripe.SubscriptionStatusActive))
	assert.True(t, statusEntitles(stripe.SubscriptionStatusTrialing))

	assert.False(t, statusEntitles(stripe.SubscriptionStatusPastDue))
	assert.False(t, statusEntitles(stripe.SubscriptionStatusCanceled))
	assert.False(t, statusEntitles(stripe.SubscriptionStatusUnpaid))
	assert.False(t, statusEntitles(stripe.SubscriptionStatusIncomplete))
	assert.False(t, statusEntitles(stripe.SubscriptionStatusIncompleteExpired))
}

func TestStatusIsFailure(t *testing.T) {
	assert.True(t, statusIsFailure(stripe.SubscriptionStatusPastDue))
	assert.True(t, statusIsFailure(stripe.SubscriptionStatusUnpaid))
	assert.True(t, statusIsFailure(stripe.SubscriptionStatusIncomplete))
	assert.True(t, statusIsFailure(stripe.SubscriptionStatusIncompleteExpired))

	// active means the provider is still retrying the charge itself
	assert.False(t, statusIsFailure(stripe.SubscriptionStatusActive))
	assert.False(t, statusIsFailure(stripe.SubscriptionStatusTrialing))
	assert.False(t, statusIsFailure(stripe.SubscriptionStatusCanceled))
}

func TestPlanTierFor(t *testing.T) {
	tiers := map[string]string{"price_basic": "basic", "price_pro": "pro"}

	sub := &stripe.Subscription{
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{Price: &stripe.Price{ID: "price_pro"}},
			},
		},
	}
	assert.Equal(t, "pro", planTierFor(tiers, sub))

	// unknown price maps to no tier
	sub.Items.Data[0].Price.ID = "price_unknown"
	assert.Equal(t, "", planTierFor(tiers, sub))

	// missing items entirely
	assert.Equal(t, "", planTierFor(tiers, &stripe.Subscription{}))
}
