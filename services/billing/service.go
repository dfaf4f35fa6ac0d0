package billing

import (
	"context"

	"github.com/stripe/stripe-go/v72"

	"github.com/fanlink/fanlink/libs/logging"
)

// stripe webhook event types the service reconciles
const (
	StripeSubscriptionCreated = "customer.subscription.created"
	StripeSubscriptionUpdated = "customer.subscription.updated"
	StripeSubscriptionDeleted = "customer.subscription.deleted"
	StripeInvoicePaymentOK    = "invoice.payment_succeeded"
	StripeInvoicePaymentBad   = "invoice.payment_failed"
)

// providerClient is the narrow provider surface the handlers need
type providerClient interface {
	Subscription(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
}

// Service contains datastore and external collaborators for webhook processing
type Service struct {
	Datastore Datastore

	provider providerClient
	cache    CacheInvalidator
	sink     Sink
	registry *Registry
}

// InitService creates a service using the passed datastore and collaborators,
// registering the reconciliation handlers for the event types we act on.
func InitService(
	ctx context.Context,
	datastore Datastore,
	provider providerClient,
	cache CacheInvalidator,
	sink Sink,
	planTiers map[string]string,
) (*Service, error) {
	service := &Service{
		Datastore: datastore,
		provider:  provider,
		cache:     cache,
		sink:      sink,
	}

	service.registry = NewRegistry(
		newSubscriptionHandler(datastore, sink, planTiers),
		newPaymentHandler(datastore, provider, sink, planTiers),
	)

	return service, nil
}

// Registry exposes the handler registry, mostly for tests
func (s *Service) Registry() *Registry {
	return s.registry
}

// ProcessEvent is the idempotency coordinator: it wraps the dedup check and
// the handler effect in one transaction so that a side effect is durably
// recorded as applied if and only if the processing record for the event id
// commits. A Failed result rolls back everything, processing record included,
// so a provider redelivery retries from scratch.
func (s *Service) ProcessEvent(ctx context.Context, env *Envelope) Result {
	logger := logging.Logger(ctx, "billing").With().
		Str("func", "ProcessEvent").
		Str("event_id", env.ID).
		Str("event_type", env.Type).
		Logger()

	tx, err := s.Datastore.BeginTx()
	if err != nil {
		s.sink.ReportError(ctx, "failed to begin webhook transaction", err, s.eventTags(env))
		recordOutcome(env.Type, OutcomeFailed)
		return Failed(err)
	}
	defer s.Datastore.RollbackTx(tx)

	inserted, err := s.Datastore.InsertProcessingRecord(ctx, tx, env.ID, env.Type, env.ObjectID(), env.CreatedAt)
	if err != nil {
		s.sink.ReportError(ctx, "failed to insert processing record", err, s.eventTags(env))
		recordOutcome(env.Type, OutcomeFailed)
		return Failed(err)
	}
	if !inserted {
		// a concurrent or earlier delivery won the insert; acknowledge and move on
		logger.Debug().Msg("duplicate webhook delivery acknowledged")
		recordDuplicate(env.Type)
		return Skipped(reasonDuplicateEvent)
	}

	result := s.registry.Dispatch(ctx, tx, env)

	switch result.Outcome {
	case OutcomeProcessed:
		if err := s.Datastore.MarkEventProcessed(ctx, tx, env.ID); err != nil {
			s.sink.ReportError(ctx, "failed to mark webhook event processed", err, s.eventTags(env))
			recordOutcome(env.Type, OutcomeFailed)
			return Failed(err)
		}
		if err := tx.Commit(); err != nil {
			s.sink.ReportError(ctx, "failed to commit webhook transaction", err, s.eventTags(env))
			recordOutcome(env.Type, OutcomeFailed)
			return Failed(err)
		}
		// best effort, outside the transaction
		if result.UserID != "" && s.cache != nil {
			s.cache.Invalidate(ctx, result.UserID)
		}
		logger.Info().Str("user_id", result.UserID).Msg("webhook event processed")

	case OutcomeSkipped:
		// the event was legitimately seen and intentionally not actioned;
		// committing the processing record stops redeliveries
		if err := tx.Commit(); err != nil {
			s.sink.ReportError(ctx, "failed to commit webhook transaction", err, s.eventTags(env))
			recordOutcome(env.Type, OutcomeFailed)
			return Failed(err)
		}
		logger.Info().Str("reason", result.Reason).Msg("webhook event skipped")

	case OutcomeFailed:
		// deferred rollback discards the processing record too
		s.sink.ReportError(ctx, "webhook processing failed", result.Err, s.eventTags(env))
	}

	recordOutcome(env.Type, result.Outcome)
	return result
}

func (s *Service) eventTags(env *Envelope) map[string]string {
	return map[string]string{
		"event_id":   env.ID,
		"event_type": env.Type,
		"object_id":  env.ObjectID(),
	}
}
