package billing

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fanlink/fanlink/libs/datastore"
	"github.com/fanlink/fanlink/libs/logging"
)

var (
	errNotFound = errors.New("not found")
	// errStaleEvent - the billing write lost to a newer already-applied event
	errStaleEvent = errors.New("stale billing event")
)

// Datastore abstracts over the underlying datastore
type Datastore interface {
	datastore.Datastore
	// InsertProcessingRecord inserts the dedup marker for an event id inside tx,
	// returning false when a record for the id already exists
	InsertProcessingRecord(ctx context.Context, tx *sqlx.Tx, externalEventID, eventType, objectID string, receivedAt time.Time) (bool, error)
	// MarkEventProcessed stamps the processing record after a successful handler run
	MarkEventProcessed(ctx context.Context, tx *sqlx.Tx, externalEventID string) error
	// GetUserIDByCustomerID resolves an internal user by the provider's customer id
	GetUserIDByCustomerID(ctx context.Context, tx *sqlx.Tx, customerID string) (string, error)
	// UpdateBillingState applies a reconciled billing change to the user row
	UpdateBillingState(ctx context.Context, tx *sqlx.Tx, update *BillingUpdate) error
}

// BillingUpdate carries one reconciled billing change for a user
type BillingUpdate struct {
	UserID         string
	IsEntitled     bool
	PlanTier       string
	CustomerID     string
	SubscriptionID string
	EventAt        time.Time
}

// Postgres is a Datastore wrapper around a postgres database
type Postgres struct {
	datastore.Postgres
}

// NewPostgres creates a new billing Datastore
func NewPostgres(databaseURL string, performMigration bool, dbStatsPrefix ...string) (Datastore, error) {
	pg, err := datastore.NewPostgres(databaseURL, performMigration, dbStatsPrefix...)
	if pg != nil {
		return &Postgres{*pg}, err
	}
	return nil, err
}

// InsertProcessingRecord uses conflict-on-insert as the idempotency strategy:
// the uniqueness constraint on external_event_id is the single authority on
// whether an event has been seen, so concurrent deliveries of the same id
// cannot both observe "new" regardless of isolation level.
func (pg *Postgres) InsertProcessingRecord(ctx context.Context, tx *sqlx.Tx, externalEventID, eventType, objectID string, receivedAt time.Time) (bool, error) {
	result, err := tx.ExecContext(ctx, `
		INSERT INTO processing_records (external_event_id, event_type, object_id, received_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_event_id) DO NOTHING`,
		externalEventID, eventType, objectID, receivedAt,
	)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows == 1, nil
}

// MarkEventProcessed records when the handler effect for the event was applied
func (pg *Postgres) MarkEventProcessed(ctx context.Context, tx *sqlx.Tx, externalEventID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE processing_records SET processed_at = CURRENT_TIMESTAMP
		WHERE external_event_id = $1`,
		externalEventID,
	)
	return err
}

// GetUserIDByCustomerID resolves the internal user owning the provider customer
func (pg *Postgres) GetUserIDByCustomerID(ctx context.Context, tx *sqlx.Tx, customerID string) (string, error) {
	var userID string
	err := tx.GetContext(ctx, &userID,
		`SELECT id FROM users WHERE provider_customer_id = $1`, customerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", errNotFound
		}
		return "", err
	}
	return userID, nil
}

// UpdateBillingState applies the billing change, bumping billing_version and
// refusing writes older than the last applied event for the user. Returns
// errStaleEvent when the guard rejects the write and errNotFound when no user
// row exists at all.
func (pg *Postgres) UpdateBillingState(ctx context.Context, tx *sqlx.Tx, update *BillingUpdate) error {
	logger := logging.Logger(ctx, "billing.UpdateBillingState")

	result, err := tx.ExecContext(ctx, `
		UPDATE users
		SET is_entitled = $2,
			plan_tier = COALESCE(NULLIF($3, ''), plan_tier),
			provider_customer_id = COALESCE(NULLIF($4, ''), provider_customer_id),
			provider_subscription_id = COALESCE(NULLIF($5, ''), provider_subscription_id),
			billing_version = billing_version + 1,
			last_billing_event_at = $6,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
			AND (last_billing_event_at IS NULL OR last_billing_event_at <= $6)`,
		update.UserID, update.IsEntitled, update.PlanTier,
		update.CustomerID, update.SubscriptionID, update.EventAt,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	// the guard and a missing row are indistinguishable from rows affected alone
	var exists bool
	if err := tx.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, update.UserID); err != nil {
		return err
	}
	if exists {
		logger.Warn().
			Str("user_id", update.UserID).
			Time("event_at", update.EventAt).
			Msg("rejected billing write older than last applied event")
		return errStaleEvent
	}
	return errNotFound
}
