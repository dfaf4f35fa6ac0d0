package billing

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"

	"github.com/fanlink/fanlink/libs/datastore"
)

func newMockPG(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	return &Postgres{
		datastore.Postgres{
			DB: sqlx.NewDb(db, "postgres"),
		},
	}, mock
}

func beginMockTx(t *testing.T, pg *Postgres, mock sqlmock.Sqlmock) *sqlx.Tx {
	mock.ExpectBegin()
	tx, err := pg.RawDB().Beginx()
	assert.NoError(t, err)
	return tx
}

func TestInsertProcessingRecord(t *testing.T) {
	pg, mock := newMockPG(t)
	tx := beginMockTx(t, pg, mock)

	mock.ExpectExec("INSERT INTO processing_records").
		WithArgs("evt_1", StripeSubscriptionUpdated, "sub_1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, err := pg.InsertProcessingRecord(context.Background(), tx, "evt_1", StripeSubscriptionUpdated, "sub_1", time.Now())
	assert.NoError(t, err)
	assert.True(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertProcessingRecordDuplicate(t *testing.T) {
	pg, mock := newMockPG(t)
	tx := beginMockTx(t, pg, mock)

	// conflicting insert affects zero rows
	mock.ExpectExec("INSERT INTO processing_records").
		WithArgs("evt_1", StripeSubscriptionUpdated, "sub_1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := pg.InsertProcessingRecord(context.Background(), tx, "evt_1", StripeSubscriptionUpdated, "sub_1", time.Now())
	assert.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkEventProcessed(t *testing.T) {
	pg, mock := newMockPG(t)
	tx := beginMockTx(t, pg, mock)

	mock.ExpectExec("UPDATE processing_records").
		WithArgs("evt_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, pg.MarkEventProcessed(context.Background(), tx, "evt_1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserIDByCustomerID(t *testing.T) {
	pg, mock := newMockPG(t)
	tx := beginMockTx(t, pg, mock)

	mock.ExpectQuery("SELECT id FROM users").
		WithArgs("cus_1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("5c8b2f70-dd4e-4c8e-8b2a-0f6a1a6c0001"))

	userID, err := pg.GetUserIDByCustomerID(context.Background(), tx, "cus_1")
	assert.NoError(t, err)
	assert.Equal(t, "5c8b2f70-dd4e-4c8e-8b2a-0f6a1a6c0001", userID)
}

func TestGetUserIDByCustomerIDNotFound(t *testing.T) {
	pg, mock := newMockPG(t)
	tx := beginMockTx(t, pg, mock)

	mock.ExpectQuery("SELECT id FROM users").
		WithArgs("cus_unknown").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := pg.GetUserIDByCustomerID(context.Background(), tx, "cus_unknown")
	assert.ErrorIs(t, err, errNotFound)
}

func TestUpdateBillingState(t *testing.T) {
	pg, mock := newMockPG(t)
	tx := beginMockTx(t, pg, mock)

	update := &BillingUpdate{
		UserID:         "user-1",
		IsEntitled:     true,
		PlanTier:       "pro",
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		EventAt:        time.Now().UTC(),
	}

	mock.ExpectExec("UPDATE users").
		WithArgs(update.UserID, update.IsEntitled, update.PlanTier,
			update.CustomerID, update.SubscriptionID, update.EventAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, pg.UpdateBillingState(context.Background(), tx, update))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateBillingStateStale(t *testing.T) {
	pg, mock := newMockPG(t)
	tx := beginMockTx(t, pg, mock)

	update := &BillingUpdate{UserID: "user-1", EventAt: time.Now().UTC()}

	// guard rejects the write but the user row exists
	mock.ExpectExec("UPDATE users").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := pg.UpdateBillingState(context.Background(), tx, update)
	assert.ErrorIs(t, err, errStaleEvent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateBillingStateUserMissing(t *testing.T) {
	pg, mock := newMockPG(t)
	tx := beginMockTx(t, pg, mock)

	update := &BillingUpdate{UserID: "user-ghost", EventAt: time.Now().UTC()}

	mock.ExpectExec("UPDATE users").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("user-ghost").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err := pg.UpdateBillingState(context.Background(), tx, update)
	assert.ErrorIs(t, err, errNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
