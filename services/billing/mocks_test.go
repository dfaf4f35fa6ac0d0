package billing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stripe/stripe-go/v72"

	"github.com/fanlink/fanlink/libs/datastore"
)

// mockBillingStore satisfies Datastore without a database; handler tests only
// exercise the billing methods, the rest is inherited from the embedded
// Postgres and never called
type mockBillingStore struct {
	datastore.Postgres

	usersByCustomer map[string]string
	customerErr     error

	updates   []*BillingUpdate
	updateErr error

	inserted  []string
	insertDup bool
	insertErr error

	marked  []string
	markErr error
}

func (m *mockBillingStore) InsertProcessingRecord(ctx context.Context, tx *sqlx.Tx, externalEventID, eventType, objectID string, receivedAt time.Time) (bool, error) {
	if m.insertErr != nil {
		return false, m.insertErr
	}
	if m.insertDup {
		return false, nil
	}
	m.inserted = append(m.inserted, externalEventID)
	return true, nil
}

func (m *mockBillingStore) MarkEventProcessed(ctx context.Context, tx *sqlx.Tx, externalEventID string) error {
	if m.markErr != nil {
		return m.markErr
	}
	m.marked = append(m.marked, externalEventID)
	return nil
}

func (m *mockBillingStore) GetUserIDByCustomerID(ctx context.Context, tx *sqlx.Tx, customerID string) (string, error) {
	if m.customerErr != nil {
		return "", m.customerErr
	}
	if userID, ok := m.usersByCustomer[customerID]; ok {
		return userID, nil
	}
	return "", errNotFound
}

func (m *mockBillingStore) UpdateBillingState(ctx context.Context, tx *sqlx.Tx, update *BillingUpdate) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updates = append(m.updates, update)
	return nil
}

type mockProvider struct {
	sub *stripe.Subscription
	err error

	requestedIDs []string
}

func (p *mockProvider) Subscription(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	p.requestedIDs = append(p.requestedIDs, id)
	if p.err != nil {
		return nil, p.err
	}
	return p.sub, nil
}

type recordingSink struct {
	errorMsgs []string
	auditTags []map[string]string
}

func (s *recordingSink) ReportError(ctx context.Context, msg string, err error, tags map[string]string) {
	s.errorMsgs = append(s.errorMsgs, msg)
}

func (s *recordingSink) ReportAudit(ctx context.Context, msg string, tags map[string]string) {
	s.auditTags = append(s.auditTags, tags)
}

type recordingCache struct {
	invalidated []string
}

func (c *recordingCache) Invalidate(ctx context.Context, userID string) {
	c.invalidated = append(c.invalidated, userID)
}

type fakeHandler struct {
	types  []string
	result Result

	seen []*Envelope
}

func (h *fakeHandler) EventTypes() []string {
	return h.types
}

func (h *fakeHandler) Handle(ctx context.Context, tx *sqlx.Tx, env *Envelope) Result {
	h.seen = append(h.seen, env)
	return h.result
}

func testEnvelope(id, eventType string, raw string) *Envelope {
	return &Envelope{
		ID:        id,
		Type:      eventType,
		CreatedAt: time.Now().UTC(),
		Raw:       json.RawMessage(raw),
	}
}
