package billing

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	appctx "github.com/fanlink/fanlink/libs/context"
)

const testWebhookSecret = "whsec_test_secret"

// signStripePayload builds a Stripe-Signature header value for the payload,
// the same scheme the provider signs deliveries with
func signStripePayload(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d", at.Unix())))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func newWebhookRequest(t *testing.T, body []byte, sig string) *http.Request {
	req, err := http.NewRequest("POST", "/v1/webhooks/stripe", bytes.NewBuffer(body))
	assert.NoError(t, err)

	ctx := context.WithValue(context.Background(), appctx.StripeWebhookSecretCTXKey, testWebhookSecret)
	req = req.WithContext(ctx)

	if sig != "" {
		req.Header.Set("Stripe-Signature", sig)
	}
	return req
}

func TestHandleStripeWebhookMissingSignature(t *testing.T) {
	h := &fakeHandler{types: []string{StripeSubscriptionUpdated}, result: Processed("user-1")}
	service, mock, _, _ := newTestService(t, h)

	req := newWebhookRequest(t, []byte(`{}`), "")
	rr := httptest.NewRecorder()
	HandleStripeWebhook(service).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"missing signature"}`, rr.Body.String())

	// nothing unverified ever touches the database
	assert.Empty(t, h.seen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleStripeWebhookInvalidSignature(t *testing.T) {
	h := &fakeHandler{types: []string{StripeSubscriptionUpdated}, result: Processed("user-1")}
	service, mock, _, _ := newTestService(t, h)

	body := []byte(`{"id":"evt_1","type":"customer.subscription.updated"}`)
	req := newWebhookRequest(t, body, signStripePayload(body, "whsec_wrong_secret", time.Now()))
	rr := httptest.NewRecorder()
	HandleStripeWebhook(service).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"invalid signature"}`, rr.Body.String())
	assert.Empty(t, h.seen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleStripeWebhookExpiredTimestamp(t *testing.T) {
	h := &fakeHandler{types: []string{StripeSubscriptionUpdated}, result: Processed("user-1")}
	service, _, _, _ := newTestService(t, h)

	body := []byte(`{"id":"evt_1","type":"customer.subscription.updated"}`)
	// correctly signed but far outside the replay tolerance window
	req := newWebhookRequest(t, body, signStripePayload(body, testWebhookSecret, time.Now().Add(-24*time.Hour)))
	rr := httptest.NewRecorder()
	HandleStripeWebhook(service).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, h.seen)
}

func TestHandleStripeWebhookProcessed(t *testing.T) {
	h := &fakeHandler{types: []string{StripeSubscriptionUpdated}, result: Processed("user-1")}
	service, mock, cache, _ := newTestService(t, h)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO processing_records").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE processing_records").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	body := []byte(fmt.Sprintf(
		`{"id":"evt_1","type":"customer.subscription.updated","created":%d,"data":{"object":{"id":"sub_1","status":"active"}}}`,
		time.Now().Unix()))
	req := newWebhookRequest(t, body, signStripePayload(body, testWebhookSecret, time.Now()))
	rr := httptest.NewRecorder()
	HandleStripeWebhook(service).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"received":true}`, rr.Body.String())
	assert.Equal(t, []string{"user-1"}, cache.invalidated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleStripeWebhookUnhandledTypeAcknowledged(t *testing.T) {
	h := &fakeHandler{types: []string{StripeSubscriptionUpdated}, result: Processed("user-1")}
	service, mock, _, _ := newTestService(t, h)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO processing_records").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	body := []byte(fmt.Sprintf(
		`{"id":"evt_1","type":"charge.refunded","created":%d,"data":{"object":{"id":"ch_1"}}}`,
		time.Now().Unix()))
	req := newWebhookRequest(t, body, signStripePayload(body, testWebhookSecret, time.Now()))
	rr := httptest.NewRecorder()
	HandleStripeWebhook(service).ServeHTTP(rr, req)

	// uninteresting types are still acknowledged so the provider stops retrying
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"received":true}`, rr.Body.String())
	assert.Empty(t, h.seen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleStripeWebhookFailure(t *testing.T) {
	h := &fakeHandler{types: []string{StripeSubscriptionUpdated}, result: Failed(fmt.Errorf("connection reset"))}
	service, mock, _, _ := newTestService(t, h)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO processing_records").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	body := []byte(fmt.Sprintf(
		`{"id":"evt_1","type":"customer.subscription.updated","created":%d,"data":{"object":{"id":"sub_1"}}}`,
		time.Now().Unix()))
	req := newWebhookRequest(t, body, signStripePayload(body, testWebhookSecret, time.Now()))
	rr := httptest.NewRecorder()
	HandleStripeWebhook(service).ServeHTTP(rr, req)

	// the body stays generic; internal error text never leaves the service
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"Webhook processing failed"}`, rr.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleStripeWebhookDuplicateAcknowledged(t *testing.T) {
	h := &fakeHandler{types: []string{StripeSubscriptionUpdated}, result: Processed("user-1")}
	service, mock, cache, _ := newTestService(t, h)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO processing_records").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	body := []byte(fmt.Sprintf(
		`{"id":"evt_1","type":"customer.subscription.updated","created":%d,"data":{"object":{"id":"sub_1"}}}`,
		time.Now().Unix()))
	req := newWebhookRequest(t, body, signStripePayload(body, testWebhookSecret, time.Now()))
	rr := httptest.NewRecorder()
	HandleStripeWebhook(service).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"received":true}`, rr.Body.String())
	assert.Empty(t, h.seen)
	assert.Empty(t, cache.invalidated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookRouterRoutes(t *testing.T) {
	h := &fakeHandler{types: []string{StripeSubscriptionUpdated}, result: Processed("user-1")}
	service, _, _, _ := newTestService(t, h)

	r := WebhookRouter(service)
	ts := httptest.NewServer(r)
	defer ts.Close()

	// GET is not accepted on the webhook endpoint
	resp, err := http.Get(ts.URL + "/stripe")
	assert.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
