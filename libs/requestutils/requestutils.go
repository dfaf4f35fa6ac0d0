package requestutils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/fanlink/fanlink/libs/closers"
)

type requestID string

var (
	// webhook payloads from the payment provider are small; anything close to
	// this limit is not a legitimate notification
	payloadLimit1MB = int64(1024 * 1024)
	// RequestIDHeaderKey is the request header key
	RequestIDHeaderKey = "x-request-id"
	// RequestID holds the type for request ids
	RequestID = requestID(RequestIDHeaderKey)
)

// ReadWithLimit reads an io reader with a limit and closes
func ReadWithLimit(ctx context.Context, body io.Reader, limit int64) ([]byte, error) {
	defer closers.Log(ctx, body.(io.Closer))
	return io.ReadAll(io.LimitReader(body, limit))
}

// Read an io reader
func Read(ctx context.Context, body io.Reader) ([]byte, error) {
	b, err := ReadWithLimit(ctx, body, payloadLimit1MB)
	if err != nil {
		return nil, fmt.Errorf("error reading body: %w", err)
	}
	return b, nil
}

// ReadJSON reads a request body according to an interface and limits the size to 1MB
func ReadJSON(ctx context.Context, body io.Reader, intr interface{}) error {
	if body == nil {
		return errors.New("body is nil")
	}
	b, err := Read(ctx, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, &intr); err != nil {
		return fmt.Errorf("error unmarshalling body: %w", err)
	}
	return nil
}

// SetRequestID transfers a request id from a context to a request header
func SetRequestID(ctx context.Context, r *http.Request) {
	id := GetRequestID(ctx)
	if id != "" {
		r.Header.Set(RequestIDHeaderKey, id)
	}
}

// GetRequestID gets the request id
func GetRequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(RequestID).(string); ok {
		return reqID
	}
	return ""
}
