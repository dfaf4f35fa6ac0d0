package billing

import (
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v72"
)

// Envelope is the verified, parsed notification from the payment provider.
// It is immutable once constructed; handlers only ever read from it.
type Envelope struct {
	ID        string
	Type      string
	CreatedAt time.Time
	Raw       json.RawMessage
}

func newEnvelope(event *stripe.Event) *Envelope {
	return &Envelope{
		ID:        event.ID,
		Type:      event.Type,
		CreatedAt: time.Unix(event.Created, 0).UTC(),
		Raw:       event.Data.Raw,
	}
}

// ObjectID extracts the id of the nested object for audit trails. An empty
// string is acceptable; the object id is never part of the idempotency contract.
func (e *Envelope) ObjectID() string {
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(e.Raw, &obj); err != nil {
		return ""
	}
	return obj.ID
}

// referenceID returns the normalized identifier held by the named field of the
// nested object, tolerating both bare-string and expanded-object shapes.
func (e *Envelope) referenceID(field string) string {
	var obj map[string]interface{}
	if err := json.Unmarshal(e.Raw, &obj); err != nil {
		return ""
	}
	return resolveReferenceID(obj[field])
}

// resolveReferenceID normalizes a foreign-key field that may arrive either as
// a bare identifier string or as an expanded object containing an id field.
func resolveReferenceID(v interface{}) string {
	switch ref := v.(type) {
	case string:
		return ref
	case map[string]interface{}:
		if id, ok := ref["id"].(string); ok {
			return id
		}
	}
	return ""
}

func parseEventData[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	return &result, nil
}
