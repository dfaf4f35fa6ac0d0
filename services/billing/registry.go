package billing

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// Handler is a unit of reconciliation logic bound to one or more event types.
// Handle runs inside the coordinator's transaction; any write it makes is
// committed or rolled back together with the event's processing record.
type Handler interface {
	EventTypes() []string
	Handle(ctx context.Context, tx *sqlx.Tx, env *Envelope) Result
}

// Registry maps event types to their registered handlers. It is constructed
// explicitly at service init so tests can assemble registries of fakes.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds a registry from the passed handlers
func NewRegistry(hs ...Handler) *Registry {
	r := &Registry{handlers: map[string]Handler{}}
	for _, h := range hs {
		for _, t := range h.EventTypes() {
			r.handlers[t] = h
		}
	}
	return r
}

// HandlerFor returns the handler registered for the event type, if any
func (r *Registry) HandlerFor(eventType string) (Handler, bool) {
	h, ok := r.handlers[eventType]
	return h, ok
}

// Dispatch routes the envelope to its handler. The provider sends many event
// types we do not care about; all of them must still be acknowledged, so an
// unregistered type is a skip, never an error.
func (r *Registry) Dispatch(ctx context.Context, tx *sqlx.Tx, env *Envelope) Result {
	h, ok := r.HandlerFor(env.Type)
	if !ok {
		return Skipped(reasonUnhandledEventType)
	}
	return h.Handle(ctx, tx, env)
}
