package billing

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/stripe/stripe-go/v72/webhook"

	appctx "github.com/fanlink/fanlink/libs/context"
	"github.com/fanlink/fanlink/libs/handlers"
	"github.com/fanlink/fanlink/libs/logging"
	"github.com/fanlink/fanlink/libs/middleware"
	"github.com/fanlink/fanlink/libs/requestutils"
)

type webhookResponse struct {
	Received bool `json:"received"`
}

type webhookErrorResponse struct {
	Error string `json:"error"`
}

// WebhookRouter - handles calls from the payment provider informing billing of changes
func WebhookRouter(service *Service) chi.Router {
	r := chi.NewRouter()
	r.Method("POST", "/stripe", middleware.InstrumentHandler("HandleStripeWebhook", HandleStripeWebhook(service)))
	return r
}

// HandleStripeWebhook is the handler for stripe billing webhooks.
//
// The status code is the contract with the provider's retry policy: 2xx
// acknowledges the event forever, 4xx tells the provider the delivery will
// never succeed, 5xx asks for a redelivery. Error bodies are generic by
// design; internal error text never leaves the service.
func HandleStripeWebhook(service *Service) handlers.AppHandler {
	return func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		ctx := r.Context()
		// get logger
		sublogger := logging.Logger(ctx, "billing").With().
			Str("func", "HandleStripeWebhook").
			Logger()

		// get webhook secret from ctx
		endpointSecret, err := appctx.GetStringFromContext(ctx, appctx.StripeWebhookSecretCTXKey)
		if err != nil {
			sublogger.Error().Err(err).Msg("failed to get stripe_webhook_secret from context")
			return handlers.WrapError(
				err, "error getting stripe_webhook_secret from context",
				http.StatusInternalServerError)
		}

		// the signature gate runs before the body is even read; nothing
		// unverified is ever examined or stored
		sig := r.Header.Get("Stripe-Signature")
		if sig == "" {
			sublogger.Warn().Msg("webhook delivery with no signature header")
			return handlers.RenderContent(ctx, webhookErrorResponse{Error: "missing signature"}, w, http.StatusBadRequest)
		}

		b, err := requestutils.Read(ctx, r.Body)
		if err != nil {
			sublogger.Error().Err(err).Msg("failed to read request body")
			return handlers.WrapError(err, "error reading request body", http.StatusServiceUnavailable)
		}

		event, err := webhook.ConstructEvent(b, sig, endpointSecret)
		if err != nil {
			sublogger.Warn().Err(err).Msg("failed to verify stripe signature")
			return handlers.RenderContent(ctx, webhookErrorResponse{Error: "invalid signature"}, w, http.StatusBadRequest)
		}

		env := newEnvelope(&event)

		sublogger.Debug().
			Str("event_id", env.ID).
			Str("event_type", env.Type).
			Msg("webhook event captured")

		result := service.ProcessEvent(ctx, env)
		if result.Outcome == OutcomeFailed {
			return handlers.RenderContent(ctx, webhookErrorResponse{Error: "Webhook processing failed"}, w, http.StatusInternalServerError)
		}

		return handlers.RenderContent(ctx, webhookResponse{Received: true}, w, http.StatusOK)
	}
}
