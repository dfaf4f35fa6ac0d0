package billing

import (
	"context"

	"github.com/getsentry/sentry-go"

	"github.com/fanlink/fanlink/libs/logging"
)

// Sink receives operational signals from webhook processing. ReportError is
// for genuine faults that should page someone; ReportAudit is for expected
// but operationally significant business events. Keeping the two calls apart
// keeps payment-failure noise out of the incident dashboards.
type Sink interface {
	ReportError(ctx context.Context, msg string, err error, tags map[string]string)
	ReportAudit(ctx context.Context, msg string, tags map[string]string)
}

type sentrySink struct{}

// NewSentrySink returns the production Sink backed by sentry and the
// context-carried zerolog logger
func NewSentrySink() Sink {
	return &sentrySink{}
}

func (s *sentrySink) ReportError(ctx context.Context, msg string, err error, tags map[string]string) {
	logger := logging.Logger(ctx, "billing.sink")

	ev := logger.Error().Err(err)
	for k, v := range tags {
		ev = ev.Str(k, v)
	}
	ev.Msg(msg)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		if err != nil {
			sentry.CaptureException(err)
		} else {
			sentry.CaptureMessage(msg)
		}
	})
}

func (s *sentrySink) ReportAudit(ctx context.Context, msg string, tags map[string]string) {
	logger := logging.Logger(ctx, "billing.audit")

	ev := logger.Warn().Bool("audit", true)
	for k, v := range tags {
		ev = ev.Str(k, v)
	}
	ev.Msg(msg)
}
