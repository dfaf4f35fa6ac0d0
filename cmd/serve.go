package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	sentry "github.com/getsentry/sentry-go"
	"github.com/go-chi/chi"
	chiware "github.com/go-chi/chi/middleware"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	appctx "github.com/fanlink/fanlink/libs/context"
	"github.com/fanlink/fanlink/libs/handlers"
	"github.com/fanlink/fanlink/libs/middleware"
	"github.com/fanlink/fanlink/services/billing"
	"github.com/fanlink/fanlink/services/billing/providerclient"
)

const timeout = 10 * time.Second

func init() {
	RootCmd.AddCommand(ServeCmd)

	// address - sets the address of the server to be started
	ServeCmd.PersistentFlags().String("address", ":8080",
		"the default address to bind to")
	Must(viper.BindPFlag("address", ServeCmd.PersistentFlags().Lookup("address")))
	Must(viper.BindEnv("address", "ADDR"))

	// datastore
	ServeCmd.PersistentFlags().String("datastore", "",
		"the database url")
	Must(viper.BindPFlag("datastore", ServeCmd.PersistentFlags().Lookup("datastore")))
	Must(viper.BindEnv("datastore", "DATABASE_URL"))

	// stripe variables
	ServeCmd.PersistentFlags().String("stripe-webhook-secret", "",
		"the stripe webhook endpoint signing secret")
	Must(viper.BindPFlag("stripe-webhook-secret", ServeCmd.PersistentFlags().Lookup("stripe-webhook-secret")))
	Must(viper.BindEnv("stripe-webhook-secret", "STRIPE_WEBHOOK_SECRET"))

	ServeCmd.PersistentFlags().String("stripe-secret", "",
		"the stripe api secret key")
	Must(viper.BindPFlag("stripe-secret", ServeCmd.PersistentFlags().Lookup("stripe-secret")))
	Must(viper.BindEnv("stripe-secret", "STRIPE_SECRET"))

	// redis for read-side cache invalidation
	ServeCmd.PersistentFlags().String("redis-url", "",
		"the redis url for billing cache invalidation")
	Must(viper.BindPFlag("redis-url", ServeCmd.PersistentFlags().Lookup("redis-url")))
	Must(viper.BindEnv("redis-url", "REDIS_URL"))

	// plan tiers - provider price id to tier name pairs
	ServeCmd.PersistentFlags().StringToString("plan-tiers", map[string]string{},
		"mapping of provider price ids to plan tier names")
	Must(viper.BindPFlag("plan-tiers", ServeCmd.PersistentFlags().Lookup("plan-tiers")))
}

// ServeCmd the serve command
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "entrypoint to serve the billing webhook service",
	Run:   RestRun,
}

// SetupRouter sets up a router with the generic middlewares, health-check and
// metrics endpoints
func SetupRouter(ctx context.Context) *chi.Mux {
	logger, err := appctx.GetLogger(ctx)
	Must(err)

	r := chi.NewRouter()
	r.Use(
		chiware.RequestID,
		chiware.RealIP,
		chiware.Heartbeat("/"),
		chiware.Timeout(timeout),
		middleware.RequestIDTransfer)

	if logger != nil {
		// Also handles panic recovery
		r.Use(
			hlog.NewHandler(*logger),
			hlog.UserAgentHandler("user_agent"),
			hlog.RequestIDHandler("req_id", "Request-Id"),
			middleware.RequestLogger(logger))

		logger.Info().
			Str("version", ctx.Value(appctx.VersionCTXKey).(string)).
			Str("commit", ctx.Value(appctx.CommitCTXKey).(string)).
			Str("build_time", ctx.Value(appctx.BuildTimeCTXKey).(string)).
			Str("address", viper.GetString("address")).
			Str("environment", viper.GetString("environment")).
			Msg("server starting")
	}

	r.Get("/health-check", handlers.HealthCheckHandler(
		ctx.Value(appctx.VersionCTXKey).(string),
		ctx.Value(appctx.BuildTimeCTXKey).(string),
		ctx.Value(appctx.CommitCTXKey).(string), nil))
	r.Get("/metrics", middleware.Metrics())

	return r
}

// RestRun - Main entrypoint of the serve subcommand
func RestRun(command *cobra.Command, args []string) {
	ctx := command.Context()

	logger, err := appctx.GetLogger(ctx)
	Must(err)

	sentryDsn := os.Getenv("SENTRY_DSN")
	if sentryDsn != "" {
		buildTime := ctx.Value(appctx.BuildTimeCTXKey).(string)
		commit := ctx.Value(appctx.CommitCTXKey).(string)
		err := sentry.Init(sentry.ClientOptions{
			Dsn:     sentryDsn,
			Release: fmt.Sprintf("fanlink@%s-%s", commit, buildTime),
		})
		if err != nil {
			logger.Panic().Err(err).Msg("unable to setup reporting!")
		}
	}

	// stripe variables on context for the webhook handler
	ctx = context.WithValue(ctx, appctx.StripeWebhookSecretCTXKey, viper.GetString("stripe-webhook-secret"))
	ctx = context.WithValue(ctx, appctx.StripeSecretCTXKey, viper.GetString("stripe-secret"))

	// setup generic middlewares and routes for health-check and metrics
	r := SetupRouter(ctx)

	billingPG, err := billing.NewPostgres(viper.GetString("datastore"), true, "billing_db")
	if err != nil {
		sentry.CaptureException(err)
		logger.Panic().Err(err).Msg("Must be able to init postgres connection to start")
	}

	var cache billing.CacheInvalidator
	if redisURL := viper.GetString("redis-url"); redisURL != "" {
		cache = billing.NewRedisCache(billing.NewRedisPool(redisURL))
	}

	provider := providerclient.FromKey(viper.GetString("stripe-secret"))

	billingService, err := billing.InitService(
		ctx, billingPG, provider, cache,
		billing.NewSentrySink(),
		viper.GetStringMapString("plan-tiers"))
	Must(err)

	// for billing webhook integrations
	r.Mount("/v1/webhooks", billing.WebhookRouter(billingService))

	// setup server, and run
	srv := http.Server{
		Addr:         viper.GetString("address"),
		Handler:      chi.ServerBaseContext(ctx, r),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 20 * time.Second,
	}

	// make sure exceptions go to sentry
	defer sentry.Flush(time.Second * 2)

	if err = srv.ListenAndServe(); err != nil {
		sentry.CaptureException(err)
		logger.Fatal().Err(err).Msg("HTTP server start failed!")
	}
}
