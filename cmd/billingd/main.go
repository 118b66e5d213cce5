// Command billingd receives processor webhooks and keeps the local billing
// records in sync.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dmitrymomot/cashier/pkg/billing"
	"github.com/dmitrymomot/cashier/pkg/billing/mongostore"
	"github.com/dmitrymomot/cashier/pkg/billing/pgstore"
	"github.com/dmitrymomot/cashier/pkg/clientip"
	"github.com/dmitrymomot/cashier/pkg/config"
	"github.com/dmitrymomot/cashier/pkg/environment"
	"github.com/dmitrymomot/cashier/pkg/httpserver"
	"github.com/dmitrymomot/cashier/pkg/logger"
	"github.com/dmitrymomot/cashier/pkg/mongo"
	"github.com/dmitrymomot/cashier/pkg/pg"
	"github.com/dmitrymomot/cashier/pkg/redis"
	"github.com/dmitrymomot/cashier/pkg/requestid"
	"github.com/dmitrymomot/cashier/pkg/webhook"
)

func main() {
	var app appConfig
	config.MustLoad(&app)

	log := logger.New(
		logger.WithEnvironment(app.Env, app.ServiceName),
		logger.WithContextExtractors(requestid.LoggerExtractor(), clientip.LoggerExtractor()),
	)
	logger.SetAsDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, app, log); err != nil {
		log.ErrorContext(ctx, "billingd stopped", logger.Error(err))
		os.Exit(1)
	}
}

// store is what the billing service needs from a backend.
type store interface {
	billing.CustomerStore
	billing.SubscriptionStore
}

func run(ctx context.Context, app appConfig, log *slog.Logger) error {
	var (
		stripeCfg  billing.StripeConfig
		billingCfg billing.Config
		httpCfg    httpserver.Config
	)
	if err := config.Load(&stripeCfg); err != nil {
		return err
	}
	if err := config.Load(&billingCfg); err != nil {
		return err
	}
	if err := config.Load(&httpCfg); err != nil {
		return err
	}

	env := environment.Parse(app.Env)
	if env.IsProduction() && strings.HasPrefix(stripeCfg.SecretKey, "sk_test_") {
		return errTestKeyInProduction
	}

	checks := make(map[string]httpserver.CheckFunc)

	st, closeStore, err := openStore(ctx, app.Store, log, checks)
	if err != nil {
		return err
	}
	defer closeStore()

	locker, closeLocker, err := openLocker(ctx, app.Locker, log, checks)
	if err != nil {
		return err
	}
	defer closeLocker()

	processor, err := billing.NewStripeProcessor(stripeCfg, billing.WithStripeLogger(log))
	if err != nil {
		return err
	}
	log.InfoContext(ctx, "stripe processor ready", slog.String("api_version", processor.APIVersion()))

	svc := billing.NewService(processor, st, st,
		billing.WithLocker(locker),
		billing.WithLogger(log),
		billing.WithConfig(billingCfg),
	)
	reconciler := billing.NewReconciler(svc, billing.WithReconcilerLogger(log))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	verifier, err := newVerifier(app, stripeCfg)
	if err != nil {
		return err
	}
	log.InfoContext(ctx, "webhook verifier ready", slog.String("verifier", app.WebhookVerifier))

	endpoint := webhook.NewHandler(
		verifier,
		reconciler,
		webhook.WithLogger(log),
		webhook.WithMetrics(webhook.NewMetrics(reg)),
	)

	// Validate already rejected malformed entries.
	allowed, _ := clientip.ParsePrefixes(app.WebhookAllowedIPs)

	router := newRouter(routerDeps{
		env:           env,
		log:           log,
		webhookPath:   app.WebhookPath,
		webhook:       endpoint,
		resolver:      clientip.NewResolver(app.TrustedIPHeaders...),
		allowedIPs:    allowed,
		gatherer:      reg,
		checks:        checks,
		healthTimeout: app.HealthTimeout,
	})

	return httpserver.New(httpCfg, router, httpserver.WithLogger(log)).Run(ctx)
}

func openStore(ctx context.Context, kind string, log *slog.Logger, checks map[string]httpserver.CheckFunc) (store, func(), error) {
	switch kind {
	case storeMongo:
		var cfg mongo.Config
		if err := config.Load(&cfg); err != nil {
			return nil, nil, err
		}
		db, err := mongo.NewWithDatabase(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() { _ = db.Client().Disconnect(context.Background()) }

		st := mongostore.New(db)
		if err := st.EnsureIndexes(ctx); err != nil {
			closeFn()
			return nil, nil, err
		}
		checks["mongo"] = mongo.Healthcheck(db.Client())
		log.InfoContext(ctx, "billing store ready", slog.String("store", storeMongo), slog.String("database", cfg.Database))
		return st, closeFn, nil

	default:
		var cfg pg.Config
		if err := config.Load(&cfg); err != nil {
			return nil, nil, err
		}
		pool, err := pg.Connect(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		db := pg.OpenDB(pool)
		closeFn := func() {
			_ = db.Close()
			pool.Close()
		}

		if err := pgstore.Migrate(ctx, db, cfg, log); err != nil {
			closeFn()
			return nil, nil, err
		}
		checks["postgres"] = pg.Healthcheck(pool)
		log.InfoContext(ctx, "billing store ready", slog.String("store", storePostgres))
		return pgstore.New(db), closeFn, nil
	}
}

func openLocker(ctx context.Context, kind string, log *slog.Logger, checks map[string]httpserver.CheckFunc) (billing.Locker, func(), error) {
	if kind == lockerMemory {
		log.WarnContext(ctx, "using in-process locks, run a single replica")
		return billing.NewMemoryLocker(), func() {}, nil
	}

	var cfg redis.Config
	if err := config.Load(&cfg); err != nil {
		return nil, nil, err
	}
	client, err := redis.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	checks["redis"] = redis.Healthcheck(client)
	return redis.NewLockerFromConfig(client, cfg, redis.WithLockLogger(log)), func() { _ = client.Close() }, nil
}
