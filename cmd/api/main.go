package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jhoicas/afip-core/internal/application/auth"
	"github.com/jhoicas/afip-core/internal/application/billing"
	"github.com/jhoicas/afip-core/internal/application/taxpayer"
	afipdomain "github.com/jhoicas/afip-core/internal/domain/afip"
	"github.com/jhoicas/afip-core/internal/domain/repository"
	infraafip "github.com/jhoicas/afip-core/internal/infrastructure/afip"
	"github.com/jhoicas/afip-core/internal/infrastructure/afip/signer"
	"github.com/jhoicas/afip-core/internal/infrastructure/cache"
	"github.com/jhoicas/afip-core/internal/infrastructure/memory"
	"github.com/jhoicas/afip-core/internal/infrastructure/metrics"
	"github.com/jhoicas/afip-core/internal/infrastructure/postgres"
	httpRouter "github.com/jhoicas/afip-core/internal/interfaces/http"
	"github.com/jhoicas/afip-core/internal/worker"
	"github.com/jhoicas/afip-core/pkg/config"
	"github.com/jhoicas/afip-core/pkg/logger"
)

// persistence facturas, secuencias y credenciales.
type persistence struct {
	invoices  repository.InvoiceRepository
	queue     repository.InvoiceQueue
	numbering billing.NumberingTxRunner
	creds     credentialSource
	health    map[string]httpRouter.HealthCheck
	close     func()
}

type credentialSource interface {
	repository.CredentialRepository
	worker.OrganizationLister
}

// sharedState estado compartido entre instancias (Redis) o local (memoria).
type sharedState struct {
	tokens    auth.TokenStore
	locker    auth.Locker
	circuits  billing.CircuitStore
	panics    billing.PanicStore
	samples   billing.SampleStore
	events    billing.EventPublisher
	limiter   worker.RateLimiter
	taxpayers taxpayer.Cache
	health    map[string]httpRouter.HealthCheck
	close     func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: cfg.App.LogLevel,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("store", cfg.App.Store).
		Bool("redis", cfg.Redis.URL != "").
		Msg("iniciando aplicación")

	if cfg.JWT.Secret == "" {
		log.Fatal().Msg("JWT_SECRET no configurado")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	store, err := openPersistence(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("persistencia")
	}
	defer store.close()

	state, err := openSharedState(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("estado compartido")
	}
	defer state.close()

	// Clientes AFIP
	wsaa := infraafip.NewWSAAClient(infraafip.WSAAConfig{Timeout: cfg.AFIP.AuthTimeout}, signer.NewCMSSigner(), log, m)
	wsfe := infraafip.NewWSFEClient(infraafip.WSFEConfig{Timeout: cfg.AFIP.WSFETimeout}, log, m)
	padron := infraafip.NewPadronClient(infraafip.PadronConfig{Timeout: cfg.AFIP.PadronTimeout}, log, m)

	tokens := auth.NewTokenService(wsaa, store.creds, state.tokens, state.locker, auth.Config{
		Margin:       cfg.AFIP.TokenMargin,
		LoginTimeout: cfg.AFIP.AuthTimeout + 10*time.Second,
	}, log, m)

	breaker := billing.NewCircuitBreaker(state.circuits, afipdomain.CircuitPolicy{
		FailureThreshold: cfg.AFIP.CircuitFailureThreshold,
		OpenTimeout:      cfg.AFIP.CircuitOpenTimeout,
		ProbeInterval:    cfg.AFIP.CircuitProbeInterval,
	}, log, m)

	orchestrator := billing.NewCAEOrchestrator(
		store.invoices, store.creds, tokens, wsfe,
		billing.NewNumberingService(store.numbering),
		breaker, state.samples, state.events,
		billing.OrchestratorConfig{
			HealthProbe: cfg.AFIP.HealthProbe,
			Backoff:     afipdomain.BackoffSchedule(cfg.AFIP.Backoff),
		},
		log, m,
	)

	panicPolicy := afipdomain.DefaultPanicPolicy()
	panicPolicy.MaxQueueDepth = cfg.AFIP.PanicMaxQueueDepth
	panicPolicy.MaxAvgLatency = cfg.AFIP.PanicMaxLatency
	panicPolicy.MaxCircuitOpen = cfg.AFIP.PanicMaxCircuitOpen
	panicPolicy.Window = cfg.AFIP.PanicWindow
	panicHandler := billing.NewPanicHandler(store.invoices, store.creds, wsfe, breaker, state.panics, state.samples, panicPolicy, log, m)

	invoiceUC := billing.NewInvoiceUseCase(store.invoices, store.creds, state.panics, log)
	lookupUC := taxpayer.NewLookupUseCase(padron, tokens, store.creds, state.taxpayers, cfg.AFIP.TaxpayerCacheTTL, log)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 10,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "AFIP Core API",
	}))

	health := make(map[string]httpRouter.HealthCheck, len(store.health)+len(state.health))
	for k, v := range store.health {
		health[k] = v
	}
	for k, v := range state.health {
		health[k] = v
	}

	httpRouter.Router(app, httpRouter.RouterDeps{
		Invoices:    invoiceUC,
		Panic:       panicHandler,
		Taxpayers:   lookupUC,
		JWTSecret:   cfg.JWT.Secret,
		ServiceName: cfg.App.Name,
		Health:      health,
		Gatherer:    registry,
		Log:         log,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			return err
		}
		return nil
	})

	if cfg.Worker.Enabled {
		pool := worker.NewPool(store.queue, orchestrator, state.limiter, panicHandler, worker.Config{
			ID:           cfg.Worker.ID,
			Concurrency:  cfg.Worker.Concurrency,
			PollInterval: cfg.Worker.PollInterval,
			Lease:        cfg.Worker.Lease,
		}, log, m)
		monitor := worker.NewMonitor(store.creds, panicHandler, cfg.Worker.MonitorInterval, log)

		g.Go(func() error { return pool.Run(gctx) })
		g.Go(func() error { return monitor.Run(gctx) })
	} else {
		log.Warn().Msg("workers deshabilitados: esta instancia solo recibe facturas")
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("señal de apagado recibida, cerrando servidor...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("apagado con error")
	}

	log.Info().Msg("aplicación detenida")
}

func openPersistence(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*persistence, error) {
	if cfg.App.Store == "memory" {
		creds, err := memory.LoadCredentialsDir(cfg.AFIP.CredentialsDir)
		if err != nil {
			return nil, err
		}
		orgs, _ := creds.ListOrganizations(ctx)
		log.Warn().Int("organizations", len(orgs)).Msg("almacenamiento en memoria: las facturas no sobreviven al reinicio")
		s := memory.NewStore()
		return &persistence{
			invoices:  s.Invoices(),
			queue:     s.Queue(),
			numbering: s,
			creds:     creds,
			health:    map[string]httpRouter.HealthCheck{},
			close:     func() {},
		}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}
	version, err := postgres.Migrate(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	log.Info().Uint("schema_version", version).Msg("migraciones aplicadas")
	return &persistence{
		invoices:  postgres.NewInvoiceRepository(pool),
		queue:     postgres.NewInvoiceQueue(pool),
		numbering: postgres.NewTxRunner(pool),
		creds:     postgres.NewCredentialRepository(pool, cfg.AFIP.CredentialsDir),
		health: map[string]httpRouter.HealthCheck{
			"postgres": func(ctx context.Context) error { return pool.Ping(ctx) },
		},
		close: pool.Close,
	}, nil
}

func openSharedState(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*sharedState, error) {
	retention := cfg.AFIP.PanicWindow * 2
	if cfg.Redis.URL == "" {
		log.Warn().Msg("REDIS_URL vacío: estado de tickets, circuito y pánico local a esta instancia")
		return &sharedState{
			tokens:    memory.NewTokenStore(),
			locker:    memory.NewLocker(),
			circuits:  memory.NewCircuitStore(),
			panics:    memory.NewPanicStore(),
			samples:   memory.NewSampleStore(retention),
			events:    billing.NewLogPublisher(log),
			limiter:   memory.NewRateLimiter(cfg.Worker.RatePerMinute, cfg.Worker.Burst),
			taxpayers: memory.NewTaxpayerCache(),
			health:    map[string]httpRouter.HealthCheck{},
			close:     func() {},
		}, nil
	}

	rdb, err := cache.NewClient(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	keys := cache.NewKeys(cfg.Redis.KeyPrefix)
	return &sharedState{
		tokens:    cache.NewTokenStore(rdb, keys),
		locker:    cache.NewLocker(rdb, keys),
		circuits:  cache.NewCircuitStore(rdb, keys),
		panics:    cache.NewPanicStore(rdb, keys),
		samples:   cache.NewSampleStore(rdb, keys, retention),
		events:    cache.NewStreamPublisher(rdb, keys, 0),
		limiter:   cache.NewRateLimiter(rdb, keys, cfg.Worker.RatePerMinute, cfg.Worker.Burst),
		taxpayers: cache.NewTaxpayerCache(rdb, keys),
		health: map[string]httpRouter.HealthCheck{
			"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
		close: func() { closeRedis(rdb, log) },
	}, nil
}

func closeRedis(rdb *redis.Client, log zerolog.Logger) {
	if err := rdb.Close(); err != nil {
		log.Warn().Err(err).Msg("cerrando Redis")
	}
}
