package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	archivehandler "formgate/internal/archive/handler"
	archivestore "formgate/internal/archive/store"
	"formgate/internal/archive/store/submissions"
	"formgate/internal/audit"
	formhandler "formgate/internal/form/handler"
	"formgate/internal/form/schemaclient"
	"formgate/internal/handoff"
	handoffmetrics "formgate/internal/handoff/metrics"
	handoffstore "formgate/internal/handoff/store"
	"formgate/internal/handoff/store/stash"
	"formgate/internal/identity"
	"formgate/internal/identity/device"
	"formgate/internal/platform/config"
	"formgate/internal/platform/httpserver"
	"formgate/internal/platform/logger"
	"formgate/internal/platform/metrics"
	platformredis "formgate/internal/platform/redis"
	"formgate/internal/ratelimit"
	"formgate/internal/ratelimit/bucket"
	ratelimitmetrics "formgate/internal/ratelimit/metrics"
	"formgate/internal/session"
	sessionhandler "formgate/internal/session/handler"
	sessionmetrics "formgate/internal/session/metrics"
	sessionstore "formgate/internal/session/store"
	"formgate/internal/session/store/sessions"
	"formgate/internal/submit"
	"formgate/internal/submit/formsclient"
	submithandler "formgate/internal/submit/handler"
	submitmetrics "formgate/internal/submit/metrics"
	"formgate/internal/ticketing"
	"formgate/pkg/platform/httputil"
)

// Session tokens are scoped to the gateway itself. The identity provider's
// issuer and audience are separate and live in config.
const (
	sessionTokenIssuer   = "formgate"
	sessionTokenAudience = "formgate-applicants"
)

const (
	auditQueueSize   = 1024
	auditPartitions  = 3
	auditReplication = 1

	shutdownTimeout = 10 * time.Second

	sessionSweepEvery = 5 * time.Minute
	stashSweepEvery   = time.Minute
	limiterSweepEvery = 5 * time.Minute
)

// main wires the dependency graph and keeps the server lifecycle small.
// Business logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("formgate exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Session and stash state: redis when configured, process memory otherwise.
	rdb, err := platformredis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	var (
		sessionStore sessionstore.SessionStore
		stashStore   handoffstore.StashStore
		memStash     *stash.InMemoryStashStore
	)
	if rdb != nil {
		defer rdb.Close()
		sessionStore = sessions.NewRedis(rdb.Client)
		stashStore = stash.NewRedis(rdb.Client)
		log.Info("session state in redis")
	} else {
		memStash = stash.New()
		sessionStore = sessions.New()
		stashStore = memStash
		log.Info("session state in process memory, single instance only")
	}

	// Submission archive: postgres when configured, process memory otherwise.
	var archiveStore archivestore.SubmissionStore
	if cfg.Database.URL != "" {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("open archive database: %w", err)
		}
		defer db.Close()
		if err := submissions.EnsureSchema(ctx, db); err != nil {
			return fmt.Errorf("archive schema: %w", err)
		}
		archiveStore = submissions.NewPostgres(db)
		log.Info("submission archive in postgres")
	} else {
		archiveStore = submissions.New()
		log.Info("submission archive in process memory")
	}

	// Audit pipeline. Emits never block request handling; a worker drains
	// the queue into kafka or, without brokers, the in-process store.
	queue := audit.NewQueue(auditQueueSize)
	var sink audit.Sink
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink, err := audit.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, audit.WithKafkaLogger(log))
		if err != nil {
			return fmt.Errorf("kafka audit sink: %w", err)
		}
		defer kafkaSink.Close()
		if err := kafkaSink.EnsureTopic(ctx, auditPartitions, auditReplication); err != nil {
			log.Warn("audit topic not ensured", "topic", cfg.Kafka.AuditTopic, "error", err)
		}
		sink = kafkaSink
		log.Info("audit trail to kafka", "topic", cfg.Kafka.AuditTopic)
	} else {
		sink = audit.NewInMemoryStore()
		log.Info("audit trail in process memory")
	}
	publisher := audit.NewPublisher(queue, audit.WithPublisherLogger(log))
	worker := audit.NewWorker(sink, queue.Inbox(), audit.WithWorkerLogger(log))
	go func() { _ = worker.Run(ctx) }()

	// Backends and collaborators.
	schemas, err := schemaclient.New(schemaclient.Config{
		BaseURL: cfg.Schema.BaseURL,
		Timeout: cfg.Schema.Timeout,
	}, schemaclient.WithLogger(log))
	if err != nil {
		return fmt.Errorf("schema backend: %w", err)
	}
	if err := schemas.Warm(ctx); err != nil {
		log.Warn("schema warm-up failed, fetching lazily", "error", err)
	}

	forms, err := formsclient.New(formsclient.Config{
		BaseURL: cfg.Forms.BaseURL,
		Timeout: cfg.Forms.SubmitTimeout,
	}, formsclient.WithLogger(log))
	if err != nil {
		return fmt.Errorf("forms backend: %w", err)
	}

	verifier, err := identity.NewProvider(identity.Config{
		AuthorizeURL:    cfg.Identity.AuthorizeURL,
		ReturnURL:       cfg.Identity.ReturnURL,
		TokenURL:        cfg.Identity.TokenURL,
		AssertionSecret: cfg.Identity.AssertionSecret,
		Issuer:          cfg.Identity.Issuer,
		Audience:        cfg.Identity.Audience,
	}, identity.WithLogger(log))
	if err != nil {
		return fmt.Errorf("identity provider: %w", err)
	}

	devices := device.NewService(cfg.Session.DeviceLabels)
	tokens := session.NewTokenService(cfg.Session.TokenSigningKey, sessionTokenIssuer, sessionTokenAudience, cfg.Session.TokenTTL)

	// Services.
	sessionSvc := session.New(sessionStore, tokens, schemas, devices,
		session.WithLogger(log),
		session.WithMetrics(sessionmetrics.New()),
		session.WithAudit(publisher),
		session.WithLifetime(cfg.Session.TokenTTL),
	)
	bridge := handoff.New(stashStore, sessionSvc,
		handoff.WithLogger(log),
		handoff.WithMetrics(handoffmetrics.New()),
		handoff.WithAudit(publisher),
	)
	submitSvc := submit.New(sessionSvc, bridge, verifier, forms, archiveStore,
		submit.WithLogger(log),
		submit.WithMetrics(submitmetrics.New()),
		submit.WithAudit(publisher),
		submit.WithDevices(devices),
		submit.WithSubmitTimeout(cfg.Forms.SubmitTimeout),
	)

	// Rate limiting shares one bucket store; scopes keep the keys apart.
	var (
		sessionLimit func(http.Handler) http.Handler
		submitLimit  func(http.Handler) http.Handler
		buckets      *bucket.InMemoryStore
	)
	if cfg.RateLimit.Limit > 0 {
		buckets = bucket.New()
		limiterMetrics := ratelimitmetrics.New()
		sessionLimit = ratelimit.NewLimiter(buckets, "sessions", cfg.RateLimit.Limit, cfg.RateLimit.Window, log,
			ratelimit.WithMetrics(limiterMetrics)).Middleware
		submitLimit = ratelimit.NewLimiter(buckets, "submissions", cfg.RateLimit.Limit, cfg.RateLimit.Window, log,
			ratelimit.WithMetrics(limiterMetrics)).Middleware
	}

	// HTTP surface.
	httpMetrics := metrics.New()
	router := chi.NewRouter()
	sessionhandler.New(sessionSvc, tokens, log, httpMetrics, sessionLimit).Register(router)
	formhandler.New(sessionSvc, tokens, log, httpMetrics).Register(router)
	submithandler.New(submitSvc, tokens, log, httpMetrics, submitLimit).Register(router)
	ticketing.New(archiveStore, cfg.Ticketing.WebhookSecret, log, httpMetrics, publisher).Register(router)
	if cfg.Admin.Token != "" {
		archivehandler.New(archiveStore, cfg.Admin.Token, log, httpMetrics).Register(router)
	}
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Handle("/metrics", promhttp.Handler())

	// Janitors cover what TTLs cover elsewhere: only the memory stores and
	// the limiter windows need sweeping.
	if rdb == nil {
		go every(ctx, sessionSweepEvery, func(time.Time) {
			if _, err := sessionSvc.PurgeExpired(ctx); err != nil {
				log.Warn("session purge failed", "error", err)
			}
		})
		go every(ctx, stashSweepEvery, func(now time.Time) {
			if removed, err := memStash.DeleteExpired(ctx, now); err != nil {
				log.Warn("stash sweep failed", "error", err)
			} else if removed > 0 {
				log.Info("swept expired envelopes", "count", removed)
			}
		})
	}
	if buckets != nil {
		go every(ctx, limiterSweepEvery, func(time.Time) {
			buckets.Sweep()
		})
	}

	srv := httpserver.New(cfg.Addr, router)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()
	log.Info("formgate listening", "addr", cfg.Addr)

	select {
	case err := <-serveErr:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// every runs fn on a fixed interval until ctx ends.
func every(ctx context.Context, interval time.Duration, fn func(now time.Time)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			fn(now)
		}
	}
}
