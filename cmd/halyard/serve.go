package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/halyard/pkg/api"
	"github.com/Mindburn-Labs/halyard/pkg/archive"
	"github.com/Mindburn-Labs/halyard/pkg/bus"
	"github.com/Mindburn-Labs/halyard/pkg/clientapps"
	"github.com/Mindburn-Labs/halyard/pkg/config"
	"github.com/Mindburn-Labs/halyard/pkg/credentials"
	"github.com/Mindburn-Labs/halyard/pkg/identity"
	"github.com/Mindburn-Labs/halyard/pkg/observability"
	"github.com/Mindburn-Labs/halyard/pkg/provisioning"
	"github.com/Mindburn-Labs/halyard/pkg/scim"
	"github.com/Mindburn-Labs/halyard/pkg/store"

	_ "github.com/lib/pq"  // Postgres Driver
	_ "modernc.org/sqlite" // SQLite Driver (CGO-free)
)

// idempotencyTTL is how long cached admin responses are replayed.
const idempotencyTTL = 24 * time.Hour

// retentionSweepInterval is the cadence of the delivery archive exporter.
const retentionSweepInterval = time.Hour

// healthPort is the sidecar liveness listener, separate from the admin port
// so probes keep answering while the API is saturated.
const healthPort = "8081"

//nolint:gocognit,gocyclo
func runServer() {
	fmt.Fprintf(os.Stdout, "%sHalyard starting...%s\n", ColorBold+ColorBlue, ColorReset)
	ctx := context.Background()

	cfg := config.Load()

	var profile *config.DeploymentProfile
	if cfg.Profile != "" {
		p, err := config.LoadProfile(cfg.ProfilesDir, cfg.Profile)
		if err != nil {
			log.Fatalf("Failed to load deployment profile: %v", err)
		}
		if err := p.Apply(cfg); err != nil {
			log.Fatalf("Failed to apply deployment profile: %v", err)
		}
		profile = p
		log.Printf("[halyard] profile: %s", p.Code)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if cfg.SCIM.Processor != config.ProcessorScheduled {
		log.Fatalf("Unsupported SCIM_PROCESSOR %q: only %q is available", cfg.SCIM.Processor, config.ProcessorScheduled)
	}

	// Telemetry is opt-in; OTEL_ENABLED=true turns the OTLP exporters on.
	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version
	obsCfg.Enabled = os.Getenv("OTEL_ENABLED") == "true"
	obsCfg.Insecure = os.Getenv("OTEL_INSECURE") == "true"
	if ep := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); ep != "" {
		obsCfg.OTLPEndpoint = ep
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		obsCfg.Environment = env
	}
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		log.Fatalf("Failed to init observability: %v", err)
	}

	var (
		db           *sql.DB
		destinations provisioning.DestinationStore
		events       provisioning.EventStore
		deliveries   provisioning.DeliveryStore
		mappings     provisioning.MappingStore
		expired      archive.DeliverySource
		apps         provisioning.ClientAppDirectory
		idem         api.IdempotencyStorer
	)

	switch cfg.DatabaseDriver() {
	case "postgres":
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to DB: %v", err)
		}
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("DB Ping failed: %v", err)
		}
		if err := store.InitPostgresSchema(ctx, db); err != nil {
			log.Fatalf("Failed to init provisioning schema: %v", err)
		}
		destinations = store.NewPostgresDestinationStore(db)
		events = store.NewPostgresEventStore(db)
		pd := store.NewPostgresDeliveryStore(db)
		deliveries, expired = pd, pd
		mappings = store.NewPostgresMappingStore(db)

		pa := clientapps.NewPostgresStore(db)
		if err := pa.Init(ctx); err != nil {
			log.Fatalf("Failed to init client app store: %v", err)
		}
		apps = pa

		pi := api.NewPostgresIdempotencyStore(db, idempotencyTTL)
		if err := pi.Init(ctx); err != nil {
			log.Fatalf("Failed to init idempotency store: %v", err)
		}
		idem = pi
		log.Println("[halyard] postgres: connected")

	case "sqlite":
		dsn := cfg.SQLiteDSN()
		if dir := filepath.Dir(strings.TrimPrefix(dsn, "file:")); dir != "." && dir != "/" {
			if err := os.MkdirAll(dir, 0750); err != nil {
				log.Fatalf("Failed to create data dir: %v", err)
			}
		}
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			log.Fatalf("Failed to open sqlite: %v", err)
		}
		// modernc.org/sqlite allows one writer; serialize access.
		db.SetMaxOpenConns(1)

		sd, err := store.NewSQLiteDestinationStore(db)
		if err != nil {
			log.Fatalf("Failed to init destination store: %v", err)
		}
		destinations = sd
		se, err := store.NewSQLiteEventStore(db)
		if err != nil {
			log.Fatalf("Failed to init event store: %v", err)
		}
		events = se
		sdel, err := store.NewSQLiteDeliveryStore(db)
		if err != nil {
			log.Fatalf("Failed to init delivery store: %v", err)
		}
		deliveries, expired = sdel, sdel
		sm, err := store.NewSQLiteMappingStore(db)
		if err != nil {
			log.Fatalf("Failed to init mapping store: %v", err)
		}
		mappings = sm

		sa, err := clientapps.NewSQLiteStore(db)
		if err != nil {
			log.Fatalf("Failed to init client app store: %v", err)
		}
		apps = sa

		// The Postgres response cache is not portable; keep it in memory.
		idem = api.NewIdempotencyStore(idempotencyTTL)
		log.Printf("[halyard] sqlite: %s", dsn)

	default:
		destinations = store.NewMemoryDestinationStore()
		events = store.NewMemoryEventStore()
		md := store.NewMemoryDeliveryStore()
		deliveries, expired = md, md
		mappings = store.NewMemoryMappingStore()
		apps = clientapps.NewMemoryStore()
		idem = api.NewIdempotencyStore(idempotencyTTL)
		log.Println("[halyard] stores: in-memory (set DATABASE_URL for persistence)")
	}

	var (
		svcOpts    []provisioning.ServiceOption
		workerOpts []provisioning.WorkerOption
	)
	if cfg.SCIM.CredentialKey != "" {
		cipher, err := credentials.NewCipher([]byte(cfg.SCIM.CredentialKey))
		if err != nil {
			log.Fatalf("Failed to init credential cipher: %v", err)
		}
		var creds interface {
			provisioning.StaticCredentialStore
			provisioning.CredentialSource
		}
		if db != nil {
			cs := credentials.NewStore(db, cipher)
			if err := cs.Init(ctx); err != nil {
				log.Fatalf("Failed to init credential store: %v", err)
			}
			creds = cs
		} else {
			creds = credentials.NewMemoryStore(cipher)
		}
		svcOpts = append(svcOpts, provisioning.WithStaticCredentials(creds))
		workerOpts = append(workerOpts, provisioning.WithCredentialSource(creds))
		log.Println("[halyard] credentials: sealed store ready")
	} else {
		logger.Warn("SCIM_CREDENTIAL_KEY not set; STATIC_BEARER destinations are unavailable")
	}

	if profile != nil {
		svcOpts = append(svcOpts, provisioning.WithBaseURLPolicy(profile.HostAllowed))
	}

	filter, err := provisioning.NewEventFilter()
	if err != nil {
		log.Fatalf("Failed to compile filter environment: %v", err)
	}
	validator, err := provisioning.NewSnapshotValidator()
	if err != nil {
		log.Fatalf("Failed to compile snapshot schemas: %v", err)
	}

	svc := provisioning.NewDestinationService(destinations, deliveries, mappings, apps, filter, svcOpts...)
	health := observability.NewDeliveryHealthTracker(observability.DefaultHealthTarget())

	issuer := cfg.SCIM.IssuerURL
	if issuer == "" {
		issuer = "http://localhost:" + cfg.Port
		logger.Warn("SCIM_ISSUER_URL not set, minting tokens with a local issuer", "issuer", issuer)
	}
	minter := identity.NewMinter(
		identity.NewInMemoryKeySource(),
		identity.IssuerFunc(func(context.Context, string) (string, error) { return issuer, nil }),
		cfg.SCIM.TokenLifetime,
	)

	scimClient := scim.NewClient(scim.WithTimeout(cfg.SCIM.HTTPTimeout))
	worker := provisioning.NewWorker(destinations, events, deliveries, mappings, minter, scimClient, workerOpts...)

	schedOpts := []provisioning.SchedulerOption{provisioning.WithSchedulerHealth(health)}
	apiOpts := []api.ServerOption{api.WithDeliveryHealth(health)}
	if obsCfg.Enabled {
		schedOpts = append(schedOpts, provisioning.WithSchedulerObservability(obs))
		apiOpts = append(apiOpts, api.WithObservability(obs))
	}

	processor := provisioning.NewScheduledProcessor(deliveries, worker, provisioning.SchedulerConfig{
		PollInterval:   cfg.SCIM.PollInterval,
		BatchSize:      cfg.SCIM.BatchSize,
		MaxConcurrency: cfg.SCIM.MaxConcurrency,
		StaleAfter:     cfg.SCIM.StaleAfter,
	}, schedOpts...)

	intake := provisioning.NewIntake(events, destinations, deliveries, validator, filter)
	eventBus := bus.New()
	// Fan-out must land before the wake nudge, so one subscriber does both.
	eventBus.Subscribe("scim_fanout", func(ctx context.Context, e *provisioning.LocalEvent) {
		intake.OnLocalEvent(ctx, e)
		processor.OnEvent(ctx, e)
	})

	if cfg.SCIM.Enabled {
		if err := processor.Start(ctx); err != nil {
			log.Fatalf("Failed to start delivery scheduler: %v", err)
		}
		log.Println("[halyard] scheduler: started")
	} else {
		logger.Warn("outbound provisioning disabled; deliveries will accumulate as PENDING")
	}

	var retentionCancel context.CancelFunc
	if profile != nil && profile.Retention.DeliveryDays > 0 {
		var blobs archive.BlobStore
		if profile.Retention.Archive {
			blobs, err = archive.NewStoreFromEnv(ctx)
			if err != nil {
				log.Fatalf("Failed to init archive store: %v", err)
			}
		}
		exporter := archive.NewExporter(expired, blobs, time.Duration(profile.Retention.DeliveryDays)*24*time.Hour)
		rctx, cancel := context.WithCancel(ctx)
		retentionCancel = cancel
		go exporter.Run(rctx, retentionSweepInterval)
		log.Printf("[halyard] retention: %dd (archive=%v)", profile.Retention.DeliveryDays, profile.Retention.Archive)
	}

	mux := http.NewServeMux()
	api.NewServer(svc, apiOpts...).RegisterRoutes(mux)
	mux.Handle("/internal/v1/events", api.NewEventsIngest(eventBus))

	var limiterStore api.LimiterStore
	if cfg.RedisAddr != "" {
		limiterStore = api.NewRedisLimiterStore(cfg.RedisAddr, os.Getenv("REDIS_PASSWORD"), 0)
		log.Println("[halyard] rate limiter: redis")
	} else {
		limiterStore = api.NewInMemoryLimiterStore()
	}

	var handler http.Handler = mux
	handler = api.IdempotencyMiddleware(idem)(handler)
	handler = api.TenantRateLimit(limiterStore, api.LimitPolicy{RPM: 600, Burst: 120}, handler)
	handler = api.NewGlobalRateLimiter(100, 200).Middleware(handler)
	handler = api.RequestID(handler)

	adminSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Admin server failed: %v", err)
		}
	}()

	// Health Server
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	go func() {
		log.Printf("[halyard] health server: :%s", healthPort)
		//nolint:gosec // Intentionally listening on all interfaces
		if err := http.ListenAndServe(":"+healthPort, healthMux); err != nil {
			log.Printf("[halyard] health server error: %v", err)
		}
	}()

	log.Printf("[halyard] ready: http://localhost:%s", cfg.Port)
	log.Println("[halyard] press ctrl+c to stop")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("[halyard] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Stop ingress first so every accepted event still reaches the stores,
	// then drain the bus and the in-flight deliveries.
	_ = adminSrv.Shutdown(shutdownCtx)
	eventBus.Close()
	if cfg.SCIM.Enabled {
		processor.Stop()
	}
	if retentionCancel != nil {
		retentionCancel()
	}
	_ = obs.Shutdown(shutdownCtx)
	if db != nil {
		_ = db.Close()
	}
}
