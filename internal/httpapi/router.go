package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"vault_router/internal/audit"
	"vault_router/internal/auth"
	"vault_router/internal/budget"
	"vault_router/internal/config"
	"vault_router/internal/credentials"
	"vault_router/internal/executor"
	"vault_router/internal/ledger"
	"vault_router/internal/middleware"
	"vault_router/internal/policy"
	"vault_router/internal/queue"
	"vault_router/internal/ratelimit"
	"vault_router/internal/registry"
	"vault_router/internal/routing"
	"vault_router/internal/secrets"
	"vault_router/internal/storage"
	"vault_router/internal/utils"
)

// credentialSweepInterval is how often rotating credentials past their
// grace window are expired.
const credentialSweepInterval = time.Minute

// NewRouter creates an HTTP router with all dependencies wired up
func NewRouter(cfg *config.Config) (*http.ServeMux, *Dependencies, error) {
	logger := utils.NewLogger("router")
	ctx := context.Background()

	// Initialize database
	db, err := storage.NewDB(storage.DBConfig{
		DSN:                 cfg.Database.URL,
		MaxOpenConns:        cfg.Database.MaxOpenConns,
		MaxIdleConns:        cfg.Database.MaxIdleConns,
		ConnMaxLifetime:     cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime:     cfg.Database.ConnMaxIdleTime,
		TokenCacheSize:      cfg.Cache.TokenCacheSize,
		TokenCacheTTL:       cfg.Cache.TokenCacheTTL,
		CredentialCacheSize: cfg.Cache.CredentialCacheSize,
		CredentialCacheTTL:  cfg.Cache.CredentialCacheTTL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize Redis client
	redisClient, err := storage.NewRedisClient(storage.RedisConfig{
		Address:      cfg.Redis.Address,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}

	// Initialize repositories
	tenantRepo := storage.NewTenantRepository(db)
	credentialRepo := storage.NewCredentialRepository(db)
	policyRepo := storage.NewPolicyRepository(db)
	providerRepo := storage.NewProviderRepository(db)
	ledgerRepo := storage.NewLedgerRepository(db)
	spendRepo := storage.NewSpendRepository(db)

	// Initialize secret store backend
	secretStore, err := newSecretStore(ctx, cfg.Secrets, redisClient)
	if err != nil {
		redisClient.Close()
		db.Close()
		return nil, nil, err
	}

	// Initialize audit sink
	auditSink, auditClose, err := newAuditSink(ctx, cfg.Audit)
	if err != nil {
		redisClient.Close()
		db.Close()
		return nil, nil, err
	}

	// Initialize provider catalog
	catalog, err := registry.New(ctx, registry.Config{
		Repo:           providerRepo,
		SeedFile:       cfg.Registry.SeedFile,
		ReloadInterval: cfg.Registry.ReloadInterval,
	})
	if err != nil {
		_ = auditClose()
		redisClient.Close()
		db.Close()
		return nil, nil, fmt.Errorf("failed to initialize provider catalog: %w", err)
	}

	// Initialize the outcome queue feeding the performance table
	outcomeCfg := queue.DefaultConfig("outcomes")
	outcomeCfg.UseRedis = cfg.Redis.Address != ""
	outcomeCfg.RedisAddr = cfg.Redis.Address
	outcomeCfg.RedisPassword = cfg.Redis.Password
	outcomeCfg.RedisDB = cfg.Redis.DB

	var outcomeQueue queue.Queue
	var outcomeDLQ queue.DeadLetterQueue
	if outcomeCfg.UseRedis {
		outcomeQueue, err = queue.NewRedisQueue(outcomeCfg)
		if err != nil {
			catalog.Close()
			_ = auditClose()
			redisClient.Close()
			db.Close()
			return nil, nil, fmt.Errorf("failed to create outcome queue: %w", err)
		}
		outcomeDLQ, err = queue.NewRedisDeadLetterQueue(outcomeCfg)
		if err != nil {
			catalog.Close()
			_ = auditClose()
			redisClient.Close()
			db.Close()
			return nil, nil, fmt.Errorf("failed to create outcome DLQ: %w", err)
		}
	} else {
		outcomeQueue = queue.NewMemoryQueue(outcomeCfg)
		outcomeDLQ = queue.NewMemoryDeadLetterQueue()
	}

	outcomeWorker := storage.NewOutcomeQueueWorker(outcomeQueue, outcomeDLQ, ledgerRepo, outcomeCfg, cfg.Routing.EMAAlpha)
	outcomeWorker.Start(ctx)

	// Initialize the performance ledger and warm it from persisted
	// records so scores survive restarts.
	perf := ledger.New(ledger.Config{
		SuccessWeight:    cfg.Routing.SuccessWeight,
		LatencyWeight:    cfg.Routing.LatencyWeight,
		CostWeight:       cfg.Routing.CostWeight,
		OptimisticPrior:  cfg.Routing.OptimisticPrior,
		EMAAlpha:         cfg.Routing.EMAAlpha,
		BreakerThreshold: cfg.Routing.BreakerThreshold,
		BreakerWindow:    cfg.Routing.BreakerWindow,
		BreakerCooldown:  cfg.Routing.BreakerCooldown,
	}, outcomeWorker)
	if records, err := ledgerRepo.ListAll(ctx); err != nil {
		logger.Warn("Failed to warm performance ledger", "error", err)
	} else {
		perf.Warm(records)
	}

	// Initialize credential lifecycle manager
	manager := credentials.NewManager(credentials.Config{
		Store:         secretStore,
		Repo:          credentialRepo,
		Audit:         auditSink,
		RotationGrace: cfg.Executor.RotationGrace,
	})
	manager.StartSweeper(credentialSweepInterval)

	// Initialize remaining services
	policyStore := policy.NewStore(policyRepo)
	engine := routing.NewEngine(cfg.Routing)
	limiter := ratelimit.NewRateLimiter(redisClient.Client())
	budgetTracker := budget.NewRedisTracker(redisClient.Client(), spendRepo, cfg.Budget.SyncInterval)
	invoker := executor.NewHTTPInvoker()

	exec := executor.New(executor.Config{
		Policies:       policyStore,
		Catalog:        catalog,
		Router:         engine,
		Performance:    perf,
		Credentials:    manager,
		Limiter:        limiter,
		Budget:         budgetTracker,
		Invoker:        invoker,
		Audit:          auditSink,
		DefaultTimeout: cfg.Executor.DefaultTimeout,
	})

	deps := &Dependencies{
		Credentials: manager,
		Policies:    policyStore,
		Executor:    exec,
		Catalog:     catalog,
		Tokens:      auth.NewTokenStore(tenantRepo),
		Audit:       auditSink,
		DB:          db,
		Redis:       redisClient,
		JWTSecret:   cfg.JWTSecret,
		closers: []func() error{
			db.Close,
			redisClient.Close,
			auditClose,
			catalog.Close,
			outcomeWorker.Stop,
			manager.Close,
			budgetTracker.Close,
			invoker.Close,
		},
	}

	mux := http.NewServeMux()
	registerRoutes(mux, deps)

	return mux, deps, nil
}

// newSecretStore builds the configured secret store backend.
func newSecretStore(ctx context.Context, cfg config.SecretsConfig, redisClient *storage.RedisClient) (secrets.Store, error) {
	retry := secrets.RetryConfig{
		Attempts: cfg.RetryAttempts,
		BaseWait: cfg.RetryBaseWait,
		MaxWait:  cfg.RetryMaxWait,
	}

	switch cfg.Backend {
	case "awssm":
		store, err := secrets.NewAWSStore(ctx, cfg.AWSRegion, retry)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Secrets Manager store: %w", err)
		}
		return store, nil
	case "redis", "":
		encryption, err := secrets.NewEncryptionFromBase64(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize secret encryption: %w", err)
		}
		return secrets.NewRedisStore(redisClient.Client(), encryption, retry), nil
	default:
		return nil, fmt.Errorf("unknown secrets backend %q", cfg.Backend)
	}
}

// newAuditSink builds the audit pipeline. When auditing is disabled the
// sink drops everything and the returned closer is a no-op.
func newAuditSink(ctx context.Context, cfg config.AuditConfig) (audit.Sink, func() error, error) {
	if !cfg.Enabled {
		return audit.NewNoopSink(), func() error { return nil }, nil
	}

	writer, err := audit.NewS3Writer(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Prefix, cfg.PodName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize audit writer: %w", err)
	}
	sink := audit.NewBufferedSink(writer, audit.BufferedSinkConfig{
		BufferSize:    cfg.BufferSize,
		BatchSize:     cfg.FlushSize,
		FlushInterval: cfg.FlushInterval,
	})
	return sink, sink.Close, nil
}

// scopeByMethod applies a per-method scope requirement before calling
// the handler. Methods missing from the map pass through unchecked and
// are rejected by the handler's own method switch.
func scopeByMethod(scopes map[string]string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, ok := scopes[r.Method]
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		middleware.RequireScope(scope)(next).ServeHTTP(w, r)
	})
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies) {
	authn := middleware.TenantAuth(deps.Tokens, deps.JWTSecret)

	credHandler := NewCredentialsHandler(deps.Credentials)
	mux.Handle("/credentials", authn(scopeByMethod(map[string]string{
		http.MethodGet:  auth.ScopeCredentialsRead,
		http.MethodPost: auth.ScopeCredentialsWrite,
	}, http.HandlerFunc(credHandler.Collection))))
	mux.Handle("/credentials/", authn(scopeByMethod(map[string]string{
		http.MethodPost:   auth.ScopeCredentialsWrite,
		http.MethodDelete: auth.ScopeCredentialsWrite,
	}, http.HandlerFunc(credHandler.Item))))

	policyHandler := NewPolicyHandler(deps.Policies)
	mux.Handle("/policy", authn(scopeByMethod(map[string]string{
		http.MethodPut: auth.ScopePolicyWrite,
	}, http.HandlerFunc(policyHandler.Handle))))

	executeHandler := NewExecuteHandler(deps.Executor)
	mux.Handle("/execute", authn(middleware.RequireScope(auth.ScopeExecute)(http.HandlerFunc(executeHandler.Handle))))

	providersHandler := NewProvidersHandler(deps.Catalog)
	mux.Handle("/providers", authn(http.HandlerFunc(providersHandler.List)))

	// Token exchange is public; it authenticates the bearer token itself.
	authHandler := NewAuthHandler(deps.Tokens, deps.JWTSecret)
	mux.HandleFunc("/auth/token", authHandler.Exchange)

	mux.HandleFunc("/healthz", deps.handleHealth)
}

func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := d.DB.Health(ctx); err != nil {
		utils.RespondWithError(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}
	if err := d.Redis.Ping(ctx); err != nil {
		utils.RespondWithError(w, http.StatusServiceUnavailable, "Redis unavailable")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
