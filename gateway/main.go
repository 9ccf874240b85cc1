package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prefab-labs/prefab-gateway/internal/acl"
	"github.com/prefab-labs/prefab-gateway/internal/invoker"
	"github.com/prefab-labs/prefab-gateway/internal/pipeline"
	"github.com/prefab-labs/prefab-gateway/internal/platform/auditlog"
	"github.com/prefab-labs/prefab-gateway/internal/platform/auth"
	"github.com/prefab-labs/prefab-gateway/internal/platform/env"
	"github.com/prefab-labs/prefab-gateway/internal/platform/httpserver"
	"github.com/prefab-labs/prefab-gateway/internal/platform/objectstore"
	"github.com/prefab-labs/prefab-gateway/internal/platform/postgres"
	"github.com/prefab-labs/prefab-gateway/internal/registry"
	"github.com/prefab-labs/prefab-gateway/internal/specstore"
	"github.com/prefab-labs/prefab-gateway/internal/transfer"
	"github.com/prefab-labs/prefab-gateway/internal/vault"
	"github.com/prefab-labs/prefab-gateway/internal/workspace"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("GATEWAY_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("GATEWAY_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storeClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := objectstore.EnsureOutputsBucket(startupCtx, storeClient, storeCfg); err != nil {
		cancel()
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	cancel()

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}

	cipher, err := vault.NewCipher(env.String("PREFAB_SECRETS_KEY", ""))
	if err != nil {
		logger.Error("invalid secrets key", "error", err)
		os.Exit(2)
	}
	secrets, err := vault.NewPostgres(db, cipher, logger)
	if err != nil {
		logger.Error("vault init failed", "error", err)
		os.Exit(2)
	}

	access, err := acl.NewPostgres(db)
	if err != nil {
		logger.Error("acl init failed", "error", err)
		os.Exit(2)
	}

	specBackend, err := specstore.NewPostgres(db)
	if err != nil {
		logger.Error("spec store init failed", "error", err)
		os.Exit(2)
	}
	specCacheTTL, err := env.Duration("PREFAB_SPEC_CACHE_TTL", 5*time.Minute)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	specs, err := specstore.NewCache(specBackend, specCacheTTL)
	if err != nil {
		logger.Error("spec cache init failed", "error", err)
		os.Exit(2)
	}

	workspaceRoot := env.String("PREFAB_WORKSPACE_ROOT", "/mnt/prefab-workspace")
	sweepInterval, err := env.Duration("PREFAB_WORKSPACE_SWEEP_INTERVAL", 5*time.Minute)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	workspaceMaxAge, err := env.Duration("PREFAB_WORKSPACE_MAX_AGE", time.Hour)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	spaces, err := workspace.NewManager(workspaceRoot, logger)
	if err != nil {
		logger.Error("workspace manager init failed", "error", err)
		os.Exit(1)
	}
	go spaces.Run(ctx, sweepInterval, workspaceMaxAge)

	transfers := transfer.NewService(transfer.NewMinIOStore(storeClient), storeCfg.BucketOutputs, logger)

	invokeTimeout, err := env.Duration("PREFAB_INVOKE_TIMEOUT", 5*time.Minute)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	caller := invoker.NewHTTPInvoker(invokeTimeout, logger)

	deployments := registry.NewPostgres(db)
	resolver, err := buildResolver(deployments)
	if err != nil {
		logger.Error("invalid resolver config", "error", err)
		os.Exit(2)
	}

	continueOnFailure, err := env.Bool("PREFAB_CONTINUE_ON_FAILURE", false)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	requestTimeout, err := env.Duration("PREFAB_REQUEST_TIMEOUT", 15*time.Minute)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	pipe := pipeline.New(
		pipeline.Config{
			ContinueOnFailure: continueOnFailure,
			RequestTimeout:    requestTimeout,
		},
		specs, secrets, access, spaces, transfers, caller, resolver, logger,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("gateway"))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"gateway",
			httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return db.PingContext(checkCtx)
				},
			},
			httpserver.ReadinessCheck{
				Name: "minio",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return objectstore.EnsureOutputsBucket(checkCtx, storeClient, storeCfg)
				},
			},
		),
	)

	api := newGatewayAPI(logger, pipe, secrets, specs, access, deployments, db,
		env.String("PREFAB_FACTORY_WEBHOOK_SECRET", ""))
	api.register(mux)

	skipPrefixes := []string{"/healthz", "/readyz", "/webhooks/"}
	authenticator, err := buildAuthenticator(ctx, authCfg, mux, &skipPrefixes)
	if err != nil {
		logger.Error("auth init failed", "error", err)
		os.Exit(2)
	}

	handler := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		Audit: func(ctx context.Context, event auth.DenyEvent) error {
			auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return auditlog.InsertAuthDeny(auditCtx, db, "gateway", event)
		},
		SkipPrefixes: skipPrefixes,
	}.Wrap(mux)

	cfg := httpserver.Config{
		Service:         "gateway",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "gateway", handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func buildResolver(deployments *registry.Postgres) (registry.Resolver, error) {
	switch mode := env.String("PREFAB_RESOLVER", "registry"); mode {
	case "registry":
		return deployments, nil
	case "template":
		return registry.Template{
			Namespace: env.String("PREFAB_NAMESPACE", "prefabs"),
			Suffix:    env.String("PREFAB_DOMAIN_SUFFIX", "svc.cluster.local"),
		}, nil
	default:
		return nil, errors.New("PREFAB_RESOLVER must be registry or template (got " + mode + ")")
	}
}

// buildAuthenticator picks the authenticator for the configured mode.
// OIDC mode additionally mounts the browser login flow, which must stay
// reachable without a session.
func buildAuthenticator(ctx context.Context, cfg auth.Config, mux *http.ServeMux, skipPrefixes *[]string) (auth.Authenticator, error) {
	switch cfg.Mode {
	case auth.ModeJWT:
		return auth.NewJWTAuthenticator(cfg)
	case auth.ModeOIDC:
		svc, err := auth.NewOIDCService(ctx, cfg)
		if err != nil {
			return nil, err
		}
		login, err := svc.LoginHandler()
		if err != nil {
			return nil, err
		}
		callback, err := svc.CallbackHandler()
		if err != nil {
			return nil, err
		}
		mux.HandleFunc("GET /auth/login", login)
		mux.HandleFunc("GET /auth/callback", callback)
		mux.HandleFunc("POST /auth/logout", svc.LogoutHandler())
		*skipPrefixes = append(*skipPrefixes, "/auth/")
		return svc, nil
	case auth.ModeDev:
		return auth.NewDevAuthenticator(cfg), nil
	default:
		return nil, errors.New("unsupported auth mode")
	}
}
