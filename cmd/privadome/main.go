// Command privadome runs the management API. Subcommands:
//
//	privadome [serve]                 start the HTTP API
//	privadome createsuperuser ...     create an admin account
//	privadome corestub ...            serve an in-memory core for development
//	privadome jobs trigger|stats|scheduled
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/privadome/privadome-api/cmd/privadome/cli"
	"github.com/privadome/privadome-api/internal/app"
	"github.com/privadome/privadome-api/internal/auth"
	"github.com/privadome/privadome-api/internal/gateway"
	"github.com/privadome/privadome-api/internal/observability"
	"github.com/privadome/privadome-api/internal/platform/cache"
	"github.com/privadome/privadome-api/internal/platform/db"
	"github.com/privadome/privadome-api/internal/policy"
	"github.com/privadome/privadome-api/internal/users"
	"github.com/privadome/privadome-api/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	os.Exit(dispatch(ctx, cmd, args))
}

func dispatch(ctx context.Context, cmd string, args []string) int {
	switch cmd {
	case "serve":
		if err := serve(ctx); err != nil {
			slog.Default().Error("serve", slog.Any("error", err))
			return 1
		}
		return 0
	case "corestub":
		opts, err := cli.ParseCoreStub(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "corestub: %v\n", err)
			return 2
		}
		return cli.CoreStubCommand(ctx, opts)
	case "createsuperuser":
		opts, err := cli.ParseCreateSuperuser(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "createsuperuser: %v\n", err)
			return 2
		}
		return createSuperuser(ctx, opts)
	case "jobs":
		cfg, err := app.LoadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			return 1
		}
		jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
		defer jobsCLI.Close()
		return jobsCLI.JobsCommand(ctx, cli.JobsOptions{Args: args})
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (expected serve, createsuperuser, corestub or jobs)\n", cmd)
		return 2
	}
}

func createSuperuser(ctx context.Context, opts cli.CreateSuperuserOptions) int {
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, db.Options{DSN: cfg.PGDSN, MaxConns: 2})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		logger.Error("migrate", slog.Any("error", err))
		return 1
	}

	service := users.NewService(users.NewRepository(pool), nil, logger)
	return cli.CreateSuperuserCommand(ctx, service, opts)
}

func serve(ctx context.Context) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, db.Options{DSN: cfg.PGDSN})
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	userRepo := users.NewRepository(pool)
	tokenStore := auth.NewRedisTokenStore(redisClient, cfg.TokenRetention)
	authService := auth.NewService(userRepo, tokenStore, logger)
	userService := users.NewService(userRepo, authService, logger)

	if cfg.BootstrapEnabled() {
		if _, err := userService.Bootstrap(ctx, users.CreateInput{
			Username: cfg.BootstrapAdminUsername,
			Email:    cfg.BootstrapAdminEmail,
			Password: cfg.BootstrapAdminPassword,
		}); err != nil {
			return fmt.Errorf("bootstrap superuser: %w", err)
		}
	}

	core := gateway.New(cfg.Gateway(), logger, gateway.WithMetrics(gateway.NewMetrics(metrics.Registerer())))
	tiles := policy.NewTiles(cfg.CoreTileOperations)
	if !tiles.Open() {
		logger.Info("tile allowlist", slog.Any("tiles", tiles.Names()))
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		AuthHandler:    auth.NewHandler(logger, authService, cfg.LoginLimitPerMinute),
		AuthMiddleware: auth.NewMiddleware(authService, logger),
		UsersHandler:   users.NewHandler(logger, userService),
		PolicyHandler:  policy.NewHandler(logger, core, tiles),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("core", cfg.CoreHost))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
