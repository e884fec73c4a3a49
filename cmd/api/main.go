package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/dkostenko/carnet/internal/auth"
	"github.com/dkostenko/carnet/internal/authz"
	"github.com/dkostenko/carnet/internal/avatar"
	"github.com/dkostenko/carnet/internal/cache"
	"github.com/dkostenko/carnet/internal/contact"
	contactrepo "github.com/dkostenko/carnet/internal/contact/repo"
	"github.com/dkostenko/carnet/internal/mailer"
	"github.com/dkostenko/carnet/internal/router"
	"github.com/dkostenko/carnet/internal/user"
	userrepo "github.com/dkostenko/carnet/internal/user/repo"
	"github.com/dkostenko/carnet/pkg/database"
	"github.com/dkostenko/carnet/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	// this is best-effort: if no .env exists, continue (use defaults or real env)
	_ = godotenv.Load()

	// init logger
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting carnet")

	secret := os.Getenv("SECRET_KEY")
	if secret == "" {
		sugar.Fatal("SECRET_KEY is required")
	}

	// init db
	sqlDB, err := database.Connect(database.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer sqlDB.Close()

	// wrap with sqlx for convenience in repos/services
	db := sqlx.NewDb(sqlDB, "postgres")
	defer db.Close()

	users := userrepo.NewUserRepo(db)
	contacts := contactrepo.NewContactRepo(db)
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer bootCancel()
	if err := users.EnsureTable(bootCtx); err != nil {
		sugar.Fatalf("ensure users table: %v", err)
	}
	if err := contacts.EnsureTable(bootCtx); err != nil {
		sugar.Fatalf("ensure contacts tables: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// mail delivery
	queue := mailer.NewQueue(mailer.NewSMTPSender(mailer.SMTPConfigFromEnv()), sugar, registry, 100)
	queue.Start()

	// identity cache: redis if configured, in-process map otherwise
	loader := cache.Loader(users.SnapshotByEmail)
	var userCache cache.UserCache
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		if err := client.Ping(bootCtx).Err(); err != nil {
			sugar.Fatalf("redis ping: %v", err)
		}
		userCache = cache.NewRedisCache(client, loader, cache.DefaultTTL)
		sugar.Infow("identity cache", "backend", "redis", "addr", addr)
	} else {
		userCache = cache.NewMemoryCache(loader, cache.DefaultTTL)
		sugar.Infow("identity cache", "backend", "memory")
	}

	// avatar storage is optional; uploads fail with a clear error without it
	var store avatar.Store
	if os.Getenv("S3_BUCKET") != "" {
		s3Store, err := avatar.NewS3Store(bootCtx, avatar.ConfigFromEnv())
		if err != nil {
			sugar.Fatalf("avatar store: %v", err)
		}
		store = s3Store
	} else {
		sugar.Warn("S3_BUCKET not set, avatar uploads disabled")
	}

	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}

	tokens := auth.NewTokenService([]byte(secret))
	userSvc := user.NewService(users, nil, tokens, queue, store, userCache, userrepo.IsUniqueViolation, baseURL)
	contactSvc := contact.NewService(contacts)

	limiter := router.NewRateLimiter(router.DefaultRateLimiterConfig(), sugar)

	handler := router.RegisterRoutes(router.Config{
		Users:         user.NewHandler(userSvc, sugar),
		Contacts:      contact.NewHandler(contactSvc, sugar),
		Auth:          authz.NewMiddleware(tokens, userCache, sugar),
		Limiter:       limiter,
		AllowedOrigin: os.Getenv("CORS_ORIGIN"),
		Registry:      registry,
		Logger:        sugar,
	})

	addr := os.Getenv("SERVER_ADDR")
	if addr == "" {
		addr = "0.0.0.0:8000"
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		sugar.Infow("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()

	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	limiter.Stop()
	queue.Stop()
	if err := userCache.Close(); err != nil {
		sugar.Warnf("cache close failed: %v", err)
	}

	sugar.Info("goodbye")
}
