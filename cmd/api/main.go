package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-identity/internal/app"
	"github.com/ovaphlow/pitchfork/service-identity/internal/config"
	"github.com/ovaphlow/pitchfork/service-identity/internal/router"
	"github.com/ovaphlow/pitchfork/service-identity/internal/user"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/database"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-identity")

	cfg, err := config.ConfigFromEnv()
	if err != nil {
		sugar.Fatalf("config: %v", err)
	}

	db, err := database.Connect(database.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		sugar.Fatalf("migrate: %v", err)
	}

	a, err := app.New(ctx, cfg, db, sugar)
	if err != nil {
		sugar.Fatalf("init service: %v", err)
	}
	defer a.Close()

	if q, err := a.Service.ReconcileQuota(ctx); err != nil {
		sugar.Warnf("reconcile admin quota: %v", err)
	} else {
		sugar.Infow("admin quota", "active", q.Active, "max", q.Max)
	}

	go a.RunMaintenance(ctx, time.Minute)

	handler := router.RegisterRoutes(sugar, user.NewHandler(a.Service, sugar, cfg.IsProduction()), router.Options{
		CORSOrigins:        cfg.CORSOrigins,
		LoginRatePerMinute: cfg.LoginRatePerMinute,
		TrustProxyHeaders:  cfg.TrustProxyHeaders,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Infow("listening", "addr", cfg.HTTPAddr)

	<-ctx.Done()

	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}
