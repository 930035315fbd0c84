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

	accountrepo "github.com/claudiohpo/Relatorio-KM/internal/account/repo"
	"github.com/claudiohpo/Relatorio-KM/internal/config"
	"github.com/claudiohpo/Relatorio-KM/internal/notify"
	"github.com/claudiohpo/Relatorio-KM/internal/router"
	"github.com/claudiohpo/Relatorio-KM/internal/tenant"
	triprepo "github.com/claudiohpo/Relatorio-KM/internal/trip/repo"
	"github.com/claudiohpo/Relatorio-KM/pkg/database"
	"github.com/claudiohpo/Relatorio-KM/pkg/utilities"
)

func main() {
	// best-effort: continue without a .env file
	_ = godotenv.Load()

	lg, err := utilities.InitLogger(utilities.LogConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting relatorio-km api")

	cfg, err := config.Load()
	if err != nil {
		sugar.Fatalf("config: %v", err)
	}

	sqlDB, err := database.Connect(database.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer sqlDB.Close()

	sqlxDB := sqlx.NewDb(sqlDB, "postgres")
	defer sqlxDB.Close()

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer bootCancel()
	if err := accountrepo.NewAccountRepo(sqlxDB).EnsureTable(bootCtx); err != nil {
		sugar.Fatalf("ensure accounts table: %v", err)
	}
	if err := triprepo.NewTripRepo(sqlxDB).EnsurePartition(bootCtx, tenant.SharedPartition); err != nil {
		sugar.Fatalf("ensure shared partition: %v", err)
	}

	var notifier notify.Notifier
	if cfg.MailConfigured() {
		notifier = notify.NewSMTPNotifier(cfg)
		sugar.Infow("mail notifier enabled", "host", cfg.SMTPHost)
	} else {
		notifier = notify.NewLogNotifier(sugar)
		sugar.Info("mail not configured; notifications go to the log")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler := router.RegisterRoutes(sugar, sqlxDB, cfg, notifier)
	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: handler,
	}

	go func() {
		sugar.Infow("http server listening", "addr", cfg.Addr)
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

	sugar.Info("goodbye")
}
