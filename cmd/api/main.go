package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/courseloom/monetization/internal/cache"
	"github.com/courseloom/monetization/internal/config"
	"github.com/courseloom/monetization/internal/handler"
	"github.com/courseloom/monetization/internal/ledger"
	"github.com/courseloom/monetization/internal/logging"
	"github.com/courseloom/monetization/internal/middleware"
	"github.com/courseloom/monetization/internal/repository"
	"github.com/courseloom/monetization/internal/service"
	"github.com/courseloom/monetization/internal/service/transfer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Init("monetization-api", cfg.LogLevel, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb := cache.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
	balanceCache := cache.NewBalanceCache(rdb, time.Duration(cfg.BalanceCacheTTL)*time.Second)
	if rdb != nil {
		defer rdb.Close()
	}

	wallets := repository.NewWalletRepository(db)
	ledgers := repository.NewLedgerRepository(db)
	ownerships := repository.NewOwnershipRepository(db)
	events := repository.NewEventRepository(db)
	audits := repository.NewAuditRepository(db)

	ledgerCore := ledger.NewCore(ledgers, wallets, db)

	processorClient := service.NewProcessorClient(cfg.ProcessorURL)
	trustClient := service.NewTrustClient(cfg.TrustProviderURL)
	catalogClient := service.NewCatalogClient(cfg.CatalogURL)

	transfers := transfer.NewService(
		ledgerCore, ledgers, wallets, ownerships, audits, events,
		processorClient, trustClient, catalogClient, balanceCache, db,
	)
	walletSvc := service.NewWalletService(wallets, ledgers, ownerships, balanceCache)

	processor := service.NewEventProcessor(
		events, transfers, audits, db,
		time.Duration(cfg.EventPollIntervalMS)*time.Millisecond,
		cfg.EventPollBatchSize,
	)
	go processor.Run(ctx)

	walletHandler := handler.NewWalletHandler(walletSvc)
	transferHandler := handler.NewTransferHandler(transfers)
	ownershipHandler := handler.NewOwnershipHandler(walletSvc)
	webhookHandler := handler.NewWebhookHandler(events, cfg.WebhookSecret)
	healthHandler := handler.NewHealthHandler(db)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", healthHandler.Liveness)
	mux.HandleFunc("GET /health/ready", healthHandler.Readiness)
	mux.HandleFunc("POST /webhooks/payments", webhookHandler.ReceiveProviderWebhook)

	authed := http.NewServeMux()
	authed.HandleFunc("POST /wallets", walletHandler.CreateWallet)
	authed.HandleFunc("GET /wallets/{id}", walletHandler.GetWallet)
	authed.HandleFunc("GET /wallets/{id}/balances", walletHandler.GetBalances)
	authed.HandleFunc("GET /wallets/{id}/entries", walletHandler.GetHistory)
	authed.HandleFunc("POST /transfers/deposit", transferHandler.Deposit)
	authed.HandleFunc("POST /transfers/withdraw", transferHandler.Withdraw)
	authed.HandleFunc("POST /transfers", transferHandler.Transfer)
	authed.HandleFunc("POST /purchases", transferHandler.Purchase)
	authed.HandleFunc("POST /escrow/hold", transferHandler.HoldEscrow)
	authed.HandleFunc("POST /escrow/release", transferHandler.ReleaseEscrow)
	authed.HandleFunc("GET /groups/{groupKey}", transferHandler.GetGroup)
	authed.HandleFunc("POST /groups/{groupKey}/refund", transferHandler.Refund)
	authed.HandleFunc("GET /users/{userId}/products/{productId}/access", ownershipHandler.CheckAccess)
	authed.HandleFunc("GET /users/{userId}/products/{productId}/ownership", ownershipHandler.GetOwnership)

	mux.Handle("/", middleware.Auth(cfg.ServiceJWTSecret)(authed))

	chain := middleware.Recovery(middleware.Tracing(middleware.Logging(mux)))

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           chain,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
