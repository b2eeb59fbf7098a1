// Package main is the entry point for the WaveMine server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"wavemine-server/internal/auth"
	"wavemine-server/internal/config"
	"wavemine-server/internal/event"
	"wavemine-server/internal/handler"
	"wavemine-server/internal/ledger"
	"wavemine-server/internal/pkg/db"
	"wavemine-server/internal/pkg/lock"
	"wavemine-server/internal/repository"
	"wavemine-server/internal/server"
	"wavemine-server/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := repository.Migrate(ctx, dbPool.Pool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Repositories
	profileRepo := repository.NewProfileRepository(dbPool.Pool)
	epochRepo := repository.NewEpochRepository(dbPool.Pool)
	sessionRepo := repository.NewSessionRepository(dbPool.Pool)
	balanceRepo := repository.NewBalanceRepository(dbPool.Pool)
	rewardRepo := repository.NewRewardRepository(dbPool.Pool)
	nftRepo := repository.NewNFTRepository(dbPool.Pool)
	txRepo := repository.NewTransactionRepository(dbPool.Pool)

	// Offline ledger
	offlineLedger, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open offline ledger")
	}
	defer offlineLedger.Close()

	// Core services
	bus := event.NewBus()
	locks := lock.NewUserLock()
	rules := service.DefaultRules(cfg.Rewards.NFTMultiplier, cfg.Rewards.StreakMultiplier, cfg.Rewards.StreakThreshold)

	settler := service.NewSettlementEngine(dbPool.Pool, sessionRepo, balanceRepo, rewardRepo, profileRepo, nftRepo, txRepo, rules)
	epochService := service.NewEpochService(dbPool.Pool, epochRepo, settler, bus, cfg.Epoch.Duration)
	miningService := service.NewMiningService(dbPool.Pool, sessionRepo, balanceRepo, txRepo, profileRepo, nftRepo, epochService, offlineLedger, bus, locks, cfg.Mining.BaseRate)
	streakService := service.NewStreakService(dbPool.Pool, profileRepo, balanceRepo, txRepo, bus, cfg.Streak.Reward)
	validator := service.NewConsistencyValidator(epochRepo, sessionRepo, rewardRepo, profileRepo, nftRepo, rules)
	shopService := service.NewNFTShopService(dbPool.Pool, nftRepo, balanceRepo, txRepo, locks)
	balanceService := service.NewBalanceService(balanceRepo, txRepo)

	if _, err := epochService.EnsureCurrentEpoch(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure initial epoch")
	}

	// Background workers: epoch expiry checks and offline ledger replay.
	syncer := ledger.NewSyncer(offlineLedger, dbPool.Pool, sessionRepo, balanceRepo, txRepo)
	go epochService.Run(ctx, cfg.Epoch.CheckInterval)
	go syncer.Run(ctx, cfg.Ledger.SyncInterval)

	// Notification subscriber: the realtime collaborator is fire-and-forget,
	// so a log sink stands in for it here.
	go func() {
		for evt := range bus.Subscribe() {
			log.Info().
				Str("type", evt.Type).
				Str("user_id", evt.UserID).
				Str("message", evt.Message).
				Msg("Notification")
		}
	}()

	httpServer := server.New(&server.Dependencies{
		Config:   cfg,
		Auth:     auth.New(),
		Mining:   handler.NewMiningHandler(miningService),
		Rewards:  handler.NewRewardsHandler(miningService, streakService),
		Epochs:   handler.NewEpochHandler(epochService, validator),
		Accounts: handler.NewAccountHandler(shopService, balanceService),
		Health: func(c *gin.Context) {
			if err := dbPool.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"status": "degraded"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		},
	})

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP server starting")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	cancel()

	log.Info().Msg("Server stopped gracefully")
}
