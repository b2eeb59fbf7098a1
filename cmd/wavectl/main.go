// Package main is the wavectl operations CLI: on-demand consistency
// audits and manual epoch management against a running deployment's
// database.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"wavemine-server/internal/config"
	"wavemine-server/internal/event"
	"wavemine-server/internal/pkg/db"
	"wavemine-server/internal/repository"
	"wavemine-server/internal/service"
)

var configPath string

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	root := &cobra.Command{
		Use:   "wavectl",
		Short: "WaveMine operations CLI",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config", "path to the config directory")

	root.AddCommand(validateCmd(), epochCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// deps opens the database and builds the repositories the commands need.
func deps(ctx context.Context) (*config.Config, *db.Pool, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	pool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, err
	}

	return cfg, pool, nil
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Run the epoch consistency audit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, pool, err := deps(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			validator := service.NewConsistencyValidator(
				repository.NewEpochRepository(pool.Pool),
				repository.NewSessionRepository(pool.Pool),
				repository.NewRewardRepository(pool.Pool),
				repository.NewProfileRepository(pool.Pool),
				repository.NewNFTRepository(pool.Pool),
				service.DefaultRules(cfg.Rewards.NFTMultiplier, cfg.Rewards.StreakMultiplier, cfg.Rewards.StreakThreshold),
			)

			if err := validator.Validate(ctx); err != nil {
				return err
			}

			fmt.Println("epoch state is consistent")
			return nil
		},
	}
}

func epochCmd() *cobra.Command {
	epoch := &cobra.Command{
		Use:   "epoch",
		Short: "Inspect and manage epochs",
	}

	epoch.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show recent epochs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			_, pool, err := deps(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			epochs, err := repository.NewEpochRepository(pool.Pool).ListRecent(ctx, 10)
			if err != nil {
				return err
			}

			sessions := repository.NewSessionRepository(pool.Pool)
			for _, e := range epochs {
				state := "closed"
				if e.IsActive {
					state = "active"
				}
				mined, err := sessions.TotalMinedByEpoch(ctx, e.ID)
				if err != nil {
					return err
				}
				fmt.Printf("epoch %d  %s  %s -> %s  %.2f waves mined\n",
					e.ID, state,
					e.StartTime.Format(time.RFC3339),
					e.EndTime.Format(time.RFC3339),
					mined)
			}
			return nil
		},
	})

	epoch.AddCommand(&cobra.Command{
		Use:   "ensure",
		Short: "Ensure a current epoch exists, transitioning if expired",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, pool, err := deps(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			rules := service.DefaultRules(cfg.Rewards.NFTMultiplier, cfg.Rewards.StreakMultiplier, cfg.Rewards.StreakThreshold)
			settler := service.NewSettlementEngine(
				pool.Pool,
				repository.NewSessionRepository(pool.Pool),
				repository.NewBalanceRepository(pool.Pool),
				repository.NewRewardRepository(pool.Pool),
				repository.NewProfileRepository(pool.Pool),
				repository.NewNFTRepository(pool.Pool),
				repository.NewTransactionRepository(pool.Pool),
				rules,
			)
			epochs := service.NewEpochService(pool.Pool, repository.NewEpochRepository(pool.Pool), settler, event.NewBus(), cfg.Epoch.Duration)

			current, err := epochs.EnsureCurrentEpoch(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("epoch %d active until %s\n", current.ID, current.EndTime.Format(time.RFC3339))
			return nil
		},
	})

	return epoch
}
