// Package server wires the HTTP router.
package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"wavemine-server/internal/config"
	"wavemine-server/internal/handler"
)

// Dependencies bundles everything the router needs.
type Dependencies struct {
	Config   *config.Config
	Auth     handler.Authenticator
	Mining   *handler.MiningHandler
	Rewards  *handler.RewardsHandler
	Epochs   *handler.EpochHandler
	Accounts *handler.AccountHandler
	Health   gin.HandlerFunc
}

// New builds the HTTP server.
func New(deps *Dependencies) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     deps.Config.Server.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", deps.Health)

	api := router.Group("/", handler.AuthMiddleware(deps.Auth))
	{
		api.GET("/mining-rewards", deps.Rewards.Get)
		api.POST("/mining-rewards", deps.Rewards.Post)

		api.POST("/mining/start", deps.Mining.Start)
		api.POST("/mining/stop", deps.Mining.Stop)
		api.POST("/mining/tick", deps.Mining.Tick)
		api.GET("/mining/status", deps.Mining.Status)

		api.GET("/epochs/current", deps.Epochs.Current)
		api.POST("/epochs/ensure", deps.Epochs.Ensure)
		api.GET("/validate", deps.Epochs.Validate)

		api.GET("/balance", deps.Accounts.Balance)
		api.GET("/balance/history", deps.Accounts.History)
		api.GET("/nfts", deps.Accounts.Catalog)
		api.POST("/nfts/:id/purchase", deps.Accounts.Purchase)
	}

	return &http.Server{
		Addr:         deps.Config.Server.ListenAddr,
		Handler:      router,
		ReadTimeout:  deps.Config.Server.RequestTimeout,
		WriteTimeout: deps.Config.Server.RequestTimeout,
	}
}
