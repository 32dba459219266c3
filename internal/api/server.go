// Package api exposes the operations HTTP surface: cycle control,
// settlement history, balance inspection and a websocket event stream.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"hotwallet-settlement/config"
	"hotwallet-settlement/internal/assets"
	"hotwallet-settlement/internal/auth"
	"hotwallet-settlement/internal/chains"
	"hotwallet-settlement/internal/circuit"
	"hotwallet-settlement/internal/database"
	"hotwallet-settlement/internal/events"
	"hotwallet-settlement/internal/exchange"
	"hotwallet-settlement/internal/logging"
	"hotwallet-settlement/internal/settlement"
)

// HealthChecker reports backing-store liveness. Nil is allowed when the
// engine runs without a database.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SnapshotReader serves the last-known balance view persisted during cycle
// planning. Nil disables the snapshots endpoint.
type SnapshotReader interface {
	HotWalletBalancesForAsset(ctx context.Context, asset string) ([]database.BalanceSnapshot, error)
}

// Deps bundles the collaborators the server reads from and controls
type Deps struct {
	Service   *settlement.Service
	Scheduler *settlement.Scheduler
	Store     settlement.Store
	Registry  *chains.Registry
	Mapper    *assets.Mapper
	Exchange  exchange.Client
	Breakers  *circuit.Registry
	Bus       *events.EventBus
	Health    HealthChecker
	Snapshots SnapshotReader
	JWT       *auth.JWTManager // Nil disables authentication
}

// Server is the operations HTTP server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	cfg         config.ServerConfig
	deps        Deps
	authEnabled bool
	hub         *WSHub
	log         *logging.Logger
	startedAt   time.Time
}

// NewServer creates the server and wires its routes
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "*" || cfg.AllowedOrigins == "" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		cfg:         cfg,
		deps:        deps,
		authEnabled: deps.JWT != nil,
		hub:         NewWSHub(deps.Bus),
		log:         logging.Default().WithComponent("api"),
		startedAt:   time.Now(),
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	if s.authEnabled {
		api.Use(auth.Middleware(s.deps.JWT))
	}

	{
		api.GET("/settlement/status", s.handleSettlementStatus)
		api.GET("/settlement/history", s.handleSettlementHistory)
		api.GET("/settlement/reports", s.handleRecentReports)

		api.GET("/balances", s.handleBalances)
		api.GET("/balances/snapshots", s.handleBalanceSnapshots)
		api.GET("/wallets", s.handleWallets)
		api.GET("/breakers", s.handleBreakers)

		run := api.Group("")
		if s.authEnabled {
			run.Use(auth.RequireWrite())
		}
		run.POST("/settlement/run", s.handleRunSettlement)
	}

	// Event stream; token checked in the upgrade handler because browser
	// websocket clients cannot set an Authorization header
	s.router.GET("/ws", s.handleWebSocket)
}

// Start runs the HTTP server and blocks until it exits
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	readTimeout := time.Duration(s.cfg.ReadTimeout) * time.Second
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := time.Duration(s.cfg.WriteTimeout) * time.Second
	if writeTimeout <= 0 {
		writeTimeout = 15 * time.Second
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go s.hub.Run()

	s.log.Info("Starting HTTP server", "addr", addr, "auth", s.authEnabled)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// handleHealth returns server and database health
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	database := "disabled"
	if s.deps.Health != nil {
		database = "healthy"
		if err := s.deps.Health.HealthCheck(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": database,
		"uptime":   time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
