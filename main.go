package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"hotwallet-settlement/config"
	"hotwallet-settlement/internal/api"
	"hotwallet-settlement/internal/assets"
	"hotwallet-settlement/internal/auth"
	"hotwallet-settlement/internal/chains"
	"hotwallet-settlement/internal/circuit"
	"hotwallet-settlement/internal/database"
	"hotwallet-settlement/internal/events"
	"hotwallet-settlement/internal/exchange"
	"hotwallet-settlement/internal/logging"
	"hotwallet-settlement/internal/notification"
	"hotwallet-settlement/internal/settlement"
	"hotwallet-settlement/internal/vault"
	"hotwallet-settlement/internal/wallet"
)

func main() {
	// Load .env before reading configuration; missing file is fine
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(&logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     cfg.LoggingConfig.Output,
		JSONFormat: cfg.LoggingConfig.JSONFormat,
		Component:  "main",
	})
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized")

	eventBus := events.NewEventBus()

	notifyManager := buildNotifications(cfg, logger)

	// Database
	db, err := database.NewDB(cfg.DatabaseConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.RunMigrations(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	repo := database.NewRepository(db)

	// Persist balance observations emitted during cycle planning
	eventBus.Subscribe(events.EventBalancesObserved, func(event events.Event) {
		obs, ok := event.Data.(settlement.BalanceObservation)
		if !ok {
			return
		}
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := repo.SaveBalanceSnapshot(saveCtx, obs.CycleID, obs.ChainKey, obs.Asset,
			obs.WalletBalance, obs.ExchangeBalance, obs.ObservedAt); err != nil {
			logger.Error("Failed to persist balance snapshot", "chain", obs.ChainKey, "error", err)
		}
	})

	// Chain adapters
	chainRegistry, err := chains.BuildRegistry(cfg.ChainConfigs)
	if err != nil {
		log.Fatalf("Failed to build chain registry: %v", err)
	}
	logger.Info("Chain adapters initialized", "chains", chainRegistry.ChainKeys())

	// Asset mapping table
	mapper, err := assets.NewMapper(cfg.AssetConfigs)
	if err != nil {
		log.Fatalf("Failed to build asset mapper: %v", err)
	}

	// Hot wallet signers
	signers := wallet.NewRegistry()
	for _, chainCfg := range cfg.ChainConfigs {
		if cfg.ExchangeConfig.MockMode {
			signers.Register(chainCfg.ChainKey, wallet.NewMockSigner(chainCfg.HotWalletAddress))
			continue
		}
		if chainCfg.SignerEndpoint == "" {
			log.Fatalf("Chain %s has no signer endpoint configured", chainCfg.ChainKey)
		}
		signers.Register(chainCfg.ChainKey,
			wallet.NewHTTPSigner(chainCfg.SignerEndpoint, chainCfg.ChainKey, chainCfg.HotWalletAddress))
	}

	// Exchange client
	exchangeClient, err := buildExchangeClient(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to build exchange client: %v", err)
	}

	// Circuit breakers around exchange and chain endpoints
	breakers := circuit.NewRegistry(&circuit.BreakerConfig{
		Enabled:      cfg.BreakerConfig.Enabled,
		FailureLimit: cfg.BreakerConfig.FailureLimit,
		Cooldown:     time.Duration(cfg.BreakerConfig.CooldownSeconds) * time.Second,
	})
	breakers.OnTrip(func(name, reason string) {
		eventBus.Publish(events.EventBreakerTripped, map[string]any{"endpoint": name, "reason": reason})
		notifyManager.Emit(fmt.Sprintf("Circuit breaker %s tripped: %s", name, reason), notification.SeverityWarning)
	})
	breakers.OnReset(func(name string) {
		eventBus.Publish(events.EventBreakerReset, map[string]any{"endpoint": name})
	})

	// Settlement engine
	confirmations := make(map[string]uint64, len(cfg.ChainConfigs))
	for _, chainCfg := range cfg.ChainConfigs {
		confirmations[chainCfg.ChainKey] = chainCfg.Confirmations
	}

	calculator := settlement.NewCalculator(cfg.SettlementConfig.MinimumAmount)
	executor := settlement.NewExecutor(exchangeClient, mapper, chainRegistry, signers, breakers)
	matcher := settlement.NewMatcher(exchangeClient, mapper, chainRegistry, settlement.MatcherConfig{
		PollInterval:  cfg.SettlementConfig.PollInterval,
		VerifyTimeout: cfg.SettlementConfig.VerifyTimeout,
		Confirmations: confirmations,
		Tolerance:     cfg.SettlementConfig.AmountTolerance,
	})
	reporter := settlement.NewReporter(eventBus, notifyManager)

	service := settlement.NewService(cfg.SettlementConfig, cfg.ChainConfigs, settlement.ServiceDeps{
		Exchange:   exchangeClient,
		Mapper:     mapper,
		Registry:   chainRegistry,
		Calculator: calculator,
		Executor:   executor,
		Matcher:    matcher,
		Reporter:   reporter,
		Store:      repo,
		Bus:        eventBus,
		Notifier:   notifyManager,
	})

	var scheduler *settlement.Scheduler
	if cfg.SettlementConfig.Enabled && cfg.SettlementConfig.Schedule != "" {
		scheduler = settlement.NewScheduler(service, cfg.SettlementConfig.Schedule)
		if err := scheduler.Start(); err != nil {
			log.Fatalf("Failed to start settlement scheduler: %v", err)
		}
		logger.Info("Settlement scheduler started", "schedule", cfg.SettlementConfig.Schedule, "next", scheduler.NextRun())
	}

	// Operations API
	var jwtManager *auth.JWTManager
	if cfg.AuthConfig.Enabled {
		jwtManager = auth.NewJWTManager(cfg.AuthConfig.JWTSecret, 12*time.Hour)
	}

	server := api.NewServer(cfg.ServerConfig, api.Deps{
		Service:   service,
		Scheduler: scheduler,
		Store:     repo,
		Registry:  chainRegistry,
		Mapper:    mapper,
		Exchange:  exchangeClient,
		Breakers:  breakers,
		Bus:       eventBus,
		Health:    db,
		Snapshots: repo,
		JWT:       jwtManager,
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Failed to start API server: %v", err)
		}
	}()

	logger.Info("Settlement engine running",
		"mock_mode", cfg.ExchangeConfig.MockMode,
		"assets", mapper.Assets(),
		"api_port", cfg.ServerConfig.Port)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()

	if scheduler != nil {
		if err := scheduler.Stop(); err != nil {
			logger.Error("Error stopping scheduler", "error", err)
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down API server", "error", err)
	}

	logger.Info("Shutdown complete")
}

// buildNotifications wires the configured notifier channels
func buildNotifications(cfg *config.Config, logger *logging.Logger) *notification.Manager {
	manager := notification.NewManager()
	if !cfg.NotificationConfig.Enabled {
		return manager
	}

	if cfg.NotificationConfig.Telegram.Enabled {
		manager.AddNotifier(notification.NewTelegramNotifier(notification.TelegramConfig{
			BotToken: cfg.NotificationConfig.Telegram.BotToken,
			ChatID:   cfg.NotificationConfig.Telegram.ChatID,
			Enabled:  true,
		}))
		logger.Info("Telegram notifications enabled")
	}
	if cfg.NotificationConfig.Discord.Enabled {
		manager.AddNotifier(notification.NewDiscordNotifier(notification.DiscordConfig{
			WebhookURL: cfg.NotificationConfig.Discord.WebhookURL,
			Enabled:    true,
		}))
		logger.Info("Discord notifications enabled")
	}
	return manager
}

// buildExchangeClient assembles the exchange client: the in-memory mock in
// mock mode, otherwise the REST client with credentials from Vault (or the
// config fallback) and the Redis deposit-address cache when enabled.
func buildExchangeClient(ctx context.Context, cfg *config.Config, logger *logging.Logger) (exchange.Client, error) {
	if cfg.ExchangeConfig.MockMode {
		logger.Warn("Exchange mock mode enabled; no real transfers will happen")
		return exchange.NewMockClient(), nil
	}

	apiKey := cfg.ExchangeConfig.APIKey
	secretKey := cfg.ExchangeConfig.SecretKey

	if cfg.VaultConfig.Enabled {
		vaultClient, err := vault.NewClient(cfg.VaultConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create vault client: %w", err)
		}
		vaultClient.SetFallback(vault.ExchangeCredentials{APIKey: apiKey, SecretKey: secretKey})

		creds, err := vaultClient.GetExchangeCredentials(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load exchange credentials: %w", err)
		}
		apiKey = creds.APIKey
		secretKey = creds.SecretKey
		logger.Info("Exchange credentials loaded from Vault")
	}

	if apiKey == "" || secretKey == "" {
		return nil, fmt.Errorf("no exchange API credentials configured")
	}

	var cache *exchange.AddressCache
	if cfg.RedisConfig.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		cache = exchange.NewAddressCache(rdb, 24*time.Hour)
		logger.Info("Deposit address cache enabled", "redis", cfg.RedisConfig.Address)
	}

	return exchange.NewRESTClient(apiKey, secretKey, cfg.ExchangeConfig.BaseURL, cache), nil
}
