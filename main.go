package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"swing-trading-bot/config"
	"swing-trading-bot/internal/alpaca"
	"swing-trading-bot/internal/api"
	"swing-trading-bot/internal/auth"
	"swing-trading-bot/internal/bot"
	"swing-trading-bot/internal/broker"
	"swing-trading-bot/internal/circuit"
	"swing-trading-bot/internal/drawdown"
	"swing-trading-bot/internal/events"
	"swing-trading-bot/internal/logging"
	"swing-trading-bot/internal/monitor"
	"swing-trading-bot/internal/regime"
	"swing-trading-bot/internal/rotation"
	"swing-trading-bot/internal/scanner"
	"swing-trading-bot/internal/sizing"
	"swing-trading-bot/internal/store"
	"swing-trading-bot/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LoggingConfig)
	logger.Info().Bool("paper", cfg.BrokerConfig.PaperMode).Bool("dry_run", cfg.BrokerConfig.DryRun).Msg("starting swing trading bot")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Broker credentials can come from Vault instead of the environment.
	vaultClient, err := vault.NewClient(vault.Config{
		Enabled:    cfg.VaultConfig.Enabled,
		Address:    cfg.VaultConfig.Address,
		Token:      cfg.VaultConfig.Token,
		SecretPath: cfg.VaultConfig.SecretPath,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("vault client failed")
	}
	if creds, err := vaultClient.LoadCredentials(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to load credentials from vault")
	} else if creds != nil {
		cfg.BrokerConfig.APIKey = creds.APIKey
		cfg.BrokerConfig.SecretKey = creds.SecretKey
		logger.Info().Msg("broker credentials loaded from vault")
	}
	if cfg.BrokerConfig.APIKey == "" || cfg.BrokerConfig.SecretKey == "" {
		logger.Fatal().Msg("broker credentials missing: set BROKER_API_KEY/BROKER_SECRET_KEY or enable vault")
	}

	// Persistence.
	pg, err := store.New(ctx, store.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}

	var redisClient *redis.Client
	if cfg.RedisConfig.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Addr,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable, snapshot cache runs in-memory only")
			redisClient = nil
		}
	}
	cache := store.NewPositionCache(redisClient, logger)
	fallback := store.NewFallbackTracker(
		time.Duration(cfg.DatabaseConfig.MaxUnpersistedMinutes)*time.Minute, logger)

	// Event bus feeds the websocket stream and logs.
	bus := events.NewBus()

	// Broker client behind retry and a circuit breaker.
	breaker := circuit.NewBreaker("broker", &circuit.Config{
		FailureThreshold: cfg.BreakerConfig.FailureThreshold,
		Cooldown:         time.Duration(cfg.BreakerConfig.CooldownSeconds) * time.Second,
	})
	breaker.OnTrip(func(name, reason string) {
		bus.Publish(events.EventBreakerTripped, map[string]interface{}{"name": name, "reason": reason})
	})
	breaker.OnReset(func(name string) {
		bus.Publish(events.EventBreakerReset, map[string]interface{}{"name": name})
	})

	client := alpaca.NewClient(alpaca.Config{
		APIKey:    cfg.BrokerConfig.APIKey,
		SecretKey: cfg.BrokerConfig.SecretKey,
		BaseURL:   cfg.BrokerConfig.BaseURL,
		DryRun:    cfg.BrokerConfig.DryRun,
	}, logger)
	guarded := broker.NewGuard(client, breaker, &broker.RetryConfig{
		MaxAttempts:  cfg.RetryConfig.MaxAttempts,
		InitialDelay: time.Duration(cfg.RetryConfig.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.RetryConfig.MaxDelayMs) * time.Millisecond,
		Multiplier:   cfg.RetryConfig.Multiplier,
	}, logger)

	// Decision engines.
	protector := drawdown.NewProtector(drawdown.Config{
		ThresholdPercent: cfg.DrawdownConfig.ThresholdPercent,
		RecoveryDays:     cfg.DrawdownConfig.RecoveryDays,
	}, logger)
	detector := regime.NewDetector(regimeConfig(cfg.RegimeConfig), logger)
	rotationMgr := rotation.NewManager(rotationConfig(cfg.RotationConfig), logger)
	positionMonitor := monitor.NewMonitor(monitorConfig(cfg.MonitorConfig), logger)
	sizer := sizing.NewSizer(sizing.Config{
		BasePositionPct:     cfg.SizingConfig.BasePositionPct,
		MinPositionValue:    cfg.SizingConfig.MinPositionValue,
		MaxConcentrationPct: cfg.SizingConfig.MaxConcentrationPct,
		MinCompositeScore:   cfg.SizingConfig.MinCompositeScore,
		CashReservePct:      cfg.SizingConfig.CashReservePct,
	}, logger)
	scan := scanner.NewScanner(scanner.Config{
		CacheTTL:    time.Duration(cfg.ScannerConfig.CacheTTLSeconds) * time.Second,
		HistoryBars: cfg.ScannerConfig.HistoryBars,
		MaxResults:  cfg.ScannerConfig.MaxResults,
	}, client, logger)

	engine := bot.New(cfg, bot.Components{
		Broker:    guarded,
		Data:      client,
		Store:     pg,
		Cache:     cache,
		Fallback:  fallback,
		Protector: protector,
		Regime:    detector,
		Rotation:  rotationMgr,
		Monitor:   positionMonitor,
		Sizer:     sizer,
		Scanner:   scan,
		Bus:       bus,
	}, logger)

	if err := engine.LoadState(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to restore state")
	}

	// Status API.
	var server *api.Server
	if cfg.ServerConfig.Enabled {
		authService := auth.NewService(auth.Config{
			JWTSecret:            cfg.AuthConfig.JWTSecret,
			OperatorPasswordHash: cfg.AuthConfig.OperatorPasswordHash,
			TokenTTL:             time.Duration(cfg.AuthConfig.TokenTTLMinutes) * time.Minute,
		})
		server = api.NewServer(cfg.ServerConfig, api.Deps{
			Bot:       engine,
			Protector: protector,
			Regime:    detector,
			Rotation:  rotationMgr,
			Monitor:   positionMonitor,
			Breaker:   breaker,
			Auth:      authService,
			Bus:       bus,
		}, logger)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error().Err(err).Msg("api server stopped")
			}
		}()
	}

	go engine.Run(ctx)

	// Graceful shutdown: stop scheduling cycles, let any in-flight cycle
	// finish, then drain the API server.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("api shutdown error")
		}
	}
	logger.Info().Msg("shutdown complete")
}

func regimeConfig(c config.RegimeConfig) regime.Config {
	return regime.Config{
		ShortEMAPeriod:         c.ShortEMAPeriod,
		HistoryBars:            c.HistoryBars,
		CapitulationDropPct:    c.CapitulationDropPct,
		CapitulationVolumeMult: c.CapitulationVolumeMult,
		CascadeDays:            c.CascadeDays,
		CascadeDropPct:         c.CascadeDropPct,
		SwingLowHoldBars:       c.SwingLowHoldBars,
		SwingLowTolerancePct:   c.SwingLowTolerancePct,
		FollowThroughMinWait:   c.FollowThroughMinWait,
		FollowThroughMaxWait:   c.FollowThroughMaxWait,
		FollowThroughGainPct:   c.FollowThroughGainPct,
		FollowThroughAltGain:   c.FollowThroughAltGain,
		FollowThroughVolMult:   c.FollowThroughVolMult,
		MaxRecoveryDays:        c.MaxRecoveryDays,
		RecoveryDownDays:       c.RecoveryDownDays,
		BreadthFloorPct:        c.BreadthFloorPct,
		SwingLowBreakPct:       c.SwingLowBreakPct,
		RecoveryMultiplier:     c.RecoveryMultiplier,
		RecoveryMaxPositions:   c.RecoveryMaxPositions,
		RecoveryMaxPositionsHL: c.RecoveryMaxPositionsHL,
		RecoveryProfitTarget:   c.RecoveryProfitTarget,
		NormalMaxPositions:     c.NormalMaxPositions,
	}
}

func rotationConfig(c config.RotationConfig) rotation.Config {
	return rotation.Config{
		CadenceDays:            c.CadenceDays,
		FrozenMinTrades:        c.FrozenMinTrades,
		FrozenWinRate:          c.FrozenWinRate,
		PremiumMinTrades:       c.PremiumMinTrades,
		PremiumWinRate:         c.PremiumWinRate,
		PremiumMinProfitFactor: c.PremiumMinProfitFactor,
		StandardMinTrades:      c.StandardMinTrades,
		StandardWinRate:        c.StandardWinRate,
		RecoveryPasses:         c.RecoveryPasses,
		PremiumMultiplier:      c.PremiumMultiplier,
		StandardMultiplier:     c.StandardMultiplier,
	}
}

func monitorConfig(c config.MonitorConfig) monitor.Config {
	return monitor.Config{
		InitialStopATRMult:  c.InitialStopATRMult,
		TrailingStopATRMult: c.TrailingStopATRMult,
		Tier1TargetPct:      c.Tier1TargetPct,
		Tier1SellFraction:   c.Tier1SellFraction,
		Tier2TargetPct:      c.Tier2TargetPct,
		Tier2SellFraction:   c.Tier2SellFraction,
		KillSwitchDropPct:   c.KillSwitchDropPct,
		KillSwitchHoldDays:  c.KillSwitchHoldDays,
		MaxLossLowVol:       c.MaxLossLowVol,
		MaxLossMediumVol:    c.MaxLossMediumVol,
		MaxLossHighVol:      c.MaxLossHighVol,
		MaxLossVeryHighVol:  c.MaxLossVeryHighVol,
		StagnantMaxDays:     c.StagnantMaxDays,
		StagnantMinGainPct:  c.StagnantMinGainPct,
		RemnantMinShares:    c.RemnantMinShares,
		RemnantMinValue:     c.RemnantMinValue,
		FallbackStopPct:     c.FallbackStopPct,
	}
}
