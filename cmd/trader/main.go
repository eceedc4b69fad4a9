// Command trader runs the DOGE-USDT perpetual-futures trading process: it
// wires the flow-radar signal pipeline, the Position State Machine, the
// exchange executor, and the control surface, then blocks until SIGINT or
// SIGTERM.
package main

import (
	"context"
	"os"
	osignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"doge-flow-trader/config"
	"doge-flow-trader/internal/apisurface"
	"doge-flow-trader/internal/auth"
	"doge-flow-trader/internal/cachekv"
	"doge-flow-trader/internal/circuit"
	"doge-flow-trader/internal/clockutil"
	mktcontext "doge-flow-trader/internal/context"
	"doge-flow-trader/internal/db"
	"doge-flow-trader/internal/events"
	"doge-flow-trader/internal/exchange"
	"doge-flow-trader/internal/executor"
	"doge-flow-trader/internal/gate"
	"doge-flow-trader/internal/logging"
	"doge-flow-trader/internal/market/iceberg"
	"doge-flow-trader/internal/market/pricering"
	"doge-flow-trader/internal/monitor"
	"doge-flow-trader/internal/notify"
	"doge-flow-trader/internal/observation"
	"doge-flow-trader/internal/position"
	"doge-flow-trader/internal/signal"
	"doge-flow-trader/internal/storage"
	"doge-flow-trader/internal/supervisor"
	"doge-flow-trader/internal/tailer"
	"doge-flow-trader/internal/vaultcreds"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("failed to load config", "error", err)
	}

	logging.SetDefault(logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		Component:   "trader",
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
	}))

	now := time.Now()
	clock := clockutil.Real{}
	bus := events.NewBus()
	symbol := cfg.Instrument.Symbol

	client := buildExchangeClient(cfg)

	ring := pricering.New(exchange.CandleSource{Client: client, Symbol: symbol})
	heartbeat := gate.NewHeartbeat(cfg.Gate.HeartbeatPauseSecs, cfg.Gate.HeartbeatCooldownSecs, now)
	filter := gate.New(gate.Config{
		MainConfidence:        cfg.Gate.MainConfidence,
		ExceptionConfidence:   cfg.Gate.ExceptionConfidence,
		ExceptionConfirmRatio: cfg.Gate.ExceptionConfirmRatio,
		ExceptionMaxAgeSecs:   cfg.Gate.ExceptionMaxAgeSecs,
	}, heartbeat)

	ctxStore := mktcontext.NewStore()
	ctxStore.Publish(mktcontext.Snapshot{TradeAllowed: true, AllowedLeverageMax: 2, UpdatedAt: now})
	refresher := mktcontext.NewRefresher(ctxStore, exchange.CandleSource{Client: client, Symbol: symbol}, clock)

	shadowLog := storage.NewShadowShortLog(cfg.Instrument.StorageDir)
	stateStore := storage.NewStateStore(cfg.Instrument.StorageDir)
	pos := position.New(ring, shadowLog, stateStore)

	trialStart, err := time.Parse(time.RFC3339, cfg.Instrument.TrialStartDate)
	if err != nil {
		trialStart = now
	}
	exec := executor.New(client, executor.Config{
		MaxNotionalUSD:      cfg.HardCaps.MaxNotionalUSD,
		MaxContracts:        cfg.HardCaps.MaxContracts,
		MaxPositionPct:      cfg.HardCaps.MaxPositionPct,
		MinOrderNotionalUSD: cfg.HardCaps.MinOrderNotionalUSD,
		TrialStartDate:      trialStart,
		DefaultLeverage:     2,
	}, symbol)

	mon := monitor.New(client, ring, pos, exec, symbol, clock)
	breaker := circuit.New(circuit.Config{
		Enabled:              cfg.CircuitConfig.Enabled,
		MaxLossPerHour:       cfg.CircuitConfig.MaxLossPerHour,
		MaxConsecutiveLosses: cfg.CircuitConfig.MaxConsecutiveLosses,
		CooldownMinutes:      cfg.CircuitConfig.CooldownMinutes,
		MaxTradesPerMinute:   cfg.CircuitConfig.MaxTradesPerMinute,
		MaxDailyLoss:         cfg.CircuitConfig.MaxDailyLoss,
		MaxDailyTrades:       cfg.CircuitConfig.MaxDailyTrades,
	}, clock, bus, symbol)

	notifyManager := buildNotifyManager(cfg)
	cacheStore := cachekv.New(buildRedisClient(cfg))

	var archive *db.DB
	if cfg.DatabaseConfig.Enabled {
		archive, err = db.Open(context.Background(), db.Config{
			Host:     cfg.DatabaseConfig.Host,
			Port:     cfg.DatabaseConfig.Port,
			User:     cfg.DatabaseConfig.User,
			Password: cfg.DatabaseConfig.Password,
			Database: cfg.DatabaseConfig.Database,
			SSLMode:  cfg.DatabaseConfig.SSLMode,
		})
		if err != nil {
			logging.Warn("postgres archive unavailable, continuing without it", "error", err)
			archive = nil
		} else {
			defer archive.Close()
		}
	}
	wireArchive(bus, archive, cacheStore, symbol)

	rawCh := make(chan signal.Raw, 256)
	tail := tailer.New(tailer.Paths{
		SignalsRoot: cfg.Signals.SignalsRoot,
		EventsRoot:  cfg.Signals.EventsRoot,
		Symbol:      symbol,
	}, rawCh)

	obs := observation.New()
	icebergStats := iceberg.New()

	sup := supervisor.New(supervisor.Deps{
		Symbol:       symbol,
		Tailer:       tail,
		RawCh:        rawCh,
		Heartbeat:    heartbeat,
		Filter:       filter,
		Iceberg:      icebergStats,
		ContextStore: ctxStore,
		Refresher:    refresher,
		Observation:  obs,
		PriceRing:    ring,
		Position:     pos,
		Executor:     exec,
		Monitor:      mon,
		Breaker:      breaker,
		Bus:          bus,
		Notify:       notifyManager,
		StateStore:   stateStore,
		Client:       client,
		Clock:        clock,
	})

	if err := sup.Boot(now); err != nil {
		logging.Error("boot failed", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		if err := sup.Run(ctx); err != nil {
			logging.Error("supervisor exited", "error", err)
		}
	}()

	if cfg.ServerConfig.Port > 0 {
		server := apisurface.New(apisurface.Config{
			Port:            cfg.ServerConfig.Port,
			Host:            cfg.ServerConfig.Host,
			AllowedOrigins:  strings.Split(cfg.ServerConfig.AllowedOrigins, ","),
			ReadTimeout:     time.Duration(cfg.ServerConfig.ReadTimeout) * time.Second,
			WriteTimeout:    time.Duration(cfg.ServerConfig.WriteTimeout) * time.Second,
			ShutdownTimeout: time.Duration(cfg.ServerConfig.ShutdownTimeout) * time.Second,
		}, auth.Config{
			JWTSecret:            cfg.AuthConfig.JWTSecret,
			AccessTokenDuration:  cfg.AuthConfig.AccessTokenDuration,
			RefreshTokenDuration: 7 * 24 * time.Hour,
			OperatorName:         cfg.AuthConfig.OperatorUser,
			OperatorPasswordHash: cfg.AuthConfig.OperatorPassHash,
		}, sup, bus)

		go func() {
			if err := server.Run(ctx); err != nil {
				logging.Error("control surface exited", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	osignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logging.Info("shutting down")
	cancel()
	sup.Shutdown()
	time.Sleep(500 * time.Millisecond)
}

func buildExchangeClient(cfg *config.Config) exchange.Client {
	if cfg.Exchange.MockMode {
		return exchange.NewMockClient()
	}
	resolver, err := vaultcreds.New(cfg.VaultConfig)
	if err != nil {
		logging.Fatal("vault credential resolver init failed", "error", err)
	}
	creds, err := resolver.Resolve(context.Background())
	if err != nil {
		logging.Fatal("failed to resolve exchange credentials", "error", err)
	}
	return exchange.NewHTTPClient(creds, cfg.Exchange.BaseURL, cfg.Exchange.RequestTimeout, cfg.Exchange.MaxRetries)
}

func buildRedisClient(cfg *config.Config) *redis.Client {
	if !cfg.RedisConfig.Enabled {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisConfig.Address,
		Password: cfg.RedisConfig.Password,
		DB:       cfg.RedisConfig.DB,
		PoolSize: cfg.RedisConfig.PoolSize,
	})
}

func buildNotifyManager(cfg *config.Config) *notify.Manager {
	m := notify.NewManager()
	m.SetEnabled(cfg.NotificationConfig.Enabled)
	if cfg.NotificationConfig.Telegram.Enabled {
		m.Add(notify.NewTelegramNotifier(notify.TelegramConfig{
			BotToken: cfg.NotificationConfig.Telegram.BotToken,
			ChatID:   cfg.NotificationConfig.Telegram.ChatID,
			Enabled:  true,
		}))
	}
	if cfg.NotificationConfig.Discord.Enabled {
		m.Add(notify.NewDiscordNotifier(notify.DiscordConfig{
			WebhookURL: cfg.NotificationConfig.Discord.WebhookURL,
			Enabled:    true,
		}))
	}
	return m
}

// wireArchive subscribes the Postgres archive (when enabled) and the
// cachekv EMA20/position mirror to the event bus so both stay decoupled
// from the decision pipeline.
func wireArchive(bus *events.Bus, archive *db.DB, cache *cachekv.Store, symbol string) {
	bus.Subscribe(events.EventPositionClosed, func(ev events.Event) {
		if archive == nil {
			return
		}
		exitPrice, _ := ev.Data["exit_price"].(float64)
		pnlPct, _ := ev.Data["pnl_pct"].(float64)
		reason, _ := ev.Data["reason"].(string)
		if err := archive.RecordTrade(context.Background(), db.CompletedTrade{
			Symbol:      symbol,
			ExitPrice:   exitPrice,
			PnLPct:      pnlPct,
			CloseReason: reason,
			ClosedAt:    ev.Timestamp,
		}); err != nil {
			logging.Warn("failed to archive completed trade", "error", err)
		}
	})

	if cache != nil {
		bus.Subscribe(events.EventPositionOpened, func(ev events.Event) {
			entryPrice, _ := ev.Data["entry_price"].(float64)
			cache.SetPosition(context.Background(), symbol, cachekv.PositionSnapshot{
				State:      "LONG",
				EntryPrice: entryPrice,
				UpdatedAt:  ev.Timestamp,
			})
		})
		bus.Subscribe(events.EventPositionClosed, func(ev events.Event) {
			cache.SetPosition(context.Background(), symbol, cachekv.PositionSnapshot{
				State:     "FLAT",
				UpdatedAt: ev.Timestamp,
			})
		})
	}
}
