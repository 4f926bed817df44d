package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/quantfleet/perp-engine/internal/config"
	"github.com/quantfleet/perp-engine/internal/engine"
	"github.com/quantfleet/perp-engine/internal/exchange"
	"github.com/quantfleet/perp-engine/internal/exchange/bybit"
	"github.com/quantfleet/perp-engine/internal/ledger"
	"github.com/quantfleet/perp-engine/internal/logger"
	"github.com/quantfleet/perp-engine/internal/marketdata"
	"github.com/quantfleet/perp-engine/internal/monitoring"
	"github.com/quantfleet/perp-engine/internal/notifications"
	"github.com/quantfleet/perp-engine/internal/safety"
	"github.com/quantfleet/perp-engine/internal/state"
	"github.com/quantfleet/perp-engine/internal/storage"
)

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file (e.g., engine.json)")
		envFile    = flag.String("env", ".env", "Environment file path")
		demo       = flag.Bool("demo", false, "Force the Bybit demo environment in live mode")
	)
	flag.Parse()

	if *configFile == "" {
		log.Fatal("Please specify a config file with -config flag")
	}

	if err := loadEnvFile(*envFile); err != nil {
		log.Printf("Warning: could not load .env file (%v), using process environment", err)
	}

	fmt.Println("🚀 Perp Engine Starting...")

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *demo {
		cfg.Exchange.Demo = true
		cfg.Exchange.Testnet = false
	}

	engineLog, err := logger.NewLogger(cfg.Storage.LogDir, "engine")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer engineLog.Close()

	for _, p := range []string{cfg.Storage.StatePath, cfg.Storage.SQLitePath} {
		if dir := filepath.Dir(p); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				log.Fatalf("Failed to create data directory %s: %v", dir, err)
			}
		}
	}

	store, err := storage.Open(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("Failed to open event store: %v", err)
	}
	defer store.Close()

	venue := bybit.NewClient(bybit.Config{
		APIKey:    cfg.Exchange.APIKey,
		APISecret: cfg.Exchange.APISecret,
		Testnet:   cfg.Exchange.Testnet,
		Demo:      cfg.Exchange.Demo,
	})

	fees := exchange.Fees{Taker: cfg.Fees.Taker, Maker: cfg.Fees.Maker}
	var exch exchange.Exchange
	if cfg.Mode == "live" {
		exch = exchange.NewLive(venue, fees)
	} else {
		exch = exchange.NewPaper(fees, cfg.Paper.SlippageBps)
	}

	// Indicator computation is a plug-in seam; the default pipeline carries
	// only the close price, which drives manage-only deployments.
	provider := marketdata.NewBybitProvider(venue, cfg.Interval, cfg.WindowSize, marketdata.LastClose)

	led := ledger.New(cfg.InitialEquity, cfg.Limits.NoHedge)
	persister := state.NewFilePersister(cfg.Storage.StatePath)
	snap, err := persister.Load()
	if err != nil {
		engineLog.LogError("load state", err)
	}
	state.ApplyToLedger(snap, led)
	engineLog.Info("state restored: %d open lots, killswitch=%v", led.OpenCount(), led.Killswitch())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Mode == "live" {
		bootstrapLive(ctx, exch, led, engineLog)
	}

	var notifier notifications.Notifier = notifications.NoopNotifier{}
	if cfg.Notifications.Enabled {
		notifier = notifications.NewTelegramNotifier(cfg.Notifications.TelegramToken, cfg.Notifications.TelegramChat)
	}

	var breakers *safety.BreakerSet
	bcfg := safety.BreakerConfig{
		MaxDailyLossPct:  cfg.Breakers.MaxDailyLossPct,
		MaxWeeklyLossPct: cfg.Breakers.MaxWeeklyLossPct,
		MaxGlobalLossPct: cfg.Breakers.MaxGlobalLossPct,
	}
	if bcfg.Configured() {
		breakers = safety.NewBreakerSet(bcfg, store)
	}

	health := monitoring.NewHealthChecker()

	eng, err := engine.New(engine.Deps{
		Config:    cfg,
		Ledger:    led,
		Market:    provider,
		Exchange:  exch,
		Signals:   engine.SignalFunc(flatSignals),
		Persister: persister,
		Sink:      store,
		Breakers:  breakers,
		Logger:    engineLog,
		Notifier:  notifier,
		Health:    health,
	})
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}

	startHTTP(cfg, eng, health)

	fmt.Printf("✅ Engine running: mode=%s symbols=%v\n", cfg.Mode, cfg.Symbols)
	eng.Run(ctx)

	fmt.Println("\n🛑 Shutdown signal received...")
	fmt.Println(eng.GetStatus())
	fmt.Println("✅ Engine stopped")
}

// flatSignals is the default signal oracle: it never opens positions, so the
// engine manages existing exposure only. Deployments plug in a real
// generator here.
func flatSignals(string, marketdata.Row, float64) engine.Signal {
	return engine.Signal{Side: ledger.SideFlat}
}

// bootstrapLive replaces the configured starting equity with the venue
// balance. Failures degrade to the configured equity.
func bootstrapLive(ctx context.Context, exch exchange.Exchange, led *ledger.Ledger, engineLog *logger.Logger) {
	bctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	bal, err := exch.FetchBalance(bctx)
	if err != nil {
		engineLog.LogWarning("bootstrap", "fetch balance failed: %v", err)
		return
	}
	if bal > 0 {
		led.SetEquity(bal)
		engineLog.Info("bootstrap: equity set from venue balance %.2f", bal)
	}
	positions, err := exch.FetchPositions(bctx)
	if err != nil {
		engineLog.LogWarning("bootstrap", "fetch positions failed: %v", err)
		return
	}
	for _, p := range positions {
		if led.CountBySymbol()[p.Symbol] > 0 {
			continue
		}
		lev := int(p.Leverage)
		if lev < 1 {
			lev = 1
		}
		if _, err := led.Open(p.Symbol, p.Side, p.Qty, p.AvgPrice, lev, 0, 0, 0, 0, 0, 1); err != nil {
			engineLog.LogWarning("bootstrap", "adopt %s position failed: %v", p.Symbol, err)
			continue
		}
		engineLog.Info("bootstrap: adopted existing %s %s qty=%.6f @ %.4f", p.Symbol, p.Side, p.Qty, p.AvgPrice)
	}
}

// startHTTP exposes metrics and the control surface. Ports at zero disable
// the corresponding server.
func startHTTP(cfg *config.Config, eng *engine.Engine, health *monitoring.HealthChecker) {
	if cfg.Monitoring.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", monitoring.NewMetricsHandler())
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Monitoring.MetricsPort)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Printf("metrics server stopped: %v", err)
			}
		}()
	}
	if cfg.Monitoring.HealthPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/healthz", health)
		mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, eng.GetStatus())
		})
		mux.HandleFunc("/positions", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, eng.GetPositions())
		})
		mux.HandleFunc("/killswitch", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "POST required", http.StatusMethodNotAllowed)
				return
			}
			fmt.Fprintf(w, "killswitch=%v\n", eng.ToggleKillswitch())
		})
		mux.HandleFunc("/close-all", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "POST required", http.StatusMethodNotAllowed)
				return
			}
			closed, err := eng.CloseAll(r.Context())
			if err != nil {
				http.Error(w, fmt.Sprintf("closed %d lots, error: %v", closed, err), http.StatusInternalServerError)
				return
			}
			fmt.Fprintf(w, "closed %d lots\n", closed)
		})
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Monitoring.HealthPort)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Printf("control server stopped: %v", err)
			}
		}()
	}
}

// loadEnvFile loads environment variables from a file
func loadEnvFile(envFile string) error {
	if _, err := os.Stat(envFile); err == nil {
		return godotenv.Load(envFile)
	}
	return fmt.Errorf("env file %s not found", envFile)
}
