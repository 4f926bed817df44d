// Package engine runs the single-threaded control loop that owns every
// position mutation: admission, sizing, execution, protection management and
// persistence.
package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/quantfleet/perp-engine/internal/config"
	"github.com/quantfleet/perp-engine/internal/dca"
	apperrors "github.com/quantfleet/perp-engine/internal/errors"
	"github.com/quantfleet/perp-engine/internal/exchange"
	"github.com/quantfleet/perp-engine/internal/guards"
	"github.com/quantfleet/perp-engine/internal/ledger"
	"github.com/quantfleet/perp-engine/internal/logger"
	"github.com/quantfleet/perp-engine/internal/marketdata"
	"github.com/quantfleet/perp-engine/internal/monitoring"
	"github.com/quantfleet/perp-engine/internal/notifications"
	"github.com/quantfleet/perp-engine/internal/risk"
	"github.com/quantfleet/perp-engine/internal/safety"
	"github.com/quantfleet/perp-engine/internal/state"
	"github.com/quantfleet/perp-engine/internal/storage"
)

// Decision reason codes produced by the loop itself, on top of the guard
// rejection codes.
const (
	reasonKillswitch      = "KILLSWITCH"
	reasonEntriesDisabled = "ENTRIES_DISABLED"
	reasonPauseLayer      = "PAUSE_LAYER"
	reasonCooldown        = "COOLDOWN"
	reasonUnevaluable     = "REJECT_UNEVALUABLE"
)

const (
	pauseRefreshEvery = 10 * time.Minute
	pauseDuration     = 24 * time.Hour
	rejectionLogCap   = 200
)

// Signal is the entry decision produced by the signal oracle. A flat side
// means no entry this tick; protections accompany a directional side.
type Signal struct {
	Side        ledger.Side
	StopLoss    float64
	TakeProfit1 float64
	TakeProfit2 float64
	Regime      string
}

// SignalGenerator produces an entry signal from the latest indicator row.
// stopMult is the risk-band widened stop multiplier the oracle should use
// when deriving the stop distance.
type SignalGenerator interface {
	Generate(symbol string, row marketdata.Row, stopMult float64) Signal
}

// SignalFunc adapts a plain function to SignalGenerator.
type SignalFunc func(symbol string, row marketdata.Row, stopMult float64) Signal

func (f SignalFunc) Generate(symbol string, row marketdata.Row, stopMult float64) Signal {
	return f(symbol, row, stopMult)
}

// EventSink is the append-only event store the loop writes to and the
// learning pass reads back from.
type EventSink interface {
	InsertTrade(ev storage.TradeEvent) error
	InsertEquity(sample storage.EquitySample) error
	InsertDecision(ev storage.DecisionEvent) error
	RecentCloses(limit int) ([]storage.CloseStats, error)
}

// Deps are the collaborators the engine is wired with.
type Deps struct {
	Config    *config.Config
	Ledger    *ledger.Ledger
	Market    marketdata.Provider
	Exchange  exchange.Exchange
	Signals   SignalGenerator
	Persister state.Persister
	Sink      EventSink
	Breakers  *safety.BreakerSet
	Logger    *logger.Logger
	Notifier  notifications.Notifier
	Health    *monitoring.HealthChecker
}

// Rejection is one denied entry attempt, kept in a bounded in-memory log for
// the control surface.
type Rejection struct {
	Time   time.Time
	Symbol string
	Side   string
	Reason string
}

type layerKey struct {
	Symbol string
	Layer  string
}

// Engine is the control loop. All position mutations flow through Tick or
// the control surface methods, serialized by one mutex.
type Engine struct {
	mu sync.Mutex

	cfg      *config.Config
	ledger   *ledger.Ledger
	market   marketdata.Provider
	exch     exchange.Exchange
	signals  SignalGenerator
	persist  state.Persister
	sink     EventSink
	breakers *safety.BreakerSet
	log      *logger.Logger
	notifier notifications.Notifier
	health   *monitoring.HealthChecker

	base risk.BaseParams
	band risk.BandState

	fundingBps       map[string]float64
	lastPrice        map[string]float64
	pauses           map[layerKey]time.Time
	lastPauseRefresh time.Time
	rejections       []Rejection

	now func() time.Time
}

// New wires an engine from its dependencies.
func New(deps Deps) (*Engine, error) {
	switch {
	case deps.Config == nil:
		return nil, fmt.Errorf("engine: nil config")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("engine: nil ledger")
	case deps.Market == nil:
		return nil, fmt.Errorf("engine: nil market data provider")
	case deps.Exchange == nil:
		return nil, fmt.Errorf("engine: nil exchange")
	case deps.Signals == nil:
		return nil, fmt.Errorf("engine: nil signal generator")
	case deps.Persister == nil:
		return nil, fmt.Errorf("engine: nil persister")
	case deps.Sink == nil:
		return nil, fmt.Errorf("engine: nil event sink")
	case deps.Logger == nil:
		return nil, fmt.Errorf("engine: nil logger")
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NoopNotifier{}
	}
	cfg := deps.Config
	base := risk.BaseParams{
		Limits: guards.Limits{
			MaxTotalPositions: cfg.Limits.MaxTotalPositions,
			MaxPerSymbol:      cfg.Limits.MaxPerSymbol,
			NoHedge:           cfg.Limits.NoHedge,
		},
		Cooldown: time.Duration(cfg.Cooldown) * time.Second,
		StopMult: cfg.StopMult,
	}
	return &Engine{
		cfg:        cfg,
		ledger:     deps.Ledger,
		market:     deps.Market,
		exch:       deps.Exchange,
		signals:    deps.Signals,
		persist:    deps.Persister,
		sink:       deps.Sink,
		breakers:   deps.Breakers,
		log:        deps.Logger,
		notifier:   notifier,
		health:     deps.Health,
		base:       base,
		band:       risk.BandState{Band: risk.BandNone, Limits: base.Limits, Cooldown: base.Cooldown, StopMult: base.StopMult, AllowEntries: true},
		fundingBps: make(map[string]float64),
		lastPrice:  make(map[string]float64),
		pauses:     make(map[layerKey]time.Time),
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run drives the loop until the context is cancelled. A panicking or failing
// tick is logged, never fatal.
func (e *Engine) Run(ctx context.Context) {
	e.log.Info("control loop started: mode=%s symbols=%v loop=%ds", e.cfg.Mode, e.cfg.Symbols, e.cfg.LoopSeconds)
	ticker := time.NewTicker(time.Duration(e.cfg.LoopSeconds) * time.Second)
	defer ticker.Stop()

	e.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			e.log.Info("control loop stopped: %v", ctx.Err())
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick runs one full sweep: risk posture, breakers, per-symbol step, equity
// snapshot. Per-symbol failures are contained; the sweep always completes.
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("tick panic: %v", r)
			monitoring.RecordError("panic")
		}
	}()

	now := e.now()
	equity := e.ledger.Equity()
	peak := e.ledger.RatchetPeak()

	band := risk.ComputeBand(equity, peak, e.base)
	if band.Band != e.band.Band {
		e.log.LogBandChange(string(band.Band), band.Drawdown,
			band.Limits.MaxTotalPositions, band.Limits.MaxPerSymbol,
			band.Cooldown, band.StopMult, band.AllowEntries)
	}
	e.band = band
	monitoring.UpdateEquity(equity, peak)

	if now.Sub(e.lastPauseRefresh) >= pauseRefreshEvery {
		e.refreshPauses(now)
		e.lastPauseRefresh = now
	}

	entriesBlocked := !band.AllowEntries
	if e.breakers != nil {
		verdict, err := e.breakers.Check(now, equity)
		if err != nil {
			// A breaker that cannot be evaluated blocks entries for the tick.
			e.log.LogError("circuit breakers", err)
			monitoring.RecordError("breaker")
			entriesBlocked = true
		} else if verdict.Tripped && !e.ledger.Killswitch() {
			e.ledger.SetKillswitch(true)
			e.persistState()
			e.log.Risk("⛔ killswitch set by circuit breaker: %s", verdict.Reason)
			_ = e.notifier.SendAlert("error", fmt.Sprintf("killswitch set: %s", verdict.Reason))
		}
	}

	for _, sym := range e.cfg.Symbols {
		if err := e.stepSymbol(ctx, sym, now, entriesBlocked); err != nil {
			eerr := apperrors.Categorize(err, "engine", "step")
			e.log.LogError("step "+sym, eerr)
			monitoring.RecordError(string(eerr.Category))
			if e.health != nil {
				e.health.RecordFailure(fmt.Sprintf("%s: %v", sym, err))
			}
			// A fatal category (credentials, configuration) will not heal on
			// retry; latch the killswitch so no further entries are attempted.
			if eerr.IsFatal() && !e.ledger.Killswitch() {
				e.ledger.SetKillswitch(true)
				e.persistState()
				e.log.Risk("⛔ killswitch set by fatal error: %v", eerr)
				_ = e.notifier.SendAlert("error", fmt.Sprintf("killswitch set: %v", eerr))
			}
		}
	}

	if err := e.sink.InsertEquity(storage.EquitySample{Time: now, Equity: e.ledger.Equity()}); err != nil {
		e.log.LogError("equity sample", err)
	}
	if e.health != nil && len(e.cfg.Symbols) > 0 {
		e.health.RecordTick(e.lastPrice[e.cfg.Symbols[0]])
	}
}

// stepSymbol handles one symbol for one tick: snapshot, signal, entry
// attempt, scale-in, lot management.
func (e *Engine) stepSymbol(ctx context.Context, sym string, now time.Time, entriesBlocked bool) error {
	row, err := e.market.Snapshot(ctx, sym)
	if err != nil {
		return err
	}
	e.lastPrice[sym] = row.Close
	monitoring.UpdatePrice(sym, row.Close)

	sig := e.signals.Generate(sym, row, e.band.StopMult)

	if e.cfg.FundingWindow.Enabled {
		if f, ferr := e.market.FundingRate(ctx, sym); ferr == nil {
			e.fundingBps[sym] = f.AnnualizedBps
		} else {
			e.log.LogWarning("funding "+sym, "%v", ferr)
		}
	}

	entryOK := true
	switch {
	case e.ledger.Killswitch():
		e.recordDecision(now, sym, string(sig.Side), reasonKillswitch)
		entryOK = false
	case entriesBlocked:
		e.recordDecision(now, sym, string(sig.Side), reasonEntriesDisabled)
		entryOK = false
	case e.layerPaused(sym, sig.Regime, now):
		e.recordDecision(now, sym, string(sig.Side), reasonPauseLayer)
		entryOK = false
	case e.inCooldown(sym, now):
		e.recordDecision(now, sym, string(sig.Side), reasonCooldown)
		entryOK = false
	}

	if entryOK && (sig.Side == ledger.SideLong || sig.Side == ledger.SideShort) {
		e.tryOpen(ctx, sym, sig, row, now)
	}
	if entryOK {
		e.tryScaleIn(ctx, sym, sig, row, now)
	}
	e.manageLots(sym, sig.Regime, row, now)
	return nil
}

func (e *Engine) inCooldown(sym string, now time.Time) bool {
	last, ok := e.ledger.LastEntry(sym)
	if !ok {
		return false
	}
	return now.Sub(last) < e.band.Cooldown
}

// tryOpen runs admission guards and, when admitted, sizes and executes a new
// entry lot.
func (e *Engine) tryOpen(ctx context.Context, sym string, sig Signal, row marketdata.Row, now time.Time) {
	dec, err := guards.Evaluate(guards.Input{
		Symbol:     sym,
		Side:       sig.Side,
		Equity:     e.ledger.Equity(),
		Book:       e.ledger.Book(),
		Prices:     e.lastPrice,
		Now:        now,
		FundingBps: e.fundingBps[sym],
		Limits:     e.band.Limits,
		Caps: guards.PortfolioCaps{
			MaxPortfolioLeverage:  e.cfg.PortfolioCaps.MaxPortfolioLeverage,
			MaxPortfolioMarginPct: e.cfg.PortfolioCaps.MaxPortfolioMarginPct,
		},
		Correlation: guards.CorrelationConfig{
			Enabled:                  e.cfg.Correlation.Enabled,
			Clusters:                 e.cfg.Correlation.Clusters,
			SameSideMaxExposureRatio: e.cfg.Correlation.SameSideMaxExposureRatio,
		},
		Funding: guards.FundingConfig{
			Enabled:       e.cfg.FundingWindow.Enabled,
			WindowMinutes: e.cfg.FundingWindow.WindowMinutes,
			MinAbsBps:     e.cfg.FundingWindow.MinAbsBps,
		},
	})
	if err != nil {
		// Un-evaluable admission fails closed.
		e.log.LogError("admission "+sym, err)
		e.recordRejection(now, sym, string(sig.Side), reasonUnevaluable)
		return
	}
	if !dec.Allowed {
		e.recordRejection(now, sym, string(sig.Side), dec.Reason)
		return
	}

	lev, pct := chooseLeverageAndPct(row, sig.Regime, e.cfg.Leverage, e.cfg.OrderSizes)
	equity := e.ledger.Equity()
	usd := riskNormalizedMargin(row.Close, sig.StopLoss, equity, pct, lev, row.ATR, e.cfg.OrderSizes.RiskPct)
	usd = applyTradeCaps(usd, lev, e.cfg.OrderSizes)
	if free := e.freeMargin(equity); usd > free {
		usd = free
	}
	qty := usd * float64(lev) / math.Max(row.Close, 1e-9)
	if qty <= 0 {
		return
	}

	if err := e.exch.SetLeverage(ctx, sym, lev); err != nil {
		e.log.LogWarning("set_leverage "+sym, "%v", err)
	}
	fill, fee, err := e.exch.MarketOrder(ctx, sym, sig.Side, qty, row.Close)
	if err != nil {
		e.log.LogError("market order "+sym, apperrors.NewOrderError("engine", "open", err))
		monitoring.RecordError("order")
		return
	}
	leg := e.ledger.SameSideCount(sym, sig.Side) + 1
	if _, err := e.ledger.Open(sym, sig.Side, fill.Qty, fill.Price, lev, sig.StopLoss, sig.TakeProfit1, sig.TakeProfit2, fee, row.ADX, leg); err != nil {
		e.log.LogError("open lot "+sym, err)
		return
	}
	e.ledger.SetLastEntry(sym, now)
	e.persistState()

	e.log.LogFill("OPEN", sym, string(sig.Side), fill.Qty, fill.Price, lev, fee, 0, e.ledger.Equity())
	monitoring.RecordTrade(sym, string(sig.Side), "OPEN")
	e.insertTrade(storage.TradeEvent{
		Time: now, Symbol: sym, Side: string(sig.Side), Qty: fill.Qty, Price: fill.Price,
		Leverage: lev, Fee: fee, Note: "OPEN", Regime: sig.Regime,
	})
	_ = e.notifier.SendAlert("success", fmt.Sprintf("🟢 OPEN %s %s qty=%.6f @ %.2f lev=%d equity=%.2f",
		sym, sig.Side, fill.Qty, fill.Price, lev, e.ledger.Equity()))

	if err := e.exch.PlaceProtections(ctx, sym, sig.Side, fill.Qty, sig.StopLoss, sig.TakeProfit1, sig.TakeProfit2); err != nil {
		e.log.LogWarning("place_protections "+sym, "%v", err)
	}
}

// tryScaleIn adds one trend-following leg to an existing net position when
// the scale-in controller approves.
func (e *Engine) tryScaleIn(ctx context.Context, sym string, sig Signal, row marketdata.Row, now time.Time) {
	if !e.cfg.DCA.Enabled {
		return
	}
	book := e.ledger.Book()
	lots := book[sym]
	if len(lots) == 0 {
		return
	}
	side, _ := e.ledger.NetExposure(sym)
	if side != ledger.SideLong && side != ledger.SideShort {
		return
	}
	if e.ledger.OpenCount() >= e.band.Limits.MaxTotalPositions {
		return
	}
	ok, scale := dca.ShouldAdd(side, row, lots, e.band.Limits.MaxPerSymbol, dca.Config{
		Enabled:        e.cfg.DCA.Enabled,
		MinADXIncrease: e.cfg.DCA.MinADXIncrease,
		EMAPullbackATR: e.cfg.DCA.EMAPullbackATR,
		PctScalePerAdd: e.cfg.DCA.PctScalePerAdd,
	})
	if !ok {
		return
	}

	lev, basePct := chooseLeverageAndPct(row, sig.Regime, e.cfg.Leverage, e.cfg.OrderSizes)
	pct := clamp(basePct*scale, e.cfg.OrderSizes.MinPct, e.cfg.OrderSizes.MaxPct)

	// Size against the stop already protecting the position when one exists.
	refSL := sig.StopLoss
	if last := lots[len(lots)-1]; last.StopLoss > 0 {
		refSL = last.StopLoss
	}
	equity := e.ledger.Equity()
	usd := riskNormalizedMargin(row.Close, refSL, equity, pct, lev, row.ATR, e.cfg.OrderSizes.RiskPct)
	usd = applyTradeCaps(usd, lev, e.cfg.OrderSizes)
	if free := e.freeMargin(equity); usd > free {
		usd = free
	}
	qty := usd * float64(lev) / math.Max(row.Close, 1e-9)
	if qty <= 0 {
		return
	}

	fill, fee, err := e.exch.MarketOrder(ctx, sym, side, qty, row.Close)
	if err != nil {
		e.log.LogError("dca order "+sym, apperrors.NewOrderError("engine", "scale-in", err))
		monitoring.RecordError("order")
		return
	}
	leg := e.ledger.SameSideCount(sym, side) + 1
	if _, err := e.ledger.Open(sym, side, fill.Qty, fill.Price, lev, sig.StopLoss, sig.TakeProfit1, sig.TakeProfit2, fee, row.ADX, leg); err != nil {
		e.log.LogError("dca open "+sym, err)
		return
	}
	e.ledger.SetLastEntry(sym, now)
	e.persistState()

	e.log.LogFill("DCA_ADD", sym, string(side), fill.Qty, fill.Price, lev, fee, 0, e.ledger.Equity())
	monitoring.RecordTrade(sym, string(side), "DCA_ADD")
	e.insertTrade(storage.TradeEvent{
		Time: now, Symbol: sym, Side: string(side), Qty: fill.Qty, Price: fill.Price,
		Leverage: lev, Fee: fee, Note: "DCA_ADD", Regime: sig.Regime,
	})
}

// freeMargin returns equity minus margin locked by open lots at last known
// prices.
func (e *Engine) freeMargin(equity float64) float64 {
	used := 0.0
	for sym, lots := range e.ledger.Book() {
		p := e.lastPrice[sym]
		if p <= 0 {
			continue
		}
		for _, lot := range lots {
			lev := lot.Leverage
			if lev < 1 {
				lev = 1
			}
			used += math.Abs(p*lot.Qty) / float64(lev)
		}
	}
	free := equity - used
	if free < 0 {
		return 0
	}
	return free
}

func (e *Engine) persistState() {
	if err := e.persist.Save(state.FromLedger(e.ledger)); err != nil {
		e.log.LogError("persist state", apperrors.NewStateError("engine", "save", err))
		monitoring.RecordError("persist")
	}
}

func (e *Engine) insertTrade(ev storage.TradeEvent) {
	if err := e.sink.InsertTrade(ev); err != nil {
		e.log.LogError("trade event", err)
	}
}

// recordDecision logs a skipped entry that never reached the guards.
func (e *Engine) recordDecision(now time.Time, sym, side, reason string) {
	if err := e.sink.InsertDecision(storage.DecisionEvent{Time: now, Symbol: sym, Side: side, Reason: reason}); err != nil {
		e.log.LogError("decision event", err)
	}
}

// recordRejection logs a guard rejection and keeps it in the bounded
// in-memory log.
func (e *Engine) recordRejection(now time.Time, sym, side, reason string) {
	e.log.LogRejection(sym, side, reason)
	monitoring.RecordRejection(sym, reason)
	e.recordDecision(now, sym, side, reason)
	e.rejections = append(e.rejections, Rejection{Time: now, Symbol: sym, Side: side, Reason: reason})
	if len(e.rejections) > rejectionLogCap {
		e.rejections = e.rejections[len(e.rejections)-rejectionLogCap:]
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
