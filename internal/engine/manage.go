package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/quantfleet/perp-engine/internal/ledger"
	"github.com/quantfleet/perp-engine/internal/marketdata"
	"github.com/quantfleet/perp-engine/internal/monitoring"
	"github.com/quantfleet/perp-engine/internal/risk"
	"github.com/quantfleet/perp-engine/internal/storage"
)

// manageLots updates trailing stops and applies the exit ladder for every
// open lot of the symbol: full close at the stop, full close at the second
// take-profit, half close at the first. The half-close survivor keeps its
// entry price and has its first take-profit cleared so it cannot halve again.
func (e *Engine) manageLots(sym, regime string, row marketdata.Row, now time.Time) {
	price := row.Close
	if price <= 0 {
		return
	}
	tp := risk.TrailingParams{
		Enabled:    e.cfg.Trailing.Enabled,
		Mode:       e.cfg.Trailing.Mode,
		ATRK:       e.cfg.Trailing.ATRK,
		EMAKey:     e.cfg.Trailing.EMAKey,
		EMAK:       e.cfg.Trailing.EMAK,
		Percent:    e.cfg.Trailing.Percent,
		MinStepATR: e.cfg.Trailing.MinStepATR,
	}

	slChanged := false
	idx := 0
	for {
		lots := e.ledger.Lots(sym)
		if idx >= len(lots) {
			break
		}
		lot := lots[idx]

		if tp.Enabled {
			newSL := risk.ComputeTrailingStop(lot.Side, price, lot.StopLoss, lot.TrailingAnchor, row, tp)
			if newSL != lot.StopLoss {
				lot.StopLoss = newSL
				slChanged = true
			}
		}

		switch lot.Side {
		case ledger.SideLong:
			if lot.StopLoss > 0 && price <= lot.StopLoss {
				e.closeFull(sym, idx, lot, price, "CLOSE_SL", regime, now, "❌ SL")
				continue
			}
			if lot.TakeProfit2 > 0 && price >= lot.TakeProfit2 {
				e.closeFull(sym, idx, lot, price, "CLOSE_TP2", regime, now, "✅ TP2")
				continue
			}
			if lot.TakeProfit1 > 0 && price >= lot.TakeProfit1 {
				e.closeHalf(sym, idx, lot, price, regime, now)
			}
		case ledger.SideShort:
			if lot.StopLoss > 0 && price >= lot.StopLoss {
				e.closeFull(sym, idx, lot, price, "CLOSE_SL", regime, now, "❌ SL")
				continue
			}
			if lot.TakeProfit2 > 0 && price <= lot.TakeProfit2 {
				e.closeFull(sym, idx, lot, price, "CLOSE_TP2", regime, now, "✅ TP2")
				continue
			}
			if lot.TakeProfit1 > 0 && price <= lot.TakeProfit1 {
				e.closeHalf(sym, idx, lot, price, regime, now)
			}
		}
		idx++
	}
	if slChanged {
		e.persistState()
	}
	monitoring.UpdateOpenLots(sym, len(e.ledger.Lots(sym)))
}

// closeFull realizes the whole lot at the observed price.
func (e *Engine) closeFull(sym string, idx int, lot *ledger.Lot, price float64, note, regime string, now time.Time, label string) {
	qty := lot.Qty
	side := lot.Side
	lev := lot.Leverage
	fee := math.Abs(price*qty) * e.cfg.Fees.Taker

	pnl, err := e.ledger.Close(sym, idx, price, 0, fee)
	if err != nil {
		e.log.LogError("close "+sym, err)
		return
	}
	e.persistState()

	e.log.LogFill(note, sym, string(side), qty, price, lev, fee, pnl, e.ledger.Equity())
	monitoring.RecordTrade(sym, string(side), note)
	e.insertTrade(storage.TradeEvent{
		Time: now, Symbol: sym, Side: string(side), Qty: qty, Price: price,
		Leverage: lev, Fee: fee, PnL: pnl, Note: note, Regime: regime,
	})
	_ = e.notifier.SendAlert("info", fmt.Sprintf("%s %s %s qty=%.6f @ %.2f pnl=%.2f equity=%.2f",
		label, sym, side, qty, price, pnl, e.ledger.Equity()))
}

// closeHalf realizes half the lot at the first take-profit. The remainder
// rides to the stop or the second take-profit.
func (e *Engine) closeHalf(sym string, idx int, lot *ledger.Lot, price float64, regime string, now time.Time) {
	half := lot.Qty * 0.5
	side := lot.Side
	lev := lot.Leverage
	fee := math.Abs(price*half) * e.cfg.Fees.Taker

	pnl, err := e.ledger.Close(sym, idx, price, half, fee)
	if err != nil {
		e.log.LogError("half close "+sym, err)
		return
	}
	lot.TakeProfit1 = 0
	e.persistState()

	e.log.LogFill("CLOSE_TP1_HALF", sym, string(side), half, price, lev, fee, pnl, e.ledger.Equity())
	monitoring.RecordTrade(sym, string(side), "CLOSE_TP1_HALF")
	e.insertTrade(storage.TradeEvent{
		Time: now, Symbol: sym, Side: string(side), Qty: half, Price: price,
		Leverage: lev, Fee: fee, PnL: pnl, Note: "CLOSE_TP1_HALF", Regime: regime,
	})
	_ = e.notifier.SendAlert("info", fmt.Sprintf("🟢 TP1 %s %s half qty=%.6f @ %.2f pnl=%.2f equity=%.2f",
		sym, side, half, price, pnl, e.ledger.Equity()))
}
