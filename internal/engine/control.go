package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/quantfleet/perp-engine/internal/monitoring"
	"github.com/quantfleet/perp-engine/internal/storage"
)

// ToggleKillswitch flips the global entry block and returns the new value.
// The change is persisted immediately so a restart cannot lose it.
func (e *Engine) ToggleKillswitch() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	on := e.ledger.ToggleKillswitch()
	e.persistState()
	stateStr := "OFF"
	if on {
		stateStr = "ON"
	}
	e.log.Risk("killswitch toggled %s", stateStr)
	_ = e.notifier.SendAlert("warning", fmt.Sprintf("killswitch %s", stateStr))
	return on
}

// CloseAll market-closes every open lot at the last observed price. Returns
// the number of lots closed and the first execution error encountered; lots
// whose close order fails stay open.
func (e *Engine) CloseAll(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	closed := 0
	var firstErr error
	for _, sym := range e.ledger.Symbols() {
		for {
			lots := e.ledger.Lots(sym)
			if len(lots) == 0 {
				break
			}
			lot := lots[0]
			price := e.lastPrice[sym]
			if price <= 0 {
				price = lot.Entry
			}
			fill, fee, err := e.exch.MarketOrder(ctx, sym, lot.Side.Opposite(), lot.Qty, price)
			if err != nil {
				e.log.LogError("close_all "+sym, err)
				if firstErr == nil {
					firstErr = err
				}
				break
			}
			qty := lot.Qty
			side := lot.Side
			lev := lot.Leverage
			pnl, err := e.ledger.Close(sym, 0, fill.Price, 0, fee)
			if err != nil {
				e.log.LogError("close_all "+sym, err)
				if firstErr == nil {
					firstErr = err
				}
				break
			}
			e.persistState()
			e.log.LogFill("CLOSE_ALL", sym, string(side), qty, fill.Price, lev, fee, pnl, e.ledger.Equity())
			monitoring.RecordTrade(sym, string(side), "CLOSE_ALL")
			e.insertTrade(storage.TradeEvent{
				Time: now, Symbol: sym, Side: string(side), Qty: qty, Price: fill.Price,
				Leverage: lev, Fee: fee, PnL: pnl, Note: "CLOSE_ALL",
			})
			closed++
		}
	}
	if closed > 0 {
		_ = e.notifier.SendAlert("warning", fmt.Sprintf("closed all positions (%d lots), equity=%.2f", closed, e.ledger.Equity()))
	}
	return closed, firstErr
}

// GetStatus renders the account posture as a console table.
func (e *Engine) GetStatus() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ks := "OFF"
	if e.ledger.Killswitch() {
		ks = "ON"
	}
	t := table.NewWriter()
	t.SetTitle("ENGINE STATUS")
	t.SetStyle(table.StyleRounded)
	t.AppendRows([]table.Row{
		{"Mode", e.cfg.Mode},
		{"Equity", fmt.Sprintf("%.2f", e.ledger.Equity())},
		{"Equity peak", fmt.Sprintf("%.2f", e.ledger.EquityPeak())},
		{"Drawdown", fmt.Sprintf("%.2f%%", e.band.Drawdown*100)},
		{"Risk band", string(e.band.Band)},
		{"Killswitch", ks},
		{"Open lots", e.ledger.OpenCount()},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 14, Align: text.AlignLeft},
		{Number: 2, WidthMin: 18, Align: text.AlignLeft},
	})
	return t.Render()
}

// GetPositions renders every open lot as a console table.
func (e *Engine) GetPositions() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := table.NewWriter()
	t.SetTitle("OPEN POSITIONS")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Symbol", "Side", "Qty", "Entry", "Lev", "SL", "TP1", "TP2", "Leg"})

	syms := e.ledger.Symbols()
	sort.Strings(syms)
	for _, sym := range syms {
		for _, lot := range e.ledger.Lots(sym) {
			t.AppendRow(table.Row{
				sym, string(lot.Side),
				fmt.Sprintf("%.6f", lot.Qty),
				fmt.Sprintf("%.4f", lot.Entry),
				lot.Leverage,
				fmt.Sprintf("%.4f", lot.StopLoss),
				fmt.Sprintf("%.4f", lot.TakeProfit1),
				fmt.Sprintf("%.4f", lot.TakeProfit2),
				lot.Leg,
			})
		}
	}
	return t.Render()
}

// RecentRejections returns a copy of the bounded rejection log, newest last.
func (e *Engine) RecentRejections() []Rejection {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Rejection, len(e.rejections))
	copy(out, e.rejections)
	return out
}
