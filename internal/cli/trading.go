package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/gateway"
	"algotrader/internal/models"
	"algotrader/internal/trading"
	"algotrader/pkg/utils"
)

// addTradingCommands adds live trading, journal and performance commands.
func addTradingCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "trade",
		Short: "Live trading and the trade journal",
		Long: `Live trading places orders on the approved brokerage account. The journal
tracks executed signals and manual entries with their realized P&L.`,
	}
	cmd.AddCommand(newTradeAccountCmd(app))
	cmd.AddCommand(newTradePositionsCmd(app))
	cmd.AddCommand(newTradeExecuteCmd(app))
	cmd.AddCommand(newTradeClosePositionCmd(app))
	cmd.AddCommand(newTradeJournalCmd(app))
	cmd.AddCommand(newTradeRecordCmd(app))
	cmd.AddCommand(newTradeCloseCmd(app))
	cmd.AddCommand(newTradeStatsCmd(app))
	rootCmd.AddCommand(cmd)
}

// readyExecutor returns an executor once the brokerage account is approved.
func (app *App) readyExecutor(cmd *cobra.Command) (*trading.Executor, error) {
	ctx := cmd.Context()
	if _, err := app.RequireUser(ctx); err != nil {
		return nil, err
	}
	exec := trading.NewExecutor(app.Gateway(), app.Access())
	ready, err := exec.AccountReady(ctx)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, apperrors.NewValidationError("account", nil, "brokerage account is not approved yet; see 'algotrader onboard status'")
	}
	return exec, nil
}

func newTradeAccountCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "account",
		Short: "Show balances, positions and recent orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			exec, err := app.readyExecutor(cmd)
			if err != nil {
				return err
			}
			snap, err := exec.Snapshot(cmd.Context())
			if err != nil {
				output.Banner(apperrors.BannerFor(err))
				return err
			}
			if output.IsJSON() {
				return output.JSON(snap)
			}

			a := snap.Account
			output.Box("Account "+a.AccountNumber, []string{
				fmt.Sprintf("Status:        %s", output.Status(a.Status)),
				fmt.Sprintf("Equity:        %s", FormatMoney(a.Equity)),
				fmt.Sprintf("Cash:          %s", FormatMoney(a.Cash)),
				fmt.Sprintf("Buying power:  %s", FormatMoney(a.BuyingPower)),
				fmt.Sprintf("Portfolio:     %s", FormatMoney(a.PortfolioValue)),
			})
			output.Bold("Positions")
			printPositions(output, snap.Positions)
			output.Println()
			output.Bold("Recent orders")
			printOrders(output, snap.Orders)
			return nil
		},
	}
}

func printPositions(output *Output, positions []models.Position) {
	if len(positions) == 0 {
		output.Dim("No open positions")
		return
	}
	table := NewTable(output, "SYMBOL", "QTY", "SIDE", "AVG ENTRY", "PRICE", "VALUE", "P&L")
	for _, p := range positions {
		pl, _ := p.UnrealizedPL.Float64()
		table.AddRow(p.Symbol, p.Qty.String(), p.Side, FormatMoney(p.AvgEntryPrice), FormatMoney(p.CurrentPrice),
			FormatMoney(p.MarketValue), output.Signed(pl, FormatMoney(p.UnrealizedPL)))
	}
	table.Render()
}

func printOrders(output *Output, orders []models.Order) {
	if len(orders) == 0 {
		output.Dim("No orders")
		return
	}
	table := NewTable(output, "SYMBOL", "SIDE", "TYPE", "QTY", "LIMIT", "FILLED", "STATUS", "SUBMITTED")
	for _, o := range orders {
		qty, limit := "-", "-"
		if o.Qty != nil {
			qty = o.Qty.String()
		}
		if o.LimitPrice != nil {
			limit = FormatMoney(*o.LimitPrice)
		}
		table.AddRow(o.Symbol, o.Side, o.Type, qty, limit, o.FilledQty.String(), output.Status(o.Status), orDash(o.SubmittedAt))
	}
	table.Render()
}

func newTradePositionsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "List open positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			exec, err := app.readyExecutor(cmd)
			if err != nil {
				return err
			}
			snap, err := exec.Snapshot(cmd.Context())
			if err != nil {
				output.Banner(apperrors.BannerFor(err))
				return err
			}
			if output.IsJSON() {
				return output.JSON(snap.Positions)
			}
			printPositions(output, snap.Positions)
			return nil
		},
	}
}

func newTradeExecuteCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute <signal id>",
		Short: "Place the order for a signal",
		Example: `  algotrader trade execute 65f1c2 --qty 10
  algotrader trade execute 65f1c2 --qty 10 --type limit --limit 187.50`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()
			exec, err := app.readyExecutor(cmd)
			if err != nil {
				return err
			}

			signals, err := gateway.Signals(app.Gateway()).List(ctx, gateway.ListOptions{Sort: "-created_date"})
			if err != nil {
				return err
			}
			var signal *models.Signal
			for i := range signals {
				if signals[i].ID == args[0] {
					signal = &signals[i]
					break
				}
			}
			if signal == nil {
				return apperrors.Wrapf(apperrors.ErrNotFound, "signal %q", args[0])
			}

			qty, _ := cmd.Flags().GetInt64("qty")
			typ, _ := cmd.Flags().GetString("type")
			limitRaw, _ := cmd.Flags().GetString("limit")
			ticket := trading.OrderTicket{Quantity: qty, Type: trading.OrderType(strings.ToLower(typ))}
			if limitRaw != "" {
				if ticket.LimitPrice, err = parseAmount(limitRaw); err != nil {
					return apperrors.NewValidationError("limit", limitRaw, "must be a price")
				}
			}

			res, err := exec.ExecuteSignal(ctx, *signal, ticket)
			if err != nil {
				output.Banner(apperrors.BannerFor(err))
				return err
			}
			if output.IsJSON() {
				return output.JSON(res)
			}
			output.Success("%s %d %s submitted (%s)", strings.ToUpper(res.Order.Side), ticket.Quantity, signal.Symbol, output.Status(res.Order.Status))
			output.Dim("Order %s, journal trade %s", res.Order.ID, res.Trade.ID)
			return nil
		},
	}
	cmd.Flags().Int64("qty", 0, "shares to trade")
	cmd.Flags().String("type", string(trading.OrderMarket), "market or limit")
	cmd.Flags().String("limit", "", "limit price for limit orders")
	_ = cmd.MarkFlagRequired("qty")
	return cmd
}

func newTradeClosePositionCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "close-position <symbol>",
		Short: "Liquidate an open position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			exec, err := app.readyExecutor(cmd)
			if err != nil {
				return err
			}
			symbol := strings.ToUpper(args[0])
			if err := exec.ClosePosition(cmd.Context(), symbol); err != nil {
				output.Banner(apperrors.BannerFor(err))
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"closed": symbol})
			}
			output.Success("Close order sent for %s", symbol)
			return nil
		},
	}
}

func (app *App) journal(cmd *cobra.Command) (*trading.Journal, error) {
	if _, err := app.RequireUser(cmd.Context()); err != nil {
		return nil, err
	}
	return trading.NewJournal(app.Gateway()), nil
}

func newTradeJournalCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List journaled trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			j, err := app.journal(cmd)
			if err != nil {
				return err
			}
			trades, err := j.List(cmd.Context())
			if err != nil {
				return err
			}
			if status, _ := cmd.Flags().GetString("status"); status != "" {
				kept := trades[:0]
				for _, t := range trades {
					if strings.EqualFold(string(t.Status), status) {
						kept = append(kept, t)
					}
				}
				trades = kept
			}
			if output.IsJSON() {
				return output.JSON(trades)
			}
			if len(trades) == 0 {
				output.Info("Journal is empty")
				return nil
			}

			table := NewTable(output, "ID", "SYMBOL", "ACTION", "QTY", "ENTRY", "EXIT", "P&L", "STATUS", "OPENED")
			for _, t := range trades {
				exit, pnl := "-", "-"
				if t.ExitPrice != nil {
					exit = FormatPrice(*t.ExitPrice)
				}
				if t.PnL != nil {
					pnl = output.Signed(*t.PnL, utils.FormatPnL(*t.PnL))
				}
				opened := t.EntryDate
				table.AddRow(t.ID, t.Symbol, string(t.Action), fmt.Sprintf("%g", t.Quantity), FormatPrice(t.EntryPrice),
					exit, pnl, output.Status(string(t.Status)), FormatDate(&opened, app.Config.UI.DateFormat))
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().String("status", "", "open or closed")
	return cmd
}

func newTradeRecordCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record <symbol>",
		Short: "Add a manual journal entry",
		Example: `  algotrader trade record AAPL --action buy --entry 182.40 --qty 10 --stop 175 --target 195`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			j, err := app.journal(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			action, _ := flags.GetString("action")
			assetType, _ := flags.GetString("asset-type")
			entry, _ := flags.GetFloat64("entry")
			qty, _ := flags.GetFloat64("qty")
			stop, _ := flags.GetFloat64("stop")
			target, _ := flags.GetFloat64("target")
			notes, _ := flags.GetString("notes")

			t, err := j.Record(cmd.Context(), models.Trade{
				Symbol:          args[0],
				AssetType:       models.AssetType(strings.ToLower(assetType)),
				Action:          models.SignalAction(strings.ToLower(action)),
				EntryPrice:      entry,
				Quantity:        qty,
				StopLossPrice:   stop,
				TakeProfitPrice: target,
				Notes:           notes,
			})
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(t)
			}
			output.Success("Recorded %s %g %s at %s (%s)", t.Action, t.Quantity, t.Symbol, FormatPrice(t.EntryPrice), t.ID)
			return nil
		},
	}
	cmd.Flags().String("action", string(models.ActionBuy), "buy, sell, buy_to_open or sell_to_close")
	cmd.Flags().String("asset-type", string(models.AssetStock), "asset type")
	cmd.Flags().Float64("entry", 0, "entry price")
	cmd.Flags().Float64("qty", 0, "quantity")
	cmd.Flags().Float64("stop", 0, "stop loss price")
	cmd.Flags().Float64("target", 0, "take profit price")
	cmd.Flags().String("notes", "", "notes")
	_ = cmd.MarkFlagRequired("entry")
	_ = cmd.MarkFlagRequired("qty")
	return cmd
}

func newTradeCloseCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close <trade id>",
		Short: "Close a journaled trade and realize its P&L",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()
			j, err := app.journal(cmd)
			if err != nil {
				return err
			}
			trades, err := j.List(ctx)
			if err != nil {
				return err
			}
			var trade *models.Trade
			for i := range trades {
				if trades[i].ID == args[0] {
					trade = &trades[i]
					break
				}
			}
			if trade == nil {
				return apperrors.Wrapf(apperrors.ErrNotFound, "trade %q", args[0])
			}

			flags := cmd.Flags()
			exitPrice, _ := flags.GetFloat64("exit")
			commission, _ := flags.GetFloat64("commission")
			notes, _ := flags.GetString("notes")
			dateRaw, _ := flags.GetString("date")
			req := trading.CloseRequest{ExitPrice: exitPrice, Commission: commission, Notes: notes}
			if dateRaw != "" {
				if req.ExitDate, err = time.Parse("2006-01-02", dateRaw); err != nil {
					return apperrors.NewValidationError("date", dateRaw, "must be YYYY-MM-DD")
				}
			}

			closed, err := j.Close(ctx, *trade, req)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(closed)
			}
			pnl := closed.RealizedPnL()
			pct := 0.0
			if closed.PnLPercentage != nil {
				pct = *closed.PnLPercentage
			}
			output.Success("Closed %s %s: %s (%s)", closed.Symbol, closed.ID,
				output.Signed(pnl, utils.FormatPnL(pnl)), utils.FormatPercent(pct))
			return nil
		},
	}
	cmd.Flags().Float64("exit", 0, "exit price")
	cmd.Flags().Float64("commission", 0, "commission paid")
	cmd.Flags().String("date", "", "exit date YYYY-MM-DD (default: now)")
	cmd.Flags().String("notes", "", "closing notes")
	_ = cmd.MarkFlagRequired("exit")
	return cmd
}

func newTradeStatsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Live and backtested performance",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()
			j, err := app.journal(cmd)
			if err != nil {
				return err
			}
			trades, err := j.List(ctx)
			if err != nil {
				return err
			}
			backtests, err := gateway.Backtests(app.Gateway()).List(ctx, gateway.ListOptions{})
			if err != nil {
				return err
			}
			perf := trading.Stats(trades, backtests)
			if output.IsJSON() {
				return output.JSON(perf)
			}

			live := perf.Live
			lines := []string{
				fmt.Sprintf("Open trades:    %d", live.OpenTrades),
				fmt.Sprintf("Closed trades:  %d (%d won, %d lost)", live.ClosedTrades, live.Winners, live.Losers),
				fmt.Sprintf("Total P&L:      %s", output.Signed(live.TotalPnL, utils.FormatPnL(live.TotalPnL))),
				fmt.Sprintf("Win rate:       %.1f%%", live.WinRate),
				fmt.Sprintf("Avg win/loss:   %s / %s", utils.FormatCurrency(live.AvgWin), utils.FormatCurrency(live.AvgLoss)),
			}
			if live.BestTrade != nil {
				lines = append(lines, fmt.Sprintf("Best trade:     %s %s", live.BestTrade.Symbol, utils.FormatPnL(live.BestTrade.RealizedPnL())))
			}
			if live.WorstTrade != nil {
				lines = append(lines, fmt.Sprintf("Worst trade:    %s %s", live.WorstTrade.Symbol, utils.FormatPnL(live.WorstTrade.RealizedPnL())))
			}
			output.Box("Live trading", lines)

			bt := perf.Backtests
			lines = []string{
				fmt.Sprintf("Completed:      %d", bt.Completed),
				fmt.Sprintf("Avg return:     %s", output.Signed(bt.AvgReturn, utils.FormatPercent(bt.AvgReturn))),
				fmt.Sprintf("Avg win rate:   %.1f%%", bt.AvgWinRate),
				fmt.Sprintf("Avg Sharpe:     %.2f", bt.AvgSharpe),
			}
			if bt.Best != nil {
				lines = append(lines, fmt.Sprintf("Best:           %s %s", bt.Best.StrategyName, utils.FormatPercent(bt.Best.TotalReturn)))
			}
			output.Box("Backtests", lines)

			if len(bt.ByStrategy) > 0 {
				table := NewTable(output, "STRATEGY", "BACKTESTS", "AVG RETURN")
				for _, sp := range bt.ByStrategy {
					table.AddRow(sp.StrategyName, fmt.Sprintf("%d", sp.Backtests), output.Signed(sp.AvgReturn, utils.FormatPercent(sp.AvgReturn)))
				}
				table.Render()
			}
			return nil
		},
	}
}
