package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/gateway"
	"algotrader/internal/models"
	"algotrader/internal/store"
	"algotrader/internal/strategies"
	"algotrader/internal/workflow"
	"algotrader/pkg/utils"
)

// addWorkflowCommands adds the LLM-backed backtest, signal and discovery
// commands plus the local run history.
func addWorkflowCommands(rootCmd *cobra.Command, app *App) {
	backtest := &cobra.Command{
		Use:     "backtest",
		Aliases: []string{"bt"},
		Short:   "Generate and review backtests",
	}
	backtest.AddCommand(newBacktestRunCmd(app))
	backtest.AddCommand(newBacktestListCmd(app))
	backtest.AddCommand(newBacktestShowCmd(app))

	signal := &cobra.Command{
		Use:   "signal",
		Short: "Generate and review trading signals",
	}
	signal.AddCommand(newSignalGenerateCmd(app))
	signal.AddCommand(newSignalListCmd(app))

	runs := &cobra.Command{
		Use:   "runs",
		Short: "Local history of workflow runs",
	}
	runs.AddCommand(newRunsListCmd(app))
	runs.AddCommand(newRunsStatsCmd(app))

	rootCmd.AddCommand(backtest, signal, newDiscoverCmd(app), runs)
}

// workflowService builds a workflow service for a logged-in user, with
// progress reported on output.
func (app *App) workflowService(ctx context.Context, output *Output) (*workflow.Service, error) {
	sess, err := app.RequireUser(ctx)
	if err != nil {
		return nil, err
	}
	var runs workflow.RunRecorder
	if s := app.optionalStore(); s != nil {
		runs = s
	}
	opts := workflow.Options{BatchConcurrency: app.Config.Workflow.BatchConcurrency}
	if !output.IsJSON() {
		opts.OnProgress = func(current, total int, name string) {
			output.Progress(current, total, name)
		}
	}
	return workflow.NewService(app.Gateway(), sess, runs, app.Notifier(), opts), nil
}

// backtestRequest builds a request from flags, falling back to the
// workflow defaults in config.toml.
func (app *App) backtestRequest(cmd *cobra.Command, now time.Time) (workflow.BacktestRequest, error) {
	symbols, _ := cmd.Flags().GetString("symbols")
	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")
	capital, _ := cmd.Flags().GetFloat64("capital")

	req := workflow.BacktestRequest{
		Symbols: app.Config.Workflow.DefaultSymbols,
		Capital: app.Config.Workflow.DefaultCapital,
	}
	if symbols != "" {
		req.Symbols = nil
		for _, s := range strategies.SplitList(symbols) {
			req.Symbols = append(req.Symbols, strings.ToUpper(s))
		}
	}
	if capital > 0 {
		req.Capital = capital
	}

	req.Period.End = now.UTC().Truncate(24 * time.Hour)
	if end != "" {
		t, err := time.Parse(workflow.DateLayout, end)
		if err != nil {
			return req, apperrors.NewValidationError("end", end, "must be YYYY-MM-DD")
		}
		req.Period.End = t
	}
	req.Period.Start = req.Period.End.Add(-app.Config.Lookback())
	if start != "" {
		t, err := time.Parse(workflow.DateLayout, start)
		if err != nil {
			return req, apperrors.NewValidationError("start", start, "must be YYYY-MM-DD")
		}
		req.Period.Start = t
	}
	return req, nil
}

func addBacktestFlags(cmd *cobra.Command) {
	cmd.Flags().String("symbols", "", "comma separated symbols (default: workflow.default_symbols)")
	cmd.Flags().String("start", "", "start date YYYY-MM-DD (default: end minus workflow.default_lookback)")
	cmd.Flags().String("end", "", "end date YYYY-MM-DD (default: today)")
	cmd.Flags().Float64("capital", 0, "initial capital (default: workflow.default_capital)")
}

func newBacktestRunCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [strategy id|name]",
		Short: "Backtest one strategy, or every active strategy with --all",
		Example: `  algotrader backtest run "RSI dip" --symbols SPY,QQQ --start 2023-01-01 --end 2024-01-01
  algotrader backtest run --all --capital 25000`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()
			all, _ := cmd.Flags().GetBool("all")
			if all == (len(args) == 1) {
				return apperrors.NewValidationError("strategy", nil, "give a strategy or --all")
			}

			svc, err := app.workflowService(ctx, output)
			if err != nil {
				return err
			}
			req, err := app.backtestRequest(cmd, time.Now())
			if err != nil {
				return err
			}
			list, err := strategies.New(app.Gateway()).List(ctx)
			if err != nil {
				return err
			}

			if all {
				report, err := svc.GenerateBacktestBatch(ctx, list, req)
				return renderBatch(output, report, err, func(table *Table, bt models.Backtest) {
					table.AddRow(bt.StrategyName, output.Signed(bt.TotalReturn, utils.FormatPercent(bt.TotalReturn)),
						fmt.Sprintf("%.2f", bt.SharpeRatio), fmt.Sprintf("%.1f%%", bt.WinRate), bt.ID)
				}, "STRATEGY", "RETURN", "SHARPE", "WIN RATE", "ID")
			}

			st, err := resolveStrategy(list, args[0])
			if err != nil {
				return err
			}
			if !output.IsJSON() {
				output.Info("Backtesting %s on %s (%s to %s)...", st.Name, strings.Join(req.Symbols, ","),
					req.Period.Start.Format(workflow.DateLayout), req.Period.End.Format(workflow.DateLayout))
			}
			bt, err := svc.GenerateBacktest(ctx, st, req)
			if err != nil {
				output.Banner(apperrors.BannerFor(err))
				return err
			}
			if output.IsJSON() {
				return output.JSON(bt)
			}
			printBacktest(output, *bt)
			return nil
		},
	}
	cmd.Flags().Bool("all", false, "backtest every active strategy")
	addBacktestFlags(cmd)
	return cmd
}

// renderBatch prints a batch report: a table of successes followed by the
// failed strategies and the partial-failure warning.
func renderBatch[T any](output *Output, report *workflow.BatchReport[T], err error, row func(*Table, T), headers ...string) error {
	if report == nil {
		if err != nil {
			output.Banner(apperrors.BannerFor(err))
		}
		return err
	}
	if output.IsJSON() {
		if jsonErr := output.JSON(report); jsonErr != nil {
			return jsonErr
		}
		return err
	}

	if len(report.Succeeded) > 0 {
		table := NewTable(output, headers...)
		for _, v := range report.Succeeded {
			row(table, v)
		}
		table.Render()
	}
	for _, f := range report.Failed {
		output.Error("x %s: %s", f.Name, f.Message)
	}
	if w := report.Warning(); w != "" && err == nil {
		output.Warning(w)
	}
	if err != nil {
		output.Banner(apperrors.BannerFor(err))
		return err
	}
	output.Success("%d of %d succeeded", len(report.Succeeded), report.Total)
	return nil
}

func printBacktest(output *Output, bt models.Backtest) {
	output.Box(bt.StrategyName, []string{
		fmt.Sprintf("Run:           %s", bt.BacktestRunID),
		fmt.Sprintf("Period:        %s to %s", bt.StartDate, bt.EndDate),
		fmt.Sprintf("Symbols:       %s", strings.Join(bt.SymbolsTested, ", ")),
		fmt.Sprintf("Capital:       %s -> %s", utils.FormatCurrency(bt.InitialCapital), utils.FormatCurrency(bt.FinalCapital)),
		fmt.Sprintf("Total return:  %s", output.Signed(bt.TotalReturn, utils.FormatPercent(bt.TotalReturn))),
		fmt.Sprintf("Trades:        %d (%d won, %d lost)", bt.TotalTrades, bt.WinningTrades, bt.LosingTrades),
		fmt.Sprintf("Win rate:      %.1f%%", bt.WinRate),
		fmt.Sprintf("Avg win/loss:  %s / %s", utils.FormatCurrency(bt.AvgWin), utils.FormatCurrency(bt.AvgLoss)),
		fmt.Sprintf("Max drawdown:  %.2f%%", bt.MaxDrawdown),
		fmt.Sprintf("Sharpe:        %.2f", bt.SharpeRatio),
		fmt.Sprintf("Profit factor: %.2f", bt.ProfitFactor),
	})
	if n := len(bt.TradeLog); n > 0 {
		table := NewTable(output, "SYMBOL", "ACTION", "ENTRY", "EXIT", "P&L")
		for _, t := range bt.TradeLog[:min(n, 10)] {
			table.AddRow(t.Symbol, t.Action, t.EntryDate, t.ExitDate, output.Signed(t.PnL, utils.FormatPnL(t.PnL)))
		}
		table.Render()
		if n > 10 {
			output.Dim("... %d more trades (use --json for the full log)", n-10)
		}
	}
}

func newBacktestListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved backtests, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if _, err := app.RequireUser(cmd.Context()); err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			list, err := gateway.Backtests(app.Gateway()).List(cmd.Context(), gateway.ListOptions{Sort: "-created_date", Limit: limit})
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(list)
			}
			if len(list) == 0 {
				output.Info("No backtests yet")
				return nil
			}
			table := NewTable(output, "ID", "STRATEGY", "PERIOD", "RETURN", "SHARPE", "TRADES", "CREATED")
			for _, bt := range list {
				table.AddRow(bt.ID, truncate(bt.StrategyName, 28), bt.StartDate+".."+bt.EndDate,
					output.Signed(bt.TotalReturn, utils.FormatPercent(bt.TotalReturn)),
					fmt.Sprintf("%.2f", bt.SharpeRatio), fmt.Sprintf("%d", bt.TotalTrades),
					FormatDate(bt.CreatedDate, app.Config.UI.DateFormat))
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "maximum backtests to show")
	return cmd
}

func newBacktestShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a saved backtest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if _, err := app.RequireUser(cmd.Context()); err != nil {
				return err
			}
			list, err := gateway.Backtests(app.Gateway()).List(cmd.Context(), gateway.ListOptions{})
			if err != nil {
				return err
			}
			for _, bt := range list {
				if bt.ID == args[0] || bt.BacktestRunID == args[0] {
					if output.IsJSON() {
						return output.JSON(bt)
					}
					printBacktest(output, bt)
					return nil
				}
			}
			return apperrors.Wrapf(apperrors.ErrNotFound, "backtest %s", args[0])
		},
	}
}

func newSignalGenerateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate [strategy id|name]",
		Short: "Generate a signal for one strategy, or for every active strategy",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()
			svc, err := app.workflowService(ctx, output)
			if err != nil {
				return err
			}
			list, err := strategies.New(app.Gateway()).List(ctx)
			if err != nil {
				return err
			}

			if len(args) == 0 {
				report, err := svc.GenerateSignals(ctx, list)
				return renderBatch(output, report, err, func(table *Table, s models.Signal) {
					table.AddRow(truncate(s.StrategyName, 28), s.Symbol, signalAction(output, s.Action),
						FormatConfidence(s.Confidence), FormatPrice(s.EntryPrice), s.ID)
				}, "STRATEGY", "SYMBOL", "ACTION", "CONF", "ENTRY", "ID")
			}

			st, err := resolveStrategy(list, args[0])
			if err != nil {
				return err
			}
			sig, err := svc.GenerateSignal(ctx, st)
			if err != nil {
				output.Banner(apperrors.BannerFor(err))
				return err
			}
			if output.IsJSON() {
				return output.JSON(sig)
			}
			printSignal(output, *sig)
			return nil
		},
	}
	return cmd
}

func signalAction(output *Output, a models.SignalAction) string {
	label := strings.ToUpper(string(a))
	if a.IsBuy() {
		return output.Green(label)
	}
	return output.Red(label)
}

func printSignal(output *Output, s models.Signal) {
	output.Box(fmt.Sprintf("%s %s", strings.ToUpper(string(s.Action)), s.Symbol), []string{
		fmt.Sprintf("Strategy:    %s", s.StrategyName),
		fmt.Sprintf("Confidence:  %s", FormatConfidence(s.Confidence)),
		fmt.Sprintf("Entry:       %s", FormatPrice(s.EntryPrice)),
		fmt.Sprintf("Stop loss:   %s", FormatPrice(s.StopLoss)),
		fmt.Sprintf("Take profit: %s", FormatPrice(s.TakeProfit)),
		fmt.Sprintf("Quantity:    %g", s.Quantity),
		fmt.Sprintf("ID:          %s", s.ID),
	})
	if s.Rationale != "" {
		output.Println(s.Rationale)
	}
}

func newSignalListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List signals, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if _, err := app.RequireUser(cmd.Context()); err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			status, _ := cmd.Flags().GetString("status")
			list, err := gateway.Signals(app.Gateway()).List(cmd.Context(), gateway.ListOptions{Sort: "-created_date", Limit: limit})
			if err != nil {
				return err
			}
			if status != "" {
				filtered := list[:0]
				for _, s := range list {
					if strings.EqualFold(string(s.Status), status) {
						filtered = append(filtered, s)
					}
				}
				list = filtered
			}
			if output.IsJSON() {
				return output.JSON(list)
			}
			if len(list) == 0 {
				output.Info("No signals")
				return nil
			}
			table := NewTable(output, "ID", "SYMBOL", "ACTION", "CONF", "ENTRY", "STOP", "TARGET", "STATUS", "CREATED")
			for _, s := range list {
				table.AddRow(s.ID, s.Symbol, signalAction(output, s.Action), FormatConfidence(s.Confidence),
					FormatPrice(s.EntryPrice), FormatPrice(s.StopLoss), FormatPrice(s.TakeProfit),
					output.Status(string(s.Status)), FormatDate(s.CreatedDate, app.Config.UI.DateFormat))
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "maximum signals to show")
	cmd.Flags().String("status", "", "filter by status (active, executed)")
	return cmd
}

func newDiscoverCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Ask the LLM for new strategy ideas",
		Long: `Ask the LLM for new candidate strategies, informed by your best backtests.

With --save every candidate is stored as an inactive strategy. With
--backtest each saved candidate is also backtested; a failure in one
candidate's chain does not affect the others.`,
		Example: `  algotrader discover --focus crypto --risk aggressive --count 5
  algotrader discover --backtest --symbols SPY,QQQ,IWM`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()
			svc, err := app.workflowService(ctx, output)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			analysis, _ := flags.GetString("analysis")
			focus, _ := flags.GetString("focus")
			risk, _ := flags.GetString("risk")
			count, _ := flags.GetInt("count")
			save, _ := flags.GetBool("save")
			autoBacktest, _ := flags.GetBool("backtest")

			req := workflow.DiscoveryRequest{
				AnalysisType:  analysis,
				FocusArea:     models.AssetType(strings.ToLower(focus)),
				RiskTolerance: risk,
				Count:         count,
				Persist:       save,
				AutoBacktest:  autoBacktest,
			}
			if autoBacktest && flags.Changed("symbols") {
				if req.Backtest, err = app.backtestRequest(cmd, time.Now()); err != nil {
					return err
				}
			}

			if !output.IsJSON() {
				output.Info("Discovering %s strategies...", req.FocusArea)
			}
			result, err := svc.DiscoverStrategies(ctx, req)
			if err != nil {
				output.Banner(apperrors.BannerFor(err))
				return err
			}
			if output.IsJSON() {
				return output.JSON(result)
			}
			printDiscovery(output, result)
			if failed := len(result.Failed()); failed > 0 {
				output.Warning("%d of %d candidates failed", failed, len(result.Candidates))
			}
			return nil
		},
	}
	cmd.Flags().String("analysis", "market_conditions", "analysis type")
	cmd.Flags().String("focus", string(models.AssetStock), "asset class to focus on")
	cmd.Flags().String("risk", "moderate", "conservative, moderate or aggressive")
	cmd.Flags().Int("count", workflow.DefaultDiscoveryCount, "number of candidates")
	cmd.Flags().Bool("save", false, "save candidates as inactive strategies")
	cmd.Flags().Bool("backtest", false, "save and backtest every candidate")
	addBacktestFlags(cmd)
	return cmd
}

func printDiscovery(output *Output, result *workflow.DiscoveryResult) {
	if result.Insights != "" {
		output.Dim("Based on: %s", truncate(result.Insights, 120))
	}
	for i, c := range result.Candidates {
		st := c.Strategy
		output.Println()
		output.Bold("%d. %s", i+1, st.Name)
		output.Printf("   %s / %s / %s\n", st.StrategyType, st.Timeframe, orDash(strings.Join(st.Indicators, ", ")))
		if st.ExpectedWinRate > 0 || st.ExpectedSharpe > 0 {
			output.Printf("   expected win rate %.0f%%, sharpe %.2f\n", st.ExpectedWinRate, st.ExpectedSharpe)
		}
		if st.Rationale != "" {
			output.Dim("   %s", truncate(st.Rationale, 160))
		}
		switch {
		case c.Err != nil:
			output.Error("   failed: %v", c.Err)
		case c.Backtest != nil:
			output.Printf("   saved as %s, backtest return %s\n", st.ID,
				output.Signed(c.Backtest.TotalReturn, utils.FormatPercent(c.Backtest.TotalReturn)))
		case c.Saved:
			output.Printf("   saved as %s\n", st.ID)
		}
	}
}

func newRunsListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent workflow runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			s, err := app.Store()
			if err != nil {
				return err
			}
			kind, _ := cmd.Flags().GetString("kind")
			failed, _ := cmd.Flags().GetBool("failed")
			limit, _ := cmd.Flags().GetInt("limit")
			filter := store.RunFilter{Kind: store.RunKind(kind), Limit: limit}
			if failed {
				filter.Status = store.RunFailed
			}
			runs, err := s.ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(runs)
			}
			if len(runs) == 0 {
				output.Info("No runs recorded")
				return nil
			}
			table := NewTable(output, "ID", "KIND", "STRATEGY", "STATUS", "TOOK", "STARTED", "ERROR")
			for _, r := range runs {
				started := r.StartedAt
				table.AddRow(r.ID, string(r.Kind), truncate(r.StrategyName, 24), output.Status(string(r.Status)),
					FormatDuration(r.Duration()), FormatDate(&started, app.Config.UI.DateFormat), truncate(r.Error, 40))
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().String("kind", "", "backtest, signal or discovery")
	cmd.Flags().Bool("failed", false, "only failed runs")
	cmd.Flags().Int("limit", 25, "maximum runs to show")
	return cmd
}

func newRunsStatsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize workflow runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			s, err := app.Store()
			if err != nil {
				return err
			}
			kind, _ := cmd.Flags().GetString("kind")
			stats, err := s.GetRunStats(cmd.Context(), store.RunKind(kind))
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(stats)
			}
			lines := []string{
				fmt.Sprintf("Runs:         %d", stats.Total),
				fmt.Sprintf("Succeeded:    %d (%.1f%%)", stats.Succeeded, stats.SuccessRate()),
				fmt.Sprintf("Failed:       %d", stats.Failed),
			}
			if stats.BestRunID != "" {
				lines = append(lines,
					fmt.Sprintf("Avg return:   %s", utils.FormatPercent(stats.AvgReturn)),
					fmt.Sprintf("Best return:  %s (%s)", utils.FormatPercent(stats.BestReturn), stats.BestRunID))
			}
			kinds := make([]string, 0, len(stats.ByErrorKind))
			for k := range stats.ByErrorKind {
				kinds = append(kinds, k)
			}
			sort.Strings(kinds)
			for _, k := range kinds {
				lines = append(lines, fmt.Sprintf("  %-12s %d", k+":", stats.ByErrorKind[k]))
			}
			title := "All runs"
			if kind != "" {
				title = kind + " runs"
			}
			output.Box(title, lines)
			return nil
		},
	}
	cmd.Flags().String("kind", "", "backtest, signal or discovery")
	return cmd
}
