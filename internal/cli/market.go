package cli

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/market"
	"algotrader/internal/models"
	"algotrader/pkg/utils"
)

// addMarketCommands adds watchlist and market data commands.
func addMarketCommands(rootCmd *cobra.Command, app *App) {
	watchlist := &cobra.Command{
		Use:     "watchlist",
		Aliases: []string{"wl"},
		Short:   "Manage the watchlist",
	}
	watchlist.AddCommand(newWatchlistListCmd(app))
	watchlist.AddCommand(newWatchlistAddCmd(app))
	watchlist.AddCommand(newWatchlistRemoveCmd(app))
	watchlist.AddCommand(newWatchlistFavoriteCmd(app))

	mkt := &cobra.Command{
		Use:   "market",
		Short: "Quotes and market session",
	}
	mkt.AddCommand(newMarketQuotesCmd(app))
	mkt.AddCommand(newMarketWatchCmd(app))
	mkt.AddCommand(newMarketStatusCmd())

	rootCmd.AddCommand(watchlist, mkt)
}

func (app *App) market(ctx context.Context) (*market.Service, error) {
	if _, err := app.RequireUser(ctx); err != nil {
		return nil, err
	}
	opts := market.Options{}
	if retries := app.Config.Polling.MarketDataRetries; retries > 0 {
		opts.Retry = utils.DefaultRetryConfig()
		opts.Retry.MaxAttempts = retries + 1
	}
	if s := app.optionalStore(); s != nil {
		opts.Cache = s
	}
	return market.New(app.Gateway(), opts), nil
}

// quoteSymbols returns args, or the watchlist symbols when args is empty.
func quoteSymbols(ctx context.Context, svc *market.Service, args []string) ([]string, error) {
	if len(args) > 0 {
		var out []string
		for _, a := range args {
			for _, s := range strings.Split(a, ",") {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, strings.ToUpper(s))
				}
			}
		}
		return out, nil
	}
	return svc.Symbols(ctx)
}

func printQuotes(output *Output, set *market.QuoteSet) {
	table := NewTable(output, "SYMBOL", "PRICE", "CHANGE", "VOLUME")
	for _, q := range set.Quotes {
		table.AddRow(q.Symbol, FormatPrice(q.Price),
			output.Signed(q.Change, FormatChange(q.Change, q.ChangePercent)), FormatVolume(q.Volume))
	}
	table.Render()
	if len(set.Missing) > 0 {
		output.Warning("No data for %s", strings.Join(set.Missing, ", "))
	}
	if set.Stale {
		output.Warning("Market data unavailable; showing cached quotes from %s", set.FetchedAt.Local().Format("Jan 2 15:04"))
	}
}

func newWatchlistListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List watchlist symbols",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			svc, err := app.market(cmd.Context())
			if err != nil {
				return err
			}
			assets, err := svc.Watchlist(cmd.Context())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(assets)
			}
			if len(assets) == 0 {
				output.Info("Watchlist is empty. Add symbols with 'algotrader watchlist add AAPL'.")
				return nil
			}
			table := NewTable(output, "", "SYMBOL", "TYPE", "NAME")
			for _, a := range assets {
				star := " "
				if a.IsFavorite {
					star = output.Yellow("*")
				}
				table.AddRow(star, a.Symbol, string(a.AssetType), truncate(a.Name, 40))
			}
			table.Render()
			return nil
		},
	}
}

func newWatchlistAddCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <symbol>",
		Short: "Add a symbol to the watchlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			svc, err := app.market(cmd.Context())
			if err != nil {
				return err
			}
			typ, _ := cmd.Flags().GetString("type")
			name, _ := cmd.Flags().GetString("name")

			asset, created, err := svc.Add(cmd.Context(), market.AddAsset{
				Symbol:    args[0],
				AssetType: models.AssetType(strings.ToLower(typ)),
				Name:      name,
			})
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]any{"asset": asset, "created": created})
			}
			if !created {
				output.Info("%s is already on the watchlist", asset.Symbol)
				return nil
			}
			output.Success("Added %s", asset.Symbol)
			return nil
		},
	}
	cmd.Flags().String("type", string(models.AssetStock), "stock, option, future, crypto, forex or commodity")
	cmd.Flags().String("name", "", "display name")
	return cmd
}

func newWatchlistRemoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <symbol>",
		Aliases: []string{"rm"},
		Short:   "Remove a symbol from the watchlist",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			svc, err := app.market(cmd.Context())
			if err != nil {
				return err
			}
			if err := svc.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"removed": strings.ToUpper(args[0])})
			}
			output.Success("Removed %s", strings.ToUpper(args[0]))
			return nil
		},
	}
}

func newWatchlistFavoriteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "favorite <symbol>",
		Aliases: []string{"fav"},
		Short:   "Toggle the favourite flag",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			svc, err := app.market(cmd.Context())
			if err != nil {
				return err
			}
			asset, err := svc.ToggleFavorite(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(asset)
			}
			if asset.IsFavorite {
				output.Success("%s marked as favourite", asset.Symbol)
			} else {
				output.Success("%s unmarked", asset.Symbol)
			}
			return nil
		},
	}
}

func newMarketQuotesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "quotes [symbols...]",
		Short: "Show quotes for symbols or the watchlist",
		Example: `  algotrader market quotes
  algotrader market quotes AAPL,MSFT BTC-USD`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()
			svc, err := app.market(ctx)
			if err != nil {
				return err
			}
			symbols, err := quoteSymbols(ctx, svc, args)
			if err != nil {
				return err
			}
			set, err := svc.Quotes(ctx, symbols)
			if err != nil {
				output.Banner(apperrors.BannerFor(err))
				return err
			}
			if output.IsJSON() {
				return output.JSON(set)
			}
			printQuotes(output, set)
			return nil
		},
	}
}

func newMarketWatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [symbols...]",
		Short: "Refresh quotes until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()
			sess, err := app.RequireUser(ctx)
			if err != nil {
				return err
			}
			svc, err := app.market(ctx)
			if err != nil {
				return err
			}
			symbols, err := quoteSymbols(ctx, svc, args)
			if err != nil {
				return err
			}
			interval, _ := cmd.Flags().GetDuration("interval")
			if interval <= 0 {
				interval = app.Config.Polling.MarketDataInterval
			}

			sess.Track(svc.Watch(ctx, symbols, interval, func(set *market.QuoteSet, err error) {
				if output.IsJSON() {
					if err == nil {
						_ = output.JSON(set)
					}
					return
				}
				output.Dim("%s  %s", time.Now().Format("15:04:05"), utils.SessionAt(time.Now()))
				if err != nil {
					output.Banner(apperrors.BannerFor(err))
					return
				}
				printQuotes(output, set)
				output.Println()
			}))
			if !output.IsJSON() {
				output.Dim("Refreshing every %s. Press Ctrl+C to stop.", interval)
			}
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().Duration("interval", 0, "refresh interval (default: polling.market_data_interval)")
	return cmd
}

func newMarketStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the US equity market session",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			now := time.Now()
			session := utils.SessionAt(now)
			next := utils.NextMarketOpen(now)
			closeAt := utils.MarketClose(now)

			if output.IsJSON() {
				return output.JSON(map[string]any{
					"session":     session,
					"next_open":   next,
					"close_today": closeAt,
				})
			}
			label := string(session)
			if session == utils.SessionOpen {
				label = output.Green(label)
			} else {
				label = output.Yellow(label)
			}
			output.Printf("Session:    %s\n", label)
			if session == utils.SessionOpen {
				output.Printf("Closes in:  %s\n", FormatDuration(closeAt.Sub(now)))
			} else {
				output.Printf("Next open:  %s (in %s)\n", next.Format("Mon Jan 2 15:04 MST"), FormatDuration(next.Sub(now)))
			}
			output.Dim("Times are %s; exchange holidays are not modelled", utils.NewYork)
			return nil
		},
	}
}
