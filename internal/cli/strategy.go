package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/models"
	"algotrader/internal/strategies"
)

// addStrategyCommands adds strategy management commands.
func addStrategyCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:     "strategy",
		Aliases: []string{"strategies", "st"},
		Short:   "Manage trading strategies",
	}
	cmd.AddCommand(newStrategyListCmd(app))
	cmd.AddCommand(newStrategyShowCmd(app))
	cmd.AddCommand(newStrategyCreateCmd(app))
	cmd.AddCommand(newStrategyImportCmd(app))
	cmd.AddCommand(newStrategyToggleCmd(app))
	cmd.AddCommand(newStrategyDeleteCmd(app))
	rootCmd.AddCommand(cmd)
}

func (app *App) strategies(ctx context.Context) (*strategies.Service, error) {
	if _, err := app.RequireUser(ctx); err != nil {
		return nil, err
	}
	return strategies.New(app.Gateway()), nil
}

// resolveStrategy finds a strategy by id or, failing that, by name.
func resolveStrategy(all []models.Strategy, ref string) (models.Strategy, error) {
	for _, st := range all {
		if st.ID == ref {
			return st, nil
		}
	}
	var matches []models.Strategy
	for _, st := range all {
		if strings.EqualFold(st.Name, ref) {
			matches = append(matches, st)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return models.Strategy{}, apperrors.Wrapf(apperrors.ErrNotFound, "strategy %q", ref)
	}
	return models.Strategy{}, apperrors.NewValidationError("strategy", ref, fmt.Sprintf("matches %d strategies, use the id", len(matches)))
}

func activeLabel(output *Output, st models.Strategy) string {
	if st.Active() {
		return output.Green("active")
	}
	return output.DimText("inactive")
}

func newStrategyListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List strategies",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			svc, err := app.strategies(cmd.Context())
			if err != nil {
				return err
			}
			list, err := svc.List(cmd.Context())
			if err != nil {
				return err
			}
			if activeOnly, _ := cmd.Flags().GetBool("active"); activeOnly {
				list = models.ActiveStrategies(list)
			}
			if output.IsJSON() {
				return output.JSON(list)
			}
			if len(list) == 0 {
				output.Info("No strategies yet. Create one with 'algotrader strategy create' or run 'algotrader discover'.")
				return nil
			}

			table := NewTable(output, "ID", "NAME", "TYPE", "TIMEFRAME", "ASSETS", "STATUS")
			for _, st := range list {
				assets := make([]string, len(st.AssetTypes))
				for i, a := range st.AssetTypes {
					assets[i] = string(a)
				}
				name := truncate(st.Name, 32)
				if st.Discovered {
					name += " " + output.Cyan("(AI)")
				}
				table.AddRow(st.ID, name, string(st.StrategyType), string(st.Timeframe), strings.Join(assets, ","), activeLabel(output, st))
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().Bool("active", false, "only active strategies")
	return cmd
}

func newStrategyShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|name>",
		Short: "Show a strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			svc, err := app.strategies(cmd.Context())
			if err != nil {
				return err
			}
			list, err := svc.List(cmd.Context())
			if err != nil {
				return err
			}
			st, err := resolveStrategy(list, args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(st)
			}
			printStrategy(output, st, app.Config.UI.DateFormat)
			return nil
		},
	}
}

func printStrategy(output *Output, st models.Strategy, dateFormat string) {
	lines := []string{
		fmt.Sprintf("ID:          %s", st.ID),
		fmt.Sprintf("Status:      %s", activeLabel(output, st)),
		fmt.Sprintf("Type:        %s", st.StrategyType),
		fmt.Sprintf("Timeframe:   %s", st.Timeframe),
		fmt.Sprintf("Indicators:  %s", orDash(strings.Join(st.Indicators, ", "))),
		fmt.Sprintf("Risk/trade:  %.2f%%", st.Rules.RiskPerTrade),
		fmt.Sprintf("Max size:    %s", FormatPrice(st.Rules.MaxPositionSize)),
		fmt.Sprintf("Created:     %s", FormatDate(st.CreatedDate, dateFormat)),
	}
	output.Box(st.Name, lines)
	if st.Description != "" {
		output.Println(st.Description)
	}
	output.Bold("Entry")
	output.Println("  " + orDash(st.Rules.EntryConditions))
	output.Bold("Exit")
	output.Println("  " + orDash(st.Rules.ExitConditions))
	if st.Rationale != "" {
		output.Bold("Rationale")
		output.Println("  " + st.Rationale)
	}
}

func newStrategyCreateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a strategy",
		Example: `  algotrader strategy create --name "RSI dip" --type mean_reversion \
    --indicators RSI,SMA --entry "RSI(14) < 30" --exit "RSI(14) > 55"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			svc, err := app.strategies(cmd.Context())
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			name, _ := flags.GetString("name")
			desc, _ := flags.GetString("description")
			typ, _ := flags.GetString("type")
			tf, _ := flags.GetString("timeframe")
			assets, _ := flags.GetString("assets")
			indicators, _ := flags.GetString("indicators")
			entry, _ := flags.GetString("entry")
			exit, _ := flags.GetString("exit")
			risk, _ := flags.GetFloat64("risk")
			maxSize, _ := flags.GetFloat64("max-position")
			inactive, _ := flags.GetBool("inactive")

			st := models.Strategy{
				Name:         name,
				Description:  desc,
				StrategyType: models.StrategyType(typ),
				Timeframe:    models.Timeframe(tf),
				Indicators:   strategies.SplitList(indicators),
				Rules: models.Rules{
					EntryConditions: entry,
					ExitConditions:  exit,
					RiskPerTrade:    risk,
					MaxPositionSize: maxSize,
				},
			}
			for _, a := range strategies.SplitList(assets) {
				st.AssetTypes = append(st.AssetTypes, models.AssetType(strings.ToLower(a)))
			}
			if inactive {
				st.SetActive(false)
			}

			created, err := svc.Create(cmd.Context(), st)
			if err != nil {
				output.Error("Could not create strategy: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(created)
			}
			output.Success("Created strategy %s (%s)", created.Name, created.ID)
			return nil
		},
	}
	cmd.Flags().String("name", "", "strategy name (required)")
	cmd.Flags().String("description", "", "description")
	cmd.Flags().String("type", "", "momentum, mean_reversion, breakout, trend_following, volatility or custom")
	cmd.Flags().String("timeframe", "", "1min, 5min, 15min, 1hour, 4hour, daily or weekly")
	cmd.Flags().String("assets", "", "comma separated asset types")
	cmd.Flags().String("indicators", "", "comma separated indicators")
	cmd.Flags().String("entry", "", "entry conditions")
	cmd.Flags().String("exit", "", "exit conditions")
	cmd.Flags().Float64("risk", 0, "risk per trade in percent")
	cmd.Flags().Float64("max-position", 0, "maximum position size in dollars")
	cmd.Flags().Bool("inactive", false, "create the strategy inactive")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newStrategyImportCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create strategies from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			svc, err := app.strategies(cmd.Context())
			if err != nil {
				return err
			}
			created, err := svc.Import(cmd.Context(), args[0])
			if output.IsJSON() {
				if jsonErr := output.JSON(created); jsonErr != nil {
					return jsonErr
				}
				return err
			}
			for _, st := range created {
				output.Success("Created %s (%s)", st.Name, st.ID)
			}
			if err != nil {
				output.Error("Import stopped: %v", err)
				return err
			}
			output.Info("%d strategies imported", len(created))
			return nil
		},
	}
}

func newStrategyToggleCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id|name>",
		Short: "Activate or deactivate a strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			svc, err := app.strategies(cmd.Context())
			if err != nil {
				return err
			}
			list, err := svc.List(cmd.Context())
			if err != nil {
				return err
			}
			st, err := resolveStrategy(list, args[0])
			if err != nil {
				return err
			}
			updated, err := svc.ToggleActive(cmd.Context(), st.ID)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(updated)
			}
			output.Success("%s is now %s", updated.Name, activeLabel(output, updated))
			return nil
		},
	}
}

func newStrategyDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id|name>",
		Short: "Delete a strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			svc, err := app.strategies(cmd.Context())
			if err != nil {
				return err
			}
			list, err := svc.List(cmd.Context())
			if err != nil {
				return err
			}
			st, err := resolveStrategy(list, args[0])
			if err != nil {
				return err
			}
			if err := svc.Delete(cmd.Context(), st.ID); err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"deleted": st.ID})
			}
			output.Success("Deleted %s", st.Name)
			return nil
		},
	}
}
