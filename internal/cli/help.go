package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// addHelpCommands adds help and documentation commands.
func addHelpCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newCommandsCmd(rootCmd))
	rootCmd.AddCommand(newExamplesCmd())
	rootCmd.AddCommand(newQuickstartCmd(app))
}

// newCommandsCmd lists every runnable command, grouped by its top-level
// parent.
func newCommandsCmd(rootCmd *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List all commands by group",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				groups := map[string][]string{}
				for _, top := range rootCmd.Commands() {
					if top.Hidden || top.Name() == "help" || top.Name() == "completion" {
						continue
					}
					groups[top.Name()] = leafPaths(top)
				}
				return output.JSON(groups)
			}

			for _, top := range rootCmd.Commands() {
				if top.Hidden || top.Name() == "help" || top.Name() == "completion" {
					continue
				}
				if !top.HasSubCommands() {
					output.Printf("%-34s %s\n", output.Cyan(top.Name()), top.Short)
					continue
				}
				output.Bold("%s  %s", top.Name(), output.DimText(top.Short))
				for _, sub := range top.Commands() {
					if sub.Hidden {
						continue
					}
					output.Printf("  %-32s %s\n", output.Cyan(top.Name()+" "+sub.Use), sub.Short)
				}
			}
			output.Println()
			output.Dim("Use 'algotrader <command> --help' for details")
			return nil
		},
	}
}

func leafPaths(cmd *cobra.Command) []string {
	if !cmd.HasSubCommands() {
		return []string{cmd.CommandPath()}
	}
	var out []string
	for _, sub := range cmd.Commands() {
		if !sub.Hidden {
			out = append(out, leafPaths(sub)...)
		}
	}
	return out
}

func newExamplesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "examples",
		Short: "Show common workflow examples",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			examples := []struct {
				title    string
				commands []string
			}{
				{
					title: "Research a strategy",
					commands: []string{
						"algotrader strategy create --name \"RSI dip\" --type mean_reversion --indicators RSI",
						"algotrader backtest run \"RSI dip\" --symbols SPY,QQQ   # LLM backtest",
						"algotrader signal generate \"RSI dip\"                  # today's signals",
					},
				},
				{
					title: "Let the LLM find strategies",
					commands: []string{
						"algotrader discover --focus crypto --risk moderate --count 3 --save",
						"algotrader backtest run --all                          # backtest every active one",
						"algotrader runs stats                                  # success rate and returns",
					},
				},
				{
					title: "Open and fund a brokerage account",
					commands: []string{
						"algotrader onboard submit --given-name Ada ...         # see --help for fields",
						"algotrader onboard status",
						"algotrader bank link --owner \"Ada Lovelace\" --account 123456789 --routing 121000358 --nickname Main",
						"algotrader funding deposit 2500",
						"algotrader funding watch                               # until the transfer settles",
					},
				},
				{
					title: "Trade a signal",
					commands: []string{
						"algotrader signal list --status active",
						"algotrader trade execute <signal id> --qty 10",
						"algotrader trade account",
						"algotrader trade close <trade id> --exit 191.20     # realize P&L in the journal",
						"algotrader trade stats",
					},
				},
				{
					title: "Watch the market",
					commands: []string{
						"algotrader watchlist add NVDA",
						"algotrader watchlist add BTC-USD --type crypto",
						"algotrader market watch --interval 30s",
					},
				},
				{
					title: "Self-host the backend",
					commands: []string{
						"algotrader serve --addr :8080",
						"algotrader register --email you@example.com --name \"Ada\"",
						"algotrader login --email you@example.com",
					},
				},
			}

			for _, ex := range examples {
				output.Bold(ex.title)
				for _, c := range ex.commands {
					if cmdText, note, ok := strings.Cut(c, "#"); ok {
						output.Printf("  %s %s\n", output.Cyan(strings.TrimSpace(cmdText)), output.DimText("# "+strings.TrimSpace(note)))
					} else {
						output.Printf("  %s\n", output.Cyan(c))
					}
				}
				output.Println()
			}
			return nil
		},
	}
}

func newQuickstartCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "quickstart",
		Short: "New user guide",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			output.Bold("algotrader quick start")
			output.Println()

			steps := []struct {
				title string
				desc  string
				cmd   string
			}{
				{"Point at a backend", "Set gateway.base_url in config.toml, or run your own.", "algotrader serve"},
				{"Log in", "The session token is saved to credentials.toml.", "algotrader login"},
				{"Create or discover a strategy", "Write one by hand or ask the LLM.", "algotrader discover --save"},
				{"Backtest it", "Results are saved and summarized in the run history.", "algotrader backtest run --all"},
				{"Generate signals", "Active signals can be executed once you have a funded account.", "algotrader signal generate <strategy>"},
				{"Open a brokerage account", "Personal info, then disclosures, then review.", "algotrader onboard submit --help"},
			}
			for i, s := range steps {
				output.Printf("%s %s\n", output.Cyan(fmt.Sprintf("Step %d:", i+1)), s.title)
				output.Printf("  %s\n", s.desc)
				output.Printf("  %s\n\n", output.DimText(s.cmd))
			}

			output.Bold("Configuration")
			output.Printf("  %s  %s\n", output.Cyan(app.ConfigDir+"/config.toml"), "gateway, workflows, polling, notifications")
			output.Printf("  %s  %s\n", output.Cyan(app.ConfigDir+"/credentials.toml"), "session token, Alpaca, OpenAI and SMTP keys")
			output.Println()
			output.Warning("Start with alpaca.paper = true until you trust your strategies")
			return nil
		},
	}
}
