// Package cli provides the command-line interface for algotrader.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"algotrader/internal/config"
	"algotrader/internal/gateway"
	"algotrader/internal/logging"
	"algotrader/internal/notify"
	"algotrader/internal/security"
	"algotrader/internal/session"
	"algotrader/internal/store"
)

// Version information
const (
	Version   = "0.3.0"
	BuildDate = "2024-06-01"
)

// App holds the application dependencies. Remote clients, the run store and
// the session are created on first use so that offline commands such as
// "config" and "serve" never touch them.
type App struct {
	Config    *config.Config
	ConfigDir string
	Logger    zerolog.Logger

	gateway  *gateway.HTTPClient
	session  *session.Session
	store    *store.SQLiteStore
	access   *security.AccessController
	notifier *notify.MultiNotifier
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config:    cfg,
		ConfigDir: config.DefaultConfigDir(),
		Logger:    logger,
	}

	rootCmd := &cobra.Command{
		Use:   "algotrader",
		Short: "AI-assisted strategy research and brokerage workflows",
		Long: `algotrader manages trading strategies, asks an LLM for backtests, signals
and new strategy ideas, and runs the brokerage onboarding and funding flows.

Every command talks to the algotrader backend. Run 'algotrader serve' to host
one locally, then 'algotrader login'.

Use 'algotrader examples' to see common workflows.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if dir, _ := cmd.Flags().GetString("config"); dir != "" {
				loaded, err := config.Load(dir)
				if err != nil {
					return err
				}
				app.Config = loaded
				app.ConfigDir = dir
				app.Logger = logging.NewLoggerWithConfig(LogConfig(loaded, dir, debug))
			} else if debug {
				app.Logger = logging.NewLoggerWithConfig(LogConfig(app.Config, app.ConfigDir, true))
			}
			if debug {
				logging.SetDebugLevel()
			}
			if readOnly, _ := cmd.Flags().GetBool("read-only"); readOnly {
				app.Config.Security.ReadOnlyMode = true
			}

			cmd.SetContext(logging.WithLogger(commandContext(cmd), app.Logger))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close(commandContext(cmd))
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/algotrader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().Bool("no-color", !cfg.UI.ColorEnabled, "disable colored output")
	rootCmd.PersistentFlags().Bool("read-only", false, "block orders, transfers and account changes")

	addCoreCommands(rootCmd, app)
	addAuthCommands(rootCmd, app)
	addStrategyCommands(rootCmd, app)
	addWorkflowCommands(rootCmd, app)
	addBrokerageCommands(rootCmd, app)
	addMarketCommands(rootCmd, app)
	addTradingCommands(rootCmd, app)
	addAdminCommands(rootCmd, app)
	addServeCommand(rootCmd, app)
	addHelpCommands(rootCmd, app)

	return rootCmd
}

// LogConfig maps the [logging] section to a logger that writes everything
// at the configured level to a rotating file under dir and only warnings to
// the terminal. debug lowers both thresholds.
func LogConfig(cfg *config.Config, dir string, debug bool) logging.LogConfig {
	lc := logging.DefaultLogConfig()
	lc.Level = cfg.Logging.Level
	lc.File = cfg.Logging.File
	lc.FilePath = filepath.Join(dir, "logs", "algotrader.log")
	lc.ConsoleLevel = "warn"
	if debug {
		lc.Level = "debug"
		lc.ConsoleLevel = "debug"
	}
	return lc
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// Gateway returns the HTTP gateway client.
func (app *App) Gateway() *gateway.HTTPClient {
	if app.gateway == nil {
		gw := app.Config.Gateway
		app.gateway = gateway.NewHTTPClient(gateway.HTTPConfig{
			BaseURL:          gw.BaseURL,
			AppID:            gw.AppID,
			Token:            app.Config.Credentials.Gateway.Token,
			Timeout:          gw.Timeout,
			FailureThreshold: gw.FailureThreshold,
			Cooldown:         gw.CooldownPeriod,
		}, app.Logger)
	}
	return app.gateway
}

// Session starts the session once and returns it. The session may be
// anonymous; use RequireUser for commands that need a login.
func (app *App) Session(ctx context.Context) (*session.Session, error) {
	if app.session != nil {
		return app.session, nil
	}
	sess := session.New(app.Gateway(), app.Logger)
	if err := sess.Start(ctx); err != nil {
		return nil, err
	}
	app.session = sess
	if u := sess.User(); u != nil {
		if audit := app.Access().Audit(); audit != nil {
			audit.SetUserID(u.Email)
		}
	}
	return sess, nil
}

// RequireUser starts the session and fails unless someone is logged in.
func (app *App) RequireUser(ctx context.Context) (*session.Session, error) {
	sess, err := app.Session(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := sess.RequireUser(); err != nil {
		return nil, fmt.Errorf("%w (run 'algotrader login')", err)
	}
	return sess, nil
}

// Access returns the read-only and audit controller.
func (app *App) Access() *security.AccessController {
	if app.access != nil {
		return app.access
	}
	var audit *security.AuditLogger
	if app.Config.Security.AuditEnabled {
		var err error
		audit, err = security.NewAuditLogger(security.DefaultAuditConfig())
		if err != nil {
			app.Logger.Warn().Err(err).Msg("Audit log unavailable")
		}
	}
	app.access = security.NewAccessController(app.Config.Security.ReadOnlyMode, audit)
	return app.access
}

// Store opens the local run history database.
func (app *App) Store() (*store.SQLiteStore, error) {
	if app.store != nil {
		return app.store, nil
	}
	if err := os.MkdirAll(filepath.Dir(app.Config.Store.Path), 0o755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	s, err := store.NewSQLiteStore(app.Config.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening run history: %w", err)
	}
	app.store = s
	return s, nil
}

// optionalStore is Store for commands that work without history.
func (app *App) optionalStore() *store.SQLiteStore {
	s, err := app.Store()
	if err != nil {
		app.Logger.Warn().Err(err).Msg("Run history unavailable")
		return nil
	}
	return s
}

// Notifier returns the configured notification fan-out. Disabled
// notifications yield a no-op notifier.
func (app *App) Notifier() notify.Notifier {
	if !app.Config.Notifications.Enabled {
		return notify.NewNoOpNotifier()
	}
	if app.notifier == nil {
		app.notifier = notify.NewMultiNotifier(&app.Config.Notifications)
	}
	return app.notifier
}

// Close releases everything App opened.
func (app *App) Close(ctx context.Context) error {
	var errs []string
	if app.session != nil {
		if err := app.session.Close(ctx, false); err != nil {
			errs = append(errs, err.Error())
		}
		app.session = nil
	}
	if app.notifier != nil {
		if err := app.notifier.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		app.notifier = nil
	}
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		app.store = nil
	}
	if app.access != nil {
		if err := app.access.Audit().Close(); err != nil {
			errs = append(errs, err.Error())
		}
		app.access = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing: %s", strings.Join(errs, "; "))
	}
	return nil
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("algotrader v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": app.ConfigDir})
			}
			output.Println(app.ConfigDir)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Gateway")
	output.Printf("  Base URL:          %s\n", cfg.Gateway.BaseURL)
	output.Printf("  App ID:            %s\n", cfg.Gateway.AppID)
	output.Printf("  Timeout:           %s\n", cfg.Gateway.Timeout)
	output.Printf("  Logged in:         %v\n", cfg.Credentials.Gateway.Token != "")
	output.Println()

	output.Bold("Workflows")
	output.Printf("  Batch concurrency: %d\n", cfg.Workflow.BatchConcurrency)
	output.Printf("  Default capital:   %s\n", FormatPrice(cfg.Workflow.DefaultCapital))
	output.Printf("  Default symbols:   %s\n", strings.Join(cfg.Workflow.DefaultSymbols, ", "))
	output.Printf("  Default lookback:  %s\n", cfg.Lookback().Round(time.Hour))
	output.Println()

	output.Bold("Polling")
	output.Printf("  Market data:       %s\n", cfg.Polling.MarketDataInterval)
	output.Printf("  Funding:           %s\n", cfg.Polling.FundingInterval)
	output.Printf("  Settle delay:      %s\n", cfg.Polling.SettleDelay)
	output.Println()

	output.Bold("Security")
	output.Printf("  Read-only mode:    %v\n", cfg.Security.ReadOnlyMode)
	output.Printf("  Audit log:         %v\n", cfg.Security.AuditEnabled)
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Enabled:           %v\n", cfg.Notifications.Enabled)
	output.Printf("  Level:             %s\n", cfg.Notifications.Level)
	output.Printf("  Webhook:           %v\n", cfg.Notifications.Webhook.Enabled)
	output.Printf("  Email:             %v\n", cfg.Notifications.Email.Enabled)
	output.Printf("  Kafka:             %v\n", cfg.Notifications.Kafka.Enabled)
	output.Println()

	output.Bold("Server")
	output.Printf("  Address:           %s\n", cfg.Server.Addr)
	output.Printf("  Database:          %s\n", cfg.Server.DatabasePath)
	output.Printf("  LLM model:         %s\n", cfg.Server.LLMModel)
	output.Printf("  Alpaca keys:       %s\n", security.MaskCredential(cfg.Credentials.Alpaca.APIKey))
}
