package cli

import (
	"time"

	"github.com/spf13/cobra"

	"algotrader/internal/backend"
	apperrors "algotrader/internal/errors"
	"algotrader/internal/notify"
	"algotrader/internal/server"
)

// addServeCommand adds the self-hosted backend server.
func addServeCommand(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the algotrader backend",
		Long: `Run the backend the CLI talks to: auth, entity collections, the remote
functions and the LLM integration, all over one HTTP API.

Functions are only registered for the integrations with credentials in
credentials.toml. A call to an unregistered function answers 404.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()
			cfg := app.Config
			creds := cfg.Credentials

			if creds.Auth.JWTSecret == "" {
				return apperrors.NewValidationError("credentials.auth.jwt_secret", nil, "is required to serve")
			}
			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = cfg.Server.Addr
			}

			b, err := backend.Open(backend.Options{
				DatabasePath: cfg.Server.DatabasePath,
				JWTSecret:    creds.Auth.JWTSecret,
				TokenTTL:     cfg.Server.TokenTTL,
				Logger:       app.Logger,
			})
			if err != nil {
				return err
			}
			defer b.Close()

			var services backend.Services
			if creds.Alpaca.APIKey != "" {
				services.Trading = backend.NewAlpacaTradingClient(creds.Alpaca.APIKey, creds.Alpaca.APISecret, creds.Alpaca.Paper)
				services.MarketData = backend.NewAlpacaMarketDataClient(creds.Alpaca.APIKey, creds.Alpaca.APISecret, creds.Alpaca.Feed)
			}
			if creds.Alpaca.BrokerKey != "" {
				services.Broker = backend.NewBrokerClient(creds.Alpaca.BrokerBaseURL, creds.Alpaca.BrokerKey, creds.Alpaca.BrokerSecret)
			}
			if creds.SMTP.Enabled {
				services.Mailer = notify.NewEmailNotifier(creds.SMTP)
			}
			if creds.OpenAI.APIKey != "" {
				services.LLM = backend.NewOpenAILLM(creds.OpenAI.APIKey, cfg.Server.LLMModel)
			}
			b.Install(services)

			if creds.Auth.AdminEmail != "" && creds.Auth.AdminPassword != "" {
				created, err := b.Auth.EnsureAdmin(ctx, creds.Auth.AdminEmail, creds.Auth.AdminPassword)
				if err != nil {
					return err
				}
				if created {
					app.Logger.Info().Str("email", creds.Auth.AdminEmail).Msg("Admin user created")
				}
			}

			if !output.IsJSON() {
				output.Success("Serving on %s (app %s)", addr, cfg.Gateway.AppID)
				output.Dim("Press Ctrl+C to stop")
			}
			healthEvery, _ := cmd.Flags().GetDuration("health-interval")
			return server.New(b, server.Config{AppID: cfg.Gateway.AppID, Mode: cfg.Server.Mode}, app.Logger).
				ListenAndServe(ctx, addr, healthEvery)
		},
	}
	cmd.Flags().String("addr", "", "listen address (default: server.addr)")
	cmd.Flags().Duration("health-interval", 30*time.Second, "how often to run health checks (0 disables)")
	rootCmd.AddCommand(cmd)
}
