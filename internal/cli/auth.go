package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"algotrader/internal/config"
	"algotrader/internal/session"
)

// addAuthCommands adds authentication commands.
func addAuthCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newLoginCmd(app))
	rootCmd.AddCommand(newLogoutCmd(app))
	rootCmd.AddCommand(newWhoamiCmd(app))
	rootCmd.AddCommand(newRegisterCmd(app))
}

// prompt reads one line from the command's input.
func prompt(cmd *cobra.Command, in *bufio.Reader, label string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), label)
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading %s: %w", strings.TrimSuffix(strings.TrimSpace(label), ":"), err)
	}
	return strings.TrimSpace(line), nil
}

func credentialsFromFlags(cmd *cobra.Command) (email, password string, err error) {
	email, _ = cmd.Flags().GetString("email")
	password, _ = cmd.Flags().GetString("password")
	in := bufio.NewReader(cmd.InOrStdin())
	if email == "" {
		if email, err = prompt(cmd, in, "Email: "); err != nil {
			return "", "", err
		}
	}
	if password == "" {
		if password, err = prompt(cmd, in, "Password: "); err != nil {
			return "", "", err
		}
	}
	return email, password, nil
}

func newLoginCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the algotrader backend",
		Long: `Log in to the backend configured under [gateway] and store the session
token in credentials.toml.`,
		Example: `  algotrader login --email you@example.com
  algotrader login --email you@example.com --password "$ALGOTRADER_PASSWORD"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			email, password, err := credentialsFromFlags(cmd)
			if err != nil {
				return err
			}

			sess := session.New(app.Gateway(), app.Logger)
			token, err := sess.Login(ctx, email, password)
			audit := app.Access().Audit()
			if err != nil {
				_ = audit.LogLogin(ctx, email, false, err.Error())
				output.Error("Login failed: %v", err)
				return err
			}
			_ = audit.LogLogin(ctx, email, true, "")

			if err := config.SaveToken(app.ConfigDir, token); err != nil {
				return fmt.Errorf("saving session token: %w", err)
			}
			app.session = sess

			user := sess.User()
			if output.IsJSON() {
				return output.JSON(user)
			}
			output.Success("Logged in as %s", user.Email)
			if user.IsAdmin() {
				output.Dim("Role: admin")
			}
			return nil
		},
	}
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("password", "", "account password (prompted when omitted)")
	return cmd
}

func newLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and forget the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			sess, err := app.Session(ctx)
			if err != nil {
				return err
			}
			email := ""
			if u := sess.User(); u != nil {
				email = u.Email
			}
			if err := sess.Close(ctx, true); err != nil {
				app.Logger.Warn().Err(err).Msg("Remote logout failed")
			}
			app.session = nil
			_ = app.Access().Audit().LogLogout(ctx, email)

			if err := config.SaveToken(app.ConfigDir, ""); err != nil {
				return fmt.Errorf("clearing session token: %w", err)
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"logged_out": true})
			}
			output.Success("Logged out")
			return nil
		},
	}
}

func newWhoamiCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			sess, err := app.Session(cmd.Context())
			if err != nil {
				return err
			}
			user := sess.User()
			if output.IsJSON() {
				return output.JSON(map[string]any{"authenticated": user != nil, "user": user})
			}
			if user == nil {
				output.Warning("Not logged in")
				return nil
			}
			output.Printf("%s (%s)\n", user.Email, orDash(user.FullName))
			output.Dim("Role: %s", user.Role)
			return nil
		},
	}
}

func newRegisterCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account on a self-hosted backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			email, password, err := credentialsFromFlags(cmd)
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")

			user, err := app.Gateway().Register(cmd.Context(), email, name, password)
			if err != nil {
				output.Error("Registration failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(user)
			}
			output.Success("Registered %s", user.Email)
			output.Dim("Run 'algotrader login --email %s' to sign in", user.Email)
			return nil
		},
	}
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("password", "", "account password (prompted when omitted)")
	cmd.Flags().String("name", "", "full name")
	return cmd
}
