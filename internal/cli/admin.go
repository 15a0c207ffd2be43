package cli

import (
	"github.com/spf13/cobra"

	"algotrader/internal/admin"
)

// addAdminCommands adds the admin console commands.
func addAdminCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "User administration (admin role only)",
	}
	cmd.AddCommand(newAdminUsersCmd(app))
	cmd.AddCommand(newAdminWelcomeCmd(app))
	rootCmd.AddCommand(cmd)
}

func (app *App) admin(cmd *cobra.Command) (*admin.Service, error) {
	sess, err := app.RequireUser(cmd.Context())
	if err != nil {
		return nil, err
	}
	return admin.New(app.Gateway(), sess, app.Access()), nil
}

func newAdminUsersCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			svc, err := app.admin(cmd)
			if err != nil {
				return err
			}
			users, err := svc.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			query, _ := cmd.Flags().GetString("query")
			users = admin.FilterUsers(users, query)
			if output.IsJSON() {
				return output.JSON(users)
			}
			if len(users) == 0 {
				output.Info("No users match %q", query)
				return nil
			}
			table := NewTable(output, "ID", "EMAIL", "NAME", "ROLE", "JOINED")
			for _, u := range users {
				role := u.Role
				if u.IsAdmin() {
					role = output.Cyan(role)
				}
				table.AddRow(u.ID, u.Email, orDash(u.FullName), role, FormatDate(u.CreatedDate, app.Config.UI.DateFormat))
			}
			table.Render()
			output.Dim("%d users", len(users))
			return nil
		},
	}
	cmd.Flags().String("query", "", "filter by email or name")
	return cmd
}

func newAdminWelcomeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "welcome <user id>...",
		Short: "Send welcome emails",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			svc, err := app.admin(cmd)
			if err != nil {
				return err
			}
			results, err := svc.SendWelcomeEmails(cmd.Context(), args)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(results)
			}
			sent := 0
			for _, r := range results {
				if r.Success {
					sent++
					output.Success("%s: %s", r.Email, r.Message)
				} else {
					output.Error("%s: %s", r.Email, r.Message)
				}
			}
			if skipped := len(args) - len(results); skipped > 0 {
				output.Warning("%d unknown user ids skipped", skipped)
			}
			output.Info("%d of %d emails sent", sent, len(results))
			return nil
		},
	}
}
