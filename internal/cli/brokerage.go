package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"algotrader/internal/config"
	apperrors "algotrader/internal/errors"
	"algotrader/internal/funding"
	"algotrader/internal/models"
	"algotrader/internal/notify"
	"algotrader/internal/onboarding"
	"algotrader/internal/poller"
)

// addBrokerageCommands adds brokerage account onboarding, bank linking and
// funding transfer commands.
func addBrokerageCommands(rootCmd *cobra.Command, app *App) {
	onboard := &cobra.Command{
		Use:   "onboard",
		Short: "Open a brokerage account",
	}
	onboard.AddCommand(newOnboardStatusCmd(app))
	onboard.AddCommand(newOnboardSubmitCmd(app))

	bank := &cobra.Command{
		Use:   "bank",
		Short: "Manage linked bank accounts",
	}
	bank.AddCommand(newBankListCmd(app))
	bank.AddCommand(newBankLinkCmd(app))
	bank.AddCommand(newBankUnlinkCmd(app))

	fund := &cobra.Command{
		Use:     "funding",
		Aliases: []string{"fund"},
		Short:   "Deposit, withdraw and review transfers",
	}
	fund.AddCommand(newFundingStatusCmd(app))
	fund.AddCommand(newFundingTransferCmd(app, models.Incoming))
	fund.AddCommand(newFundingTransferCmd(app, models.Outgoing))
	fund.AddCommand(newFundingWatchCmd(app))

	rootCmd.AddCommand(onboard, bank, fund)
}

func (app *App) onboarding(ctx context.Context) (*onboarding.Machine, error) {
	if _, err := app.RequireUser(ctx); err != nil {
		return nil, err
	}
	return onboarding.New(app.Gateway(), onboarding.Options{
		RedirectDelay: app.Config.Polling.RedirectDelay,
		Access:        app.Access(),
	}), nil
}

func (app *App) funding(ctx context.Context) (*funding.Service, error) {
	if _, err := app.RequireUser(ctx); err != nil {
		return nil, err
	}
	return funding.New(app.Gateway(), funding.Options{
		SettleDelay: app.Config.Polling.SettleDelay,
		Access:      app.Access(),
		Notifier:    app.Notifier(),
	}), nil
}

func printOnboardingView(output *Output, view onboarding.View) {
	switch view.State {
	case onboarding.StateNoAccount:
		output.Warning("No brokerage account yet")
		output.Dim("Run 'algotrader onboard submit --help' to apply")
	case onboarding.StatePending:
		output.Info("Application under review (%s)", output.Status(view.Status))
		output.Dim("Approval usually takes one to two business days")
	case onboarding.StateApprovedActive:
		output.Success("Account approved (%s)", output.Status(view.Status))
		output.Dim("Live trading is available: 'algotrader trade account'")
	default:
		output.Info("Checking account status...")
	}
	output.Banner(view.Banner)
}

func newOnboardStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the brokerage account status",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			m, err := app.onboarding(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			err = m.Enter(cmd.Context())
			if output.IsJSON() {
				if jsonErr := output.JSON(m.View()); jsonErr != nil {
					return jsonErr
				}
				return err
			}
			printOnboardingView(output, m.View())
			return err
		},
	}
}

func newOnboardSubmitCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a brokerage account application",
		Example: `  algotrader onboard submit --given-name Ada --family-name Lovelace \
    --dob 1990-12-10 --phone "+1 555 010 9999" --street "1 Main St" \
    --city Springfield --state IL --postal-code 62701 --tax-id 123-45-6789`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()
			m, err := app.onboarding(ctx)
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Enter(ctx); err != nil {
				output.Banner(m.Banner())
				return err
			}
			if m.Phase() != onboarding.PhasePersonalInfo {
				if output.IsJSON() {
					return output.JSON(m.View())
				}
				printOnboardingView(output, m.View())
				return nil
			}

			flags := cmd.Flags()
			str := func(name string) string {
				v, _ := flags.GetString(name)
				return v
			}
			boolean := func(name string) bool {
				v, _ := flags.GetBool(name)
				return v
			}

			info := onboarding.PersonalInfo{
				GivenName:     str("given-name"),
				FamilyName:    str("family-name"),
				DateOfBirth:   str("dob"),
				PhoneNumber:   str("phone"),
				StreetAddress: str("street"),
				City:          str("city"),
				State:         str("state"),
				PostalCode:    str("postal-code"),
				TaxID:         str("tax-id"),
				TaxIDType:     str("tax-id-type"),
				Country:       str("country"),
			}
			if err := m.SubmitPersonalInfo(info); err != nil {
				output.Banner(m.Banner())
				return err
			}

			disclosures := onboarding.Disclosures{
				FundingSource:               str("funding-source"),
				IsControlPerson:             boolean("control-person"),
				IsAffiliatedExchangeOrFINRA: boolean("affiliated"),
				IsPoliticallyExposed:        boolean("politically-exposed"),
				ImmediateFamilyExposed:      boolean("family-exposed"),
			}
			if !output.IsJSON() {
				output.Info("Submitting application...")
			}
			if err := m.SubmitDisclosures(ctx, disclosures); err != nil {
				output.Banner(m.Banner())
				return err
			}

			view := m.View()
			if output.IsJSON() {
				return output.JSON(view)
			}
			if view.Account != nil {
				output.Success("Application submitted (%s)", output.Status(view.Account.Status))
				output.Dim("Account ID: %s", view.Account.AccountID)
			}

			select {
			case r := <-m.Redirects():
				if r == onboarding.RedirectFunding {
					output.Info("Next: link a bank with 'algotrader bank link'")
				}
			case <-time.After(app.Config.Polling.RedirectDelay + time.Second):
			case <-ctx.Done():
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.String("given-name", "", "legal first name")
	f.String("family-name", "", "legal last name")
	f.String("dob", "", "date of birth YYYY-MM-DD")
	f.String("phone", "", "phone number")
	f.String("street", "", "street address")
	f.String("city", "", "city")
	f.String("state", "", "state")
	f.String("postal-code", "", "US postal code")
	f.String("tax-id", "", "SSN or ITIN, e.g. 123-45-6789")
	f.String("tax-id-type", "USA_SSN", "USA_SSN or USA_ITIN")
	f.String("country", "USA", "country of tax residence (ISO 3166 alpha-3)")
	f.String("funding-source", "employment_income", "employment_income, investments, inheritance, business_income, savings or family")
	f.Bool("control-person", false, "you are a control person of a public company")
	f.Bool("affiliated", false, "you are affiliated with an exchange or FINRA")
	f.Bool("politically-exposed", false, "you are a politically exposed person")
	f.Bool("family-exposed", false, "an immediate family member is politically exposed")
	return cmd
}

func printRelationships(output *Output, rels []models.ACHRelationship) {
	if len(rels) == 0 {
		output.Info("No linked banks. Link one with 'algotrader bank link'.")
		return
	}
	table := NewTable(output, "ID", "NICKNAME", "OWNER", "TYPE", "ACCOUNT", "STATUS")
	for _, r := range rels {
		table.AddRow(r.ID, orDash(r.Nickname), orDash(r.AccountOwnerName), orDash(r.BankAccountType),
			maskAccount(r.BankAccountNumber), output.Status(r.Status))
	}
	table.Render()
}

func printTransfers(output *Output, transfers []models.Transfer) {
	if len(transfers) == 0 {
		output.Dim("No transfers yet")
		return
	}
	table := NewTable(output, "ID", "TYPE", "AMOUNT", "STATUS", "CREATED")
	for _, t := range transfers {
		table.AddRow(t.ID, t.Direction.Label(), FormatMoney(t.Amount), output.Status(t.Status), orDash(t.CreatedAt))
	}
	table.Render()
}

func maskAccount(number string) string {
	if len(number) <= 4 {
		return orDash(number)
	}
	return "****" + number[len(number)-4:]
}

func newBankListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List linked banks",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			svc, err := app.funding(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()
			if err := svc.Load(cmd.Context()); err != nil {
				output.Banner(svc.Banner())
				return err
			}
			snap := svc.Snapshot()
			if output.IsJSON() {
				return output.JSON(snap.Relationships)
			}
			printRelationships(output, snap.Relationships)
			return nil
		},
	}
}

func newBankLinkCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link a bank account for ACH transfers",
		Example: `  algotrader bank link --owner "Ada Lovelace" --account 123456789 \
    --routing 121000358 --nickname "Main checking"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			svc, err := app.funding(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			flags := cmd.Flags()
			owner, _ := flags.GetString("owner")
			typ, _ := flags.GetString("type")
			account, _ := flags.GetString("account")
			routing, _ := flags.GetString("routing")
			nickname, _ := flags.GetString("nickname")

			rel, err := svc.LinkBank(cmd.Context(), funding.BankLink{
				AccountOwnerName:  owner,
				BankAccountType:   typ,
				BankAccountNumber: account,
				BankRoutingNumber: routing,
				Nickname:          nickname,
			})
			if err != nil {
				output.Banner(svc.Banner())
				return err
			}
			if output.IsJSON() {
				return output.JSON(rel)
			}
			output.Success("%s", svc.Message())
			output.Dim("Relationship %s is %s; deposits open once it is approved", rel.ID, rel.Status)
			return nil
		},
	}
	cmd.Flags().String("owner", "", "account owner name")
	cmd.Flags().String("type", "CHECKING", "CHECKING or SAVINGS")
	cmd.Flags().String("account", "", "bank account number")
	cmd.Flags().String("routing", "", "9 digit routing number")
	cmd.Flags().String("nickname", "", "display name for the bank")
	return cmd
}

func newBankUnlinkCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "unlink <relationship id>",
		Short: "Remove a linked bank",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			svc, err := app.funding(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()
			if err := svc.UnlinkBank(cmd.Context(), args[0]); err != nil {
				output.Banner(svc.Banner())
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"unlinked": args[0]})
			}
			output.Success("%s", svc.Message())
			return nil
		},
	}
}

func newFundingStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show linked banks and recent transfers",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			svc, err := app.funding(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()
			if err := svc.Load(cmd.Context()); err != nil {
				output.Banner(svc.Banner())
				return err
			}
			snap := svc.Snapshot()
			if output.IsJSON() {
				return output.JSON(snap)
			}
			printFunding(output, snap, svc.CanTransfer())
			return nil
		},
	}
}

func printFunding(output *Output, snap funding.Snapshot, canTransfer bool) {
	output.Bold("Banks")
	printRelationships(output, snap.Relationships)
	output.Println()
	output.Bold("Transfers")
	printTransfers(output, snap.Transfers)
	if !canTransfer && len(snap.Relationships) > 0 {
		output.Println()
		output.Warning("No approved bank yet; transfers open once a link is approved")
	}
}

func newFundingTransferCmd(app *App, direction models.TransferDirection) *cobra.Command {
	use, short := "deposit <amount>", "Deposit from a linked bank"
	if direction == models.Outgoing {
		use, short = "withdraw <amount>", "Withdraw to a linked bank"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()
			amount, err := parseAmount(args[0])
			if err != nil {
				return apperrors.NewValidationError("amount", args[0], "must be a dollar amount")
			}

			svc, err := app.funding(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()
			if err := svc.Load(ctx); err != nil {
				output.Banner(svc.Banner())
				return err
			}

			bank, _ := cmd.Flags().GetString("bank")
			if bank == "" {
				approved := svc.Snapshot().Approved()
				switch len(approved) {
				case 0:
					return apperrors.NewValidationError("bank", nil, "no approved bank; run 'algotrader bank list'")
				case 1:
					bank = approved[0].ID
				default:
					return apperrors.NewValidationError("bank", nil, fmt.Sprintf("%d approved banks, pick one with --bank", len(approved)))
				}
			}

			t, err := svc.Transfer(ctx, funding.TransferRequest{
				RelationshipID: bank,
				Amount:         amount,
				Direction:      direction,
			})
			if err != nil {
				output.Banner(svc.Banner())
				return err
			}
			if output.IsJSON() {
				return output.JSON(t)
			}
			output.Success("%s", svc.Message())
			output.Dim("Transfer %s is %s", t.ID, t.Status)
			return nil
		},
	}
	cmd.Flags().String("bank", "", "relationship id (default: the only approved bank)")
	return cmd
}

func newFundingWatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Refresh funding status until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()
			sess, err := app.RequireUser(ctx)
			if err != nil {
				return err
			}
			svc, err := app.funding(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			interval, _ := cmd.Flags().GetDuration("interval")
			if interval <= 0 {
				interval = app.Config.Polling.FundingInterval
			}

			alerts := notify.NewMultiNotifier(&config.NotificationConfig{Level: string(notify.LevelAll)})
			alerts.AddChannel(notify.NewTerminalNotifier(cmd.ErrOrStderr(), !output.IsJSON() && output.colorEnabled))

			if err := svc.Load(ctx); err != nil {
				output.Banner(svc.Banner())
			}
			seen := transferStatuses(svc.Snapshot().Transfers)
			render := func(ctx context.Context) {
				snap := svc.Snapshot()
				for _, t := range snap.Transfers {
					if prev, ok := seen[t.ID]; ok && prev != t.Status {
						_ = alerts.Send(ctx, notify.Notification{
							Type:    notify.NotificationTransfer,
							Title:   fmt.Sprintf("%s of %s", t.Direction.Label(), FormatMoney(t.Amount)),
							Message: fmt.Sprintf("%s -> %s", prev, t.Status),
						})
					}
				}
				seen = transferStatuses(snap.Transfers)

				if output.IsJSON() {
					_ = output.JSON(snap)
					return
				}
				output.Dim("Updated %s", snap.LoadedAt.Local().Format("15:04:05"))
				printFunding(output, snap, svc.CanTransfer())
				output.Banner(svc.Banner())
				output.Println()
			}
			render(ctx)

			sess.Track(svc.Watch(ctx, interval))
			// Render just after each poll so the table reflects the fresh load.
			sess.Track(poller.After(ctx, time.Second, func(ctx context.Context) {
				sess.Track(poller.Every(ctx, interval, render, poller.Named("funding-render")))
			}))

			if !output.IsJSON() {
				output.Dim("Refreshing every %s. Press Ctrl+C to stop.", interval)
			}
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().Duration("interval", 0, "refresh interval (default: polling.funding_interval)")
	return cmd
}

func transferStatuses(transfers []models.Transfer) map[string]string {
	out := make(map[string]string, len(transfers))
	for _, t := range transfers {
		out[t.ID] = t.Status
	}
	return out
}
