package backend

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"text/template"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/models"
)

// Mailer sends one plain-text email. *notify.EmailNotifier satisfies it.
type Mailer interface {
	SendTo(ctx context.Context, to, subject, body string) error
}

// WelcomeSubject is the subject line of the welcome email.
const WelcomeSubject = "Welcome to AlgoTrader"

var welcomeTemplate = template.Must(template.New("welcome").Parse(`Hi {{.Name}},

Welcome to AlgoTrader! Your account is ready.

Here is how to get started:
  1. Create a strategy or let discovery suggest a few.
  2. Backtest it against the symbols you trade.
  3. Generate signals and review them before executing.
  4. Open a brokerage account and link a bank to fund live trading.

Trading involves risk. Signals and backtests are informational only.

Happy trading,
The AlgoTrader team
`))

// WelcomeEmailFunction implements sendWelcomeEmail{to_email, to_name}.
// Only admins may send it.
func WelcomeEmailFunction(mailer Mailer) Function {
	return func(ctx context.Context, call Call) (any, error) {
		if !call.User.IsAdmin() {
			role := ""
			if call.User != nil {
				role = call.User.Role
			}
			return nil, apperrors.NewPermissionError("sendWelcomeEmail", models.RoleAdmin, role)
		}
		to, err := requireString(call.Payload, "to_email")
		if err != nil {
			return nil, err
		}
		if _, err := mail.ParseAddress(to); err != nil {
			return nil, apperrors.NewValidationError("to_email", to, "is not a valid address")
		}
		name := stringParam(call.Payload, "to_name")
		if name == "" {
			name, _, _ = strings.Cut(to, "@")
		}

		var body strings.Builder
		if err := welcomeTemplate.Execute(&body, struct{ Name string }{name}); err != nil {
			return nil, fmt.Errorf("rendering welcome email: %w", err)
		}
		if mailer == nil {
			return nil, apperrors.NewRemoteCallError("sendWelcomeEmail", 503, "email is not configured", nil)
		}
		if err := mailer.SendTo(ctx, to, WelcomeSubject, body.String()); err != nil {
			return nil, apperrors.NewRemoteCallError("sendWelcomeEmail", 0, "Failed to send email", err)
		}
		return Reply{Message: "Welcome email sent to " + to}, nil
	}
}
