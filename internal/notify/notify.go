// Package notify provides notification functionality for workflow events.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"algotrader/internal/config"
	"algotrader/internal/models"
	"algotrader/pkg/utils"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
	SendBacktest(ctx context.Context, bt *models.Backtest) error
	SendBatch(ctx context.Context, summary BatchSummary) error
	SendSignal(ctx context.Context, signal *models.Signal) error
	SendTransfer(ctx context.Context, transfer *models.Transfer) error
	SendError(ctx context.Context, err error, context string) error
}

// NotificationChannel defines the interface for a notification channel.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType       `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationBacktest NotificationType = "backtest"
	NotificationBatch    NotificationType = "batch"
	NotificationSignal   NotificationType = "signal"
	NotificationTransfer NotificationType = "transfer"
	NotificationError    NotificationType = "error"
	NotificationInfo     NotificationType = "info"
)

// NotificationLevel represents the notification level filter.
type NotificationLevel string

const (
	LevelAll           NotificationLevel = "all"
	LevelWorkflowsOnly NotificationLevel = "workflows_only"
	LevelErrorsOnly    NotificationLevel = "errors_only"
)

// BatchFailure is one failed entry of a batch, in run order.
type BatchFailure struct {
	Name    string `json:"name"`
	Message string `json:"error"`
}

// BatchSummary describes a finished batch run.
type BatchSummary struct {
	Operation string
	Succeeded []string
	Failed    []BatchFailure
}

// MultiNotifier sends notifications to multiple channels.
type MultiNotifier struct {
	channels []NotificationChannel
	level    NotificationLevel
	mu       sync.RWMutex
}

// NewMultiNotifier creates a new MultiNotifier with the given configuration.
func NewMultiNotifier(cfg *config.NotificationConfig) *MultiNotifier {
	mn := &MultiNotifier{
		channels: make([]NotificationChannel, 0),
		level:    NotificationLevel(cfg.Level),
	}

	if mn.level == "" {
		mn.level = LevelAll
	}

	if cfg.Webhook.Enabled {
		mn.channels = append(mn.channels, NewWebhookNotifier(cfg.Webhook))
	}
	if cfg.Email.Enabled {
		mn.channels = append(mn.channels, NewEmailNotifier(cfg.Email))
	}
	if cfg.Kafka.Enabled {
		mn.channels = append(mn.channels, NewKafkaNotifier(cfg.Kafka))
	}

	return mn
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// Close releases channels that hold connections.
func (mn *MultiNotifier) Close() error {
	mn.mu.RLock()
	defer mn.mu.RUnlock()
	var errs []string
	for _, ch := range mn.channels {
		if c, ok := ch.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing notifiers: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (mn *MultiNotifier) shouldSend(notifType NotificationType) bool {
	switch mn.level {
	case LevelWorkflowsOnly:
		return notifType != NotificationInfo
	case LevelErrorsOnly:
		return notifType == NotificationError
	default:
		return true
	}
}

// Send sends a notification to all enabled channels.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if !mn.shouldSend(n.Type) {
		return nil
	}

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	var errs []string
	for _, ch := range channels {
		if ch.IsEnabled() {
			if err := ch.Send(ctx, n); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SendBacktest announces a persisted backtest.
func (mn *MultiNotifier) SendBacktest(ctx context.Context, bt *models.Backtest) error {
	title := fmt.Sprintf("Backtest %s: %s", bt.BacktestRunID, bt.StrategyName)
	message := fmt.Sprintf(
		"Symbols: %s\nPeriod: %s to %s\nReturn: %.2f%%\nFinal capital: %s\nSharpe: %.2f\nMax drawdown: %.2f%%\nTrades: %d (win rate %.1f%%)",
		strings.Join(bt.SymbolsTested, ", "),
		bt.StartDate, bt.EndDate,
		bt.TotalReturn,
		utils.FormatCurrency(bt.FinalCapital),
		bt.SharpeRatio,
		bt.MaxDrawdown,
		bt.TotalTrades, bt.WinRate,
	)

	return mn.Send(ctx, Notification{
		Type:    NotificationBacktest,
		Title:   title,
		Message: message,
		Data: map[string]interface{}{
			"backtest_run_id": bt.BacktestRunID,
			"strategy_id":     bt.StrategyID,
			"strategy_name":   bt.StrategyName,
			"total_return":    bt.TotalReturn,
			"final_capital":   bt.FinalCapital,
			"sharpe_ratio":    bt.SharpeRatio,
			"max_drawdown":    bt.MaxDrawdown,
		},
	})
}

// SendBatch announces the outcome of a batch run.
func (mn *MultiNotifier) SendBatch(ctx context.Context, summary BatchSummary) error {
	title := fmt.Sprintf("%s: %d succeeded, %d failed", summary.Operation, len(summary.Succeeded), len(summary.Failed))

	var sb strings.Builder
	if len(summary.Succeeded) > 0 {
		sb.WriteString("Succeeded: ")
		sb.WriteString(strings.Join(summary.Succeeded, ", "))
		sb.WriteString("\n")
	}
	for _, f := range summary.Failed {
		sb.WriteString(fmt.Sprintf("Failed %s: %s\n", f.Name, f.Message))
	}

	typ := NotificationBatch
	if len(summary.Succeeded) == 0 && len(summary.Failed) > 0 {
		typ = NotificationError
	}

	return mn.Send(ctx, Notification{
		Type:    typ,
		Title:   title,
		Message: strings.TrimRight(sb.String(), "\n"),
		Data: map[string]interface{}{
			"operation": summary.Operation,
			"succeeded": summary.Succeeded,
			"failed":    summary.Failed,
		},
	})
}

// SendSignal announces a new trading signal.
func (mn *MultiNotifier) SendSignal(ctx context.Context, s *models.Signal) error {
	title := fmt.Sprintf("Signal: %s %s", strings.ToUpper(string(s.Action)), s.Symbol)
	message := fmt.Sprintf(
		"Strategy: %s\nEntry: %s\nStop: %s\nTarget: %s\nQuantity: %g\nConfidence: %.0f%%\n\n%s",
		s.StrategyName,
		utils.FormatCurrency(s.EntryPrice),
		utils.FormatCurrency(s.StopLoss),
		utils.FormatCurrency(s.TakeProfit),
		s.Quantity,
		s.Confidence,
		s.Rationale,
	)

	return mn.Send(ctx, Notification{
		Type:    NotificationSignal,
		Title:   title,
		Message: message,
		Data: map[string]interface{}{
			"symbol":      s.Symbol,
			"action":      s.Action,
			"entry_price": s.EntryPrice,
			"stop_loss":   s.StopLoss,
			"take_profit": s.TakeProfit,
			"confidence":  s.Confidence,
		},
	})
}

// SendTransfer announces an initiated funding transfer.
func (mn *MultiNotifier) SendTransfer(ctx context.Context, t *models.Transfer) error {
	amount, _ := t.Amount.Float64()
	title := fmt.Sprintf("%s of %s initiated", t.Direction.Label(), utils.FormatCurrency(amount))

	return mn.Send(ctx, Notification{
		Type:    NotificationTransfer,
		Title:   title,
		Message: fmt.Sprintf("Status: %s", t.Status),
		Data: map[string]interface{}{
			"transfer_id": t.ID,
			"direction":   t.Direction,
			"amount":      t.Amount.String(),
			"status":      t.Status,
		},
	})
}

// SendError sends an error notification.
func (mn *MultiNotifier) SendError(ctx context.Context, err error, errContext string) error {
	title := "Error Occurred"
	message := fmt.Sprintf("Context: %s\nError: %v\nTime: %s",
		errContext, err, time.Now().Format("15:04:05"))

	return mn.Send(ctx, Notification{
		Type:    NotificationError,
		Title:   title,
		Message: message,
		Data: map[string]interface{}{
			"context": errContext,
			"error":   err.Error(),
		},
	})
}

// WebhookNotifier sends notifications via HTTP webhook.
type WebhookNotifier struct {
	url     string
	enabled bool
	client  *http.Client
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the notifier.
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// IsEnabled returns whether the notifier is enabled.
func (w *WebhookNotifier) IsEnabled() bool {
	return w.enabled
}

// Send sends a notification via webhook.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if !w.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"type":      n.Type,
		"title":     n.Title,
		"message":   n.Message,
		"data":      n.Data,
		"timestamp": n.Timestamp.Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "algotrader/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// EmailNotifier sends notifications via email using SMTP. It also serves as
// the transactional mailer behind the welcome email function.
type EmailNotifier struct {
	smtpHost string
	smtpPort int
	username string
	password string
	from     string
	to       string
	enabled  bool
	send     func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifier creates a new EmailNotifier.
func NewEmailNotifier(cfg config.EmailConfig) *EmailNotifier {
	return &EmailNotifier{
		smtpHost: cfg.SMTPHost,
		smtpPort: cfg.SMTPPort,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		to:       cfg.To,
		enabled:  cfg.Enabled && cfg.SMTPHost != "" && cfg.From != "",
		send:     smtp.SendMail,
	}
}

// Name returns the name of the notifier.
func (e *EmailNotifier) Name() string {
	return "email"
}

// IsEnabled returns whether the notifier is enabled.
func (e *EmailNotifier) IsEnabled() bool {
	return e.enabled && e.to != ""
}

// Send sends a notification to the configured recipient.
func (e *EmailNotifier) Send(ctx context.Context, n Notification) error {
	if !e.IsEnabled() {
		return nil
	}

	body := n.Message
	if len(n.Data) > 0 {
		dataJSON, _ := json.MarshalIndent(n.Data, "", "  ")
		body += "\n\n---\nData:\n" + string(dataJSON)
	}
	return e.SendTo(ctx, e.to, n.Title, body)
}

// SendTo delivers a plain-text message to an arbitrary recipient.
func (e *EmailNotifier) SendTo(ctx context.Context, to, subject, body string) error {
	if !e.enabled {
		return fmt.Errorf("email is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		e.from, to, subject, body)

	addr := fmt.Sprintf("%s:%d", e.smtpHost, e.smtpPort)

	var auth smtp.Auth
	if e.username != "" && e.password != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.smtpHost)
	}

	// Implicit TLS on 465; STARTTLS or plain otherwise.
	if e.smtpPort == 465 {
		return e.sendWithTLS(addr, auth, to, msg)
	}
	return e.send(addr, auth, e.from, []string{to}, []byte(msg))
}

func (e *EmailNotifier) sendWithTLS(addr string, auth smtp.Auth, to, msg string) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: e.smtpHost})
	if err != nil {
		return fmt.Errorf("TLS dial failed: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, e.smtpHost)
	if err != nil {
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP auth failed: %w", err)
		}
	}
	if err := client.Mail(e.from); err != nil {
		return fmt.Errorf("SMTP MAIL command failed: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("SMTP RCPT command failed: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA command failed: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("writing email body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing email body: %w", err)
	}
	return client.Quit()
}

// NoOpNotifier is a notifier that does nothing.
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

func (n *NoOpNotifier) Send(context.Context, Notification) error             { return nil }
func (n *NoOpNotifier) SendBacktest(context.Context, *models.Backtest) error { return nil }
func (n *NoOpNotifier) SendBatch(context.Context, BatchSummary) error        { return nil }
func (n *NoOpNotifier) SendSignal(context.Context, *models.Signal) error     { return nil }
func (n *NoOpNotifier) SendTransfer(context.Context, *models.Transfer) error { return nil }
func (n *NoOpNotifier) SendError(context.Context, error, string) error       { return nil }
