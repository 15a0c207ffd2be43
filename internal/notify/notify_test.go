package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"algotrader/internal/config"
	"algotrader/internal/models"
)

type recordingChannel struct {
	sent []Notification
	err  error
}

func (r *recordingChannel) Name() string    { return "recording" }
func (r *recordingChannel) IsEnabled() bool { return true }
func (r *recordingChannel) Send(_ context.Context, n Notification) error {
	r.sent = append(r.sent, n)
	return r.err
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestMultiNotifier_LevelFilter(t *testing.T) {
	tests := []struct {
		level NotificationLevel
		typ   NotificationType
		want  bool
	}{
		{LevelAll, NotificationInfo, true},
		{LevelWorkflowsOnly, NotificationInfo, false},
		{LevelWorkflowsOnly, NotificationBacktest, true},
		{LevelErrorsOnly, NotificationSignal, false},
		{LevelErrorsOnly, NotificationError, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.level)+"/"+string(tt.typ), func(t *testing.T) {
			ch := &recordingChannel{}
			mn := NewMultiNotifier(&config.NotificationConfig{Level: string(tt.level)})
			mn.AddChannel(ch)

			_ = mn.Send(context.Background(), Notification{Type: tt.typ, Title: "x"})
			if got := len(ch.sent) == 1; got != tt.want {
				t.Errorf("sent = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMultiNotifier_SendBatchAllFailedIsError(t *testing.T) {
	ch := &recordingChannel{}
	mn := NewMultiNotifier(&config.NotificationConfig{})
	mn.AddChannel(ch)

	_ = mn.SendBatch(context.Background(), BatchSummary{
		Operation: "backtest batch",
		Failed:    []BatchFailure{{Name: "A", Message: "boom"}},
	})
	if len(ch.sent) != 1 || ch.sent[0].Type != NotificationError {
		t.Fatalf("sent = %+v, want one error notification", ch.sent)
	}
	if !strings.Contains(ch.sent[0].Message, "Failed A: boom") {
		t.Errorf("message = %q", ch.sent[0].Message)
	}
}

func TestMultiNotifier_SendBatchKeepsFailureOrder(t *testing.T) {
	ch := &recordingChannel{}
	mn := NewMultiNotifier(&config.NotificationConfig{})
	mn.AddChannel(ch)

	_ = mn.SendBatch(context.Background(), BatchSummary{
		Operation: "backtest_all",
		Succeeded: []string{"Alpha"},
		Failed: []BatchFailure{
			{Name: "Zeta", Message: "first"},
			{Name: "Beta", Message: "second"},
			{Name: "Zeta", Message: "third"},
		},
	})
	if len(ch.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(ch.sent))
	}
	n := ch.sent[0]
	if n.Title != "backtest_all: 1 succeeded, 3 failed" {
		t.Errorf("title = %q", n.Title)
	}
	want := "Succeeded: Alpha\nFailed Zeta: first\nFailed Beta: second\nFailed Zeta: third"
	if n.Message != want {
		t.Errorf("message = %q, want %q", n.Message, want)
	}
}

func TestMultiNotifier_CollectsChannelErrors(t *testing.T) {
	mn := NewMultiNotifier(&config.NotificationConfig{})
	mn.AddChannel(&recordingChannel{err: errors.New("down")})

	err := mn.SendError(context.Background(), errors.New("x"), "test")
	if err == nil || !strings.Contains(err.Error(), "recording: down") {
		t.Errorf("err = %v", err)
	}
}

func TestKafkaNotifier_PublishesJSON(t *testing.T) {
	w := &fakeWriter{}
	mn := NewMultiNotifier(&config.NotificationConfig{})
	mn.AddChannel(NewKafkaNotifierWithWriter(w, "events"))

	bt := &models.Backtest{BacktestRunID: "BT-20240101-AAAAAA", StrategyName: "Momentum", TotalReturn: 12.5}
	if err := mn.SendBacktest(context.Background(), bt); err != nil {
		t.Fatalf("SendBacktest: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("msgs = %d, want 1", len(w.msgs))
	}
	if string(w.msgs[0].Key) != string(NotificationBacktest) {
		t.Errorf("key = %s", w.msgs[0].Key)
	}

	var n Notification
	if err := json.Unmarshal(w.msgs[0].Value, &n); err != nil {
		t.Fatalf("value is not JSON: %v", err)
	}
	if n.Data["backtest_run_id"] != "BT-20240101-AAAAAA" {
		t.Errorf("data = %v", n.Data)
	}

	_ = mn.Close()
	if !w.closed {
		t.Error("writer not closed")
	}
}

func TestWebhookNotifier_Send(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	wn := NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: srv.URL})
	transfer := &models.Transfer{Direction: models.Incoming, Amount: decimal.NewFromInt(1500), Status: "QUEUED"}
	mn := NewMultiNotifier(&config.NotificationConfig{})
	mn.AddChannel(wn)

	if err := mn.SendTransfer(context.Background(), transfer); err != nil {
		t.Fatalf("SendTransfer: %v", err)
	}
	if got["title"] != "Deposit of $1,500.00 initiated" {
		t.Errorf("title = %v", got["title"])
	}
}

func TestEmailNotifier_SendTo(t *testing.T) {
	en := NewEmailNotifier(config.EmailConfig{Enabled: true, SMTPHost: "smtp.example.com", SMTPPort: 587, From: "bot@example.com"})
	var captured []byte
	var rcpt []string
	en.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		captured, rcpt = msg, to
		return nil
	}

	if en.IsEnabled() {
		t.Error("notifier without a default recipient should not receive broadcasts")
	}
	if err := en.SendTo(context.Background(), "jane@example.com", "Welcome", "Hello Jane"); err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	if len(rcpt) != 1 || rcpt[0] != "jane@example.com" {
		t.Errorf("rcpt = %v", rcpt)
	}
	if !bytes.Contains(captured, []byte("Subject: Welcome")) {
		t.Errorf("msg = %s", captured)
	}
}

func TestTerminalNotifier(t *testing.T) {
	var buf bytes.Buffer
	tn := NewTerminalNotifier(&buf, false)
	_ = tn.Send(context.Background(), Notification{Type: NotificationSignal, Title: "Signal: BUY AAPL", Message: "Confidence: 80%"})

	out := buf.String()
	if !strings.Contains(out, "Signal: BUY AAPL") || !strings.Contains(out, "Confidence: 80%") {
		t.Errorf("output = %q", out)
	}
}
