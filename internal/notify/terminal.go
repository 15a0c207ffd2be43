package notify

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
)

// TerminalNotifier prints notifications to a terminal, colored by type.
// Long-running CLI commands such as "funding watch" attach it to their
// MultiNotifier.
type TerminalNotifier struct {
	out          io.Writer
	colorEnabled bool
	bell         bool
	mu           sync.Mutex
}

// NewTerminalNotifier creates a TerminalNotifier writing to out.
func NewTerminalNotifier(out io.Writer, colorEnabled bool) *TerminalNotifier {
	return &TerminalNotifier{out: out, colorEnabled: colorEnabled}
}

// SetBellEnabled rings the terminal bell on errors.
func (tn *TerminalNotifier) SetBellEnabled(enabled bool) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.bell = enabled
}

// Name returns the name of the notifier.
func (tn *TerminalNotifier) Name() string {
	return "terminal"
}

// IsEnabled returns whether the notifier is enabled.
func (tn *TerminalNotifier) IsEnabled() bool {
	return tn.out != nil
}

// Send writes n to the terminal.
func (tn *TerminalNotifier) Send(_ context.Context, n Notification) error {
	tn.mu.Lock()
	defer tn.mu.Unlock()

	if tn.bell && n.Type == NotificationError {
		fmt.Fprint(tn.out, "\a")
	}
	_, err := fmt.Fprintln(tn.out, FormatNotification(n, tn.colorEnabled))
	return err
}

// FormatNotification renders n as a single terminal block.
func FormatNotification(n Notification, colorEnabled bool) string {
	ts := n.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var icon string
	var c *color.Color
	switch n.Type {
	case NotificationBacktest, NotificationBatch:
		icon, c = "◆", color.New(color.FgCyan, color.Bold)
	case NotificationSignal:
		icon, c = "▲", color.New(color.FgGreen, color.Bold)
	case NotificationTransfer:
		icon, c = "$", color.New(color.FgYellow, color.Bold)
	case NotificationError:
		icon, c = "✗", color.New(color.FgRed, color.Bold)
	default:
		icon, c = "•", color.New(color.FgWhite)
	}

	header := fmt.Sprintf("%s [%s] %s", icon, ts.Format("15:04:05"), n.Title)
	if colorEnabled {
		header = c.Sprint(header)
	}
	if n.Message == "" {
		return header
	}
	return header + "\n" + n.Message
}
