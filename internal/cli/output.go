package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	apperrors "algotrader/internal/errors"
)

// Output handles formatted output for the CLI.
type Output struct {
	writer       io.Writer
	jsonMode     bool
	colorEnabled bool
}

// NewOutput creates a new Output instance.
func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	noColor, _ := cmd.Flags().GetBool("no-color")
	return &Output{
		writer:       cmd.OutOrStdout(),
		jsonMode:     jsonMode,
		colorEnabled: !jsonMode && !noColor && !color.NoColor && isTerminal(),
	}
}

// isTerminal checks if stdout is a terminal.
func isTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// IsJSON returns true if JSON output mode is enabled.
func (o *Output) IsJSON() bool {
	return o.jsonMode
}

// JSON outputs data as JSON.
func (o *Output) JSON(data interface{}) error {
	encoder := json.NewEncoder(o.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// Println prints a message with newline.
func (o *Output) Println(args ...interface{}) {
	fmt.Fprintln(o.writer, args...)
}

// Printf prints a formatted message.
func (o *Output) Printf(format string, args ...interface{}) {
	fmt.Fprintf(o.writer, format, args...)
}

func (o *Output) line(attr []color.Attribute, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(o.writer, o.paint(msg, attr...))
}

func (o *Output) paint(text string, attrs ...color.Attribute) string {
	if !o.colorEnabled || len(attrs) == 0 {
		return text
	}
	c := color.New(attrs...)
	c.EnableColor()
	return c.Sprint(text)
}

// Success prints a success message in green.
func (o *Output) Success(format string, args ...interface{}) {
	o.line([]color.Attribute{color.FgGreen}, format, args...)
}

// Error prints an error message in red.
func (o *Output) Error(format string, args ...interface{}) {
	o.line([]color.Attribute{color.FgRed}, format, args...)
}

// Warning prints a warning message in yellow.
func (o *Output) Warning(format string, args ...interface{}) {
	o.line([]color.Attribute{color.FgYellow}, format, args...)
}

// Info prints an info message in cyan.
func (o *Output) Info(format string, args ...interface{}) {
	o.line([]color.Attribute{color.FgCyan}, format, args...)
}

// Bold prints a bold message.
func (o *Output) Bold(format string, args ...interface{}) {
	o.line([]color.Attribute{color.Bold}, format, args...)
}

// Dim prints a dimmed message.
func (o *Output) Dim(format string, args ...interface{}) {
	o.line([]color.Attribute{color.Faint}, format, args...)
}

// Green returns green colored text.
func (o *Output) Green(text string) string { return o.paint(text, color.FgGreen) }

// Red returns red colored text.
func (o *Output) Red(text string) string { return o.paint(text, color.FgRed) }

// Yellow returns yellow colored text.
func (o *Output) Yellow(text string) string { return o.paint(text, color.FgYellow) }

// Cyan returns cyan colored text.
func (o *Output) Cyan(text string) string { return o.paint(text, color.FgCyan) }

// DimText returns dimmed text.
func (o *Output) DimText(text string) string { return o.paint(text, color.Faint) }

// Signed colors a formatted value by the sign of v.
func (o *Output) Signed(v float64, text string) string {
	switch {
	case v > 0:
		return o.Green(text)
	case v < 0:
		return o.Red(text)
	}
	return text
}

// Status colors a brokerage or record status.
func (o *Output) Status(status string) string {
	switch strings.ToUpper(status) {
	case "APPROVED", "ACTIVE", "COMPLETE", "COMPLETED", "FILLED", "EXECUTED", "SUCCEEDED", "OPEN":
		return o.Green(status)
	case "PENDING", "QUEUED", "SUBMITTED", "NEW", "ACCEPTED", "PARTIALLY_FILLED":
		return o.Yellow(status)
	case "REJECTED", "CANCELLED", "CANCELED", "RETURNED", "FAILED", "ACTION_REQUIRED":
		return o.Red(status)
	}
	return status
}

// Banner prints an error banner the way the views show it.
func (o *Output) Banner(b *apperrors.Banner) {
	if b == nil {
		return
	}
	prefix := "!"
	if b.Fatal {
		prefix = "x"
	}
	o.Error("%s %s", prefix, b.Message)
}

// Table represents a simple table for output.
type Table struct {
	headers []string
	rows    [][]string
	output  *Output
}

// NewTable creates a new table.
func NewTable(output *Output, headers ...string) *Table {
	return &Table{headers: headers, output: output}
}

// AddRow adds a row to the table.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Render renders the table.
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = visibleLen(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && visibleLen(cell) > widths[i] {
				widths[i] = visibleLen(cell)
			}
		}
	}

	t.printRow(t.headers, widths, true)
	var sep []string
	for _, w := range widths {
		sep = append(sep, strings.Repeat("-", w))
	}
	t.output.Println(t.output.DimText(strings.Join(sep, "  ")))
	for _, row := range t.rows {
		t.printRow(row, widths, false)
	}
}

func (t *Table) printRow(cells []string, widths []int, isHeader bool) {
	parts := make([]string, 0, len(cells))
	for i, cell := range cells {
		if i >= len(widths) {
			break
		}
		padded := cell + strings.Repeat(" ", max(widths[i]-visibleLen(cell), 0))
		if isHeader {
			padded = t.output.paint(padded, color.Bold)
		}
		parts = append(parts, padded)
	}
	t.output.Println(strings.TrimRight(strings.Join(parts, "  "), " "))
}

// visibleLen is the printed width of s, ignoring ANSI escapes.
func visibleLen(s string) int {
	n := 0
	inEscape := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			inEscape = true
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		default:
			n++
		}
	}
	return n
}

// Box draws a box around content.
func (o *Output) Box(title string, content []string) {
	width := utf8.RuneCountInString(title)
	for _, line := range content {
		width = max(width, visibleLen(line))
	}
	border := "+" + strings.Repeat("-", width+2) + "+"

	o.Println(o.DimText(border))
	o.Printf("%s %s%s %s\n", o.DimText("|"), o.paint(title, color.Bold), strings.Repeat(" ", width-utf8.RuneCountInString(title)), o.DimText("|"))
	o.Println(o.DimText(border))
	for _, line := range content {
		o.Printf("%s %s%s %s\n", o.DimText("|"), line, strings.Repeat(" ", width-visibleLen(line)), o.DimText("|"))
	}
	o.Println(o.DimText(border))
}

// Progress prints a progress indicator.
func (o *Output) Progress(current, total int, message string) {
	if total <= 0 || o.jsonMode {
		return
	}
	const barWidth = 24
	filled := barWidth * current / total
	bar := strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled)
	o.Printf("\r[%s] %d/%d %s", bar, current, total, truncate(message, 40))
	if current == total {
		o.Println()
	}
}
