package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"algotrader/pkg/utils"
)

// FormatMoney formats a brokerage amount as dollars.
func FormatMoney(d decimal.Decimal) string {
	return utils.FormatCurrency(d.InexactFloat64())
}

// FormatPrice formats a quote price. Sub-dollar prices keep four decimals.
func FormatPrice(price float64) string {
	if price != 0 && price < 1 && price > -1 {
		return fmt.Sprintf("%.4f", price)
	}
	return utils.FormatCurrency(price)
}

// FormatChange formats a price change with its percentage.
func FormatChange(change, changePct float64) string {
	sign := ""
	if change > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f (%s)", sign, change, utils.FormatPercent(changePct))
}

// FormatVolume formats volume in compact form.
func FormatVolume(volume float64) string {
	switch {
	case volume >= 1e9:
		return fmt.Sprintf("%.2fB", volume/1e9)
	case volume >= 1e6:
		return fmt.Sprintf("%.2fM", volume/1e6)
	case volume >= 1e3:
		return fmt.Sprintf("%.2fK", volume/1e3)
	}
	return fmt.Sprintf("%.0f", volume)
}

// FormatConfidence formats a 0-100 confidence score.
func FormatConfidence(conf float64) string {
	return fmt.Sprintf("%.0f%%", conf)
}

// FormatDate formats an optional timestamp in local time. layout defaults
// to the ui.date_format setting.
func FormatDate(t *time.Time, layout string) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	if layout == "" {
		layout = "2006-01-02 15:04"
	}
	return t.Local().Format(layout)
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// truncate shortens s to at most n runes, ending in "..." when cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// orDash renders an empty value as "-".
func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// parseAmount parses a dollar amount typed on the command line.
func parseAmount(raw string) (decimal.Decimal, error) {
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(raw)
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}
