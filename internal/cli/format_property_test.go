package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

func TestProperty_Truncate(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())
	properties := gopter.NewProperties(parameters)

	properties.Property("truncate never exceeds the limit", prop.ForAll(
		func(s string, n int) bool {
			return utf8.RuneCountInString(truncate(s, n)) <= n
		},
		gen.AnyString(),
		gen.IntRange(0, 60),
	))

	properties.Property("truncate keeps short strings intact", prop.ForAll(
		func(s string) bool {
			return truncate(s, utf8.RuneCountInString(s)) == s
		},
		gen.AlphaString(),
	))

	properties.Property("cut strings end in an ellipsis and keep their prefix", prop.ForAll(
		func(s string, n int) bool {
			if utf8.RuneCountInString(s) <= n {
				return true
			}
			out := truncate(s, n)
			return strings.HasSuffix(out, "...") && strings.HasPrefix(s, strings.TrimSuffix(out, "..."))
		},
		gen.AlphaString(),
		gen.IntRange(4, 20),
	))

	properties.TestingRun(t)
}

func TestProperty_ParseAmountRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())
	properties := gopter.NewProperties(parameters)

	properties.Property("formatted money parses back to the same cents", prop.ForAll(
		func(cents int64) bool {
			want := decimal.New(cents, -2)
			got, err := parseAmount(FormatMoney(want))
			if err != nil {
				t.Logf("parseAmount(%s): %v", FormatMoney(want), err)
				return false
			}
			return got.Equal(want)
		},
		gen.Int64Range(0, 1e11),
	))

	properties.TestingRun(t)
}

func TestProperty_FormatVolumeUnits(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())
	properties := gopter.NewProperties(parameters)

	properties.Property("FormatVolume picks the unit by magnitude", prop.ForAll(
		func(volume float64) bool {
			out := FormatVolume(volume)
			switch {
			case volume >= 1e9:
				return strings.HasSuffix(out, "B")
			case volume >= 1e6:
				return strings.HasSuffix(out, "M")
			case volume >= 1e3:
				return strings.HasSuffix(out, "K")
			}
			return !strings.ContainsAny(out, "KMB")
		},
		gen.Float64Range(0, 1e11),
	))

	properties.TestingRun(t)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"100", "100", false},
		{"$1,250.50", "1250.5", false},
		{" 42.00 ", "42", false},
		{"ten", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := parseAmount(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseAmount(%q) err = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && got.String() != tt.want {
			t.Errorf("parseAmount(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestFormatters(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{FormatPrice(189.5), "$189.50"},
		{FormatPrice(0.1234), "0.1234"},
		{FormatChange(2.5, 1.25), "+2.50 (+1.25%)"},
		{FormatChange(-1, -0.5), "-1.00 (-0.50%)"},
		{FormatConfidence(72.4), "72%"},
		{FormatDuration(1500 * time.Millisecond), "1.5s"},
		{FormatDuration(90 * time.Minute), "1h 30m"},
		{FormatDate(nil, ""), "-"},
		{orDash("  "), "-"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestTableRender(t *testing.T) {
	var buf bytes.Buffer
	out := &Output{writer: &buf}
	table := NewTable(out, "SYMBOL", "PRICE")
	table.AddRow("AAPL", "$189.50")
	table.AddRow("BTC-USD", "$64,000.00")
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %q", lines)
	}
	if lines[0] != "SYMBOL   PRICE" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[3] != "BTC-USD  $64,000.00" {
		t.Errorf("row = %q", lines[3])
	}
	if visibleLen("\x1b[32mgreen\x1b[0m") != 5 {
		t.Error("visibleLen counts escape sequences")
	}
}
