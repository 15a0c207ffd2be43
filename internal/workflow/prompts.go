package workflow

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

var prompts = template.Must(template.New("prompts").Funcs(template.FuncMap{
	"join":  strings.Join,
	"money": func(v float64) string { return fmt.Sprintf("$%.2f", v) },
}).Parse(`
{{define "backtest"}}You are a quantitative analyst. Simulate a realistic backtest of this trading strategy on historical data.

Strategy: {{.Strategy.Name}}
Type: {{.Strategy.StrategyType}}
Timeframe: {{.Strategy.Timeframe}}
{{- with .Strategy.Indicators}}
Indicators: {{join . ", "}}{{end}}
Entry: {{.Strategy.Rules.EntryConditions}}
Exit: {{.Strategy.Rules.ExitConditions}}
{{- if .Strategy.Rules.RiskPerTrade}}
Risk per trade: {{.Strategy.Rules.RiskPerTrade}}%{{end}}

Test on {{join .Symbols ", "}} from {{.Start}} to {{.End}} with {{money .Capital}} initial capital.

Keep the results realistic:
- Return between -20% and +50%
- Max drawdown between -5% and -35%
- Win rate between 45% and 65%
- Sharpe ratio between 0.5 and 2.5
- An equity curve in chronological order and a log of every trade{{end}}

{{define "signal"}}You are a trading algorithm. Generate a realistic trading signal based on this strategy:

Strategy: {{.Name}}
Type: {{.StrategyType}}
Timeframe: {{.Timeframe}}
{{- with .AssetTypes}}
Asset Types: {{range $i, $a := .}}{{if $i}}, {{end}}{{$a}}{{end}}{{end}}
{{- with .Indicators}}
Indicators: {{join . ", "}}{{end}}
Entry Rules: {{.Rules.EntryConditions}}

Pick a specific instrument and give the current market price, an entry price, a stop loss, a take profit, a quantity, a confidence level from 0 to 100 and a rationale tied to the strategy rules.{{end}}

{{define "discovery"}}You are an expert algorithmic trading researcher. Design {{.Count}} novel trading strategies.

Analysis Focus: {{.AnalysisType}}
Asset Class: {{.FocusArea}}
Risk Tolerance: {{.RiskTolerance}}
{{with .Insights}}
Historical Performance Data:
{{.}}
{{end}}
Each strategy must be unique, combine different indicators, vary the timeframe and give precise entry and exit conditions.
Match the risk tolerance: {{.RiskGuidance}}.

For each strategy give a name, description, strategy type, timeframe, 2-4 indicators, entry conditions, exit conditions, risk per trade (%), max position size, rationale, expected win rate (%) and expected Sharpe ratio.{{end}}
`))

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("rendering %s prompt: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func riskGuidance(tolerance string) string {
	switch tolerance {
	case "conservative":
		return "lower risk, tighter stops"
	case "aggressive":
		return "higher risk, wider stops"
	default:
		return "balanced approach"
	}
}
