package backtest

// ResultSchema is the response_json_schema sent with a backtest prompt.
func ResultSchema() map[string]any {
	num := map[string]any{"type": "number"}
	str := map[string]any{"type": "string"}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"total_trades":   num,
			"winning_trades": num,
			"losing_trades":  num,
			"final_capital":  num,
			"total_return":   num,
			"win_rate":       num,
			"avg_win":        num,
			"avg_loss":       num,
			"max_drawdown":   num,
			"sharpe_ratio":   num,
			"profit_factor":  num,
			"equity_curve": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"date":   str,
						"equity": num,
					},
				},
			},
			"trade_log": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"symbol":         str,
						"entry_date":     str,
						"exit_date":      str,
						"action":         str,
						"entry_price":    num,
						"exit_price":     num,
						"quantity":       num,
						"pnl":            num,
						"pnl_percentage": num,
						"reason":         str,
					},
				},
			},
		},
		"required": []string{
			"total_trades", "winning_trades", "losing_trades", "final_capital",
			"total_return", "win_rate", "sharpe_ratio", "profit_factor",
		},
	}
}
