package models

// StrategyType classifies a strategy's approach.
type StrategyType string

const (
	StrategyMomentum       StrategyType = "momentum"
	StrategyMeanReversion  StrategyType = "mean_reversion"
	StrategyBreakout       StrategyType = "breakout"
	StrategyTrendFollowing StrategyType = "trend_following"
	StrategyVolatility     StrategyType = "volatility"
	StrategyCustom         StrategyType = "custom"
)

// Valid reports whether t is a known strategy type.
func (t StrategyType) Valid() bool {
	switch t {
	case StrategyMomentum, StrategyMeanReversion, StrategyBreakout,
		StrategyTrendFollowing, StrategyVolatility, StrategyCustom:
		return true
	}
	return false
}

// Timeframe is the bar interval a strategy trades on.
type Timeframe string

const (
	Timeframe1Min  Timeframe = "1min"
	Timeframe5Min  Timeframe = "5min"
	Timeframe15Min Timeframe = "15min"
	Timeframe1Hour Timeframe = "1hour"
	Timeframe4Hour Timeframe = "4hour"
	TimeframeDaily Timeframe = "daily"
	TimeframeWeek  Timeframe = "weekly"
)

// Valid reports whether tf is a known timeframe.
func (tf Timeframe) Valid() bool {
	switch tf {
	case Timeframe1Min, Timeframe5Min, Timeframe15Min, Timeframe1Hour,
		Timeframe4Hour, TimeframeDaily, TimeframeWeek:
		return true
	}
	return false
}

// Rules holds the free-text trading rules and sizing limits.
type Rules struct {
	EntryConditions string  `json:"entry_conditions" yaml:"entry_conditions"`
	ExitConditions  string  `json:"exit_conditions" yaml:"exit_conditions"`
	RiskPerTrade    float64 `json:"risk_per_trade,omitempty" yaml:"risk_per_trade,omitempty"`
	MaxPositionSize float64 `json:"max_position_size,omitempty" yaml:"max_position_size,omitempty"`
}

// Strategy is a user-defined or discovered trading strategy.
type Strategy struct {
	Meta         `yaml:",inline"`
	Name         string       `json:"name" yaml:"name"`
	Description  string       `json:"description,omitempty" yaml:"description,omitempty"`
	AssetTypes   []AssetType  `json:"asset_types,omitempty" yaml:"asset_types,omitempty"`
	StrategyType StrategyType `json:"strategy_type,omitempty" yaml:"strategy_type,omitempty"`
	Timeframe    Timeframe    `json:"timeframe,omitempty" yaml:"timeframe,omitempty"`
	Indicators   []string     `json:"indicators,omitempty" yaml:"indicators,omitempty"`
	Rules        Rules        `json:"rules" yaml:"rules"`
	IsActive     *bool        `json:"is_active,omitempty" yaml:"is_active,omitempty"`

	// Set on strategies produced by discovery.
	Discovered      bool    `json:"discovered,omitempty" yaml:"-"`
	Rationale       string  `json:"rationale,omitempty" yaml:"rationale,omitempty"`
	ExpectedWinRate float64 `json:"expected_win_rate,omitempty" yaml:"-"`
	ExpectedSharpe  float64 `json:"expected_sharpe,omitempty" yaml:"-"`
}

// Active reports whether the strategy takes part in batch runs. A strategy
// with no explicit flag counts as active.
func (s Strategy) Active() bool {
	return s.IsActive == nil || *s.IsActive
}

// SetActive sets the active flag.
func (s *Strategy) SetActive(active bool) {
	s.IsActive = &active
}

// HasRules reports whether both entry and exit conditions are present.
func (s Strategy) HasRules() bool {
	return s.Rules.EntryConditions != "" && s.Rules.ExitConditions != ""
}

// ActiveStrategies filters strategies down to the active ones, preserving order.
func ActiveStrategies(strategies []Strategy) []Strategy {
	active := make([]Strategy, 0, len(strategies))
	for _, s := range strategies {
		if s.Active() {
			active = append(active, s)
		}
	}
	return active
}
