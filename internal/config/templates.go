package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# algotrader configuration

[gateway]
# Backend base URL (run "algotrader serve" for the self-hosted backend)
base_url = "http://localhost:8080"
app_id = "algotrader"
# LLM-backed calls can take a while
timeout = "90s"
# Consecutive failures before the client stops calling the backend
failure_threshold = 5
cooldown_period = "30s"

[workflow]
# 1 runs batch backtests strictly one strategy at a time
batch_concurrency = 1
default_capital = 10000.0
default_symbols = ["SPY"]
default_lookback = "8760h"

[polling]
market_data_interval = "60s"
funding_interval = "30s"
# Delay before refetching after a transfer or bank link
settle_delay = "2s"
redirect_delay = "2s"
market_data_retries = 2

[security]
# Blocks orders, transfers and account creation
read_only_mode = false
audit_enabled = true

[notifications]
enabled = false
# all, workflows_only, errors_only
level = "all"

[notifications.webhook]
enabled = false
url = ""

[notifications.email]
enabled = false
smtp_host = "smtp.gmail.com"
smtp_port = 587
username = ""
password = ""
from = ""
to = ""

[notifications.kafka]
enabled = false
brokers = ["localhost:9092"]
topic = "algotrader-events"

[server]
addr = ":8080"
mode = "release"
llm_model = "gpt-4o-mini"
token_ttl = "24h"

[logging]
level = "info"
file = true

[ui]
color_enabled = true
date_format = "2006-01-02"
`

const credentialsTemplate = `# algotrader credentials
# Keep this file private (chmod 600)

[gateway]
# Bearer token, written by "algotrader login"
token = ""

[openai]
api_key = ""

[alpaca]
api_key = ""
api_secret = ""
paper = true
broker_key = ""
broker_secret = ""
broker_base_url = "https://broker-api.sandbox.alpaca.markets"
feed = "iex"

[smtp]
smtp_host = ""
smtp_port = 587
username = ""
password = ""
from = ""

[auth]
jwt_secret = ""
admin_email = ""
admin_password = ""
`

func createTemplate(configDir, name, content string) error {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	perm := os.FileMode(0644)
	if name == "credentials.toml" {
		perm = 0600
	}
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		return fmt.Errorf("writing %s template: %w", name, err)
	}
	return nil
}

// SaveToken stores the gateway bearer token in credentials.toml.
func SaveToken(configDir, token string) error {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	if err := createTemplate(configDir, "credentials.toml", credentialsTemplate); err != nil {
		return err
	}

	v := newCredentialsViper(configDir)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading credentials: %w", err)
	}
	v.Set("gateway.token", token)
	return v.WriteConfig()
}
