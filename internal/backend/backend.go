// Package backend is the self-hosted implementation of the gateway contract:
// entity storage on gorm/sqlite, JWT authentication, the remote functions
// backed by Alpaca and SMTP, and an OpenAI-backed InvokeLLM.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/gateway"
)

// Options configures a Backend.
type Options struct {
	DatabasePath string
	JWTSecret    string
	TokenTTL     time.Duration
	Logger       zerolog.Logger
	Now          func() time.Time
}

// Backend bundles the stores and services behind the HTTP surface.
type Backend struct {
	db        *gorm.DB
	Entities  *EntityStore
	Auth      *Authenticator
	Functions *Registry
	LLM       *LLM
	logger    zerolog.Logger
}

// Open opens (and migrates) the backend database. Functions and the LLM
// are registered by the caller.
func Open(opts Options) (*Backend, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DatabasePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(opts.DatabasePath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(opts.DatabasePath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return opts.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opening backend database: %w", err)
	}
	if err := db.AutoMigrate(&entityRow{}, &userRow{}, &brokerageAccountRow{}); err != nil {
		return nil, fmt.Errorf("migrating backend database: %w", err)
	}

	log := opts.Logger.With().Str("component", "backend").Logger()
	return &Backend{
		db:        db,
		Entities:  NewEntityStore(db),
		Auth:      NewAuthenticator(db, opts.JWTSecret, opts.TokenTTL, opts.Now),
		Functions: NewRegistry(log),
		logger:    log,
	}, nil
}

// DB returns the underlying database handle.
func (b *Backend) DB() *gorm.DB {
	return b.db
}

// Close closes the database.
func (b *Backend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Services are the integrations behind the remote functions. A nil
// service leaves its function unregistered, so calls to it answer 404.
type Services struct {
	Trading    TradingAPI
	MarketData MarketDataAPI
	Broker     *BrokerClient
	Mailer     Mailer
	LLM        *LLM
}

// Install registers the functions of every configured service.
func (b *Backend) Install(s Services) {
	if s.Broker != nil {
		b.Functions.Register(gateway.FnAlpacaBrokerage, NewBrokerage(b.db, s.Broker).Function())
	}
	if s.Trading != nil {
		b.Functions.Register(gateway.FnAlpacaTrading, TradingFunction(s.Trading))
	}
	if s.MarketData != nil {
		b.Functions.Register(gateway.FnMarketData, MarketDataFunction(s.MarketData))
	}
	if s.Mailer != nil {
		b.Functions.Register(gateway.FnWelcomeEmail, WelcomeEmailFunction(s.Mailer))
	}
	b.LLM = s.LLM
	b.logger.Info().Strs("functions", b.Functions.Names()).Bool("llm", s.LLM != nil).Msg("Backend services installed")
}

// InvokeLLM serves the InvokeLLM integration.
func (b *Backend) InvokeLLM(ctx context.Context, req gateway.LLMRequest) (json.RawMessage, error) {
	if b.LLM == nil {
		return nil, apperrors.NewRemoteCallError("integrations/Core/InvokeLLM", 503, "no LLM configured", nil)
	}
	return b.LLM.Invoke(ctx, req)
}
