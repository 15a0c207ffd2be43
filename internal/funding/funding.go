// Package funding lists linked bank accounts and transfers and moves money
// between a bank and the brokerage account.
package funding

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/gateway"
	"algotrader/internal/logging"
	"algotrader/internal/models"
	"algotrader/internal/notify"
	"algotrader/internal/poller"
	"algotrader/internal/security"
)

const (
	// DefaultSettleDelay is the wait before refetching after a write.
	DefaultSettleDelay = 2 * time.Second
	// DefaultPollInterval is how often Watch refreshes the snapshot.
	DefaultPollInterval = 30 * time.Second
	// TransferHistoryLimit bounds the getTransfers call.
	TransferHistoryLimit = 50
)

// Options configures a Service.
type Options struct {
	SettleDelay time.Duration
	Clock       poller.Clock
	Access      *security.AccessController
	Notifier    notify.Notifier
}

// Snapshot is the last successfully loaded funding state.
type Snapshot struct {
	Relationships []models.ACHRelationship `json:"relationships"`
	Transfers     []models.Transfer        `json:"transfers"`
	LoadedAt      time.Time                `json:"loaded_at"`
}

// Approved returns the relationships that can carry a transfer.
func (s Snapshot) Approved() []models.ACHRelationship {
	var out []models.ACHRelationship
	for _, r := range s.Relationships {
		if r.Status == models.StatusApproved {
			out = append(out, r)
		}
	}
	return out
}

// TransferRequest asks for a deposit or withdrawal.
type TransferRequest struct {
	RelationshipID string
	Amount         decimal.Decimal
	Direction      models.TransferDirection
}

// BankLink is the bank account form.
type BankLink struct {
	AccountOwnerName  string `json:"account_owner_name" validate:"required"`
	BankAccountType   string `json:"bank_account_type" validate:"oneof=CHECKING SAVINGS"`
	BankAccountNumber string `json:"bank_account_number" validate:"required,numeric,min=4,max=17"`
	BankRoutingNumber string `json:"bank_routing_number" validate:"required,numeric,len=9"`
	Nickname          string `json:"nickname" validate:"required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	return v
}

// Service is the funding view model. It is safe for concurrent use.
type Service struct {
	fns  gateway.Functions
	opts Options

	mu      sync.Mutex
	snap    Snapshot
	loaded  bool
	banner  *apperrors.Banner
	message string
	tasks   poller.Group
}

// New creates a Service. Call Load or Watch to populate it.
func New(fns gateway.Functions, opts Options) *Service {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.Clock == nil {
		opts.Clock = poller.RealClock()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewNoOpNotifier()
	}
	return &Service{fns: fns, opts: opts}
}

// Load fetches relationships and the transfer history. A failed load keeps
// the previous snapshot and sets the banner. A load whose context was
// cancelled while in flight is discarded.
func (s *Service) Load(ctx context.Context) error {
	var rels []models.ACHRelationship
	err := gateway.Call(ctx, s.fns, gateway.FnAlpacaBrokerage, gateway.ActionGetACHRelationships, nil, &rels)

	var transfers []models.Transfer
	if err == nil {
		err = gateway.Call(ctx, s.fns, gateway.FnAlpacaBrokerage, gateway.ActionGetTransfers,
			map[string]any{"limit": TransferHistoryLimit}, &transfers)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.banner = apperrors.BannerFor(err)
		logger := logging.FromContext(ctx)
		logger.Warn().Err(err).Msg("Funding data load failed")
		return err
	}
	s.snap = Snapshot{Relationships: rels, Transfers: transfers, LoadedAt: s.opts.Clock.Now()}
	s.loaded = true
	s.banner = nil
	return nil
}

// CanTransfer reports whether at least one relationship is approved.
func (s *Service) CanTransfer() bool {
	return len(s.Snapshot().Approved()) > 0
}

// Transfer validates req and creates the transfer. On success the message
// is set and a refetch is scheduled once the transfer had time to settle.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (*models.Transfer, error) {
	if err := s.validateTransfer(req); err != nil {
		s.setBanner(err)
		return nil, err
	}
	if err := s.opts.Access.CheckPermission(ctx, security.OpCreateTransfer); err != nil {
		s.setBanner(err)
		return nil, err
	}

	amount := req.Amount.StringFixed(2)
	params := map[string]any{
		"relationship_id": req.RelationshipID,
		"amount":          amount,
		"direction":       string(req.Direction),
	}

	var transfer models.Transfer
	err := gateway.Call(ctx, s.fns, gateway.FnAlpacaBrokerage, gateway.ActionCreateTransfer, params, &transfer)
	if aerr := s.opts.Access.Audit().Record(ctx, security.AuditTransferCreated, params, err); aerr != nil {
		logger := logging.FromContext(ctx)
		logger.Warn().Err(aerr).Str("event", string(security.AuditTransferCreated)).Msg("Failed to write audit event")
	}
	if err != nil {
		s.setBanner(err)
		return nil, err
	}
	if transfer.RelationshipID == "" {
		transfer.RelationshipID = req.RelationshipID
	}
	if transfer.Amount.IsZero() {
		transfer.Amount = req.Amount
	}
	if transfer.Direction == "" {
		transfer.Direction = req.Direction
	}

	logger := logging.FromContext(ctx)
	logging.LogTransfer(logger, string(req.Direction), amount, transfer.Status)
	if err := s.opts.Notifier.SendTransfer(ctx, &transfer); err != nil {
		logger.Warn().Err(err).Msg("Transfer notification failed")
	}

	s.mu.Lock()
	s.banner = nil
	s.message = fmt.Sprintf("%s of $%s initiated successfully! Status: %s", req.Direction.Label(), amount, transfer.Status)
	s.mu.Unlock()

	s.refetchLater(ctx)
	return &transfer, nil
}

func (s *Service) validateTransfer(req TransferRequest) error {
	if !req.Amount.IsPositive() {
		return apperrors.NewValidationError("amount", req.Amount.String(), "must be greater than zero")
	}
	if !req.Direction.Valid() {
		return apperrors.NewValidationError("direction", req.Direction, "must be INCOMING or OUTGOING")
	}
	for _, r := range s.Snapshot().Approved() {
		if r.ID == req.RelationshipID {
			return nil
		}
	}
	return &apperrors.ValidationError{
		Field:   "relationship_id",
		Value:   req.RelationshipID,
		Message: "must be an approved bank relationship",
		Err:     apperrors.ErrNoApprovedRelationship,
	}
}

// LinkBank creates an ACH relationship and refetches after the settle
// delay, since a new link is not listed right away.
func (s *Service) LinkBank(ctx context.Context, link BankLink) (*models.ACHRelationship, error) {
	if link.BankAccountType == "" {
		link.BankAccountType = "CHECKING"
	}
	if err := validate.Struct(link); err != nil {
		verr := bankLinkError(err)
		s.setBanner(verr)
		return nil, verr
	}
	if err := s.opts.Access.CheckPermission(ctx, security.OpLinkBank); err != nil {
		s.setBanner(err)
		return nil, err
	}

	params := map[string]any{
		"account_owner_name":  link.AccountOwnerName,
		"bank_account_type":   link.BankAccountType,
		"bank_account_number": link.BankAccountNumber,
		"bank_routing_number": link.BankRoutingNumber,
		"nickname":            link.Nickname,
	}

	var rel models.ACHRelationship
	err := gateway.Call(ctx, s.fns, gateway.FnAlpacaBrokerage, gateway.ActionCreateACHRelationship, params, &rel)
	if aerr := s.opts.Access.Audit().Record(ctx, security.AuditBankLinked, params, err); aerr != nil {
		logger := logging.FromContext(ctx)
		logger.Warn().Err(aerr).Str("event", string(security.AuditBankLinked)).Msg("Failed to write audit event")
	}
	if err != nil {
		s.setBanner(err)
		return nil, err
	}

	logger := logging.FromContext(ctx)
	logger.Info().
		Str("nickname", link.Nickname).
		Str("account", security.MaskAccountNumber(link.BankAccountNumber)).
		Msg("Bank account linked")

	s.mu.Lock()
	s.banner = nil
	s.message = "Bank account linked successfully!"
	s.mu.Unlock()

	s.refetchLater(ctx)
	return &rel, nil
}

func bankLinkError(err error) error {
	var verrs validator.ValidationErrors
	if apperrors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return apperrors.NewValidationError(fe.Field(), nil, fmt.Sprintf("failed %s check", fe.Tag()))
	}
	return apperrors.NewValidationError("bank_link", nil, err.Error())
}

// UnlinkBank removes a relationship and refetches at once.
func (s *Service) UnlinkBank(ctx context.Context, relationshipID string) error {
	if relationshipID == "" {
		return apperrors.NewValidationError("relationship_id", "", "is required")
	}
	if err := s.opts.Access.CheckPermission(ctx, security.OpUnlinkBank); err != nil {
		s.setBanner(err)
		return err
	}

	params := map[string]any{"relationship_id": relationshipID}
	err := gateway.Call(ctx, s.fns, gateway.FnAlpacaBrokerage, gateway.ActionDeleteACHRelationship, params, nil)
	if aerr := s.opts.Access.Audit().Record(ctx, security.AuditBankUnlinked, params, err); aerr != nil {
		logger := logging.FromContext(ctx)
		logger.Warn().Err(aerr).Str("event", string(security.AuditBankUnlinked)).Msg("Failed to write audit event")
	}
	if err != nil {
		s.setBanner(err)
		return err
	}
	return s.Load(ctx)
}

// refetchLater schedules a Load after the settle delay. The scheduled load
// keeps the caller's logger but not its deadline.
func (s *Service) refetchLater(ctx context.Context) {
	bg := logging.WithLogger(context.Background(), logging.FromContext(ctx))
	s.tasks.Add(poller.After(bg, s.opts.SettleDelay, func(ctx context.Context) {
		_ = s.Load(ctx)
	}, poller.WithClock(s.opts.Clock), poller.Named("funding-refetch")))
}

// Watch reloads the snapshot every interval until the handle is cancelled
// or the service is closed.
func (s *Service) Watch(ctx context.Context, interval time.Duration) *poller.Handle {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return s.tasks.Add(poller.Every(ctx, interval, func(ctx context.Context) {
		_ = s.Load(ctx)
	}, poller.WithClock(s.opts.Clock), poller.Named("funding-poll")))
}

// Snapshot returns the last good snapshot.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Loaded reports whether any load has succeeded.
func (s *Service) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Banner returns the current error banner, or nil.
func (s *Service) Banner() *apperrors.Banner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.banner
}

// Message returns the last success message.
func (s *Service) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

func (s *Service) setBanner(err error) {
	s.mu.Lock()
	s.banner = apperrors.BannerFor(err)
	s.message = ""
	s.mu.Unlock()
}

// DismissError clears the banner.
func (s *Service) DismissError() {
	s.mu.Lock()
	s.banner = nil
	s.mu.Unlock()
}

// Close cancels every scheduled refetch and poll.
func (s *Service) Close() {
	s.tasks.Close()
}
