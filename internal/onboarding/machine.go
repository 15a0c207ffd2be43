// Package onboarding drives the brokerage account-opening flow: check the
// remote account status, collect personal information and disclosures,
// submit, then hand over to funding.
package onboarding

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/gateway"
	"algotrader/internal/logging"
	"algotrader/internal/models"
	"algotrader/internal/poller"
	"algotrader/internal/security"
)

// Phase is one node of the onboarding state machine. The three sub-steps
// of NO_ACCOUNT are phases of their own.
type Phase string

const (
	PhaseCheckingStatus Phase = "CHECKING_STATUS"
	PhasePersonalInfo   Phase = "PERSONAL_INFO"
	PhaseDisclosures    Phase = "DISCLOSURES"
	PhaseSubmitted      Phase = "SUBMITTED"
	PhasePending        Phase = "PENDING"
	PhaseApprovedActive Phase = "APPROVED_ACTIVE"
)

// State is the top-level account state.
type State string

const (
	StateCheckingStatus State = "CHECKING_STATUS"
	StateNoAccount      State = "NO_ACCOUNT"
	StatePending        State = "PENDING"
	StateApprovedActive State = "APPROVED_ACTIVE"
)

// Redirect names the view the flow hands over to.
type Redirect string

const (
	RedirectNone        Redirect = ""
	RedirectLiveTrading Redirect = "live_trading"
	RedirectFunding     Redirect = "funding"
)

type event string

const (
	evCheck        event = "check"
	evNoAccount    event = "no_account"
	evPending      event = "pending"
	evApproved     event = "approved"
	evPersonalInfo event = "personal_info"
	evBack         event = "back"
	evSubmitted    event = "submitted"
)

// transitions lists every legal move. Re-checking the status is legal from
// anywhere and is added in init.
var transitions = map[Phase]map[event]Phase{
	PhaseCheckingStatus: {
		evNoAccount: PhasePersonalInfo,
		evPending:   PhasePending,
		evApproved:  PhaseApprovedActive,
	},
	PhasePersonalInfo: {
		evPersonalInfo: PhaseDisclosures,
	},
	PhaseDisclosures: {
		evBack:      PhasePersonalInfo,
		evSubmitted: PhaseSubmitted,
	},
	PhaseSubmitted:      {},
	PhasePending:        {},
	PhaseApprovedActive: {},
}

func init() {
	for _, moves := range transitions {
		moves[evCheck] = PhaseCheckingStatus
	}
}

// DefaultRedirectDelay is how long the submitted confirmation shows before
// the flow moves on to funding.
const DefaultRedirectDelay = 2 * time.Second

// Options configures a Machine.
type Options struct {
	RedirectDelay time.Duration
	Clock         poller.Clock
	Access        *security.AccessController
}

// View is a snapshot of the machine for rendering.
type View struct {
	State    State             `json:"state"`
	Phase    Phase             `json:"phase"`
	Status   string            `json:"status,omitempty"`
	Banner   *apperrors.Banner `json:"banner,omitempty"`
	Redirect Redirect          `json:"redirect,omitempty"`
	Account  *CreatedAccount   `json:"account,omitempty"`
	Personal *PersonalInfo     `json:"-"`
}

// CreatedAccount is the createAccount response.
type CreatedAccount struct {
	AccountID     string `json:"account_id"`
	AccountNumber string `json:"account_number,omitempty"`
	Status        string `json:"status"`
}

// Machine is the onboarding state machine. It is safe for concurrent use.
type Machine struct {
	fns  gateway.Functions
	opts Options

	mu        sync.Mutex
	phase     Phase
	status    models.AccountStatus
	personal  *PersonalInfo
	account   *CreatedAccount
	banner    *apperrors.Banner
	redirect  Redirect
	history   []Phase
	redirects chan Redirect
	tasks     poller.Group
}

// New creates a machine in CHECKING_STATUS. Call Enter to run the status
// check.
func New(fns gateway.Functions, opts Options) *Machine {
	if opts.RedirectDelay <= 0 {
		opts.RedirectDelay = DefaultRedirectDelay
	}
	if opts.Clock == nil {
		opts.Clock = poller.RealClock()
	}
	return &Machine{
		fns:       fns,
		opts:      opts,
		phase:     PhaseCheckingStatus,
		history:   []Phase{PhaseCheckingStatus},
		redirects: make(chan Redirect, 1),
	}
}

// fire applies ev. The caller holds mu.
func (m *Machine) fire(ev event) error {
	next, ok := transitions[m.phase][ev]
	if !ok {
		return fmt.Errorf("%s on %s: %w", ev, m.phase, apperrors.ErrInvalidTransition)
	}
	m.phase = next
	m.history = append(m.history, next)
	return nil
}

func (m *Machine) setRedirect(r Redirect) {
	m.redirect = r
	select {
	case m.redirects <- r:
	default:
	}
}

// Enter queries the account status and routes the flow. It runs on every
// mount and never reuses an earlier answer. On failure the machine stays in
// CHECKING_STATUS with the error banner set.
func (m *Machine) Enter(ctx context.Context) error {
	m.tasks.CancelAll()

	m.mu.Lock()
	_ = m.fire(evCheck)
	m.redirect = RedirectNone
	m.mu.Unlock()

	logger := logging.FromContext(ctx)

	var status models.AccountStatus
	err := gateway.Call(ctx, m.fns, gateway.FnAlpacaBrokerage, gateway.ActionGetAccountStatus, nil, &status)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.banner = apperrors.BannerFor(err)
		logger.Warn().Err(err).Msg("Account status check failed")
		return err
	}

	m.status = status
	m.banner = nil
	switch {
	case !status.HasAccount:
		err = m.fire(evNoAccount)
	case status.Approved():
		err = m.fire(evApproved)
		m.setRedirect(RedirectLiveTrading)
	default:
		err = m.fire(evPending)
	}
	logger.Info().
		Bool("has_account", status.HasAccount).
		Str("status", status.Status).
		Str("phase", string(m.phase)).
		Msg("Account status checked")
	return err
}

// SubmitPersonalInfo validates info locally and advances to DISCLOSURES.
// No remote call is made.
func (m *Machine) SubmitPersonalInfo(info PersonalInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhasePersonalInfo {
		return fmt.Errorf("personal info on %s: %w", m.phase, apperrors.ErrInvalidTransition)
	}
	info = info.withDefaults()
	if err := validateStruct(info); err != nil {
		m.banner = apperrors.BannerFor(err)
		return err
	}

	m.personal = &info
	m.banner = nil
	return m.fire(evPersonalInfo)
}

// Back returns from DISCLOSURES to PERSONAL_INFO, keeping what was entered.
func (m *Machine) Back() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fire(evBack)
}

// SubmitDisclosures sends the single createAccount call with everything
// collected. On failure the machine stays in DISCLOSURES so the user can
// resubmit; nothing is retried automatically.
func (m *Machine) SubmitDisclosures(ctx context.Context, d Disclosures) error {
	m.mu.Lock()
	if m.phase != PhaseDisclosures || m.personal == nil {
		phase := m.phase
		m.mu.Unlock()
		return fmt.Errorf("disclosures on %s: %w", phase, apperrors.ErrInvalidTransition)
	}
	d = d.withDefaults()
	if err := validateStruct(d); err != nil {
		m.banner = apperrors.BannerFor(err)
		m.mu.Unlock()
		return err
	}
	payload := buildAccountPayload(*m.personal, d)
	m.mu.Unlock()

	logger := logging.FromContext(ctx)
	if err := m.opts.Access.CheckPermission(ctx, security.OpSubmitAccount); err != nil {
		m.setBanner(err)
		return err
	}

	var account CreatedAccount
	err := gateway.Call(ctx, m.fns, gateway.FnAlpacaBrokerage, gateway.ActionCreateAccount, payload, &account)
	if aerr := m.opts.Access.Audit().Record(ctx, security.AuditAccountSubmitted, payload, err); aerr != nil {
		logger.Warn().Err(aerr).Str("event", string(security.AuditAccountSubmitted)).Msg("Failed to write audit event")
	}
	if err != nil {
		m.setBanner(err)
		logger.Error().Err(err).Msg("Account submission failed")
		return err
	}

	m.mu.Lock()
	if err := m.fire(evSubmitted); err != nil {
		m.mu.Unlock()
		return err
	}
	m.account = &account
	m.banner = nil
	m.mu.Unlock()
	logger.Info().Str("account_status", account.Status).Msg("Brokerage account submitted")

	m.tasks.Add(poller.After(context.Background(), m.opts.RedirectDelay, func(ctx context.Context) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if ctx.Err() != nil || m.phase != PhaseSubmitted {
			return
		}
		m.setRedirect(RedirectFunding)
	}, poller.WithClock(m.opts.Clock), poller.Named("onboarding-redirect")))
	return nil
}

func (m *Machine) setBanner(err error) {
	m.mu.Lock()
	m.banner = apperrors.BannerFor(err)
	m.mu.Unlock()
}

// DismissError clears the banner.
func (m *Machine) DismissError() {
	m.mu.Lock()
	m.banner = nil
	m.mu.Unlock()
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// State returns the top-level state.
func (m *Machine) State() State {
	return stateOf(m.Phase())
}

func stateOf(p Phase) State {
	switch p {
	case PhasePersonalInfo, PhaseDisclosures, PhaseSubmitted:
		return StateNoAccount
	case PhasePending:
		return StatePending
	case PhaseApprovedActive:
		return StateApprovedActive
	default:
		return StateCheckingStatus
	}
}

// Banner returns the current error banner, or nil.
func (m *Machine) Banner() *apperrors.Banner {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.banner
}

// Redirect returns where the flow has handed over to, if anywhere.
func (m *Machine) Redirect() Redirect {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.redirect
}

// Redirects delivers the redirect once it is decided.
func (m *Machine) Redirects() <-chan Redirect {
	return m.redirects
}

// History returns every phase the machine has entered, in order.
func (m *Machine) History() []Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Phase(nil), m.history...)
}

// View returns a snapshot for rendering.
func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return View{
		State:    stateOf(m.phase),
		Phase:    m.phase,
		Status:   m.status.Status,
		Banner:   m.banner,
		Redirect: m.redirect,
		Account:  m.account,
		Personal: m.personal,
	}
}

// Close cancels the pending redirect timer.
func (m *Machine) Close() {
	m.tasks.Close()
}
