package funding

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/gateway"
	"algotrader/internal/logging"
	"algotrader/internal/models"
	"algotrader/internal/poller"
	"algotrader/internal/security"
)

// fakeBroker is an in-memory brokerage behind the alpacaBrokerage function.
type fakeBroker struct {
	mu        sync.Mutex
	rels      []models.ACHRelationship
	transfers []map[string]any
	failLoad  bool
	lastLink  map[string]any
}

func (b *fakeBroker) handle(_ context.Context, p map[string]any) (any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch p["action"] {
	case gateway.ActionGetACHRelationships:
		if b.failLoad {
			return map[string]any{"success": false, "error": "Broker API unavailable"}, nil
		}
		return map[string]any{"success": true, "data": b.rels}, nil
	case gateway.ActionGetTransfers:
		return map[string]any{"success": true, "data": b.transfers}, nil
	case gateway.ActionCreateTransfer:
		t := map[string]any{
			"id":              "tr-1",
			"relationship_id": p["relationship_id"],
			"amount":          p["amount"],
			"direction":       p["direction"],
			"status":          models.StatusQueued,
		}
		b.transfers = append(b.transfers, t)
		return map[string]any{"success": true, "data": t}, nil
	case gateway.ActionCreateACHRelationship:
		b.lastLink = p
		rel := models.ACHRelationship{ID: "rel-new", Status: models.StatusQueued, Nickname: p["nickname"].(string)}
		b.rels = append(b.rels, rel)
		return map[string]any{"success": true, "data": rel}, nil
	case gateway.ActionDeleteACHRelationship:
		id := p["relationship_id"]
		kept := b.rels[:0]
		for _, r := range b.rels {
			if r.ID != id {
				kept = append(kept, r)
			}
		}
		b.rels = kept
		return map[string]any{"success": true}, nil
	}
	return map[string]any{"success": false, "error": "unknown action"}, nil
}

func (b *fakeBroker) setFailLoad(v bool) {
	b.mu.Lock()
	b.failLoad = v
	b.mu.Unlock()
}

func newFixture(t *testing.T, opts Options) (*Service, *gateway.Memory, *fakeBroker) {
	t.Helper()
	broker := &fakeBroker{rels: []models.ACHRelationship{
		{ID: "rel-ok", Status: models.StatusApproved, Nickname: "Main"},
		{ID: "rel-wait", Status: models.StatusQueued, Nickname: "Savings"},
	}}
	mem := gateway.NewMemory()
	mem.HandleFunction(gateway.FnAlpacaBrokerage, broker.handle)
	svc := New(mem, opts)
	t.Cleanup(svc.Close)
	return svc, mem, broker
}

func countCalls(mem *gateway.Memory, call string) int {
	n := 0
	for _, c := range mem.Invocations() {
		if c == call {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLoad_KeepsLastGoodSnapshot(t *testing.T) {
	svc, _, broker := newFixture(t, Options{})
	ctx := context.Background()

	if err := svc.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !svc.CanTransfer() {
		t.Fatal("CanTransfer = false with an approved relationship")
	}

	broker.setFailLoad(true)
	if err := svc.Load(ctx); err == nil {
		t.Fatal("expected load error")
	}
	if got := len(svc.Snapshot().Relationships); got != 2 {
		t.Errorf("relationships = %d after failed load, want 2", got)
	}
	if svc.Banner() == nil {
		t.Error("banner not set after failed load")
	}

	broker.setFailLoad(false)
	if err := svc.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if svc.Banner() != nil {
		t.Error("banner not cleared by a good load")
	}
}

func TestCanTransfer_RequiresApprovedRelationship(t *testing.T) {
	svc, _, broker := newFixture(t, Options{})
	broker.rels = []models.ACHRelationship{{ID: "rel-wait", Status: models.StatusQueued}}

	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if svc.CanTransfer() {
		t.Error("CanTransfer = true without an approved relationship")
	}
}

func TestTransfer_Validation(t *testing.T) {
	tests := []struct {
		name  string
		req   TransferRequest
		field string
	}{
		{"zero amount", TransferRequest{RelationshipID: "rel-ok", Amount: decimal.Zero, Direction: models.Incoming}, "amount"},
		{"negative amount", TransferRequest{RelationshipID: "rel-ok", Amount: decimal.NewFromInt(-5), Direction: models.Incoming}, "amount"},
		{"bad direction", TransferRequest{RelationshipID: "rel-ok", Amount: decimal.NewFromInt(5), Direction: "SIDEWAYS"}, "direction"},
		{"unapproved relationship", TransferRequest{RelationshipID: "rel-wait", Amount: decimal.NewFromInt(5), Direction: models.Incoming}, "relationship_id"},
		{"unknown relationship", TransferRequest{RelationshipID: "nope", Amount: decimal.NewFromInt(5), Direction: models.Outgoing}, "relationship_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, mem, _ := newFixture(t, Options{})
			if err := svc.Load(context.Background()); err != nil {
				t.Fatalf("Load: %v", err)
			}

			_, err := svc.Transfer(context.Background(), tt.req)
			var ve *apperrors.ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Fatalf("err = %v, want ValidationError on %s", err, tt.field)
			}
			if countCalls(mem, "alpacaBrokerage.createTransfer") != 0 {
				t.Error("createTransfer called for an invalid request")
			}
		})
	}
}

func TestTransfer_SuccessMessageAndSettleRefetch(t *testing.T) {
	clock := poller.NewFakeClock(time.Unix(0, 0))
	svc, mem, _ := newFixture(t, Options{Clock: clock})
	ctx := context.Background()
	if err := svc.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	amount, _ := decimal.NewFromString("250.5")
	tr, err := svc.Transfer(ctx, TransferRequest{RelationshipID: "rel-ok", Amount: amount, Direction: models.Incoming})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if tr.Status != models.StatusQueued || !tr.Amount.Equal(amount) {
		t.Errorf("transfer = %+v", tr)
	}
	want := "Deposit of $250.50 initiated successfully! Status: QUEUED"
	if svc.Message() != want {
		t.Errorf("Message = %q, want %q", svc.Message(), want)
	}

	loads := countCalls(mem, "alpacaBrokerage.getTransfers")
	clock.BlockUntil(1)
	clock.Advance(DefaultSettleDelay)
	waitFor(t, "settle refetch", func() bool {
		return len(svc.Snapshot().Transfers) == 1
	})
	if got := countCalls(mem, "alpacaBrokerage.getTransfers"); got != loads+1 {
		t.Errorf("getTransfers calls = %d, want %d", got, loads+1)
	}
}

func TestTransfer_WithdrawalLabel(t *testing.T) {
	svc, _, _ := newFixture(t, Options{Clock: poller.NewFakeClock(time.Unix(0, 0))})
	ctx := context.Background()
	_ = svc.Load(ctx)

	if _, err := svc.Transfer(ctx, TransferRequest{RelationshipID: "rel-ok", Amount: decimal.NewFromInt(40), Direction: models.Outgoing}); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if want := "Withdrawal of $40.00 initiated successfully! Status: QUEUED"; svc.Message() != want {
		t.Errorf("Message = %q, want %q", svc.Message(), want)
	}
}

func TestTransfer_ReadOnlyBlocked(t *testing.T) {
	svc, mem, _ := newFixture(t, Options{Access: security.NewAccessController(true, nil)})
	ctx := context.Background()
	_ = svc.Load(ctx)

	_, err := svc.Transfer(ctx, TransferRequest{RelationshipID: "rel-ok", Amount: decimal.NewFromInt(10), Direction: models.Incoming})
	if !errors.Is(err, apperrors.ErrReadOnlyMode) {
		t.Fatalf("err = %v, want ErrReadOnlyMode", err)
	}
	if countCalls(mem, "alpacaBrokerage.createTransfer") != 0 {
		t.Error("createTransfer called in read-only mode")
	}
}

type brokenAudit struct{}

func (brokenAudit) Write([]byte) (int, error) { return 0, errors.New("disk full") }
func (brokenAudit) Close() error              { return nil }

func TestAuditFailureIsLoggedNotFatal(t *testing.T) {
	access := security.NewAccessController(false, security.NewAuditLoggerWithWriter(brokenAudit{}))
	svc, _, _ := newFixture(t, Options{Access: access, Clock: poller.NewFakeClock(time.Unix(0, 0))})

	var logs bytes.Buffer
	ctx := logging.WithLogger(context.Background(), zerolog.New(&logs))
	if err := svc.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, err := svc.Transfer(ctx, TransferRequest{RelationshipID: "rel-ok", Amount: decimal.NewFromInt(25), Direction: models.Incoming}); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if err := svc.UnlinkBank(ctx, "rel-wait"); err != nil {
		t.Fatalf("UnlinkBank: %v", err)
	}

	out := logs.String()
	for _, event := range []security.AuditEventType{security.AuditTransferCreated, security.AuditBankUnlinked} {
		if !strings.Contains(out, `"event":"`+string(event)+`"`) {
			t.Errorf("no audit warning for %s in %s", event, out)
		}
	}
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, "Failed to write audit event") {
		t.Errorf("logs = %s", out)
	}
}

func TestLinkBank_DefaultsAndDelayedRefetch(t *testing.T) {
	clock := poller.NewFakeClock(time.Unix(0, 0))
	svc, _, broker := newFixture(t, Options{Clock: clock})
	ctx := context.Background()
	_ = svc.Load(ctx)

	_, err := svc.LinkBank(ctx, BankLink{
		AccountOwnerName:  "Ada Lovelace",
		BankAccountNumber: "000123456789",
		BankRoutingNumber: "121000358",
		Nickname:          "Payroll",
	})
	if err != nil {
		t.Fatalf("LinkBank: %v", err)
	}
	if broker.lastLink["bank_account_type"] != "CHECKING" {
		t.Errorf("bank_account_type = %v, want CHECKING", broker.lastLink["bank_account_type"])
	}
	if got := len(svc.Snapshot().Relationships); got != 2 {
		t.Fatalf("relationships = %d before settle, want 2", got)
	}

	clock.BlockUntil(1)
	clock.Advance(DefaultSettleDelay)
	waitFor(t, "link refetch", func() bool {
		return len(svc.Snapshot().Relationships) == 3
	})
}

func TestLinkBank_Validation(t *testing.T) {
	tests := []struct {
		name  string
		link  BankLink
		field string
	}{
		{"missing owner", BankLink{BankAccountNumber: "1234567", BankRoutingNumber: "121000358", Nickname: "x"}, "account_owner_name"},
		{"short routing", BankLink{AccountOwnerName: "A", BankAccountNumber: "1234567", BankRoutingNumber: "1210", Nickname: "x"}, "bank_routing_number"},
		{"bad type", BankLink{AccountOwnerName: "A", BankAccountType: "BROKERAGE", BankAccountNumber: "1234567", BankRoutingNumber: "121000358", Nickname: "x"}, "bank_account_type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, mem, _ := newFixture(t, Options{})
			_, err := svc.LinkBank(context.Background(), tt.link)
			var ve *apperrors.ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Fatalf("err = %v, want ValidationError on %s", err, tt.field)
			}
			if countCalls(mem, "alpacaBrokerage.createACHRelationship") != 0 {
				t.Error("createACHRelationship called for an invalid form")
			}
		})
	}
}

func TestUnlinkBank_RefetchesImmediately(t *testing.T) {
	svc, _, _ := newFixture(t, Options{})
	ctx := context.Background()
	_ = svc.Load(ctx)

	if err := svc.UnlinkBank(ctx, "rel-ok"); err != nil {
		t.Fatalf("UnlinkBank: %v", err)
	}
	if svc.CanTransfer() {
		t.Error("approved relationship still listed after unlink")
	}
}

func TestWatch_PollsUntilClosed(t *testing.T) {
	clock := poller.NewFakeClock(time.Unix(0, 0))
	svc, mem, _ := newFixture(t, Options{Clock: clock})

	h := svc.Watch(context.Background(), 0)
	for i := 0; i < 2; i++ {
		clock.BlockUntil(1)
		clock.Advance(DefaultPollInterval)
	}
	clock.BlockUntil(1)

	if got := countCalls(mem, "alpacaBrokerage.getACHRelationships"); got != 2 {
		t.Errorf("loads = %d, want 2", got)
	}

	svc.Close()
	select {
	case <-h.Done():
	default:
		t.Fatal("poll still running after Close")
	}
	clock.Advance(time.Hour)
	if got := countCalls(mem, "alpacaBrokerage.getACHRelationships"); got != 2 {
		t.Errorf("loads = %d after Close, want 2", got)
	}
}
