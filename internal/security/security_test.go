package security

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	apperrors "algotrader/internal/errors"
)

type bufferCloser struct {
	bytes.Buffer
}

func (b *bufferCloser) Close() error { return nil }

func TestAccessController_ReadOnlyBlocksWrites(t *testing.T) {
	buf := &bufferCloser{}
	audit := NewAuditLoggerWithWriter(buf)
	ac := NewAccessController(true, audit)

	for _, op := range WriteOperations() {
		err := ac.CheckPermission(context.Background(), op)
		if !apperrors.Is(err, apperrors.ErrReadOnlyMode) {
			t.Errorf("%s: err = %v, want ErrReadOnlyMode", op, err)
		}
	}
	if err := ac.CheckPermission(context.Background(), OpRead); err != nil {
		t.Errorf("read blocked: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != len(WriteOperations()) {
		t.Fatalf("audit lines = %d, want %d", len(lines), len(WriteOperations()))
	}
	var event AuditEvent
	if err := json.Unmarshal([]byte(lines[0]), &event); err != nil {
		t.Fatalf("audit line is not JSON: %v", err)
	}
	if event.EventType != AuditReadOnlyViolation || event.SessionID != audit.SessionID() {
		t.Errorf("event = %+v", event)
	}
}

func TestAccessController_WritableAndNil(t *testing.T) {
	var nilController *AccessController
	if err := nilController.CheckPermission(context.Background(), OpPlaceOrder); err != nil {
		t.Errorf("nil controller blocked: %v", err)
	}

	ac := NewAccessController(false, nil)
	if err := ac.CheckPermission(context.Background(), OpCreateTransfer); err != nil {
		t.Errorf("writable controller blocked: %v", err)
	}
	ac.SetReadOnly(true)
	if err := ac.CheckPermission(context.Background(), OpCreateTransfer); err == nil {
		t.Error("expected block after SetReadOnly(true)")
	}
}

func TestAuditLogger_MasksDetails(t *testing.T) {
	buf := &bufferCloser{}
	audit := NewAuditLoggerWithWriter(buf)
	audit.SetUserID("user-1")

	err := audit.Record(context.Background(), AuditBankLinked, map[string]interface{}{
		"bank_account_number": "000123456789",
		"nickname":            "Main",
	}, nil)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	out := buf.String()
	if strings.Contains(out, "000123456789") {
		t.Errorf("account number leaked: %s", out)
	}
	if !strings.Contains(out, "********6789") || !strings.Contains(out, `"user_id":"user-1"`) {
		t.Errorf("unexpected audit line: %s", out)
	}
}

func TestMaskHelpers(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"empty credential", MaskCredential(""), ""},
		{"short credential", MaskCredential("abc"), "***"},
		{"medium credential", MaskCredential("abcdefg"), "ab*****"},
		{"long credential", MaskCredential("abcd1234wxyz"), "abcd****wxyz"},
		{"account number", MaskAccountNumber("123456789"), "*****6789"},
		{"tax id in text", MaskSensitive("ssn 123-45-6789 on file"), "ssn 123-***6789 on file"},
		{"key in text", MaskSensitive("api_key=supersecretvalue"), "api_key=supe********alue"},
		{"symbol", SanitizeSymbol(" brk.b "), "BRK.B"},
		{"symbol junk", SanitizeSymbol("aapl;drop"), "AAPLDROP"},
		{"text", SanitizeText("a\x00b\tc"), "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestLogWithoutCredentials_Nested(t *testing.T) {
	in := map[string]interface{}{
		"tax_id":   "123-45-6789",
		"password": 42,
		"address":  map[string]interface{}{"street": "1 Main", "token": "abcdefghijkl"},
	}
	out := LogWithoutCredentials(in)

	if out["tax_id"] != "*******6789" {
		t.Errorf("tax_id = %v", out["tax_id"])
	}
	if out["password"] != "***" {
		t.Errorf("password = %v", out["password"])
	}
	nested := out["address"].(map[string]interface{})
	if nested["street"] != "1 Main" || nested["token"] != "********ijkl" {
		t.Errorf("nested = %v", nested)
	}
}
