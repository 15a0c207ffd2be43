package backtest

import (
	"crypto/rand"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const (
	runIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	runIDSuffix   = 6
	// Largest multiple of 36 that fits in a byte; bytes above it are
	// rejected to keep every character equally likely.
	runIDCutoff = 252
)

// NewRunID builds a display identifier of the form BT-YYYYMMDD-XXXXXX. The
// date is taken in UTC and the suffix is drawn from r.
func NewRunID(now time.Time, r io.Reader) (string, error) {
	var b strings.Builder
	b.Grow(3 + 8 + 1 + runIDSuffix)
	b.WriteString("BT-")
	b.WriteString(now.UTC().Format("20060102"))
	b.WriteByte('-')

	buf := make([]byte, 16)
	written := 0
	for written < runIDSuffix {
		n, err := r.Read(buf)
		if err != nil && n == 0 {
			return "", fmt.Errorf("reading run id entropy: %w", err)
		}
		for _, c := range buf[:n] {
			if c >= runIDCutoff {
				continue
			}
			b.WriteByte(runIDAlphabet[int(c)%len(runIDAlphabet)])
			written++
			if written == runIDSuffix {
				break
			}
		}
	}
	return b.String(), nil
}

// RunID returns a fresh run identifier for the current time.
func RunID() string {
	now := time.Now()
	id, err := NewRunID(now, rand.Reader)
	if err == nil {
		return id
	}
	suffix := strings.ToUpper(strconv.FormatInt(now.UnixNano(), 36))
	return "BT-" + now.UTC().Format("20060102") + "-" + suffix[len(suffix)-runIDSuffix:]
}

// ValidRunID reports whether id has the BT-YYYYMMDD-XXXXXX shape.
func ValidRunID(id string) bool {
	parts := strings.Split(id, "-")
	if len(parts) != 3 || parts[0] != "BT" {
		return false
	}
	if _, err := time.Parse("20060102", parts[1]); err != nil {
		return false
	}
	if len(parts[2]) != runIDSuffix {
		return false
	}
	for _, c := range parts[2] {
		if !strings.ContainsRune(runIDAlphabet, c) {
			return false
		}
	}
	return true
}
