package security

import (
	"regexp"
	"strings"
	"unicode"
)

// sensitiveFields contains field names that should be masked in logs.
var sensitiveFields = map[string]bool{
	"api_key":             true,
	"api_secret":          true,
	"secret":              true,
	"password":            true,
	"token":               true,
	"access_token":        true,
	"authorization":       true,
	"tax_id":              true,
	"account_number":      true,
	"bank_account_number": true,
	"bank_routing_number": true,
	"date_of_birth":       true,
}

// sensitivePatterns contains regex patterns for sensitive data in free text.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|api[_-]?secret|secret[_-]?key|access[_-]?token|bearer|password)[=:\s]+["']?([^\s"']+)["']?`),
	regexp.MustCompile(`(sk-[A-Za-z0-9_-]{20,})`),
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
}

// IsSensitiveField reports whether values under field must be masked.
func IsSensitiveField(field string) bool {
	return sensitiveFields[strings.ToLower(field)]
}

// MaskCredential masks a credential value for logging.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// MaskAccountNumber keeps only the last four digits.
func MaskAccountNumber(value string) string {
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	return strings.Repeat("*", len(value)-4) + value[len(value)-4:]
}

// MaskSensitive masks credentials and tax ids found in free text.
func MaskSensitive(input string) string {
	result := input
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			for _, sep := range []string{"=", ":"} {
				if parts := strings.SplitN(match, sep, 2); len(parts) == 2 {
					return parts[0] + sep + MaskCredential(strings.Trim(parts[1], "\"' "))
				}
			}
			return MaskCredential(match)
		})
	}
	return result
}

// LogWithoutCredentials creates a copy of a map with credentials masked.
func LogWithoutCredentials(data map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case string:
			if IsSensitiveField(k) {
				result[k] = MaskAccountNumber(val)
			} else {
				result[k] = MaskSensitive(val)
			}
		case map[string]interface{}:
			result[k] = LogWithoutCredentials(val)
		default:
			if IsSensitiveField(k) {
				result[k] = "***"
			} else {
				result[k] = v
			}
		}
	}
	return result
}

// SanitizeSymbol upper-cases a ticker and drops anything but letters,
// digits and the separators used by crypto, forex and futures tickers.
func SanitizeSymbol(symbol string) string {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))

	var result strings.Builder
	for _, r := range symbol {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("./-=^", r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// SanitizeText removes control characters from free-form text.
func SanitizeText(text string) string {
	var result strings.Builder
	for _, r := range text {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	return result.String()
}
