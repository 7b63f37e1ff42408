package domain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// The upstream gateway is inconsistent about numeric fields: result codes
// and amounts arrive as JSON numbers or as strings depending on the
// environment. All lenient comparisons live here so the quirk is not
// repeated ad hoc across the codebase.

// CallbackItem is one tagged key/value pair from the callback metadata
// list (MpesaReceiptNumber, TransactionDate, Amount, ...).
type CallbackItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

// NormalizeResultCode converts a result code in any of the shapes the
// upstream sends (float64, int, string, json.Number) into an int.
// Returns false when the value cannot be interpreted as an integer.
func NormalizeResultCode(v any) (int, bool) {
	switch c := v.(type) {
	case nil:
		return 0, false
	case int:
		return c, true
	case int64:
		return int(c), true
	case float64:
		return int(c), true
	case json.Number:
		n, err := c.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	case string:
		s := strings.TrimSpace(c)
		if s == "" {
			return 0, false
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			// "0.0" style strings
			f, ferr := strconv.ParseFloat(s, 64)
			if ferr != nil {
				return 0, false
			}
			return int(f), true
		}
		return n, true
	default:
		return 0, false
	}
}

// ParseAmount converts an amount in string-or-number form into a float64.
func ParseAmount(v any) (float64, bool) {
	switch a := v.(type) {
	case nil:
		return 0, false
	case float64:
		return a, true
	case int:
		return float64(a), true
	case int64:
		return float64(a), true
	case json.Number:
		f, err := a.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
