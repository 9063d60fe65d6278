package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Text renders a loosely typed value (JSON/YAML config) as field text.
// nil renders as "".
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case json.Number:
		return t.String()
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// ToFloat converts numbers and numeric strings. Empty strings read as 0.
func ToFloat(v any) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, eris.Wrapf(ErrInvalidInput, "not a number: %q", n)
		}
		return f, nil
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(n, ",", ""))
		if s == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, eris.Wrapf(ErrInvalidInput, "not a number: %q", n)
		}
		return f, nil
	default:
		return 0, eris.Wrapf(ErrInvalidInput, "cannot convert %T to number", v)
	}
}

// ToTime parses RFC 3339 timestamps or YYYY-MM-DD dates. nil and "" clear
// the value.
func ToTime(v any) (*time.Time, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return &t, nil
	case *time.Time:
		return t, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, nil
		}
		for _, layout := range []string{time.RFC3339, time.DateOnly} {
			if parsed, err := time.Parse(layout, s); err == nil {
				return &parsed, nil
			}
		}
		return nil, eris.Wrapf(ErrInvalidInput, "not a date: %q", t)
	default:
		return nil, eris.Wrapf(ErrInvalidInput, "cannot convert %T to date", v)
	}
}

func assignText(dst *string, v any) error {
	switch v.(type) {
	case map[string]any, []any:
		return eris.Wrapf(ErrInvalidInput, "cannot assign %T to a text field", v)
	}
	*dst = Text(v)
	return nil
}

func formatNumber(f float64) string {
	if f == 0 {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
