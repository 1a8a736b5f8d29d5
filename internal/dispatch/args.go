package dispatch

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"routerctl/internal/domain"
)

// Args is the argument bag of one tool call, as decoded from JSON or
// parsed from key=value pairs.
type Args map[string]any

// String returns the trimmed text of key. Numbers and booleans are
// formatted; a missing or null key yields "".
func (a Args) String(key string) string {
	v, ok := a[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// Has reports whether key carries a non-empty value.
func (a Args) Has(key string) bool {
	return a.String(key) != ""
}

// Int reads key as an integer. JSON numbers and numeric strings are both
// accepted. ok is false when the key is absent or empty.
func (a Args) Int(key string) (n int, ok bool, err error) {
	v, present := a[key]
	if !present || v == nil {
		return 0, false, nil
	}
	switch t := v.(type) {
	case int:
		return t, true, nil
	case int64:
		return int(t), true, nil
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return 0, true, domain.Precondition(key, a.String(key), "must be an integer")
		}
		return int(t), true, nil
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return 0, true, domain.Precondition(key, t.String(), "must be an integer")
		}
		return int(i), true, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false, nil
		}
		i, err := strconv.Atoi(s)
		if err != nil {
			return 0, true, domain.Precondition(key, t, "must be an integer")
		}
		return i, true, nil
	}
	return 0, true, domain.Precondition(key, a.String(key), "must be an integer")
}

// ParseAssignments builds Args from "key=value" words, as typed on a
// command line. Values stay strings.
func ParseAssignments(words []string) (Args, error) {
	args := Args{}
	for _, w := range words {
		key, value, ok := strings.Cut(w, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, domain.Precondition("argument", w, "arguments must be written as key=value")
		}
		args[key] = value
	}
	return args, nil
}
