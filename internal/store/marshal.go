package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// timeLayout is the stored form of timestamps. Fixed-width fractional
// seconds keep lexical order equal to time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func marshalTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func unmarshalTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unmarshal time %q: %w", s, err)
	}
	return t, nil
}

// marshalJSON encodes v as compact JSON TEXT. Map keys come out sorted, so
// equal values always produce equal text.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

func marshalFilters(filters []string) (string, error) {
	if filters == nil {
		filters = []string{}
	}
	s, err := marshalJSON(filters)
	if err != nil {
		return "", fmt.Errorf("marshal filters: %w", err)
	}
	return s, nil
}

func unmarshalFilters(data string) ([]string, error) {
	out := []string{}
	if data == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("unmarshal filters: %w", err)
	}
	return out, nil
}

func marshalByKind(byKind map[string]int) (string, error) {
	if byKind == nil {
		byKind = map[string]int{}
	}
	s, err := marshalJSON(byKind)
	if err != nil {
		return "", fmt.Errorf("marshal by_kind: %w", err)
	}
	return s, nil
}

func unmarshalByKind(data string) (map[string]int, error) {
	out := map[string]int{}
	if data == "" || data == "{}" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("unmarshal by_kind: %w", err)
	}
	return out, nil
}
