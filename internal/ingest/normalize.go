package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"example.com/personaldata/internal/domain"
)

// entry is one decoded provider object with lazily converted members.
type entry map[string]json.RawMessage

// entries extracts member from a payload object. The provider sends a single object
// instead of a one-element list, and omits the member when there is nothing to report.
func entries(payload json.RawMessage, member string) ([]entry, error) {
	var container map[string]json.RawMessage
	if err := json.Unmarshal(payload, &container); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	raw, ok := container[member]
	if !ok {
		return nil, nil
	}
	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) == 0, bytes.Equal(raw, []byte("null")), bytes.Equal(raw, []byte(`""`)):
		return nil, nil
	case raw[0] == '[':
		var list []entry
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode %s list: %w", member, err)
		}
		return list, nil
	case raw[0] == '{':
		var single entry
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, fmt.Errorf("decode %s: %w", member, err)
		}
		return []entry{single}, nil
	default:
		return nil, fmt.Errorf("unexpected %s shape", member)
	}
}

var errMissing = errors.New("missing")

// text returns the member as a string; numbers are rendered verbatim. Absent members yield nil.
func (e entry) text(key string) (any, error) {
	s, ok, err := e.scalar(key)
	if err != nil || !ok {
		return nil, err
	}
	return s, nil
}

// decimal parses numeric strings or JSON numbers. Absent or blank members yield nil.
func (e entry) decimal(key string) (any, error) {
	s, ok, err := e.scalar(key)
	if err != nil || !ok || s == "" {
		return nil, err
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, domain.Malformed(key, err)
	}
	return f, nil
}

// integer parses an integral member. Absent or blank members yield nil.
func (e entry) integer(key string) (any, error) {
	s, ok, err := e.scalar(key)
	if err != nil || !ok || s == "" {
		return nil, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, domain.Malformed(key, err)
	}
	return n, nil
}

// requiredInt is integer for members that must be present.
func (e entry) requiredInt(key string) (int64, error) {
	v, err := e.integer(key)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, domain.Malformed(key, errMissing)
	}
	return v.(int64), nil
}

// date converts an epoch-day member into a UTC date.
func (e entry) date(key string) (time.Time, error) {
	n, err := e.requiredInt(key)
	if err != nil {
		return time.Time{}, err
	}
	return domain.DateFromEpochDay(n), nil
}

func (e entry) scalar(key string) (string, bool, error) {
	raw, ok := e[key]
	if !ok {
		return "", false, nil
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false, domain.Malformed(key, err)
		}
		return strings.TrimSpace(s), true, nil
	}
	if raw[0] == '{' || raw[0] == '[' {
		return "", false, domain.Malformed(key, errors.New("expected scalar"))
	}
	return string(raw), true, nil
}

// fieldReader accumulates the first conversion error so row builders stay linear.
type fieldReader struct {
	e   entry
	err error
}

func (r *fieldReader) text(key string) any {
	return r.keep(r.e.text(key))
}

func (r *fieldReader) decimal(key string) any {
	return r.keep(r.e.decimal(key))
}

func (r *fieldReader) integer(key string) any {
	return r.keep(r.e.integer(key))
}

func (r *fieldReader) keep(v any, err error) any {
	if err != nil && r.err == nil {
		r.err = err
	}
	return v
}
