package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConflictPolicy decides what happens when an incoming record hits an existing natural key.
type ConflictPolicy string

const (
	// ConflictUpdate overwrites the non-key columns of the stored row (last write wins).
	ConflictUpdate ConflictPolicy = "update"
	// ConflictIgnore keeps the stored row untouched.
	ConflictIgnore ConflictPolicy = "ignore"
)

// TableSpec declares the storage shape of one record type.
type TableSpec struct {
	Schema     string
	Table      string
	Columns    []string
	NaturalKey []string
	Policy     ConflictPolicy
}

// Record is one normalized row. Values are aligned with TableSpec.Columns.
type Record struct {
	UserID int64
	Date   time.Time
	Values []any
}

// Batch is the ordered set of records produced by one walk.
type Batch []Record

// Name is the qualified table name used in logs and metrics labels.
func (s TableSpec) Name() string {
	if s.Schema == "" {
		return s.Table
	}
	return s.Schema + "." + s.Table
}

// Validate checks the declaration is usable for an upsert.
func (s TableSpec) Validate() error {
	if s.Table == "" || len(s.Columns) == 0 {
		return errors.New("table spec: table and columns are required")
	}
	if len(s.NaturalKey) == 0 {
		return fmt.Errorf("table spec %s: natural key is required", s.Name())
	}
	if s.Policy != ConflictUpdate && s.Policy != ConflictIgnore {
		return fmt.Errorf("table spec %s: unknown conflict policy %q", s.Name(), s.Policy)
	}
	if _, err := s.keyIndexes(); err != nil {
		return err
	}
	return nil
}

// UpdateColumns lists the columns overwritten on conflict.
func (s TableSpec) UpdateColumns() []string {
	key := make(map[string]struct{}, len(s.NaturalKey))
	for _, k := range s.NaturalKey {
		key[k] = struct{}{}
	}
	out := make([]string, 0, len(s.Columns))
	for _, c := range s.Columns {
		if _, ok := key[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// KeyOf renders the natural key of r as a comparable string.
func (s TableSpec) KeyOf(r Record) (string, error) {
	idx, err := s.keyIndexes()
	if err != nil {
		return "", err
	}
	if len(r.Values) != len(s.Columns) {
		return "", fmt.Errorf("%w: %s expects %d values, got %d", ErrMalformedRecord, s.Name(), len(s.Columns), len(r.Values))
	}
	parts := make([]string, len(idx))
	for i, pos := range idx {
		v := r.Values[pos]
		if v == nil {
			return "", fmt.Errorf("%w: %s key column %s is null", ErrMalformedRecord, s.Name(), s.Columns[pos])
		}
		if t, ok := v.(time.Time); ok {
			v = t.UTC().Format(time.RFC3339Nano)
		}
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, "\x1f"), nil
}

func (s TableSpec) keyIndexes() ([]int, error) {
	pos := make(map[string]int, len(s.Columns))
	for i, c := range s.Columns {
		pos[c] = i
	}
	out := make([]int, len(s.NaturalKey))
	for i, k := range s.NaturalKey {
		p, ok := pos[k]
		if !ok {
			return nil, fmt.Errorf("table spec %s: key column %s not in columns", s.Name(), k)
		}
		out[i] = p
	}
	return out, nil
}

// Dedupe keeps the last record for every natural key, preserving first-seen order.
func (s TableSpec) Dedupe(batch Batch) (Batch, error) {
	index := make(map[string]int, len(batch))
	out := make(Batch, 0, len(batch))
	for _, r := range batch {
		key, err := s.KeyOf(r)
		if err != nil {
			return nil, err
		}
		if i, seen := index[key]; seen {
			out[i] = r
			continue
		}
		index[key] = len(out)
		out = append(out, r)
	}
	return out, nil
}
