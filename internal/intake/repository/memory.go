package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/formrelay/formrelay/internal/intake"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrMissingID   = errors.New("submission has no _id")
	ErrDuplicate   = errors.New("submission id already exists")
	ErrUnorderable = errors.New("submission ids are not comparable")
)

// MemorySource is an in-memory Source used by tests and local runs.
// It keeps the same ordering and filter semantics as MongoSource.
type MemorySource struct {
	mu      sync.RWMutex
	records []intake.Record
	queries []any
	failing error
}

// NewMemorySource returns an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{}
}

// Insert adds a record. Records may be inserted in any order.
func (m *MemorySource) Insert(rec intake.Record) error {
	id, ok := rec[intake.FieldID]
	if !ok || id == nil {
		return ErrMissingID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		c, err := compareIDs(r[intake.FieldID], id)
		if err != nil {
			return err
		}
		if c == 0 {
			return ErrDuplicate
		}
	}
	m.records = append(m.records, rec)
	return nil
}

// FailWith makes FetchNew return err until called again with nil.
func (m *MemorySource) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = err
}

// Queries returns the lower bounds FetchNew was called with.
func (m *MemorySource) Queries() []any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]any(nil), m.queries...)
}

func (m *MemorySource) FetchNew(ctx context.Context, lastID any) (Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, lastID)
	if m.failing != nil {
		return nil, fmt.Errorf("find new submissions: %w", m.failing)
	}
	var out []intake.Record
	for _, r := range m.records {
		if lastID != nil {
			c, err := compareIDs(r[intake.FieldID], lastID)
			if err != nil {
				return nil, err
			}
			if c <= 0 {
				continue
			}
		}
		out = append(out, r)
	}
	var sortErr error
	sort.SliceStable(out, func(i, j int) bool {
		c, err := compareIDs(out[i][intake.FieldID], out[j][intake.FieldID])
		if err != nil {
			sortErr = err
		}
		return c < 0
	})
	if sortErr != nil {
		return nil, sortErr
	}
	return &sliceCursor{records: out, pos: -1}, nil
}

func (m *MemorySource) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failing
}

type sliceCursor struct {
	records []intake.Record
	pos     int
	closed  bool
}

func (c *sliceCursor) Next(ctx context.Context) bool {
	if c.closed || ctx.Err() != nil {
		return false
	}
	c.pos++
	return c.pos < len(c.records)
}

func (c *sliceCursor) Decode(val interface{}) error {
	if c.pos < 0 || c.pos >= len(c.records) {
		return errors.New("decode called without a current document")
	}
	dst, ok := val.(*intake.Record)
	if !ok {
		return fmt.Errorf("memory cursor cannot decode into %T", val)
	}
	rec := make(intake.Record, len(c.records[c.pos]))
	for k, v := range c.records[c.pos] {
		rec[k] = v
	}
	*dst = rec
	return nil
}

func (c *sliceCursor) Err() error { return nil }

func (c *sliceCursor) Close(ctx context.Context) error {
	c.closed = true
	return nil
}

func compareIDs(a, b any) (int, error) {
	switch x := a.(type) {
	case primitive.ObjectID:
		if y, ok := b.(primitive.ObjectID); ok {
			return bytes.Compare(x[:], y[:]), nil
		}
	case string:
		if y, ok := b.(string); ok {
			switch {
			case x < y:
				return -1, nil
			case x > y:
				return 1, nil
			}
			return 0, nil
		}
	default:
		xi, okx := asInt(a)
		yi, oky := asInt(b)
		if okx && oky {
			switch {
			case xi < yi:
				return -1, nil
			case xi > yi:
				return 1, nil
			}
			return 0, nil
		}
	}
	return 0, fmt.Errorf("%w: %T and %T", ErrUnorderable, a, b)
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}
