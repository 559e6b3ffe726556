package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// TurnRecord is one completed question/answer cycle on a conversation thread.
// Query is empty when the turn was answered without touching the store.
type TurnRecord struct {
	Question string
	Answer   string
	Query    string
	At       time.Time
}

// ThreadMeta stores aggregate conversation-thread state.
type ThreadMeta struct {
	ThreadID     string
	LastActivity string
	Turns        int
	TTL          int64
}

// Row is one result row from an executed statement: an ordered mapping from
// column name to scalar value. Column order is preserved so the row stays
// self-describing for downstream consumers; most drivers only hand back
// positional tuples.
type Row struct {
	Columns []string
	Values  map[string]any
}

// NewRow builds a Row from parallel column/value slices.
func NewRow(columns []string, values []any) Row {
	r := Row{
		Columns: make([]string, len(columns)),
		Values:  make(map[string]any, len(columns)),
	}
	copy(r.Columns, columns)
	for i, c := range columns {
		if i < len(values) {
			r.Values[c] = values[i]
		}
	}
	return r
}

// Get returns the value for a column and whether the column exists.
func (r Row) Get(column string) (any, bool) {
	v, ok := r.Values[column]
	return v, ok
}

// MarshalJSON serializes the row as a JSON object in column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		value, err := json.Marshal(r.Values[c])
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
