// Package record defines the schema-less records kept by the store and the
// ordered sequence they are persisted as.
package record

import (
	"bytes"
	"encoding/json"
	"errors"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ErrNotObject is returned when a record is decoded from anything but a JSON object.
var ErrNotObject = errors.New("record must be a JSON object")

// Record is an ordered mapping from field name to raw JSON value.
// Field order is the order in which fields were first seen.
type Record struct {
	fields *orderedmap.OrderedMap[string, json.RawMessage]
}

// New returns an empty record.
func New() Record {
	return Record{fields: orderedmap.New[string, json.RawMessage]()}
}

// Parse decodes a single JSON object into a Record.
func Parse(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Len returns the number of fields.
func (r Record) Len() int {
	if r.fields == nil {
		return 0
	}
	return r.fields.Len()
}

// Get returns the raw JSON value of field.
func (r Record) Get(field string) (json.RawMessage, bool) {
	if r.fields == nil {
		return nil, false
	}
	return r.fields.Get(field)
}

// Fields returns the field names in order.
func (r Record) Fields() []string {
	if r.fields == nil {
		return nil
	}
	names := make([]string, 0, r.fields.Len())
	for pair := r.fields.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Key returns the decoded value of field when it can take part in key
// matching. Strings, numbers, booleans and null qualify (null as a nil
// value); a missing field, objects and arrays report false.
func (r Record) Key(field string) (any, bool) {
	raw, ok := r.Get(field)
	if !ok {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	switch v.(type) {
	case nil, string, float64, bool:
		return v, true
	}
	return nil, false
}

// SameKey reports whether a and b carry equal key values in field.
func SameKey(a, b Record, field string) bool {
	ka, ok := a.Key(field)
	if !ok {
		return false
	}
	kb, ok := b.Key(field)
	if !ok {
		return false
	}
	return ka == kb
}

// Merge returns a new record holding every field of base, overwritten in
// place by the fields of overlay. Fields only present in overlay are
// appended in overlay's order. Neither input is modified.
func Merge(base, overlay Record) Record {
	out := New()
	if base.fields != nil {
		for pair := base.fields.Oldest(); pair != nil; pair = pair.Next() {
			out.fields.Set(pair.Key, pair.Value)
		}
	}
	if overlay.fields != nil {
		for pair := overlay.fields.Oldest(); pair != nil; pair = pair.Next() {
			out.fields.Set(pair.Key, pair.Value)
		}
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.fields == nil {
		return []byte("{}"), nil
	}
	return r.fields.MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Record) UnmarshalJSON(data []byte) error {
	if firstByte(data) != '{' {
		return ErrNotObject
	}
	fields := orderedmap.New[string, json.RawMessage]()
	if err := fields.UnmarshalJSON(data); err != nil {
		return err
	}
	r.fields = fields
	return nil
}

func firstByte(data []byte) byte {
	data = bytes.TrimLeft(data, " \t\r\n")
	if len(data) == 0 {
		return 0
	}
	return data[0]
}
