package record

import (
	"encoding/json"
	"errors"
)

// ErrNotArray is returned when a sequence is decoded from anything but a JSON array.
var ErrNotArray = errors.New("record sequence must be a JSON array")

// Sequence is the ordered list of records making up the whole store.
type Sequence []Record

// ParseSequence decodes a JSON array of objects.
func ParseSequence(data []byte) (Sequence, error) {
	if firstByte(data) != '[' {
		return nil, ErrNotArray
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []Record{}
	}
	return Sequence(records), nil
}

// Index returns the position of the first record whose key value in field
// equals that of r, or -1. A record without a usable key never matches.
func (s Sequence) Index(field string, r Record) int {
	if _, ok := r.Key(field); !ok {
		return -1
	}
	for i, existing := range s {
		if SameKey(existing, r, field) {
			return i
		}
	}
	return -1
}

// MarshalJSON encodes the sequence as an array; a nil sequence encodes as [].
func (s Sequence) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Record(s))
}
