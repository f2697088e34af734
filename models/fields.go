package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Fields is a read-only JSON object that remembers the order of its keys.
// Nested values are decoded with json.Number for numbers.
type Fields struct {
	keys   []string
	values map[string]any
}

// ParseFields decodes a JSON object. An empty payload yields empty Fields.
func ParseFields(data []byte) (Fields, error) {
	var f Fields
	if len(bytes.TrimSpace(data)) == 0 {
		return f, nil
	}
	err := f.UnmarshalJSON(data)
	return f, err
}

// FieldsFromPairs builds Fields from pairs, keeping their order.
func FieldsFromPairs(pairs ...Attribute) Fields {
	f := Fields{values: make(map[string]any, len(pairs))}
	for _, p := range pairs {
		if _, ok := f.values[p.Key]; !ok {
			f.keys = append(f.keys, p.Key)
		}
		f.values[p.Key] = p.Value
	}
	return f
}

func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("fields: expected a JSON object")
	}

	f.keys = nil
	f.values = make(map[string]any)
	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("fields: unexpected token %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("fields: decoding %q: %w", key, err)
		}
		if _, seen := f.values[key]; !seen {
			f.keys = append(f.keys, key)
		}
		f.values[key] = value
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

func (f Fields) MarshalJSON() ([]byte, error) {
	return NewApiRequest("", "", f.Pairs()...).MarshalJSON()
}

func (f Fields) Get(key string) (any, bool) {
	v, ok := f.values[key]
	return v, ok
}

func (f Fields) Has(key string) bool {
	_, ok := f.values[key]
	return ok
}

// At returns the key and value at position i in decoding order.
func (f Fields) At(i int) (string, any, bool) {
	if i < 0 || i >= len(f.keys) {
		return "", nil, false
	}
	k := f.keys[i]
	return k, f.values[k], true
}

func (f Fields) Keys() []string {
	return append([]string(nil), f.keys...)
}

func (f Fields) Len() int {
	return len(f.keys)
}

func (f Fields) Pairs() []Attribute {
	out := make([]Attribute, 0, len(f.keys))
	for _, k := range f.keys {
		out = append(out, Attribute{Key: k, Value: f.values[k]})
	}
	return out
}
