package models

import (
	"bytes"
	"encoding/json"
)

// ApiRequest is the envelope of one outbound call to the gateway. Attributes
// keep insertion order and are the only thing serialized to the wire body.
type ApiRequest struct {
	Service string
	Action  string

	keys   []string
	values map[string]any
}

// Attribute is a single key/value pair used to build an ApiRequest in order.
type Attribute struct {
	Key   string
	Value any
}

func NewApiRequest(service, action string, attributes ...Attribute) *ApiRequest {
	r := &ApiRequest{
		Service: service,
		Action:  action,
		values:  make(map[string]any, len(attributes)),
	}
	for _, attr := range attributes {
		r.Set(attr.Key, attr.Value)
	}
	return r
}

// Set adds or replaces an attribute. A replaced attribute keeps its position.
func (r *ApiRequest) Set(key string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

func (r *ApiRequest) Unset(key string) {
	if _, ok := r.values[key]; !ok {
		return
	}
	delete(r.values, key)
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			break
		}
	}
}

func (r *ApiRequest) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

func (r *ApiRequest) Has(key string) bool {
	_, ok := r.values[key]
	return ok
}

func (r *ApiRequest) Len() int {
	return len(r.keys)
}

// Attributes returns a copy of the attributes in insertion order.
func (r *ApiRequest) Attributes() []Attribute {
	out := make([]Attribute, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, Attribute{Key: k, Value: r.values[k]})
	}
	return out
}

// JSON returns the wire body. An empty request produces an empty string, not "{}".
func (r *ApiRequest) JSON() (string, error) {
	if r.Len() == 0 {
		return "", nil
	}
	b, err := r.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *ApiRequest) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
