package pagerduty

import (
	"bytes"
	"encoding/json"
)

// Details is the custom_details mapping of an event. Keys keep the order in
// which they were first set so that encoding is deterministic.
type Details struct {
	keys   []string
	values map[string]string
}

// Set stores value under key. Overwriting keeps the key's original position.
func (d *Details) Set(key, value string) {
	if d.values == nil {
		d.values = make(map[string]string)
	}
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
}

// Get returns the value stored under key.
func (d *Details) Get(key string) (string, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Len returns the number of keys.
func (d *Details) Len() int { return len(d.keys) }

// Keys returns the keys in insertion order.
func (d *Details) Keys() []string {
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

// Map returns a copy of the details as a plain map.
func (d *Details) Map() map[string]string {
	out := make(map[string]string, len(d.values))
	for k, v := range d.values {
		out[k] = v
	}
	return out
}

// MarshalJSON encodes the details as a JSON object in insertion order.
func (d *Details) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(d.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
