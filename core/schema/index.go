package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Index kinds accepted besides the numeric directions 1 and -1.
const (
	IndexText     = "text"
	IndexGeo      = "2dsphere"
	IndexHashed   = "hashed"
	opDeleteToken = "Delete"
)

// IndexKey is one field of an index and its direction or kind token.
type IndexKey struct {
	Field string
	Value any
}

// Direction returns the numeric direction of the key, or 0 for a kind token.
func (k IndexKey) Direction() int {
	switch v := k.Value.(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// Kind returns the kind token of the key, or "" for a numeric direction.
func (k IndexKey) Kind() string {
	s, _ := k.Value.(string)
	return s
}

// ValidValue reports whether the key carries a supported direction or kind.
func (k IndexKey) ValidValue() bool {
	if d := k.Direction(); d == 1 || d == -1 {
		return true
	}
	switch k.Kind() {
	case IndexText, IndexGeo, IndexHashed:
		return true
	}
	return false
}

// IndexSpec is an ordered mapping from field name to direction. It encodes
// as a JSON object whose key order is significant.
type IndexSpec []IndexKey

// Fields returns the field names of the spec in order.
func (s IndexSpec) Fields() []string {
	out := make([]string, len(s))
	for i, k := range s {
		out[i] = k.Field
	}
	return out
}

// Clone copies the spec.
func (s IndexSpec) Clone() IndexSpec {
	return slices.Clone(s)
}

// Equal compares fields, order and values.
func (s IndexSpec) Equal(other IndexSpec) bool {
	return slices.EqualFunc(s, other, func(a, b IndexKey) bool {
		return a.Field == b.Field && fmt.Sprint(a.Value) == fmt.Sprint(b.Value)
	})
}

// MarshalJSON writes the keys in declaration order.
func (s IndexSpec) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k.Field)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(k.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object keeping its key order. Integral numbers are
// decoded as int.
func (s *IndexSpec) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("index spec must be an object")
	}
	out := IndexSpec{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		field, _ := tok.(string)
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		out = append(out, IndexKey{Field: field, Value: normalizeIndexValue(raw)})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*s = out
	return nil
}

func normalizeIndexValue(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return int(i)
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// IndexOp is a requested index change: a new spec, or a delete marker.
type IndexOp struct {
	Delete bool
	Spec   IndexSpec
}

// UnmarshalJSON recognizes {"__op": "Delete"}; anything else is a spec.
func (o *IndexOp) UnmarshalJSON(data []byte) error {
	if isDeleteMarker(data) {
		*o = IndexOp{Delete: true}
		return nil
	}
	var spec IndexSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return err
	}
	*o = IndexOp{Spec: spec}
	return nil
}

// MarshalJSON mirrors UnmarshalJSON.
func (o IndexOp) MarshalJSON() ([]byte, error) {
	if o.Delete {
		return deleteMarker, nil
	}
	return o.Spec.MarshalJSON()
}

var deleteMarker = []byte(`{"__op":"Delete"}`)

func isDeleteMarker(data []byte) bool {
	var marker struct {
		Op string `json:"__op"`
	}
	if err := json.Unmarshal(data, &marker); err != nil {
		return false
	}
	return marker.Op == opDeleteToken
}
