package schema

import (
	"bytes"
	"encoding/json"

	"github.com/asaidimu/go-anansi-schema/core"
)

// FieldOp is a requested field change: a new declaration, or a delete marker.
type FieldOp struct {
	Delete bool
	Type   FieldType
}

// AddField builds an add operation.
func AddField(t FieldType) FieldOp { return FieldOp{Type: t} }

// DeleteField builds a delete operation.
func DeleteField() FieldOp { return FieldOp{Delete: true} }

// UnmarshalJSON recognizes {"__op": "Delete"}; anything else is a FieldType.
func (o *FieldOp) UnmarshalJSON(data []byte) error {
	if isDeleteMarker(data) {
		*o = FieldOp{Delete: true}
		return nil
	}
	var t FieldType
	if err := json.Unmarshal(data, &t); err != nil {
		return core.NewError(core.KindInvalidJSON, "%s", err.Error())
	}
	*o = FieldOp{Type: t}
	return nil
}

// MarshalJSON mirrors UnmarshalJSON.
func (o FieldOp) MarshalJSON() ([]byte, error) {
	if o.Delete {
		return deleteMarker, nil
	}
	return json.Marshal(o.Type)
}

// CLPInput distinguishes an absent permission document, an explicit null and
// a document. Raw is the decoded document when Set and not Null.
type CLPInput struct {
	Set  bool
	Null bool
	Raw  map[string]any
}

// CLPDocument wraps a decoded document.
func CLPDocument(doc map[string]any) CLPInput {
	return CLPInput{Set: true, Raw: doc}
}

// NullCLP is an explicit null document.
func NullCLP() CLPInput {
	return CLPInput{Set: true, Null: true}
}

// Present reports whether a replacement document was supplied.
func (c CLPInput) Present() bool {
	return c.Set && !c.Null
}

// Document returns the decoded document or nil.
func (c CLPInput) Document() any {
	if !c.Present() {
		return nil
	}
	return c.Raw
}

// UnmarshalJSON is invoked for present keys only, including null.
func (c *CLPInput) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*c = NullCLP()
		return nil
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return core.NewError(core.KindInvalidJSON, "%s", err.Error())
	}
	doc, ok := raw.(map[string]any)
	if !ok {
		return core.NewError(core.KindInvalidCLP, "'%v' is not a valid value for class level permissions", raw)
	}
	*c = CLPDocument(doc)
	return nil
}

// ClassRequest is the body accepted when creating or updating a class.
type ClassRequest struct {
	ClassName             string             `json:"className,omitempty"`
	Fields                map[string]FieldOp `json:"fields,omitempty"`
	ClassLevelPermissions CLPInput           `json:"classLevelPermissions"`
	Indexes               map[string]IndexOp `json:"indexes,omitempty"`
}

// FieldTypes returns the declarations of a create request. Delete markers are
// rejected since a new class has nothing to delete.
func (r *ClassRequest) FieldTypes() (Fields, error) {
	out := Fields{}
	for _, name := range sortedKeys(r.Fields) {
		op := r.Fields[name]
		if op.Delete {
			return nil, core.NewError(core.KindSchemaMismatch, "Field %s does not exist, cannot delete.", name)
		}
		out[name] = op.Type
	}
	return out, nil
}

// MarshalJSON writes null for absent and explicit-null documents.
func (c CLPInput) MarshalJSON() ([]byte, error) {
	if !c.Present() {
		return []byte("null"), nil
	}
	return json.Marshal(c.Raw)
}
