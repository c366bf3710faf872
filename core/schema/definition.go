package schema

import (
	"encoding/json"
	"fmt"
	"maps"
	"sort"
)

// TypeName is the tag of a FieldType variant.
type TypeName string

const (
	TypeString   TypeName = "String"
	TypeNumber   TypeName = "Number"
	TypeBoolean  TypeName = "Boolean"
	TypeDate     TypeName = "Date"
	TypeObject   TypeName = "Object"
	TypeArray    TypeName = "Array"
	TypeGeoPoint TypeName = "GeoPoint"
	TypeFile     TypeName = "File"
	TypeBytes    TypeName = "Bytes"
	TypePolygon  TypeName = "Polygon"
	TypeACL      TypeName = "ACL"
	TypePointer  TypeName = "Pointer"
	TypeRelation TypeName = "Relation"
)

var validTypes = map[TypeName]struct{}{
	TypeString:   {},
	TypeNumber:   {},
	TypeBoolean:  {},
	TypeDate:     {},
	TypeObject:   {},
	TypeArray:    {},
	TypeGeoPoint: {},
	TypeFile:     {},
	TypeBytes:    {},
	TypePolygon:  {},
	TypeACL:      {},
	TypePointer:  {},
	TypeRelation: {},
}

// FieldType is a field declaration. TargetClass is only meaningful for
// Pointer and Relation.
type FieldType struct {
	Type        TypeName `json:"type"`
	TargetClass string   `json:"targetClass,omitempty"`
}

// UnmarshalJSON accepts both the object form {"type": "..."} and the bare
// string shorthand "String".
func (f *FieldType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*f = FieldType{Type: TypeName(name)}
		return nil
	}
	var raw struct {
		Type        TypeName `json:"type"`
		TargetClass string   `json:"targetClass"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("field type must be a string or an object: %w", err)
	}
	*f = FieldType{Type: raw.Type, TargetClass: raw.TargetClass}
	return nil
}

// String renders the type the way error messages show it: "Pointer<_User>".
func (f FieldType) String() string {
	if f.Type == TypePointer || f.Type == TypeRelation {
		return fmt.Sprintf("%s<%s>", f.Type, f.TargetClass)
	}
	return string(f.Type)
}

// Equal compares tag and target class.
func (f FieldType) Equal(other FieldType) bool {
	return f.Type == other.Type && f.TargetClass == other.TargetClass
}

// IsUserReference reports whether the field points at _User records.
func (f FieldType) IsUserReference() bool {
	return (f.Type == TypePointer || f.Type == TypeRelation) && f.TargetClass == UserClassName
}

// Fields maps field names to their declared types.
type Fields map[string]FieldType

// Names returns the field names in lexical order.
func (f Fields) Names() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GeoPoints returns the names of every GeoPoint field in lexical order.
func (f Fields) GeoPoints() []string {
	var names []string
	for _, name := range f.Names() {
		if f[name].Type == TypeGeoPoint {
			names = append(names, name)
		}
	}
	return names
}

// ClassSchema is the authoritative description of a single class.
type ClassSchema struct {
	ClassName             string               `json:"className"`
	Fields                Fields               `json:"fields"`
	ClassLevelPermissions *CLP                 `json:"classLevelPermissions"`
	Indexes               map[string]IndexSpec `json:"indexes,omitempty"`
}

// Clone returns a deep copy so callers never share mutable state with the
// cache or the store.
func (s *ClassSchema) Clone() *ClassSchema {
	if s == nil {
		return nil
	}
	out := &ClassSchema{
		ClassName: s.ClassName,
		Fields:    maps.Clone(s.Fields),
	}
	if out.Fields == nil {
		out.Fields = Fields{}
	}
	if s.ClassLevelPermissions != nil {
		out.ClassLevelPermissions = s.ClassLevelPermissions.Clone()
	}
	if s.Indexes != nil {
		out.Indexes = make(map[string]IndexSpec, len(s.Indexes))
		for name, spec := range s.Indexes {
			out.Indexes[name] = spec.Clone()
		}
	}
	return out
}

// WithoutIndexes is the list form returned when every class is requested.
func (s *ClassSchema) WithoutIndexes() *ClassSchema {
	out := s.Clone()
	out.Indexes = nil
	return out
}

// CLP returns the class-level permissions, falling back to the open default.
func (s *ClassSchema) CLP() *CLP {
	if s.ClassLevelPermissions == nil {
		return DefaultCLP()
	}
	return s.ClassLevelPermissions
}

// Document is a stored object in its wire form.
type Document map[string]any

// ObjectID returns the document's objectId, or "" when absent.
func (d Document) ObjectID() string {
	id, _ := d[FieldObjectID].(string)
	return id
}
