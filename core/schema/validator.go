// Package schema defines the class model of the data service and the
// validators that guard it: field-type declarations, class-level permission
// documents, index specifications, and the types of stored values.
package schema

import (
	"github.com/asaidimu/go-anansi-schema/core"
)

// ValidateFieldType checks a single declaration and returns it normalised.
// Whether the target class of a Pointer or Relation exists is not checked.
func ValidateFieldType(t FieldType) (FieldType, error) {
	if _, ok := validTypes[t.Type]; !ok {
		return FieldType{}, core.NewError(core.KindIncorrectType, "invalid field type: %s", t.Type)
	}
	switch t.Type {
	case TypePointer, TypeRelation:
		if t.TargetClass == "" {
			return FieldType{}, core.NewError(core.KindMissingRequiredField, "type %s needs a class name", t.Type)
		}
		if !UserClassNameIsValid(t.TargetClass) {
			return FieldType{}, core.NewError(core.KindInvalidClassName, "%s", InvalidClassNameMessage(t.TargetClass))
		}
		return t, nil
	default:
		return FieldType{Type: t.Type}, nil
	}
}

// ValidateFieldName checks the name grammar for a field added to className.
func ValidateFieldName(className, name string) error {
	if !FieldNameIsValid(name) {
		return core.NewError(core.KindInvalidKeyName, "invalid field name: %s", name)
	}
	if IsDefaultField(className, name) {
		return core.NewError(core.KindChangedImmutableField, "field %s cannot be added", name)
	}
	return nil
}

// CheckGeoPoints enforces that a field set holds at most one GeoPoint.
func CheckGeoPoints(fields Fields) error {
	geo := fields.GeoPoints()
	if len(geo) > 1 {
		return core.NewError(core.KindIncorrectType,
			"currently, only one GeoPoint field may exist in an object. Adding %s when %s already exists.", geo[1], geo[0])
	}
	return nil
}

// TypeOf infers the declared type a stored value implies. ok is false for
// values that carry no type (nil, {"__op": "Delete"}).
func TypeOf(value any) (t FieldType, ok bool, err error) {
	switch v := value.(type) {
	case nil:
		return FieldType{}, false, nil
	case bool:
		return FieldType{Type: TypeBoolean}, true, nil
	case string:
		return FieldType{Type: TypeString}, true, nil
	case float64, float32, int, int32, int64, uint, uint32, uint64:
		return FieldType{Type: TypeNumber}, true, nil
	case []any:
		return FieldType{Type: TypeArray}, true, nil
	case map[string]any:
		return objectTypeOf(v)
	case Document:
		return objectTypeOf(map[string]any(v))
	default:
		return FieldType{}, false, core.NewError(core.KindIncorrectType, "bad obj: %v", value)
	}
}

func objectTypeOf(obj map[string]any) (FieldType, bool, error) {
	if kind, ok := obj["__type"].(string); ok {
		switch TypeName(kind) {
		case TypeDate:
			if _, ok := obj["iso"].(string); ok {
				return FieldType{Type: TypeDate}, true, nil
			}
		case TypePointer, TypeRelation:
			if className, ok := obj["className"].(string); ok && className != "" {
				return FieldType{Type: TypeName(kind), TargetClass: className}, true, nil
			}
		case TypeFile:
			if _, ok := obj["name"].(string); ok {
				return FieldType{Type: TypeFile}, true, nil
			}
		case TypeGeoPoint:
			if _, ok := obj["latitude"]; ok {
				if _, ok := obj["longitude"]; ok {
					return FieldType{Type: TypeGeoPoint}, true, nil
				}
			}
		case TypeBytes:
			if _, ok := obj["base64"].(string); ok {
				return FieldType{Type: TypeBytes}, true, nil
			}
		case TypePolygon:
			if _, ok := obj["coordinates"].([]any); ok {
				return FieldType{Type: TypePolygon}, true, nil
			}
		default:
			return FieldType{}, false, core.NewError(core.KindIncorrectType, "invalid type: %s", kind)
		}
		return FieldType{}, false, core.NewError(core.KindIncorrectType, "This is not a valid %s", kind)
	}
	if op, ok := obj["__op"].(string); ok {
		switch op {
		case "Delete":
			return FieldType{}, false, nil
		case "Increment":
			return FieldType{Type: TypeNumber}, true, nil
		case "Add", "AddUnique", "Remove":
			return FieldType{Type: TypeArray}, true, nil
		case "AddRelation", "RemoveRelation":
			objects, _ := obj["objects"].([]any)
			if len(objects) == 0 {
				return FieldType{}, false, core.NewError(core.KindInvalidJSON, "%s requires a non-empty objects array", op)
			}
			first, _ := objects[0].(map[string]any)
			className, _ := first["className"].(string)
			if className == "" {
				return FieldType{}, false, core.NewError(core.KindIncorrectType, "This is not a valid Pointer")
			}
			return FieldType{Type: TypeRelation, TargetClass: className}, true, nil
		default:
			return FieldType{}, false, core.NewError(core.KindInvalidJSON, "unexpected op: %s", op)
		}
	}
	return FieldType{Type: TypeObject}, true, nil
}

// Validator checks the values of a write against a class schema. Unknown
// fields are reported back so the caller can add them.
type Validator struct {
	schema *ClassSchema
}

// NewValidator creates a validator bound to a class schema. A nil schema
// validates a write to a class that does not exist yet.
func NewValidator(s *ClassSchema) *Validator {
	return &Validator{schema: s}
}

// Validate returns the types implied by data and the subset of them that the
// class does not declare yet.
func (v *Validator) Validate(className string, data map[string]any) (implied Fields, missing Fields, err error) {
	implied = Fields{}
	missing = Fields{}
	for _, name := range sortedKeys(data) {
		if !FieldNameIsValid(name) {
			return nil, nil, core.NewError(core.KindInvalidKeyName, "invalid field name: %s", name)
		}
		t, ok, err := TypeOf(data[name])
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			continue
		}
		implied[name] = t
		var declared FieldType
		var known bool
		if v.schema != nil {
			declared, known = v.schema.Fields[name]
		} else {
			declared, known = DefaultFields(className)[name]
		}
		if !known {
			missing[name] = t
			continue
		}
		if declared.Type == TypeACL && t.Type == TypeObject {
			continue
		}
		if !declared.Equal(t) {
			return nil, nil, core.NewError(core.KindIncorrectType,
				"schema mismatch for %s.%s; expected %s but got %s", className, name, declared, t)
		}
	}
	return implied, missing, nil
}
