package sqlite

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/asaidimu/go-anansi-schema/core/schema"
)

// selectQuery is an equality lookup over the documents of one class.
// Scalar conditions are pushed into SQL; structured values are compared
// after decoding.
type selectQuery struct {
	sql      string
	args     []any
	residual map[string]any
}

// buildSelect generates the SELECT for where against table.
func buildSelect(table string, where map[string]any) (*selectQuery, error) {
	keys := make([]string, 0, len(where))
	for key := range where {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	q := &selectQuery{residual: map[string]any{}}
	var conditions []string
	for _, key := range keys {
		if !schema.FieldNameIsValid(key) {
			return nil, fmt.Errorf("invalid field name %q", key)
		}
		value, ok := scalarParam(where[key])
		if !ok {
			q.residual[key] = where[key]
			continue
		}
		conditions = append(conditions, jsonPath(key)+" = ?")
		q.args = append(q.args, value)
	}

	var sb strings.Builder
	sb.WriteString(`SELECT "data" FROM ` + table)
	if len(conditions) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conditions, " AND "))
	}
	sb.WriteString(` ORDER BY "objectId";`)
	q.sql = sb.String()
	return q, nil
}

// scalarParam converts a value to the form json_extract returns for it.
func scalarParam(v any) (any, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		if t {
			return int64(1), true
		}
		return int64(0), true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, true
		}
		f, err := t.Float64()
		return f, err == nil
	}
	return nil, false
}

// matches applies the residual conditions to a decoded document.
func (q *selectQuery) matches(doc schema.Document) bool {
	for key, want := range q.residual {
		got, ok := doc[key]
		if !ok || !sameJSON(got, want) {
			return false
		}
	}
	return true
}

// sameJSON compares two values by their JSON form.
func sameJSON(a, b any) bool {
	var na, nb any
	if !roundTrip(a, &na) || !roundTrip(b, &nb) {
		return false
	}
	return reflect.DeepEqual(na, nb)
}

func roundTrip(v any, out *any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}
