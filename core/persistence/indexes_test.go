package persistence

import (
	"errors"
	"testing"

	"github.com/asaidimu/go-anansi-schema/core"
	"github.com/asaidimu/go-anansi-schema/core/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexFields() schema.Fields {
	fields := schema.DefaultFields("Post")
	fields["aString"] = schema.FieldType{Type: schema.TypeString}
	fields["aNumber"] = schema.FieldType{Type: schema.TypeNumber}
	return fields
}

func TestPlanIndexOps(t *testing.T) {
	current := map[string]schema.IndexSpec{
		schema.IDIndexName: {{Field: "_id", Value: 1}},
		"byString":         {{Field: "aString", Value: 1}},
	}

	tests := []struct {
		name    string
		ops     map[string]schema.IndexOp
		message string
		create  []string
		drop    []string
	}{
		{
			name:   "add",
			ops:    map[string]schema.IndexOp{"byNumber": {Spec: schema.IndexSpec{{Field: "aNumber", Value: -1}}}},
			create: []string{"byNumber"},
		},
		{
			name: "delete",
			ops:  map[string]schema.IndexOp{"byString": {Delete: true}},
			drop: []string{"byString"},
		},
		{
			name: "empty spec is ignored",
			ops:  map[string]schema.IndexOp{"nothing": {}},
		},
		{
			name:    "delete missing",
			ops:     map[string]schema.IndexOp{"missing": {Delete: true}},
			message: "Index missing does not exist, cannot delete.",
		},
		{
			name:    "add existing",
			ops:     map[string]schema.IndexOp{"byString": {Spec: schema.IndexSpec{{Field: "aString", Value: 1}}}},
			message: "Index byString exists, cannot update.",
		},
		{
			name:    "unknown field",
			ops:     map[string]schema.IndexOp{"byGhost": {Spec: schema.IndexSpec{{Field: "ghost", Value: 1}}}},
			message: "Field ghost does not exist, cannot add index.",
		},
		{
			name:    "invalid value",
			ops:     map[string]schema.IndexOp{"bad": {Spec: schema.IndexSpec{{Field: "aNumber", Value: 2}}}},
			message: "Index bad has an invalid value 2 for field aNumber.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := PlanIndexOps(current, tt.ops, indexFields())
			if tt.message != "" {
				require.Error(t, err)
				assert.True(t, errors.Is(err, core.ErrInvalidQuery))
				assert.Equal(t, tt.message, err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.create, plan.Create)
			assert.Equal(t, tt.drop, plan.Drop)
			assert.Contains(t, plan.Indexes, schema.IDIndexName)
			for _, name := range tt.create {
				assert.Contains(t, plan.Indexes, name)
			}
			for _, name := range tt.drop {
				assert.NotContains(t, plan.Indexes, name)
			}
		})
	}
}

func TestPlanIndexOpsDropsStaleIndexes(t *testing.T) {
	current := map[string]schema.IndexSpec{
		schema.IDIndexName: {{Field: "_id", Value: 1}},
		"byString":         {{Field: "aString", Value: 1}},
	}
	fields := indexFields()
	delete(fields, "aString")

	plan, err := PlanIndexOps(current, nil, fields)
	require.NoError(t, err)
	assert.Equal(t, []string{"byString"}, plan.Drop)
	assert.NotContains(t, plan.Indexes, "byString")
	assert.False(t, plan.Empty())
}

func TestPlanIndexOpsKeepsCurrentUntouched(t *testing.T) {
	current := map[string]schema.IndexSpec{
		schema.IDIndexName: {{Field: "_id", Value: 1}},
		"byString":         {{Field: "aString", Value: 1}},
	}
	_, err := PlanIndexOps(current, map[string]schema.IndexOp{"byString": {Delete: true}}, indexFields())
	require.NoError(t, err)
	assert.Contains(t, current, "byString")
}
