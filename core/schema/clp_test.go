package schema

import (
	"encoding/json"
	"testing"

	"github.com/asaidimu/go-anansi-schema/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeDoc(t *testing.T, raw string) any {
	t.Helper()
	var doc any
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	return doc
}

func TestDefaultCLP(t *testing.T) {
	clp := DefaultCLP()
	for _, op := range Operations {
		assert.Equal(t, AccessMap{"*": true}, clp.Access(op), string(op))
	}
	assert.Empty(t, clp.ReadUserFields)
	assert.Empty(t, clp.WriteUserFields)
}

func TestValidateCLP_NullIsDefault(t *testing.T) {
	clp, err := ValidateCLP(nil, Fields{})
	require.NoError(t, err)
	assert.Equal(t, DefaultCLP(), clp)
}

func TestValidateCLP_EmptyDeniesEverything(t *testing.T) {
	clp, err := ValidateCLP(map[string]any{}, Fields{})
	require.NoError(t, err)
	for _, op := range Operations {
		assert.Empty(t, clp.Access(op), string(op))
	}
}

func TestValidateCLP_Valid(t *testing.T) {
	fields := DefaultFields("Post")
	fields["owner"] = FieldType{Type: TypePointer, TargetClass: UserClassName}
	fields["editors"] = FieldType{Type: TypeRelation, TargetClass: UserClassName}

	doc := decodeDoc(t, `{
		"find": {"*": true},
		"get": {"role:admin": true, "abcdEFGH12": true},
		"update": {},
		"readUserFields": ["owner"],
		"writeUserFields": ["owner", "editors"]
	}`)
	clp, err := ValidateCLP(doc, fields)
	require.NoError(t, err)

	assert.True(t, clp.Find.Has("*"))
	assert.True(t, clp.Get.Has("role:admin"))
	assert.True(t, clp.Get.Has("abcdEFGH12"))
	assert.Equal(t, []string{"admin"}, clp.Get.Roles())
	assert.Empty(t, clp.Update)
	assert.Empty(t, clp.Create)
	assert.Equal(t, []string{"owner"}, clp.UserFields(OpFind))
	assert.Equal(t, []string{"owner", "editors"}, clp.UserFields(OpDelete))
	assert.Nil(t, clp.UserFields(OpCreate))
}

func TestValidateCLP_Errors(t *testing.T) {
	fields := DefaultFields("Post")
	fields["title"] = FieldType{Type: TypeString}
	fields["author"] = FieldType{Type: TypePointer, TargetClass: "Author"}

	tests := []struct {
		name    string
		doc     string
		message string
	}{
		{
			name:    "unknown operation",
			doc:     `{"dummy": {"*": true}}`,
			message: "'dummy' is not a valid operation for class level permissions",
		},
		{
			name:    "bad key",
			doc:     `{"find": {"not a user": true}}`,
			message: "'not a user' is not a valid key for class level permissions",
		},
		{
			name:    "empty role",
			doc:     `{"find": {"role:": true}}`,
			message: "'role:' is not a valid key for class level permissions",
		},
		{
			name:    "false value",
			doc:     `{"get": {"*": false}}`,
			message: "'false' is not a valid value for class level permissions get:*:false",
		},
		{
			name:    "string value",
			doc:     `{"create": {"role:admin": "yes"}}`,
			message: "'yes' is not a valid value for class level permissions create:role:admin:yes",
		},
		{
			name:    "non-user pointer",
			doc:     `{"readUserFields": ["author"]}`,
			message: "'author' is not a valid column for class level pointer permissions readUserFields",
		},
		{
			name:    "missing pointer field",
			doc:     `{"writeUserFields": ["title"]}`,
			message: "'title' is not a valid column for class level pointer permissions writeUserFields",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateCLP(decodeDoc(t, tt.doc), fields)
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrInvalidCLP)
			assert.Equal(t, tt.message, err.Error())
		})
	}
}

func TestValidateUserFields(t *testing.T) {
	clp := DefaultCLP()
	clp.ReadUserFields = []string{"owner"}

	err := ValidateUserFields(clp, Fields{"owner": {Type: TypePointer, TargetClass: UserClassName}})
	assert.NoError(t, err)

	err = ValidateUserFields(clp, Fields{})
	assert.ErrorIs(t, err, core.ErrInvalidCLP)
}

func TestCLP_Clone(t *testing.T) {
	clp := DefaultCLP()
	clp.ReadUserFields = []string{"owner"}
	clone := clp.Clone()

	clone.Find["role:x"] = true
	clone.ReadUserFields[0] = "other"

	assert.False(t, clp.Find.Has("role:x"))
	assert.Equal(t, "owner", clp.ReadUserFields[0])
}
