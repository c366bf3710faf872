package schema

import "maps"

const (
	FieldObjectID  = "objectId"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
	FieldACL       = "ACL"
)

// IDIndexName is the primary key index present on every class.
const IDIndexName = "_id_"

var baseFields = Fields{
	FieldObjectID:  {Type: TypeString},
	FieldCreatedAt: {Type: TypeDate},
	FieldUpdatedAt: {Type: TypeDate},
	FieldACL:       {Type: TypeACL},
}

var systemClassFields = map[string]Fields{
	UserClassName: {
		"username":      {Type: TypeString},
		"password":      {Type: TypeString},
		"email":         {Type: TypeString},
		"emailVerified": {Type: TypeBoolean},
		"authData":      {Type: TypeObject},
	},
	RoleClassName: {
		"name":  {Type: TypeString},
		"users": {Type: TypeRelation, TargetClass: UserClassName},
		"roles": {Type: TypeRelation, TargetClass: RoleClassName},
	},
	SessionClassName: {
		"user":           {Type: TypePointer, TargetClass: UserClassName},
		"sessionToken":   {Type: TypeString},
		"expiresAt":      {Type: TypeDate},
		"createdWith":    {Type: TypeObject},
		"installationId": {Type: TypeString},
	},
	InstallationClassName: {
		"installationId":   {Type: TypeString},
		"deviceToken":      {Type: TypeString},
		"channels":         {Type: TypeArray},
		"deviceType":       {Type: TypeString},
		"pushType":         {Type: TypeString},
		"GCMSenderId":      {Type: TypeString},
		"timeZone":         {Type: TypeString},
		"localeIdentifier": {Type: TypeString},
		"badge":            {Type: TypeNumber},
		"appVersion":       {Type: TypeString},
		"appName":          {Type: TypeString},
		"appIdentifier":    {Type: TypeString},
		"parseVersion":     {Type: TypeString},
	},
}

// uniqueFields are enforced by the storage engine on first write.
var uniqueFields = map[string][]string{
	UserClassName: {"username", "email"},
	RoleClassName: {"name"},
}

// DefaultFields returns the fields every schema for className starts with.
func DefaultFields(className string) Fields {
	out := maps.Clone(baseFields)
	maps.Copy(out, systemClassFields[className])
	return out
}

// IsDefaultField reports whether field is mandatory for className and hence
// immutable.
func IsDefaultField(className, field string) bool {
	if _, ok := baseFields[field]; ok {
		return true
	}
	_, ok := systemClassFields[className][field]
	return ok
}

// UniqueFields lists the fields of className whose values must be unique.
func UniqueFields(className string) []string {
	return append([]string(nil), uniqueFields[className]...)
}

// DefaultIndexes returns the index map every class starts with.
func DefaultIndexes() map[string]IndexSpec {
	return map[string]IndexSpec{
		IDIndexName: {{Field: "_id", Value: 1}},
	}
}

// DefaultSchema is the implicit schema of a class that has not been stored.
func DefaultSchema(className string) *ClassSchema {
	return &ClassSchema{
		ClassName:             className,
		Fields:                DefaultFields(className),
		ClassLevelPermissions: DefaultCLP(),
		Indexes:               DefaultIndexes(),
	}
}
