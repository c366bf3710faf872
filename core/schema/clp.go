package schema

import (
	"regexp"
	"slices"
	"strings"

	"github.com/asaidimu/go-anansi-schema/core"
)

// Operation is a class-level action gated by a CLP document.
type Operation string

const (
	OpFind     Operation = "find"
	OpGet      Operation = "get"
	OpCreate   Operation = "create"
	OpUpdate   Operation = "update"
	OpDelete   Operation = "delete"
	OpAddField Operation = "addField"
)

// Operations lists every recognized action in document order.
var Operations = []Operation{OpFind, OpGet, OpCreate, OpUpdate, OpDelete, OpAddField}

const (
	keyReadUserFields  = "readUserFields"
	keyWriteUserFields = "writeUserFields"

	// PublicAccess grants an action to every caller.
	PublicAccess = "*"
	// RolePrefix marks an access key naming a role.
	RolePrefix = "role:"
)

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{10}$`)

// AccessMap grants an action to the listed access keys.
type AccessMap map[string]bool

// Has reports whether key is granted.
func (a AccessMap) Has(key string) bool {
	return a[key]
}

// Roles returns the role names granted by the map, in lexical order.
func (a AccessMap) Roles() []string {
	var roles []string
	for _, key := range sortedKeys(a) {
		if strings.HasPrefix(key, RolePrefix) && a[key] {
			roles = append(roles, strings.TrimPrefix(key, RolePrefix))
		}
	}
	return roles
}

// CLP is a validated class-level permission document.
type CLP struct {
	Find            AccessMap `json:"find"`
	Get             AccessMap `json:"get"`
	Create          AccessMap `json:"create"`
	Update          AccessMap `json:"update"`
	Delete          AccessMap `json:"delete"`
	AddField        AccessMap `json:"addField"`
	ReadUserFields  []string  `json:"readUserFields,omitempty"`
	WriteUserFields []string  `json:"writeUserFields,omitempty"`
}

// DefaultCLP opens every action to everyone.
func DefaultCLP() *CLP {
	c := &CLP{}
	for _, op := range Operations {
		*c.slot(op) = AccessMap{PublicAccess: true}
	}
	return c
}

func (c *CLP) slot(op Operation) *AccessMap {
	switch op {
	case OpFind:
		return &c.Find
	case OpGet:
		return &c.Get
	case OpCreate:
		return &c.Create
	case OpUpdate:
		return &c.Update
	case OpDelete:
		return &c.Delete
	case OpAddField:
		return &c.AddField
	}
	return nil
}

// Access returns the access map for op. Unknown operations grant nothing.
func (c *CLP) Access(op Operation) AccessMap {
	s := c.slot(op)
	if s == nil || *s == nil {
		return AccessMap{}
	}
	return *s
}

// UserFields returns the row-level ownership fields consulted for op.
func (c *CLP) UserFields(op Operation) []string {
	switch op {
	case OpFind, OpGet:
		return c.ReadUserFields
	case OpUpdate, OpDelete:
		return c.WriteUserFields
	}
	return nil
}

// Clone deep-copies the document.
func (c *CLP) Clone() *CLP {
	out := &CLP{
		ReadUserFields:  slices.Clone(c.ReadUserFields),
		WriteUserFields: slices.Clone(c.WriteUserFields),
	}
	for _, op := range Operations {
		src := c.Access(op)
		dst := make(AccessMap, len(src))
		for k, v := range src {
			dst[k] = v
		}
		*out.slot(op) = dst
	}
	return out
}

// ValidateCLP validates a decoded CLP document against the final field set
// of its class. A nil document means the open default. Any violation rejects
// the whole document.
func ValidateCLP(doc any, fields Fields) (*CLP, error) {
	if doc == nil {
		return DefaultCLP(), nil
	}
	perms, ok := doc.(map[string]any)
	if !ok {
		return nil, core.NewError(core.KindInvalidCLP, "'%v' is not a valid value for class level permissions", doc)
	}

	out := &CLP{}
	for _, op := range Operations {
		*out.slot(op) = AccessMap{}
	}

	for _, key := range sortedKeys(perms) {
		value := perms[key]
		switch key {
		case keyReadUserFields, keyWriteUserFields:
			names, err := userFieldList(key, value, fields)
			if err != nil {
				return nil, err
			}
			if key == keyReadUserFields {
				out.ReadUserFields = names
			} else {
				out.WriteUserFields = names
			}
			continue
		}

		slot := out.slot(Operation(key))
		if slot == nil {
			return nil, core.NewError(core.KindInvalidCLP, "'%s' is not a valid operation for class level permissions", key)
		}
		grants, ok := value.(map[string]any)
		if !ok {
			return nil, core.NewError(core.KindInvalidCLP, "'%v' is not a valid value for class level permissions %s", value, key)
		}
		for _, accessKey := range sortedKeys(grants) {
			if !validAccessKey(accessKey) {
				return nil, core.NewError(core.KindInvalidCLP, "'%s' is not a valid key for class level permissions", accessKey)
			}
			granted, isBool := grants[accessKey].(bool)
			if !isBool || !granted {
				return nil, core.NewError(core.KindInvalidCLP,
					"'%v' is not a valid value for class level permissions %s:%s:%v", grants[accessKey], key, accessKey, grants[accessKey])
			}
			(*slot)[accessKey] = true
		}
	}
	return out, nil
}

// ValidateUserFields re-checks the ownership fields of an already validated
// document against a new field set.
func ValidateUserFields(c *CLP, fields Fields) error {
	for _, name := range c.ReadUserFields {
		if err := checkUserField(keyReadUserFields, name, fields); err != nil {
			return err
		}
	}
	for _, name := range c.WriteUserFields {
		if err := checkUserField(keyWriteUserFields, name, fields); err != nil {
			return err
		}
	}
	return nil
}

func userFieldList(key string, value any, fields Fields) ([]string, error) {
	list, ok := value.([]any)
	if !ok {
		return nil, core.NewError(core.KindInvalidCLP, "'%v' is not a valid value for class level permissions %s", value, key)
	}
	names := make([]string, 0, len(list))
	for _, item := range list {
		name, ok := item.(string)
		if !ok {
			return nil, core.NewError(core.KindInvalidCLP, "'%v' is not a valid column for class level pointer permissions %s", item, key)
		}
		if err := checkUserField(key, name, fields); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

func checkUserField(key, name string, fields Fields) error {
	t, ok := fields[name]
	if !ok || !t.IsUserReference() {
		return core.NewError(core.KindInvalidCLP, "'%s' is not a valid column for class level pointer permissions %s", name, key)
	}
	return nil
}

func validAccessKey(key string) bool {
	if key == PublicAccess {
		return true
	}
	if strings.HasPrefix(key, RolePrefix) {
		return len(key) > len(RolePrefix)
	}
	return userIDPattern.MatchString(key)
}
