package schema

import (
	"regexp"
	"strings"
)

const (
	UserClassName         = "_User"
	RoleClassName         = "_Role"
	SessionClassName      = "_Session"
	InstallationClassName = "_Installation"

	joinClassPrefix = "_Join:"
)

var (
	classNamePattern     = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	joinClassNamePattern = regexp.MustCompile(`^_Join:[A-Za-z0-9_]+:[A-Za-z0-9_]+$`)
	fieldNamePattern     = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
)

// systemClasses are pre-declared and may be addressed before they are stored.
var systemClasses = []string{
	UserClassName,
	RoleClassName,
	SessionClassName,
	InstallationClassName,
}

// SystemClasses lists the pre-declared class names.
func SystemClasses() []string {
	return append([]string(nil), systemClasses...)
}

// IsSystemClass reports whether name is one of the pre-declared classes.
func IsSystemClass(name string) bool {
	for _, c := range systemClasses {
		if c == name {
			return true
		}
	}
	return false
}

// IsJoinClass reports whether name addresses a relation join structure.
func IsJoinClass(name string) bool {
	return joinClassNamePattern.MatchString(name)
}

// JoinClassName names the join structure backing a relation field.
func JoinClassName(field, owner string) string {
	return joinClassPrefix + field + ":" + owner
}

// JoinOwner returns the owning class of a join structure name.
func JoinOwner(joinName string) (string, bool) {
	if !strings.HasPrefix(joinName, joinClassPrefix) {
		return "", false
	}
	parts := strings.Split(strings.TrimPrefix(joinName, joinClassPrefix), ":")
	if len(parts) != 2 {
		return "", false
	}
	return parts[1], true
}

// ClassNameIsValid accepts system classes, join structures and
// user-defined names. Comparisons are case-sensitive.
func ClassNameIsValid(name string) bool {
	return IsSystemClass(name) || IsJoinClass(name) || classNamePattern.MatchString(name)
}

// UserClassNameIsValid accepts names a schema may be registered under.
func UserClassNameIsValid(name string) bool {
	return IsSystemClass(name) || classNamePattern.MatchString(name)
}

// InvalidClassNameMessage is the stable message for malformed class names.
func InvalidClassNameMessage(name string) string {
	return "Invalid classname: " + name + ", classnames can only have alphanumeric characters and _, and must start with an alpha character "
}

// FieldNameIsValid checks the field-name grammar.
func FieldNameIsValid(name string) bool {
	return fieldNamePattern.MatchString(name)
}
