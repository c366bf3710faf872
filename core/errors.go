// Package core holds the error taxonomy shared by every layer of the schema
// service. Each failure surfaced to a caller is a *Error carrying a stable
// numeric code, a kind used for matching, and a human-readable message.
package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure independently of its numeric code. Several
// kinds share a code on the wire but remain distinguishable in Go.
type ErrorKind string

const (
	KindInternal              ErrorKind = "InternalError"
	KindObjectNotFound        ErrorKind = "ObjectNotFound"
	KindInvalidQuery          ErrorKind = "InvalidQuery"
	KindInvalidClassName      ErrorKind = "InvalidClassName"
	KindClassExists           ErrorKind = "ClassExists"
	KindInvalidKeyName        ErrorKind = "InvalidKeyName"
	KindInvalidJSON           ErrorKind = "InvalidJSON"
	KindInvalidCLP            ErrorKind = "InvalidCLP"
	KindIncorrectType         ErrorKind = "IncorrectType"
	KindPermissionDenied      ErrorKind = "PermissionDenied"
	KindOperationForbidden    ErrorKind = "OperationForbidden"
	KindUnauthorized          ErrorKind = "Unauthorized"
	KindMissingRequiredField  ErrorKind = "MissingRequiredField"
	KindChangedImmutableField ErrorKind = "ChangedImmutableField"
	KindDuplicateValue        ErrorKind = "DuplicateValue"
	KindSchemaMismatch        ErrorKind = "SchemaMismatch"
)

// Codes are part of the public contract and never change once assigned.
const (
	CodeInternal              = 1
	CodeObjectNotFound        = 101
	CodeInvalidQuery          = 102
	CodeInvalidClassName      = 103
	CodeInvalidKeyName        = 105
	CodeInvalidJSON           = 107
	CodeIncorrectType         = 111
	CodeOperationForbidden    = 119
	CodeMissingRequiredField  = 135
	CodeChangedImmutableField = 136
	CodeDuplicateValue        = 137
	CodeSchemaMismatch        = 255
)

// CodeMap assigns the wire code for every kind.
var CodeMap = map[ErrorKind]int{
	KindInternal:              CodeInternal,
	KindObjectNotFound:        CodeObjectNotFound,
	KindInvalidQuery:          CodeInvalidQuery,
	KindInvalidClassName:      CodeInvalidClassName,
	KindClassExists:           CodeInvalidClassName,
	KindInvalidKeyName:        CodeInvalidKeyName,
	KindInvalidJSON:           CodeInvalidJSON,
	KindInvalidCLP:            CodeInvalidJSON,
	KindIncorrectType:         CodeIncorrectType,
	KindPermissionDenied:      CodeOperationForbidden,
	KindOperationForbidden:    CodeOperationForbidden,
	KindUnauthorized:          CodeOperationForbidden,
	KindMissingRequiredField:  CodeMissingRequiredField,
	KindChangedImmutableField: CodeChangedImmutableField,
	KindDuplicateValue:        CodeDuplicateValue,
	KindSchemaMismatch:        CodeSchemaMismatch,
}

// Matchers for errors.Is. They compare by kind only.
var (
	ErrObjectNotFound        = &Error{Kind: KindObjectNotFound}
	ErrInvalidQuery          = &Error{Kind: KindInvalidQuery}
	ErrInvalidClassName      = &Error{Kind: KindInvalidClassName}
	ErrClassExists           = &Error{Kind: KindClassExists}
	ErrInvalidKeyName        = &Error{Kind: KindInvalidKeyName}
	ErrInvalidJSON           = &Error{Kind: KindInvalidJSON}
	ErrInvalidCLP            = &Error{Kind: KindInvalidCLP}
	ErrIncorrectType         = &Error{Kind: KindIncorrectType}
	ErrPermissionDenied      = &Error{Kind: KindPermissionDenied}
	ErrOperationForbidden    = &Error{Kind: KindOperationForbidden}
	ErrUnauthorized          = &Error{Kind: KindUnauthorized}
	ErrMissingRequiredField  = &Error{Kind: KindMissingRequiredField}
	ErrChangedImmutableField = &Error{Kind: KindChangedImmutableField}
	ErrDuplicateValue        = &Error{Kind: KindDuplicateValue}
	ErrSchemaMismatch        = &Error{Kind: KindSchemaMismatch}
)

// Error is a classified failure with a stable (code, message) pair.
type Error struct {
	Code    int       `json:"code"`
	Kind    ErrorKind `json:"-"`
	Message string    `json:"error"`
}

func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError builds an error of the given kind, resolving its code from CodeMap.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	code, ok := CodeMap[kind]
	if !ok {
		code = CodeInternal
	}
	return &Error{
		Code:    code,
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// PermissionDenied builds the uniform denial for a class-level action.
func PermissionDenied(action, className string) *Error {
	return NewError(KindPermissionDenied, "Permission denied for action %s on class %s.", action, className)
}
