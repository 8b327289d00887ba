package apperrors

import (
	"errors"
)

// Error kinds. Compare with errors.Is, inspect details with errors.As(*Error).
var (
	ErrBadFilter     = errors.New("bad filter")
	ErrBadOrdering   = errors.New("bad ordering")
	ErrBadSchema     = errors.New("bad schema")
	ErrBadCreateData = errors.New("bad create data")

	ErrNotFound   = errors.New("not found")
	ErrNotUnique  = errors.New("not unique")
	ErrConflict   = errors.New("conflict")
	ErrDataAccess = errors.New("data access failure")

	ErrTokenParse          = errors.New("token parse error")
	ErrBadToken            = errors.New("bad token")
	ErrBadLoginCredentials = errors.New("bad login credentials")
	ErrPermissionDenied    = errors.New("permission denied")

	ErrUserAlreadyExists = errors.New("user already exists")
)

// Ordered: more specific kinds first
var codes = []struct {
	kind error
	code string
}{
	{ErrUserAlreadyExists, "user_already_exists"},
	{ErrBadFilter, "bad_filter"},
	{ErrBadOrdering, "bad_ordering"},
	{ErrBadSchema, "bad_schema"},
	{ErrBadCreateData, "bad_create_data"},
	{ErrNotFound, "not_found"},
	{ErrNotUnique, "not_unique"},
	{ErrConflict, "conflict"},
	{ErrDataAccess, "db_error"},
	{ErrTokenParse, "token_parse_error"},
	{ErrBadToken, "bad_token"},
	{ErrBadLoginCredentials, "bad_login_credentials"},
	{ErrPermissionDenied, "permission_denied"},
}

// Error is an application error of a known kind.
// Context holds only values that are safe to show to a client (field names, entity name, indexes).
// Reason is for server-side logs and never rendered.
type Error struct {
	Kind    error
	Context map[string]any
	Reason  string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Machine-readable code of the error kind
func (e *Error) Code() string {
	return Code(e.Kind)
}

// Code returns machine-readable code for the kind of err or empty string if kind is unknown
func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != err {
		err = appErr.Kind
	}

	for _, c := range codes {
		if errors.Is(err, c.kind) {
			return c.code
		}
	}
	return ""
}

func New(kind error, ctx map[string]any) *Error {
	return &Error{Kind: kind, Context: ctx}
}

func BadFilter(entity string, field string, reason string) *Error {
	return &Error{
		Kind:    ErrBadFilter,
		Context: map[string]any{"entity": entity, "field": field},
		Reason:  reason,
	}
}

func BadOrdering(entity string, token string) *Error {
	return &Error{
		Kind:    ErrBadOrdering,
		Context: map[string]any{"entity": entity, "order_by": token},
	}
}

// BadSchema reports a payload that is neither the entity create payload nor a raw mapping
func BadSchema(entity string, reason string) *Error {
	return &Error{
		Kind:    ErrBadSchema,
		Context: map[string]any{"entity": entity},
		Reason:  reason,
	}
}

// BadCreateData identifies the offending batch element by index only
func BadCreateData(entity string, index int, reason string) *Error {
	return &Error{
		Kind:    ErrBadCreateData,
		Context: map[string]any{"entity": entity, "index": index},
		Reason:  reason,
	}
}

func NotFound(entity string) *Error {
	return &Error{Kind: ErrNotFound, Context: map[string]any{"entity": entity}}
}

func NotUnique(entity string) *Error {
	return &Error{Kind: ErrNotUnique, Context: map[string]any{"entity": entity}}
}

func Conflict(entity string, constraint string, err error) *Error {
	return &Error{
		Kind:    ErrConflict,
		Context: map[string]any{"entity": entity},
		Reason:  constraint,
		Err:     err,
	}
}

func DataAccess(entity string, err error) *Error {
	return &Error{
		Kind:    ErrDataAccess,
		Context: map[string]any{"entity": entity},
		Err:     err,
	}
}

func TokenParse(err error) *Error {
	return &Error{Kind: ErrTokenParse, Err: err}
}

// BadToken hides reason from the client: registry miss, wrong type and stale token look the same
func BadToken(reason string) *Error {
	return &Error{Kind: ErrBadToken, Reason: reason}
}
