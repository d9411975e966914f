package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Field attaches a field name, and optionally a description, to err. It
// returns nil when err is nil, so validation code can call it for every
// field unconditionally.
//
// Name fields the way they are named in Go. Nested fields use a dot, for
// example Escrow.ClaimTTL, and slice elements their index, for example
// Ops.1.Sender.
func Field(name string, err error, description string, args ...interface{}) error {
	if isNilErr(err) {
		return nil
	}
	// The stack is recorded once, at the innermost wrap.
	if stackTrace(err) == nil {
		err = errors.WithStack(err)
	}
	if len(args) != 0 {
		description = fmt.Sprintf(description, args...)
	}
	return &fieldError{parent: err, field: name, desc: description}
}

// AppendField adds the field error to errs. A nil fieldErr leaves errs
// unchanged.
func AppendField(errs error, name string, fieldErr error) error {
	return Append(errs, Field(name, fieldErr, ""))
}

type fieldError struct {
	parent error
	field  string
	desc   string
}

func (e *fieldError) Error() string {
	if e.desc != "" {
		return fmt.Sprintf("field %q: %s: %s", e.field, e.desc, e.parent)
	}
	return fmt.Sprintf("field %q: %s", e.field, e.parent)
}

func (e *fieldError) Cause() error  { return e.parent }
func (e *fieldError) Field() string { return e.field }

// FieldErrors walks the error tree and returns every error attached to the
// given field name. The search does not descend into a matching field
// error, so for nested errors of the same name only the outermost is
// returned.
func FieldErrors(err error, name string) []error {
	var found []error
	for !isNilErr(err) {
		if f, ok := err.(fielder); ok && f.Field() == name {
			return append(found, err)
		}
		// Unpack covers every child, Cause would only repeat one of them.
		if u, ok := err.(unpacker); ok {
			for _, child := range u.Unpack() {
				found = append(found, FieldErrors(child, name)...)
			}
			return found
		}
		c, ok := err.(causer)
		if !ok {
			break
		}
		err = c.Cause()
	}
	return found
}

type fielder interface {
	Field() string
}
