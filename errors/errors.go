package errors

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidInput stands for general input problems indication.
	ErrInvalidInput = Register(2, "invalid input")

	// ErrNotFound is used when a requested operation cannot be completed
	// due to missing data, ie. an unknown claim token or record id.
	ErrNotFound = Register(3, "not found")

	// ErrAlreadyResolved is returned when a record is terminal or another
	// caller is already resolving it.
	ErrAlreadyResolved = Register(4, "already resolved")

	// ErrUnauthorized is used whenever the acting identity does not match
	// the one that a record allows.
	ErrUnauthorized = Register(5, "unauthorized")

	// ErrExpired is returned when a claim is attempted past its deadline.
	ErrExpired = Register(6, "expired")

	// ErrRecipientNotReady is returned when a destination has not
	// registered the asset and cannot receive it.
	ErrRecipientNotReady = Register(7, "recipient not ready")

	// ErrInsufficientBalance is returned when an account does not hold
	// enough of an asset or of the reserve currency.
	ErrInsufficientBalance = Register(8, "insufficient balance")

	// ErrInvalidAmount stands for a non-positive or malformed amount.
	ErrInvalidAmount = Register(9, "invalid amount")

	// ErrInvalidIdentity is returned for malformed ledger addresses.
	ErrInvalidIdentity = Register(10, "invalid identity")

	// ErrLedgerSubmission is returned when operations could not be handed
	// to the ledger. The same operations can be submitted again.
	ErrLedgerSubmission = Register(11, "ledger submission failed")

	// ErrLedgerTimeout is returned when an operation was not confirmed
	// within the allowed number of rounds.
	ErrLedgerTimeout = Register(12, "ledger confirmation timeout")

	// ErrPolicyCompilation is returned when a predicate cannot be
	// translated to its executable form. It is deterministic.
	ErrPolicyCompilation = Register(13, "policy compilation failed")

	// ErrState is returned when an object is in invalid state for the
	// requested operation.
	ErrState = Register(14, "invalid state")

	// ErrDuplicate is returned when there is a record already that has the
	// same unique key.
	ErrDuplicate = Register(15, "duplicate")

	// ErrConflict is returned by stores when a compare-and-set update lost
	// against a concurrent writer.
	ErrConflict = Register(16, "conflict")

	// ErrNetwork is returned on transport failures.
	ErrNetwork = Register(17, "network")

	// ErrLedgerRejected is returned when the ledger refused a group for a
	// deterministic reason. Resubmitting the same bytes will fail again.
	ErrLedgerRejected = Register(18, "ledger rejected")

	// ErrEmpty is returned when a value fails a not empty assertion.
	ErrEmpty = Register(19, "value is empty")

	// ErrModel is returned whenever a model is invalid and cannot be
	// persisted.
	ErrModel = Register(20, "invalid model")

	// ErrHuman is returned when application reaches a code path which
	// should not ever be reached if the code was written as expected.
	ErrHuman = Register(21, "coding error")

	// ErrPanic is only set when we recover from a panic, so we know to
	// redact potentially sensitive system info.
	ErrPanic = Register(111222, "panic")
)

// Register returns an error instance that should be used as the base for
// creating error instances during runtime.
//
// Popular root errors are declared in this package, but extensions may want to
// declare custom codes. This function ensures that no error code is used
// twice. Attempt to reuse an error code results in panic.
//
// Use this function only during a program startup phase.
func Register(code uint32, description string) *Error {
	if e, ok := usedCodes[code]; ok {
		panic(fmt.Sprintf("error with code %d is already registered: %q", code, e.desc))
	}
	err := &Error{
		code: code,
		desc: description,
	}
	usedCodes[err.code] = err
	return err
}

// usedCodes is keeping track of used codes to ensure their uniqueness. No two
// error instances should share the same error code.
var usedCodes = map[uint32]*Error{
	1: nil, // Error code 1 is restricted for errors that are not registered.
}

// Error represents a root error.
//
// Root errors categorize issues. Each instance created during the runtime
// should wrap one of the declared root errors. This allows error tests and
// returning all errors to the client in a safe manner.
type Error struct {
	code uint32
	desc string
}

func (e Error) Error() string {
	return e.desc
}

// Code returns the numeric code of this root error.
func (e Error) Code() uint32 {
	return e.code
}

// New returns a new error. Returned instance is having the root cause set to
// this error. Below two lines are equal
//   e.New("my description")
//   Wrap(e, "my description")
func (e *Error) New(description string) error {
	return Wrap(e, description)
}

// Newf is basically New with formatting capabilities
func (e *Error) Newf(description string, args ...interface{}) error {
	return e.New(fmt.Sprintf(description, args...))
}

// Is check if given error instance is of a given kind/type. This involves
// unwrapping given error using the Cause method if available.
func (kind *Error) Is(err error) bool {
	// Reflect usage is necessary to correctly compare with
	// a nil implementation of an error.
	if kind == nil {
		return isNilErr(err)
	}

	for {
		if err == kind {
			return true
		}

		if u, ok := err.(unpacker); ok {
			for _, e := range u.Unpack() {
				if kind.Is(e) {
					return true
				}
			}
		}

		if c, ok := err.(causer); ok {
			err = c.Cause()
		} else {
			return false
		}
	}
}

// Code returns the code of the root error that err wraps. Errors that do not
// wrap a registered error report code 1.
func Code(err error) uint32 {
	if isNilErr(err) {
		return 0
	}
	if root, ok := rootError(err).(*Error); ok {
		return root.code
	}
	return 1
}

// IsRetryable returns true if the operation that produced err may be
// attempted again unchanged. Only transient ledger and transport failures
// qualify.
func IsRetryable(err error) bool {
	return ErrLedgerSubmission.Is(err) ||
		ErrLedgerTimeout.Is(err) ||
		ErrNetwork.Is(err)
}

// IsInvalidInput groups the caller input errors.
func IsInvalidInput(err error) bool {
	return ErrInvalidInput.Is(err) ||
		ErrInvalidIdentity.Is(err) ||
		ErrInvalidAmount.Is(err)
}

func rootError(err error) error {
	for {
		c, ok := err.(causer)
		if !ok {
			return err
		}
		next := c.Cause()
		if next == nil {
			return err
		}
		err = next
	}
}

// Wrap extends given error with an additional information.
//
// If err is nil, this returns nil, avoiding the need for an if statement when
// wrapping a error returned at the end of a function
func Wrap(err error, description string) error {
	if err == nil {
		return nil
	}

	// If this error does not carry the stacktrace information yet, attach
	// one. This should be done only once per error at the lowest frame
	// possible (most inner wrap).
	if stackTrace(err) == nil {
		err = errors.WithStack(err)
	}

	return &wrappedError{
		parent: err,
		msg:    description,
	}
}

// Wrapf extends given error with an additional information.
//
// This function works like Wrap function with additional funtionality of
// formatting the input as specified.
func Wrapf(err error, format string, args ...interface{}) error {
	desc := fmt.Sprintf(format, args...)
	return Wrap(err, desc)
}

type wrappedError struct {
	// This error layer description.
	msg string
	// The underlying error that triggered this one.
	parent error
}

func (e *wrappedError) Error() string {
	return fmt.Sprintf("%s: %s", e.msg, e.parent.Error())
}

func (e *wrappedError) Cause() error {
	return e.parent
}

// Format works like pkg/errors, with additions.
// %s is just the error message
// %+v is the full stack trace
// %v appends a compressed [filename:line] where the error was created
func (e *wrappedError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "%s", e.Error())
			if st := stackTrace(e); st != nil {
				fmt.Fprintf(s, "%+v", st)
			}
			return
		}
		fmt.Fprint(s, e.Error())
		if st := stackTrace(e); len(st) > 0 {
			fmt.Fprintf(s, " [%v]", st[0])
		}
	default:
		fmt.Fprint(s, e.Error())
	}
}

// Recover captures a panic and stop its propagation. If panic happens it is
// transformed into a ErrPanic instance and assigned to given error. Call this
// function using defer in order to work as expected.
func Recover(err *error) {
	if r := recover(); r != nil {
		*err = Wrapf(ErrPanic, "%v", r)
	}
}

// WithType is a helper to augment an error with a corresponding type message
func WithType(err error, obj interface{}) error {
	return Wrap(err, fmt.Sprintf("%T", obj))
}

// causer is an interface implemented by an error that supports wrapping. Use
// it to test if an error wraps another error instance.
type causer interface {
	Cause() error
}

// unpacker is implemented by errors that hold more than one child error.
type unpacker interface {
	Unpack() []error
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// stackTrace returns the first found stack trace frame carried by given error
// or any wrapped error. It returns nil if no stack trace is found.
func stackTrace(err error) errors.StackTrace {
	for {
		if st, ok := err.(stackTracer); ok {
			return st.StackTrace()
		}
		if c, ok := err.(causer); ok {
			err = c.Cause()
		} else {
			return nil
		}
	}
}

func isNilErr(err error) bool {
	// Reflect usage is necessary to correctly compare with
	// a nil implementation of an error.
	if err == nil {
		return true
	}
	switch v := reflect.ValueOf(err); v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	default:
		return false
	}
}
