/*
Package assert holds the few assertions the claimsend tests use that
testify does not offer in the same form, mostly around the error kinds of
package errors.
*/
package assert

import (
	"reflect"
	"testing"

	"github.com/iov-one/claimsend/errors"
)

// Nil fails the test unless value is nil, including typed nil pointers
// stored in an interface.
func Nil(t testing.TB, value interface{}) {
	t.Helper()
	if !isNil(value) {
		// %+v prints the stack of errors that carry one.
		t.Fatalf("want a nil value, got %+v", value)
	}
}

func isNil(value interface{}) (isnil bool) {
	if value == nil {
		return true
	}
	// IsNil panics for kinds that cannot be nil.
	defer func() {
		if recover() != nil {
			isnil = false
		}
	}()
	return reflect.ValueOf(value).IsNil()
}

// Equal fails the test unless want and got are deeply equal.
func Equal(t testing.TB, want, got interface{}) {
	t.Helper()
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("values not equal \nwant %T %v\n got %T %v", want, want, got, got)
	}
}

// FieldError requires err to carry exactly one error for the field, of the
// kind want. A nil want requires that the field has no error at all.
func FieldError(t testing.TB, err error, field string, want *errors.Error) {
	t.Helper()

	errs := errors.FieldErrors(err, field)
	if want == nil {
		if len(errs) == 0 {
			return
		}
		for i, e := range errs {
			t.Logf("\terror %d: %q", i+1, e)
		}
		t.Fatalf("want no error for %q, got %d", field, len(errs))
	}

	switch len(errs) {
	case 0:
		t.Fatalf("no error found for %q in %v", field, err)
	case 1:
		if !want.Is(errs[0]) {
			t.Fatalf("want %q for %q, got %q", want, field, errs[0])
		}
	default:
		for i, e := range errs {
			t.Logf("\terror %d: %q", i+1, e)
		}
		t.Fatalf("want one error for %q, got %d", field, len(errs))
	}
}

// IsErr fails the test unless got is, or wraps, the want error kind.
func IsErr(t testing.TB, want, got error) {
	t.Helper()
	if want == got {
		return
	}
	if kind, ok := want.(interface{ Is(error) bool }); ok && kind.Is(got) {
		return
	}
	t.Fatalf("want %q, got %+v", want, got)
}
