package errors

import (
	"fmt"
	"strings"
)

// Append clubs together all provided errors. Nil values are ignored. Multi
// errors are flattened so that the result is never nested.
//
// It returns nil if no error was provided and the error itself if exactly one
// was provided.
func Append(errs ...error) error {
	var me multiErr
	for _, e := range errs {
		if isNilErr(e) {
			continue
		}
		if m, ok := e.(multiErr); ok {
			me = append(me, m...)
			continue
		}
		me = append(me, e)
	}
	switch len(me) {
	case 0:
		return nil
	case 1:
		return me[0]
	default:
		return me
	}
}

type multiErr []error

func (me multiErr) Error() string {
	points := make([]string, len(me))
	for i, err := range me {
		points[i] = fmt.Sprintf("* %s", err)
	}
	return fmt.Sprintf("%d errors occurred:\n\t%s\n", len(me), strings.Join(points, "\n\t"))
}

// Unpack returns all errors this instance is holding.
func (me multiErr) Unpack() []error {
	return me
}

var _ unpacker = multiErr(nil)
