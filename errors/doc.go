/*
Package errors implements the error taxonomy of the escrow claim protocol.

Every error returned by this module wraps exactly one root error declared in
this package. Test the kind of an error with the Is method of a root error:

	if errors.ErrAlreadyResolved.Is(err) {
		...
	}

Validation, authorization and state errors are surfaced to the caller as they
are. Ledger transport and confirmation errors are transient, use IsRetryable to
learn whether the same operations may be submitted again.

There is also support for stacktraces. Please ensure you create the custom error using
ErrXyz.New("...") or errors.Wrap(err, "...") at the point of creation to ensure we attach
a stacktrace. If you wrap multiple times, we only record the first wrap with the stacktrace.

Once you have an error, you can use `fmt.Printf/Sprintf` to get more context for the error
	%s is just the error message
	%+v is the full stack trace
	%v appends a compressed [filename:line] where the error was created
*/
package errors
