package archivecore

import (
	"errors"
	"strings"
)

// Error is the archivecore error domain type.
//
// Errors coming from archivecore components should be able to be inspected
// as ([errors.As]) an *Error at some point in the error chain.
//
// Components should create an Error at the system boundary (opening a
// file, constructing a record batch, writing to the sink) and intermediate
// layers should prefer [fmt.Errorf] with a "%w" verb over wrapping in
// another Error, except to add additional [ErrorKind] information.
type Error struct {
	Inner   error
	Kind    ErrorKind
	Message string
	Op      string
}

var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	b.WriteString("[")
	switch e.Kind {
	case ErrIO, ErrEmpty, ErrUnsupported, ErrDecodeUTF8, ErrSerialize, ErrWrite, ErrWriterClosed:
		b.WriteString(string(e.Kind))
	default:
		b.WriteString("???")
	}
	b.WriteString("]: ")
	if e.Message != "" {
		b.WriteString(e.Message)
	}
	if e.Message != "" && e.Inner != nil {
		b.WriteString(": ")
	}
	if e.Op == "" && e.Message == "" {
		b.Reset()
	}
	if e.Inner != nil {
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is enables [errors.Is]. Callers should compare against a declared
// [ErrorKind] rather than a specific *Error value.
func (e *Error) Is(kind error) bool {
	return errors.Is(e.Kind, kind)
}

// Unwrap enables [errors.Unwrap].
func (e *Error) Unwrap() error {
	return e.Inner
}

// ErrorKind represents the taxonomy of errors the core surfaces to callers.
//
// If a component is unsure which kind applies, ErrIO is the default for
// byte-stream failures and ErrSerialize for columnar construction failures.
type ErrorKind string

// Defined error kinds.
var (
	ErrIO            = ErrorKind("io")              // underlying byte-stream failure: open, read, write, close
	ErrEmpty         = ErrorKind("format.empty")     // a stream yielded zero bytes when sniffed
	ErrUnsupported   = ErrorKind("format.unsupported") // prefix matched no known container
	ErrDecodeUTF8    = ErrorKind("decode.utf8")      // text gating failed on a specific entry; always a skip, never fatal
	ErrSerialize     = ErrorKind("serialize")        // columnar batch construction failed
	ErrWrite         = ErrorKind("write")            // persistence layer refused a batch or failed to finalize
	ErrWriterClosed  = ErrorKind("writer.closed")    // write attempted after finalization
)

// Error implements error.
func (e ErrorKind) Error() string {
	return string(e)
}
