package rice

// ErrorKind identifies a kind of error. It satisfies the error interface so
// callers can match it with errors.Is.
type ErrorKind string

const (
	// ErrInvalidCompressedData indicates the bitstream ended before all values
	// were read, or that a whole unread byte trails the last value.
	ErrInvalidCompressedData = ErrorKind("ErrInvalidCompressedData")

	// ErrInvalidParameter indicates k is out of range or the initial value and
	// entry count are inconsistent.
	ErrInvalidParameter = ErrorKind("ErrInvalidParameter")

	// ErrOverflow indicates a decoded value does not fit in a signed 64-bit
	// integer.
	ErrOverflow = ErrorKind("ErrOverflow")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies a decoding error. Err is always one of the ErrorKind
// values above.
type Error struct {
	Err         error
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

func makeError(kind ErrorKind, desc string) Error {
	return Error{Err: kind, Description: desc}
}
