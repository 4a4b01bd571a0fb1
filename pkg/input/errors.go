package input

import "errors"

// Sentinel errors for input resolution.
var (
	ErrTooLarge         = errors.New("resolved input exceeds configured size limit")
	ErrFetchFailed      = errors.New("input fetch failed")
	ErrNestedInputSet   = errors.New("input set nested more than one level")
	ErrUnknownInputKind = errors.New("unknown input kind")
	ErrArityMismatch    = errors.New("resolved input vector does not match declared arity")
	ErrNotFullyResolved = errors.New("resolved input vector contains an unresolved or empty entry")
)
