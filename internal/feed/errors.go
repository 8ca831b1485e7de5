package feed

import (
	"errors"
	"fmt"
)

// ErrUnknownRecord is returned by writes that target an id the store does
// not hold.
var ErrUnknownRecord = errors.New("unknown ride record")

var errNotSupported = errors.New("operation not supported by store")

// TransportError wraps read, subscribe and write failures caused by the
// remote being unreachable or rejecting credentials.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("feed %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transport wraps err as a TransportError unless it is nil or already one.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
