package remote

import (
	"errors"
	"fmt"
)

// ErrTransport matches any *TransportError under errors.Is.
var ErrTransport = errors.New("transport error")

// TransportError reports a network, auth, or protocol failure on a
// remote call. The wrapped cause is preserved for inspection.
type TransportError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("remote %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is makes TransportError match ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// DecodeError reports malformed JSON fetched from the remote. It is
// distinct from TransportError: the transfer succeeded but the payload
// is unusable.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed remote document %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
