package server

import (
	"fmt"

	"github.com/taurusgroup/multi-party-rsa/pkg/wire"
)

// Error is a request the server dropped, with the frame kind and the sender.
type Error struct {
	// Kind is empty when the frame could not be parsed.
	Kind wire.Kind
	From string
	// Err is the underlying error
	Err error
}

func (e Error) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("frame from %s: %s", e.From, e.Err)
	}
	return fmt.Sprintf("%s from %s: %s", e.Kind, e.From, e.Err)
}

func (e Error) Unwrap() error {
	return e.Err
}
