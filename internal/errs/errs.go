// Package errs defines the error taxonomy shared by the proxy components.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks a missing or invalid setting; fatal for the whole event.
	ErrConfiguration = errors.New("configuration error")
	// ErrMissingToken is returned by the graph sink when no API token is configured.
	ErrMissingToken = fmt.Errorf("%w: graph API token is not set", ErrConfiguration)
	// ErrTransport marks a failure reaching a sink.
	ErrTransport = errors.New("transport error")
	// ErrDecode marks one input line or payload that is not valid JSON.
	ErrDecode = errors.New("decode error")
)
