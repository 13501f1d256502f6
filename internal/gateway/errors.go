package gateway

import (
	"errors"
	"fmt"
)

// AuthenticationError is returned when a token grant or refresh fails.
type AuthenticationError struct {
	Op  string
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("gateway authentication failed (%s): %v", e.Op, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// TransportError means the gateway's outcome is unknown: network failure,
// timeout, 5xx or an undecodable body.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s: http status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BusinessError is a definitive non-success answer from the gateway.
type BusinessError struct {
	Op            string
	StatusCode    string
	StatusMessage string
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("gateway %s rejected: %s %s", e.Op, e.StatusCode, e.StatusMessage)
}

func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func IsAuthenticationError(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}

func IsBusinessError(err error) bool {
	var be *BusinessError
	return errors.As(err, &be)
}
