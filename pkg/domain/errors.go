package domain

import (
	"errors"
	"fmt"
)

var (
	//ErrAuthRequired is returned when an action needs a signed in identity
	ErrAuthRequired = errors.New("authentication required")
	//ErrNotFound is returned when a pin or user does not exist
	ErrNotFound = errors.New("not found")
	//ErrForbidden is returned when the requester may not perform the action
	ErrForbidden = errors.New("forbidden")
	//ErrInvalidPin is returned when pin fields do not match the category catalog
	ErrInvalidPin = errors.New("invalid pin")
	//ErrRateLimited is returned when an author has created too many pins
	ErrRateLimited = errors.New("rate limit exceeded")
)

//WriteError wraps a rejected create or delete
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s pin: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

//NewWriteError wraps err unless it already is a WriteError
func NewWriteError(op string, err error) error {
	var we *WriteError
	if errors.As(err, &we) {
		return err
	}
	return &WriteError{Op: op, Err: err}
}

//GeolocationError is returned when the device position is denied or unavailable
type GeolocationError struct {
	Reason string
	Err    error
}

func (e *GeolocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("geolocation %s: %v", e.Reason, e.Err)
	}
	return "geolocation " + e.Reason
}

func (e *GeolocationError) Unwrap() error {
	return e.Err
}

const (
	GeolocationUnsupported = "unsupported"
	GeolocationDenied      = "denied"
	GeolocationUnavailable = "unavailable"
)

//SignInError is returned when the sign in flow fails
type SignInError struct {
	Err error
}

func (e *SignInError) Error() string {
	return fmt.Sprintf("sign in failed: %v", e.Err)
}

func (e *SignInError) Unwrap() error {
	return e.Err
}
