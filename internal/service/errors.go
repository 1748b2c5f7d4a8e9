package service

import (
	"errors"
	"net/http"
)

// Messages returned to clients.
const (
	MsgNotLoaded = "Model not loaded"
	MsgNoImage   = "No image provided"
)

// notReadyError is returned while the model has not finished loading (503).
type notReadyError struct{}

func (notReadyError) Error() string   { return MsgNotLoaded }
func (notReadyError) StatusCode() int { return http.StatusServiceUnavailable }

// ErrNotReady is the shared NotReady error value.
var ErrNotReady error = notReadyError{}

// IsNotReady reports whether err indicates the model is not loaded.
func IsNotReady(err error) bool {
	var e notReadyError
	return errors.As(err, &e)
}

// badInputError rejects a request that misses a required field (400).
type badInputError struct{ msg string }

func (e badInputError) Error() string { return e.msg }
func (badInputError) StatusCode() int { return http.StatusBadRequest }

// ErrBadInput constructs a BadInput error.
func ErrBadInput(msg string) error { return badInputError{msg: msg} }

// IsBadInput reports whether err is a BadInput error.
func IsBadInput(err error) bool {
	var e badInputError
	return errors.As(err, &e)
}

// internalError wraps any failure inside an inference pipeline (500). The
// message is prefix + ": " + the cause, passed through verbatim.
type internalError struct {
	prefix string
	err    error
}

func (e internalError) Error() string { return e.prefix + ": " + e.err.Error() }
func (e internalError) Unwrap() error { return e.err }
func (internalError) StatusCode() int { return http.StatusInternalServerError }

// ErrInternal wraps err with a client-facing prefix such as "Inference error".
func ErrInternal(prefix string, err error) error { return internalError{prefix: prefix, err: err} }

// IsInternal reports whether err is an Internal error.
func IsInternal(err error) bool {
	var e internalError
	return errors.As(err, &e)
}
