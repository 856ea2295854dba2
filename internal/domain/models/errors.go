package models

import (
	"context"
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindTransientNetwork      ErrorKind = "transient_network"
	KindRateLimited           ErrorKind = "rate_limited"
	KindMalformedData         ErrorKind = "malformed_data"
	KindUnsupportedInstrument ErrorKind = "unsupported_instrument"
	KindTimeout               ErrorKind = "scanner_timeout"
	KindInternal              ErrorKind = "internal"
)

// Retryable reports whether a failure of this kind may succeed when repeated.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTransientNetwork, KindRateLimited, KindTimeout:
		return true
	default:
		return false
	}
}

var (
	ErrAlreadyRunning = errors.New("engine: already running")
	ErrNotStarted     = errors.New("engine: not started")
	ErrNoDataYet      = errors.New("engine: no snapshot published yet")
	ErrUnknownScanner = errors.New("engine: unknown scanner")
)

// ScanError carries the classification of a scanner or market-data failure.
type ScanError struct {
	Kind       ErrorKind
	Op         string
	Instrument string
	Err        error
}

func (e *ScanError) Error() string {
	msg := string(e.Kind)
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Instrument != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Instrument, msg)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *ScanError) Unwrap() error { return e.Err }

func NewScanError(kind ErrorKind, op, instrument string, err error) *ScanError {
	return &ScanError{Kind: kind, Op: op, Instrument: instrument, Err: err}
}

func TransientNetwork(op string, err error) error {
	return &ScanError{Kind: KindTransientNetwork, Op: op, Err: err}
}

func RateLimited(op string, err error) error {
	return &ScanError{Kind: KindRateLimited, Op: op, Err: err}
}

func MalformedData(op, instrument string, err error) error {
	return &ScanError{Kind: KindMalformedData, Op: op, Instrument: instrument, Err: err}
}

func UnsupportedInstrument(op, instrument string, err error) error {
	return &ScanError{Kind: KindUnsupportedInstrument, Op: op, Instrument: instrument, Err: err}
}

// KindOf classifies err. Deadline expiry maps to a timeout; anything
// unclassified is internal and is not retried.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var se *ScanError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

func IsRetryable(err error) bool { return KindOf(err).Retryable() }
