package types

import (
	"errors"
	"fmt"
)

// AdapterErrorKind classifies a failed bridge call for the state machine.
type AdapterErrorKind int

const (
	// AdapterTransient covers network failures and timeouts. Retried
	// with backoff.
	AdapterTransient AdapterErrorKind = iota
	// AdapterRejected covers business-rule rejections (margin, symbol
	// not tradable, invalid volume). Not retried automatically.
	AdapterRejected
)

// AdapterError is the error returned by every broker adapter call.
// Adapter errors never escape the engine as crashes; each one maps to a
// state transition.
type AdapterError struct {
	Kind    AdapterErrorKind
	Op      string // "open_order", "close_order", ...
	Code    string // broker retcode if available
	Message string
	Err     error // wrapped cause, if any
}

func (e *AdapterError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewTransientError builds a retryable adapter error.
func NewTransientError(op, message string, cause error) *AdapterError {
	return &AdapterError{Kind: AdapterTransient, Op: op, Message: message, Err: cause}
}

// NewRejectedError builds a non-retryable adapter error.
func NewRejectedError(op, code, message string) *AdapterError {
	return &AdapterError{Kind: AdapterRejected, Op: op, Code: code, Message: message}
}

// IsTransient reports whether err is a retryable adapter failure.
// Timeouts and unclassified errors count as transient.
func IsTransient(err error) bool {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Kind == AdapterTransient
	}
	return true
}

// IsRejected reports whether err is a broker business-rule rejection.
func IsRejected(err error) bool {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Kind == AdapterRejected
	}
	return false
}

// Known MT5 bridge retcodes surfaced as rejections.
const (
	ErrNoMoney        = "TRADE_RETCODE_NO_MONEY"
	ErrMarketClosed   = "TRADE_RETCODE_MARKET_CLOSED"
	ErrInvalidVolume  = "TRADE_RETCODE_INVALID_VOLUME"
	ErrTradeDisabled  = "TRADE_RETCODE_TRADE_DISABLED"
	ErrPositionClosed = "TRADE_RETCODE_POSITION_CLOSED"
)
