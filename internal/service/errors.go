// Package service implements staging, forwarding and failure classification
// for the proxy.
package service

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/sony/gobreaker"
)

// Kind classifies an upstream failure. Handlers translate a Kind into the
// status code and message appropriate for their route; the classification
// itself is route-independent.
type Kind int

const (
	// KindOther is any failure that fits no more specific class.
	KindOther Kind = iota
	// KindTimeout is a deadline expiry, ours or the transport's.
	KindTimeout
	// KindCanceled means the caller went away before the backend answered.
	KindCanceled
	// KindBreakerOpen means the circuit breaker refused the request.
	KindBreakerOpen
	// KindRefused means no connection could be established at all.
	KindRefused
	// KindReset means the connection dropped after it was established.
	KindReset
)

// String returns a short label for logs and tests.
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	case KindBreakerOpen:
		return "breaker_open"
	case KindRefused:
		return "refused"
	case KindReset:
		return "reset"
	default:
		return "other"
	}
}

// Classify maps an upstream transport error onto a Kind.
//
// Timeouts are checked before resets: a deadline expiry can surface wrapped
// in connection-level errors, and the timeout is the fact the caller needs.
func Classify(err error) Kind {
	if err == nil {
		return KindOther
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return KindBreakerOpen
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindRefused
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindRefused
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return KindReset
	}

	return KindOther
}
