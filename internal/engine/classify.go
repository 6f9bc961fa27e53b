package engine

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"syscall"
)

var (
	// ErrNotFound marks an authoritative negative DNS answer.
	ErrNotFound = errors.New("no such host")
	// ErrTimeout marks an attempt that exceeded its time budget.
	ErrTimeout = errors.New("timeout")
	// ErrUnreachable marks a host that refused or dropped the connection.
	ErrUnreachable = errors.New("host unreachable")
	// ErrStoreUnavailable marks a persistence failure that aborted the run.
	ErrStoreUnavailable = errors.New("result store unavailable")
)

// ClassifyResolution maps a resolver error to an outcome.
func ClassifyResolution(err error) Outcome {
	if err == nil {
		return Resolved
	}
	if errors.Is(err, ErrNotFound) {
		return NotFound
	}
	if isTimeout(err) {
		return Timeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return NotFound
		}
		return Failed
	}

	if strings.Contains(strings.ToLower(err.Error()), "no such host") {
		return NotFound
	}
	return Failed
}

// ClassifyVerification maps an HTTP probe error to an outcome.
func ClassifyVerification(err error) Outcome {
	if err == nil {
		return Checked
	}
	if isTimeout(err) {
		return Timeout
	}
	if errors.Is(err, ErrUnreachable) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return Unreachable
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return Unreachable
	}
	return Failed
}

// retryable reports whether a resolution outcome deserves a second attempt.
func retryable(o Outcome) bool {
	return o == Timeout || o == Failed
}

func isTimeout(err error) bool {
	if errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
