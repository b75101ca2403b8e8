package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ProviderError is a failed provider call. It is the SendFailure the
// dispatcher records as a message's error detail.
type ProviderError struct {
	StatusCode int
	// Code is the Graph API error code when the body carried one.
	Code      int
	Message   string
	Transient bool
	Cause     error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 5)
	parts = append(parts, "provider error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if e.Code > 0 {
		parts = append(parts, fmt.Sprintf("code=%d", e.Code))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether the failure was likely caused by load or the
// network rather than by the request itself.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// FailureReason buckets err into a low-cardinality metrics label.
func FailureReason(err error) string {
	var providerErr *ProviderError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &providerErr) && providerErr.Transient:
		return "provider_transient"
	case errors.As(err, &providerErr):
		return "provider_rejected"
	case IsTransient(err):
		return "network"
	}
	return "other"
}
