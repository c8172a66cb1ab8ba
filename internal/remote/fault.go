package remote

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// Fault codes reported by the remote store.
const (
	FaultDuplicateAssociation uint32 = 0x80040237
	FaultObjectNotFound       uint32 = 0x80040217
	FaultThrottled            uint32 = 0x80072321
	FaultGeneric              uint32 = 0x80040216
)

// FaultError is a failure reported by the remote store.
type FaultError struct {
	Op      string
	Code    uint32
	Status  int
	Message string
}

// Error implements the error interface.
func (e *FaultError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: fault 0x%08X (status %d): %s", e.Op, e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("fault 0x%08X (status %d): %s", e.Code, e.Status, e.Message)
}

// ParseFaultCode parses the hex or decimal fault code form used in error
// bodies ("0x80040237" or "-2147220937").
func ParseFaultCode(s string) (uint32, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToLower(s), "0x") {
		n, err := strconv.ParseUint(s[2:], 16, 32)
		if err != nil {
			return 0, false
		}
		return uint32(n), true
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < math.MinInt32 || n > math.MaxUint32 {
		return 0, false
	}
	return uint32(n), true
}

// IsDuplicateAssociation reports whether err says the link already exists.
// Uses errors.As to handle wrapped errors.
func IsDuplicateAssociation(err error) bool {
	var fe *FaultError
	return errors.As(err, &fe) && fe.Code == FaultDuplicateAssociation
}

// IsNotFound reports whether err says a record does not exist.
func IsNotFound(err error) bool {
	var fe *FaultError
	if errors.As(err, &fe) {
		return fe.Code == FaultObjectNotFound || fe.Status == http.StatusNotFound
	}
	return false
}

// IsTransient reports whether retrying the call may succeed: throttling,
// server-side 5xx, and network errors. Context cancellation is never
// transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var fe *FaultError
	if errors.As(err, &fe) {
		if fe.Code == FaultThrottled {
			return true
		}
		switch fe.Status {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	var ne net.Error
	return errors.As(err, &ne)
}
