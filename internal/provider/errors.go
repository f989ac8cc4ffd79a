package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"unified-portfolio-go/internal/models"
)

// Kind is the normalized classification of a provider failure.
type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindNotRegistered Kind = "NOT_REGISTERED"
	KindAuthExpired   Kind = "AUTH_EXPIRED"
	KindRateLimited   Kind = "RATE_LIMITED"
	KindTransient     Kind = "TRANSIENT"
	KindAlreadyGone   Kind = "ALREADY_GONE"
	KindUnknown       Kind = "UNKNOWN"
)

// Error is a classified provider failure. Adapters return *Error for every
// upstream failure so callers never inspect provider specific payloads.
type Error struct {
	Kind       Kind
	Provider   models.Provider
	Op         string
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Provider != "" {
		b.WriteString(" ")
		b.WriteString(string(e.Provider))
	}
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error without an upstream response.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// KindOf returns the classification of err, or "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindUnknown
}

// IsAlreadyGone reports whether err means the upstream resource no longer exists.
func IsAlreadyGone(err error) bool {
	return KindOf(err) == KindAlreadyGone
}

// RetryAfterOf returns the retry hint carried by a RATE_LIMITED error.
func RetryAfterOf(err error) time.Duration {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.RetryAfter
	}
	return 0
}

// Normalize wraps any error into a classified *Error tagged with provider and op.
func Normalize(p models.Provider, op string, err error) error {
	if err == nil {
		return nil
	}
	var perr *Error
	if errors.As(err, &perr) {
		if perr.Provider == "" {
			perr.Provider = p
		}
		if perr.Op == "" {
			perr.Op = op
		}
		return perr
	}
	return &Error{Kind: KindOf(err), Provider: p, Op: op, Err: err}
}

// Classify maps an upstream status code and provider error code to a Kind.
// Provider codes listed in codes take precedence over the status. A 404 or
// 410 is UNKNOWN here; only removals treat it as ALREADY_GONE.
func Classify(status int, code string, codes map[string]Kind) Kind {
	if code != "" {
		if kind, ok := codes[code]; ok {
			return kind
		}
	}
	switch {
	case status == http.StatusPreconditionRequired:
		return KindNotRegistered
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuthExpired
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return KindValidation
	case status == http.StatusRequestTimeout, status >= 500:
		return KindTransient
	default:
		return KindUnknown
	}
}

// ClassifyRemoval is Classify for calls that delete upstream state, where a
// missing resource means the removal already happened.
func ClassifyRemoval(status int, code string, codes map[string]Kind) Kind {
	kind := Classify(status, code, codes)
	if kind == KindUnknown && (status == http.StatusNotFound || status == http.StatusGone) {
		return KindAlreadyGone
	}
	return kind
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
