package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"unified-portfolio-go/internal/models"
)

func TestClassify(t *testing.T) {
	codes := map[string]Kind{"USER_NOT_REGISTERED": KindNotRegistered}

	tests := []struct {
		name   string
		status int
		code   string
		want   Kind
	}{
		{"precondition required", http.StatusPreconditionRequired, "", KindNotRegistered},
		{"provider code wins over status", http.StatusBadRequest, "USER_NOT_REGISTERED", KindNotRegistered},
		{"unauthorized", http.StatusUnauthorized, "", KindAuthExpired},
		{"forbidden", http.StatusForbidden, "", KindAuthExpired},
		{"rate limited", http.StatusTooManyRequests, "", KindRateLimited},
		{"not found on read", http.StatusNotFound, "", KindUnknown},
		{"gone on read", http.StatusGone, "", KindUnknown},
		{"bad request", http.StatusBadRequest, "", KindValidation},
		{"service unavailable", http.StatusServiceUnavailable, "", KindTransient},
		{"request timeout", http.StatusRequestTimeout, "", KindTransient},
		{"unknown code falls back to status", http.StatusBadGateway, "SOMETHING", KindTransient},
		{"teapot", http.StatusTeapot, "", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.status, tt.code, codes); got != tt.want {
				t.Errorf("Classify(%d, %q) = %s, want %s", tt.status, tt.code, got, tt.want)
			}
		})
	}
}

func TestClassifyRemoval(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusNotFound, KindAlreadyGone},
		{http.StatusGone, KindAlreadyGone},
		{http.StatusUnauthorized, KindAuthExpired},
		{http.StatusServiceUnavailable, KindTransient},
	}
	for _, tt := range tests {
		if got := ClassifyRemoval(tt.status, "", nil); got != tt.want {
			t.Errorf("ClassifyRemoval(%d) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("fetch balances: %w", &Error{Kind: KindRateLimited, RetryAfter: 3 * time.Second})
	if KindOf(wrapped) != KindRateLimited {
		t.Fatalf("expected RATE_LIMITED through wrapping, got %s", KindOf(wrapped))
	}
	if RetryAfterOf(wrapped) != 3*time.Second {
		t.Fatalf("expected retry hint to survive wrapping")
	}
	if KindOf(context.DeadlineExceeded) != KindTransient {
		t.Fatalf("deadline should be TRANSIENT")
	}
	if KindOf(errors.New("boom")) != KindUnknown {
		t.Fatalf("plain errors should be UNKNOWN")
	}
	if KindOf(nil) != "" {
		t.Fatalf("nil should have no kind")
	}
}

func TestNormalizeTagsProviderAndOp(t *testing.T) {
	err := Normalize(models.ProviderBrokerage, "list_accounts", context.DeadlineExceeded)
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if perr.Kind != KindTransient || perr.Provider != models.ProviderBrokerage || perr.Op != "list_accounts" {
		t.Fatalf("unexpected normalized error: %+v", perr)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("normalized error should unwrap to the cause")
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	if got := ParseRetryAfter("7", now); got != 7*time.Second {
		t.Errorf("seconds form: got %v", got)
	}
	date := now.Add(90 * time.Second).Format(http.TimeFormat)
	if got := ParseRetryAfter(date, now); got != 90*time.Second {
		t.Errorf("date form: got %v", got)
	}
	if got := ParseRetryAfter("", now); got != 0 {
		t.Errorf("empty: got %v", got)
	}
	if got := ParseRetryAfter("soon", now); got != 0 {
		t.Errorf("garbage: got %v", got)
	}
}

func TestRetryOnlyRetriesTransient(t *testing.T) {
	retryBackoff = time.Millisecond
	defer func() { retryBackoff = 200 * time.Millisecond }()

	calls := 0
	err := Retry(context.Background(), "fetch", 2, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &Error{Kind: KindTransient}
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third attempt, got err=%v calls=%d", err, calls)
	}

	calls = 0
	err = Retry(context.Background(), "fetch", 2, func(ctx context.Context) error {
		calls++
		return &Error{Kind: KindAuthExpired}
	})
	if KindOf(err) != KindAuthExpired || calls != 1 {
		t.Fatalf("AUTH_EXPIRED must not be retried, calls=%d", calls)
	}

	calls = 0
	err = Retry(context.Background(), "fetch", 1, func(ctx context.Context) error {
		calls++
		return &Error{Kind: KindTransient}
	})
	if KindOf(err) != KindTransient || calls != 2 {
		t.Fatalf("expected retries to be bounded, calls=%d", calls)
	}
}
