package store

import (
	"errors"
	"fmt"
	"testing"
)

// Compile-time checks that the interfaces are importable and usable.
func TestStoreInterfacesExist(t *testing.T) {
	var _ Store
	var _ AccountStore
	var _ MirrorStore
	var _ TradeStore
}

func TestSentinelErrorsWrap(t *testing.T) {
	wrapped := fmt.Errorf("lookup acct-1: %w", ErrAccountNotFound)
	if !errors.Is(wrapped, ErrAccountNotFound) {
		t.Fatalf("expected wrapped error to match ErrAccountNotFound")
	}
	if errors.Is(wrapped, ErrCredentialNotFound) {
		t.Fatalf("sentinels must be distinct")
	}
	if !errors.Is(wrapped, ErrNotFound) {
		t.Fatalf("specific not-found errors should match ErrNotFound")
	}
}
