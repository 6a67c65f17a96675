package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in   string
		want Category
	}{
		{"version", CategoryVersion},
		{"API", CategoryAPI},
		{" regulatory ", CategoryRegulatory},
		{"definition", CategoryDefinition},
		{"numeric", CategoryNumeric},
		{"decision", CategoryDecision},
		{"other", CategoryOther},
		{"statistic", CategoryOther},
		{"", CategoryOther},
	}

	for _, tt := range tests {
		if got := ParseCategory(tt.in); got != tt.want {
			t.Errorf("ParseCategory(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewCacheKey_Normalizes(t *testing.T) {
	base := NewCacheKey("GDPR requires breach notification within 72 hours")

	variants := []string{
		"GDPR requires breach notification within 72 hours.",
		"  gdpr   requires breach\tnotification within 72 hours ",
		"ＧＤＰＲ requires breach notification within 72 hours",
		"GDPR requires breach\u200b notification within 72 hours",
	}
	for _, v := range variants {
		if got := NewCacheKey(v); got != base {
			t.Errorf("NewCacheKey(%q) = %q, want %q", v, got, base)
		}
	}

	if NewCacheKey("GDPR requires breach notification within 48 hours") == base {
		t.Error("different claims should not share a key")
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusSupported, StatusContradicted, StatusUnclear, StatusNotFound} {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if Status("true").Valid() {
		t.Error("expected unknown status to be invalid")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "none"},
		{"timeout type", &TimeoutError{Op: "search", After: time.Second}, "timeout"},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), "timeout"},
		{"malformed", Malformed("judge", "bad json", nil), "malformed"},
		{"no evidence", &NoEvidenceError{Claim: "x"}, "no_evidence"},
		{"transport", &TransportError{SessionID: "s", Err: ErrTransportClosed}, "transport"},
		{"canceled", context.Canceled, "canceled"},
		{"other", errors.New("boom"), "service"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrapDeadline(t *testing.T) {
	err := WrapDeadline("search", time.Second, context.DeadlineExceeded)
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %T", err)
	}
	if te.Op != "search" || te.After != time.Second {
		t.Errorf("unexpected timeout fields: %+v", te)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("timeout should match context.DeadlineExceeded")
	}

	other := WrapDeadline("judge", time.Second, errors.New("boom"))
	if !strings.HasPrefix(other.Error(), "judge: ") {
		t.Errorf("expected op prefix, got %q", other.Error())
	}

	if WrapDeadline("x", time.Second, nil) != nil {
		t.Error("nil error should stay nil")
	}
}

func TestTransportErrorClosed(t *testing.T) {
	closed := &TransportError{SessionID: "a", Err: fmt.Errorf("write: %w", ErrTransportClosed)}
	if !closed.Closed() {
		t.Error("expected closed transport")
	}
	open := &TransportError{SessionID: "a", Err: errors.New("slow peer")}
	if open.Closed() {
		t.Error("expected transient error")
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Aggregator.MinWords != 6 {
		t.Errorf("expected min words 6, got %d", cfg.Aggregator.MinWords)
	}
	if cfg.Cache.MaxEntries != 1000 || cfg.Cache.TTL != time.Hour {
		t.Errorf("unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.Broadcast.QueueSize != 64 {
		t.Errorf("expected queue size 64, got %d", cfg.Broadcast.QueueSize)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Verification.InFlightPolicy = "block"
	cfg.Broadcast.OverflowPolicy = "drop_all"
	cfg.Search.Provider = "bing"
	cfg.Cache.MaxEntries = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"in_flight_policy", "overflow_policy", "bing", "max_entries"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %q, got %v", want, err)
		}
	}
}
