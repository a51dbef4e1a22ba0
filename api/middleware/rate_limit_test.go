package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type fakeLimiter struct {
	counts map[string]int64
	ttls   map[string]time.Duration
}

func newFakeLimiter() *fakeLimiter {
	return &fakeLimiter{counts: map[string]int64{}, ttls: map[string]time.Duration{}}
}

func (f *fakeLimiter) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	f.counts[key]++
	f.ttls[key] = ttl
	return f.counts[key], nil
}

func checkoutBody() string {
	return `{"contact":{"name":"Wanjiku Kamau","phone":"+254 712 345 678"},"payment_method":"mobile_money"}`
}

func TestRateLimitBlocksAfterIPLimit(t *testing.T) {
	limiter := newFakeLimiter()
	policy := NewRateLimitPolicy("checkout", time.Minute, 2, 0)
	handler := RateLimit(policy, limiter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(checkoutBody()))
		req.RemoteAddr = "203.0.113.9:51515"
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		return resp
	}

	for i := 0; i < 2; i++ {
		if resp := send(); resp.Code != http.StatusCreated {
			t.Fatalf("request %d: expected 201 got %d", i+1, resp.Code)
		}
	}

	resp := send()
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit, got %d", resp.Code)
	}
	envelope := decodeErrorEnvelope(t, resp)
	if envelope.Error.Code != "RATE_LIMIT_EXCEEDED" {
		t.Fatalf("expected RATE_LIMIT_EXCEEDED code got %s", envelope.Error.Code)
	}

	key := policy.ipKey("203.0.113.9")
	if limiter.ttls[key] != time.Minute {
		t.Fatalf("expected window ttl on %s, got %s", key, limiter.ttls[key])
	}
}

func TestRateLimitTracksPhoneAcrossIPs(t *testing.T) {
	limiter := newFakeLimiter()
	policy := NewRateLimitPolicy("checkout", time.Minute, 0, 1)
	handler := RateLimit(policy, limiter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	send := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(checkoutBody()))
		req.RemoteAddr = remoteAddr
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		return resp
	}

	if resp := send("203.0.113.9:51515"); resp.Code != http.StatusCreated {
		t.Fatalf("first request: expected 201 got %d", resp.Code)
	}
	// Same handset from a different IP still hits the phone counter.
	if resp := send("198.51.100.4:40404"); resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for second handset attempt, got %d", resp.Code)
	}
}

func TestRateLimitPhoneCheckLeavesBodyReadable(t *testing.T) {
	limiter := newFakeLimiter()
	policy := NewRateLimitPolicy("checkout", time.Minute, 0, 10)
	var gotBody string
	handler := RateLimit(policy, limiter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body in handler: %v", err)
		}
		gotBody = string(payload)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(checkoutBody()))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if gotBody != checkoutBody() {
		t.Fatalf("handler saw truncated body: %q", gotBody)
	}
}

func TestRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	var calls int
	handler := RateLimit(NewRateLimitPolicy("retry", 0, 0, 0), newFakeLimiter(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/x/retry", nil)
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 5 {
		t.Fatalf("expected all requests through disabled policy, got %d", calls)
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.2")
	if got := clientIP(req); got != "203.0.113.9" {
		t.Fatalf("expected first forwarded ip, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if got := clientIP(req); got != "10.0.0.1" {
		t.Fatalf("expected remote addr host, got %q", got)
	}
}

func TestExtractPhoneFallsBackToContact(t *testing.T) {
	if got := extractPhone([]byte(`{"phone":"+254700000001"}`)); got != "+254700000001" {
		t.Fatalf("top-level phone: got %q", got)
	}
	if got := extractPhone([]byte(`{"contact":{"phone":"+254700000002"}}`)); got != "+254700000002" {
		t.Fatalf("contact phone: got %q", got)
	}
	if got := extractPhone([]byte(`not-json`)); got != "" {
		t.Fatalf("expected empty for invalid json, got %q", got)
	}
}
