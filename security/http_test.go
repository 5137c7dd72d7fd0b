package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name              string
		remoteAddr        string
		xff               string
		xRealIP           string
		trustProxy        bool
		trustedProxyCount int
		want              string
	}{
		{"direct connection", "203.0.113.9:4321", "", "", false, 0, "203.0.113.9"},
		{"xff ignored without trust", "203.0.113.9:4321", "198.51.100.1", "", false, 0, "203.0.113.9"},
		{"xff honored with trust", "10.0.0.1:4321", "198.51.100.1", "", true, 0, "198.51.100.1"},
		{"xff with proxy chain", "10.0.0.1:4321", "198.51.100.1, 10.0.0.2, 10.0.0.3", "", true, 2, "198.51.100.1"},
		{"spoofed extra entry", "10.0.0.1:4321", "1.2.3.4, 198.51.100.1", "", true, 1, "1.2.3.4"},
		{"x-real-ip fallback", "10.0.0.1:4321", "", "198.51.100.7", true, 0, "198.51.100.7"},
		{"garbage xff falls through", "10.0.0.1:4321", "not-an-ip", "", true, 0, "10.0.0.1"},
		{"ipv6 remote", "[2001:db8::1]:4321", "", "", false, 0, "2001:db8::1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				r.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xRealIP != "" {
				r.Header.Set("X-Real-IP", tc.xRealIP)
			}

			if got := GetClientIP(r, tc.trustProxy, tc.trustedProxyCount); got != tc.want {
				t.Errorf("GetClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestEnsureRequestID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(RequestIDHeader, "upstream-id_123")
	if got := EnsureRequestID(r); got != "upstream-id_123" {
		t.Errorf("valid upstream ID replaced: %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(RequestIDHeader, "bad id with spaces")
	if got := EnsureRequestID(r); got == "bad id with spaces" || got == "" {
		t.Errorf("invalid upstream ID not replaced: %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(RequestIDHeader, strings.Repeat("a", 200))
	if got := EnsureRequestID(r); len(got) > 128 {
		t.Errorf("oversized upstream ID accepted: %d chars", len(got))
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	if got := EnsureRequestID(r); got == "" {
		t.Error("no ID generated for a bare request")
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Errorf("RequestIDFromContext = %q", got)
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("empty context returned %q", got)
	}
}

func TestSetSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSecurityHeaders(rec, "https://auth.example.com")

	for header, want := range map[string]string{
		"X-Frame-Options":           "DENY",
		"X-Content-Type-Options":    "nosniff",
		"Referrer-Policy":           "no-referrer",
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if cc := rec.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Errorf("Cache-Control = %q, want no-store", cc)
	}

	// No HSTS for a plain-HTTP issuer.
	rec = httptest.NewRecorder()
	SetSecurityHeaders(rec, "http://localhost:8080")
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS set for a non-HTTPS issuer")
	}
}

func TestIsTokenExpired(t *testing.T) {
	if IsTokenExpired(time.Time{}) {
		t.Error("zero expiry should mean no expiration")
	}
	if IsTokenExpired(time.Now().Add(time.Hour)) {
		t.Error("future expiry reported expired")
	}
	if !IsTokenExpired(time.Now().Add(-time.Hour)) {
		t.Error("past expiry not reported expired")
	}
	// Within the clock-skew grace period just past expiry.
	if IsTokenExpired(time.Now().Add(-DefaultClockSkewGracePeriod / 2)) {
		t.Error("expiry within the grace period reported expired")
	}
}

func TestIsTokenExpiredAt(t *testing.T) {
	at := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	if IsTokenExpiredAt(at, time.Time{}, DefaultClockSkewGracePeriod) {
		t.Error("zero expiry should mean no expiration")
	}
	if IsTokenExpiredAt(at, at.Add(-DefaultClockSkewGracePeriod/2), DefaultClockSkewGracePeriod) {
		t.Error("expiry within the grace period reported expired")
	}
	if !IsTokenExpiredAt(at, at.Add(-DefaultClockSkewGracePeriod-time.Second), DefaultClockSkewGracePeriod) {
		t.Error("expiry past the grace period not reported expired")
	}
}
