package internal

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiter_AllowWithinLimit(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !limiter.allow("192.168.1.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if limiter.allow("192.168.1.1") {
		t.Error("request over the limit should be denied")
	}
	if !limiter.allow("192.168.1.2") {
		t.Error("different IP should not share the bucket")
	}
}

func TestRateLimiter_WindowReset(t *testing.T) {
	window := 50 * time.Millisecond
	limiter := NewRateLimiter(1, window)

	if !limiter.allow("10.0.0.1") {
		t.Fatal("first request should be allowed")
	}
	if limiter.allow("10.0.0.1") {
		t.Fatal("second request in window should be denied")
	}

	time.Sleep(window + 20*time.Millisecond)

	if !limiter.allow("10.0.0.1") {
		t.Error("request after window reset should be allowed")
	}
}

func TestRateLimiter_SweepBoundsMap(t *testing.T) {
	window := 30 * time.Millisecond
	limiter := NewRateLimiter(10, window)

	for i := 0; i < 200; i++ {
		limiter.allow("172.16.0." + string(rune('a'+i%26)))
	}

	time.Sleep(window + 20*time.Millisecond)

	// Next request triggers the sweep of expired buckets.
	limiter.allow("10.0.0.9")

	limiter.mu.Lock()
	size := len(limiter.buckets)
	limiter.mu.Unlock()
	if size > 5 {
		t.Errorf("expected expired buckets to be swept, map still holds %d entries", size)
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	req.RemoteAddr = "192.168.1.1:1234"

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("second request: expected 429, got %d", w.Code)
	}
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	req.RemoteAddr = "10.1.2.3:9999"
	if got := GetClientIP(req); got != "10.1.2.3:9999" {
		t.Errorf("expected RemoteAddr fallback, got %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := GetClientIP(req); got != "203.0.113.7" {
		t.Errorf("expected first X-Forwarded-For entry, got %q", got)
	}
}
