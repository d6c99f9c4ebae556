package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinBurst(t *testing.T) {
	l := NewLimiter(10, 5)

	for i := 0; i < 5; i++ {
		if !l.Allow() {
			t.Fatalf("Request %d should be allowed within burst", i)
		}
	}

	if l.Allow() {
		t.Error("Request beyond burst should be rejected")
	}
}

func TestTokensRefillOverTime(t *testing.T) {
	l := NewLimiter(100, 2)

	l.Allow()
	l.Allow()
	if l.Allow() {
		t.Fatal("Bucket should be empty")
	}

	time.Sleep(50 * time.Millisecond)

	if !l.Allow() {
		t.Error("Tokens should have refilled after waiting")
	}
}

func TestAllowN(t *testing.T) {
	l := NewLimiter(10, 10)

	if !l.AllowN(10) {
		t.Fatal("Full burst should be allowed at once")
	}
	if l.AllowN(1) {
		t.Error("Bucket should be drained")
	}
}
