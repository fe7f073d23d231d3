package ratelimit

import (
	"testing"
	"time"
)

func TestBurstThenDeny(t *testing.T) {
	limiter := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         5,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	key := "203.0.113.7"
	for i := 0; i < 5; i++ {
		if !limiter.Allow(key) {
			t.Errorf("request %d denied inside the burst", i)
		}
	}
	if limiter.Allow(key) {
		t.Error("request past the burst was allowed")
	}

	// One token refills per second at 60/min.
	time.Sleep(time.Second)
	if !limiter.Allow(key) {
		t.Error("request denied after refill")
	}
}

func TestKeysDoNotShareBuckets(t *testing.T) {
	limiter := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         3,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		limiter.Allow("203.0.113.7")
	}
	if limiter.Allow("203.0.113.7") {
		t.Error("exhausted key was allowed")
	}
	if !limiter.Allow("198.51.100.9") {
		t.Error("fresh key was denied by another key's burst")
	}
}

func TestRefillRate(t *testing.T) {
	limiter := New(Config{
		RequestsPerMinute: 600, // 10/sec
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	key := "webhook-sender"
	if !limiter.Allow(key) {
		t.Error("first request denied")
	}
	if limiter.Allow(key) {
		t.Error("second immediate request allowed with burst 1")
	}

	time.Sleep(110 * time.Millisecond)
	if !limiter.Allow(key) {
		t.Error("request denied after a full token refilled")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RequestsPerMinute != 60 || cfg.BurstSize != 10 || cfg.CleanupInterval != time.Minute {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}
