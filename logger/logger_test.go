package logger

import (
	"os"
	"sync/atomic"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestWithEnv(t *testing.T) {
	os.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestSessionCounters(t *testing.T) {
	before := atomic.LoadInt64(&framesRead)
	IncrementFrameRead(10)
	if got := atomic.LoadInt64(&framesRead); got != before+1 {
		t.Fatalf("frames_read = %d, want %d", got, before+1)
	}

	before = atomic.LoadInt64(&heartbeats)
	IncrementHeartbeat()
	if got := atomic.LoadInt64(&heartbeats); got != before+1 {
		t.Fatalf("heartbeats = %d, want %d", got, before+1)
	}

	IncrementPushDispatched("orderbook:BTC-USD", 42)
	v, ok := channels.Load("orderbook:BTC-USD")
	if !ok {
		t.Fatal("channel stat not recorded")
	}
	cs := v.(*channelStat)
	if atomic.LoadInt64(&cs.bytes) < 42 {
		t.Fatalf("channel bytes = %d, want >= 42", cs.bytes)
	}
}
