package ws

import (
	"encoding/json"
	"testing"
)

type recordingHandler struct {
	name string
	subs []string
	data []string
}

func (h *recordingHandler) OnSubscribe(data json.RawMessage) { h.subs = append(h.subs, string(data)) }
func (h *recordingHandler) OnData(data json.RawMessage)      { h.data = append(h.data, string(data)) }

func TestRegistryHandlersKeepRegistrationOrder(t *testing.T) {
	r := newRegistry()
	first := &recordingHandler{name: "first"}
	second := &recordingHandler{name: "second"}
	r.addHandler("trade:BTC-USD", first)
	r.addHandler("trade:BTC-USD", second)

	hs := r.handlersFor("trade:BTC-USD")
	if len(hs) != 2 {
		t.Fatalf("got %d handlers, want 2", len(hs))
	}
	if hs[0].(*recordingHandler).name != "first" || hs[1].(*recordingHandler).name != "second" {
		t.Error("handlers out of registration order")
	}
	if r.handlersFor("trade:ETH-USD") != nil {
		t.Error("unknown channel should have no handlers")
	}
}

func TestRegistryDesiredDeduplicatesAndKeepsOrder(t *testing.T) {
	r := newRegistry()
	if !r.markDesired("a") {
		t.Error("first markDesired should report new")
	}
	if r.markDesired("a") {
		t.Error("repeated markDesired should report existing")
	}
	r.markDesired("b")
	r.markDesired("a")

	got := r.desiredChannels()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("desiredChannels = %v, want [a b]", got)
	}
}

func TestRegistryRequestedOnlyOnce(t *testing.T) {
	r := newRegistry()
	if !r.markRequested("orderbook:BTC-USD") {
		t.Fatal("first request should proceed")
	}
	if r.markRequested("orderbook:BTC-USD") {
		t.Error("second request for an in-flight channel must be a no-op")
	}

	r.markAcked("orderbook:BTC-USD")
	if r.markRequested("orderbook:BTC-USD") {
		t.Error("request for an acknowledged channel must be a no-op")
	}
	if !r.isAcked("orderbook:BTC-USD") {
		t.Error("channel should be acknowledged")
	}
	if r.isAcked("orderbook:ETH-USD") {
		t.Error("unrelated channel must not be acknowledged")
	}
}
