package ws

import (
	"encoding/json"
	"testing"

	"rabbitx/models"
)

func TestOpenedOrdersUpsertThenTerminalRemoves(t *testing.T) {
	tracker := NewOpenedOrders(nil)

	tracker.OnSubscribe(json.RawMessage(`{"orders": [
		{"id": "o1", "market_id": "BTC-USD", "status": "open", "price": "100", "size": "1"}
	]}`))
	if _, ok := tracker.Order("BTC-USD", "o1"); !ok {
		t.Fatal("open order should be tracked")
	}

	tracker.OnData(json.RawMessage(`{"orders": [
		{"id": "o1", "market_id": "BTC-USD", "status": "closed"}
	]}`))
	if _, ok := tracker.Order("BTC-USD", "o1"); ok {
		t.Error("closed order must be removed")
	}
	if len(tracker.Orders()) != 0 {
		t.Errorf("orders = %v, want empty", tracker.Orders())
	}
}

func TestOpenedOrdersCancelingRemoves(t *testing.T) {
	tracker := NewOpenedOrders(nil)
	tracker.OnData(json.RawMessage(`{"orders": [
		{"id": "o1", "market_id": "BTC-USD", "status": "open", "price": "100", "size": "1"}
	]}`))
	tracker.OnData(json.RawMessage(`{"orders": [
		{"id": "o1", "market_id": "BTC-USD", "status": "canceling"}
	]}`))
	if _, ok := tracker.Order("BTC-USD", "o1"); ok {
		t.Error("canceling order must be removed as soon as the cancel is in flight")
	}
}

func TestOpenedOrdersTerminalForUnknownOrderIsNoop(t *testing.T) {
	tracker := NewOpenedOrders(nil)
	tracker.OnData(json.RawMessage(`{"orders": [
		{"id": "ghost", "market_id": "BTC-USD", "status": "canceled"}
	]}`))
	if len(tracker.Orders()) != 0 {
		t.Error("terminal update for an unknown order must change nothing")
	}
}

func TestOpenedOrdersUpdateOverwrites(t *testing.T) {
	tracker := NewOpenedOrders(nil)
	tracker.OnData(json.RawMessage(`{"orders": [
		{"id": "o1", "market_id": "BTC-USD", "status": "open", "price": "100", "size": "2", "remaining_size": "2"}
	]}`))
	tracker.OnData(json.RawMessage(`{"orders": [
		{"id": "o1", "market_id": "BTC-USD", "status": "open", "price": "100", "size": "2", "remaining_size": "1"}
	]}`))

	order, ok := tracker.Order("BTC-USD", "o1")
	if !ok {
		t.Fatal("order should still be tracked")
	}
	if order.RemainingSize.String() != "1" {
		t.Errorf("remaining_size = %s, want 1", order.RemainingSize)
	}
}

func TestOpenedOrdersSkipsEntriesWithoutIdentity(t *testing.T) {
	tracker := NewOpenedOrders(nil)
	tracker.OnData(json.RawMessage(`{"orders": [
		{"id": "", "market_id": "BTC-USD", "status": "open"},
		{"id": "o2", "market_id": "", "status": "open"}
	]}`))
	if len(tracker.Orders()) != 0 {
		t.Errorf("orders = %v, want empty", tracker.Orders())
	}
}

func TestOpenedOrdersCallbackOnlyForLiveOrders(t *testing.T) {
	var seen []models.Order
	tracker := NewOpenedOrders(func(o models.Order) { seen = append(seen, o) })

	tracker.OnData(json.RawMessage(`{"orders": [
		{"id": "o1", "market_id": "BTC-USD", "status": "open", "price": "100", "size": "1"},
		{"id": "o2", "market_id": "BTC-USD", "status": "rejected"}
	]}`))

	if len(seen) != 1 || seen[0].ID != "o1" {
		t.Errorf("callbacks = %v, want only o1", seen)
	}
}

func TestOpenedOrdersPerMarket(t *testing.T) {
	tracker := NewOpenedOrders(nil)
	tracker.OnData(json.RawMessage(`{"orders": [
		{"id": "o1", "market_id": "BTC-USD", "status": "open", "price": "100", "size": "1"},
		{"id": "o2", "market_id": "ETH-USD", "status": "placed", "price": "10", "size": "3"}
	]}`))

	if got := tracker.OrdersForMarket("BTC-USD"); len(got) != 1 || got[0].ID != "o1" {
		t.Errorf("BTC-USD orders = %v, want [o1]", got)
	}
	if len(tracker.Orders()) != 2 {
		t.Errorf("total orders = %d, want 2", len(tracker.Orders()))
	}
}
