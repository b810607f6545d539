package ws

import (
	"encoding/json"
	"sync"

	"rabbitx/logger"
	"rabbitx/models"
)

// OpenedOrders tracks the account's live orders from the account channel
// stream, keyed by market and order id. Orders that reach a terminal status
// are removed rather than kept around with a dead status.
type OpenedOrders struct {
	onUpdate func(models.Order)
	log      *logger.Entry

	mu     sync.RWMutex
	orders map[string]map[string]models.Order
}

// NewOpenedOrders builds the reducer. onUpdate, when non-nil, runs once per
// upserted live order; removals do not fire it.
func NewOpenedOrders(onUpdate func(models.Order)) *OpenedOrders {
	return &OpenedOrders{
		onUpdate: onUpdate,
		orders:   make(map[string]map[string]models.Order),
		log:      logger.GetLogger().WithComponent("orders"),
	}
}

// OnSubscribe applies the initial account snapshot.
func (t *OpenedOrders) OnSubscribe(data json.RawMessage) {
	t.consume(data)
}

// OnData applies one account diff.
func (t *OpenedOrders) OnData(data json.RawMessage) {
	t.consume(data)
}

func (t *OpenedOrders) consume(data json.RawMessage) {
	if len(data) == 0 {
		return
	}
	var payload models.OrdersData
	if err := json.Unmarshal(data, &payload); err != nil {
		logger.IncrementDecodeError()
		t.log.WithError(err).Warn("dropping undecodable orders payload")
		return
	}

	var updated []models.Order
	t.mu.Lock()
	for _, order := range payload.Orders {
		if order.MarketID == "" || order.ID == "" {
			t.log.WithFields(logger.Fields{"order_id": order.ID}).Warn("skipping order without identity")
			continue
		}
		if models.IsTerminalOrderStatus(order.Status) {
			if market, ok := t.orders[order.MarketID]; ok {
				delete(market, order.ID)
				if len(market) == 0 {
					delete(t.orders, order.MarketID)
				}
			}
			continue
		}
		market, ok := t.orders[order.MarketID]
		if !ok {
			market = make(map[string]models.Order)
			t.orders[order.MarketID] = market
		}
		market[order.ID] = order
		updated = append(updated, order)
	}
	t.mu.Unlock()

	if t.onUpdate != nil {
		for _, order := range updated {
			t.onUpdate(order)
		}
	}
}

// Order returns one live order by market and id.
func (t *OpenedOrders) Order(marketID, orderID string) (models.Order, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	order, ok := t.orders[marketID][orderID]
	return order, ok
}

// OrdersForMarket returns the live orders for one market.
func (t *OpenedOrders) OrdersForMarket(marketID string) []models.Order {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.Order, 0, len(t.orders[marketID]))
	for _, order := range t.orders[marketID] {
		out = append(out, order)
	}
	return out
}

// Orders returns every live order across markets.
func (t *OpenedOrders) Orders() []models.Order {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []models.Order
	for _, market := range t.orders {
		for _, order := range market {
			out = append(out, order)
		}
	}
	return out
}
