package ws

import (
	"encoding/json"
	"sync"

	"rabbitx/logger"
	"rabbitx/models"
)

// Positions tracks the account's open positions from the account channel
// stream, keyed by market. A position whose size drops to zero is flat and is
// removed.
type Positions struct {
	onUpdate func(models.Position)
	log      *logger.Entry

	mu        sync.RWMutex
	positions map[string]models.Position
}

// NewPositions builds the reducer. onUpdate, when non-nil, runs once per
// upserted open position; removals do not fire it.
func NewPositions(onUpdate func(models.Position)) *Positions {
	return &Positions{
		onUpdate:  onUpdate,
		positions: make(map[string]models.Position),
		log:       logger.GetLogger().WithComponent("positions"),
	}
}

// OnSubscribe applies the initial account snapshot.
func (p *Positions) OnSubscribe(data json.RawMessage) {
	p.consume(data)
}

// OnData applies one account diff.
func (p *Positions) OnData(data json.RawMessage) {
	p.consume(data)
}

func (p *Positions) consume(data json.RawMessage) {
	if len(data) == 0 {
		return
	}
	var payload models.PositionsData
	if err := json.Unmarshal(data, &payload); err != nil {
		logger.IncrementDecodeError()
		p.log.WithError(err).Warn("dropping undecodable positions payload")
		return
	}

	var updated []models.Position
	p.mu.Lock()
	for _, position := range payload.Positions {
		if position.MarketID == "" {
			p.log.WithFields(logger.Fields{"position_id": position.ID}).Warn("skipping position without market")
			continue
		}
		if position.Size.IsZero() {
			delete(p.positions, position.MarketID)
			continue
		}
		p.positions[position.MarketID] = position
		updated = append(updated, position)
	}
	p.mu.Unlock()

	if p.onUpdate != nil {
		for _, position := range updated {
			p.onUpdate(position)
		}
	}
}

// Position returns the open position for one market.
func (p *Positions) Position(marketID string) (models.Position, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	position, ok := p.positions[marketID]
	return position, ok
}

// Positions returns every open position.
func (p *Positions) Positions() []models.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.Position, 0, len(p.positions))
	for _, position := range p.positions {
		out = append(out, position)
	}
	return out
}
