package ws

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"rabbitx/logger"
	"rabbitx/models"
)

// Side labels reported by the orderbook update callback: asks are quoted as
// short interest, bids as long.
const (
	SideShort = "short"
	SideLong  = "long"
)

// bookSide keeps one side's levels sorted by ascending price.
type bookSide struct {
	levels []models.BookLevel
}

func (s *bookSide) find(price decimal.Decimal) (int, bool) {
	i := sort.Search(len(s.levels), func(i int) bool {
		return s.levels[i].Price.Cmp(price) >= 0
	})
	return i, i < len(s.levels) && s.levels[i].Price.Equal(price)
}

// apply upserts the level, or removes it when the size is zero.
func (s *bookSide) apply(level models.BookLevel) {
	i, ok := s.find(level.Price)
	if level.Size.IsZero() {
		if ok {
			s.levels = append(s.levels[:i], s.levels[i+1:]...)
		}
		return
	}
	if ok {
		s.levels[i].Size = level.Size
		return
	}
	s.levels = append(s.levels, models.BookLevel{})
	copy(s.levels[i+1:], s.levels[i:])
	s.levels[i] = level
}

func (s *bookSide) lowest() (models.BookLevel, bool) {
	if len(s.levels) == 0 {
		return models.BookLevel{}, false
	}
	return s.levels[0], true
}

func (s *bookSide) highest() (models.BookLevel, bool) {
	if len(s.levels) == 0 {
		return models.BookLevel{}, false
	}
	return s.levels[len(s.levels)-1], true
}

func (s *bookSide) snapshot() []models.BookLevel {
	out := make([]models.BookLevel, len(s.levels))
	copy(out, s.levels)
	return out
}

// BookUpdate describes one applied level change.
type BookUpdate struct {
	Market string
	Side   string
	Price  decimal.Decimal
	Size   decimal.Decimal
}

// Orderbook maintains one market's two-sided book from the stream of
// snapshots and diffs on its orderbook channel. Reads are safe from any
// goroutine.
type Orderbook struct {
	market   string
	onUpdate func(BookUpdate)
	log      *logger.Entry

	mu        sync.RWMutex
	bids      bookSide
	asks      bookSide
	sequence  uint64
	timestamp int64
}

// NewOrderbook builds the reducer for one market. onUpdate, when non-nil, is
// invoked once per applied level change, removals included; it runs on the
// dispatching goroutine and must not call back into the book.
func NewOrderbook(market string, onUpdate func(BookUpdate)) *Orderbook {
	return &Orderbook{
		market:   market,
		onUpdate: onUpdate,
		log: logger.GetLogger().WithComponent("orderbook").WithFields(logger.Fields{
			"market": market,
		}),
	}
}

// Channel returns the venue channel the book consumes.
func (o *Orderbook) Channel() string {
	return "orderbook:" + o.market
}

// Market returns the market id the book tracks.
func (o *Orderbook) Market() string {
	return o.market
}

// OnSubscribe applies the initial data returned with the acknowledgement.
// The application rules are the same as for a diff: existing levels stay
// unless the payload publishes them with zero size.
func (o *Orderbook) OnSubscribe(data json.RawMessage) {
	o.consume(data)
}

// OnData applies one diff.
func (o *Orderbook) OnData(data json.RawMessage) {
	o.consume(data)
}

func (o *Orderbook) consume(data json.RawMessage) {
	if len(data) == 0 {
		return
	}
	var book models.OrderbookData
	if err := json.Unmarshal(data, &book); err != nil {
		logger.IncrementDecodeError()
		o.log.WithError(err).Warn("dropping undecodable book payload")
		return
	}

	o.mu.Lock()
	if o.sequence != 0 && book.Sequence != 0 && book.Sequence != o.sequence+1 {
		o.log.WithFields(logger.Fields{
			"have": o.sequence,
			"got":  book.Sequence,
		}).Warn("book sequence gap")
	}
	if book.Sequence != 0 {
		o.sequence = book.Sequence
	}
	if book.Timestamp != 0 {
		o.timestamp = book.Timestamp
	}

	updates := make([]BookUpdate, 0, len(book.Bids)+len(book.Asks))
	for _, level := range book.Asks {
		o.asks.apply(level)
		updates = append(updates, BookUpdate{Market: o.market, Side: SideShort, Price: level.Price, Size: level.Size})
	}
	for _, level := range book.Bids {
		o.bids.apply(level)
		updates = append(updates, BookUpdate{Market: o.market, Side: SideLong, Price: level.Price, Size: level.Size})
	}
	o.mu.Unlock()

	if o.onUpdate != nil {
		for _, u := range updates {
			o.onUpdate(u)
		}
	}
}

// BestBid returns the highest priced bid, if the side is non-empty.
func (o *Orderbook) BestBid() (models.BookLevel, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.bids.highest()
}

// BestAsk returns the lowest priced ask, if the side is non-empty.
func (o *Orderbook) BestAsk() (models.BookLevel, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.asks.lowest()
}

// Bids returns the bid levels by ascending price.
func (o *Orderbook) Bids() []models.BookLevel {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.bids.snapshot()
}

// Asks returns the ask levels by ascending price.
func (o *Orderbook) Asks() []models.BookLevel {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.asks.snapshot()
}

// Sequence returns the last applied book sequence number.
func (o *Orderbook) Sequence() uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.sequence
}

// Timestamp returns the venue timestamp of the last applied payload.
func (o *Orderbook) Timestamp() int64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.timestamp
}
