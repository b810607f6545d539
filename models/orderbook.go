package models

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// BookLevel is a single price level. The venue encodes levels as two-element
// arrays of decimal strings, e.g. ["20212.5", "0.3"].
type BookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

func (l *BookLevel) UnmarshalJSON(b []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("book level: expected [price, size], got %d elements", len(pair))
	}
	price, err := decodeDecimal(pair[0])
	if err != nil {
		return fmt.Errorf("book level price: %w", err)
	}
	size, err := decodeDecimal(pair[1])
	if err != nil {
		return fmt.Errorf("book level size: %w", err)
	}
	l.Price = price
	l.Size = size
	return nil
}

func (l BookLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{l.Price.String(), l.Size.String()})
}

// decodeDecimal accepts both quoted and bare number encodings.
func decodeDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	s := string(raw)
	if len(s) > 1 && s[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Decimal{}, err
		}
	}
	return decimal.NewFromString(s)
}

// OrderbookData is the payload shape of the orderbook channel, identical for
// the initial snapshot and every incremental update.
type OrderbookData struct {
	MarketID  string      `json:"market_id,omitempty"`
	Bids      []BookLevel `json:"bids,omitempty"`
	Asks      []BookLevel `json:"asks,omitempty"`
	Sequence  uint64      `json:"sequence,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`
}
