package engine

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultBidWindow = 10 * time.Second

var DefaultMinIncrement = decimal.NewFromInt(50)

func NewState(auctionID string, rules Rules, teams []Team, players []Player) State {
	if rules.BidWindow <= 0 {
		rules.BidWindow = DefaultBidWindow
	}
	if rules.MinIncrement.IsZero() {
		rules.MinIncrement = DefaultMinIncrement
	}
	return State{
		AuctionID: auctionID,
		Status:    StatusIdle,
		Bids:      []Bid{},
		Pool:      NewPool(players...),
		Ledger:    NewLedger(teams...),
		Rules:     rules,
	}
}

// Clone deep-copies everything Apply may mutate, so published states can be
// read concurrently while the session moves on.
func (s State) Clone() State {
	c := s
	c.Bids = slices.Clone(s.Bids)
	if c.Bids == nil {
		c.Bids = []Bid{}
	}
	c.Pool = s.Pool.clone()
	c.Ledger = s.Ledger.clone()
	return c
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// Resolves reports whether events settle a player, which is when a snapshot
// must be persisted.
func Resolves(events []Event) bool {
	return ContainsEvent(events, EvtPlayerSold) || ContainsEvent(events, EvtPlayerUnsold)
}
