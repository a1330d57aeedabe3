package engine

import (
	"errors"
	"maps"
	"slices"

	"github.com/shopspring/decimal"
)

var ErrUnknownPlayer = errors.New("unknown player")
var ErrDuplicatePlayer = errors.New("player already in pool")

type PlayerStatus string

const (
	PlayerPending PlayerStatus = "pending"
	PlayerActive  PlayerStatus = "active"
	PlayerSold    PlayerStatus = "sold"
	PlayerUnsold  PlayerStatus = "unsold"
)

type Player struct {
	ID         PlayerID         `json:"id"`
	Name       string           `json:"name"`
	Role       string           `json:"role,omitempty"`
	PhotoURL   string           `json:"photoUrl,omitempty"` // opaque, never inspected
	BasePrice  decimal.Decimal  `json:"basePrice"`
	HighBid    *decimal.Decimal `json:"highBid,omitempty"`
	HighBidder TeamID           `json:"highBidder,omitempty"`
	Status     PlayerStatus     `json:"status"`
}

// Pool is the session's player queue. Order is frozen once the first player
// is started; Cursor indexes the next player to dequeue.
type Pool struct {
	Order   []PlayerID          `json:"order"`
	Cursor  int                 `json:"cursor"`
	Players map[PlayerID]Player `json:"players"`
}

func NewPool(players ...Player) Pool {
	p := Pool{Order: []PlayerID{}, Players: make(map[PlayerID]Player, len(players))}
	for _, pl := range players {
		p.add(pl)
	}
	return p
}

func (p *Pool) add(pl Player) {
	pl.Status = PlayerPending
	pl.HighBid = nil
	pl.HighBidder = ""
	p.Order = append(p.Order, pl.ID)
	p.Players[pl.ID] = pl
}

// Peek returns the next pending player without dequeuing it.
func (p Pool) Peek() (PlayerID, bool) {
	for i := p.Cursor; i < len(p.Order); i++ {
		if p.Players[p.Order[i]].Status == PlayerPending {
			return p.Order[i], true
		}
	}
	return "", false
}

// NextPlayer dequeues the next pending player and puts it on the block.
func (p *Pool) NextPlayer() (Player, bool) {
	for p.Cursor < len(p.Order) {
		id := p.Order[p.Cursor]
		p.Cursor++
		pl := p.Players[id]
		if pl.Status != PlayerPending {
			continue
		}
		pl.Status = PlayerActive
		p.Players[id] = pl
		return pl, true
	}
	return Player{}, false
}

func (p *Pool) MarkSold(id PlayerID, team TeamID, amount decimal.Decimal) error {
	pl, err := p.active(id)
	if err != nil {
		return err
	}
	pl.Status = PlayerSold
	pl.HighBid = &amount
	pl.HighBidder = team
	p.Players[id] = pl
	return nil
}

func (p *Pool) MarkUnsold(id PlayerID) error {
	pl, err := p.active(id)
	if err != nil {
		return err
	}
	pl.Status = PlayerUnsold
	pl.HighBid = nil
	pl.HighBidder = ""
	p.Players[id] = pl
	return nil
}

// Requeue takes the active player off the block and puts it back at the head
// of the queue, clearing any bids.
func (p *Pool) Requeue(id PlayerID) error {
	pl, err := p.active(id)
	if err != nil {
		return err
	}
	pl.Status = PlayerPending
	pl.HighBid = nil
	pl.HighBidder = ""
	p.Players[id] = pl
	if i := slices.Index(p.Order, id); i >= 0 && i < p.Cursor {
		p.Order = slices.Delete(p.Order, i, i+1)
		p.Cursor--
		p.Order = slices.Insert(p.Order, p.Cursor, id)
	}
	return nil
}

func (p *Pool) setHigh(id PlayerID, team TeamID, amount decimal.Decimal) error {
	pl, err := p.active(id)
	if err != nil {
		return err
	}
	pl.HighBid = &amount
	pl.HighBidder = team
	p.Players[id] = pl
	return nil
}

func (p Pool) active(id PlayerID) (Player, error) {
	pl, ok := p.Players[id]
	if !ok {
		return Player{}, ErrUnknownPlayer
	}
	if pl.Status != PlayerActive {
		return Player{}, ErrInvalidTransition
	}
	return pl, nil
}

// Remaining counts players that have not been put on the block yet.
func (p Pool) Remaining() int {
	n := 0
	for _, pl := range p.Players {
		if pl.Status == PlayerPending {
			n++
		}
	}
	return n
}

func (p Pool) clone() Pool {
	c := Pool{
		Order:   slices.Clone(p.Order),
		Cursor:  p.Cursor,
		Players: maps.Clone(p.Players),
	}
	if c.Order == nil {
		c.Order = []PlayerID{}
	}
	if c.Players == nil {
		c.Players = map[PlayerID]Player{}
	}
	return c
}
