package engine

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Rejections. These reach only the submitting client.
var ErrAuctionNotActive = errors.New("auction not active")
var ErrWrongPlayer = errors.New("bid is for a player not on the block")
var ErrBelowMinimumIncrement = errors.New("bid below minimum increment")
var ErrInsufficientFunds = errors.New("insufficient funds")
var ErrRosterFull = errors.New("roster full")
var ErrSelfOutbid = errors.New("team already holds the high bid")
var ErrUnknownTeam = errors.New("unknown team")

// Command and transition errors.
var ErrInvalidTransition = errors.New("invalid player transition")
var ErrUnsupportedCommand = errors.New("unsupported command")
var ErrSessionCompleted = errors.New("session already completed")
var ErrSessionStarted = errors.New("session already started")
var ErrNoActivePlayer = errors.New("no player on the block")

type TeamID string
type PlayerID string

type Status string

const (
	StatusIdle      Status = "idle"
	StatusActive    Status = "player-active"
	StatusResolving Status = "player-resolving"
	StatusCompleted Status = "completed"
)

type Rules struct {
	MinIncrement decimal.Decimal `json:"minIncrement"`
	BidWindow    time.Duration   `json:"bidWindow"`
}

// Bid is an accepted bid on the active player. Rejected bids never become Bids.
type Bid struct {
	Team   TeamID          `json:"teamId"`
	Player PlayerID        `json:"playerId"`
	Amount decimal.Decimal `json:"amount"`
	Seq    int64           `json:"seq"`
	At     time.Time       `json:"at"`
}

type State struct {
	AuctionID string   `json:"auctionId"`
	Seq       int64    `json:"seq"`
	Status    Status   `json:"status"`
	Active    PlayerID `json:"activePlayer,omitempty"`
	Bids      []Bid    `json:"bids"`
	Pool      Pool     `json:"pool"`
	Ledger    Ledger   `json:"ledger"`
	Rules     Rules    `json:"rules"`
}

// High returns the current high bid on the active player.
func (s State) High() (Bid, bool) {
	if len(s.Bids) == 0 {
		return Bid{}, false
	}
	return s.Bids[len(s.Bids)-1], true
}

// Started reports whether any player has been put on the block.
func (s State) Started() bool { return s.Pool.Cursor > 0 || s.Status != StatusIdle }

type CommandType string

const (
	CmdStartNext     CommandType = "StartNext"
	CmdPlaceBid      CommandType = "PlaceBid"
	CmdFinalize      CommandType = "Finalize"
	CmdTimerExpired  CommandType = "TimerExpired"
	CmdPause         CommandType = "Pause"
	CmdCancel        CommandType = "Cancel"
	CmdImportPlayers CommandType = "ImportPlayers"
)

/*
	CmdStartNext     -> EvtPlayerStarted | EvtSessionCompleted
	CmdPlaceBid      -> EvtBidAccepted
	CmdFinalize      -> (EvtSaleRejected)* -> EvtPlayerSold | EvtPlayerUnsold
	CmdTimerExpired  -> same as CmdFinalize
	CmdPause/Cancel  -> EvtAuctionPaused (player goes back to the head of the queue)
	CmdImportPlayers -> EvtPlayersImported
*/

type Command struct {
	Type    CommandType
	Team    TeamID
	Player  PlayerID
	Amount  decimal.Decimal
	At      time.Time
	Players []Player // ImportPlayers: new players, appended in order
	Merges  []Player // ImportPlayers: replacements for existing players
}

type EventType string

const (
	EvtPlayersImported  EventType = "PlayersImported"
	EvtPlayerStarted    EventType = "PlayerStarted"
	EvtBidAccepted      EventType = "BidAccepted"
	EvtSaleRejected     EventType = "SaleRejected"
	EvtPlayerSold       EventType = "PlayerSold"
	EvtPlayerUnsold     EventType = "PlayerUnsold"
	EvtAuctionPaused    EventType = "AuctionPaused"
	EvtSessionCompleted EventType = "SessionCompleted"
)

type Event struct {
	Seq     int64           `json:"seq"`
	Type    EventType       `json:"type"`
	Player  PlayerID        `json:"playerId,omitempty"`
	Team    TeamID          `json:"teamId,omitempty"`
	Amount  decimal.Decimal `json:"amount"`
	Reason  string          `json:"reason,omitempty"`
	At      time.Time       `json:"at"`
	Players []Player        `json:"players,omitempty"`
	Merges  []Player        `json:"merges,omitempty"`
}

// Apply decides the events a command produces against s and folds them onto a
// copy of s. On error the returned state is s, untouched.
func Apply(s State, cmd Command) ([]Event, State, error) {
	if s.Status == StatusCompleted {
		return nil, s, ErrSessionCompleted
	}

	var events []Event
	switch cmd.Type {
	case CmdImportPlayers:
		if s.Started() {
			return nil, s, ErrSessionStarted
		}
		for _, p := range cmd.Merges {
			if _, ok := s.Pool.Players[p.ID]; !ok {
				return nil, s, ErrUnknownPlayer
			}
		}
		for _, p := range cmd.Players {
			if _, ok := s.Pool.Players[p.ID]; ok {
				return nil, s, ErrDuplicatePlayer
			}
		}
		events = []Event{{Type: EvtPlayersImported, Players: cmd.Players, Merges: cmd.Merges, At: cmd.At}}

	case CmdStartNext:
		if s.Status != StatusIdle {
			return nil, s, ErrAuctionNotActive
		}
		next, ok := s.Pool.Peek()
		if !ok {
			events = []Event{{Type: EvtSessionCompleted, At: cmd.At}}
			break
		}
		events = []Event{{Type: EvtPlayerStarted, Player: next, Amount: s.Pool.Players[next].BasePrice, At: cmd.At}}

	case CmdPlaceBid:
		if err := arbitrate(s, cmd); err != nil {
			return nil, s, err
		}
		events = []Event{{Type: EvtBidAccepted, Player: cmd.Player, Team: cmd.Team, Amount: cmd.Amount, At: cmd.At}}

	case CmdFinalize, CmdTimerExpired:
		if s.Status != StatusActive {
			return nil, s, ErrNoActivePlayer
		}
		events = resolve(s, cmd.At)

	case CmdPause, CmdCancel:
		if s.Status != StatusActive {
			return nil, s, ErrNoActivePlayer
		}
		events = []Event{{Type: EvtAuctionPaused, Player: s.Active, Reason: string(cmd.Type), At: cmd.At}}

	default:
		return nil, s, ErrUnsupportedCommand
	}

	next := s.Clone()
	for i := range events {
		events[i].Seq = next.Seq + 1
		var err error
		if next, err = fold(next, events[i]); err != nil {
			return nil, s, err
		}
	}
	return events, next, nil
}
