package engine

import (
	"errors"

	"github.com/shopspring/decimal"
)

// arbitrate checks a bid against the current session state. The caller is
// the only ordering authority, so two equal bids can never both pass: the
// second one sees the first as the high bid.
func arbitrate(s State, cmd Command) error {
	if s.Status != StatusActive {
		return ErrAuctionNotActive
	}
	if cmd.Player != s.Active {
		return ErrWrongPlayer
	}
	if _, ok := s.Ledger.Teams[cmd.Team]; !ok {
		return ErrUnknownTeam
	}

	high, ok := s.High()
	if ok && high.Team == cmd.Team {
		return ErrSelfOutbid
	}
	if cmd.Amount.LessThan(MinimumBid(s)) {
		return ErrBelowMinimumIncrement
	}
	return s.Ledger.check(cmd.Team, cmd.Amount)
}

// MinimumBid is the smallest amount the next bid on the active player may carry.
func MinimumBid(s State) decimal.Decimal {
	if high, ok := s.High(); ok {
		return high.Amount.Add(s.Rules.MinIncrement)
	}
	return s.Pool.Players[s.Active].BasePrice
}

// ReasonFor maps an engine error to the reason code sent to clients.
func ReasonFor(err error) string {
	switch {
	case errors.Is(err, ErrAuctionNotActive), errors.Is(err, ErrNoActivePlayer):
		return "AuctionNotActive"
	case errors.Is(err, ErrWrongPlayer):
		return "WrongPlayer"
	case errors.Is(err, ErrBelowMinimumIncrement):
		return "BelowMinimumIncrement"
	case errors.Is(err, ErrInsufficientFunds):
		return "InsufficientFunds"
	case errors.Is(err, ErrRosterFull):
		return "RosterFull"
	case errors.Is(err, ErrSelfOutbid):
		return "SelfOutbid"
	case errors.Is(err, ErrUnknownTeam):
		return "UnknownTeam"
	case errors.Is(err, ErrSessionCompleted):
		return "SessionCompleted"
	case errors.Is(err, ErrSessionStarted):
		return "SessionStarted"
	case errors.Is(err, ErrUnknownPlayer), errors.Is(err, ErrDuplicatePlayer):
		return "InvalidImport"
	default:
		return "Internal"
	}
}
