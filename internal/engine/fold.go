package engine

import (
	"errors"
	"fmt"
)

var ErrSequenceGap = errors.New("event sequence gap")

// fold applies one committed event to s. Apply and Replay share it, which is
// what makes a replayed log land on exactly the state the session had.
func fold(s State, ev Event) (State, error) {
	switch ev.Type {
	case EvtPlayersImported:
		for _, p := range ev.Merges {
			p.Status = PlayerPending
			p.HighBid = nil
			p.HighBidder = ""
			s.Pool.Players[p.ID] = p
		}
		for _, p := range ev.Players {
			s.Pool.add(p)
		}

	case EvtPlayerStarted:
		p, ok := s.Pool.NextPlayer()
		if !ok || p.ID != ev.Player {
			return s, fmt.Errorf("start %s: %w", ev.Player, ErrInvalidTransition)
		}
		s.Status = StatusActive
		s.Active = p.ID
		s.Bids = []Bid{}

	case EvtBidAccepted:
		if err := s.Pool.setHigh(ev.Player, ev.Team, ev.Amount); err != nil {
			return s, fmt.Errorf("bid on %s: %w", ev.Player, err)
		}
		s.Bids = append(s.Bids, Bid{Team: ev.Team, Player: ev.Player, Amount: ev.Amount, Seq: ev.Seq, At: ev.At})

	case EvtSaleRejected:
		s.Status = StatusResolving

	case EvtPlayerSold:
		if err := s.Ledger.CommitSale(ev.Team, ev.Player, ev.Amount); err != nil {
			return s, fmt.Errorf("sell %s to %s: %w", ev.Player, ev.Team, err)
		}
		if err := s.Pool.MarkSold(ev.Player, ev.Team, ev.Amount); err != nil {
			return s, fmt.Errorf("sell %s: %w", ev.Player, err)
		}
		s = offBlock(s)

	case EvtPlayerUnsold:
		if err := s.Pool.MarkUnsold(ev.Player); err != nil {
			return s, fmt.Errorf("unsold %s: %w", ev.Player, err)
		}
		s = offBlock(s)

	case EvtAuctionPaused:
		if err := s.Pool.Requeue(ev.Player); err != nil {
			return s, fmt.Errorf("pause %s: %w", ev.Player, err)
		}
		s = offBlock(s)

	case EvtSessionCompleted:
		s.Status = StatusCompleted

	default:
		return s, fmt.Errorf("event %q: %w", ev.Type, ErrUnsupportedCommand)
	}

	s.Seq = ev.Seq
	return s, nil
}

func offBlock(s State) State {
	s.Status = StatusIdle
	s.Active = ""
	s.Bids = []Bid{}
	return s
}

// Replay folds a committed event log onto base. Events at or below the
// state's sequence number were already applied and are skipped.
func Replay(base State, events []Event) (State, error) {
	s := base.Clone()
	for _, ev := range events {
		if ev.Seq <= s.Seq {
			continue
		}
		if ev.Seq != s.Seq+1 {
			return s, fmt.Errorf("want seq %d, got %d: %w", s.Seq+1, ev.Seq, ErrSequenceGap)
		}
		var err error
		if s, err = fold(s, ev); err != nil {
			return s, err
		}
	}
	return s, nil
}
