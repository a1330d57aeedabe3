package engine

import "time"

// resolve settles the active player. Bids are tried newest first; a team that
// fails the commit-time ledger check is reported and skipped for the rest of
// the cascade, since its smaller bids were placed before its budget shrank.
func resolve(s State, at time.Time) []Event {
	var events []Event
	failed := map[TeamID]bool{}

	for i := len(s.Bids) - 1; i >= 0; i-- {
		bid := s.Bids[i]
		if failed[bid.Team] {
			continue
		}
		if err := s.Ledger.check(bid.Team, bid.Amount); err != nil {
			failed[bid.Team] = true
			events = append(events, Event{
				Type:   EvtSaleRejected,
				Player: s.Active,
				Team:   bid.Team,
				Amount: bid.Amount,
				Reason: ReasonFor(err),
				At:     at,
			})
			continue
		}
		return append(events, Event{Type: EvtPlayerSold, Player: s.Active, Team: bid.Team, Amount: bid.Amount, At: at})
	}

	return append(events, Event{Type: EvtPlayerUnsold, Player: s.Active, At: at})
}
