package engine

import (
	"maps"
	"slices"

	"github.com/shopspring/decimal"
)

type Team struct {
	ID        TeamID          `json:"id"`
	Name      string          `json:"name"`
	Purse     decimal.Decimal `json:"purse"`
	Spent     decimal.Decimal `json:"spent"`
	Roster    []PlayerID      `json:"roster"`
	MinRoster int             `json:"minRoster"`
	MaxRoster int             `json:"maxRoster"`
}

func (t Team) Remaining() decimal.Decimal { return t.Purse.Sub(t.Spent) }

func (t Team) RosterFull() bool { return len(t.Roster) >= t.MaxRoster }

// Ledger tracks every team's purse and roster for one session.
type Ledger struct {
	Teams map[TeamID]Team `json:"teams"`
}

func NewLedger(teams ...Team) Ledger {
	l := Ledger{Teams: make(map[TeamID]Team, len(teams))}
	for _, t := range teams {
		if t.Roster == nil {
			t.Roster = []PlayerID{}
		}
		l.Teams[t.ID] = t
	}
	return l
}

func (l Ledger) CanAfford(team TeamID, amount decimal.Decimal) bool {
	return l.check(team, amount) == nil
}

// check is the sale precondition shared by bid arbitration and commit.
func (l Ledger) check(team TeamID, amount decimal.Decimal) error {
	t, ok := l.Teams[team]
	if !ok {
		return ErrUnknownTeam
	}
	if t.RosterFull() {
		return ErrRosterFull
	}
	if amount.GreaterThan(t.Remaining()) {
		return ErrInsufficientFunds
	}
	return nil
}

// CommitSale re-validates the team's capacity and records the purchase.
func (l *Ledger) CommitSale(team TeamID, player PlayerID, amount decimal.Decimal) error {
	if err := l.check(team, amount); err != nil {
		return err
	}
	t := l.Teams[team]
	t.Spent = t.Spent.Add(amount)
	t.Roster = append(slices.Clip(t.Roster), player)
	l.Teams[team] = t
	return nil
}

func (l Ledger) clone() Ledger {
	c := Ledger{Teams: maps.Clone(l.Teams)}
	if c.Teams == nil {
		c.Teams = map[TeamID]Team{}
	}
	for id, t := range c.Teams {
		t.Roster = slices.Clone(t.Roster)
		c.Teams[id] = t
	}
	return c
}
