package engine

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func newTestState() State {
	return NewState("AUC1",
		Rules{MinIncrement: d(50)},
		[]Team{
			{ID: "A", Name: "Alpha", Purse: d(1000), MaxRoster: 3},
			{ID: "B", Name: "Bravo", Purse: d(800), MaxRoster: 3},
			{ID: "C", Name: "Charlie", Purse: d(50), MaxRoster: 3},
		},
		[]Player{
			{ID: "p1", Name: "One", BasePrice: d(100)},
			{ID: "p2", Name: "Two", BasePrice: d(100)},
		},
	)
}

// mustApply applies cmd and fails the test on error.
func mustApply(t *testing.T, s State, cmd Command) ([]Event, State) {
	t.Helper()
	events, next, err := Apply(s, cmd)
	require.NoError(t, err, "apply %s", cmd.Type)
	return events, next
}

func bid(team TeamID, player PlayerID, amount int64) Command {
	return Command{Type: CmdPlaceBid, Team: team, Player: player, Amount: d(amount)}
}

func TestApply_BiddingScenario(t *testing.T) {
	s := newTestState()
	_, s = mustApply(t, s, Command{Type: CmdStartNext})
	require.Equal(t, StatusActive, s.Status)
	require.Equal(t, PlayerID("p1"), s.Active)

	_, s = mustApply(t, s, bid("A", "p1", 100))
	_, s = mustApply(t, s, bid("B", "p1", 150))

	_, _, err := Apply(s, bid("A", "p1", 150))
	require.ErrorIs(t, err, ErrBelowMinimumIncrement)

	_, s = mustApply(t, s, bid("A", "p1", 200))

	events, s := mustApply(t, s, Command{Type: CmdTimerExpired})
	require.True(t, ContainsEvent(events, EvtPlayerSold))
	assert.Equal(t, StatusIdle, s.Status)

	a := s.Ledger.Teams["A"]
	assert.True(t, a.Spent.Equal(d(200)), "spent=%s", a.Spent)
	assert.True(t, a.Remaining().Equal(d(800)), "remaining=%s", a.Remaining())
	assert.Equal(t, []PlayerID{"p1"}, a.Roster)

	p1 := s.Pool.Players["p1"]
	assert.Equal(t, PlayerSold, p1.Status)
	assert.Equal(t, TeamID("A"), p1.HighBidder)
}

func TestApply_BidRejections(t *testing.T) {
	active := newTestState()
	_, active = mustApply(t, active, Command{Type: CmdStartNext})
	_, withHigh := mustApply(t, active, bid("A", "p1", 100))

	cases := []struct {
		name    string
		setup   State
		cmd     Command
		wantErr error
	}{
		{name: "no player on the block", setup: newTestState(), cmd: bid("A", "p1", 100), wantErr: ErrAuctionNotActive},
		{name: "wrong player", setup: active, cmd: bid("A", "p2", 100), wantErr: ErrWrongPlayer},
		{name: "below base price", setup: active, cmd: bid("A", "p1", 99), wantErr: ErrBelowMinimumIncrement},
		{name: "below increment", setup: withHigh, cmd: bid("B", "p1", 149), wantErr: ErrBelowMinimumIncrement},
		{name: "self outbid", setup: withHigh, cmd: bid("A", "p1", 500), wantErr: ErrSelfOutbid},
		{name: "insufficient funds", setup: active, cmd: bid("C", "p1", 100), wantErr: ErrInsufficientFunds},
		{name: "over purse", setup: withHigh, cmd: bid("B", "p1", 801), wantErr: ErrInsufficientFunds},
		{name: "unknown team", setup: active, cmd: bid("Z", "p1", 100), wantErr: ErrUnknownTeam},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before, err := json.Marshal(tc.setup)
			require.NoError(t, err)

			events, next, err := Apply(tc.setup, tc.cmd)
			require.ErrorIs(t, err, tc.wantErr)
			assert.Empty(t, events)

			after, err := json.Marshal(next)
			require.NoError(t, err)
			assert.JSONEq(t, string(before), string(after), "state must not change on rejection")
		})
	}
}

func TestApply_RosterFullRejected(t *testing.T) {
	s := newTestState()
	team := s.Ledger.Teams["B"]
	team.MaxRoster = 0
	s.Ledger.Teams["B"] = team
	_, s = mustApply(t, s, Command{Type: CmdStartNext})

	_, _, err := Apply(s, bid("B", "p1", 100))
	require.ErrorIs(t, err, ErrRosterFull)
}

func TestApply_EqualBidsOnlyFirstAccepted(t *testing.T) {
	s := newTestState()
	_, s = mustApply(t, s, Command{Type: CmdStartNext})

	_, s = mustApply(t, s, bid("A", "p1", 100))
	_, _, err := Apply(s, bid("B", "p1", 100))
	require.ErrorIs(t, err, ErrBelowMinimumIncrement)

	high, ok := s.High()
	require.True(t, ok)
	assert.Equal(t, TeamID("A"), high.Team)
}

func TestApply_HighBidStrictlyIncreasing(t *testing.T) {
	s := newTestState()
	_, s = mustApply(t, s, Command{Type: CmdStartNext})

	teams := []TeamID{"A", "B"}
	attempts := []int64{100, 120, 150, 150, 260, 200, 310, 400, 399, 450, 800}
	var last decimal.Decimal
	for i, amount := range attempts {
		team := teams[i%2]
		events, next, err := Apply(s, bid(team, "p1", amount))
		if err != nil {
			continue
		}
		require.Len(t, events, 1)
		high, _ := next.High()
		assert.True(t, high.Amount.GreaterThan(last), "high bid must increase: %s after %s", high.Amount, last)
		assert.Equal(t, team, high.Team, "high bidder is the latest accepted submitter")
		last = high.Amount
		s = next
	}
	assert.True(t, last.Equal(d(800)))
}

func TestResolve_FallsBackToPreviousBidder(t *testing.T) {
	s := newTestState()
	_, s = mustApply(t, s, Command{Type: CmdStartNext})
	_, s = mustApply(t, s, bid("B", "p1", 300))
	_, s = mustApply(t, s, bid("A", "p1", 500))

	// A's budget shrinks between acceptance and commit.
	a := s.Ledger.Teams["A"]
	a.Spent = d(700)
	s.Ledger.Teams["A"] = a

	events, next := mustApply(t, s, Command{Type: CmdFinalize})
	require.Len(t, events, 2)
	assert.Equal(t, EvtSaleRejected, events[0].Type)
	assert.Equal(t, TeamID("A"), events[0].Team)
	assert.Equal(t, "InsufficientFunds", events[0].Reason)
	assert.Equal(t, EvtPlayerSold, events[1].Type)
	assert.Equal(t, TeamID("B"), events[1].Team)
	assert.True(t, events[1].Amount.Equal(d(300)))

	assert.True(t, next.Ledger.Teams["B"].Spent.Equal(d(300)))
	assert.True(t, next.Ledger.Teams["A"].Spent.Equal(d(700)))
	assert.Equal(t, StatusIdle, next.Status)
}

func TestResolve_AllBiddersFailGoesUnsold(t *testing.T) {
	s := newTestState()
	_, s = mustApply(t, s, Command{Type: CmdStartNext})
	_, s = mustApply(t, s, bid("B", "p1", 300))
	_, s = mustApply(t, s, bid("A", "p1", 500))
	_, s = mustApply(t, s, bid("B", "p1", 550))

	for _, id := range []TeamID{"A", "B"} {
		team := s.Ledger.Teams[id]
		team.MaxRoster = 0
		s.Ledger.Teams[id] = team
	}

	events, next := mustApply(t, s, Command{Type: CmdFinalize})
	require.Len(t, events, 3, "B rejected once, A once, then unsold")
	assert.Equal(t, EvtPlayerUnsold, events[2].Type)
	assert.Equal(t, PlayerUnsold, next.Pool.Players["p1"].Status)
	assert.Empty(t, next.Ledger.Teams["B"].Roster)
}

func TestResolve_NoBidsUnsold(t *testing.T) {
	s := newTestState()
	_, s = mustApply(t, s, Command{Type: CmdStartNext})
	events, s := mustApply(t, s, Command{Type: CmdTimerExpired})
	require.Len(t, events, 1)
	assert.Equal(t, EvtPlayerUnsold, events[0].Type)

	_, _, err := Apply(s, Command{Type: CmdFinalize})
	require.ErrorIs(t, err, ErrNoActivePlayer)
}

func TestApply_PauseRequeuesPlayer(t *testing.T) {
	s := newTestState()
	_, s = mustApply(t, s, Command{Type: CmdStartNext})
	_, s = mustApply(t, s, bid("A", "p1", 100))

	events, s := mustApply(t, s, Command{Type: CmdPause})
	require.Equal(t, EvtAuctionPaused, events[0].Type)
	assert.Equal(t, StatusIdle, s.Status)
	assert.Nil(t, s.Pool.Players["p1"].HighBid)
	assert.Empty(t, s.Ledger.Teams["A"].Roster, "pause never commits a sale")

	_, _, err := Apply(s, bid("B", "p1", 150))
	require.ErrorIs(t, err, ErrAuctionNotActive)

	_, s = mustApply(t, s, Command{Type: CmdStartNext})
	assert.Equal(t, PlayerID("p1"), s.Active, "paused player is offered again first")
}

func TestApply_CompletesWhenPoolEmpty(t *testing.T) {
	s := newTestState()
	for range 2 {
		_, s = mustApply(t, s, Command{Type: CmdStartNext})
		_, s = mustApply(t, s, Command{Type: CmdFinalize})
	}
	events, s := mustApply(t, s, Command{Type: CmdStartNext})
	require.True(t, ContainsEvent(events, EvtSessionCompleted))
	assert.Equal(t, StatusCompleted, s.Status)

	_, _, err := Apply(s, Command{Type: CmdStartNext})
	require.ErrorIs(t, err, ErrSessionCompleted)
}

func TestApply_ImportOnlyBeforeStart(t *testing.T) {
	s := newTestState()
	merged := Player{ID: "p1", Name: "One (updated)", BasePrice: d(150)}
	_, s = mustApply(t, s, Command{
		Type:    CmdImportPlayers,
		Players: []Player{{ID: "p3", Name: "Three", BasePrice: d(100)}},
		Merges:  []Player{merged},
	})
	assert.Equal(t, []PlayerID{"p1", "p2", "p3"}, s.Pool.Order)
	assert.True(t, s.Pool.Players["p1"].BasePrice.Equal(d(150)))

	_, _, err := Apply(s, Command{Type: CmdImportPlayers, Players: []Player{{ID: "p1"}}})
	require.ErrorIs(t, err, ErrDuplicatePlayer)

	_, s = mustApply(t, s, Command{Type: CmdStartNext})
	_, _, err = Apply(s, Command{Type: CmdImportPlayers, Players: []Player{{ID: "p4"}}})
	require.ErrorIs(t, err, ErrSessionStarted)
}

func TestLedger_NeverOverspends(t *testing.T) {
	l := NewLedger(Team{ID: "A", Purse: d(300), MaxRoster: 2})

	require.NoError(t, l.CommitSale("A", "p1", d(200)))
	require.ErrorIs(t, l.CommitSale("A", "p2", d(101)), ErrInsufficientFunds)
	require.NoError(t, l.CommitSale("A", "p2", d(100)))
	require.ErrorIs(t, l.CommitSale("A", "p3", d(0)), ErrRosterFull)
	require.ErrorIs(t, l.CommitSale("Z", "p3", d(0)), ErrUnknownTeam)

	a := l.Teams["A"]
	assert.True(t, a.Spent.Equal(a.Purse))
	assert.Len(t, a.Roster, 2)
	assert.False(t, l.CanAfford("A", d(0)))
}

func TestPool_Transitions(t *testing.T) {
	p := NewPool(Player{ID: "p1"}, Player{ID: "p2"})

	require.ErrorIs(t, p.MarkSold("p1", "A", d(100)), ErrInvalidTransition)

	first, ok := p.NextPlayer()
	require.True(t, ok)
	assert.Equal(t, PlayerID("p1"), first.ID)
	require.NoError(t, p.MarkUnsold("p1"))
	require.ErrorIs(t, p.MarkUnsold("p1"), ErrInvalidTransition, "terminal states are final")

	second, ok := p.NextPlayer()
	require.True(t, ok)
	require.NoError(t, p.MarkSold(second.ID, "A", d(100)))

	_, ok = p.NextPlayer()
	assert.False(t, ok)
	assert.Equal(t, 0, p.Remaining())
}

func TestReplay_ReproducesFinalState(t *testing.T) {
	base := newTestState()
	s := base
	var log []Event
	run := func(cmd Command) {
		events, next, err := Apply(s, cmd)
		if err != nil {
			return
		}
		log = append(log, events...)
		s = next
	}

	run(Command{Type: CmdStartNext})
	run(bid("A", "p1", 100))
	run(bid("B", "p1", 150))
	run(bid("C", "p1", 200))
	run(bid("A", "p1", 200))
	run(Command{Type: CmdFinalize})
	run(Command{Type: CmdStartNext})
	run(bid("B", "p2", 100))
	run(Command{Type: CmdPause})
	run(Command{Type: CmdStartNext})
	run(bid("B", "p2", 120))
	run(Command{Type: CmdTimerExpired})
	run(Command{Type: CmdStartNext})

	require.Equal(t, StatusCompleted, s.Status)
	for i, ev := range log {
		require.Equal(t, int64(i+1), ev.Seq)
	}

	replayed, err := Replay(base, log)
	require.NoError(t, err)
	assertSameState(t, s, replayed)

	// Replaying the whole log again, or with duplicates, changes nothing.
	again, err := Replay(replayed, append(log, log...))
	require.NoError(t, err)
	assertSameState(t, s, again)
}

func TestReplay_DetectsGap(t *testing.T) {
	base := newTestState()
	events, _ := mustApply(t, base, Command{Type: CmdStartNext})
	events[0].Seq = 2

	_, err := Replay(base, events)
	require.ErrorIs(t, err, ErrSequenceGap)
}

func assertSameState(t *testing.T, want, got State) {
	t.Helper()
	w, err := json.Marshal(want)
	require.NoError(t, err)
	g, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(w), string(g))
}

func TestReasonFor(t *testing.T) {
	assert.Equal(t, "SelfOutbid", ReasonFor(ErrSelfOutbid))
	assert.Equal(t, "AuctionNotActive", ReasonFor(ErrNoActivePlayer))
	assert.Equal(t, "Internal", ReasonFor(ErrSequenceGap))
}
