package store

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/auction-backend/internal/engine"
)

func sampleState(id string) engine.State {
	return engine.NewState(id,
		engine.Rules{MinIncrement: decimal.NewFromInt(50)},
		[]engine.Team{{ID: "A", Purse: decimal.NewFromInt(1000), MaxRoster: 5}},
		[]engine.Player{{ID: "p1", Name: "One", BasePrice: decimal.NewFromInt(100), PhotoURL: "https://cdn.example/p1.webp"}},
	)
}

// exerciseStore runs the contract every Store implementation must satisfy.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	id := "AUC-" + uuid.NewString()[:8]

	t.Run("missing auction", func(t *testing.T) {
		_, err := s.LoadSession(ctx, id)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("round trip", func(t *testing.T) {
		st := sampleState(id)
		require.NoError(t, s.SaveSession(ctx, SnapshotOf(st)))

		got, err := s.LoadSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, got.AuctionID)
		assert.Equal(t, "https://cdn.example/p1.webp", got.State.Pool.Players["p1"].PhotoURL)
		assert.True(t, got.State.Ledger.Teams["A"].Purse.Equal(decimal.NewFromInt(1000)))
		assert.False(t, got.SavedAt.IsZero())
	})

	t.Run("older snapshot never overwrites newer", func(t *testing.T) {
		newer := sampleState(id)
		newer.Seq = 9
		require.NoError(t, s.SaveSession(ctx, SnapshotOf(newer)))

		older := sampleState(id)
		older.Seq = 4
		require.NoError(t, s.SaveSession(ctx, SnapshotOf(older)))

		got, err := s.LoadSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(9), got.Seq)
	})
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_InjectedFailure(t *testing.T) {
	m := NewMemoryStore()
	boom := errors.New("down")
	m.FailWith(boom)
	require.ErrorIs(t, m.SaveSession(context.Background(), SnapshotOf(sampleState("X"))), boom)

	m.FailWith(nil)
	require.NoError(t, m.SaveSession(context.Background(), SnapshotOf(sampleState("X"))))
	assert.Equal(t, 1, m.Saves())
}

func TestGormStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}
	s, err := OpenPostgres(context.Background(), dsn, PoolConfig{MaxOpenConns: 4})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Ping(context.Background()))
	exerciseStore(t, s)
}
