// Package store is the persistence boundary for auction sessions.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/DoyleJ11/auction-backend/internal/engine"
)

var ErrNotFound = errors.New("auction not found")

// Snapshot is the durable form of a session: the full player pool and team
// ledger as of event Seq.
type Snapshot struct {
	AuctionID string       `json:"auctionId"`
	Seq       int64        `json:"seq"`
	State     engine.State `json:"state"`
	SavedAt   time.Time    `json:"savedAt"`
}

func SnapshotOf(s engine.State) *Snapshot {
	return &Snapshot{AuctionID: s.AuctionID, Seq: s.Seq, State: s}
}

// Store loads and saves session snapshots. Implementations must never let an
// older snapshot overwrite a newer one for the same auction.
type Store interface {
	LoadSession(ctx context.Context, auctionID string) (*Snapshot, error)
	SaveSession(ctx context.Context, snap *Snapshot) error
}
