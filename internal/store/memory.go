package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps snapshots in process. Snapshots are stored encoded so
// callers never share state with the store.
type MemoryStore struct {
	mu    sync.Mutex
	docs  map[string][]byte
	seqs  map[string]int64
	fail  error
	saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: map[string][]byte{}, seqs: map[string]int64{}}
}

// FailWith makes every following save return err until cleared with nil.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Saves reports how many saves succeeded.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *MemoryStore) LoadSession(_ context.Context, auctionID string) (*Snapshot, error) {
	m.mu.Lock()
	doc, ok := m.docs[auctionID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	var snap Snapshot
	if err := json.Unmarshal(doc, &snap); err != nil {
		return nil, fmt.Errorf("memory store: decode %s: %w", auctionID, err)
	}
	return &snap, nil
}

func (m *MemoryStore) SaveSession(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	if cur, ok := m.seqs[snap.AuctionID]; ok && cur > snap.Seq {
		return nil
	}
	snap.SavedAt = time.Now().UTC()
	doc, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("memory store: encode %s: %w", snap.AuctionID, err)
	}
	m.docs[snap.AuctionID] = doc
	m.seqs[snap.AuctionID] = snap.Seq
	m.saves++
	return nil
}
