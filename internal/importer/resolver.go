package importer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

var ErrRequestNotFound = errors.New("no pending decision with that id")
var ErrUnknownDecision = errors.New("unknown decision")

// PendingRequest is a Request still waiting for an answer.
type PendingRequest struct {
	Request
	AskedAt time.Time `json:"askedAt"`
}

type pending struct {
	req   PendingRequest
	reply chan Decision
}

// ChannelResolver parks each duplicate until someone answers it, typically
// an auctioneer through the HTTP API. Requests that outlive their context
// are withdrawn.
type ChannelResolver struct {
	mu      sync.Mutex
	pending map[string]*pending
	now     func() time.Time
}

func NewChannelResolver() *ChannelResolver {
	return &ChannelResolver{pending: make(map[string]*pending), now: time.Now}
}

func (r *ChannelResolver) Resolve(ctx context.Context, req Request) (Decision, error) {
	p := &pending{
		req:   PendingRequest{Request: req, AskedAt: r.now()},
		reply: make(chan Decision, 1),
	}
	r.mu.Lock()
	r.pending[req.ID] = p
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, req.ID)
		r.mu.Unlock()
	}()

	select {
	case d := <-p.reply:
		return d, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Pending lists the open requests for an auction, oldest first.
func (r *ChannelResolver) Pending(auctionID string) []PendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PendingRequest, 0, len(r.pending))
	for _, p := range r.pending {
		if p.req.AuctionID == auctionID {
			out = append(out, p.req)
		}
	}
	slices.SortFunc(out, func(a, b PendingRequest) int { return a.AskedAt.Compare(b.AskedAt) })
	return out
}

// Answer delivers d to the request. Each request takes one answer.
func (r *ChannelResolver) Answer(auctionID, requestID string, d Decision) error {
	if !d.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownDecision, d)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[requestID]
	if !ok || p.req.AuctionID != auctionID {
		return ErrRequestNotFound
	}
	delete(r.pending, requestID)
	p.reply <- d
	return nil
}
