// Package importer turns an incoming player list into an ImportPlayers
// command. A player whose name matches one already in the pool is a
// duplicate, and a Resolver decides what happens to it.
package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/auction-backend/internal/engine"
)

var ErrInvalidPlayer = errors.New("invalid player")

type Decision string

const (
	Merge        Decision = "merge"        // replace the existing player's details
	SkipExisting Decision = "skipExisting" // keep the existing player, drop the incoming one
	CreateNew    Decision = "createNew"    // keep both
)

func (d Decision) Valid() bool {
	switch d {
	case Merge, SkipExisting, CreateNew:
		return true
	}
	return false
}

// Request asks for a decision on one duplicate.
type Request struct {
	ID        string        `json:"id"`
	AuctionID string        `json:"auctionId"`
	Incoming  engine.Player `json:"incoming"`
	Existing  engine.Player `json:"existing"`
}

type Resolver interface {
	Resolve(ctx context.Context, req Request) (Decision, error)
}

// Plan is the outcome of an import, in input order.
type Plan struct {
	Add     []engine.Player
	Merge   []engine.Player
	Skipped []engine.Player
}

func (p Plan) Command(at time.Time) engine.Command {
	return engine.Command{Type: engine.CmdImportPlayers, Players: p.Add, Merges: p.Merge, At: at}
}

type Options struct {
	// Timeout bounds each decision; an unanswered duplicate is skipped.
	Timeout time.Duration
	// Concurrency bounds how many decisions are outstanding at once.
	Concurrency int
	Logger      *zap.Logger
}

type Importer struct {
	resolver    Resolver
	timeout     time.Duration
	concurrency int
	log         *zap.Logger

	mu   sync.Mutex
	busy map[string]chan struct{} // auction id -> closed on unlock
}

func New(resolver Resolver, opts Options) *Importer {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Importer{
		resolver:    resolver,
		timeout:     opts.Timeout,
		concurrency: opts.Concurrency,
		log:         opts.Logger.Named("importer"),
		busy:        make(map[string]chan struct{}),
	}
}

// Lock serializes imports into one auction. A plan is only valid against the
// pool it was built from, so hold the lock from reading the pool until the
// plan is committed.
func (im *Importer) Lock(ctx context.Context, auctionID string) (unlock func(), err error) {
	for {
		im.mu.Lock()
		held, ok := im.busy[auctionID]
		if !ok {
			released := make(chan struct{})
			im.busy[auctionID] = released
			im.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					im.mu.Lock()
					delete(im.busy, auctionID)
					im.mu.Unlock()
					close(released)
				})
			}, nil
		}
		im.mu.Unlock()

		select {
		case <-held:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Import validates incoming against the existing pool and resolves every
// duplicate. Players without an ID are given one.
func (im *Importer) Import(ctx context.Context, auctionID string, existing engine.Pool, incoming []engine.Player) (Plan, error) {
	byName := make(map[string]engine.Player, len(existing.Players))
	for _, id := range existing.Order {
		p := existing.Players[id]
		byName[normalize(p.Name)] = p
	}

	players := make([]engine.Player, len(incoming))
	seen := make(map[engine.PlayerID]bool, len(incoming))
	for i, p := range incoming {
		if err := validate(p); err != nil {
			return Plan{}, fmt.Errorf("player %d: %w", i, err)
		}
		if p.ID == "" {
			p.ID = newPlayerID()
		}
		if seen[p.ID] {
			return Plan{}, fmt.Errorf("player %d: %w: id %s repeated", i, ErrInvalidPlayer, p.ID)
		}
		seen[p.ID] = true
		players[i] = p
	}

	decisions := make([]Decision, len(players))
	matches := make([]engine.Player, len(players))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.concurrency)
	for i, p := range players {
		match, dup := byName[normalize(p.Name)]
		if !dup {
			if _, clash := existing.Players[p.ID]; clash {
				match, dup = existing.Players[p.ID], true
			}
		}
		if !dup {
			decisions[i] = CreateNew
			continue
		}
		matches[i] = match

		g.Go(func() error {
			d, err := im.decide(gctx, Request{
				ID:        uuid.NewString(),
				AuctionID: auctionID,
				Incoming:  p,
				Existing:  match,
			})
			if err != nil {
				return err
			}
			decisions[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Plan{}, err
	}

	var plan Plan
	merged := map[engine.PlayerID]int{}
	for i, p := range players {
		switch decisions[i] {
		case Merge:
			p.ID = matches[i].ID
			if j, ok := merged[p.ID]; ok {
				plan.Merge[j] = p // last one wins
				continue
			}
			merged[p.ID] = len(plan.Merge)
			plan.Merge = append(plan.Merge, p)
		case SkipExisting:
			plan.Skipped = append(plan.Skipped, p)
		default:
			if _, clash := existing.Players[p.ID]; clash {
				p.ID = newPlayerID()
			}
			plan.Add = append(plan.Add, p)
		}
	}

	im.log.Info("import planned",
		zap.String("auction", auctionID),
		zap.Int("added", len(plan.Add)),
		zap.Int("merged", len(plan.Merge)),
		zap.Int("skipped", len(plan.Skipped)),
	)
	return plan, nil
}

func (im *Importer) decide(ctx context.Context, req Request) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, im.timeout)
	defer cancel()

	d, err := im.resolver.Resolve(ctx, req)
	switch {
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil:
		im.log.Info("duplicate decision timed out, skipping",
			zap.String("request", req.ID),
			zap.String("player", req.Incoming.Name),
		)
		return SkipExisting, nil
	case err != nil:
		return "", fmt.Errorf("resolve duplicate %q: %w", req.Incoming.Name, err)
	case !d.Valid():
		return "", fmt.Errorf("resolve duplicate %q: unknown decision %q", req.Incoming.Name, d)
	}
	return d, nil
}

func validate(p engine.Player) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name required", ErrInvalidPlayer)
	}
	if p.BasePrice.IsNegative() {
		return fmt.Errorf("%w: negative base price", ErrInvalidPlayer)
	}
	return nil
}

// normalize folds case and whitespace so "Virat  Kohli" matches "virat kohli".
func normalize(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

func newPlayerID() engine.PlayerID { return engine.PlayerID(uuid.NewString()) }
