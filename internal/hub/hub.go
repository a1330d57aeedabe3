// Package hub owns the set of live auction sessions. Like a session, it is an
// actor: the auction-id map is only touched by the hub goroutine.
package hub

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/auction-backend/internal/engine"
	"github.com/DoyleJ11/auction-backend/internal/session"
	"github.com/DoyleJ11/auction-backend/internal/store"
)

var (
	ErrNotFound = errors.New("auction not found")
	ErrExists   = errors.New("auction already exists")
	ErrClosed   = errors.New("hub closed")
)

type HubMsg interface{ isHubMsg() }

type CreateSession struct {
	State engine.State
	Reply chan *session.Session // nil if the id is taken
}

type GetSession struct {
	ID    string
	Reply chan *session.Session // may be nil
}

// EnsureSession returns the live session for State.AuctionID, starting one
// from State if there is none.
type EnsureSession struct {
	State engine.State
	Reply chan *session.Session
}

type RemoveSession struct {
	ID string
}

type ListSessions struct {
	Reply chan []string
}

type ShutdownHub struct{}

func (CreateSession) isHubMsg() {}
func (GetSession) isHubMsg()    {}
func (EnsureSession) isHubMsg() {}
func (RemoveSession) isHubMsg() {}
func (ListSessions) isHubMsg()  {}
func (ShutdownHub) isHubMsg()   {}

type Hub struct {
	inbox    chan HubMsg
	sessions map[string]*session.Session
	opts     session.Options
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewHub starts the hub. opts is the template every session is started with;
// a nil Store falls back to an in-memory one shared by all sessions.
func NewHub(parent context.Context, opts session.Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Store == nil {
		opts.Store = store.NewMemoryStore()
	}
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[string]*session.Session),
		opts:     opts,
		log:      opts.Logger.Named("hub"),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.done }

// Create persists the initial snapshot and starts a session for it.
func (h *Hub) Create(ctx context.Context, initial engine.State) (*session.Session, error) {
	if existing, err := h.lookup(ctx, initial.AuctionID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrExists
	}
	if err := h.opts.Store.SaveSession(ctx, store.SnapshotOf(initial)); err != nil {
		return nil, fmt.Errorf("save initial snapshot: %w", err)
	}

	reply := make(chan *session.Session, 1)
	if err := h.send(ctx, CreateSession{State: initial, Reply: reply}); err != nil {
		return nil, err
	}
	s, err := h.await(ctx, reply)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrExists
	}
	return s, nil
}

// Open returns the live session for id, restoring it from the store when it
// is not in memory (after a restart, for example).
func (h *Hub) Open(ctx context.Context, id string) (*session.Session, error) {
	s, err := h.lookup(ctx, id)
	if err != nil || s != nil {
		return s, err
	}

	snap, err := h.opts.Store.LoadSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load auction %s: %w", id, err)
	}

	reply := make(chan *session.Session, 1)
	if err := h.send(ctx, EnsureSession{State: snap.State, Reply: reply}); err != nil {
		return nil, err
	}
	return h.await(ctx, reply)
}

// List returns the ids of the sessions held in memory, sorted.
func (h *Hub) List(ctx context.Context) ([]string, error) {
	reply := make(chan []string, 1)
	if err := h.send(ctx, ListSessions{Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case ids := <-reply:
		slices.Sort(ids)
		return ids, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrClosed
	}
}

func (h *Hub) Remove(id string) {
	select {
	case h.inbox <- RemoveSession{ID: id}:
	case <-h.done:
	}
}

// Shutdown stops every session, waiting for their final snapshots.
func (h *Hub) Shutdown(ctx context.Context) error {
	if err := h.send(ctx, ShutdownHub{}); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) lookup(ctx context.Context, id string) (*session.Session, error) {
	reply := make(chan *session.Session, 1)
	if err := h.send(ctx, GetSession{ID: id, Reply: reply}); err != nil {
		return nil, err
	}
	return h.await(ctx, reply)
}

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrClosed
	}
}

func (h *Hub) await(ctx context.Context, reply chan *session.Session) (*session.Session, error) {
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrClosed
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateSession:
				if h.live(msg.State.AuctionID) != nil {
					msg.Reply <- nil
					break
				}
				msg.Reply <- h.start(msg.State)

			case GetSession:
				msg.Reply <- h.live(msg.ID) // May be nil

			case EnsureSession:
				if s := h.live(msg.State.AuctionID); s != nil {
					msg.Reply <- s
					break
				}
				msg.Reply <- h.start(msg.State)

			case RemoveSession:
				if s := h.sessions[msg.ID]; s != nil {
					select {
					case s.Inbox() <- session.Shutdown{}:
					case <-s.Done():
					}
					delete(h.sessions, msg.ID)
					h.opts.Metrics.SetSessions(len(h.sessions))
				}

			case ListSessions:
				ids := make([]string, 0, len(h.sessions))
				for id := range h.sessions {
					if h.live(id) != nil {
						ids = append(ids, id)
					}
				}
				msg.Reply <- ids

			case ShutdownHub:
				h.shutdown()
				h.cancel()
				return
			}
		}
	}
}

// live returns the session for id unless it has stopped on its own.
func (h *Hub) live(id string) *session.Session {
	s := h.sessions[id]
	if s == nil {
		return nil
	}
	select {
	case <-s.Done():
		delete(h.sessions, id)
		h.opts.Metrics.SetSessions(len(h.sessions))
		return nil
	default:
		return s
	}
}

func (h *Hub) start(initial engine.State) *session.Session {
	s := session.New(h.ctx, initial, h.opts)
	h.sessions[initial.AuctionID] = s
	h.opts.Metrics.SetSessions(len(h.sessions))
	h.log.Info("session started",
		zap.String("auction", initial.AuctionID),
		zap.Int64("seq", initial.Seq),
		zap.String("status", string(initial.Status)),
	)
	return s
}

func (h *Hub) shutdown() {
	for _, s := range h.sessions {
		select {
		case s.Inbox() <- session.Shutdown{}:
		case <-s.Done():
		}
	}
	deadline := time.NewTimer(10 * time.Second)
	defer deadline.Stop()
	for id, s := range h.sessions {
		select {
		case <-s.Done():
		case <-deadline.C:
			h.log.Warn("sessions did not stop in time", zap.String("first", id))
			clear(h.sessions)
			h.opts.Metrics.SetSessions(0)
			return
		}
	}
	clear(h.sessions)
	h.opts.Metrics.SetSessions(0)
}
