// Package session runs one live auction. Every mutation (bids, auctioneer
// controls, timer expiry) is a message on the session inbox and is applied
// by a single goroutine, which turns concurrent arrivals into one ordered
// sequence before any state changes.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/auction-backend/internal/broadcast"
	"github.com/DoyleJ11/auction-backend/internal/engine"
	"github.com/DoyleJ11/auction-backend/internal/metrics"
	"github.com/DoyleJ11/auction-backend/internal/store"
)

var ErrPersistence = errors.New("snapshot could not be saved")
var ErrClosed = errors.New("session closed")

type Msg interface{ isSessionMsg() }

// FromClient carries a command from a connection. Reply, if set, must be
// buffered; it receives nil or the rejection.
type FromClient struct {
	Cmd    engine.Command
	ConnID string
	Ref    string
	Reply  chan error
}

func (FromClient) isSessionMsg() {}

type Join struct {
	Client broadcast.Client
}

func (Join) isSessionMsg() {}

type Leave struct{ ConnID string }

func (Leave) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

type timerFired struct{ gen uint64 }

func (timerFired) isSessionMsg() {}

// View is a consistent read of the session at event Seq.
type View struct {
	Seq        int64
	NumClients int
	State      engine.State
}

type Options struct {
	Store           store.Store
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
	ReplayLogSize   int
	SaveMaxAttempts int
	SaveBackoff     time.Duration
	Now             func() time.Time
}

type Session struct {
	id      string
	inbox   chan Msg
	state   engine.State
	bc      *broadcast.Broadcaster
	view    atomic.Pointer[View]
	saver   *saver
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	timer    *time.Timer
	timerGen uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(parent context.Context, initial engine.State, opts Options) *Session {
	ctx, cancel := context.WithCancel(parent)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Store == nil {
		opts.Store = store.NewMemoryStore()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger.Named("session").With(zap.String("auction", initial.AuctionID))

	s := &Session{
		id:      initial.AuctionID,
		inbox:   make(chan Msg, 64), // Small buffer
		state:   initial,
		bc:      broadcast.New(broadcast.NewLog(initial.Seq, opts.ReplayLogSize)),
		saver:   newSaver(opts.Store, opts.SaveMaxAttempts, opts.SaveBackoff, log, opts.Metrics),
		log:     log,
		metrics: opts.Metrics,
		now:     opts.Now,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.publishView()

	// A session restored mid-player gets a fresh bid window.
	if initial.Status == engine.StatusActive {
		s.armTimer()
	}

	go s.saver.run(ctx)
	go s.loop()
	return s
}

func (s *Session) ID() string { return s.id }

// Inbox exposes the queue so the gateway and tests can send messages.
func (s *Session) Inbox() chan<- Msg { return s.inbox }

func (s *Session) Done() <-chan struct{} { return s.done }

// Snapshot returns the latest committed view without going through the
// inbox. It is safe to call from any goroutine.
func (s *Session) Snapshot() View { return *s.view.Load() }

// Submit sends cmd and waits for the arbitration result.
func (s *Session) Submit(ctx context.Context, cmd engine.Command, connID, ref string) error {
	reply := make(chan error, 1)
	if err := s.send(ctx, FromClient{Cmd: cmd, ConnID: connID, Ref: ref, Reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) Join(ctx context.Context, c broadcast.Client) error {
	return s.send(ctx, Join{Client: c})
}

func (s *Session) Leave(connID string) {
	select {
	case s.inbox <- Leave{ConnID: connID}:
	case <-s.done:
	}
}

func (s *Session) send(ctx context.Context, m Msg) error {
	select {
	case s.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case f := <-s.saver.failures:
			s.bc.Warn(broadcast.RoleAuctioneer, broadcast.Message{
				Kind:   broadcast.KindWarning,
				Seq:    f.seq,
				Reason: "PersistenceFailure",
				Detail: fmt.Sprintf("snapshot %d not saved after %d attempt(s): %v", f.seq, f.attempts, f.err),
			})

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Join:
				// Register client + catch it up from its last ack
				if !s.bc.Register(msg.Client, s.state) {
					s.metrics.ClientDropped(-1)
				}
				s.publishView()

			case Leave:
				s.bc.Unregister(msg.ConnID)
				s.publishView()

			case FromClient:
				err := s.handle(msg.Cmd)
				if msg.Cmd.Type == engine.CmdPlaceBid {
					s.metrics.ObserveBid(resultLabel(err))
				}
				if err != nil {
					s.reject(msg, err)
				}
				if msg.Reply != nil {
					msg.Reply <- err
				}

			case timerFired:
				if msg.gen != s.timerGen {
					break // stale: a bid or control re-armed or cancelled the window
				}
				if err := s.handle(engine.Command{Type: engine.CmdTimerExpired}); err != nil {
					s.log.Warn("timer expiry not applied", zap.Error(err))
				}

			case Shutdown:
				s.shutdown()
				return
			}
		}
	}
}

// handle applies one command. Completion is only committed once its snapshot
// is durable; other resolutions are saved in the background.
func (s *Session) handle(cmd engine.Command) error {
	if cmd.At.IsZero() {
		cmd.At = s.now()
	}
	events, next, err := engine.Apply(s.state, cmd)
	if err != nil {
		return err
	}

	if engine.ContainsEvent(events, engine.EvtSessionCompleted) {
		if err := s.saver.saveNow(s.ctx, store.SnapshotOf(next)); err != nil {
			s.log.Error("completion not recorded", zap.Error(err))
			s.bc.Warn(broadcast.RoleAuctioneer, broadcast.Message{
				Kind:   broadcast.KindWarning,
				Seq:    s.state.Seq,
				Reason: "PersistenceFailure",
				Detail: "auction cannot complete until its final state is saved: " + err.Error(),
			})
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}

	s.commit(events, next)

	if engine.Resolves(events) {
		s.saver.enqueue(store.SnapshotOf(next), nil)
	}
	s.retime(events)
	return nil
}

func (s *Session) commit(events []engine.Event, next engine.State) {
	s.state = next
	for _, d := range s.bc.Publish(events) {
		s.metrics.ClientDropped(d.Lag)
		s.log.Info("dropped slow client", zap.String("conn", d.ConnID), zap.Int64("lag", d.Lag))
	}
	for _, ev := range events {
		s.metrics.ObserveEvent(string(ev.Type))
		s.log.Debug("event committed",
			zap.Int64("seq", ev.Seq),
			zap.String("type", string(ev.Type)),
			zap.String("player", string(ev.Player)),
			zap.String("team", string(ev.Team)),
			zap.Stringer("amount", ev.Amount),
		)
	}
	s.publishView()
}

func (s *Session) reject(msg FromClient, err error) {
	reason := engine.ReasonFor(err)
	if errors.Is(err, ErrPersistence) {
		reason = "PersistenceFailure"
	}
	s.bc.Unicast(msg.ConnID, broadcast.Message{
		Kind:   broadcast.KindRejected,
		Seq:    s.state.Seq,
		Reason: reason,
		Detail: err.Error(),
		Ref:    msg.Ref,
	})
}

// retime keeps the bid window in step with the events just committed.
func (s *Session) retime(events []engine.Event) {
	switch {
	case engine.ContainsEvent(events, engine.EvtPlayerStarted),
		engine.ContainsEvent(events, engine.EvtBidAccepted):
		s.armTimer()
	case s.state.Status != engine.StatusActive:
		s.stopTimer()
	}
}

func (s *Session) armTimer() {
	s.stopTimer()
	gen := s.timerGen
	s.timer = time.AfterFunc(s.state.Rules.BidWindow, func() {
		select {
		case s.inbox <- timerFired{gen: gen}:
		case <-s.ctx.Done():
		}
	})
}

// stopTimer invalidates any armed window; a fire already queued is dropped
// by the generation check.
func (s *Session) stopTimer() {
	s.timerGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) publishView() {
	s.view.Store(&View{Seq: s.state.Seq, NumClients: s.bc.Len(), State: s.state})
}

func (s *Session) shutdown() {
	s.stopTimer()
	s.bc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.saver.store.SaveSession(ctx, store.SnapshotOf(s.state)); err != nil {
		s.log.Warn("final snapshot on shutdown failed", zap.Error(err))
	}
	s.cancel()
}

func resultLabel(err error) string {
	if err == nil {
		return "accepted"
	}
	return engine.ReasonFor(err)
}
