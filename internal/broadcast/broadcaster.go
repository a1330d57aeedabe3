// Package broadcast fans committed auction events out to connected clients.
//
// A Broadcaster is owned by exactly one session goroutine and is not safe for
// concurrent use; ordering comes from that single owner pushing every message
// into per-client outboxes in commit order.
package broadcast

import (
	"sync/atomic"

	"github.com/DoyleJ11/auction-backend/internal/engine"
)

type Role string

const (
	RoleAuctioneer Role = "auctioneer"
	RoleBidder     Role = "bidder"
	RoleViewer     Role = "viewer"
)

type Kind string

const (
	KindEvent    Kind = "event"
	KindSnapshot Kind = "snapshot"
	KindRejected Kind = "rejected"
	KindWarning  Kind = "warning"
)

// Message is what a client outbox carries. Exactly one of Event or State is
// meaningful depending on Kind.
type Message struct {
	Kind   Kind
	Event  engine.Event
	State  *engine.State
	Seq    int64
	Reason string
	Detail string
	Ref    string // client correlation id for rejections
}

// Registration describes one connection. The gateway owns it and is the only
// writer of the acknowledged sequence number.
type Registration struct {
	ConnID  string
	Role    Role
	Team    engine.TeamID
	lastAck atomic.Int64
}

// NewRegistration creates a registration. lastAck < 0 means the client has
// no history and wants a snapshot.
func NewRegistration(connID string, role Role, team engine.TeamID, lastAck int64) *Registration {
	r := &Registration{ConnID: connID, Role: role, Team: team}
	r.lastAck.Store(lastAck)
	return r
}

// Ack records seq if it is newer than what the client acknowledged before.
func (r *Registration) Ack(seq int64) {
	for {
		cur := r.lastAck.Load()
		if seq <= cur || r.lastAck.CompareAndSwap(cur, seq) {
			return
		}
	}
}

func (r *Registration) LastAck() int64 { return r.lastAck.Load() }

type Client struct {
	Reg    *Registration
	Outbox chan Message
}

type Broadcaster struct {
	log     *Log
	clients map[string]Client
}

func New(log *Log) *Broadcaster {
	return &Broadcaster{log: log, clients: make(map[string]Client)}
}

func (b *Broadcaster) Len() int { return len(b.clients) }

// Register adds a client and brings it up to date: events after its last
// acknowledged seq are replayed, or the current state is sent when the log
// cannot cover that range. It reports false if the client could not keep up
// with the catch-up and was dropped.
func (b *Broadcaster) Register(c Client, current engine.State) bool {
	if old, ok := b.clients[c.Reg.ConnID]; ok && old.Outbox != c.Outbox {
		close(old.Outbox)
	}

	events, ok := b.log.Since(c.Reg.LastAck())
	if !ok {
		snap := current
		if !trySend(c.Outbox, Message{Kind: KindSnapshot, State: &snap, Seq: current.Seq}) {
			close(c.Outbox)
			delete(b.clients, c.Reg.ConnID)
			return false
		}
	}
	for _, ev := range events {
		if !trySend(c.Outbox, Message{Kind: KindEvent, Event: ev, Seq: ev.Seq}) {
			close(c.Outbox)
			delete(b.clients, c.Reg.ConnID)
			return false
		}
	}

	b.clients[c.Reg.ConnID] = c
	return true
}

func (b *Broadcaster) Unregister(connID string) {
	if c, ok := b.clients[connID]; ok {
		close(c.Outbox)
		delete(b.clients, connID)
	}
}

// Dropped describes a client removed for falling behind. Lag counts the
// published events it had not acknowledged; -1 if it never sent an ack.
type Dropped struct {
	ConnID string
	Lag    int64
}

// Publish appends events to the log and pushes them to every client. Slow
// clients are dropped; they reconnect and replay from their last ack.
func (b *Broadcaster) Publish(events []engine.Event) (dropped []Dropped) {
	if len(events) == 0 {
		return nil
	}
	for _, ev := range events {
		b.log.Append(ev)
	}
	head := events[len(events)-1].Seq
	for id, c := range b.clients {
		for _, ev := range events {
			if !trySend(c.Outbox, Message{Kind: KindEvent, Event: ev, Seq: ev.Seq}) {
				close(c.Outbox)
				delete(b.clients, id)
				dropped = append(dropped, Dropped{ConnID: id, Lag: lag(head, c.Reg.LastAck())})
				break
			}
		}
	}
	return dropped
}

func lag(head, acked int64) int64 {
	if acked < 0 {
		return -1
	}
	return max(head-acked, 0)
}

// Unicast sends msg to one client only.
func (b *Broadcaster) Unicast(connID string, msg Message) bool {
	c, ok := b.clients[connID]
	if !ok {
		return false
	}
	return trySend(c.Outbox, msg)
}

// Warn sends msg to every client registered with role.
func (b *Broadcaster) Warn(role Role, msg Message) {
	for _, c := range b.clients {
		if c.Reg.Role == role {
			trySend(c.Outbox, msg)
		}
	}
}

func (b *Broadcaster) Close() {
	for id, c := range b.clients {
		close(c.Outbox) // Tell client no more messages
		delete(b.clients, id)
	}
}

func trySend(ch chan Message, msg Message) bool {
	select {
	case ch <- msg:
		return true
	default:
		return false
	}
}
