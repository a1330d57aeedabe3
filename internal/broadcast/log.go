package broadcast

import "github.com/DoyleJ11/auction-backend/internal/engine"

// Log is the session-scoped record of committed events kept for replay. It
// retains at most limit events; older ones are only recoverable through a
// state snapshot.
type Log struct {
	head   int64 // seq of the newest event reflected in the log
	events []engine.Event
	limit  int
}

// NewLog starts a log whose history begins after seq base.
func NewLog(base int64, limit int) *Log {
	if limit <= 0 {
		limit = 1024
	}
	return &Log{head: base, limit: limit}
}

func (l *Log) Head() int64 { return l.head }

func (l *Log) Append(ev engine.Event) {
	l.events = append(l.events, ev)
	l.head = ev.Seq
	if over := len(l.events) - l.limit; over > 0 {
		l.events = append(l.events[:0:0], l.events[over:]...)
	}
}

// Since returns every event after seq. ok is false when the log no longer
// holds the full range and the caller needs a snapshot instead.
func (l *Log) Since(seq int64) (events []engine.Event, ok bool) {
	if seq > l.head || seq < 0 {
		return nil, false
	}
	oldest := l.head + 1
	if len(l.events) > 0 {
		oldest = l.events[0].Seq
	}
	if seq+1 < oldest {
		return nil, false
	}
	for i, ev := range l.events {
		if ev.Seq > seq {
			return l.events[i:], true
		}
	}
	return nil, true
}
