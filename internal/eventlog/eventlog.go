// Package eventlog keeps a bounded FIFO of access events stamped with a
// relative tick counter instead of wall-clock time.
package eventlog

import (
	"errors"
	"sync"
)

// Capacity is the number of events the log can hold before Add fails.
const Capacity = 100

var (
	ErrFull = errors.New("eventlog: full")
)

type EventType uint8

const (
	Attempt EventType = iota
	Confirm
	Logout
	Fail
	Unknown
)

func (t EventType) String() string {
	switch t {
	case Attempt:
		return "attempt"
	case Confirm:
		return "confirm"
	case Logout:
		return "logout"
	case Fail:
		return "fail"
	case Unknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// AccessEvent is one logged access occurrence.
//
// While pending inside a List, Time holds the counter value at insertion.
// Events handed out by Next carry the elapsed ticks since insertion instead.
type AccessEvent struct {
	Type  EventType
	Time  uint32
	TagID [4]byte
}

// List is a fixed-capacity circular queue of AccessEvent.
//
// start == stop both when the list is empty and when it is full; the empty
// flag is what tells the two apart.
type List struct {
	mu      sync.Mutex
	events  [Capacity]AccessEvent
	start   int // oldest pending event
	stop    int // next free slot
	empty   bool
	counter uint32
}

func New() *List {
	return &List{empty: true}
}

// Add appends an event. It returns ErrFull, leaving the list untouched, when
// Capacity events are already pending.
func (l *List) Add(t EventType, tag [4]byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.size() == Capacity {
		return ErrFull
	}

	// The first pending event defines the epoch for every later one.
	if l.empty {
		l.counter = 0
		l.empty = false
	}

	l.events[l.stop] = AccessEvent{Type: t, Time: l.counter, TagID: tag}
	l.stop = (l.stop + 1) % Capacity
	return nil
}

// Next removes the oldest event and returns it with Time converted to the
// ticks elapsed since it was added. The slot it occupied is cleared.
func (l *List) Next() (AccessEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.empty {
		return AccessEvent{}, false
	}

	stored := l.events[l.start]
	out := AccessEvent{
		Type:  stored.Type,
		Time:  l.counter - stored.Time,
		TagID: stored.TagID,
	}
	l.events[l.start] = AccessEvent{}

	l.start = (l.start + 1) % Capacity
	if l.start == l.stop {
		l.counter = 0
		l.empty = true
	}
	return out, true
}

// Peek returns what Next would return without removing it.
func (l *List) Peek() (AccessEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.empty {
		return AccessEvent{}, false
	}
	stored := l.events[l.start]
	return AccessEvent{
		Type:  stored.Type,
		Time:  l.counter - stored.Time,
		TagID: stored.TagID,
	}, true
}

// Drain empties the list and returns the events oldest first.
func (l *List) Drain() []AccessEvent {
	var out []AccessEvent
	for {
		ev, ok := l.Next()
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

func (l *List) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size()
}

func (l *List) size() int {
	if l.empty {
		return 0
	}
	if l.stop > l.start {
		return l.stop - l.start
	}
	return l.stop + (Capacity - l.start)
}

// Tick advances the relative clock by one.
func (l *List) Tick() { l.Advance(1) }

// Advance advances the relative clock by n ticks.
func (l *List) Advance(n uint32) {
	l.mu.Lock()
	l.counter += n
	l.mu.Unlock()
}

func (l *List) Counter() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counter
}
