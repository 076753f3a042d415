// Package trigger implements Cascade's scheduled-event dispatch: a
// time-ordered queue of user events, drained by cascade.Simulator.Run
// between scheduler runs rather than inside a clock domain's post-tick
// phase, with a dense type registry so the archive can record and
// replay them by a stable numeric id (spec.md §4.9 Trigger/Event Dispatch).
package trigger

import (
	"container/heap"
	"fmt"
	"sync"
)

// EventSim is the minimal simulation surface an Event needs to act on when
// fired: the current simulation time and the ability to schedule a further
// event.
type EventSim interface {
	SimTimePs() int64
	Schedule(delayPs int64, e Event)
}

// Event is anything the dispatcher can carry in its time-ordered queue
// (spec.md §3 "scheduled Event objects", GLOSSARY "Event").
type Event interface {
	// Fire runs the event's effect against sim at its scheduled time.
	Fire(sim EventSim)
	// TypeID is the dense registry id of this event's concrete type,
	// assigned once via RegisterEventType.
	TypeID() uint32
}

// ArchiveEncoder is implemented by events that carry state the archive
// needs to serialize (spec.md §4.10). Events with no payload need not
// implement it.
type ArchiveEncoder interface {
	EncodeArchive() []byte
}

var (
	registryMu   sync.Mutex
	registry     []string
	registryByID = map[string]uint32{}
)

// RegisterEventType assigns (or returns the existing) dense type id for
// name. Call once per concrete Event type, typically from an init() or
// package-level var, so the id is stable across a process's lifetime
// (spec.md §4.10 "dense type-id registration for archiving").
func RegisterEventType(name string) uint32 {
	registryMu.Lock()
	defer registryMu.Unlock()
	if id, ok := registryByID[name]; ok {
		return id
	}
	id := uint32(len(registry))
	registry = append(registry, name)
	registryByID[name] = id
	return id
}

var decoders = map[uint32]func([]byte) Event{}

// RegisterDecoder registers the function that reconstructs an Event of the
// given type id from its EncodeArchive payload, so the archive can restore
// a pending event queue (spec.md §4.10 "pending trigger/push/pop/event
// queues").
func RegisterDecoder(typeID uint32, fn func([]byte) Event) {
	registryMu.Lock()
	defer registryMu.Unlock()
	decoders[typeID] = fn
}

// Decode reconstructs an Event via its registered decoder, or reports false
// if typeID has none.
func Decode(typeID uint32, payload []byte) (Event, bool) {
	registryMu.Lock()
	fn, ok := decoders[typeID]
	registryMu.Unlock()
	if !ok {
		return nil, false
	}
	return fn(payload), true
}

// TypeName returns the name an id was registered under, for diagnostics.
func TypeName(id uint32) string {
	registryMu.Lock()
	defer registryMu.Unlock()
	if int(id) >= len(registry) {
		return fmt.Sprintf("event#%d", id)
	}
	return registry[id]
}

// entry is one scheduled occurrence in the queue, ordered by time then by a
// monotonically increasing sequence number so same-time events fire in
// submission order (spec.md §4.9 "ties broken by submission order").
type entry struct {
	timePs int64
	seq    uint64
	event  Event
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].timePs != h[j].timePs {
		return h[i].timePs < h[j].timePs
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(*entry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Queue is a time-ordered multimap of pending events (spec.md §3
// "EventQueue").
type Queue struct {
	heap entryHeap
	seq  uint64
}

// NewQueue returns an empty event queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Schedule enqueues e to fire at timePs.
func (q *Queue) Schedule(timePs int64, e Event) {
	q.seq++
	heap.Push(&q.heap, &entry{timePs: timePs, seq: q.seq, event: e})
}

// Len reports how many events are pending.
func (q *Queue) Len() int { return q.heap.Len() }

// PeekTime returns the time of the earliest pending event and true, or
// (0, false) if the queue is empty.
func (q *Queue) PeekTime() (int64, bool) {
	if q.heap.Len() == 0 {
		return 0, false
	}
	return q.heap[0].timePs, true
}

// DrainUpTo fires every event scheduled at or before nowPs, in (time, seq)
// order, via sim.
func (q *Queue) DrainUpTo(nowPs int64, sim EventSim) {
	for q.heap.Len() > 0 && q.heap[0].timePs <= nowPs {
		e := heap.Pop(&q.heap).(*entry)
		e.event.Fire(sim)
	}
}

// Pending returns a snapshot of queued events for archiving, ordered by
// (time, seq).
func (q *Queue) Pending() []struct {
	TimePs int64
	Event  Event
} {
	cp := append(entryHeap(nil), q.heap...)
	out := make([]struct {
		TimePs int64
		Event  Event
	}, 0, len(cp))
	for len(cp) > 0 {
		e := heap.Pop(&cp).(*entry)
		out = append(out, struct {
			TimePs int64
			Event  Event
		}{e.timePs, e.event})
	}
	return out
}
