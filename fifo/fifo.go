// Package fifo implements Cascade's deterministic FIFO protocol: a
// variable-capacity ring buffer with producer/consumer clock domains,
// cycle delay, flow control, and trigger/activation targets (spec.md §3
// GenericFifo, §4.8 FIFO Runtime).
package fifo

import (
	"fmt"

	"github.com/cpehle/cascade/diag"
)

// ConsumerScheduler lets a Fifo schedule delayed push/pop effects on its
// consumer clock domain's rings without depending on package engine.
type ConsumerScheduler interface {
	ScheduleFifoPush(delayCycles int, cb func())
	ScheduleFifoPop(delayCycles int, cb func())
}

// Target is where a completed push delivers activation: either a component
// activation flag or an ITrigger-style callback (spec.md §3 GenericFifo
// "target pointer (low bit distinguishes...)" — modelled explicitly here
// instead of a tagged pointer).
type Target struct {
	Activate   func()
	Callback   func()
	IsCallback bool
}

func (t Target) fire() {
	if t.IsCallback {
		if t.Callback != nil {
			t.Callback()
		}
		return
	}
	if t.Activate != nil {
		t.Activate()
	}
}

// Kind discriminates the four FIFO specializations (spec.md §4.8).
type Kind int

// FIFO specializations.
const (
	RingBuffer Kind = iota
	BitBucket       // size 0, default trigger
	WiredZero       // always empty, reads forbidden
	Combinational   // delay 0, size 0 — push calls the trigger inline
)

// Fifo is the runtime ring buffer (spec.md §3 GenericFifo).
type Fifo struct {
	Name           string
	Kind           Kind
	SizeBytes      int
	EntrySizeBytes int

	Head, Tail         int
	FreeCount          int
	FullCount          int
	MinFree            int
	popsInFlight       int
	pushesInFlight     int

	Delay  int // consumer cycles
	NoFlow bool

	Target   Target
	Consumer ConsumerScheduler

	data []byte
}

// New constructs a ring-buffer FIFO. sizeBytes must be a multiple of
// entrySizeBytes (spec.md §3 GenericFifo invariant).
func New(name string, sizeBytes, entrySizeBytes, delay int, noFlow bool, consumer ConsumerScheduler, target Target) *Fifo {
	if entrySizeBytes <= 0 {
		panic(&diag.Error{Phase: "fifo", Message: fmt.Sprintf("fifo %s: entry size must be positive", name)})
	}
	if sizeBytes%entrySizeBytes != 0 {
		panic(&diag.Error{Phase: "fifo", Message: fmt.Sprintf("fifo %s: size %d is not a multiple of entry size %d", name, sizeBytes, entrySizeBytes)})
	}
	if sizeBytes >= 65536 {
		panic(&diag.Error{Phase: "fifo", Message: fmt.Sprintf("fifo %s: size %d exceeds the 65536 byte maximum", name, sizeBytes)})
	}

	f := &Fifo{
		Name:           name,
		SizeBytes:      sizeBytes,
		EntrySizeBytes: entrySizeBytes,
		Delay:          delay,
		NoFlow:         noFlow,
		Target:         target,
		Consumer:       consumer,
		data:           make([]byte, sizeBytes),
	}
	f.FreeCount = sizeBytes / entrySizeBytes
	f.MinFree = f.FreeCount
	f.Kind = RingBuffer
	return f
}

// NewBitBucket creates a size-0 FIFO whose pushes are always accepted and
// immediately discarded, always firing the default trigger.
func NewBitBucket(name string, target Target) *Fifo {
	return &Fifo{Name: name, Kind: BitBucket, Target: target}
}

// NewWiredZero creates a FIFO that is permanently empty; Pop is illegal.
func NewWiredZero(name string) *Fifo {
	return &Fifo{Name: name, Kind: WiredZero}
}

// NewCombinational creates a delay-0, size-0 FIFO whose push calls the
// target trigger inline.
func NewCombinational(name string, target Target) *Fifo {
	return &Fifo{Name: name, Kind: Combinational, Target: target, EntrySizeBytes: 0}
}

// Full reports whether the FIFO cannot accept another push right now.
func (f *Fifo) Full() bool {
	switch f.Kind {
	case BitBucket, Combinational:
		return false
	case WiredZero:
		return true
	default:
		return f.FreeCount <= 0
	}
}

// Empty reports whether the FIFO has nothing to pop.
func (f *Fifo) Empty() bool {
	switch f.Kind {
	case BitBucket, WiredZero, Combinational:
		return true
	default:
		return f.FullCount <= 0
	}
}

// Push writes entry into the FIFO (spec.md §4.8 "On push").
func (f *Fifo) Push(entry []byte) {
	switch f.Kind {
	case BitBucket:
		f.Target.fire()
		return
	case WiredZero:
		panic(&diag.Error{Phase: "runtime", Message: fmt.Sprintf("fifo %s: push to a wired-to-zero fifo", f.Name)})
	case Combinational:
		f.Target.fire()
		return
	}

	if f.Full() {
		panic(&diag.Error{Phase: "runtime", Message: fmt.Sprintf("fifo %s: push while full", f.Name)})
	}

	copy(f.data[f.Tail:f.Tail+f.EntrySizeBytes], entry)
	f.Tail = (f.Tail + f.EntrySizeBytes) % f.SizeBytes
	f.FreeCount--
	if f.FreeCount < f.MinFree {
		f.MinFree = f.FreeCount
	}

	if f.Delay > 0 {
		f.pushesInFlight++
		f.Consumer.ScheduleFifoPush(f.Delay, func() {
			f.pushesInFlight--
			f.FullCount++
			f.Target.fire()
		})
		return
	}

	f.FullCount++
	f.Target.fire()
}

// Pop removes and returns the head entry (spec.md §4.8 "On pop").
func (f *Fifo) Pop() []byte {
	if f.Kind == WiredZero {
		panic(&diag.Error{Phase: "runtime", Message: fmt.Sprintf("fifo %s: pop from a wired-to-zero fifo", f.Name)})
	}
	if f.Kind == BitBucket || f.Kind == Combinational {
		panic(&diag.Error{Phase: "runtime", Message: fmt.Sprintf("fifo %s: pop from a size-0 fifo", f.Name)})
	}
	if f.Empty() {
		panic(&diag.Error{Phase: "runtime", Message: fmt.Sprintf("fifo %s: pop while empty", f.Name)})
	}

	entry := append([]byte(nil), f.data[f.Head:f.Head+f.EntrySizeBytes]...)
	f.Head = (f.Head + f.EntrySizeBytes) % f.SizeBytes
	f.FullCount--

	if f.NoFlow || f.Delay == 0 {
		f.FreeCount++
		return entry
	}

	f.popsInFlight++
	f.Consumer.ScheduleFifoPop(f.Delay, func() {
		f.popsInFlight--
		f.FreeCount++
	})

	return entry
}

// CheckInvariant validates spec.md §8 invariant 5 for this FIFO.
func (f *Fifo) CheckInvariant() error {
	if f.Kind != RingBuffer {
		return nil
	}
	entries := f.SizeBytes / f.EntrySizeBytes
	total := f.FreeCount + f.popsInFlight + f.FullCount + f.pushesInFlight
	if total != entries {
		return fmt.Errorf("fifo %s: free(%d)+popsInFlight(%d)+full(%d)+pushesInFlight(%d) = %d, want %d",
			f.Name, f.FreeCount, f.popsInFlight, f.FullCount, f.pushesInFlight, total, entries)
	}
	if f.MinFree > f.FreeCount {
		return fmt.Errorf("fifo %s: minFree %d exceeds current freeCount %d", f.Name, f.MinFree, f.FreeCount)
	}
	if f.Head%f.EntrySizeBytes != 0 || f.Tail%f.EntrySizeBytes != 0 {
		return fmt.Errorf("fifo %s: head/tail not a multiple of entry size", f.Name)
	}
	return nil
}

// Deadlocked reports spec.md §4.7 "Deadlock check": a zero-delay fifo with
// data pending and an inactive consumer.
func (f *Fifo) Deadlocked(consumerActive bool) bool {
	return f.Kind == RingBuffer && f.Delay == 0 && f.FullCount > 0 && !consumerActive
}

// MinCapacityEntries computes the minimum safe capacity in entries for a
// FIFO whose consumer-domain delay is delayConsumerCycles, given the
// producer and consumer clock periods in picoseconds (spec.md §4.3 step 1,
// §4.8 "Flow-control semantics"):
//
//	flow control:    2·delay·Tc/Tp + 1
//	no flow control:   delay·Tc/Tp + 1
func MinCapacityEntries(delayConsumerCycles, producerPeriodPs, consumerPeriodPs int, flowControl bool) int {
	mult := 1
	if flowControl {
		mult = 2
	}
	numerator := mult * delayConsumerCycles * consumerPeriodPs
	return ceilDiv(numerator, producerPeriodPs) + 1
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}
