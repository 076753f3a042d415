package engine

import (
	"fmt"

	"github.com/cpehle/cascade/diag"
	"github.com/cpehle/cascade/fifo"
)

// TriggerRecord is a trailing activation record attached to an update
// function's writer-side port (spec.md §4.6 step 3, §4.9 "Port triggers").
// The tagged TargetIsCallback bit replaces the source's "low bit of the
// target pointer" tagging trick with an explicit field.
type TriggerRecord struct {
	Port             *PortWrapper
	TargetComponent  *Component
	Callback         func(value []byte)
	TargetIsCallback bool
	ActiveLow        bool
	Latch            bool
	WasActivePrev    bool
	Delay            int // cycles; 0 = same-phase, >0 = ring-scheduled
}

// PortWrapper is the construction-time record for one declared port
// (spec.md §3 PortWrapper).
type PortWrapper struct {
	ID        int
	Name      string
	Component *Component
	Info      PortInfo
	Direction Direction
	PortKind  PortType
	Conn      Connection

	ReadOnly               bool
	IsFifoEndpoint         bool
	FifoNoReader           bool
	FifoNoWriter           bool
	FifoDisableFlowControl bool
	ProducerBound          bool

	Delay    int // cycles
	FifoSize int // bytes; 0 means auto-size

	Readers  []*UpdateWrapper
	Writers  []*UpdateWrapper
	Triggers []*TriggerRecord

	// Source is set for Connected/Synchronous/Slow/Patched wrappers: the
	// wrapper this one is wired from.
	Source *PortWrapper

	// Terminal-only fields, set by the resolver.
	IsTerminal       bool
	Domain           *ClockDomain
	ValueOffset      int // byte offset within the owning domain's storage
	ConstBytes       []byte
	maxObservedDepth int // deepest synchronous read observed during resolve

	// Fifo is set on both FIFO endpoints once resolveFifos binds the chain
	// to a runtime ring buffer (spec.md §4.3 step 1).
	Fifo *fifo.Fifo

	mark int // 0 unvisited, 1 visiting, 2 done — net-resolve cycle guard
}

func (p *PortWrapper) fatal(format string, args ...interface{}) {
	panic(&diag.Error{
		Phase:       "construct",
		Message:     fmt.Sprintf(format, args...),
		CurrentPort: p.Name,
	})
}

// Combinational wires p to read from src with zero delay ("port1 << port2"
// in the source; spec.md §4.2). The builder phase is not checked here.
func (p *PortWrapper) Combinational(src *PortWrapper) {
	connect(p, src, 0, false)
}

// Synchronous wires p to read from src delay cycles in the past
// ("port1 <= port2" in the source). A delay of 0 is accepted only when src
// is Wired or still Unconnected; use SetDelay to upgrade an
// already-Connected link in place.
func (p *PortWrapper) Synchronous(src *PortWrapper, delay int) {
	connect(p, src, delay, true)
}

// connect implements spec.md §4.2 connect(a, b, delay): validation, then
// linking dst to src as given. InOut chains are linked as declared; no
// terminal endpoint is selected and the endpoints are never swapped.
func connect(dst, src *PortWrapper, delay int, synchronous bool) {
	if dst.ReadOnly {
		dst.fatal("cannot connect read-only port %s", dst.Name)
	}
	if dst.Conn == Connected || dst.Conn == Synchronous {
		if dst.Direction != InOut {
			dst.fatal("port %s is already connected", dst.Name)
		}
	}
	if dst.Info.SizeBytes != src.Info.SizeBytes {
		dst.fatal("size mismatch connecting %s (%d bytes) <- %s (%d bytes)",
			dst.Name, dst.Info.SizeBytes, src.Name, src.Info.SizeBytes)
	}
	if dst == src {
		dst.fatal("port %s cannot connect to itself", dst.Name)
	}
	if dst.IsFifoEndpoint != src.IsFifoEndpoint {
		dst.fatal("FIFOs may only connect to FIFOs: %s <- %s", dst.Name, src.Name)
	}
	if dst.Direction == InOut && src.Direction != InOut {
		dst.fatal("InOut port %s may only connect to another InOut port", dst.Name)
	}
	if dst.Direction == InOut && synchronous {
		dst.fatal("InOut port %s may only connect combinationally", dst.Name)
	}
	if synchronous && delay == 0 && src.Conn != Wired && src.Conn != Unconnected {
		dst.fatal("zero-delay synchronous link %s <- %s is only legal to a wired source", dst.Name, src.Name)
	}
	if delay >= MaxPortDelay {
		dst.fatal("delay %d on %s exceeds the %d cycle maximum", delay, dst.Name, MaxPortDelay)
	}

	dst.Source = src
	dst.Delay = delay
	if synchronous {
		dst.Conn = Synchronous
	} else {
		dst.Conn = Connected
	}
}

// WireTo marks p Wired and read-only. No backing variable is attached: the
// port's value is whatever its terminal storage holds.
func (p *PortWrapper) WireTo() {
	p.Conn = Wired
	p.ReadOnly = true
}

// WireToConst interns value in the owning Builder's constant pool and marks
// p Constant + read-only (spec.md §4.2 wireToConst).
func (p *PortWrapper) WireToConst(b *Builder, value []byte) {
	p.ConstBytes = b.constPool.Intern(value)
	p.Conn = Constant
	p.ReadOnly = true
}

// SetDelay upgrades a Connected link to Synchronous in place.
func (p *PortWrapper) SetDelay(delay int) {
	if p.Conn != Connected && p.Conn != Synchronous {
		p.fatal("SetDelay on unconnected port %s", p.Name)
	}
	if delay >= MaxPortDelay {
		p.fatal("delay %d on %s exceeds the %d cycle maximum", delay, p.Name, MaxPortDelay)
	}
	p.Delay = delay
	p.Conn = Synchronous
}

// SetType locks the terminal's visual behaviour (Normal/Latch/Pulse).
func (p *PortWrapper) SetType(kind PortType) {
	p.PortKind = kind
}

// AddTrigger attaches a trigger fired on every update of the writer whose
// output equals this port, active-high unless activeLow is set.
func (p *PortWrapper) AddTrigger(target *Component, activeLow, latch bool, delay int) *TriggerRecord {
	t := &TriggerRecord{
		Port:            p,
		TargetComponent: target,
		ActiveLow:       activeLow,
		Latch:           latch,
		Delay:           delay,
	}
	p.Triggers = append(p.Triggers, t)
	return t
}

// AddCallbackTrigger attaches an ITrigger-style callback instead of
// activating a component directly.
func (p *PortWrapper) AddCallbackTrigger(cb func(value []byte), activeLow bool, delay int) *TriggerRecord {
	t := &TriggerRecord{
		Port:             p,
		Callback:         cb,
		TargetIsCallback: true,
		ActiveLow:        activeLow,
		Delay:            delay,
	}
	p.Triggers = append(p.Triggers, t)
	return t
}

// ConstantPool deduplicates byte buffers referenced by ports wired to
// constants (spec.md §3 "Constant pool").
type ConstantPool struct {
	buffers map[string][]byte
}

func newConstantPool() *ConstantPool {
	return &ConstantPool{buffers: make(map[string][]byte)}
}

// Intern returns a shared backing slice for value; two calls with
// byte-equal values return the identical slice (invariant 10, spec.md §8).
func (cp *ConstantPool) Intern(value []byte) []byte {
	key := string(value)
	if existing, ok := cp.buffers[key]; ok {
		return existing
	}
	owned := append([]byte(nil), value...)
	cp.buffers[key] = owned
	return owned
}

// Contains reports whether b is backed by a buffer owned by this pool
// ("address-range membership" in spec.md §3, approximated here by identity
// of the interned slice's underlying array start).
func (cp *ConstantPool) Contains(b []byte) bool {
	for _, owned := range cp.buffers {
		if len(owned) > 0 && len(b) > 0 && &owned[0] == &b[0] {
			return true
		}
	}
	return false
}
