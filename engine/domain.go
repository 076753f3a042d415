package engine

import (
	"context"
	"log/slog"
)

// Custom slog levels, mirroring the teacher's LevelTrace/LevelWaveform
// pattern of extending log/slog rather than reaching for a logging library.
const (
	LevelTick slog.Level = slog.LevelInfo - 2
)

// ringSlot holds the callbacks due to fire when the domain's ring index
// reaches this slot. Using a closure per scheduled event plays the role of
// the source's tagged union record (spec.md §9 "Sentinel and ring
// buffers"): each closure already captures its own typed payload, so no
// explicit tag field is needed.
type ringSlot struct {
	callbacks []func()
}

// ClockDomain is the set of components, updates and ports advanced together
// on a common rising edge (spec.md §3 ClockDomain).
type ClockDomain struct {
	Name   string
	ID     int
	Period int // picoseconds; 0 = manual

	RisingEdgeCount int64
	NextEdgeTime    int64
	PrevEdgeTime    int64
	PrevEdgeIndex   int64

	// multi-domain scheduling list pointers (spec.md §3, §4.7); owned and
	// mutated exclusively by package multidomain.
	NextDifferentNextTick *ClockDomain
	NextSameNextTick      *ClockDomain
	LastSameNextTick      *ClockDomain

	// Generator relationship for rational-ratio derived clocks: the
	// (RatioB*n)-th local edge aligns with the (RatioA*n+PhaseM)-th generator
	// edge, shifted by PhaseK ps (spec.md §4.7). Consumed by package
	// multidomain's next-edge computation.
	Generator *ClockDomain
	RatioA    int // generator-edge multiplier
	RatioB    int // local-edge multiplier
	PhaseM    int
	PhaseK    int // ps shift

	UpdateStream []*updateStreamEntry
	sentinel     *UpdateWrapper

	StickyTriggers []*TriggerRecord

	syncRing   []ringSlot
	pushRing   []ringSlot
	popRing    []ringSlot
	ringMask   int
	ringIndex  int

	Tickables        []Tickable
	ConstantStickies []*PortWrapper

	Storage *PortStorage

	Debug bool // enables validity tracking / invalidation (spec.md §4.6)
}

// updateStreamEntry is one scheduled slot of the per-cycle update
// byte-stream (spec.md §4.6 step 3): {fn, component, trigger-records[]}.
type updateStreamEntry struct {
	Update   *UpdateWrapper
	Triggers []*TriggerRecord
}

func newClockDomain(name string, id, periodPs int) *ClockDomain {
	return &ClockDomain{
		Name:   name,
		ID:     id,
		Period: periodPs,
	}
}

// SetRational configures this domain as a rational-ratio derived clock of
// generator, with a/b edges matching spec.md §4.7's "b·n-th local edge
// aligns with the (a·n+m)-th generator edge shifted by k ps".
func (d *ClockDomain) SetRational(generator *ClockDomain, a, b, m, k int) {
	d.Generator = generator
	d.RatioA = a
	d.RatioB = b
	d.PhaseM = m
	d.PhaseK = k
}

// initRings sizes the sync/push/pop rings to a power of two at least as
// large as the largest synchronous delay used in the domain (spec.md §4.6
// step 2 "advance ring index (modulo the power-of-two depth equal to the
// max synchronous delay used in the domain)").
func (d *ClockDomain) initRings(maxDelay int) {
	depth := 1
	for depth < maxDelay+1 {
		depth <<= 1
	}
	if depth < 1 {
		depth = 1
	}
	d.syncRing = make([]ringSlot, depth)
	d.pushRing = make([]ringSlot, depth)
	d.popRing = make([]ringSlot, depth)
	d.ringMask = depth - 1
}

// ScheduleSync schedules cb to run delay cycles from now on this domain's
// synchronous-trigger ring.
func (d *ClockDomain) ScheduleSync(delay int, cb func()) {
	d.scheduleRing(d.syncRing, delay, cb)
}

// ScheduleFifoPush schedules cb (a consumer-side push effect) delay cycles
// from now (spec.md §4.8).
func (d *ClockDomain) ScheduleFifoPush(delay int, cb func()) {
	d.scheduleRing(d.pushRing, delay, cb)
}

// ScheduleFifoPop schedules cb (a producer-visible pop effect) delay cycles
// from now.
func (d *ClockDomain) ScheduleFifoPop(delay int, cb func()) {
	d.scheduleRing(d.popRing, delay, cb)
}

func (d *ClockDomain) scheduleRing(ring []ringSlot, delay int, cb func()) {
	if delay <= 0 {
		cb()
		return
	}
	idx := (d.ringIndex + delay) & d.ringMask
	ring[idx].callbacks = append(ring[idx].callbacks, cb)
}

// PreTick executes the patched-register value copies (spec.md §4.6 step 1,
// §4.5 memcpy plan 1).
func (d *ClockDomain) PreTick() {
	if d.Storage == nil {
		return
	}
	for _, cp := range d.Storage.PatchedCopies {
		cp.run()
	}
}

// TickPhase executes bulk register shifts deepest-first, slow copies,
// ring-scheduled triggers/fifo effects, component ticks, and ring/time
// bookkeeping (spec.md §4.6 step 2). Sticky triggers are not evaluated
// here; the domain's sentinel fires them at the end of UpdatePhase.
func (d *ClockDomain) TickPhase(now int64) {
	if d.Storage != nil {
		for _, cp := range d.Storage.BulkShifts {
			cp.run()
		}
		for _, cp := range d.Storage.SlowCopies {
			cp.run()
		}
	}

	slot := d.ringIndex & d.ringMask
	for _, cb := range d.syncRing[slot].callbacks {
		cb()
	}
	d.syncRing[slot].callbacks = nil
	for _, cb := range d.pushRing[slot].callbacks {
		cb()
	}
	d.pushRing[slot].callbacks = nil
	for _, cb := range d.popRing[slot].callbacks {
		cb()
	}
	d.popRing[slot].callbacks = nil

	for _, t := range d.Tickables {
		t.Tick(d)
	}

	if len(d.syncRing) > 0 {
		d.ringIndex = (d.ringIndex + 1) & d.ringMask
	}

	d.PrevEdgeTime = now
	d.PrevEdgeIndex = d.RisingEdgeCount
	d.RisingEdgeCount++

	if d.Debug {
		slog.Log(context.Background(), LevelTick, "tick", "domain", d.Name, "edge", d.RisingEdgeCount, "time_ps", now)
	}
}

// UpdatePhase walks the scheduled update byte-stream, executing each active
// update and firing its trailing trigger records (spec.md §4.6 step 3).
func (d *ClockDomain) UpdatePhase() {
	for _, entry := range d.UpdateStream {
		u := entry.Update
		if u.IsSentinel {
			for _, t := range u.domainTriggers {
				d.fireTrigger(t)
			}
			continue
		}

		c := u.Component
		if !c.Active {
			continue
		}

		u.Fn(c)

		for _, t := range entry.Triggers {
			d.fireTrigger(t)
		}
	}
}

func (d *ClockDomain) fireTrigger(t *TriggerRecord) {
	active := portIsActive(t.Port, t.ActiveLow)
	if t.Latch {
		if !active && t.WasActivePrev {
			active = true
		}
	}
	t.WasActivePrev = active
	if !active {
		return
	}

	fire := func() {
		if t.TargetIsCallback {
			t.Callback(currentPortValue(t.Port))
		} else if t.TargetComponent != nil {
			t.TargetComponent.Active = true
		}
	}

	if t.Delay > 0 {
		d.ScheduleSync(t.Delay, fire)
		return
	}
	fire()
}

// PostTick invalidates Normal-class port values (debug builds) and zeroes
// the pulse-port slab (spec.md §4.6 step 4, §4.5 memcpy plan 3).
func (d *ClockDomain) PostTick() {
	if d.Storage == nil {
		return
	}
	if d.Debug {
		d.Storage.invalidateNormal()
	}
	d.Storage.zeroPulses()
}

// portIsActive evaluates a trigger condition against the port's current
// terminal value: OR of all bytes non-zero for active-high, all-zero for
// active-low.
func portIsActive(p *PortWrapper, activeLow bool) bool {
	v := currentPortValue(p)
	allZero := true
	for _, b := range v {
		if b != 0 {
			allZero = false
			break
		}
	}
	if activeLow {
		return allZero
	}
	return !allZero
}

// currentPortValue returns the value a trigger condition evaluates against,
// following the full alias/delay chain to the owning terminal.
func currentPortValue(p *PortWrapper) []byte {
	return ReadPort(p)
}

// Terminal follows a chain of Connected aliases to the owning terminal
// wrapper (GLOSSARY "Terminal port").
func Terminal(p *PortWrapper) *PortWrapper {
	for p.Conn == Connected && p.Source != nil {
		p = p.Source
	}
	return p
}
