// Package cascade is the public entry point: it wires the hierarchy
// builder, resolver, scheduler, storage planner, FIFO runtime, trigger
// dispatch, multi-domain scheduler and archive into one Simulator
// (spec.md §6 External interfaces).
package cascade

import (
	"bytes"
	"fmt"

	"github.com/cpehle/cascade/archive"
	"github.com/cpehle/cascade/diag"
	"github.com/cpehle/cascade/engine"
	"github.com/cpehle/cascade/fifo"
	"github.com/cpehle/cascade/introspect"
	"github.com/cpehle/cascade/multidomain"
	"github.com/cpehle/cascade/params"
	"github.com/cpehle/cascade/trigger"
)

// BuildFunc is the user's top-level design: it declares the root
// component's ports, sub-interfaces and updates through cx, exactly like
// any other build(cx) callback (spec.md §4.1, §9 "Construction callbacks").
type BuildFunc func(cx *engine.Context)

// Simulator owns one fully constructed, resolved, scheduled and planned
// design, and drives it forward in simulation time.
type Simulator struct {
	builder  *engine.Builder
	params   params.Params
	bindings []*engine.FifoBinding
	sched    *multidomain.Scheduler
	events   *trigger.Queue

	root *engine.Component

	checkpointer  *archive.Checkpointer
	introspectSrv *introspect.Server

	simTimePs int64
	simTicks  int64

	constructionChecksum uint32
}

// NewSimulator constructs a design via build, then runs Resolve, Schedule
// and PlanStorage in sequence (spec.md §2 "Dependency order").
func NewSimulator(p params.Params, build BuildFunc) (*Simulator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	b := engine.NewBuilder()
	root, cx := b.BeginComponent(nil, "Root", "root")
	build(cx)
	b.EndComponent(root)

	s := &Simulator{builder: b, params: p, root: root, events: trigger.NewQueue()}
	s.constructionChecksum = structuralChecksum(b)

	var resolveErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				resolveErr = toError(r)
			}
		}()
		s.bindings = b.Resolve(engine.ResolveParams{FifoSizeWarnings: p.FifoSizeWarnings})
		if err := b.Schedule(); err != nil {
			resolveErr = err
			return
		}
		b.PlanStorage()
	}()
	if resolveErr != nil {
		if p.Debug {
			if de, ok := resolveErr.(*diag.Error); ok {
				snap := diag.CaptureResources()
				de.Resources = &snap
			}
		}
		return nil, resolveErr
	}

	for _, d := range b.Domains {
		d.Debug = p.Debug
	}

	sched := multidomain.NewScheduler(b.Domains, p.NumThreads)
	sched.DeadlockCheckEveryPs = p.DeadlockCheckEveryPs
	sched.FifoCheck = func() []*fifo.Fifo {
		fifos := make([]*fifo.Fifo, 0, len(s.bindings))
		for _, bd := range s.bindings {
			fifos = append(fifos, bd.Fifo)
		}
		return fifos
	}
	sched.Active = func(d *multidomain.Domain) bool { return true }
	s.sched = sched

	if p.ArchiveDir != "" {
		s.checkpointer = archive.NewCheckpointer(p.ArchiveDir, p.ArchiveIntervalCycles, s)
	}
	if p.IntrospectAddr != "" {
		s.introspectSrv = introspect.NewServer(s)
		go s.introspectSrv.ListenAndServe(p.IntrospectAddr)
	}

	return s, nil
}

func toError(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}

// structuralChecksum hashes the ordered set of component paths and port
// names so Restore can reject a checkpoint taken against a different
// design (spec.md §4.10 "construction checksum").
func structuralChecksum(b *engine.Builder) uint32 {
	h := fnv32()
	for _, c := range b.Components {
		h = fnvUpdate(h, c.Path())
	}
	for _, w := range b.Wrappers {
		h = fnvUpdate(h, w.Name)
	}
	return h
}

func fnv32() uint32 { return 2166136261 }

func fnvUpdate(h uint32, s string) uint32 {
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// Run advances the simulation until its simulation time reaches endPs,
// draining due scheduled events between ticks (spec.md §4.9, §4.7).
// Params.FinishNs, if set, caps endPs so the run ends cleanly no later than
// that simulated time; Params.TimeoutNs, if set, aborts the run with a
// fatal error once simulated time reaches it (spec.md §7, §9).
func (s *Simulator) Run(endPs int64) error {
	if s.params.FinishNs > 0 {
		if finishPs := s.params.FinishNs * 1000; finishPs < endPs {
			endPs = finishPs
		}
	}

	timeoutPs := int64(-1)
	if s.params.TimeoutNs > 0 {
		timeoutPs = s.params.TimeoutNs * 1000
	}

	for s.simTimePs < endPs {
		runEndPs := endPs
		if timeoutPs >= 0 && timeoutPs < runEndPs {
			runEndPs = timeoutPs
		}

		if t, ok := s.events.PeekTime(); ok && t <= runEndPs {
			s.events.DrainUpTo(t, s)
			s.simTimePs = t
		}
		if err := s.sched.RunUntil(runEndPs); err != nil {
			return err
		}
		s.simTimePs = runEndPs
		s.simTicks++

		if s.checkpointer != nil {
			if err := s.checkpointer.MaybeCheckpoint(s.simTicks); err != nil {
				return err
			}
		}

		if timeoutPs >= 0 && s.simTimePs >= timeoutPs {
			return &diag.Error{
				Phase:   "runtime",
				Message: fmt.Sprintf("simulation exceeded timeout of %d ns", s.params.TimeoutNs),
			}
		}
	}
	return nil
}

// Reset recursively invokes Resettable.Reset(level) on every component that
// implements it, root-first, then propagates the values it wrote through
// every clock domain exactly as a tick would, repeating until no domain's
// port storage changes or until MaxResetIterations is reached, which is
// fatal (spec.md §4.6 "propagates these values as in tick, and iterates
// until outputs stabilise").
func (s *Simulator) Reset(level int) error {
	var walk func(c *engine.Component)
	walk = func(c *engine.Component) {
		if r, ok := c.Impl.(engine.Resettable); ok {
			r.Reset(level)
		}
		for child := c.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}

	for iter := 1; iter <= s.params.MaxResetIterations; iter++ {
		before := s.snapshotPortStorage()

		walk(s.root)
		for _, d := range s.builder.Domains {
			d.PreTick()
			d.TickPhase(s.simTimePs)
			d.UpdatePhase()
			d.PostTick()
		}

		if bytes.Equal(before, s.snapshotPortStorage()) {
			return nil
		}
	}
	return &diag.Error{
		Phase:   "reset",
		Message: fmt.Sprintf("reset(%d) did not converge within %d iterations", level, s.params.MaxResetIterations),
	}
}

// snapshotPortStorage concatenates every clock domain's encoded port
// storage, in builder order, for Reset's quiescence check.
func (s *Simulator) snapshotPortStorage() []byte {
	var buf []byte
	for _, d := range s.builder.Domains {
		buf = append(buf, encodeDomainStorage(d)...)
	}
	return buf
}

// SimTimePs implements trigger.EventSim.
func (s *Simulator) SimTimePs() int64 { return s.simTimePs }

// Schedule implements trigger.EventSim.
func (s *Simulator) Schedule(delayPs int64, e trigger.Event) {
	s.events.Schedule(s.simTimePs+delayPs, e)
}

// Checkpoint writes an immediate, out-of-band checkpoint labeled label.
func (s *Simulator) Checkpoint(label string) error {
	if s.checkpointer == nil {
		return fmt.Errorf("cascade: no archive_dir configured")
	}
	return s.checkpointer.Write(label)
}

// ConstructionChecksum implements archive.Source.
func (s *Simulator) ConstructionChecksum() uint32 { return s.constructionChecksum }

// SimTicks implements archive.Source.
func (s *Simulator) SimTicks() int64 { return s.simTicks }

// ArchiveBlocks implements archive.Source: one block per clock domain's
// port storage, plus one for the pending event queue (spec.md §4.10).
func (s *Simulator) ArchiveBlocks() map[string][]byte {
	blocks := make(map[string][]byte)
	for _, d := range s.builder.Domains {
		blocks[d.Name] = encodeDomainStorage(d)
	}
	blocks["$events"] = encodeEventQueue(s.events)
	return blocks
}
