package multidomain

import (
	"testing"

	"github.com/cpehle/cascade/engine"
	"github.com/cpehle/cascade/fifo"
)

func newDomain(b *engine.Builder, name string, periodPs int) *Domain {
	return b.Domain(name, periodPs)
}

func TestNewSchedulerPartitionsManualDomains(t *testing.T) {
	b := engine.NewBuilder()
	clocked := newDomain(b, "clk", 1000)
	manual := newDomain(b, "io", 0)
	b.Resolve(engine.ResolveParams{})
	if err := b.Schedule(); err != nil {
		t.Fatal(err)
	}
	b.PlanStorage()

	s := NewScheduler([]*Domain{clocked, manual}, 1)

	if len(s.Manual()) != 1 || s.Manual()[0] != manual {
		t.Fatalf("Manual() = %v, want [%v]", s.Manual(), manual)
	}
	if clocked.NextEdgeTime != 1000 {
		t.Fatalf("clocked.NextEdgeTime = %d, want 1000", clocked.NextEdgeTime)
	}
}

func TestRunUntilAdvancesClockedDomainsInLockstep(t *testing.T) {
	b := engine.NewBuilder()
	a := newDomain(b, "a", 100)
	c := newDomain(b, "c", 300)
	b.Resolve(engine.ResolveParams{})
	if err := b.Schedule(); err != nil {
		t.Fatal(err)
	}
	b.PlanStorage()

	s := NewScheduler([]*Domain{a, c}, 1)
	if err := s.RunUntil(650); err != nil {
		t.Fatalf("RunUntil: %v", err)
	}

	if a.RisingEdgeCount != 6 {
		t.Fatalf("a.RisingEdgeCount = %d, want 6 (edges at 100..600)", a.RisingEdgeCount)
	}
	if c.RisingEdgeCount != 2 {
		t.Fatalf("c.RisingEdgeCount = %d, want 2 (edges at 300, 600)", c.RisingEdgeCount)
	}
	if a.NextEdgeTime != 700 || c.NextEdgeTime != 900 {
		t.Fatalf("unexpected next edge times a=%d c=%d", a.NextEdgeTime, c.NextEdgeTime)
	}
}

func TestCheckDeadlockReportsStalledZeroDelayFifo(t *testing.T) {
	b := engine.NewBuilder()
	d := newDomain(b, "clk", 100)

	consumer, consumerCx := b.BeginComponent(nil, "Consumer", "c")
	consumerCx.SetDomain(d)
	in := consumerCx.Port("in", engine.InFifo, engine.Normal, engine.Identity("byte", 1), 0)
	b.EndComponent(consumer)

	producer, producerCx := b.BeginComponent(nil, "Producer", "p")
	producerCx.SetDomain(d)
	out := producerCx.Port("out", engine.OutFifo, engine.Normal, engine.Identity("byte", 1), 0)
	b.EndComponent(producer)

	in.Synchronous(out, 0)
	bindings := b.Resolve(engine.ResolveParams{})
	if len(bindings) != 1 {
		t.Fatalf("expected one fifo binding, got %d", len(bindings))
	}
	f := bindings[0].Fifo
	f.Push([]byte{1})

	sched := &Scheduler{}
	sched.FifoCheck = func() []*fifo.Fifo { return []*fifo.Fifo{f} }
	sched.Active = func(dom *Domain) bool { return false }

	if err := sched.checkDeadlock(); err == nil {
		t.Fatal("expected checkDeadlock to report the stalled zero-delay fifo")
	}

	sched.Active = func(dom *Domain) bool { return true }
	if err := sched.checkDeadlock(); err != nil {
		t.Fatalf("an active consumer should not be reported as deadlocked: %v", err)
	}
}

func TestSolveRationalFindsReducedRatio(t *testing.T) {
	a, bRatio, _, _ := SolveRational(1000, 3000, 1)
	if a != 1 || bRatio != 3 {
		t.Fatalf("SolveRational(1000, 3000, 1) = (a=%d, b=%d), want (1, 3)", a, bRatio)
	}
}

// TestRationalRatioFollowerTicksAtDerivedRate guards invariant 9: a domain
// configured via SetRational must tick at the derived rate relative to its
// generator rather than on its own flat Period.
func TestRationalRatioFollowerTicksAtDerivedRate(t *testing.T) {
	b := engine.NewBuilder()
	gen := newDomain(b, "gen", 3000)
	local := newDomain(b, "local", 1000)
	b.Resolve(engine.ResolveParams{})
	if err := b.Schedule(); err != nil {
		t.Fatal(err)
	}
	b.PlanStorage()

	a, bRatio, m, k := SolveRational(1000, 3000, 0)
	local.SetRational(gen, a, bRatio, m, k)

	s := NewScheduler([]*Domain{gen, local}, 1)
	if err := s.RunUntil(3000); err != nil {
		t.Fatalf("RunUntil: %v", err)
	}

	if gen.RisingEdgeCount != 1 {
		t.Fatalf("gen.RisingEdgeCount = %d, want 1", gen.RisingEdgeCount)
	}
	if local.RisingEdgeCount != 3 {
		t.Fatalf("local.RisingEdgeCount = %d, want 3 (local ticks 3x per generator edge)", local.RisingEdgeCount)
	}
}
