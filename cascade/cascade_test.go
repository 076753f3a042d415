package cascade

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cpehle/cascade/engine"
	"github.com/cpehle/cascade/params"
	gomock "github.com/golang/mock/gomock"
)

func buildCombinational(cx *engine.Context) {
	b := cx.Builder()
	dom := b.Domain("clk", 1000)
	root := cx.Component()
	cx.SetDomain(dom)

	prodComp, prodCx := b.BeginComponent(root, "Producer", "producer")
	prodCx.SetDomain(dom)
	outA := prodCx.Port("out", engine.Output, engine.Normal, engine.Identity("byte", 1), 0)
	prodCx.Update("drive", func(c *engine.Component) {
		engine.WritePort(outA, []byte{5})
	}, nil, []*engine.PortWrapper{outA}, nil)
	b.EndComponent(prodComp)

	consComp, consCx := b.BeginComponent(root, "Consumer", "consumer")
	consCx.SetDomain(dom)
	inB := consCx.Port("in", engine.Input, engine.Normal, engine.Identity("byte", 1), 0)
	outB := consCx.Port("out", engine.Output, engine.Normal, engine.Identity("byte", 1), 1)
	inB.Combinational(outA)
	consCx.Update("add", func(c *engine.Component) {
		v := engine.ReadPort(inB)
		engine.WritePort(outB, []byte{v[0] + 1})
	}, []*engine.PortWrapper{inB}, []*engine.PortWrapper{outB}, nil)
	b.EndComponent(consComp)
}

func TestEndToEndCombinationalUpdateProducesExpectedPortValue(t *testing.T) {
	p := params.Default()
	p.ArchiveDir = ""

	sim, err := NewSimulator(p, buildCombinational)
	if err != nil {
		t.Fatalf("NewSimulator: %v", err)
	}
	if err := sim.Run(1000); err != nil {
		t.Fatalf("Run: %v", err)
	}

	view, ok := sim.Port("root[0].consumer[0].out")
	if !ok {
		t.Fatal("expected to find root[0].consumer[0].out in the structural graph")
	}
	if view.ValueHex != "06" {
		t.Fatalf("out = %q, want 06 (5+1)", view.ValueHex)
	}
	if sim.SimTimePs() != 1000 {
		t.Fatalf("SimTimePs() = %d, want 1000", sim.SimTimePs())
	}
}

func TestCheckpointRoundTripRestoresSimClock(t *testing.T) {
	dir := t.TempDir()
	p := params.Default()
	p.ArchiveDir = dir

	sim1, err := NewSimulator(p, buildCombinational)
	if err != nil {
		t.Fatalf("NewSimulator (sim1): %v", err)
	}
	if err := sim1.Run(2000); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := sim1.Checkpoint("manual"); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var path string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".arc" {
			path = filepath.Join(dir, e.Name())
		}
	}
	if path == "" {
		t.Fatal("expected a .arc checkpoint file to be written")
	}

	sim2, err := NewSimulator(p, buildCombinational)
	if err != nil {
		t.Fatalf("NewSimulator (sim2): %v", err)
	}
	if err := sim2.Restore(path); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if sim2.SimTimePs() != sim1.SimTimePs() {
		t.Fatalf("restored SimTimePs() = %d, want %d", sim2.SimTimePs(), sim1.SimTimePs())
	}
	if sim2.SimTicks() != sim1.SimTicks() {
		t.Fatalf("restored SimTicks() = %d, want %d", sim2.SimTicks(), sim1.SimTicks())
	}
}

func TestResetInvokesResettableImplementations(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := NewMockResettable(ctrl)
	mock.EXPECT().Reset(3).Times(1)

	var target *engine.Component
	build := func(cx *engine.Context) {
		b := cx.Builder()
		dom := b.Domain("clk", 1000)
		cx.SetDomain(dom)
		comp, compCx := b.BeginComponent(cx.Component(), "Stateful", "s")
		compCx.SetDomain(dom)
		b.EndComponent(comp)
		target = comp
	}

	p := params.Default()
	p.ArchiveDir = ""
	sim, err := NewSimulator(p, build)
	if err != nil {
		t.Fatal(err)
	}
	target.Impl = mock

	if err := sim.Reset(3); err != nil {
		t.Fatalf("Reset: %v", err)
	}
}

// oscillatingResettable writes an alternating port value on every Reset
// call, so Reset's quiescence check never converges.
type oscillatingResettable struct {
	port *engine.PortWrapper
	n    int
}

func (o *oscillatingResettable) Reset(level int) {
	o.n++
	engine.WritePort(o.port, []byte{byte(o.n % 2)})
}

func TestResetReturnsFatalErrorWhenOutputsNeverQuiesce(t *testing.T) {
	var target *engine.Component
	var out *engine.PortWrapper
	build := func(cx *engine.Context) {
		b := cx.Builder()
		dom := b.Domain("clk", 1000)
		cx.SetDomain(dom)
		comp, compCx := b.BeginComponent(cx.Component(), "Oscillator", "o")
		compCx.SetDomain(dom)
		out = compCx.Port("out", engine.Output, engine.Normal, engine.Identity("byte", 1), 0)
		b.EndComponent(comp)
		target = comp
	}

	p := params.Default()
	p.ArchiveDir = ""
	p.MaxResetIterations = 3
	sim, err := NewSimulator(p, build)
	if err != nil {
		t.Fatal(err)
	}
	target.Impl = &oscillatingResettable{port: out}

	if err := sim.Reset(1); err == nil {
		t.Fatal("expected Reset to report non-convergence for an oscillating output")
	}
}

func TestRunEndsCleanlyAtFinishNs(t *testing.T) {
	p := params.Default()
	p.ArchiveDir = ""
	p.FinishNs = 1

	sim, err := NewSimulator(p, buildCombinational)
	if err != nil {
		t.Fatal(err)
	}
	if err := sim.Run(5000); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sim.SimTimePs() != 1000 {
		t.Fatalf("SimTimePs() = %d, want 1000 (capped by finish_ns)", sim.SimTimePs())
	}
}

func TestRunAbortsWithFatalErrorAtTimeoutNs(t *testing.T) {
	p := params.Default()
	p.ArchiveDir = ""
	p.TimeoutNs = 1

	sim, err := NewSimulator(p, buildCombinational)
	if err != nil {
		t.Fatal(err)
	}
	if err := sim.Run(5000); err == nil {
		t.Fatal("expected Run to abort once simulated time reaches timeout_ns")
	}
}

func TestRestoreRejectsMismatchedStructuralChecksum(t *testing.T) {
	dir := t.TempDir()
	p := params.Default()
	p.ArchiveDir = dir

	sim1, err := NewSimulator(p, buildCombinational)
	if err != nil {
		t.Fatal(err)
	}
	if err := sim1.Checkpoint("a"); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(dir)
	path := filepath.Join(dir, entries[0].Name())

	buildDifferent := func(cx *engine.Context) {
		b := cx.Builder()
		dom := b.Domain("clk", 1000)
		cx.SetDomain(dom)
		comp, compCx := b.BeginComponent(cx.Component(), "Lone", "lone")
		compCx.SetDomain(dom)
		compCx.Port("out", engine.Output, engine.Normal, engine.Identity("byte", 1), 0)
		b.EndComponent(comp)
	}
	sim2, err := NewSimulator(p, buildDifferent)
	if err != nil {
		t.Fatal(err)
	}
	if err := sim2.Restore(path); err == nil {
		t.Fatal("expected Restore to reject a checkpoint from a different structural graph")
	}
}
