package fifo

import (
	"testing"
)

type fakeScheduler struct {
	pushCBs []func()
	popCBs  []func()
}

func (s *fakeScheduler) ScheduleFifoPush(delayCycles int, cb func()) { s.pushCBs = append(s.pushCBs, cb) }
func (s *fakeScheduler) ScheduleFifoPop(delayCycles int, cb func())  { s.popCBs = append(s.popCBs, cb) }

func (s *fakeScheduler) fireAllPushes() {
	cbs := s.pushCBs
	s.pushCBs = nil
	for _, cb := range cbs {
		cb()
	}
}

func (s *fakeScheduler) fireAllPops() {
	cbs := s.popCBs
	s.popCBs = nil
	for _, cb := range cbs {
		cb()
	}
}

func TestRingBufferPushPopZeroDelay(t *testing.T) {
	sched := &fakeScheduler{}
	fired := 0
	target := Target{Activate: func() { fired++ }}
	f := New("test", 4, 1, 0, false, sched, target)

	if f.Full() {
		t.Fatal("freshly created fifo reports full")
	}
	if !f.Empty() {
		t.Fatal("freshly created fifo reports non-empty")
	}

	f.Push([]byte{7})
	if fired != 1 {
		t.Fatalf("expected target fired once on zero-delay push, got %d", fired)
	}
	if f.Empty() {
		t.Fatal("fifo should report data pending after push")
	}

	got := f.Pop()
	if len(got) != 1 || got[0] != 7 {
		t.Fatalf("pop returned %v, want [7]", got)
	}
	if !f.Empty() {
		t.Fatal("fifo should be empty after draining its only entry")
	}
	if err := f.CheckInvariant(); err != nil {
		t.Fatal(err)
	}
}

func TestRingBufferDelayedPush(t *testing.T) {
	sched := &fakeScheduler{}
	fired := 0
	target := Target{Activate: func() { fired++ }}
	f := New("test", 4, 1, 3, false, sched, target)

	f.Push([]byte{1})
	if fired != 0 {
		t.Fatal("delayed push must not fire the target inline")
	}
	if !f.Empty() {
		t.Fatal("a push in flight must not be visible to the consumer yet")
	}

	sched.fireAllPushes()
	if fired != 1 {
		t.Fatal("target should fire once the scheduled push effect runs")
	}
	if f.Empty() {
		t.Fatal("fifo should report data pending after the push effect lands")
	}
}

func TestFullAndPushPanics(t *testing.T) {
	sched := &fakeScheduler{}
	f := New("test", 2, 1, 0, false, sched, Target{})
	f.Push([]byte{1})
	f.Push([]byte{2})
	if !f.Full() {
		t.Fatal("fifo with 2 entries of capacity 2 should report full")
	}

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected push-while-full to panic")
		}
	}()
	f.Push([]byte{3})
}

func TestPopEmptyPanics(t *testing.T) {
	sched := &fakeScheduler{}
	f := New("test", 2, 1, 0, false, sched, Target{})
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected pop-while-empty to panic")
		}
	}()
	f.Pop()
}

func TestBitBucketAlwaysAcceptsAndFiresInline(t *testing.T) {
	fired := 0
	f := NewBitBucket("sink", Target{Activate: func() { fired++ }})
	if f.Full() {
		t.Fatal("bit bucket must never report full")
	}
	f.Push([]byte{1, 2, 3})
	if fired != 1 {
		t.Fatal("bit bucket push must fire its target inline")
	}
	if !f.Empty() {
		t.Fatal("bit bucket must always report empty")
	}
}

func TestWiredZeroForbidsPushAndPop(t *testing.T) {
	f := NewWiredZero("zero")
	if !f.Full() || !f.Empty() {
		t.Fatal("wired-to-zero fifo must be permanently full and empty")
	}
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected push to a wired-to-zero fifo to panic")
			}
		}()
		f.Push([]byte{1})
	}()
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected pop from a wired-to-zero fifo to panic")
			}
		}()
		f.Pop()
	}()
}

func TestCombinationalFiresInline(t *testing.T) {
	fired := 0
	f := NewCombinational("comb", Target{Activate: func() { fired++ }})
	f.Push(nil)
	if fired != 1 {
		t.Fatal("combinational fifo must fire its target inline on push")
	}
}

func TestDeadlockedRequiresZeroDelayFullInactive(t *testing.T) {
	sched := &fakeScheduler{}
	f := New("test", 1, 1, 0, false, sched, Target{})
	if f.Deadlocked(false) {
		t.Fatal("an empty fifo is never deadlocked")
	}
	f.Push([]byte{1})
	if !f.Deadlocked(false) {
		t.Fatal("a full zero-delay fifo with an inactive consumer is deadlocked")
	}
	if f.Deadlocked(true) {
		t.Fatal("an active consumer means the fifo is not deadlocked")
	}
}

func TestMinCapacityEntriesFlowControlVsNone(t *testing.T) {
	withFlow := MinCapacityEntries(4, 1000, 1000, true)
	withoutFlow := MinCapacityEntries(4, 1000, 1000, false)
	if withFlow <= withoutFlow {
		t.Fatalf("flow-control capacity (%d) should exceed no-flow-control capacity (%d)", withFlow, withoutFlow)
	}
	if got, want := withoutFlow, 4+1; got != want {
		t.Fatalf("no-flow-control capacity = %d, want %d", got, want)
	}
	if got, want := withFlow, 8+1; got != want {
		t.Fatalf("flow-control capacity = %d, want %d", got, want)
	}
}

func TestMinCapacityEntriesCrossDomainRatio(t *testing.T) {
	// A slower producer (longer period) produces fewer entries during the
	// same real-time delay window, so it needs less buffering.
	slowProducer := MinCapacityEntries(4, 2000, 1000, true)
	fastProducer := MinCapacityEntries(4, 1000, 1000, true)
	if slowProducer >= fastProducer {
		t.Fatalf("a slower producer period should reduce required entries, got slow=%d fast=%d", slowProducer, fastProducer)
	}
}

func TestCheckInvariantCatchesCorruption(t *testing.T) {
	sched := &fakeScheduler{}
	f := New("test", 2, 1, 0, false, sched, Target{})
	f.FreeCount = 99 // corrupt the accounting directly
	if err := f.CheckInvariant(); err == nil {
		t.Fatal("expected CheckInvariant to detect a bad free/full/in-flight sum")
	}
}

func TestPopDelayHoldsFreeSlotUntilEffectLands(t *testing.T) {
	sched := &fakeScheduler{}
	f := New("test", 2, 1, 2, false, sched, Target{})
	f.Push([]byte{1})
	sched.fireAllPushes()
	f.Pop()
	if f.Full() {
		t.Fatal("capacity 2 fifo with one delayed pop in flight should not be full yet")
	}
	sched.fireAllPops()
	if err := f.CheckInvariant(); err != nil {
		t.Fatal(err)
	}
}
