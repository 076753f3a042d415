package trigger

import "testing"

type fakeSim struct {
	now   int64
	sched []struct {
		delay int64
		e     Event
	}
}

func (s *fakeSim) SimTimePs() int64 { return s.now }
func (s *fakeSim) Schedule(delayPs int64, e Event) {
	s.sched = append(s.sched, struct {
		delay int64
		e     Event
	}{delayPs, e})
}

type countEvent struct {
	fired  *int
	typeID uint32
}

func (e countEvent) Fire(sim EventSim) { *e.fired++ }
func (e countEvent) TypeID() uint32    { return e.typeID }

func TestRegisterEventTypeIsStableAndDense(t *testing.T) {
	id1 := RegisterEventType("alpha")
	id2 := RegisterEventType("beta")
	id3 := RegisterEventType("alpha")

	if id1 != id3 {
		t.Fatalf("registering the same name twice should return the same id: %d != %d", id1, id3)
	}
	if id1 == id2 {
		t.Fatal("distinct names must get distinct ids")
	}
	if got := TypeName(id1); got != "alpha" {
		t.Fatalf("TypeName(%d) = %q, want alpha", id1, got)
	}
}

func TestQueueOrdersByTimeThenSubmission(t *testing.T) {
	q := NewQueue()
	var order []int

	q.Schedule(100, fireOrderEvent{&order, 1})
	q.Schedule(50, fireOrderEvent{&order, 2})
	q.Schedule(50, fireOrderEvent{&order, 3})

	sim := &fakeSim{}
	q.DrainUpTo(100, sim)

	want := []int{2, 3, 1}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

type fireOrderEvent struct {
	order *[]int
	tag   int
}

func (e fireOrderEvent) Fire(sim EventSim) { *e.order = append(*e.order, e.tag) }
func (e fireOrderEvent) TypeID() uint32    { return 0 }

func TestDrainUpToRespectsTimeHorizon(t *testing.T) {
	q := NewQueue()
	fired := 0
	q.Schedule(10, countEvent{fired: &fired})
	q.Schedule(20, countEvent{fired: &fired})

	sim := &fakeSim{}
	q.DrainUpTo(10, sim)
	if fired != 1 {
		t.Fatalf("expected only the event at or before the horizon to fire, fired=%d", fired)
	}
	if q.Len() != 1 {
		t.Fatalf("expected one event still pending, Len()=%d", q.Len())
	}

	q.DrainUpTo(20, sim)
	if fired != 2 {
		t.Fatalf("expected both events fired by t=20, fired=%d", fired)
	}
}

func TestPendingSnapshotDoesNotDrainQueue(t *testing.T) {
	q := NewQueue()
	fired := 0
	q.Schedule(5, countEvent{fired: &fired, typeID: 1})
	q.Schedule(3, countEvent{fired: &fired, typeID: 2})

	pending := q.Pending()
	if len(pending) != 2 {
		t.Fatalf("Pending() returned %d entries, want 2", len(pending))
	}
	if pending[0].TimePs != 3 || pending[1].TimePs != 5 {
		t.Fatalf("Pending() not ordered by time: %+v", pending)
	}
	if q.Len() != 2 {
		t.Fatal("Pending() must not drain the live queue")
	}
}

type payloadEvent struct {
	payload []byte
}

func (e payloadEvent) Fire(EventSim) {}
func (e payloadEvent) TypeID() uint32 { return payloadEventType }
func (e payloadEvent) EncodeArchive() []byte { return e.payload }

var payloadEventType = RegisterEventType("trigger_test.payloadEvent")

func TestRegisterDecoderRoundTrip(t *testing.T) {
	RegisterDecoder(payloadEventType, func(data []byte) Event {
		return payloadEvent{payload: append([]byte(nil), data...)}
	})

	e, ok := Decode(payloadEventType, []byte{1, 2, 3})
	if !ok {
		t.Fatal("Decode reported no decoder registered")
	}
	pe, ok := e.(payloadEvent)
	if !ok || len(pe.payload) != 3 || pe.payload[2] != 3 {
		t.Fatalf("decoded event = %+v, want payload [1 2 3]", e)
	}
}

func TestDecodeUnknownTypeReportsFalse(t *testing.T) {
	if _, ok := Decode(999999, nil); ok {
		t.Fatal("Decode should report false for an unregistered type id")
	}
}
