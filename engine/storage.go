package engine

import "encoding/binary"

// terminalSlot is the per-terminal pipeline storage: one buffer per pipeline
// depth 0..maxDelay. buffers[0] is the value driven on the current tick;
// buffers[d] is the value driven d cycles ago, which is exactly what a
// synchronous reader with delay d must observe (spec.md §4.5, invariant 4).
//
// The source packs every terminal's values into shared, 4-byte-aligned,
// kind/delay-classified byte arenas so a single memcpy per depth advances
// every pipeline of that depth at once — a C++ cache-locality optimization.
// Go's garbage-collected slices make that packing unnecessary to get the
// same *externally observable* behavior (every pipeline advances one stage
// per tick, invalidate-then-zero post-tick); the plan keeps each terminal's
// kind for the post-tick pass and schedules one shift per pipelined
// terminal (deepest depth first), with each terminal's pipeline as its own
// slice-of-buffers rather than a hand-packed arena.
// See DESIGN.md for the corresponding ledger entry.
type terminalSlot struct {
	port     *PortWrapper
	kind     PortType
	buffers  [][]byte
	valid    []bool
	maxDelay int
}

// copyKind discriminates the three kinds of scheduled per-tick copies
// (spec.md §4.5 "three memcpy plans").
type copyKind int

const (
	copyShift copyKind = iota
	copySlow
	copyPatch
)

// copyPlan is one scheduled copy: a bulk pipeline shift, or a single-value
// copy from a source byte slice (slow/patched).
type copyPlan struct {
	kind copyKind
	slot *terminalSlot
	src  func() []byte // re-evaluated every tick; nil for copyShift
}

func (cp *copyPlan) run() {
	switch cp.kind {
	case copyShift:
		for d := cp.slot.maxDelay; d >= 1; d-- {
			copy(cp.slot.buffers[d], cp.slot.buffers[d-1])
			cp.slot.valid[d] = cp.slot.valid[d-1]
		}
	default:
		copy(cp.slot.buffers[0], cp.src())
		cp.slot.valid[0] = true
	}
}

// PortStorage is the per-clock-domain value store (spec.md §3 PortStorage).
type PortStorage struct {
	Terminals []*terminalSlot
	byPort    map[*PortWrapper]*terminalSlot

	PatchedCopies []*copyPlan // pre-tick
	BulkShifts    []*copyPlan // tick, one shift per pipelined terminal
	SlowCopies    []*copyPlan // tick
}

func newPortStorage() *PortStorage {
	return &PortStorage{byPort: make(map[*PortWrapper]*terminalSlot)}
}

// allocate creates (idempotently) the pipeline for terminal p sized to hold
// maxDelay+1 depths of Info.SizeBytes each.
func (s *PortStorage) allocate(p *PortWrapper, maxDelay int) *terminalSlot {
	if slot, ok := s.byPort[p]; ok {
		if maxDelay > slot.maxDelay {
			s.grow(slot, maxDelay)
		}
		return slot
	}

	slot := &terminalSlot{port: p, kind: p.PortKind, maxDelay: maxDelay}
	slot.buffers = make([][]byte, maxDelay+1)
	slot.valid = make([]bool, maxDelay+1)
	for d := range slot.buffers {
		slot.buffers[d] = make([]byte, p.Info.SizeBytes)
	}
	s.byPort[p] = slot
	s.Terminals = append(s.Terminals, slot)
	return slot
}

func (s *PortStorage) grow(slot *terminalSlot, maxDelay int) {
	for d := slot.maxDelay + 1; d <= maxDelay; d++ {
		slot.buffers = append(slot.buffers, make([]byte, slot.port.Info.SizeBytes))
		slot.valid = append(slot.valid, false)
	}
	slot.maxDelay = maxDelay
}

// Value returns the byte slice a reader with the given delay observes.
func (s *PortStorage) Value(p *PortWrapper, delay int) []byte {
	slot := s.byPort[Terminal(p)]
	if slot == nil {
		return nil
	}
	if delay > slot.maxDelay {
		delay = slot.maxDelay
	}
	if delay < 0 {
		delay = 0
	}
	return slot.buffers[delay]
}

// Write stores value into the depth-0 (current) slot of terminal p.
func (s *PortStorage) Write(p *PortWrapper, value []byte) {
	slot := s.byPort[Terminal(p)]
	if slot == nil {
		return
	}
	copy(slot.buffers[0], value)
	slot.valid[0] = true
}

// Valid reports whether the depth-0 value of p has been driven since the
// last invalidate pass (debug builds only; spec.md §7 "read of invalid port
// (debug builds)").
func (s *PortStorage) Valid(p *PortWrapper) bool {
	slot := s.byPort[Terminal(p)]
	if slot == nil {
		return false
	}
	return slot.valid[0]
}

func (s *PortStorage) invalidateNormal() {
	for _, slot := range s.Terminals {
		if slot.kind == Normal {
			slot.valid[0] = false
		}
	}
}

// Encode serializes every terminal's pipeline into an archive block:
// name-tagged so Decode can restore into a separately constructed but
// structurally identical graph (spec.md §4.10 "per-domain state and port
// storage blocks").
func (s *PortStorage) Encode() []byte {
	var buf []byte
	var lenBuf [4]byte

	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s.Terminals)))
	buf = append(buf, lenBuf[:]...)

	for _, slot := range s.Terminals {
		name := slot.port.Name
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(name)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, name...)

		binary.LittleEndian.PutUint32(lenBuf[:], uint32(slot.maxDelay))
		buf = append(buf, lenBuf[:]...)

		for d := 0; d <= slot.maxDelay; d++ {
			binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(slot.buffers[d])))
			buf = append(buf, lenBuf[:]...)
			buf = append(buf, slot.buffers[d]...)
		}
	}
	return buf
}

// Decode restores values written by Encode into this already-allocated
// PortStorage, matching terminals by name. Terminals present in the
// checkpoint but not in this storage (a structural mismatch) are skipped.
func (s *PortStorage) Decode(data []byte) error {
	byName := make(map[string]*terminalSlot, len(s.Terminals))
	for _, slot := range s.Terminals {
		byName[slot.port.Name] = slot
	}

	pos := 0
	readU32 := func() uint32 {
		v := binary.LittleEndian.Uint32(data[pos : pos+4])
		pos += 4
		return v
	}

	count := readU32()
	for i := uint32(0); i < count; i++ {
		nameLen := readU32()
		name := string(data[pos : pos+int(nameLen)])
		pos += int(nameLen)

		maxDelay := int(readU32())

		slot := byName[name]
		for d := 0; d <= maxDelay; d++ {
			n := int(readU32())
			if slot != nil && d < len(slot.buffers) {
				copy(slot.buffers[d], data[pos:pos+n])
				slot.valid[d] = true
			}
			pos += n
		}
	}
	return nil
}

func (s *PortStorage) zeroPulses() {
	for _, slot := range s.Terminals {
		if slot.kind != Pulse {
			continue
		}
		for i := range slot.buffers[0] {
			slot.buffers[0][i] = 0
		}
		slot.valid[0] = true
	}
}
