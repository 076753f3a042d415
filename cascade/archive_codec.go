package cascade

import (
	"encoding/binary"
	"os"

	"github.com/cpehle/cascade/archive"
	"github.com/cpehle/cascade/engine"
	"github.com/cpehle/cascade/trigger"
)

func encodeDomainStorage(d *engine.ClockDomain) []byte {
	if d.Storage == nil {
		return nil
	}
	return d.Storage.Encode()
}

// encodeEventQueue flattens the pending event queue into a
// time/type/payload-tagged byte stream. Events whose concrete type does not
// implement trigger.ArchiveEncoder are still written, with an empty payload;
// on restore such an event comes back only if a decoder registered for its
// type id accepts that empty payload.
func encodeEventQueue(q *trigger.Queue) []byte {
	var buf []byte
	var b8 [8]byte
	var b4 [4]byte

	pending := q.Pending()
	binary.LittleEndian.PutUint32(b4[:], uint32(len(pending)))
	buf = append(buf, b4[:]...)

	for _, p := range pending {
		binary.LittleEndian.PutUint64(b8[:], uint64(p.TimePs))
		buf = append(buf, b8[:]...)
		binary.LittleEndian.PutUint32(b4[:], p.Event.TypeID())
		buf = append(buf, b4[:]...)

		var payload []byte
		if enc, ok := p.Event.(trigger.ArchiveEncoder); ok {
			payload = enc.EncodeArchive()
		}
		binary.LittleEndian.PutUint32(b4[:], uint32(len(payload)))
		buf = append(buf, b4[:]...)
		buf = append(buf, payload...)
	}
	return buf
}

func decodeEventQueue(data []byte) *trigger.Queue {
	q := trigger.NewQueue()
	pos := 0
	readU32 := func() uint32 {
		v := binary.LittleEndian.Uint32(data[pos : pos+4])
		pos += 4
		return v
	}
	readU64 := func() int64 {
		v := binary.LittleEndian.Uint64(data[pos : pos+8])
		pos += 8
		return int64(v)
	}

	count := readU32()
	for i := uint32(0); i < count; i++ {
		timePs := readU64()
		typeID := readU32()
		n := int(readU32())
		payload := data[pos : pos+n]
		pos += n

		if e, ok := trigger.Decode(typeID, payload); ok {
			q.Schedule(timePs, e)
		}
	}
	return q
}

// Restore loads a checkpoint written by Checkpoint/NewCheckpointer into this
// Simulator, rejecting it if its construction checksum does not match the
// currently-built graph (spec.md §4.10).
func (s *Simulator) Restore(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := archive.NewReader(f)
	checksum, simTimePs, simTicks, blockCount, err := r.ReadHeader()
	if err != nil {
		return err
	}
	if checksum != s.constructionChecksum {
		return &mismatchError{got: checksum, want: s.constructionChecksum}
	}

	domainsByName := make(map[string]*engine.ClockDomain, len(s.builder.Domains))
	for _, d := range s.builder.Domains {
		domainsByName[d.Name] = d
	}

	for i := 0; i < blockCount; i++ {
		name, payload, err := r.ReadBlock()
		if err != nil {
			return err
		}
		if name == "$events" {
			s.events = decodeEventQueue(payload)
			continue
		}
		if d, ok := domainsByName[name]; ok && d.Storage != nil {
			d.Storage.Decode(payload)
		}
	}

	if err := r.ReadTrailer(); err != nil {
		return err
	}

	s.simTimePs = simTimePs
	s.simTicks = simTicks
	return nil
}

type mismatchError struct{ got, want uint32 }

func (e *mismatchError) Error() string {
	return "cascade: checkpoint was taken against a different structural graph"
}
