// Package archive implements Cascade's container-neutral checkpoint format:
// a header with the construction checksum, simulation time/tick counters
// and block count, then named length-prefixed blocks, then an end magic and
// a CRC-32 over the stream, with an atexit-registered flush-on-exit hook
// (spec.md §4.10 Archive). The blocks are whatever the Source returns:
// cascade.Simulator supplies one block per clock domain's port storage and
// one for the pending event queue. FIFO contents, ring-scheduled
// triggers/pushes/pops and per-component user state are not archived.
package archive

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

const magic uint32 = 0x43415343 // "CASC"

// Writer serializes a checkpoint to an io.Writer, computing a running
// CRC-32 structural checksum over every block it writes (spec.md §4.10
// "CRC-based structural checksum").
type Writer struct {
	w    *bufio.Writer
	hash uint32
	err  error
}

// NewWriter wraps w for checkpoint writing.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

func (a *Writer) write(p []byte) {
	if a.err != nil {
		return
	}
	if _, err := a.w.Write(p); err != nil {
		a.err = err
		return
	}
	a.hash = crc32.Update(a.hash, crc32.IEEETable, p)
}

// WriteHeader writes the magic number, construction checksum (a hash of
// the structural graph, computed by the caller so the archive can detect a
// mismatched binary on restore), the simulation time/tick counters, and the
// number of blocks that will follow.
func (a *Writer) WriteHeader(constructionChecksum uint32, simTimePs, simTicks int64, blockCount int) {
	var buf [24]byte
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], constructionChecksum)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(simTimePs))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(simTicks))
	a.write(buf[:])
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(blockCount))
	a.write(countBuf[:])
}

// WriteBlock writes a length-prefixed named block: domain state, FIFO
// contents, or user-archived component state (spec.md §4.10 "per-domain
// state and port storage blocks", "FIFO headers and data").
func (a *Writer) WriteBlock(name string, payload []byte) {
	var lenBuf [4]byte
	nameBytes := []byte(name)
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(nameBytes)))
	a.write(lenBuf[:])
	a.write(nameBytes)
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	a.write(lenBuf[:])
	a.write(payload)
}

// Finish writes the end-of-archive magic, then the running structural
// checksum computed over everything written before it, and flushes the
// underlying writer.
func (a *Writer) Finish() error {
	if a.err != nil {
		return a.err
	}
	var magicBuf [4]byte
	binary.LittleEndian.PutUint32(magicBuf[:], magic)
	a.write(magicBuf[:])
	if a.err != nil {
		return a.err
	}

	var csumBuf [4]byte
	binary.LittleEndian.PutUint32(csumBuf[:], a.hash)
	if _, err := a.w.Write(csumBuf[:]); err != nil {
		return err
	}
	return a.w.Flush()
}

// Reader deserializes a checkpoint, re-deriving the same running checksum
// a Writer produced so Restore can detect truncation or corruption.
type Reader struct {
	r    *bufio.Reader
	hash uint32
}

// NewReader wraps r for checkpoint reading.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

func (a *Reader) readFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(a.r, buf); err != nil {
		return nil, err
	}
	a.hash = crc32.Update(a.hash, crc32.IEEETable, buf)
	return buf, nil
}

// ReadHeader reads and validates the magic number, returning the
// construction checksum, simulation time/tick counters, and the number of
// blocks that follow.
func (a *Reader) ReadHeader() (constructionChecksum uint32, simTimePs, simTicks int64, blockCount int, err error) {
	buf, err := a.readFull(24)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	if got := binary.LittleEndian.Uint32(buf[0:4]); got != magic {
		return 0, 0, 0, 0, fmt.Errorf("archive: bad magic %#x, want %#x", got, magic)
	}
	constructionChecksum = binary.LittleEndian.Uint32(buf[4:8])
	simTimePs = int64(binary.LittleEndian.Uint64(buf[8:16]))
	simTicks = int64(binary.LittleEndian.Uint64(buf[16:24]))

	countBuf, err := a.readFull(4)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	blockCount = int(binary.LittleEndian.Uint32(countBuf))
	return constructionChecksum, simTimePs, simTicks, blockCount, nil
}

// ReadBlock reads one named, length-prefixed block. Callers read exactly
// the blockCount blocks ReadHeader reported and then call ReadTrailer; a
// call past the last block misreads the trailer as a block header and
// returns an error.
func (a *Reader) ReadBlock() (name string, payload []byte, err error) {
	lenBuf, err := a.readFull(4)
	if err != nil {
		return "", nil, err
	}
	nameLen := binary.LittleEndian.Uint32(lenBuf)
	if nameLen == 0 {
		// A zero-length name is rejected as a block header.
		return "", nil, fmt.Errorf("archive: zero-length block name")
	}
	nameBytes, err := a.readFull(int(nameLen))
	if err != nil {
		return "", nil, err
	}
	payloadLenBuf, err := a.readFull(4)
	if err != nil {
		return "", nil, err
	}
	payloadLen := binary.LittleEndian.Uint32(payloadLenBuf)
	payload, err = a.readFull(int(payloadLen))
	if err != nil {
		return "", nil, err
	}
	return string(nameBytes), payload, nil
}

// ReadTrailer reads and validates the end-of-archive magic, then checks the
// stored checksum against the hash accumulated over every prior read,
// including that magic (the same bytes Finish hashed).
func (a *Reader) ReadTrailer() error {
	buf, err := a.readFull(4)
	if err != nil {
		return err
	}
	if got := binary.LittleEndian.Uint32(buf); got != magic {
		return fmt.Errorf("archive: bad trailing magic %#x, want %#x", got, magic)
	}
	var csumBuf [4]byte
	if _, err := io.ReadFull(a.r, csumBuf[:]); err != nil {
		return err
	}
	want := binary.LittleEndian.Uint32(csumBuf[:])
	if want != a.hash {
		return fmt.Errorf("archive: structural checksum mismatch: got %#x, want %#x", a.hash, want)
	}
	return nil
}

// Source produces one checkpoint's worth of named blocks plus the
// construction checksum and simulation clock, for Checkpointer to drive.
type Source interface {
	ConstructionChecksum() uint32
	SimTimePs() int64
	SimTicks() int64
	ArchiveBlocks() map[string][]byte
}

// Checkpointer writes a numbered checkpoint file every IntervalCycles
// rising edges of the domain it is attached to, and flushes one final
// checkpoint on process exit via atexit (spec.md §4.10 "atexit-registered
// checkpointer").
type Checkpointer struct {
	Dir            string
	IntervalCycles int64
	Source         Source

	id       string
	lastEdge int64
}

// NewCheckpointer creates a checkpointer writing into dir, and registers
// its final flush with atexit.
func NewCheckpointer(dir string, intervalCycles int64, source Source) *Checkpointer {
	c := &Checkpointer{
		Dir:            dir,
		IntervalCycles: intervalCycles,
		Source:         source,
		id:             xid.New().String(),
	}
	atexit.Register(func() {
		if err := c.Write("final"); err != nil {
			fmt.Fprintf(os.Stderr, "archive: final checkpoint failed: %v\n", err)
		}
	})
	return c
}

// MaybeCheckpoint writes a checkpoint if at least IntervalCycles rising
// edges have elapsed since the last one (IntervalCycles == 0 disables
// automatic checkpointing; call Write directly instead).
func (c *Checkpointer) MaybeCheckpoint(edge int64) error {
	if c.IntervalCycles <= 0 {
		return nil
	}
	if edge-c.lastEdge < c.IntervalCycles {
		return nil
	}
	c.lastEdge = edge
	return c.Write(fmt.Sprintf("%d", edge))
}

// Write serializes one checkpoint named label under c.Dir/c.id-label.arc.
func (c *Checkpointer) Write(label string) error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(c.Dir, fmt.Sprintf("%s-%s.arc", c.id, label))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	blocks := c.Source.ArchiveBlocks()
	names := make([]string, 0, len(blocks))
	for name := range blocks {
		names = append(names, name)
	}
	sort.Strings(names)

	w := NewWriter(f)
	w.WriteHeader(c.Source.ConstructionChecksum(), c.Source.SimTimePs(), c.Source.SimTicks(), len(blocks))
	for _, name := range names {
		w.WriteBlock(name, blocks[name])
	}
	return w.Finish()
}
