package engine

import (
	"fmt"

	"github.com/cpehle/cascade/diag"
	"github.com/cpehle/cascade/fifo"
)

func (b *Builder) fatalResolve(format string, args ...interface{}) {
	panic(&diag.Error{Phase: "resolve", Message: fmt.Sprintf(format, args...)})
}

// domainOf returns the clock domain a port's declaring component belongs
// to (spec.md §3 "all writers of a given port share a clock domain").
func domainOf(p *PortWrapper) *ClockDomain {
	if p.Component == nil {
		return nil
	}
	return p.Component.Domain
}

// FifoBinding is a resolved FIFO chain: the producer and consumer endpoint
// wrappers plus the runtime fifo.Fifo that backs them.
type FifoBinding struct {
	Producer *PortWrapper
	Consumer *PortWrapper
	Fifo     *fifo.Fifo
}

// Resolve runs the net/register resolver exactly once after construction
// (spec.md §4.3): FIFO resolve, net resolve, register resolve, update
// edges, and sticky-trigger registration. It returns the resolved FIFO
// bindings; fake-register elimination is architectural (see storage.go) and
// needs no separate pass.
func (b *Builder) Resolve(params ResolveParams) []*FifoBinding {
	if b.phase != PhaseConstruct {
		b.fatalResolve("Resolve called twice or out of order")
	}
	b.phase = PhaseResolved

	bindings := b.resolveFifos(params)
	b.FifoBindings = bindings
	b.resolveNets()
	b.buildUpdateEdges()
	b.registerStickyTriggers()

	return bindings
}

// ResolveParams carries the values the resolver needs that are not part of
// the static graph itself: whether a flow-controlled FIFO sized below its
// minimum raises a warning. An undersized FIFO with flow control disabled
// is always fatal (spec.md §4.3 step 1).
type ResolveParams struct {
	FifoSizeWarnings bool
}

// resolveFifos walks every FIFO chain from consumer to producer, computing
// delay and minimum capacity, and builds the runtime fifo.Fifo
// (spec.md §4.3 step 1).
func (b *Builder) resolveFifos(params ResolveParams) []*FifoBinding {
	var bindings []*FifoBinding

	for _, w := range b.Wrappers {
		if w.Direction != InFifo || w.Source == nil {
			continue
		}
		producer := w.Source
		for producer.Conn == Connected && producer.Source != nil {
			producer = producer.Source
		}

		consumerDomain := domainOf(w)
		producerDomain := domainOf(producer)
		w.Domain = consumerDomain
		w.IsTerminal = true
		producer.Domain = producerDomain
		producer.IsTerminal = true

		delayPs := w.Delay * consumerDomain.Period
		delayConsumerCycles := w.Delay
		if producerDomain != nil && producerDomain != consumerDomain && producerDomain.Period > 0 {
			// The declared delay is counted in consumer cycles, so the
			// round trip through picoseconds yields the same cycle count.
			delayConsumerCycles = ceilDivInt(delayPs, consumerDomain.Period)
		}

		flow := !w.FifoDisableFlowControl
		minCap := fifo.MinCapacityEntries(delayConsumerCycles, producerDomain.Period, consumerDomain.Period, flow)

		entrySize := w.Info.SizeBytes
		if entrySize == 0 {
			entrySize = 1
		}
		sizeEntries := w.FifoSize / entrySize
		if w.FifoSize == 0 {
			sizeEntries = minCap
		} else if sizeEntries < minCap {
			if !flow {
				b.fatalResolve("fifo %s: capacity %d entries is below the required minimum %d with flow control disabled", w.Name, sizeEntries, minCap)
			}
			if params.FifoSizeWarnings {
				diag.Raise(&diag.Error{Phase: "warning", Message: diag.FifoWarning(w.Name, sizeEntries, minCap)})
			}
		}

		target := fifo.Target{}
		f := fifo.New(w.Name, sizeEntries*entrySize, entrySize, delayConsumerCycles, !flow, consumerDomain, target)
		w.Fifo = f
		producer.Fifo = f

		producer.FifoNoReader = producer.FifoNoReader || w.FifoNoReader
		producer.Triggers = append(producer.Triggers, w.Triggers...)

		bindings = append(bindings, &FifoBinding{Producer: producer, Consumer: w, Fifo: f})
	}

	return bindings
}

func ceilDivInt(a, b int) int {
	if b <= 0 {
		return a
	}
	if a%b == 0 {
		return a / b
	}
	return a/b + 1
}

// resolveNets collapses Connected chains to terminals, composes Synchronous
// register chains, and inserts patch/slow links across clock domains
// (spec.md §4.3 steps 2-3).
func (b *Builder) resolveNets() {
	for _, w := range b.Wrappers {
		if w.IsFifoEndpoint {
			continue
		}
		b.resolveWrapper(w)
	}
}

func (b *Builder) resolveWrapper(w *PortWrapper) *PortWrapper {
	if w.mark == 2 {
		return w
	}
	if w.mark == 1 {
		b.fatalResolve("unexpected loop resolving port %s", w.Name)
	}
	w.mark = 1

	switch w.Conn {
	case Unconnected, Wired, Constant:
		w.IsTerminal = true
		w.Domain = domainOf(w)
		w.mark = 2
		return w

	case Connected:
		srcTerm := b.resolveWrapper(w.Source)
		if srcTerm.Conn == Constant {
			w.Conn = Constant
			w.ConstBytes = srcTerm.ConstBytes
			w.IsTerminal = true
			w.Source = nil
			w.Domain = domainOf(w)
			w.mark = 2
			return w
		}
		if domainOf(w) != srcTerm.Domain {
			b.fatalResolve("combinational link %s <- %s crosses clock domains", w.Name, srcTerm.Name)
		}
		w.IsTerminal = false
		w.Source = srcTerm
		w.Domain = srcTerm.Domain
		srcTerm.Readers = append(srcTerm.Readers, w.Readers...)
		srcTerm.Writers = append(srcTerm.Writers, w.Writers...)
		srcTerm.Triggers = append(srcTerm.Triggers, w.Triggers...)
		w.mark = 2
		return srcTerm

	case Synchronous:
		producer, depth := b.resolveSyncChain(w.Source, w.Delay)
		readerDomain := domainOf(w)

		if producer.Domain == readerDomain {
			w.Source = producer
			w.Delay = depth
			w.IsTerminal = false
			w.Domain = readerDomain
			b.ensureDepth(producer, depth)
			w.mark = 2
			return w
		}

		if producer.Conn == Wired {
			// Cross-domain link to a continuously-driven source: spec.md
			// §9 Open Question resolution — a Wired source becomes a
			// delay-0 "slow" memcpy at the destination, executed every
			// tick of the reader's domain.
			w.Conn = Slow
			w.Source = producer
			w.Delay = 0
			w.IsTerminal = true
			w.Domain = readerDomain
			w.mark = 2
			return w
		}

		patch := b.patchFor(producer, readerDomain, depth)
		w.Source = patch
		w.Delay = 0
		w.IsTerminal = false
		w.Domain = readerDomain
		w.mark = 2
		return w

	default:
		w.IsTerminal = true
		w.Domain = domainOf(w)
		w.mark = 2
		return w
	}
}

// resolveSyncChain walks a synchronous source, collapsing Connected hops and
// composing Synchronous-to-Synchronous delay, per spec.md §4.3 step 3
// "Register resolve".
func (b *Builder) resolveSyncChain(src *PortWrapper, delay int) (*PortWrapper, int) {
	cur := src
	total := delay
	visited := make(map[*PortWrapper]bool)

	for {
		if visited[cur] {
			b.fatalResolve("synchronous register cycle through port %s", cur.Name)
		}
		visited[cur] = true

		switch cur.Conn {
		case Connected:
			cur = cur.Source
		case Synchronous:
			total += cur.Delay
			cur = cur.Source
		default:
			resolved := b.resolveWrapper(cur)
			return resolved, total
		}
	}
}

// ensureDepth records that terminal t needs at least depth pipeline stages;
// actual allocation happens in the Port Storage Planner (storage_plan.go).
func (b *Builder) ensureDepth(t *PortWrapper, depth int) {
	if depth > t.maxObservedDepth {
		t.maxObservedDepth = depth
	}
}

// patchFor returns (creating if necessary) the synthetic 1-cycle patch
// wrapper bridging producer (in its own domain) into readerDomain, reading
// producer at the given composed depth (spec.md §4.3 step 2 "patch").
// Patches are memoized per (producer, readerDomain) pair so every reader in
// the destination domain shares one cross-domain hop.
func (b *Builder) patchFor(producer *PortWrapper, readerDomain *ClockDomain, depth int) *PortWrapper {
	key := patchKey{producer, readerDomain}
	if p, ok := b.patches[key]; ok {
		if depth > p.maxObservedDepth {
			p.maxObservedDepth = depth
		}
		return p
	}

	patch := &PortWrapper{
		Name:       fmt.Sprintf("%s.$patch[%s]", producer.Name, readerDomain.Name),
		Direction:  Temp,
		PortKind:   Normal,
		Conn:       Patched,
		Source:     producer,
		Delay:      depth,
		Domain:     readerDomain,
		IsTerminal: true,
	}
	patch.ID = len(b.Wrappers)
	patch.Info = producer.Info
	b.Wrappers = append(b.Wrappers, patch)

	b.ensureDepth(producer, depth)

	if b.patches == nil {
		b.patches = make(map[patchKey]*PortWrapper)
	}
	b.patches[key] = patch
	return patch
}

type patchKey struct {
	producer *PortWrapper
	domain   *ClockDomain
}

// buildUpdateEdges constructs the scheduler's strong and weak edges
// (spec.md §4.3 step 4).
func (b *Builder) buildUpdateEdges() {
	for _, w := range b.Wrappers {
		if !w.IsTerminal || w.IsFifoEndpoint || w.Conn == Constant {
			continue
		}
		for _, writer := range dedupUpdates(w.Writers) {
			for _, reader := range dedupUpdates(w.Readers) {
				if writer == reader {
					continue
				}
				writer.addStrongEdge(reader, w)
			}
		}
	}

	for _, w := range b.Wrappers {
		if w.Conn != Synchronous || w.Delay != 1 {
			continue
		}
		src := Terminal(w.Source)
		if src.Conn == Constant {
			continue
		}
		for _, writer := range dedupUpdates(src.Writers) {
			for _, reader := range dedupUpdates(w.Readers) {
				writer.addWeakEdge(reader, w.Info.SizeBytes)
			}
		}
	}
}

func dedupUpdates(us []*UpdateWrapper) []*UpdateWrapper {
	seen := make(map[*UpdateWrapper]bool, len(us))
	out := us[:0:0]
	for _, u := range us {
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// registerStickyTriggers finds constants whose activation condition is
// permanently true and registers them as sticky triggers on their domain
// (spec.md §4.3 "Constants with stuck triggers").
func (b *Builder) registerStickyTriggers() {
	for _, w := range b.Wrappers {
		if w.Conn != Constant || len(w.Triggers) == 0 {
			continue
		}
		for _, t := range w.Triggers {
			if isStuckActive(w.ConstBytes, t.ActiveLow) {
				t.WasActivePrev = true
				dom := domainOf(w)
				if t.TargetComponent != nil {
					dom = t.TargetComponent.Domain
				}
				if dom != nil {
					dom.StickyTriggers = append(dom.StickyTriggers, t)
					dom.ConstantStickies = append(dom.ConstantStickies, w)
				}
			}
		}
	}
}

func isStuckActive(bytes []byte, activeLow bool) bool {
	allZero := true
	for _, b := range bytes {
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
