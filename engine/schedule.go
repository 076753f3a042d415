package engine

import (
	"fmt"
	"math/bits"

	"github.com/cpehle/cascade/diag"
)

const bucketCount = 256

// bucketQueue is the scheduler's ready-set: 256 buckets keyed by a node's
// clipped weak in-degree, with a two-level bitmask for O(1) minimum lookup
// (spec.md §9 "Update scheduler design notes").
type bucketQueue struct {
	buckets  [bucketCount][]*UpdateWrapper
	nonEmpty [4]uint64 // 256 bits total, bit i set iff buckets[i] is non-empty
	size     int
}

func (q *bucketQueue) push(u *UpdateWrapper, key int) {
	if key < 0 {
		key = 0
	}
	if key >= bucketCount {
		key = bucketCount - 1
	}
	q.buckets[key] = append(q.buckets[key], u)
	q.nonEmpty[key/64] |= 1 << uint(key%64)
	q.size++
}

func (q *bucketQueue) popMin() *UpdateWrapper {
	for word := 0; word < 4; word++ {
		if q.nonEmpty[word] == 0 {
			continue
		}
		bit := bits.TrailingZeros64(q.nonEmpty[word])
		key := word*64 + bit
		list := q.buckets[key]
		u := list[len(list)-1]
		q.buckets[key] = list[:len(list)-1]
		if len(q.buckets[key]) == 0 {
			q.nonEmpty[word] &^= 1 << uint(bit)
		}
		q.size--
		return u
	}
	return nil
}

// Schedule topologically orders every clock domain's updates by strong
// edges, using each node's static weak in-degree as a bucket-queue tie-break
// (spec.md §4.4 Update Scheduler). It must run after Resolve and before
// PlanStorage.
func (b *Builder) Schedule() error {
	if b.phase != PhaseResolved {
		b.fatalResolve("Schedule called out of order")
	}
	b.phase = PhaseScheduled

	for _, d := range b.Domains {
		if err := b.scheduleDomain(d); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) scheduleDomain(d *ClockDomain) error {
	var nodes []*UpdateWrapper
	for _, u := range b.Updates {
		if u.resolvedDomain() == d {
			nodes = append(nodes, u)
		}
	}

	strongIn := make(map[*UpdateWrapper]int, len(nodes))
	for _, u := range nodes {
		strongIn[u] = u.strongIn
	}

	q := &bucketQueue{}
	for _, u := range nodes {
		if strongIn[u] == 0 {
			q.push(u, u.weakIn)
		}
	}

	order := make([]*UpdateWrapper, 0, len(nodes))
	scheduled := make(map[*UpdateWrapper]bool, len(nodes))

	for q.size > 0 {
		u := q.popMin()
		scheduled[u] = true
		u.SortIndex = len(order)
		order = append(order, u)

		for _, e := range u.StrongOut {
			if e.To.resolvedDomain() != d {
				continue
			}
			strongIn[e.To]--
			if strongIn[e.To] == 0 {
				q.push(e.To, e.To.weakIn)
			}
		}
	}

	if len(order) != len(nodes) {
		return b.reportCycle(d, nodes, scheduled)
	}

	stream := make([]*updateStreamEntry, 0, len(order)+1)
	for _, u := range order {
		stream = append(stream, &updateStreamEntry{Update: u, Triggers: triggersFor(u)})
	}

	sentinel := &UpdateWrapper{
		Name:           d.Name + ".$sentinel",
		Domain:         d,
		IsSentinel:     true,
		domainTriggers: append([]*TriggerRecord(nil), d.StickyTriggers...),
	}
	sentinel.SortIndex = len(order)
	d.sentinel = sentinel
	stream = append(stream, &updateStreamEntry{Update: sentinel})

	d.UpdateStream = stream
	return nil
}

// triggersFor collects the trigger records that fire immediately after u
// runs: those attached to any terminal port u writes.
func triggersFor(u *UpdateWrapper) []*TriggerRecord {
	var out []*TriggerRecord
	for _, w := range u.Writes {
		t := Terminal(w)
		out = append(out, t.Triggers...)
	}
	return out
}

// reportCycle builds a diag.Error describing the unscheduled residual
// subgraph: every node left over once all strong-edge-satisfiable updates
// have been drained. That includes the updates on a combinational cycle and
// any updates that depend on one; no single cycle is isolated
// (spec.md §8 scenario S4, invariant 2).
func (b *Builder) reportCycle(d *ClockDomain, nodes []*UpdateWrapper, scheduled map[*UpdateWrapper]bool) error {
	var cycleNodes, cyclePorts []string
	residual := make(map[*UpdateWrapper]bool)
	for _, u := range nodes {
		if !scheduled[u] {
			residual[u] = true
		}
	}

	for u := range residual {
		cycleNodes = append(cycleNodes, u.Name)
		port := ""
		for _, pred := range nodes {
			if !residual[pred] {
				continue
			}
			for _, e := range pred.StrongOut {
				if e.To == u {
					port = e.Port.Name
				}
			}
		}
		cyclePorts = append(cyclePorts, port)
	}

	return &diag.Error{
		Phase:      "schedule",
		Message:    fmt.Sprintf("combinational cycle among %d updates in clock domain %s", len(cycleNodes), d.Name),
		CycleNodes: cycleNodes,
		CyclePorts: cyclePorts,
	}
}
