// Package multidomain implements Cascade's Multi-Domain Scheduler: the
// ascending-next-edge outer loop that advances every clock domain in
// lockstep simulation time, co-ticking domains whose edges coincide, plus
// rational-ratio derived-clock bookkeeping and the periodic FIFO deadlock
// check (spec.md §4.7 Multi-Domain Scheduler).
package multidomain

import (
	"fmt"
	"sync"

	"github.com/cpehle/cascade/diag"
	"github.com/cpehle/cascade/engine"
	"github.com/cpehle/cascade/fifo"
)

// Domain is the subset of *engine.ClockDomain the scheduler needs to drive.
// Declared as a concrete type alias rather than an interface: the scheduler
// owns real ClockDomain values and mutates their edge-tracking fields
// directly, mirroring the source's tight coupling between the outer loop
// and the domain record (spec.md §3 ClockDomain scheduling fields).
type Domain = engine.ClockDomain

// Scheduler advances a set of clock domains in ascending next-edge order,
// co-ticking domains whose next edge coincides (spec.md §4.7 step 1-2).
type Scheduler struct {
	domains []*Domain
	manual  []*Domain

	workers int

	DeadlockCheckEveryPs int64
	nextDeadlockCheck    int64

	FifoCheck func() []*fifo.Fifo // returns every fifo to check for deadlock
	Active    func(*Domain) bool  // whether a domain's consumer side is active
}

// NewScheduler creates a scheduler for domains, driving co-tick groups with
// up to workers goroutines (spec.md §5 "ticks within a co-tick group may run
// concurrently").
func NewScheduler(domains []*Domain, workers int) *Scheduler {
	s := &Scheduler{workers: workers}
	for _, d := range domains {
		if d.Period == 0 {
			s.manual = append(s.manual, d)
			continue
		}
		s.domains = append(s.domains, d)
	}
	for _, d := range s.domains {
		d.NextEdgeTime = nextEdgeTime(d, 0)
	}
	return s
}

// nextEdgeTime computes the time of d's next rising edge. A domain
// configured via SetRational derives it from the generator's period and
// the stored ratio/phase instead of ticking on its own flat Period,
// so that the (RatioB*n)-th local edge coincides (modulo rounding) with the
// (RatioA*n+PhaseM)-th generator edge shifted by PhaseK picoseconds
// (spec.md §4.7).
func nextEdgeTime(d *Domain, now int64) int64 {
	if d.Generator == nil || d.RatioB == 0 {
		return now + int64(d.Period)
	}
	ln := d.RisingEdgeCount + 1
	numerator := (int64(d.RatioA)*ln + int64(d.RatioB)*int64(d.PhaseM)) * int64(d.Generator.Period)
	return numerator/int64(d.RatioB) + int64(d.PhaseK)
}

// Manual returns the manually-ticked (period-0) domains, advanced only by
// an explicit Tick call.
func (s *Scheduler) Manual() []*Domain { return s.manual }

// TickManual advances a single manual domain by one step.
func (s *Scheduler) TickManual(d *Domain) {
	d.PreTick()
	d.TickPhase(d.PrevEdgeTime)
	d.UpdatePhase()
	d.PostTick()
}

// RunUntil advances every clocked domain until simulation time reaches
// endPs, co-ticking domains whose next edge coincides and periodically
// checking for FIFO deadlock (spec.md §4.7 steps 1-4).
func (s *Scheduler) RunUntil(endPs int64) error {
	for {
		next, group := s.nextCoTickGroup()
		if next < 0 || next > endPs {
			return nil
		}

		if err := s.tickGroup(group, next); err != nil {
			return err
		}

		if s.DeadlockCheckEveryPs > 0 && next >= s.nextDeadlockCheck {
			s.nextDeadlockCheck = next + s.DeadlockCheckEveryPs
			if err := s.checkDeadlock(); err != nil {
				return err
			}
		}
	}
}

// nextCoTickGroup finds the smallest NextEdgeTime among clocked domains and
// every domain sharing it (spec.md §4.7 "co-tick groups").
func (s *Scheduler) nextCoTickGroup() (int64, []*Domain) {
	next := int64(-1)
	for _, d := range s.domains {
		if next < 0 || d.NextEdgeTime < next {
			next = d.NextEdgeTime
		}
	}
	if next < 0 {
		return -1, nil
	}
	var group []*Domain
	for _, d := range s.domains {
		if d.NextEdgeTime == next {
			group = append(group, d)
		}
	}
	return next, group
}

// tickGroup runs PreTick/TickPhase/UpdatePhase/PostTick for every domain in
// group at time now. Only the TickPhase calls are fanned out across
// s.workers goroutines, and only when there is more than one domain to
// tick; PreTick, UpdatePhase and PostTick run sequentially in group order
// (spec.md §5 "a fixed-size worker pool ticks the members of a co-tick
// group").
func (s *Scheduler) tickGroup(group []*Domain, now int64) error {
	for _, d := range group {
		d.PreTick()
	}

	if s.workers <= 1 || len(group) == 1 {
		for _, d := range group {
			d.TickPhase(now)
		}
	} else {
		runConcurrent(group, s.workers, func(d *Domain) { d.TickPhase(now) })
	}

	var firstErr error
	runOrdered(group, func(d *Domain) {
		if firstErr != nil {
			return
		}
		firstErr = runUpdatePhase(d)
	})
	if firstErr != nil {
		return firstErr
	}

	for _, d := range group {
		d.PostTick()
		d.NextEdgeTime = nextEdgeTime(d, now)
	}
	return nil
}

func runUpdatePhase(d *Domain) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if de, ok := r.(*diag.Error); ok {
				err = de
				return
			}
			panic(r)
		}
	}()
	d.UpdatePhase()
	return nil
}

func runOrdered(group []*Domain, fn func(*Domain)) {
	for _, d := range group {
		fn(d)
	}
}

func runConcurrent(group []*Domain, workers int, fn func(*Domain)) {
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for _, d := range group {
		wg.Add(1)
		sem <- struct{}{}
		go func(d *Domain) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(d)
		}(d)
	}
	wg.Wait()
}

// checkDeadlock scans every fifo reported by FifoCheck for the zero-delay,
// full, inactive-consumer condition (spec.md §4.7 "periodic deadlock
// check", §4.8 "Deadlock").
func (s *Scheduler) checkDeadlock() error {
	if s.FifoCheck == nil {
		return nil
	}
	for _, f := range s.FifoCheck() {
		active := true
		if s.Active != nil {
			if d, ok := f.Consumer.(*Domain); ok {
				active = s.Active(d)
			}
		}
		if f.Deadlocked(active) {
			return &diag.Error{
				Phase:   "runtime",
				Message: fmt.Sprintf("fifo %s deadlocked: full with an inactive zero-delay consumer", f.Name),
			}
		}
	}
	return nil
}

// SolveRational finds the smallest (a, b) ratio of generator edges to
// local edges, plus a phase numerator m and picosecond shift k, such that
// the (b*n)-th local edge aligns with the (a*n+m)-th generator edge within
// toleranceNs nanoseconds (spec.md §4.7 "rational-ratio derived clocks").
// a is localPeriod/gcd and b is generatorPeriod/gcd, so
// b*localPeriod == a*generatorPeriod. m is always 0.
func SolveRational(localPeriodPs, generatorPeriodPs int64, toleranceNs int64) (a, b, m, k int) {
	g := gcdPs(localPeriodPs, generatorPeriodPs)
	if g == 0 {
		return 1, 1, 0, 0
	}
	aa := localPeriodPs / g
	bb := generatorPeriodPs / g

	toleratePs := toleranceNs * 1000
	if toleratePs <= 0 {
		return int(aa), int(bb), 0, 0
	}
	// Round the derived generator period to the nearest whole tolerance
	// step so that repeated edges don't accumulate drift (spec.md §9
	// "clock rounding").
	exact := generatorPeriodPs
	rounded := ((exact + toleratePs/2) / toleratePs) * toleratePs
	shift := rounded - exact
	return int(aa), int(bb), 0, int(shift)
}

func gcdPs(a, b int64) int64 {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
