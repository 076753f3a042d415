package engine

// PlanStorage allocates each clock domain's PortStorage and builds its
// per-tick copy plans (spec.md §4.5 Port Storage Planner). It must run
// after Schedule.
func (b *Builder) PlanStorage() {
	if b.phase != PhaseScheduled {
		b.fatalResolve("PlanStorage called out of order")
	}
	b.phase = PhasePlanned

	for _, d := range b.Domains {
		b.planDomainStorage(d)
		d.initRings(b.domainRingDepth(d))
	}
}

func (b *Builder) planDomainStorage(d *ClockDomain) {
	storage := newPortStorage()
	d.Storage = storage

	for _, w := range b.Wrappers {
		if w.IsFifoEndpoint || !w.IsTerminal || w.Domain != d || w.Conn == Constant {
			continue
		}
		storage.allocate(w, w.maxObservedDepth)
	}

	for _, slot := range storage.Terminals {
		if slot.maxDelay > 0 {
			storage.BulkShifts = append(storage.BulkShifts, &copyPlan{kind: copyShift, slot: slot})
		}
	}

	for _, w := range b.Wrappers {
		if w.Domain != d {
			continue
		}
		switch w.Conn {
		case Patched:
			producer := w.Source
			depth := w.Delay
			slot := storage.byPort[w]
			storage.PatchedCopies = append(storage.PatchedCopies, &copyPlan{
				kind: copyPatch,
				slot: slot,
				src: func() []byte {
					if producer.Domain == nil || producer.Domain.Storage == nil {
						return nil
					}
					return producer.Domain.Storage.Value(producer, depth)
				},
			})
		case Slow:
			producer := w.Source
			slot := storage.byPort[w]
			storage.SlowCopies = append(storage.SlowCopies, &copyPlan{
				kind: copySlow,
				slot: slot,
				src: func() []byte {
					if producer.Domain == nil || producer.Domain.Storage == nil {
						return nil
					}
					return producer.Domain.Storage.Value(producer, 0)
				},
			})
		}
	}
}

// domainRingDepth finds the deepest ring delay scheduled against d: the
// largest trigger delay or FIFO push/pop delay bound to this domain
// (spec.md §4.6 step 2 "power-of-two depth equal to the max synchronous
// delay used in the domain").
func (b *Builder) domainRingDepth(d *ClockDomain) int {
	max := 0
	for _, w := range b.Wrappers {
		if w.Domain != d {
			continue
		}
		for _, t := range w.Triggers {
			if t.Delay > max {
				max = t.Delay
			}
		}
	}
	for _, t := range d.StickyTriggers {
		if t.Delay > max {
			max = t.Delay
		}
	}
	for _, binding := range b.FifoBindings {
		if binding.Consumer.Domain == d && binding.Fifo.Delay > max {
			max = binding.Fifo.Delay
		}
	}
	return max
}
