package engine

// ReadPort returns the byte value an update function observes through p:
// the composed Synchronous/Slow/Patched delay chain is walked back to the
// physical terminal that actually owns storage, and the accumulated depth
// is read from that terminal's own pipeline (spec.md §4.5, §4.6 step 3
// "port value read/write surface"). No separate storage is ever allocated
// for a pure register alias — see storage.go's doc comment.
func ReadPort(p *PortWrapper) []byte {
	cur := p
	depth := 0
	for {
		switch cur.Conn {
		case Constant:
			return cur.ConstBytes
		case Connected:
			cur = cur.Source
		case Synchronous, Slow, Patched:
			depth += cur.Delay
			cur = cur.Source
		default:
			if cur.Domain == nil || cur.Domain.Storage == nil {
				return nil
			}
			return cur.Domain.Storage.Value(cur, depth)
		}
	}
}

// WritePort stores value into the depth-0 slot of p's owning terminal. Only
// legal for ports an update declares as a write (Output/Register/InOut);
// the caller is responsible for that discipline, matching the source's
// "writes are a declared surface, not enforced at the byte level" design.
func WritePort(p *PortWrapper, value []byte) {
	t := Terminal(p)
	if t.Domain == nil || t.Domain.Storage == nil {
		return
	}
	t.Domain.Storage.Write(t, value)
}
