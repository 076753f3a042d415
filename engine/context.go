package engine

import "fmt"

// Context is passed to a component type's build(cx) function. It
// accumulates entries into the InterfaceDescriptor currently being built (or
// validates them against an already-built one), mirroring spec.md §9's
// "Construction callbacks" design note.
type Context struct {
	b     *Builder
	comp  *Component
	frame *frame
}

// Builder exposes the owning Builder, e.g. so a build(cx) function can
// create sub-components with cx.Builder().BeginComponent(...).
func (cx *Context) Builder() *Builder { return cx.b }

// Component returns the component under construction.
func (cx *Context) Component() *Component { return cx.comp }

// SetDomain assigns the clock domain this component's ports and updates
// belong to, overriding whatever it inherited from its parent.
func (cx *Context) SetDomain(d *ClockDomain) { cx.comp.Domain = d }

// Port declares one port of the component under construction. offset is the
// byte offset within the interface; it is recorded in the descriptor
// (MaxOffset, ClockPortOffsets) but not compared when a later construction
// of the same class is validated.
func (cx *Context) Port(name string, dir Direction, kind PortType, info PortInfo, offset int) *PortWrapper {
	if cx.b.phase != PhaseConstruct {
		cx.b.fatal("port %s declared outside the construct phase", name)
	}
	if info.SizeBits > MaxPortSizeBits {
		cx.b.fatal("port %s: size %d bits exceeds the %d bit maximum", name, info.SizeBits, MaxPortSizeBits)
	}

	entry := Entry{
		Offset:    offset,
		Kind:      EntryPort,
		Name:      name,
		Direction: dir,
		Port:      &info,
	}
	if err := cx.frame.descriptor.validateOrAppend(entry); err != nil {
		cx.b.fatal("%s", err)
	}

	w := &PortWrapper{
		Name:      cx.comp.Path() + "." + name,
		Component: cx.comp,
		Info:      info,
		Direction: dir,
		PortKind:  kind,
		Conn:      Unconnected,
	}
	w.ID = len(cx.b.Wrappers)
	cx.b.Wrappers = append(cx.b.Wrappers, w)

	if dir == InFifo || dir == OutFifo {
		w.IsFifoEndpoint = true
	}

	return w
}

// SubInterface builds (or validates) a named child interface, recursing
// build into it with a fresh frame.
func (cx *Context) SubInterface(name, className string, offset int, build func(cx *Context)) *InterfaceDescriptor {
	if cx.b.phase != PhaseConstruct {
		cx.b.fatal("sub-interface %s declared outside the construct phase", name)
	}

	desc, existed := cx.b.classDescriptors[className]
	if !existed {
		desc = &InterfaceDescriptor{ClassName: className}
		cx.b.classDescriptors[className] = desc
	}

	entry := Entry{Offset: offset, Kind: EntrySubInterface, Name: name, Child: desc}
	if err := cx.frame.descriptor.validateOrAppend(entry); err != nil {
		cx.b.fatal("%s", err)
	}

	fr := &frame{comp: cx.comp, descriptor: desc}
	cx.b.stack = append(cx.b.stack, fr)
	cx.b.constructStack = append(cx.b.constructStack, fmt.Sprintf("%s (sub-interface)", name))

	sub := &Context{b: cx.b, comp: cx.comp, frame: fr}
	build(sub)

	cx.b.stack = cx.b.stack[:len(cx.b.stack)-1]
	cx.b.constructStack = cx.b.constructStack[:len(cx.b.constructStack)-1]
	desc.built = true
	desc.pendingCount = nil

	return desc
}

// Array builds count array elements of a sub-interface, invoking build once
// per element with its index i. Elements get no per-element name override:
// ports declared inside an element are named by the component path and the
// port name only, and "name[i]" appears only in the construction stack.
func (cx *Context) Array(name, className string, count, stride int, build func(cx *Context, i int)) {
	if count <= 0 {
		cx.b.fatal("array %s: count must be positive, got %d", name, count)
	}

	desc, existed := cx.b.classDescriptors[className]
	if !existed {
		desc = &InterfaceDescriptor{ClassName: className}
		cx.b.classDescriptors[className] = desc
	}

	entry := Entry{
		Kind:    EntrySubInterface,
		Name:    name,
		IsArray: true,
		Stride:  stride,
		Child:   desc,
	}
	if err := cx.frame.descriptor.validateOrAppend(entry); err != nil {
		cx.b.fatal("%s", err)
	}

	for i := 0; i < count; i++ {
		fr := &frame{comp: cx.comp, descriptor: desc}
		cx.b.stack = append(cx.b.stack, fr)
		cx.b.constructStack = append(cx.b.constructStack, fmt.Sprintf("%s[%d]", name, i))

		sub := &Context{b: cx.b, comp: cx.comp, frame: fr}
		build(sub, i)

		cx.b.stack = cx.b.stack[:len(cx.b.stack)-1]
		cx.b.constructStack = cx.b.constructStack[:len(cx.b.constructStack)-1]
	}
	desc.built = true
	desc.pendingCount = nil
}

// Update registers an update function of the component under construction.
// reads/writes are the ports it declares as inputs/outputs for the purpose
// of strong/weak edge derivation (spec.md §4.3 step 4, §6 "Update
// declaration surface"). clock is optional; nil means "inherit the parent's
// default clock", resolved later during Resolve.
func (cx *Context) Update(name string, fn UpdateFunc, reads, writes []*PortWrapper, clock *ClockDomain) *UpdateWrapper {
	if cx.b.phase != PhaseConstruct {
		cx.b.fatal("update %s declared outside the construct phase", name)
	}

	u := &UpdateWrapper{
		Component:     cx.comp,
		Fn:            fn,
		Name:          cx.comp.Path() + "." + name,
		ExplicitClock: clock,
		Reads:         append([]*PortWrapper(nil), reads...),
		Writes:        append([]*PortWrapper(nil), writes...),
	}
	u.ID = len(cx.b.Updates)
	cx.b.Updates = append(cx.b.Updates, u)

	for _, w := range writes {
		w.Writers = append(w.Writers, u)
	}
	for _, r := range reads {
		r.Readers = append(r.Readers, u)
	}

	return u
}
