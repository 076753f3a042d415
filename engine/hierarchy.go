package engine

import (
	"fmt"

	"github.com/cpehle/cascade/diag"
)

// MaxSiblingID is the width of the sibling-id field (spec.md §3 Component).
const MaxSiblingID = 1<<15 - 1

// Component is a node in the parent/firstChild/nextSibling hierarchy tree.
type Component struct {
	ID           int
	ClassName    string
	InstanceName string
	SiblingID    int
	Active       bool
	TraceKeys    uint64

	// Domain is the clock domain this component's declared ports and
	// updates belong to by default; inherited from Parent unless overridden
	// via Context.SetDomain (spec.md §3 "all writers of a given port share a
	// clock domain").
	Domain *ClockDomain

	Parent      *Component
	FirstChild  *Component
	NextSibling *Component

	Descriptor *InterfaceDescriptor

	// Impl is the user-supplied behaviour. Simulator.Reset calls Reset on
	// it when it implements Resettable. Tick is not dispatched through Impl
	// (only ClockDomain.Tickables are ticked), and update functions are the
	// UpdateFunc values passed to Context.Update.
	Impl interface{}
}

// Tickable is implemented by components that need custom per-cycle logic
// beyond declared update functions (spec.md §4.6 "tickable components").
type Tickable interface {
	Tick(domain *ClockDomain)
}

// Resettable is implemented by components with custom reset(level) logic
// (spec.md §4.6, §6 "Reset command surface").
//
//go:generate mockgen -package cascade -destination ../cascade/mock_resettable_test.go github.com/cpehle/cascade/engine Resettable
type Resettable interface {
	Reset(level int)
}

// Path returns the dotted hierarchical name parent.name[id], where name is
// the instance name, or the class name when the instance name is empty.
func (c *Component) Path() string {
	if c.Parent == nil {
		return c.displayName()
	}
	return c.Parent.Path() + "." + c.displayName()
}

func (c *Component) displayName() string {
	name := c.InstanceName
	if name == "" {
		name = c.ClassName
	}
	return fmt.Sprintf("%s[%d]", name, c.SiblingID)
}

// EntryKind discriminates an InterfaceDescriptor entry.
type EntryKind int

// Entry kinds.
const (
	EntryPort EntryKind = iota
	EntrySubInterface
)

// Entry is one static, ordered member of an InterfaceDescriptor.
type Entry struct {
	Offset      int
	Kind        EntryKind
	Name        string
	Direction   Direction
	IsArray     bool
	IsBaseClass bool
	Stride      int

	Child *InterfaceDescriptor // set when Kind == EntrySubInterface
	Port  *PortInfo            // set when Kind == EntryPort
}

// InterfaceDescriptor is the static, shared-per-class metadata built once
// per component/interface class and validated on every subsequent
// construction of that class (spec.md §3, §4.1).
type InterfaceDescriptor struct {
	ClassName              string
	Entries                []Entry
	MaxOffset              int
	ClockPortOffsets       []int
	ContainsArray          bool
	ContainsArrayWithClock bool

	built        bool          // true once the first construction has finished
	pendingCount []struct{}    // validation progress for the construction in flight
}

func (d *InterfaceDescriptor) validateOrAppend(e Entry) error {
	if !d.built {
		d.Entries = append(d.Entries, e)
		if e.Offset > d.MaxOffset {
			d.MaxOffset = e.Offset
		}
		if e.Direction == Clock {
			d.ClockPortOffsets = append(d.ClockPortOffsets, e.Offset)
		}
		if e.IsArray {
			d.ContainsArray = true
			if e.Direction == Clock {
				d.ContainsArrayWithClock = true
			}
		}
		return nil
	}

	idx := len(d.pendingCount)
	if idx >= len(d.Entries) {
		return fmt.Errorf("class %s: construction produced more entries than the recorded descriptor (%d)", d.ClassName, len(d.Entries))
	}
	want := d.Entries[idx]
	if want.Kind != e.Kind || want.Direction != e.Direction || want.IsArray != e.IsArray {
		return fmt.Errorf("class %s: entry %d mismatch: recorded %+v, got %+v", d.ClassName, idx, want, e)
	}
	d.pendingCount = append(d.pendingCount, struct{}{})
	return nil
}

// Phase is the builder's lifecycle stage. Connection operators and port/
// update declarations are only legal during PhaseConstruct.
type Phase int

// Builder phases.
const (
	PhaseConstruct Phase = iota
	PhaseResolved
	PhaseScheduled
	PhasePlanned
	PhaseRunning
)

// frame is one entry of the construction-time frame stack (spec.md §4.1).
type frame struct {
	comp        *Component
	descriptor  *InterfaceDescriptor
	nextPortID  map[Direction]int
	isArrayElem bool
	inProgress  bool
}

// Builder drives construction of the static structural graph and owns every
// wrapper, update and clock domain created during it. It replaces the
// source's thread-local frame stack with an explicit value threaded through
// build(cx) calls (spec.md §9 "Construction callbacks").
type Builder struct {
	phase Phase

	stack []*frame

	classDescriptors map[string]*InterfaceDescriptor
	siblingCounts    map[*Component]map[string]int

	Components   []*Component
	Wrappers     []*PortWrapper
	Updates      []*UpdateWrapper
	Domains      []*ClockDomain
	domainByID   map[string]*ClockDomain
	FifoBindings []*FifoBinding

	constPool *ConstantPool

	constructStack []string // human-readable trail for error dumps

	patches map[patchKey]*PortWrapper // cross-domain patch wrappers, memoized by resolveWrapper
}

// NewBuilder creates an empty Builder in the Construct phase.
func NewBuilder() *Builder {
	return &Builder{
		phase:            PhaseConstruct,
		classDescriptors: make(map[string]*InterfaceDescriptor),
		siblingCounts:    make(map[*Component]map[string]int),
		domainByID:       make(map[string]*ClockDomain),
		constPool:        newConstantPool(),
	}
}

func (b *Builder) fatal(format string, args ...interface{}) {
	panic(&diag.Error{
		Phase:   "construct",
		Message: fmt.Sprintf(format, args...),
		Stack:   append([]string(nil), b.constructStack...),
	})
}

func (b *Builder) currentFrame() *frame {
	if len(b.stack) == 0 {
		b.fatal("no component under construction")
	}
	return b.stack[len(b.stack)-1]
}

// Domain returns (creating if necessary) the named clock domain.
func (b *Builder) Domain(name string, periodPs int) *ClockDomain {
	if d, ok := b.domainByID[name]; ok {
		return d
	}
	d := newClockDomain(name, len(b.Domains), periodPs)
	b.Domains = append(b.Domains, d)
	b.domainByID[name] = d
	return d
}

// ManualDomain returns (creating if necessary) a manually-ticked domain
// (period 0, spec.md §3 ClockDomain "0 = manual").
func (b *Builder) ManualDomain(name string) *ClockDomain {
	return b.Domain(name, 0)
}

// BeginComponent pushes a new construction frame for a component of the
// given class, parented under parent (nil for the root). It returns the
// Component and a Context used by the type's build(cx) function.
func (b *Builder) BeginComponent(parent *Component, className, instanceName string) (*Component, *Context) {
	if b.phase != PhaseConstruct {
		b.fatal("BeginComponent(%s) called outside the construct phase", className)
	}

	desc, existed := b.classDescriptors[className]
	if !existed {
		desc = &InterfaceDescriptor{ClassName: className}
		b.classDescriptors[className] = desc
	}

	c := &Component{
		ClassName:    className,
		InstanceName: instanceName,
		Active:       true,
		Parent:       parent,
		Descriptor:   desc,
	}
	c.ID = len(b.Components)
	b.Components = append(b.Components, c)

	if parent != nil {
		b.linkChild(parent, c)
		c.Domain = parent.Domain
	}

	counts := b.siblingCounts[parent]
	if counts == nil {
		counts = make(map[string]int)
		b.siblingCounts[parent] = counts
	}
	c.SiblingID = counts[className]
	counts[className]++
	if c.SiblingID > MaxSiblingID {
		b.fatal("too many siblings of class %s under %s", className, parentPath(parent))
	}

	fr := &frame{comp: c, descriptor: desc}
	b.stack = append(b.stack, fr)
	b.constructStack = append(b.constructStack, c.displayName())

	return c, &Context{b: b, comp: c, frame: fr}
}

func parentPath(p *Component) string {
	if p == nil {
		return "<root>"
	}
	return p.Path()
}

func (b *Builder) linkChild(parent, child *Component) {
	if parent.FirstChild == nil {
		parent.FirstChild = child
		return
	}
	sib := parent.FirstChild
	for sib.NextSibling != nil {
		sib = sib.NextSibling
	}
	sib.NextSibling = child
}

// EndComponent pops the construction frame for c, marking its descriptor
// built so later constructions of the same class are validated rather than
// recorded.
func (b *Builder) EndComponent(c *Component) {
	if len(b.stack) == 0 || b.stack[len(b.stack)-1].comp != c {
		b.fatal("EndComponent called out of order for %s", c.Path())
	}
	b.stack = b.stack[:len(b.stack)-1]
	b.constructStack = b.constructStack[:len(b.constructStack)-1]
	c.Descriptor.built = true
	c.Descriptor.pendingCount = nil
}

// ConstructStack returns a copy of the current construction-time frame
// trail, used by diag to render a failure dump (spec.md §4.1).
func (b *Builder) ConstructStack() []string {
	return append([]string(nil), b.constructStack...)
}
