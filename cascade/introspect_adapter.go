package cascade

import (
	"encoding/hex"

	"github.com/cpehle/cascade/engine"
	"github.com/cpehle/cascade/introspect"
)

// Components implements introspect.Graph: one view per component in the
// tree, in construction order.
func (s *Simulator) Components() []introspect.ComponentView {
	views := make([]introspect.ComponentView, 0, len(s.builder.Components))
	for _, c := range s.builder.Components {
		views = append(views, introspect.ComponentView{
			Path:   c.Path(),
			Class:  c.ClassName,
			Active: c.Active,
			Ports:  portNamesOf(c),
		})
	}
	return views
}

func portNamesOf(c *engine.Component) []string {
	var names []string
	for _, w := range c.Descriptor.Entries {
		if w.Kind == engine.EntryPort {
			names = append(names, w.Name)
		}
	}
	return names
}

// Port implements introspect.Graph: looks up a declared port by its fully
// qualified path and renders its current terminal value as hex.
func (s *Simulator) Port(path string) (introspect.PortView, bool) {
	for _, w := range s.builder.Wrappers {
		if w.Name != path {
			continue
		}
		return introspect.PortView{
			Path:      w.Name,
			Direction: w.Direction.String(),
			ValueHex:  hex.EncodeToString(engine.ReadPort(w)),
		}, true
	}
	return introspect.PortView{}, false
}
