// Package introspect exposes a read-only HTTP debug endpoint over a
// running simulation's structural graph and current port values, for
// interactive inspection during development (spec.md ADDED Introspection
// component).
package introspect

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// Graph is the structural snapshot a Server renders as JSON: one entry per
// component with its path, class, active flag and the names of the ports
// it declares. Port values are not part of a component entry; Port looks
// one up by path.
type Graph interface {
	Components() []ComponentView
	Port(path string) (PortView, bool)
}

// ComponentView is one node of the rendered hierarchy.
type ComponentView struct {
	Path   string   `json:"path"`
	Class  string   `json:"class"`
	Active bool     `json:"active"`
	Ports  []string `json:"ports"`
}

// PortView is a single port's current value, rendered on demand so a large
// design's full value set is never serialized unless asked for.
type PortView struct {
	Path      string `json:"path"`
	Direction string `json:"direction"`
	ValueHex  string `json:"value_hex"`
}

// Server hosts the introspection endpoints over a Graph.
type Server struct {
	graph  Graph
	router *mux.Router
}

// NewServer builds a Server's routes. It does not start listening; call
// ListenAndServe.
func NewServer(graph Graph) *Server {
	s := &Server{graph: graph, router: mux.NewRouter()}
	s.router.HandleFunc("/components", s.handleComponents).Methods(http.MethodGet)
	s.router.HandleFunc("/ports/{path:.*}", s.handlePort).Methods(http.MethodGet)
	return s
}

// ListenAndServe starts the HTTP server on addr, blocking until it exits.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) handleComponents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.graph.Components())
}

func (s *Server) handlePort(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	view, ok := s.graph.Port(path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}
