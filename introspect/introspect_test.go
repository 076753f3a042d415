package introspect

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeGraph struct {
	components []ComponentView
	ports      map[string]PortView
}

func (g *fakeGraph) Components() []ComponentView { return g.components }
func (g *fakeGraph) Port(path string) (PortView, bool) {
	v, ok := g.ports[path]
	return v, ok
}

func TestHandleComponentsRendersJSON(t *testing.T) {
	g := &fakeGraph{components: []ComponentView{
		{Path: "root.tile[0]", Class: "Tile", Active: true, Ports: []string{"in", "out"}},
	}}
	s := NewServer(g)

	req := httptest.NewRequest(http.MethodGet, "/components", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got []ComponentView
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 1 || got[0].Path != "root.tile[0]" {
		t.Fatalf("decoded components = %+v", got)
	}
}

func TestHandlePortFoundAndNotFound(t *testing.T) {
	g := &fakeGraph{ports: map[string]PortView{
		"root.tile[0].out": {Path: "root.tile[0].out", Direction: "Output", ValueHex: "ff"},
	}}
	s := NewServer(g)

	req := httptest.NewRequest(http.MethodGet, "/ports/root.tile[0].out", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var view PortView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if view.ValueHex != "ff" {
		t.Fatalf("ValueHex = %q, want ff", view.ValueHex)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/ports/missing", nil)
	rec2 := httptest.NewRecorder()
	s.router.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for a missing port", rec2.Code)
	}
}
