// Package diag renders Cascade's structured error objects (spec.md §7) and
// hosts the single global error hook the kernel raises through instead of
// using try/recover internally.
package diag

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Error is the structured error object every fatal condition is raised
// with: simulation time, the update in flight (if any), and the component
// path (spec.md §7 "errors are raised with a structured error object").
type Error struct {
	Phase        string // "construct", "resolve", "schedule", "runtime", "reset", "fifo", "warning"
	Message      string
	SimTimePs    int64
	CurrentPath  string
	CurrentPort  string
	Stack        []string // construction-stack dump, when relevant
	CycleNodes   []string // update names participating in a reported cycle
	CyclePorts   []string // ports that induced the cycle edges
	Resources    *ResourceSnapshot // host memory/cpu, attached only when Debug is on
}

func (e *Error) Error() string {
	if e.CurrentPath != "" {
		return fmt.Sprintf("[%s] %s (at %s, t=%dps)", e.Phase, e.Message, e.CurrentPath, e.SimTimePs)
	}
	return fmt.Sprintf("[%s] %s", e.Phase, e.Message)
}

// Hook is the single global error formatter/aborter (spec.md §7 "A single
// global error hook formats the message and aborts"). The default prints the
// rendered report to stderr and exits, except for Phase "warning" errors,
// which are printed only. Tests replace it with a non-exiting recorder.
var Hook func(*Error) = defaultHook

// Raise formats err via Hook. The resolver raises its FIFO-capacity
// warnings through it; fatal kernel errors are panicked as *Error instead.
func Raise(err *Error) {
	Hook(err)
}

func defaultHook(err *Error) {
	fmt.Fprintln(os.Stderr, Render(err))
	if err.Phase == "warning" {
		return
	}
	os.Exit(1)
}

// Render formats err as a human-readable report, using a construction-stack
// dump or a cycle-participant table when present (matches the teacher's
// go-pretty table style in core/util.go's PrintState).
func Render(err *Error) string {
	out := err.Error() + "\n"

	if len(err.Stack) > 0 {
		t := table.NewWriter()
		t.SetTitle("Construction stack")
		t.AppendHeader(table.Row{"#", "Frame"})
		for i, frame := range err.Stack {
			t.AppendRow(table.Row{i, frame})
		}
		out += t.Render() + "\n"
	}

	if len(err.CycleNodes) > 0 {
		t := table.NewWriter()
		t.SetTitle("Combinational cycle")
		t.AppendHeader(table.Row{"Update", "Induced by port"})
		for i, node := range err.CycleNodes {
			port := ""
			if i < len(err.CyclePorts) {
				port = err.CyclePorts[i]
			}
			t.AppendRow(table.Row{node, port})
		}
		out += t.Render() + "\n"
	}

	if err.Resources != nil {
		out += "host: " + err.Resources.String() + "\n"
	}

	return out
}

// FifoWarning renders a non-fatal FIFO-capacity-below-recommended report
// (spec.md §7 Warnings, scenario S3).
func FifoWarning(name string, capacity, minimum int) string {
	t := table.NewWriter()
	t.SetTitle("FIFO capacity warning")
	t.AppendHeader(table.Row{"Fifo", "Capacity", "Recommended minimum"})
	t.AppendRow(table.Row{name, capacity, minimum})
	return t.Render()
}
