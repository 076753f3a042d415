// Package params loads and validates Cascade's simulation-wide
// configuration: worker pool sizing, debug/trace toggles, archive
// checkpoint cadence, and FIFO warning thresholds (spec.md §9 "Params",
// ADDED Configuration component).
package params

import (
	"fmt"
	"os"

	"github.com/tklauser/numcpus"
	"gopkg.in/yaml.v3"
)

// Params is the closed set of values a simulation run is configured with.
// Every field has a zero-config default via Default().
type Params struct {
	// NumThreads sizes the worker pool that ticks a co-tick group
	// concurrently (spec.md §5). Default sets it to the host's online CPU
	// count; Validate rejects values below 1.
	NumThreads int `yaml:"num_threads"`

	// Debug enables per-domain validity tracking and trace-level logging
	// (spec.md §4.6 step 4, §7).
	Debug bool `yaml:"debug"`

	// FifoSizeWarnings enables the non-fatal under-capacity FIFO warning
	// (spec.md §7 Warnings, scenario S3).
	FifoSizeWarnings bool `yaml:"fifo_size_warnings"`

	// FifoFlowControlDefault is loaded and kept but not read by the
	// simulator: flow control is on for every FIFO unless its port sets
	// FifoDisableFlowControl.
	FifoFlowControlDefault bool `yaml:"fifo_flow_control_default"`

	// ArchiveIntervalCycles is how many of the root domain's rising edges
	// elapse between automatic checkpoints; 0 disables automatic
	// checkpointing (spec.md §4.10).
	ArchiveIntervalCycles int64 `yaml:"archive_interval_cycles"`

	// ArchiveDir is where checkpoint files are written.
	ArchiveDir string `yaml:"archive_dir"`

	// DeadlockCheckEveryPs is how often (in simulation picoseconds) the
	// multi-domain scheduler scans for a stalled zero-delay FIFO
	// (spec.md §4.7). 0 disables the check.
	DeadlockCheckEveryPs int64 `yaml:"deadlock_check_every_ps"`

	// RationalToleranceNs is a tolerance for callers to pass to
	// SolveRational when deriving a rational-ratio clock (spec.md §4.7, §9);
	// the simulator itself does not read it.
	RationalToleranceNs int64 `yaml:"rational_tolerance_ns"`

	// MaxResetIterations bounds how many times Reset re-propagates values
	// through the update/tick machinery while waiting for every output to
	// quiesce; exceeding it without convergence is a fatal error (spec.md
	// §4.6, §9).
	MaxResetIterations int `yaml:"max_reset_iterations"`

	// TimeoutNs, if non-zero, aborts the simulation with a fatal error once
	// simulated time reaches this many nanoseconds (spec.md §7, §9).
	TimeoutNs int64 `yaml:"timeout_ns"`

	// FinishNs, if non-zero, ends the simulation cleanly once simulated
	// time reaches this many nanoseconds, regardless of the caller's
	// requested run length (spec.md §9).
	FinishNs int64 `yaml:"finish_ns"`

	// IntrospectAddr, if non-empty, starts the read-only HTTP introspection
	// server on this address (spec.md ADDED Introspection component).
	IntrospectAddr string `yaml:"introspect_addr"`
}

// Default returns the zero-config Params a simulation uses when no YAML
// file is loaded: worker count from the host's online CPUs, flow control
// on, deadlock checking every microsecond, a one-nanosecond rational-clock
// tolerance.
func Default() Params {
	threads, err := numcpus.GetOnline()
	if err != nil || threads < 1 {
		threads = 1
	}
	return Params{
		NumThreads:             threads,
		FifoFlowControlDefault: true,
		DeadlockCheckEveryPs:   1_000_000,
		RationalToleranceNs:    1,
		ArchiveDir:             "archive",
		MaxResetIterations:     10,
	}
}

// LoadYAML reads and validates a Params document from path, starting from
// Default() so unset fields keep their defaults.
func LoadYAML(path string) (Params, error) {
	p := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, fmt.Errorf("params: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Params{}, fmt.Errorf("params: parsing %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate rejects configurations that can never produce a runnable
// simulation.
func (p Params) Validate() error {
	if p.NumThreads < 1 {
		return fmt.Errorf("params: num_threads must be at least 1, got %d", p.NumThreads)
	}
	if p.RationalToleranceNs < 0 {
		return fmt.Errorf("params: rational_tolerance_ns must be non-negative, got %d", p.RationalToleranceNs)
	}
	if p.MaxResetIterations < 1 {
		return fmt.Errorf("params: max_reset_iterations must be at least 1, got %d", p.MaxResetIterations)
	}
	if p.TimeoutNs < 0 {
		return fmt.Errorf("params: timeout_ns must be non-negative, got %d", p.TimeoutNs)
	}
	if p.FinishNs < 0 {
		return fmt.Errorf("params: finish_ns must be non-negative, got %d", p.FinishNs)
	}
	return nil
}
