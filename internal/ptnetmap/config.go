package ptnetmap

import (
	"fmt"
	"time"

	"github.com/c2h5oh/datasize"
)

// RingDescriptor is the per-direction event/interrupt descriptor pair
// carried in a CREATE configuration blob: an event to be signalled by the
// guest on produce (conceptually an ioeventfd) and an event this engine
// signals to interrupt the guest (conceptually an irqfd). Only ring index
// 0 per direction is modelled; generalizing to multiple rings per
// direction is left undone; see DESIGN.md.
type RingDescriptor struct {
	NumSlots uint32
	IOEvent  string
	IRQEvent string
}

func (d RingDescriptor) validate() error {
	if d.NumSlots == 0 {
		return fmt.Errorf("%w: num_slots must be non-zero", ErrInvalid)
	}
	return nil
}

// TelemetryConfig controls the optional periodic rate reporter, the Go
// equivalent of the original's compile-time RATE instrumentation.
type TelemetryConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// Config is the fixed-layout configuration blob for a passthrough
// session, equivalent to the argument of the CREATE control-plane
// command. Its byte length (conceptually) must match the receiver's
// expectations; here that contract is expressed as field validation
// rather than a raw byte-size check, since the transport is an in-process
// Go call rather than a copy from guest memory.
type Config struct {
	// Name identifies both the session and, combined with the "-PTN"
	// suffix convention, the wrapper adapter.
	Name string `yaml:"name"`

	// AdapterName is the parent backend adapter to attach to.
	AdapterName string `yaml:"adapter"`

	// CSBPath is the shared-memory object backing the control block
	// (e.g. a path under /dev/shm).
	CSBPath string `yaml:"csb_path"`

	// CSBSize exists in the configuration so operators can see and reason
	// about the shared-memory footprint. Validate does not check it, and
	// the control block is always mapped at csb.Size bytes.
	CSBSize datasize.ByteSize `yaml:"csb_size"`

	TX RingDescriptor `yaml:"tx"`
	RX RingDescriptor `yaml:"rx"`

	// SkipPrologue resolves the PTN_AVOID_NM_PROLOGUE open question as a
	// policy knob: when true (the default, matching the original's
	// shipped behavior), the backend prologue validator is skipped and
	// guest-supplied indices are trusted directly.
	SkipPrologue bool `yaml:"skip_prologue"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// DefaultConfig returns a Config with the original implementation's
// defaults applied.
func DefaultConfig() Config {
	return Config{
		SkipPrologue: true,
		Telemetry: TelemetryConfig{
			Enabled:  false,
			Interval: 5 * time.Second,
		},
	}
}

// Validate checks the configuration blob for the EINVAL-class failures
// the control-plane CREATE call must reject synchronously, before any
// session state is constructed.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalid)
	}
	if c.AdapterName == "" {
		return fmt.Errorf("%w: adapter must not be empty", ErrInvalid)
	}
	if c.CSBPath == "" {
		return fmt.Errorf("%w: csb_path must not be empty", ErrInvalid)
	}
	if err := c.TX.validate(); err != nil {
		return fmt.Errorf("tx ring: %w", err)
	}
	if err := c.RX.validate(); err != nil {
		return fmt.Errorf("rx ring: %w", err)
	}
	if c.Telemetry.Enabled && c.Telemetry.Interval <= 0 {
		return fmt.Errorf("%w: telemetry interval must be positive when enabled", ErrInvalid)
	}
	return nil
}
