package ptnetmap

import "errors"

// Error taxonomy for the control-plane surface (internal/control), named
// after the ioctl-style error codes the original interface returns.
// Configuration and resource errors are surfaced synchronously with no
// side effects persisting; runtime errors inside a running worker never
// reach this far (see internal/ptnetmap/worker.go).
var (
	// ErrInvalid corresponds to EINVAL: a malformed configuration (empty
	// name or adapter, zero ring slots, missing CSB path).
	ErrInvalid = errors.New("ptnetmap: invalid configuration")

	// ErrFault corresponds to EFAULT: the control block could not be
	// reached (open/mmap failure). A fault inside a running worker is
	// recovered by csb.Guard and logged; it is not reported with ErrFault.
	ErrFault = errors.New("ptnetmap: fault accessing control block")

	// ErrNoMemory corresponds to ENOMEM: allocation of session resources
	// failed.
	ErrNoMemory = errors.New("ptnetmap: resource allocation failed")

	// ErrBusy corresponds to EBUSY: the requested adapter is already in
	// passthrough mode.
	ErrBusy = errors.New("ptnetmap: adapter already in passthrough mode")

	// ErrNotFound is returned by lookup operations (Manager.Stats) for a
	// session name with no active session. DELETE does not return it:
	// deleting a name with no active session is an idempotent success.
	ErrNotFound = errors.New("ptnetmap: no such session")
)
