package trace

import "errors"

// Trace-related errors.
var (
	// ErrInvalidMaxHops indicates max hops is out of valid range [1, 255].
	ErrInvalidMaxHops = errors.New("max hops must be between 1 and 255")

	// ErrInvalidProbesPerHop indicates probes-per-hop is out of valid range [1, 8].
	ErrInvalidProbesPerHop = errors.New("probes per hop must be between 1 and 8")

	// ErrInvalidTimeout indicates the per-probe timeout is below the floor.
	ErrInvalidTimeout = errors.New("timeout per probe must be at least 100ms")

	// ErrEmptyHostName indicates no target host name was configured.
	ErrEmptyHostName = errors.New("host name must not be empty")

	// ErrResolutionFailed indicates name resolution returned no address of
	// the requested family.
	ErrResolutionFailed = errors.New("name resolution failed")

	// ErrContractViolation indicates Start was called on an engine that is
	// not Idle (already started, finished, or failed).
	ErrContractViolation = errors.New("engine is single-use: start called outside Idle state")
)
