package trace

import "time"

// AddressStyle is the caller's preference among the address families a
// resolver may return for a host name.
type AddressStyle int

const (
	// AddressAny prefers IPv4 on a dual-stack response, for compatibility.
	AddressAny AddressStyle = iota
	AddressV4
	AddressV6
)

func (s AddressStyle) String() string {
	switch s {
	case AddressV4:
		return "v4"
	case AddressV6:
		return "v6"
	default:
		return "any"
	}
}

// MaxProbesPerHop is the dynamic bound the spec raises the teacher's
// hardcoded 3-probe array to (see DESIGN.md's Open Question decision).
const MaxProbesPerHop = 8

// Config holds the construction parameters for an Engine.
type Config struct {
	// HostName is the DNS name or IPv4/IPv6 literal to trace to.
	HostName string

	// AddressStyle selects which resolved address family to prefer.
	AddressStyle AddressStyle

	// MaxHops bounds how many hops the engine will probe, in [1, 255].
	MaxHops int

	// TimeoutPerProbe is the per-probe deadline, >= 100ms.
	TimeoutPerProbe time.Duration

	// ProbesPerHop is the number of probes sent at each hop, in [1, 8].
	ProbesPerHop int

	// Payload is the Echo Request payload. Nil selects probe.DefaultPayload.
	Payload []byte
}

// DefaultConfig returns a Config with the spec's §6 defaults.
func DefaultConfig(hostName string) Config {
	return Config{
		HostName:        hostName,
		AddressStyle:    AddressAny,
		MaxHops:         30,
		TimeoutPerProbe: 5 * time.Second,
		ProbesPerHop:    3,
	}
}

// Validate checks the configuration against spec §6's constraints.
func (c Config) Validate() error {
	if c.HostName == "" {
		return ErrEmptyHostName
	}
	if c.MaxHops < 1 || c.MaxHops > 255 {
		return ErrInvalidMaxHops
	}
	if c.ProbesPerHop < 1 || c.ProbesPerHop > MaxProbesPerHop {
		return ErrInvalidProbesPerHop
	}
	if c.TimeoutPerProbe < 100*time.Millisecond {
		return ErrInvalidTimeout
	}
	return nil
}
