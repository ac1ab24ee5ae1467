package trace

import (
	"context"
	"fmt"
	"net"

	"github.com/KilimcininKorOglu/poros-engine/internal/probe"
)

// Resolver is the pluggable name-resolution collaborator. Protocol details
// of resolution are out of scope for this engine (spec §1); Resolver is the
// seam an embedding application uses to supply its own (e.g. a caching or
// DoH-backed) resolver.
type Resolver interface {
	// Resolve returns one or more addresses for hostName honoring style.
	Resolve(ctx context.Context, hostName string, style AddressStyle) ([]net.IP, error)
}

// DefaultResolver resolves literals directly and falls back to
// net.DefaultResolver.LookupIP for DNS names.
type DefaultResolver struct{}

// Resolve implements Resolver.
func (DefaultResolver) Resolve(ctx context.Context, hostName string, style AddressStyle) ([]net.IP, error) {
	if ip := net.ParseIP(hostName); ip != nil {
		if style == AddressV4 && ip.To4() == nil {
			return nil, fmt.Errorf("%s: %w", hostName, ErrResolutionFailed)
		}
		if style == AddressV6 && ip.To4() != nil {
			return nil, fmt.Errorf("%s: %w", hostName, ErrResolutionFailed)
		}
		return []net.IP{ip}, nil
	}

	network := "ip"
	switch style {
	case AddressV4:
		network = "ip4"
	case AddressV6:
		network = "ip6"
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, network, hostName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", hostName, ErrResolutionFailed, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("%s: %w", hostName, ErrResolutionFailed)
	}
	return ips, nil
}

// pickAddress applies the spec §6 preference ("prefer v4 on dual-stack
// responses, for compatibility") to a resolver's address list.
func pickAddress(addrs []net.IP, style AddressStyle) (net.IP, probe.Family, bool) {
	if style == AddressV6 {
		for _, a := range addrs {
			if a.To4() == nil {
				return a, probe.FamilyV6, true
			}
		}
		return nil, 0, false
	}
	if style == AddressV4 {
		for _, a := range addrs {
			if a.To4() != nil {
				return a, probe.FamilyV4, true
			}
		}
		return nil, 0, false
	}
	// AddressAny: prefer v4.
	for _, a := range addrs {
		if a.To4() != nil {
			return a, probe.FamilyV4, true
		}
	}
	if len(addrs) > 0 {
		return addrs[0], probe.FamilyV6, true
	}
	return nil, 0, false
}
