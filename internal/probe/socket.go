package probe

import (
	"net"
	"time"

	"golang.org/x/net/icmp"
)

// ProbeSocket owns one raw ICMP socket (v4 or v6). Only one send/receive
// cycle may be active on a ProbeSocket at a time — the Engine enforces this
// by driving the socket from a single goroutine.
type ProbeSocket struct {
	family Family
	conn   *icmp.PacketConn
}

// OpenProbeSocket creates a raw ICMP socket for the given family. It first
// attempts a privileged raw socket, falling back to the unprivileged
// "datagram" ICMP socket supported by some platforms (notably Linux with
// net.ipv4.ping_group_range configured).
func OpenProbeSocket(family Family) (*ProbeSocket, error) {
	var conn *icmp.PacketConn
	var err error

	if family == FamilyV6 {
		conn, err = icmp.ListenPacket("ip6:ipv6-icmp", "::")
		if err != nil {
			conn, err = icmp.ListenPacket("udp6", "::")
		}
	} else {
		conn, err = icmp.ListenPacket("ip4:icmp", "0.0.0.0")
		if err != nil {
			conn, err = icmp.ListenPacket("udp4", "0.0.0.0")
		}
	}
	if err != nil {
		return nil, err
	}

	return &ProbeSocket{family: family, conn: conn}, nil
}

// Send sets the per-send TTL (v4) or hop limit (v6) and transmits buf to
// dst. The option is re-applied on every call, since successive hops reuse
// the same socket with an ascending TTL.
func (s *ProbeSocket) Send(buf []byte, dst net.IP, ttlOrHopLimit int) error {
	if err := s.setHopLimit(ttlOrHopLimit); err != nil {
		return err
	}
	_, err := s.conn.WriteTo(buf, &net.IPAddr{IP: dst})
	return err
}

func (s *ProbeSocket) setHopLimit(n int) error {
	if s.family == FamilyV6 {
		return s.conn.IPv6PacketConn().SetHopLimit(n)
	}
	return s.conn.IPv4PacketConn().SetTTL(n)
}

// Receive performs a short-blocking read with the given timeout. A returned
// error satisfying net.Error.Timeout() means no datagram arrived within
// timeout; the caller should treat that as "no packet" rather than a fatal
// error.
func (s *ProbeSocket) Receive(timeout time.Duration) ([]byte, net.Addr, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, err
	}
	buf := make([]byte, 1500)
	n, peer, err := s.conn.ReadFrom(buf)
	if err != nil {
		return nil, peer, err
	}
	return buf[:n], peer, nil
}

// Close releases the underlying socket. Safe to call more than once.
func (s *ProbeSocket) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// IsTimeout reports whether err is a read-deadline timeout.
func IsTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// Raw IP protocol numbers for ICMP and ICMPv6.
const (
	ProtocolICMP   = 1
	ProtocolICMPv6 = 58
)
