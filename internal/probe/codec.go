package probe

import (
	"encoding/binary"
	"net"
)

// ICMP message types for IPv4.
const (
	ICMPv4EchoReply        = 0
	ICMPv4Unreachable      = 3
	ICMPv4EchoRequest      = 8
	ICMPv4TimeExceeded     = 11
	ICMPv4ParameterProblem = 12
)

// ICMP message types for IPv6.
const (
	ICMPv6Unreachable  = 1
	ICMPv6TimeExceeded = 3
	ICMPv6EchoRequest  = 128
	ICMPv6EchoReply    = 129
)

// echoHeaderLen is the length of the ICMP Echo header (type, code, checksum,
// identifier, sequence) before the payload.
const echoHeaderLen = 8

// DefaultPayload is the fixed ASCII filler used when the caller does not
// supply its own payload. It satisfies the spec's "at least 16 bytes" floor.
var DefaultPayload = []byte("poros-engine-icmp-probe")

// Family distinguishes IPv4 from IPv6 engine instances.
type Family int

const (
	FamilyV4 Family = iota
	FamilyV6
)

func (f Family) String() string {
	if f == FamilyV6 {
		return "ipv6"
	}
	return "ipv4"
}

// ResponseKind classifies a parsed ICMP response.
type ResponseKind int

const (
	KindOther ResponseKind = iota
	KindEchoReply
	KindTimeExceeded
	KindDestUnreachable
)

// ParsedResponse is the result of decoding one inbound ICMP datagram.
type ParsedResponse struct {
	Kind              ResponseKind
	IdentifierMatches bool
	Sequence          uint16
	ICMPCode          uint8
}

// BuildEchoRequest constructs an Echo Request datagram per RFC 792 (v4) /
// RFC 4443 (v6):
//
//	byte 0:   type (8 for v4, 128 for v6)
//	byte 1:   code (0)
//	bytes 2-3: checksum
//	bytes 4-5: identifier (big-endian)
//	bytes 6-7: sequence (big-endian)
//	bytes 8..: payload
//
// For v6, src and dst are required to compute the pseudo-header checksum
// input; for v4 they are ignored (the kernel never fills the checksum, so
// the codec always computes it over the ICMP message alone).
func BuildEchoRequest(family Family, identifier, sequence uint16, payload []byte, src, dst net.IP) []byte {
	if payload == nil {
		payload = DefaultPayload
	}

	buf := make([]byte, echoHeaderLen+len(payload))
	if family == FamilyV6 {
		buf[0] = ICMPv6EchoRequest
	} else {
		buf[0] = ICMPv4EchoRequest
	}
	buf[1] = 0
	binary.BigEndian.PutUint16(buf[4:6], identifier)
	binary.BigEndian.PutUint16(buf[6:8], sequence)
	copy(buf[8:], payload)

	var sum uint16
	if family == FamilyV6 {
		pseudo := PseudoHeaderIPv6(src, dst, len(buf))
		sum = Checksum(append(pseudo, buf...))
	} else {
		sum = Checksum(buf)
	}
	binary.BigEndian.PutUint16(buf[2:4], sum)

	return buf
}

// ParseResponse classifies a raw inbound datagram and, for response kinds
// that carry the embedded original probe, extracts its identifier/sequence
// for correlation against expectedIdentifier.
//
// raw is exactly as delivered: for v4 it still carries the IPv4 header (the
// codec strips it); for v6 the kernel has already stripped the v6 header, so
// raw begins at the ICMPv6 message.
func ParseResponse(raw []byte, family Family, expectedIdentifier uint16) (ParsedResponse, bool) {
	msg := raw
	if family == FamilyV4 {
		if len(msg) < 20 {
			return ParsedResponse{}, false
		}
		ihl := int(msg[0]&0x0f) * 4
		if ihl < 20 || len(msg) < ihl+echoHeaderLen {
			return ParsedResponse{}, false
		}
		msg = msg[ihl:]
	}
	if len(msg) < echoHeaderLen {
		return ParsedResponse{}, false
	}

	typ := msg[0]
	code := msg[1]

	switch {
	case family == FamilyV4 && typ == ICMPv4EchoReply, family == FamilyV6 && typ == ICMPv6EchoReply:
		id := binary.BigEndian.Uint16(msg[4:6])
		seq := binary.BigEndian.Uint16(msg[6:8])
		return ParsedResponse{
			Kind:              KindEchoReply,
			IdentifierMatches: id == expectedIdentifier,
			Sequence:          seq,
			ICMPCode:          code,
		}, true

	case family == FamilyV4 && typ == ICMPv4TimeExceeded && code == 0,
		family == FamilyV6 && typ == ICMPv6TimeExceeded && code == 0:
		return parseEmbedded(msg, family, expectedIdentifier, KindTimeExceeded, code)

	case family == FamilyV4 && typ == ICMPv4Unreachable,
		family == FamilyV6 && typ == ICMPv6Unreachable:
		return parseEmbedded(msg, family, expectedIdentifier, KindDestUnreachable, code)

	default:
		return ParsedResponse{Kind: KindOther, ICMPCode: code}, true
	}
}

// parseEmbedded reads the original IP header + first 8 bytes of the original
// datagram carried in the ICMP payload (starting at byte 8) of a Time
// Exceeded or Destination Unreachable message, and extracts the original
// Echo Request's identifier/sequence for correlation.
func parseEmbedded(msg []byte, family Family, expectedIdentifier uint16, kind ResponseKind, code uint8) (ParsedResponse, bool) {
	if len(msg) < echoHeaderLen+8 {
		return ParsedResponse{}, false
	}
	orig := msg[echoHeaderLen:]

	var ipHeaderLen int
	if family == FamilyV4 {
		if len(orig) < 1 {
			return ParsedResponse{}, false
		}
		ipHeaderLen = int(orig[0]&0x0f) * 4
	} else {
		ipHeaderLen = 40
	}
	if len(orig) < ipHeaderLen+echoHeaderLen {
		return ParsedResponse{}, false
	}

	echo := orig[ipHeaderLen:]
	id := binary.BigEndian.Uint16(echo[4:6])
	seq := binary.BigEndian.Uint16(echo[6:8])

	return ParsedResponse{
		Kind:              kind,
		IdentifierMatches: id == expectedIdentifier,
		Sequence:          seq,
		ICMPCode:          code,
	}, true
}
