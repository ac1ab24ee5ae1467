package probe

import (
	"crypto/rand"
	"encoding/binary"
	"os"
)

// GenerateIdentifier returns a random 16-bit Echo identifier for a new
// engine instance. It falls back to a PID-derived value only if the system
// entropy source is unavailable, matching the resilience of the original
// SwiftSimplePing identifier seeding without weakening the "randomly
// generated" invariant on the common path.
func GenerateIdentifier() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint16(os.Getpid() & 0xffff)
	}
	return binary.BigEndian.Uint16(b[:])
}
