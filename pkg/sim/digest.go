package sim

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// Digest blake3 hash of a Snapshot's wire encoding
type Digest [32]byte

// Digest hashes frame and every seat's physics.
func (s *Snapshot) Digest(frame Frame) Digest {
	buf := make([]byte, 0, 4+MaxPlayerNmb*PhysicsStateSize)
	buf = append(buf, byte(frame), byte(frame>>8), byte(frame>>16), byte(frame>>24))
	for _, p := range s {
		buf = p.AppendBinary(buf)
	}
	return Digest(blake3.Sum256(buf))
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:8])
}
