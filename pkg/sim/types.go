package sim

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// Frame simulation tick index, frame 0 is the spawn state at game start
type Frame int32

// InvalidFrame marks "no frame yet"
const InvalidFrame Frame = -1

// PlayerNumber game seat
type PlayerNumber uint8

const (
	// InvalidPlayer seat before the server assigns one
	InvalidPlayer PlayerNumber = 255
	// MaxPlayerNmb seats per match
	MaxPlayerNmb = 4
)

// Valid reports whether p addresses a seat.
func (p PlayerNumber) Valid() bool {
	return p < MaxPlayerNmb
}

// ClientID random id chosen by the client at connect time
type ClientID [16]byte

// NewClientID returns a fresh random id.
func NewClientID() ClientID {
	return ClientID(uuid.New())
}

func (id ClientID) String() string {
	return uuid.UUID(id).String()
}

// Short first eight hex digits, used in log prefixes.
func (id ClientID) Short() string {
	return id.String()[:8]
}

// PlayerInput bit set sampled once per frame
type PlayerInput uint8

const (
	InputNone  PlayerInput = 0
	InputUp    PlayerInput = 1 << 0
	InputDown  PlayerInput = 1 << 1
	InputLeft  PlayerInput = 1 << 2
	InputRight PlayerInput = 1 << 3
	InputShoot PlayerInput = 1 << 4

	// InputMask every bit a client may set
	InputMask = InputUp | InputDown | InputLeft | InputRight | InputShoot
)

// Has reports whether every bit of flag is set.
func (i PlayerInput) Has(flag PlayerInput) bool {
	return i&flag == flag
}

// PhysicsState the simulation relevant part of one ship
type PhysicsState struct {
	Position        mgl32.Vec2
	Velocity        mgl32.Vec2
	Rotation        float32 // degrees
	AngularVelocity float32 // degrees per second
}

// PhysicsStateSize wire size of one PhysicsState
const PhysicsStateSize = 6 * 4

// AppendBinary appends the little-endian IEEE-754 bit patterns of every field.
func (s PhysicsState) AppendBinary(b []byte) []byte {
	for _, v := range [...]float32{
		s.Position[0], s.Position[1],
		s.Velocity[0], s.Velocity[1],
		s.Rotation, s.AngularVelocity,
	} {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
	}
	return b
}

// Equal compares bit patterns, so NaN == NaN and 0 != -0.
func (s PhysicsState) Equal(o PhysicsState) bool {
	return bitsEqual(s.Position[0], o.Position[0]) &&
		bitsEqual(s.Position[1], o.Position[1]) &&
		bitsEqual(s.Velocity[0], o.Velocity[0]) &&
		bitsEqual(s.Velocity[1], o.Velocity[1]) &&
		bitsEqual(s.Rotation, o.Rotation) &&
		bitsEqual(s.AngularVelocity, o.AngularVelocity)
}

func bitsEqual(a, b float32) bool {
	return math.Float32bits(a) == math.Float32bits(b)
}

// Snapshot physics of every seat at one frame
type Snapshot [MaxPlayerNmb]PhysicsState

// Equal bitwise comparison of every seat.
func (s *Snapshot) Equal(o *Snapshot) bool {
	for i := range s {
		if !s[i].Equal(o[i]) {
			return false
		}
	}
	return true
}
