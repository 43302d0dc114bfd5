package protocol

import (
	"github.com/byebyebruce/rollbackserver/pkg/sim"

	"github.com/go-gl/mathgl/mgl32"
)

// Type leading discriminator byte of every packet
type Type uint8

const (
	TypeJoin Type = iota + 1
	TypeSpawnPlayer
	TypeStartGame
	TypeInput
	TypeValidateFrame
	TypeSpawnBullet
	TypeResyncRequest
	TypeResync

	// TypeHeartbeat is framed by pb_packet with a protobuf Timestamp body, the codec never sees it
	TypeHeartbeat Type = 0xF0
)

var typeNames = map[Type]string{
	TypeJoin:          "Join",
	TypeSpawnPlayer:   "SpawnPlayer",
	TypeStartGame:     "StartGame",
	TypeInput:         "Input",
	TypeValidateFrame: "ValidateFrame",
	TypeSpawnBullet:   "SpawnBullet",
	TypeResyncRequest: "ResyncRequest",
	TypeResync:        "Resync",
	TypeHeartbeat:     "Heartbeat",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "Unknown"
}

// MaxInputsPerPacket an Input packet carries at most this many frames
const MaxInputsPerPacket = 255

// Packet one decoded message
type Packet interface {
	Type() Type
}

// Join client asks for a seat
type Join struct {
	ClientID sim.ClientID
}

// SpawnPlayer server binds a client to a seat and places its ship
type SpawnPlayer struct {
	ClientID     sim.ClientID
	PlayerNumber sim.PlayerNumber
	Pos          mgl32.Vec2
	Angle        float32
}

// StartGame frame 0 happens at StartTime (unix milliseconds)
type StartGame struct {
	StartTime int64
}

// Input inputs of one seat, Inputs[i] belongs to Frame-i
type Input struct {
	PlayerNumber sim.PlayerNumber
	Frame        sim.Frame
	Inputs       []sim.PlayerInput
}

// FrameOf frame of Inputs[i].
func (p *Input) FrameOf(i int) sim.Frame {
	return p.Frame - sim.Frame(i)
}

// ValidateFrame authoritative physics of every seat at Frame
type ValidateFrame struct {
	Frame  sim.Frame
	States sim.Snapshot
}

// SpawnBullet a shot fired in a validated frame
type SpawnBullet struct {
	PlayerNumber sim.PlayerNumber
	Frame        sim.Frame
	Pos          mgl32.Vec2
	Velocity     mgl32.Vec2
}

// ResyncRequest client fell out of its rollback window and needs a new base
type ResyncRequest struct {
	PlayerNumber sim.PlayerNumber
	Frame        sim.Frame
}

// ResyncInput one input of a Resync block
type ResyncInput struct {
	Input     sim.PlayerInput
	Confirmed bool
}

// Resync new base state at Frame plus every seat's inputs for Frame+1..CurrentFrame
type Resync struct {
	Frame        sim.Frame
	States       sim.Snapshot
	CurrentFrame sim.Frame
	Inputs       [sim.MaxPlayerNmb][]ResyncInput
}

func (*Join) Type() Type { return TypeJoin }
func (*SpawnPlayer) Type() Type { return TypeSpawnPlayer }
func (*StartGame) Type() Type { return TypeStartGame }
func (*Input) Type() Type { return TypeInput }
func (*ValidateFrame) Type() Type { return TypeValidateFrame }
func (*SpawnBullet) Type() Type { return TypeSpawnBullet }
func (*ResyncRequest) Type() Type { return TypeResyncRequest }
func (*Resync) Type() Type { return TypeResync }
