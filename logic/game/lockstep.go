package game

import (
	"github.com/byebyebruce/rollbackserver/logic/asteroid"
	"github.com/byebyebruce/rollbackserver/logic/replay"
	"github.com/byebyebruce/rollbackserver/pkg/sim"

	"github.com/go-gl/mathgl/mgl32"
)

// lockstep 已校验帧的输入日志, the validated prefix of the match in frame order
type lockstep struct {
	rec *replay.Replay
}

func newLockstep(roomID uint64, cfg asteroid.Config) *lockstep {
	return &lockstep{
		rec: replay.New(roomID, cfg),
	}
}

func (l *lockstep) reset() {
	l.rec.Frames = l.rec.Frames[:0]
	l.rec.Checkpoints = l.rec.Checkpoints[:0]
}

func (l *lockstep) getFrameCount() sim.Frame {
	return l.rec.FrameCount()
}

func (l *lockstep) addSpawn(pn sim.PlayerNumber, pos mgl32.Vec2, angle float32) {
	l.rec.AddSpawn(pn, pos, angle)
}

// pushFrame 追加一帧, idx must follow the last one
func (l *lockstep) pushFrame(idx sim.Frame, inputs [sim.MaxPlayerNmb]sim.PlayerInput) bool {
	if idx != l.getFrameCount()+1 {
		return false
	}
	return nil == l.rec.AddFrame(idx, inputs)
}

func (l *lockstep) checkpoint(idx sim.Frame, d sim.Digest) {
	l.rec.AddCheckpoint(idx, d)
}

func (l *lockstep) replay() *replay.Replay {
	return l.rec
}
