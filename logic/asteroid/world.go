package asteroid

import (
	"github.com/byebyebruce/rollbackserver/pkg/sim"

	"github.com/go-gl/mathgl/mgl32"
)

// Ship 玩家飞船
type Ship struct {
	Active   bool
	State    sim.PhysicsState
	Cooldown int32 // 距离下次可开火的帧数
}

// Bullet 子弹,不参与校验
type Bullet struct {
	Owner     sim.PlayerNumber
	Position  mgl32.Vec2
	Velocity  mgl32.Vec2
	Remaining int32
}

// Event 某帧发生的开火事件
type Event struct {
	Player   sim.PlayerNumber
	Frame    sim.Frame
	Position mgl32.Vec2
	Velocity mgl32.Vec2
}

// World 某一帧的完整游戏状态
type World struct {
	Frame   sim.Frame
	Ships   [sim.MaxPlayerNmb]Ship
	Bullets []Bullet
	Events  []Event
}

// CopyFrom deep copies o into w, reusing w's slices.
func (w *World) CopyFrom(o *World) {
	w.Frame = o.Frame
	w.Ships = o.Ships
	w.Bullets = append(w.Bullets[:0], o.Bullets...)
	w.Events = append(w.Events[:0], o.Events...)
}

// Clone 深拷贝
func (w *World) Clone() *World {
	c := &World{}
	c.CopyFrom(w)
	return c
}

// Physics 所有座位的物理状态
func (w *World) Physics() sim.Snapshot {
	var s sim.Snapshot
	for i := range w.Ships {
		s[i] = w.Ships[i].State
	}
	return s
}

// SetPhysics 用权威状态覆盖物理状态
func (w *World) SetPhysics(s *sim.Snapshot) {
	for i := range w.Ships {
		w.Ships[i].State = s[i]
	}
}

// Spawn 激活座位
func (w *World) Spawn(pn sim.PlayerNumber, pos mgl32.Vec2, angle float32) {
	if !pn.Valid() {
		return
	}
	w.Ships[pn] = Ship{
		Active: true,
		State: sim.PhysicsState{
			Position: pos,
			Rotation: angle,
		},
	}
}
