package asteroid

import (
	"github.com/byebyebruce/rollbackserver/pkg/sim"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	shipAcceleration  = 240.0 // units/s²
	shipMaxSpeed      = 320.0 // units/s
	shipRotationSpeed = 180.0 // degrees/s
	shipRadius        = 16.0

	bulletSpeed = 480.0 // units/s
)

// Config 游戏参数
type Config struct {
	Width      float32
	Height     float32
	TickRate   int
	FirePeriod int32 // 开火间隔(帧)
	BulletLife int32 // 子弹存活(帧)
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		Width:      1280,
		Height:     720,
		TickRate:   50,
		FirePeriod: 10,
		BulletLife: 100,
	}
}

// Simulator 确定性步进函数
//
// Step is a pure function of the previous World and the inputs of the next frame:
// no wall clock, no randomness. Every float32 product is rounded explicitly so
// the compiler cannot fuse multiply-adds, which keeps results bit-identical
// across architectures.
type Simulator struct {
	cfg Config
	dt  float32
}

// NewSimulator 创建
func NewSimulator(cfg Config) *Simulator {
	if cfg.TickRate <= 0 {
		cfg.TickRate = DefaultConfig().TickRate
	}
	return &Simulator{
		cfg: cfg,
		dt:  1.0 / float32(cfg.TickRate),
	}
}

// Config 参数
func (s *Simulator) Config() Config {
	return s.cfg
}

// SpawnPosition seat pn starts in its own quadrant facing the centre.
func SpawnPosition(pn sim.PlayerNumber, cfg Config) (mgl32.Vec2, float32) {
	x, y := cfg.Width/4, cfg.Height/4
	switch pn % sim.MaxPlayerNmb {
	case 0:
		return mgl32.Vec2{-x, -y}, 315
	case 1:
		return mgl32.Vec2{x, -y}, 45
	case 2:
		return mgl32.Vec2{x, y}, 135
	default:
		return mgl32.Vec2{-x, y}, 225
	}
}

// Step advances w by one frame using inputs of frame w.Frame+1.
func (s *Simulator) Step(w *World, inputs *[sim.MaxPlayerNmb]sim.PlayerInput) {
	w.Frame++
	w.Events = w.Events[:0]

	s.stepBullets(w)

	for i := range w.Ships {
		ship := &w.Ships[i]
		if !ship.Active {
			continue
		}
		s.stepShip(w, sim.PlayerNumber(i), ship, inputs[i])
	}
}

func (s *Simulator) stepBullets(w *World) {
	n := 0
	for _, b := range w.Bullets {
		b.Remaining--
		if b.Remaining <= 0 {
			continue
		}
		b.Position = s.wrap(madd(b.Position, b.Velocity, s.dt))
		w.Bullets[n] = b
		n++
	}
	w.Bullets = w.Bullets[:n]
}

func (s *Simulator) stepShip(w *World, pn sim.PlayerNumber, ship *Ship, input sim.PlayerInput) {
	st := &ship.State

	switch {
	case input.Has(sim.InputLeft) && !input.Has(sim.InputRight):
		st.AngularVelocity = shipRotationSpeed
	case input.Has(sim.InputRight) && !input.Has(sim.InputLeft):
		st.AngularVelocity = -shipRotationSpeed
	default:
		st.AngularVelocity = 0
	}
	st.Rotation = normalizeDegrees(st.Rotation + float32(st.AngularVelocity*s.dt))

	dir := direction(st.Rotation)
	if input.Has(sim.InputUp) {
		st.Velocity = madd(st.Velocity, dir, float32(shipAcceleration*s.dt))
	}
	if input.Has(sim.InputDown) {
		st.Velocity = madd(st.Velocity, dir, -float32(shipAcceleration*s.dt))
	}
	if l := st.Velocity.Len(); l > shipMaxSpeed {
		st.Velocity = st.Velocity.Mul(float32(shipMaxSpeed / l))
	}
	st.Position = s.wrap(madd(st.Position, st.Velocity, s.dt))

	if ship.Cooldown > 0 {
		ship.Cooldown--
	}
	if input.Has(sim.InputShoot) && ship.Cooldown == 0 {
		ship.Cooldown = s.cfg.FirePeriod
		pos := madd(st.Position, dir, shipRadius)
		vel := madd(st.Velocity, dir, bulletSpeed)
		w.Bullets = append(w.Bullets, Bullet{
			Owner:     pn,
			Position:  pos,
			Velocity:  vel,
			Remaining: s.cfg.BulletLife,
		})
		w.Events = append(w.Events, Event{
			Player:   pn,
			Frame:    w.Frame,
			Position: pos,
			Velocity: vel,
		})
	}
}

// wrap keeps p inside the arena centred on the origin.
func (s *Simulator) wrap(p mgl32.Vec2) mgl32.Vec2 {
	hw, hh := s.cfg.Width/2, s.cfg.Height/2
	if p[0] < -hw {
		p[0] += s.cfg.Width
	} else if p[0] > hw {
		p[0] -= s.cfg.Width
	}
	if p[1] < -hh {
		p[1] += s.cfg.Height
	} else if p[1] > hh {
		p[1] -= s.cfg.Height
	}
	return p
}

// madd a + b*k with the product rounded to float32 before the add.
func madd(a, b mgl32.Vec2, k float32) mgl32.Vec2 {
	return mgl32.Vec2{
		a[0] + float32(b[0]*k),
		a[1] + float32(b[1]*k),
	}
}

// direction unit vector of a rotation, 0 degrees points up.
func direction(deg float32) mgl32.Vec2 {
	return mgl32.Rotate2D(mgl32.DegToRad(deg)).Mul2x1(mgl32.Vec2{0, 1})
}

func normalizeDegrees(d float32) float32 {
	for d >= 360 {
		d -= 360
	}
	for d < 0 {
		d += 360
	}
	return d
}
