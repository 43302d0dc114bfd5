package rollback

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/byebyebruce/rollbackserver/logic/asteroid"
	"github.com/byebyebruce/rollbackserver/pkg/protocol"
	"github.com/byebyebruce/rollbackserver/pkg/sim"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
)

// Stats 统计
type Stats struct {
	CurrentFrame      sim.Frame
	ValidatedFrame    sim.Frame
	Rollbacks         uint64
	ResimulatedFrames uint64
	Desyncs           uint64
	Resyncs           uint64
}

type pendingValidate struct {
	frame    sim.Frame
	snapshot sim.Snapshot
}

// Manager 回滚管理器
//
// Manager owns the input histories and the state of every frame between the
// validated frame and the current frame. Everything but Snapshot and Stats must
// be called from one goroutine.
type Manager struct {
	simulator *asteroid.Simulator
	history   *History
	capacity  int
	local     sim.PlayerNumber

	states  []asteroid.World // states[f%capacity] is the World after frame f
	scratch asteroid.World

	currentFrame   sim.Frame
	validatedFrame sim.Frame
	simulatedFrame sim.Frame
	dirtyFrame     sim.Frame // oldest frame to resimulate, InvalidFrame when clean
	pending        []pendingValidate

	mu        sync.RWMutex
	published asteroid.World

	rollbacks         atomic.Uint64
	resimulatedFrames atomic.Uint64
	desyncs           atomic.Uint64
	resyncs           atomic.Uint64
	validated         atomic.Int32
}

// NewManager local is the seat whose inputs this side samples itself,
// InvalidPlayer on the server.
func NewManager(simulator *asteroid.Simulator, capacity int, local sim.PlayerNumber) *Manager {
	h := NewHistory(capacity)
	m := &Manager{
		simulator: simulator,
		history:   h,
		capacity:  h.Capacity(),
		local:     local,
		states:    make([]asteroid.World, h.Capacity()),
	}
	m.reset()
	return m
}

func (m *Manager) reset() {
	m.history.Reset()
	for i := range m.states {
		m.states[i] = asteroid.World{Frame: sim.InvalidFrame}
	}
	m.states[0] = asteroid.World{}
	m.currentFrame = 0
	m.setValidated(0)
	m.simulatedFrame = 0
	m.dirtyFrame = sim.InvalidFrame
	m.pending = m.pending[:0]
	m.publish(&m.states[0])
}

// History 输入历史
func (m *Manager) History() *History {
	return m.history
}

// Capacity 回滚窗口(帧)
func (m *Manager) Capacity() int {
	return m.capacity
}

// LocalPlayer 本地座位
func (m *Manager) LocalPlayer() sim.PlayerNumber {
	return m.local
}

// SetLocalPlayer 绑定本地座位
func (m *Manager) SetLocalPlayer(pn sim.PlayerNumber) {
	m.local = pn
}

// CurrentFrame 当前帧
func (m *Manager) CurrentFrame() sim.Frame {
	return m.currentFrame
}

// ValidatedFrame 最新校验帧
func (m *Manager) ValidatedFrame() sim.Frame {
	return m.validatedFrame
}

// LastReceivedFrame newest Confirmed frame of pn
func (m *Manager) LastReceivedFrame(pn sim.PlayerNumber) sim.Frame {
	return m.history.LastReceivedFrame(pn)
}

// SpawnPlayer places a ship in the validated base state.
func (m *Manager) SpawnPlayer(pn sim.PlayerNumber, pos mgl32.Vec2, angle float32) error {
	if !pn.Valid() {
		return errors.Errorf("invalid player %d", pn)
	}
	base := m.stateAt(m.validatedFrame)
	if nil == base {
		return errors.Wrapf(ErrUnrecoverableDesync, "base frame %d missing", m.validatedFrame)
	}
	base.Spawn(pn, pos, angle)
	if m.currentFrame == m.validatedFrame {
		m.publish(base)
	}
	m.markDirty(m.validatedFrame + 1)
	return nil
}

func (m *Manager) stateAt(f sim.Frame) *asteroid.World {
	if f < 0 {
		return nil
	}
	w := &m.states[int(f)%m.capacity]
	if w.Frame != f {
		return nil
	}
	return w
}

func (m *Manager) setValidated(f sim.Frame) {
	m.validatedFrame = f
	m.validated.Store(int32(f))
}

func (m *Manager) markDirty(f sim.Frame) {
	if f <= m.validatedFrame {
		f = m.validatedFrame + 1
	}
	if f > m.currentFrame {
		return
	}
	if m.dirtyFrame == sim.InvalidFrame || f < m.dirtyFrame {
		m.dirtyFrame = f
	}
}

// StartFrame advances currentFrame to frame, which must be currentFrame+1.
func (m *Manager) StartFrame(frame sim.Frame) error {
	if frame != m.currentFrame+1 {
		return errors.Errorf("start frame %d after %d", frame, m.currentFrame)
	}
	if int(frame-m.validatedFrame) >= m.capacity {
		return errors.Wrapf(ErrUnrecoverableDesync, "frame %d validated %d capacity %d", frame, m.validatedFrame, m.capacity)
	}
	m.currentFrame = frame
	m.markDirty(frame)
	return nil
}

// SetInput records input of pn at frame. When the value used by an already
// simulated frame changes, that frame and everything after it is resimulated.
func (m *Manager) SetInput(pn sim.PlayerNumber, input sim.PlayerInput, frame sim.Frame, status Status) (bool, error) {
	if !pn.Valid() {
		return false, errors.Errorf("invalid player %d", pn)
	}
	if frame <= m.validatedFrame {
		return false, errors.Wrapf(ErrStaleInput, "player %d frame %d validated %d", pn, frame, m.validatedFrame)
	}
	if int(frame-m.validatedFrame) >= m.capacity {
		return false, errors.Wrapf(ErrUnrecoverableDesync, "player %d frame %d validated %d capacity %d", pn, frame, m.validatedFrame, m.capacity)
	}

	changed, err := m.history.Record(pn, frame, input, status)
	if nil != err {
		return false, err
	}
	if changed {
		m.markDirty(frame)
	}
	return changed, nil
}

// Dirty oldest frame waiting for resimulation, InvalidFrame when clean.
func (m *Manager) Dirty() sim.Frame {
	return m.dirtyFrame
}

// Resimulate restores the state before the oldest dirty frame and steps forward
// to currentFrame, then publishes the result. It returns the number of frames
// stepped. A held ValidateFrame that became comparable is applied afterwards,
// its DesyncError is returned after the correction was resimulated.
func (m *Manager) Resimulate() (int, error) {
	var (
		n       int
		lastErr error
	)
	for {
		k, err := m.resimulate()
		n += k
		if nil != err {
			return n, err
		}
		if len(m.pending) == 0 || m.pending[0].frame > m.simulatedFrame {
			break
		}
		p := m.pending[0]
		m.pending = m.pending[1:]
		if err := m.compare(p.frame, &p.snapshot); nil != err && errors.Cause(err) != ErrStaleInput {
			lastErr = err
		}
	}
	return n, lastErr
}

func (m *Manager) resimulate() (int, error) {
	if m.dirtyFrame == sim.InvalidFrame {
		return 0, nil
	}
	from := m.dirtyFrame
	base := m.stateAt(from - 1)
	if nil == base {
		return 0, errors.Wrapf(ErrUnrecoverableDesync, "state of frame %d missing", from-1)
	}
	if from <= m.simulatedFrame {
		m.rollbacks.Add(1)
	}

	w := &m.scratch
	w.CopyFrom(base)

	var in [sim.MaxPlayerNmb]sim.PlayerInput
	for f := from; f <= m.currentFrame; f++ {
		for i := range in {
			pn := sim.PlayerNumber(i)
			st := m.history.Status(pn, f)
			if st == StatusUnknown || (st == StatusPredicted && pn != m.local) {
				m.history.Record(pn, f, m.history.Guess(pn, f), StatusPredicted)
			}
			in[i], _ = m.history.Get(pn, f)
		}
		m.simulator.Step(w, &in)
		m.states[int(f)%m.capacity].CopyFrom(w)
	}

	n := int(m.currentFrame - from + 1)
	m.simulatedFrame = m.currentFrame
	m.dirtyFrame = sim.InvalidFrame
	m.resimulatedFrames.Add(uint64(n))
	m.publish(w)
	return n, nil
}

func (m *Manager) publish(w *asteroid.World) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published.CopyFrom(w)
}

// ConfirmValidateFrame compares the authoritative snapshot of frame with the
// local one. On mismatch the snapshot replaces the local physics and every later
// frame is resimulated on the next Resimulate. Frames not simulated yet are held
// until they are.
func (m *Manager) ConfirmValidateFrame(frame sim.Frame, snapshot *sim.Snapshot) error {
	if frame <= m.validatedFrame {
		return errors.Wrapf(ErrStaleInput, "validate frame %d already at %d", frame, m.validatedFrame)
	}
	if frame > m.currentFrame {
		for _, p := range m.pending {
			if p.frame == frame {
				return nil
			}
		}
		m.pending = append(m.pending, pendingValidate{frame: frame, snapshot: *snapshot})
		sort.Slice(m.pending, func(i, j int) bool { return m.pending[i].frame < m.pending[j].frame })
		return nil
	}
	if m.dirtyFrame != sim.InvalidFrame && m.dirtyFrame <= frame {
		if _, err := m.resimulate(); nil != err {
			return err
		}
	}
	return m.compare(frame, snapshot)
}

func (m *Manager) compare(frame sim.Frame, snapshot *sim.Snapshot) error {
	if frame <= m.validatedFrame {
		return errors.Wrapf(ErrStaleInput, "validate frame %d already at %d", frame, m.validatedFrame)
	}
	local := m.stateAt(frame)
	if nil == local {
		return errors.Wrapf(ErrUnrecoverableDesync, "state of frame %d missing", frame)
	}

	physics := local.Physics()
	m.setValidated(frame)
	if physics.Equal(snapshot) {
		return nil
	}

	local.SetPhysics(snapshot)
	m.desyncs.Add(1)
	if frame == m.currentFrame {
		m.publish(local)
	} else {
		m.markDirty(frame + 1)
	}
	return &DesyncError{
		Frame:  frame,
		Local:  physics.Digest(frame),
		Remote: snapshot.Digest(frame),
	}
}

// FinalizeInputs makes every non-confirmed input of frames validatedFrame+1..upTo
// authoritative with the value the simulation used. It returns the seats whose
// inputs were forced.
func (m *Manager) FinalizeInputs(upTo sim.Frame) ([sim.MaxPlayerNmb]bool, error) {
	var forced [sim.MaxPlayerNmb]bool
	if upTo > m.currentFrame {
		return forced, errors.Errorf("finalize %d beyond current %d", upTo, m.currentFrame)
	}
	if m.dirtyFrame != sim.InvalidFrame && m.dirtyFrame <= upTo {
		if _, err := m.resimulate(); nil != err {
			return forced, err
		}
	}
	for f := m.validatedFrame + 1; f <= upTo; f++ {
		for i := range forced {
			pn := sim.PlayerNumber(i)
			if m.history.Status(pn, f) == StatusConfirmed {
				continue
			}
			in, ok := m.history.Get(pn, f)
			if !ok {
				in = m.history.Guess(pn, f)
			}
			if _, err := m.history.Record(pn, f, in, StatusConfirmed); nil != err {
				return forced, err
			}
			forced[i] = true
		}
	}
	return forced, nil
}

// Validate advances the validated frame to frame and returns its physics.
func (m *Manager) Validate(frame sim.Frame) (sim.Snapshot, error) {
	if frame <= m.validatedFrame {
		return sim.Snapshot{}, errors.Wrapf(ErrStaleInput, "validate frame %d already at %d", frame, m.validatedFrame)
	}
	if frame > m.currentFrame {
		return sim.Snapshot{}, errors.Errorf("validate %d beyond current %d", frame, m.currentFrame)
	}
	if m.dirtyFrame != sim.InvalidFrame && m.dirtyFrame <= frame {
		if _, err := m.resimulate(); nil != err {
			return sim.Snapshot{}, err
		}
	}
	w := m.stateAt(frame)
	if nil == w {
		return sim.Snapshot{}, errors.Wrapf(ErrUnrecoverableDesync, "state of frame %d missing", frame)
	}
	m.setValidated(frame)
	return w.Physics(), nil
}

// Rebase restarts from an authoritative snapshot at frame: the history is
// replaced by inputs (inputs[pn][i] belongs to frame+1+i) and every frame up to
// current is resimulated on the next Resimulate.
func (m *Manager) Rebase(frame sim.Frame, snapshot *sim.Snapshot, current sim.Frame, inputs *[sim.MaxPlayerNmb][]protocol.ResyncInput) error {
	if frame < 0 || current < frame {
		return errors.Errorf("rebase frame %d current %d", frame, current)
	}
	if int(current-frame) >= m.capacity {
		return errors.Wrapf(ErrUnrecoverableDesync, "rebase frame %d current %d capacity %d", frame, current, m.capacity)
	}

	base := asteroid.World{Frame: frame}
	if old := m.stateAt(m.simulatedFrame); nil != old {
		for i := range base.Ships {
			base.Ships[i].Active = old.Ships[i].Active
		}
	}
	base.SetPhysics(snapshot)

	m.history.Reset()
	for i := range m.states {
		m.states[i] = asteroid.World{Frame: sim.InvalidFrame}
	}
	m.states[int(frame)%m.capacity] = base
	m.pending = m.pending[:0]
	m.currentFrame = current
	m.setValidated(frame)
	m.simulatedFrame = frame
	m.dirtyFrame = sim.InvalidFrame

	if nil != inputs {
		for i := range inputs {
			pn := sim.PlayerNumber(i)
			for k, in := range inputs[i] {
				f := frame + 1 + sim.Frame(k)
				if int(f-frame) >= m.capacity {
					break
				}
				st := StatusPredicted
				if in.Confirmed {
					st = StatusConfirmed
				}
				if _, err := m.history.Record(pn, f, in.Input, st); nil != err {
					return err
				}
			}
		}
	}

	m.resyncs.Add(1)
	m.markDirty(frame + 1)
	if m.dirtyFrame == sim.InvalidFrame {
		m.publish(&m.states[int(frame)%m.capacity])
	}
	return nil
}

// ResyncInputs every seat's inputs of frames from..to with their confirmation flag.
func (m *Manager) ResyncInputs(from, to sim.Frame) [sim.MaxPlayerNmb][]protocol.ResyncInput {
	var out [sim.MaxPlayerNmb][]protocol.ResyncInput
	for i := range out {
		pn := sim.PlayerNumber(i)
		for f := from; f <= to; f++ {
			in, ok := m.history.Get(pn, f)
			if !ok {
				in = m.history.Guess(pn, f)
			}
			out[i] = append(out[i], protocol.ResyncInput{
				Input:     in,
				Confirmed: m.history.Status(pn, f) == StatusConfirmed,
			})
		}
	}
	return out
}

// StateAt physics of a frame still in the window
func (m *Manager) StateAt(frame sim.Frame) (sim.Snapshot, bool) {
	w := m.stateAt(frame)
	if nil == w {
		return sim.Snapshot{}, false
	}
	return w.Physics(), true
}

// EventsAt events produced while stepping into frame.
func (m *Manager) EventsAt(frame sim.Frame) []asteroid.Event {
	w := m.stateAt(frame)
	if nil == w || len(w.Events) == 0 {
		return nil
	}
	return append([]asteroid.Event(nil), w.Events...)
}

// FrameInputs the inputs used to simulate frame.
func (m *Manager) FrameInputs(frame sim.Frame) [sim.MaxPlayerNmb]sim.PlayerInput {
	var in [sim.MaxPlayerNmb]sim.PlayerInput
	for i := range in {
		in[i], _ = m.history.Get(sim.PlayerNumber(i), frame)
	}
	return in
}

// Snapshot a copy of the latest published World, never a half rolled back one.
func (m *Manager) Snapshot() *asteroid.World {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.published.Clone()
}

// Stats 统计, safe from any goroutine
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	frame := m.published.Frame
	m.mu.RUnlock()
	return Stats{
		CurrentFrame:      frame,
		ValidatedFrame:    sim.Frame(m.validated.Load()),
		Rollbacks:         m.rollbacks.Load(),
		ResimulatedFrames: m.resimulatedFrames.Load(),
		Desyncs:           m.desyncs.Load(),
		Resyncs:           m.resyncs.Load(),
	}
}
