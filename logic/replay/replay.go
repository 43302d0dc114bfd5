package replay

import (
	"bufio"
	"bytes"
	"io"
	"os"

	"github.com/byebyebruce/rollbackserver/logic/asteroid"
	"github.com/byebyebruce/rollbackserver/pkg/sim"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Version 文件格式版本
const Version = 1

var magic = []byte("RBRP")

var (
	// ErrBadFile not a replay file or an unknown version
	ErrBadFile = errors.New("bad replay file")
	// ErrDigestMismatch re-simulated physics differ from a recorded checkpoint
	ErrDigestMismatch = errors.New("replay digest mismatch")
)

// Spawn 出生点
type Spawn struct {
	Player uint8   `msgpack:"p"`
	X      float32 `msgpack:"x"`
	Y      float32 `msgpack:"y"`
	Angle  float32 `msgpack:"a"`
}

// Frame 一帧所有座位的输入
type Frame struct {
	Frame  int32  `msgpack:"f"`
	Inputs []byte `msgpack:"i"`
}

// Checkpoint digest of the validated physics at Frame
type Checkpoint struct {
	Frame  int32  `msgpack:"f"`
	Digest []byte `msgpack:"d"`
}

// Replay 一局的录像
type Replay struct {
	Version     int             `msgpack:"version"`
	RoomID      uint64          `msgpack:"room"`
	Game        asteroid.Config `msgpack:"game"`
	Spawns      []Spawn         `msgpack:"spawns"`
	Frames      []Frame         `msgpack:"frames"`
	Checkpoints []Checkpoint    `msgpack:"checkpoints"`
}

// New 空录像
func New(roomID uint64, cfg asteroid.Config) *Replay {
	return &Replay{
		Version: Version,
		RoomID:  roomID,
		Game:    cfg,
	}
}

// AddSpawn records a ship placed at frame 0.
func (r *Replay) AddSpawn(pn sim.PlayerNumber, pos mgl32.Vec2, angle float32) {
	r.Spawns = append(r.Spawns, Spawn{Player: uint8(pn), X: pos.X(), Y: pos.Y(), Angle: angle})
}

// AddFrame appends the inputs of the next frame, frames must be contiguous from 1.
func (r *Replay) AddFrame(f sim.Frame, inputs [sim.MaxPlayerNmb]sim.PlayerInput) error {
	if want := sim.Frame(len(r.Frames) + 1); f != want {
		return errors.Errorf("replay frame %d, want %d", f, want)
	}
	b := make([]byte, sim.MaxPlayerNmb)
	for i, in := range inputs {
		b[i] = byte(in)
	}
	r.Frames = append(r.Frames, Frame{Frame: int32(f), Inputs: b})
	return nil
}

// AddCheckpoint 记录校验点
func (r *Replay) AddCheckpoint(f sim.Frame, d sim.Digest) {
	r.Checkpoints = append(r.Checkpoints, Checkpoint{Frame: int32(f), Digest: append([]byte(nil), d[:]...)})
}

// FrameCount 已记录帧数
func (r *Replay) FrameCount() sim.Frame {
	return sim.Frame(len(r.Frames))
}

// Write 写入, magic then an lz4 frame holding the msgpack body
func Write(w io.Writer, r *Replay) error {
	if _, err := w.Write(magic); nil != err {
		return err
	}
	zw := lz4.NewWriter(w)
	if err := msgpack.NewEncoder(zw).Encode(r); nil != err {
		return errors.Wrap(err, "encode replay")
	}
	return zw.Close()
}

// Read 读取
func Read(rd io.Reader) (*Replay, error) {
	head := make([]byte, len(magic))
	if _, err := io.ReadFull(rd, head); nil != err {
		return nil, errors.Wrap(ErrBadFile, err.Error())
	}
	if !bytes.Equal(head, magic) {
		return nil, errors.Wrapf(ErrBadFile, "magic %q", head)
	}

	r := &Replay{}
	if err := msgpack.NewDecoder(lz4.NewReader(rd)).Decode(r); nil != err {
		return nil, errors.Wrap(ErrBadFile, err.Error())
	}
	if r.Version != Version {
		return nil, errors.Wrapf(ErrBadFile, "version %d", r.Version)
	}
	return r, nil
}

// Save 保存到文件
func Save(file string, r *Replay) error {
	f, err := os.Create(file)
	if nil != err {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := Write(w, r); nil != err {
		return err
	}
	return w.Flush()
}

// Load 从文件加载
func Load(file string) (*Replay, error) {
	f, err := os.Open(file)
	if nil != err {
		return nil, err
	}
	defer f.Close()
	return Read(bufio.NewReader(f))
}

// Verify re-simulates the recorded inputs from the spawns and compares every
// checkpoint. It returns the number of checkpoints that matched.
func Verify(r *Replay) (int, error) {
	simulator := asteroid.NewSimulator(r.Game)
	w := &asteroid.World{}
	for _, s := range r.Spawns {
		pn := sim.PlayerNumber(s.Player)
		if !pn.Valid() {
			return 0, errors.Wrapf(ErrBadFile, "spawn player %d", s.Player)
		}
		w.Spawn(pn, mgl32.Vec2{s.X, s.Y}, s.Angle)
	}

	matched := 0
	next := 0
	var in [sim.MaxPlayerNmb]sim.PlayerInput
	for _, f := range r.Frames {
		if sim.Frame(f.Frame) != w.Frame+1 || len(f.Inputs) != sim.MaxPlayerNmb {
			return matched, errors.Wrapf(ErrBadFile, "frame %d after %d", f.Frame, w.Frame)
		}
		for i := range in {
			in[i] = sim.PlayerInput(f.Inputs[i])
		}
		simulator.Step(w, &in)

		for next < len(r.Checkpoints) && sim.Frame(r.Checkpoints[next].Frame) <= w.Frame {
			cp := r.Checkpoints[next]
			next++
			if sim.Frame(cp.Frame) != w.Frame {
				return matched, errors.Wrapf(ErrBadFile, "checkpoint %d not on a recorded frame", cp.Frame)
			}
			physics := w.Physics()
			d := physics.Digest(w.Frame)
			if !bytes.Equal(d[:], cp.Digest) {
				return matched, errors.Wrapf(ErrDigestMismatch, "frame %d local %s", cp.Frame, d)
			}
			matched++
		}
	}
	if next < len(r.Checkpoints) {
		return matched, errors.Wrapf(ErrBadFile, "checkpoint %d beyond last frame %d", r.Checkpoints[next].Frame, w.Frame)
	}
	return matched, nil
}
