package replay

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/byebyebruce/rollbackserver/logic/asteroid"
	"github.com/byebyebruce/rollbackserver/pkg/sim"

	"github.com/pkg/errors"
)

// record plays n frames with a fixed input pattern and checkpoints every 10 frames.
func record(t *testing.T, n sim.Frame) *Replay {
	cfg := asteroid.DefaultConfig()
	r := New(7, cfg)
	simulator := asteroid.NewSimulator(cfg)
	w := &asteroid.World{}
	for pn := sim.PlayerNumber(0); pn < 2; pn++ {
		pos, angle := asteroid.SpawnPosition(pn, cfg)
		w.Spawn(pn, pos, angle)
		r.AddSpawn(pn, pos, angle)
	}

	for f := sim.Frame(1); f <= n; f++ {
		in := [sim.MaxPlayerNmb]sim.PlayerInput{sim.InputUp | sim.InputLeft, sim.InputShoot}
		if f%7 == 0 {
			in[1] = sim.InputRight | sim.InputUp
		}
		simulator.Step(w, &in)
		if err := r.AddFrame(f, in); nil != err {
			t.Fatal(err)
		}
		if f%10 == 0 {
			physics := w.Physics()
			r.AddCheckpoint(f, physics.Digest(f))
		}
	}
	return r
}

func Test_WriteReadVerify(t *testing.T) {
	r := record(t, 100)

	buf := &bytes.Buffer{}
	if err := Write(buf, r); nil != err {
		t.Fatal(err)
	}
	got, err := Read(buf)
	if nil != err {
		t.Fatal(err)
	}
	if got.RoomID != 7 || got.FrameCount() != 100 || len(got.Checkpoints) != 10 || len(got.Spawns) != 2 {
		t.Fatalf("got room %d frames %d checkpoints %d", got.RoomID, got.FrameCount(), len(got.Checkpoints))
	}
	if got.Game != r.Game {
		t.Errorf("game config %+v", got.Game)
	}

	n, err := Verify(got)
	if nil != err || n != 10 {
		t.Errorf("verify %d %v", n, err)
	}
}

func Test_VerifyDetectsTampering(t *testing.T) {
	r := record(t, 50)
	r.Frames[24].Inputs[0] = byte(sim.InputDown)

	n, err := Verify(r)
	if errors.Cause(err) != ErrDigestMismatch {
		t.Fatalf("err %v", err)
	}
	if n != 2 {
		t.Errorf("matched %d checkpoints before the tampered frame", n)
	}
}

func Test_AddFrameContiguous(t *testing.T) {
	r := New(1, asteroid.DefaultConfig())
	if err := r.AddFrame(2, [sim.MaxPlayerNmb]sim.PlayerInput{}); nil == err {
		t.Error("gap accepted")
	}
	if err := r.AddFrame(1, [sim.MaxPlayerNmb]sim.PlayerInput{}); nil != err {
		t.Error(err)
	}
}

func Test_ReadBadFile(t *testing.T) {
	if _, err := Read(bytes.NewReader([]byte("nope, not a replay"))); errors.Cause(err) != ErrBadFile {
		t.Errorf("err %v", err)
	}
}

func Test_SaveLoad(t *testing.T) {
	r := record(t, 20)
	file := filepath.Join(t.TempDir(), "room_7.replay")
	if err := Save(file, r); nil != err {
		t.Fatal(err)
	}
	got, err := Load(file)
	if nil != err {
		t.Fatal(err)
	}
	if n, err := Verify(got); nil != err || n != 2 {
		t.Errorf("verify %d %v", n, err)
	}
}
