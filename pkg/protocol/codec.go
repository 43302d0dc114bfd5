package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/byebyebruce/rollbackserver/pkg/sim"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

/*

|--type(uint8)--|--------------fields (little-endian, no padding)--------------|
|-------1-------|-----------------fixed layout per type-------------------------|

*/

// ErrMalformedPacket unknown type, short payload or invalid field
var ErrMalformedPacket = errors.New("malformed packet")

const (
	snapshotSize = sim.MaxPlayerNmb * sim.PhysicsStateSize

	maxResyncFrames = math.MaxUint16
	resyncConfirmed = 0x80
)

// Encode serializes p, the first byte is its Type.
func Encode(p Packet) ([]byte, error) {
	w := &writer{}
	w.u8(uint8(p.Type()))

	switch v := p.(type) {
	case *Join:
		w.bytes(v.ClientID[:])
	case *SpawnPlayer:
		w.bytes(v.ClientID[:])
		w.u8(uint8(v.PlayerNumber))
		w.vec2(v.Pos)
		w.f32(v.Angle)
	case *StartGame:
		w.u64(uint64(v.StartTime))
	case *Input:
		if len(v.Inputs) == 0 || len(v.Inputs) > MaxInputsPerPacket {
			return nil, errors.Errorf("input packet with %d inputs", len(v.Inputs))
		}
		w.u8(uint8(v.PlayerNumber))
		w.frame(v.Frame)
		w.u8(uint8(len(v.Inputs)))
		for _, in := range v.Inputs {
			w.u8(uint8(in))
		}
	case *ValidateFrame:
		w.frame(v.Frame)
		w.snapshot(&v.States)
	case *SpawnBullet:
		w.u8(uint8(v.PlayerNumber))
		w.frame(v.Frame)
		w.vec2(v.Pos)
		w.vec2(v.Velocity)
	case *ResyncRequest:
		w.u8(uint8(v.PlayerNumber))
		w.frame(v.Frame)
	case *Resync:
		block, count, err := compressResyncInputs(v)
		if err != nil {
			return nil, err
		}
		w.frame(v.Frame)
		w.snapshot(&v.States)
		w.frame(v.CurrentFrame)
		w.u16(uint16(count))
		w.u16(uint16(len(block)))
		w.bytes(block)
	default:
		return nil, errors.Errorf("unknown packet type %d", p.Type())
	}

	return w.buf, nil
}

// Decode parses b, failing with ErrMalformedPacket instead of reading out of bounds.
func Decode(b []byte) (Packet, error) {
	if len(b) == 0 {
		return nil, errors.Wrap(ErrMalformedPacket, "empty payload")
	}
	t := Type(b[0])
	r := &reader{buf: b, off: 1}

	var p Packet
	switch t {
	case TypeJoin:
		v := &Join{}
		r.read(v.ClientID[:])
		p = v
	case TypeSpawnPlayer:
		v := &SpawnPlayer{}
		r.read(v.ClientID[:])
		v.PlayerNumber = r.player()
		v.Pos = r.vec2()
		v.Angle = r.f32()
		p = v
	case TypeStartGame:
		p = &StartGame{StartTime: int64(r.u64())}
	case TypeInput:
		v := &Input{}
		v.PlayerNumber = r.player()
		v.Frame = r.frame()
		n := int(r.u8())
		if n == 0 {
			r.fail("input packet without inputs")
		}
		if r.need(n) {
			v.Inputs = make([]sim.PlayerInput, n)
			for i := range v.Inputs {
				v.Inputs[i] = r.input()
			}
		}
		p = v
	case TypeValidateFrame:
		v := &ValidateFrame{}
		v.Frame = r.frame()
		r.snapshot(&v.States)
		p = v
	case TypeSpawnBullet:
		v := &SpawnBullet{}
		v.PlayerNumber = r.player()
		v.Frame = r.frame()
		v.Pos = r.vec2()
		v.Velocity = r.vec2()
		p = v
	case TypeResyncRequest:
		v := &ResyncRequest{}
		v.PlayerNumber = r.player()
		v.Frame = r.frame()
		p = v
	case TypeResync:
		v := &Resync{}
		v.Frame = r.frame()
		r.snapshot(&v.States)
		v.CurrentFrame = r.frame()
		count := int(r.u16())
		blockLen := int(r.u16())
		var block []byte
		if r.need(blockLen) {
			block = r.buf[r.off : r.off+blockLen]
			r.off += blockLen
		}
		if r.err == nil {
			if v.CurrentFrame < v.Frame || int(v.CurrentFrame-v.Frame) != count {
				r.fail("resync frame range does not match input count")
			} else if err := decompressResyncInputs(v, block, count); err != nil {
				r.err = err
			}
		}
		p = v
	default:
		return nil, errors.Wrapf(ErrMalformedPacket, "unknown type %d", t)
	}

	if r.err != nil {
		return nil, errors.Wrapf(r.err, "decode %s", t)
	}
	if r.off != len(b) {
		return nil, errors.Wrapf(ErrMalformedPacket, "decode %s: %d trailing bytes", t, len(b)-r.off)
	}
	return p, nil
}

func compressResyncInputs(v *Resync) ([]byte, int, error) {
	count := int(v.CurrentFrame - v.Frame)
	if count < 0 || count > maxResyncFrames {
		return nil, 0, errors.Errorf("resync range %d..%d", v.Frame, v.CurrentFrame)
	}
	raw := make([]byte, 0, count*sim.MaxPlayerNmb)
	for p := range v.Inputs {
		if len(v.Inputs[p]) != count {
			return nil, 0, errors.Errorf("resync player %d has %d inputs, want %d", p, len(v.Inputs[p]), count)
		}
		for _, in := range v.Inputs[p] {
			b := uint8(in.Input)
			if in.Confirmed {
				b |= resyncConfirmed
			}
			raw = append(raw, b)
		}
	}

	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, 0, errors.Wrap(err, "lz4 write")
	}
	if err := zw.Close(); err != nil {
		return nil, 0, errors.Wrap(err, "lz4 close")
	}
	if buf.Len() > math.MaxUint16 {
		return nil, 0, errors.Errorf("resync block too large: %d", buf.Len())
	}
	return buf.Bytes(), count, nil
}

func decompressResyncInputs(v *Resync, block []byte, count int) error {
	want := count * sim.MaxPlayerNmb
	zr := lz4.NewReader(bytes.NewReader(block))
	raw, err := io.ReadAll(io.LimitReader(zr, int64(want)+1))
	if err != nil {
		return errors.Wrapf(ErrMalformedPacket, "resync block: %v", err)
	}
	if len(raw) != want {
		return errors.Wrapf(ErrMalformedPacket, "resync block has %d bytes, want %d", len(raw), want)
	}
	for p := range v.Inputs {
		v.Inputs[p] = make([]ResyncInput, count)
		for i := range v.Inputs[p] {
			b := raw[p*count+i]
			in := sim.PlayerInput(b &^ resyncConfirmed)
			if in&^sim.InputMask != 0 {
				return errors.Wrapf(ErrMalformedPacket, "resync input bits %#x", b)
			}
			v.Inputs[p][i] = ResyncInput{Input: in, Confirmed: b&resyncConfirmed != 0}
		}
	}
	return nil
}

type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8) { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *writer) u64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *writer) f32(v float32) { w.u32(math.Float32bits(v)) }
func (w *writer) frame(f sim.Frame) { w.u32(uint32(f)) }
func (w *writer) bytes(b []byte) { w.buf = append(w.buf, b...) }

func (w *writer) vec2(v mgl32.Vec2) {
	w.f32(v[0])
	w.f32(v[1])
}

func (w *writer) snapshot(s *sim.Snapshot) {
	for _, p := range s {
		w.buf = p.AppendBinary(w.buf)
	}
}

// reader remembers the first error, later reads return zero values
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) fail(msg string) {
	if r.err == nil {
		r.err = errors.Wrap(ErrMalformedPacket, msg)
	}
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || len(r.buf)-r.off < n {
		r.err = errors.Wrapf(ErrMalformedPacket, "need %d bytes at offset %d, have %d", n, r.off, len(r.buf)-r.off)
		return false
	}
	return true
}

func (r *reader) read(dst []byte) {
	if !r.need(len(dst)) {
		return
	}
	copy(dst, r.buf[r.off:])
	r.off += len(dst)
}

func (r *reader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) f32() float32 {
	return math.Float32frombits(r.u32())
}

func (r *reader) frame() sim.Frame {
	f := sim.Frame(int32(r.u32()))
	if f < 0 {
		r.fail("negative frame")
	}
	return f
}

func (r *reader) player() sim.PlayerNumber {
	p := sim.PlayerNumber(r.u8())
	if r.err == nil && !p.Valid() {
		r.fail("player number out of range")
	}
	return p
}

func (r *reader) input() sim.PlayerInput {
	in := sim.PlayerInput(r.u8())
	if in&^sim.InputMask != 0 {
		r.fail("unknown input bits")
	}
	return in
}

func (r *reader) vec2() mgl32.Vec2 {
	return mgl32.Vec2{r.f32(), r.f32()}
}

func (r *reader) snapshot(s *sim.Snapshot) {
	if !r.need(snapshotSize) {
		return
	}
	for i := range s {
		s[i].Position = r.vec2()
		s[i].Velocity = r.vec2()
		s[i].Rotation = r.f32()
		s[i].AngularVelocity = r.f32()
	}
}
