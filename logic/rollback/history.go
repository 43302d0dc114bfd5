package rollback

import (
	"github.com/byebyebruce/rollbackserver/pkg/sim"

	"github.com/pkg/errors"
)

// Status of one (frame, player) input
type Status uint8

const (
	// StatusUnknown nothing recorded
	StatusUnknown Status = iota
	// StatusPredicted local sample or a guess for a remote seat
	StatusPredicted
	// StatusConfirmed authoritative, terminal
	StatusConfirmed
)

func (s Status) String() string {
	switch s {
	case StatusPredicted:
		return "Predicted"
	case StatusConfirmed:
		return "Confirmed"
	}
	return "Unknown"
}

type slot struct {
	frame  sim.Frame
	input  sim.PlayerInput
	status Status
}

// History 每个座位一个定长环形输入缓冲
//
// Slot frame%capacity holds the input of frame only when its stored frame
// matches, so evicted and unrecorded frames both read as absent.
type History struct {
	capacity     int
	slots        [sim.MaxPlayerNmb][]slot
	newest       [sim.MaxPlayerNmb]sim.Frame
	lastReceived [sim.MaxPlayerNmb]sim.Frame
}

// NewHistory 创建
func NewHistory(capacity int) *History {
	if capacity < 2 {
		capacity = 2
	}
	h := &History{capacity: capacity}
	for i := range h.slots {
		h.slots[i] = make([]slot, capacity)
	}
	h.Reset()
	return h
}

// Capacity frames retained per seat
func (h *History) Capacity() int {
	return h.capacity
}

// Reset forgets everything.
func (h *History) Reset() {
	for i := range h.slots {
		for j := range h.slots[i] {
			h.slots[i][j] = slot{frame: sim.InvalidFrame}
		}
		h.newest[i] = sim.InvalidFrame
		h.lastReceived[i] = sim.InvalidFrame
	}
}

// Oldest oldest frame of pn still retained.
func (h *History) Oldest(pn sim.PlayerNumber) sim.Frame {
	if !pn.Valid() || h.newest[pn] == sim.InvalidFrame {
		return 0
	}
	if o := h.newest[pn] - sim.Frame(h.capacity) + 1; o > 0 {
		return o
	}
	return 0
}

func (h *History) slot(pn sim.PlayerNumber, frame sim.Frame) *slot {
	return &h.slots[pn][int(frame)%h.capacity]
}

// Record stores input for frame. changed reports whether the value in effect
// for frame differs afterwards. A Confirmed slot never changes.
func (h *History) Record(pn sim.PlayerNumber, frame sim.Frame, input sim.PlayerInput, status Status) (changed bool, err error) {
	if !pn.Valid() {
		return false, errors.Errorf("invalid player %d", pn)
	}
	if frame < 0 {
		return false, errors.Errorf("negative frame %d", frame)
	}
	if status == StatusUnknown {
		return false, errors.New("record with unknown status")
	}
	if h.newest[pn] != sim.InvalidFrame && frame <= h.newest[pn]-sim.Frame(h.capacity) {
		return false, errors.Wrapf(ErrUnrecoverableDesync, "player %d frame %d older than retained %d", pn, frame, h.Oldest(pn))
	}

	s := h.slot(pn, frame)
	if s.frame == frame && s.status != StatusUnknown {
		if s.status == StatusConfirmed {
			return false, nil
		}
		changed = s.input != input
	} else {
		changed = true
	}

	s.frame = frame
	s.input = input
	s.status = status

	if frame > h.newest[pn] {
		h.newest[pn] = frame
	}
	if status == StatusConfirmed && frame > h.lastReceived[pn] {
		h.lastReceived[pn] = frame
	}
	return changed, nil
}

// Get input of frame, absent when evicted or never recorded.
func (h *History) Get(pn sim.PlayerNumber, frame sim.Frame) (sim.PlayerInput, bool) {
	if !pn.Valid() || frame < 0 {
		return sim.InputNone, false
	}
	s := h.slot(pn, frame)
	if s.frame != frame || s.status == StatusUnknown {
		return sim.InputNone, false
	}
	return s.input, true
}

// Status 状态
func (h *History) Status(pn sim.PlayerNumber, frame sim.Frame) Status {
	if !pn.Valid() || frame < 0 {
		return StatusUnknown
	}
	s := h.slot(pn, frame)
	if s.frame != frame {
		return StatusUnknown
	}
	return s.status
}

// Guess repeat-previous fallback: the input of the nearest recorded frame before frame.
func (h *History) Guess(pn sim.PlayerNumber, frame sim.Frame) sim.PlayerInput {
	for f := frame - 1; f >= 0 && f >= h.Oldest(pn); f-- {
		if in, ok := h.Get(pn, f); ok {
			return in
		}
	}
	return sim.InputNone
}

// Range inputs of from..to inclusive, absent frames repeat the previous one.
func (h *History) Range(pn sim.PlayerNumber, from, to sim.Frame) ([]sim.PlayerInput, error) {
	if !pn.Valid() {
		return nil, errors.Errorf("invalid player %d", pn)
	}
	if from > to {
		return nil, nil
	}
	if from < h.Oldest(pn) {
		return nil, errors.Wrapf(ErrUnrecoverableDesync, "player %d range from %d older than retained %d", pn, from, h.Oldest(pn))
	}
	if int(to-from) >= h.capacity {
		return nil, errors.Errorf("range %d..%d exceeds capacity %d", from, to, h.capacity)
	}

	out := make([]sim.PlayerInput, 0, to-from+1)
	prev := h.Guess(pn, from)
	for f := from; f <= to; f++ {
		if in, ok := h.Get(pn, f); ok {
			prev = in
		}
		out = append(out, prev)
	}
	return out, nil
}

// LastReceivedFrame newest Confirmed frame of pn, InvalidFrame when none.
func (h *History) LastReceivedFrame(pn sim.PlayerNumber) sim.Frame {
	if !pn.Valid() {
		return sim.InvalidFrame
	}
	return h.lastReceived[pn]
}
