package rollback

import (
	"testing"

	"github.com/byebyebruce/rollbackserver/pkg/sim"

	"github.com/pkg/errors"
)

func Test_HistoryRecordGet(t *testing.T) {
	h := NewHistory(16)

	if _, ok := h.Get(0, 3); ok {
		t.Error("unrecorded frame should be absent")
	}
	if h.LastReceivedFrame(0) != sim.InvalidFrame {
		t.Error("lastReceivedFrame should start invalid")
	}

	for f := sim.Frame(0); f < 40; f++ {
		in := sim.PlayerInput(f % 32)
		if _, err := h.Record(1, f, in, StatusConfirmed); nil != err {
			t.Fatal(err)
		}
		if h.LastReceivedFrame(1) != f {
			t.Fatalf("lastReceivedFrame %d should be %d", h.LastReceivedFrame(1), f)
		}
	}

	for f := sim.Frame(24); f < 40; f++ {
		in, ok := h.Get(1, f)
		if !ok || in != sim.PlayerInput(f%32) {
			t.Errorf("frame %d = %d,%v", f, in, ok)
		}
	}
	if _, ok := h.Get(1, 23); ok {
		t.Error("evicted frame should be absent")
	}
	if h.Oldest(1) != 24 {
		t.Errorf("oldest %d", h.Oldest(1))
	}
	if _, ok := h.Get(0, 30); ok {
		t.Error("other seat should be untouched")
	}
}

func Test_HistoryConfirmedIsTerminal(t *testing.T) {
	h := NewHistory(8)

	changed, _ := h.Record(0, 5, sim.InputUp, StatusPredicted)
	if !changed {
		t.Error("first record should change")
	}
	changed, _ = h.Record(0, 5, sim.InputUp, StatusPredicted)
	if changed {
		t.Error("same value should not change")
	}
	changed, _ = h.Record(0, 5, sim.InputShoot, StatusConfirmed)
	if !changed || h.Status(0, 5) != StatusConfirmed {
		t.Error("authoritative value should win over the prediction")
	}
	changed, _ = h.Record(0, 5, sim.InputDown, StatusConfirmed)
	if changed {
		t.Error("confirmed slot changed")
	}
	changed, _ = h.Record(0, 5, sim.InputDown, StatusPredicted)
	if in, _ := h.Get(0, 5); changed || in != sim.InputShoot {
		t.Error("prediction overwrote a confirmed slot")
	}
	if h.LastReceivedFrame(0) != 5 {
		t.Errorf("lastReceivedFrame %d", h.LastReceivedFrame(0))
	}

	h.Record(0, 6, sim.InputLeft, StatusPredicted)
	if h.LastReceivedFrame(0) != 5 {
		t.Error("prediction advanced lastReceivedFrame")
	}
}

func Test_HistoryTooOld(t *testing.T) {
	h := NewHistory(8)
	h.Record(2, 20, sim.InputUp, StatusConfirmed)

	_, err := h.Record(2, 12, sim.InputUp, StatusConfirmed)
	if errors.Cause(err) != ErrUnrecoverableDesync {
		t.Errorf("err %v", err)
	}
	if _, err := h.Record(2, 13, sim.InputUp, StatusConfirmed); nil != err {
		t.Error(err)
	}
	if _, err := h.Range(2, 10, 14); errors.Cause(err) != ErrUnrecoverableDesync {
		t.Errorf("range err %v", err)
	}
	if _, err := h.Record(9, 13, sim.InputUp, StatusConfirmed); nil == err {
		t.Error("invalid player accepted")
	}
	if _, err := h.Record(0, 1, sim.InputUp, StatusUnknown); nil == err {
		t.Error("unknown status accepted")
	}
}

func Test_HistoryRange(t *testing.T) {
	h := NewHistory(32)
	h.Record(3, 2, sim.InputUp, StatusConfirmed)
	h.Record(3, 5, sim.InputShoot, StatusPredicted)

	got, err := h.Range(3, 1, 7)
	if nil != err {
		t.Fatal(err)
	}
	want := []sim.PlayerInput{
		sim.InputNone, sim.InputUp, sim.InputUp, sim.InputUp,
		sim.InputShoot, sim.InputShoot, sim.InputShoot,
	}
	if len(got) != len(want) {
		t.Fatalf("len %d", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d = %d want %d", i+1, got[i], want[i])
		}
	}

	if g := h.Guess(3, 10); g != sim.InputShoot {
		t.Errorf("guess %d", g)
	}
}

func Test_HistoryStableReads(t *testing.T) {
	h := NewHistory(64)
	for f := sim.Frame(0); f < 50; f++ {
		h.Record(0, f, sim.PlayerInput(f%7), StatusConfirmed)
	}
	first, _ := h.Range(0, 0, 49)

	for f := sim.Frame(0); f < 50; f++ {
		h.Record(0, f, sim.InputMask, StatusPredicted)
	}
	second, _ := h.Range(0, 0, 49)
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("frame %d changed without an authoritative record", i)
		}
	}
}
