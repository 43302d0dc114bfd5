package room

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/byebyebruce/rollbackserver/logic/game"
	"github.com/byebyebruce/rollbackserver/logic/replay"
	"github.com/byebyebruce/rollbackserver/pkg/network"
	"github.com/byebyebruce/rollbackserver/pkg/sim"
)

func Test_RoomReserveAndMembers(t *testing.T) {
	cfg := game.DefaultConfig()
	cfg.Seats = 2
	r := NewRoom(1, cfg, "")
	go r.Run()

	if !r.Reserve() || !r.Reserve() {
		t.Fatal("reserve free seats")
	}
	if r.Reserve() {
		t.Error("reserved a third seat")
	}

	id := sim.NewClientID()
	r.OnJoinGame(1, id, 0)
	r.OnJoinGame(1, id, 0)
	if !r.HasPlayer(id) || r.OnlineCount() != 1 {
		t.Errorf("online %d", r.OnlineCount())
	}
	r.OnLeaveGame(1, id, 0)
	r.OnLeaveGame(1, id, 0)
	if !r.HasPlayer(id) || r.OnlineCount() != 0 {
		t.Errorf("online %d", r.OnlineCount())
	}

	r.Stop()
	if !r.IsOver() || r.Reserve() {
		t.Error("stopped room still joinable")
	}
}

func Test_RoomStartedNotJoinable(t *testing.T) {
	r := NewRoom(2, game.DefaultConfig(), "")
	go r.Run()
	defer r.Stop()

	r.OnGameStart(2)
	if !r.IsStarted() || r.Reserve() {
		t.Error("started room still joinable")
	}
}

func Test_RoomSavesReplay(t *testing.T) {
	dir := t.TempDir()
	r := NewRoom(3, game.DefaultConfig(), dir)
	go r.Run()

	r.OnGameOver(3)
	r.Stop()

	rec, err := replay.Load(filepath.Join(dir, "room_3.replay"))
	if nil != err {
		t.Fatal(err)
	}
	if rec.RoomID != 3 {
		t.Errorf("room %d", rec.RoomID)
	}
	if _, err := replay.Verify(rec); nil != err {
		t.Error(err)
	}
}

func Test_RoomConnectAfterQuit(t *testing.T) {
	r := NewRoom(4, game.DefaultConfig(), "")
	go r.Run()
	r.Stop()

	srv := network.NewServer(&network.Config{PacketSendChanLimit: 1, PacketReceiveChanLimit: 1}, nil, nil)
	raw, peer := net.Pipe()
	defer raw.Close()
	defer peer.Close()

	done := make(chan bool)
	go func() {
		ok := true
		for i := 0; i < sim.MaxPlayerNmb*8; i++ {
			c := network.NewConn(raw, srv)
			c.PutExtraData(sim.NewClientID())
			ok = r.OnConnect(c)
		}
		done <- ok
	}()

	select {
	case ok := <-done:
		if ok {
			t.Error("connection accepted by a quit room")
		}
	case <-time.After(time.Second * 2):
		t.Fatal("OnConnect blocked after the room quit")
	}
}
