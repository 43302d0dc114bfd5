package server

import (
	"testing"
	"time"

	"github.com/byebyebruce/rollbackserver/config"
	"github.com/byebyebruce/rollbackserver/logic/client"
	"github.com/byebyebruce/rollbackserver/pkg/sim"
)

func botInput(f sim.Frame) sim.PlayerInput {
	if f%20 < 10 {
		return sim.InputUp | sim.InputLeft
	}
	return sim.InputShoot
}

func Test_TwoClientsPlay(t *testing.T) {
	cfg := config.Default()
	cfg.OutAddress = "127.0.0.1:0"
	cfg.StartDelayMs = 100

	s, err := New(cfg)
	if nil != err {
		t.Fatal(err)
	}
	defer s.Stop()

	var clients [2]*client.Client
	for i := range clients {
		conn, err := client.Dial(s.Addr().String())
		if nil != err {
			t.Fatal(err)
		}
		defer conn.Close()

		c := client.New(cfg.Client(), conn, botInput)
		c.Init()
		conn.Serve(c)
		if err := c.Join(); nil != err {
			t.Fatal(err)
		}
		clients[i] = c
	}

	deadline := time.Now().Add(time.Second * 10)
	last := time.Now()
	for time.Now().Before(deadline) {
		time.Sleep(time.Millisecond * 10)
		now := time.Now()
		dt := now.Sub(last)
		last = now

		done := true
		for _, c := range clients {
			c.Update(dt)
			if c.Stats().ValidatedFrame < 30 {
				done = false
			}
		}
		if done {
			break
		}
	}

	for i, c := range clients {
		st := c.Stats()
		if !c.Started() || st.ValidatedFrame < 30 {
			t.Errorf("client %d started %v stats %+v", i, c.Started(), st)
		}
	}
	if clients[0].Player() == clients[1].Player() || !clients[0].Player().Valid() || !clients[1].Player().Valid() {
		t.Errorf("seats %d %d", clients[0].Player(), clients[1].Player())
	}
	if n := s.RoomManager().RoomNum(); n != 1 {
		t.Errorf("rooms %d", n)
	}
	if n := s.TotalConn(); n != 2 {
		t.Errorf("connections %d", n)
	}
}
