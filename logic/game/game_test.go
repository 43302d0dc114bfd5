package game

import (
	"sync"
	"testing"
	"time"

	"github.com/byebyebruce/rollbackserver/logic/replay"
	"github.com/byebyebruce/rollbackserver/logic/rollback"
	"github.com/byebyebruce/rollbackserver/pkg/network"
	"github.com/byebyebruce/rollbackserver/pkg/packet/pb_packet"
	"github.com/byebyebruce/rollbackserver/pkg/protocol"
	"github.com/byebyebruce/rollbackserver/pkg/sim"

	"golang.org/x/time/rate"
	"google.golang.org/protobuf/types/known/timestamppb"
)

type fakeConn struct {
	mu         sync.Mutex
	packets    []protocol.Packet
	heartbeats int
	closed     bool
}

func (c *fakeConn) AsyncWritePacket(p network.Packet, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pkt := p.(*pb_packet.Packet)
	if protocol.Type(pkt.GetMessageID()) == protocol.TypeHeartbeat {
		c.heartbeats++
		return nil
	}
	d, err := pkt.Decode()
	if nil != err {
		return err
	}
	c.packets = append(c.packets, d)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) take() []protocol.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	ret := c.packets
	c.packets = nil
	return ret
}

type fakeListener struct {
	joins, starts, leaves, overs int
}

func (l *fakeListener) OnJoinGame(uint64, sim.ClientID, sim.PlayerNumber)  { l.joins++ }
func (l *fakeListener) OnGameStart(uint64)                                 { l.starts++ }
func (l *fakeListener) OnLeaveGame(uint64, sim.ClientID, sim.PlayerNumber) { l.leaves++ }
func (l *fakeListener) OnGameOver(uint64)                                  { l.overs++ }

func ofType(ps []protocol.Packet, t protocol.Type) []protocol.Packet {
	var ret []protocol.Packet
	for _, p := range ps {
		if p.Type() == t {
			ret = append(ret, p)
		}
	}
	return ret
}

func send(t *testing.T, g *Game, id sim.ClientID, p protocol.Packet) {
	pkt, err := pb_packet.FromCodec(p)
	if nil != err {
		t.Fatal(err)
	}
	g.ProcessMsg(id, pkt)
}

type testMatch struct {
	g      *Game
	l      *fakeListener
	ids    [2]sim.ClientID
	conns  [2]*fakeConn
	now    time.Time
	start  time.Time
	period time.Duration
}

// frameTime wall time at which frame f is due
func (m *testMatch) frameTime(f sim.Frame) time.Time {
	return m.start.Add(time.Duration(f) * m.period)
}

// newTestMatch seats two players and starts the game.
func newTestMatch(t *testing.T, cfg Config) *testMatch {
	m := &testMatch{
		l:   &fakeListener{},
		now: time.Unix(1000, 0),
	}
	m.g = NewGame(1, cfg, m.now, m.l)
	for i := range m.ids {
		m.ids[i] = sim.NewClientID()
		m.conns[i] = &fakeConn{}
		if pn, ok := m.g.JoinGame(m.ids[i], m.conns[i]); !ok || pn != sim.PlayerNumber(i) {
			t.Fatalf("join %d got seat %d %v", i, pn, ok)
		}
	}
	if !m.g.Tick(m.now) || m.g.State != k_Gaming {
		t.Fatalf("state %d", m.g.State)
	}
	m.start = m.g.StartTime()
	m.period = time.Second / time.Duration(cfg.Game.TickRate)
	return m
}

func Test_JoinAssignsSeats(t *testing.T) {
	l := &fakeListener{}
	g := NewGame(1, DefaultConfig(), time.Unix(1000, 0), l)

	a, b := &fakeConn{}, &fakeConn{}
	ida, idb := sim.NewClientID(), sim.NewClientID()
	if pn, ok := g.JoinGame(ida, a); !ok || pn != 0 {
		t.Fatalf("a seat %d", pn)
	}
	sp := ofType(a.take(), protocol.TypeSpawnPlayer)
	if len(sp) != 1 || sp[0].(*protocol.SpawnPlayer).ClientID != ida {
		t.Fatalf("a spawns %+v", sp)
	}

	if pn, ok := g.JoinGame(idb, b); !ok || pn != 1 {
		t.Fatalf("b seat %d", pn)
	}
	if sp := ofType(a.take(), protocol.TypeSpawnPlayer); len(sp) != 1 || sp[0].(*protocol.SpawnPlayer).PlayerNumber != 1 {
		t.Errorf("a should see b spawn, got %+v", sp)
	}
	if sp := ofType(b.take(), protocol.TypeSpawnPlayer); len(sp) != 2 {
		t.Errorf("b should see both spawns, got %d", len(sp))
	}

	if _, ok := g.JoinGame(sim.NewClientID(), &fakeConn{}); ok {
		t.Error("third player seated in a two seat game")
	}

	// 重连顶掉旧连接
	a2 := &fakeConn{}
	if pn, ok := g.JoinGame(ida, a2); !ok || pn != 0 {
		t.Fatalf("rejoin seat %d", pn)
	}
	if !a.closed {
		t.Error("old connection not closed")
	}
	if g.LeaveGame(ida, a) {
		t.Error("stale connection removed the player")
	}
	if len(ofType(a2.take(), protocol.TypeSpawnPlayer)) != 2 {
		t.Error("rejoin should resend spawns")
	}
	if l.joins != 3 || l.leaves != 0 {
		t.Errorf("listener %+v", l)
	}

	w := g.Manager().Snapshot()
	if !w.Ships[0].Active || !w.Ships[1].Active || w.Ships[2].Active {
		t.Error("ships not spawned in the base state")
	}
}

func Test_StartAndValidate(t *testing.T) {
	m := newTestMatch(t, DefaultConfig())

	for _, c := range m.conns {
		sg := ofType(c.take(), protocol.TypeStartGame)
		if len(sg) != 1 || sg[0].(*protocol.StartGame).StartTime != m.now.Add(time.Second).UnixMilli() {
			t.Fatalf("start %+v", sg)
		}
	}

	m.g.Tick(m.frameTime(40))
	if f := m.g.Manager().CurrentFrame(); f != 40 {
		t.Fatalf("current %d", f)
	}
	if f := m.g.Manager().ValidatedFrame(); f != 20 {
		t.Fatalf("validated %d", f)
	}

	want, _ := m.g.Manager().StateAt(20)
	for i, c := range m.conns {
		got := c.take()
		vf := ofType(got, protocol.TypeValidateFrame)
		if len(vf) != 2 {
			t.Fatalf("conn %d validate frames %d", i, len(vf))
		}
		last := vf[1].(*protocol.ValidateFrame)
		if last.Frame != 20 || !last.States.Equal(&want) {
			t.Errorf("conn %d last validate %d", i, last.Frame)
		}
		// nobody sent inputs, both seats are forced
		if in := ofType(got, protocol.TypeInput); len(in) != 4 {
			t.Errorf("conn %d forced inputs %d", i, len(in))
		}
	}

	r := m.g.Replay()
	if r.FrameCount() != 20 || len(r.Checkpoints) != 2 || len(r.Spawns) != 2 {
		t.Fatalf("replay frames %d checkpoints %d", r.FrameCount(), len(r.Checkpoints))
	}
	if n, err := replay.Verify(r); nil != err || n != 2 {
		t.Errorf("verify %d %v", n, err)
	}
}

func Test_InputEchoAndAuthority(t *testing.T) {
	m := newTestMatch(t, DefaultConfig())
	m.conns[0].take()
	m.conns[1].take()

	send(t, m.g, m.ids[0], &protocol.Input{PlayerNumber: 0, Frame: 5, Inputs: []sim.PlayerInput{sim.InputShoot, sim.InputUp}})
	for i, c := range m.conns {
		in := ofType(c.take(), protocol.TypeInput)
		if len(in) != 1 {
			t.Fatalf("conn %d echoes %d", i, len(in))
		}
		e := in[0].(*protocol.Input)
		if e.PlayerNumber != 0 || e.Frame != 5 || len(e.Inputs) != 2 || e.Inputs[0] != sim.InputShoot || e.Inputs[1] != sim.InputUp {
			t.Errorf("conn %d echo %+v", i, e)
		}
	}

	// a confirmed frame keeps its first value
	send(t, m.g, m.ids[0], &protocol.Input{PlayerNumber: 0, Frame: 5, Inputs: []sim.PlayerInput{sim.InputDown}})
	in := ofType(m.conns[0].take(), protocol.TypeInput)
	if len(in) != 1 || in[0].(*protocol.Input).Inputs[0] != sim.InputShoot {
		t.Errorf("echo %+v", in)
	}
	if v, _ := m.g.Manager().History().Get(0, 5); v != sim.InputShoot {
		t.Errorf("history %d", v)
	}

	m.g.Tick(m.frameTime(40))
	found := false
	for _, p := range ofType(m.conns[1].take(), protocol.TypeSpawnBullet) {
		b := p.(*protocol.SpawnBullet)
		if b.PlayerNumber == 0 && b.Frame == 5 {
			found = true
		}
	}
	if !found {
		t.Error("no SpawnBullet for the shot at frame 5")
	}
}

func Test_InputWrongSeatAndRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InputRate = rate.Limit(0.001)
	cfg.InputBurst = 2
	m := newTestMatch(t, cfg)
	h := m.g.Manager().History()

	send(t, m.g, m.ids[1], &protocol.Input{PlayerNumber: 0, Frame: 7, Inputs: []sim.PlayerInput{sim.InputUp}})
	if h.Status(0, 7) != rollback.StatusUnknown {
		t.Error("input for another seat accepted")
	}

	for f := sim.Frame(1); f <= 3; f++ {
		send(t, m.g, m.ids[0], &protocol.Input{PlayerNumber: 0, Frame: f, Inputs: []sim.PlayerInput{sim.InputUp}})
	}
	if h.Status(0, 2) != rollback.StatusConfirmed {
		t.Error("second packet dropped")
	}
	if h.Status(0, 3) != rollback.StatusUnknown {
		t.Error("third packet should be rate limited")
	}
}

func Test_ResyncRequest(t *testing.T) {
	m := newTestMatch(t, DefaultConfig())
	m.g.Tick(m.frameTime(40))
	m.conns[1].take()

	send(t, m.g, m.ids[1], &protocol.ResyncRequest{PlayerNumber: 1, Frame: 3})
	rs := ofType(m.conns[1].take(), protocol.TypeResync)
	if len(rs) != 1 {
		t.Fatalf("resyncs %d", len(rs))
	}
	r := rs[0].(*protocol.Resync)
	want, _ := m.g.Manager().StateAt(20)
	if r.Frame != 20 || r.CurrentFrame != 40 || !r.States.Equal(&want) {
		t.Errorf("resync frame %d current %d", r.Frame, r.CurrentFrame)
	}
	for i := range r.Inputs {
		if len(r.Inputs[i]) != 20 {
			t.Errorf("seat %d inputs %d", i, len(r.Inputs[i]))
		}
	}
	if len(m.conns[0].take()) != 0 {
		t.Error("resync sent to the wrong player")
	}
}

func Test_HeartbeatEcho(t *testing.T) {
	m := newTestMatch(t, DefaultConfig())
	m.g.ProcessMsg(m.ids[0], pb_packet.NewPacket(uint8(protocol.TypeHeartbeat), timestamppb.Now()))
	if m.conns[0].heartbeats != 1 || m.conns[1].heartbeats != 0 {
		t.Errorf("heartbeats %d %d", m.conns[0].heartbeats, m.conns[1].heartbeats)
	}
}

func Test_ReadyTimeout(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Unix(1000, 0)

	// 没人进来
	l := &fakeListener{}
	g := NewGame(1, cfg, now, l)
	g.Tick(now.Add(cfg.MaxReadyTime))
	if g.State != k_Over {
		t.Fatalf("state %d", g.State)
	}
	g.Tick(now.Add(cfg.MaxReadyTime))
	if g.Tick(now.Add(cfg.MaxReadyTime)) || l.overs != 1 {
		t.Errorf("stopped game still ticking, overs %d", l.overs)
	}

	// 一个人也强制开局, then leaving ends it
	l = &fakeListener{}
	g = NewGame(2, cfg, now, l)
	id, c := sim.NewClientID(), &fakeConn{}
	g.JoinGame(id, c)
	g.Tick(now)
	if g.State != k_Ready {
		t.Fatal("started with a free seat")
	}
	g.Tick(now.Add(cfg.MaxReadyTime))
	if g.State != k_Gaming || l.starts != 1 {
		t.Fatalf("state %d", g.State)
	}
	if !g.LeaveGame(id, c) || !c.closed {
		t.Fatal("leave")
	}
	g.Tick(now.Add(cfg.MaxReadyTime * 2))
	g.Tick(now.Add(cfg.MaxReadyTime * 2))
	if g.State != k_Stop || l.overs != 1 || l.leaves != 1 {
		t.Errorf("state %d listener %+v", g.State, l)
	}
}

func Test_GameTimeoutFlushesReplay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxGameFrame = 55
	m := newTestMatch(t, cfg)

	m.g.Tick(m.frameTime(200))
	if f := m.g.Manager().CurrentFrame(); f != 55 {
		t.Fatalf("current %d", f)
	}
	m.g.Tick(m.frameTime(201))
	m.g.Tick(m.frameTime(202))
	if m.g.State != k_Stop || m.l.overs != 1 {
		t.Fatalf("state %d", m.g.State)
	}

	r := m.g.Replay()
	if r.FrameCount() != 55 {
		t.Errorf("replay frames %d", r.FrameCount())
	}
	if n, err := replay.Verify(r); nil != err || n != len(r.Checkpoints) {
		t.Errorf("verify %d/%d %v", n, len(r.Checkpoints), err)
	}
}
