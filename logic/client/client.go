package client

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/byebyebruce/rollbackserver/logic/asteroid"
	"github.com/byebyebruce/rollbackserver/logic/rollback"
	"github.com/byebyebruce/rollbackserver/pkg/protocol"
	"github.com/byebyebruce/rollbackserver/pkg/sim"

	l4g "github.com/alecthomas/log4go"
	"github.com/pkg/errors"
)

// Sender 发包
type Sender interface {
	Send(p protocol.Packet) error
}

// InputSource samples the local input of frame.
type InputSource func(frame sim.Frame) sim.PlayerInput

// Config 客户端参数
type Config struct {
	Game           asteroid.Config
	Capacity       int           // 回滚窗口(帧)
	QueueSize      int           // 收包队列长度
	ResyncInterval time.Duration // 重同步请求间隔
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		Game:           asteroid.DefaultConfig(),
		Capacity:       256,
		QueueSize:      1024,
		ResyncInterval: time.Second,
	}
}

// Stats 客户端统计
type Stats struct {
	rollback.Stats
	SelfDesyncs    uint64
	StaleInputs    uint64
	DroppedPackets uint64
	ResyncRequests uint64
}

// Client 模拟客户端
//
// Update and every method not marked otherwise run on one goroutine.
// OnPacketReceived only queues, the queue is drained at the start of Update.
type Client struct {
	cfg    Config
	id     sim.ClientID
	sender Sender
	input  InputSource
	now    func() time.Time

	queue   chan protocol.Packet
	clock   *sim.Clock
	manager *rollback.Manager
	player  sim.PlayerNumber
	ticks   int // whole ticks owed but not simulated yet

	lastResyncRequest time.Time

	mu      sync.Mutex
	bullets []protocol.SpawnBullet

	selfDesyncs    atomic.Uint64
	staleInputs    atomic.Uint64
	droppedPackets atomic.Uint64
	resyncRequests atomic.Uint64
}

// New 创建客户端, input nil means the local seat never presses anything
func New(cfg Config, sender Sender, input InputSource) *Client {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.ResyncInterval <= 0 {
		cfg.ResyncInterval = DefaultConfig().ResyncInterval
	}
	if nil == input {
		input = func(sim.Frame) sim.PlayerInput { return sim.InputNone }
	}
	c := &Client{
		cfg:    cfg,
		sender: sender,
		input:  input,
		now:    time.Now,
		queue:  make(chan protocol.Packet, cfg.QueueSize),
		player: sim.InvalidPlayer,
	}
	c.Init()
	return c
}

// Init picks a fresh ClientID and resets the simulation. New already calls it
// once, call it again to start over as a different client.
func (c *Client) Init() {
	c.id = sim.NewClientID()
	c.clock = sim.NewClock(c.cfg.Game.TickRate)
	c.manager = rollback.NewManager(asteroid.NewSimulator(c.cfg.Game), c.cfg.Capacity, sim.InvalidPlayer)
	c.player = sim.InvalidPlayer
	c.ticks = 0
	c.lastResyncRequest = time.Time{}

	c.mu.Lock()
	c.bullets = nil
	c.mu.Unlock()

	l4g.Info("[client(%s)] init", c.id.Short())
}

// ID 客户端ID
func (c *Client) ID() sim.ClientID {
	return c.id
}

// Player 分配到的座位
func (c *Client) Player() sim.PlayerNumber {
	return c.player
}

// Started StartGame 已收到
func (c *Client) Started() bool {
	return c.clock.Started()
}

// Manager 回滚管理器
func (c *Client) Manager() *rollback.Manager {
	return c.manager
}

// Join asks the server for a seat.
func (c *Client) Join() error {
	return c.SendPacket(&protocol.Join{ClientID: c.id})
}

// SendPacket 交给传输层
func (c *Client) SendPacket(p protocol.Packet) error {
	if nil == c.sender {
		return errors.New("no sender")
	}
	if err := c.sender.Send(p); nil != err {
		l4g.Warn("[client(%s)] send %s error: %v", c.id.Short(), p.Type(), err)
		return err
	}
	return nil
}

// OnPacketReceived queues p for the next Update, safe from any goroutine.
func (c *Client) OnPacketReceived(p protocol.Packet) {
	select {
	case c.queue <- p:
	default:
		c.droppedPackets.Add(1)
		l4g.Warn("[client(%s)] queue full drop %s", c.id.Short(), p.Type())
	}
}

// Update drains received packets, then simulates every frame that became due.
func (c *Client) Update(dt time.Duration) {
	c.drain()

	if !c.clock.Started() {
		return
	}

	c.ticks += c.clock.Advance(dt)
	if limit := 2 * c.manager.Capacity(); c.ticks > limit {
		c.ticks = limit
	}

	for c.ticks > 0 {
		if err := c.tick(); nil != err {
			if errors.Cause(err) == rollback.ErrUnrecoverableDesync {
				c.requestResync(err)
			} else {
				l4g.Error("[client(%s)] frame %d error: %v", c.id.Short(), c.manager.CurrentFrame()+1, err)
			}
			break
		}
		c.ticks--
	}

	// corrections that arrived without a new frame
	if c.manager.Dirty() != sim.InvalidFrame {
		if _, err := c.manager.Resimulate(); nil != err {
			c.report(err)
		}
	}
}

func (c *Client) drain() {
	for {
		select {
		case p := <-c.queue:
			c.handle(p)
		default:
			return
		}
	}
}

func (c *Client) tick() error {
	next := c.manager.CurrentFrame() + 1

	if c.player.Valid() {
		if _, err := c.manager.SetInput(c.player, c.input(next), next, rollback.StatusPredicted); nil != err {
			return err
		}
	}
	if err := c.manager.StartFrame(next); nil != err {
		return err
	}
	c.clock.Tick()

	if _, err := c.manager.Resimulate(); nil != err {
		if !c.report(err) {
			return err
		}
	}

	c.sendInput(next)
	return nil
}

// sendInput sends every local input the server has not confirmed yet, newest first.
func (c *Client) sendInput(frame sim.Frame) {
	if !c.player.Valid() {
		return
	}
	h := c.manager.History()
	from := h.LastReceivedFrame(c.player) + 1
	if from < 1 {
		from = 1
	}
	if lo := frame - protocol.MaxInputsPerPacket + 1; from < lo {
		from = lo
	}

	p := &protocol.Input{
		PlayerNumber: c.player,
		Frame:        frame,
		Inputs:       make([]sim.PlayerInput, 0, frame-from+1),
	}
	for f := frame; f >= from; f-- {
		in, ok := h.Get(c.player, f)
		if !ok {
			break
		}
		p.Inputs = append(p.Inputs, in)
	}
	if len(p.Inputs) == 0 {
		return
	}
	c.SendPacket(p)
}

// report logs recoverable errors and tells whether err was one.
func (c *Client) report(err error) bool {
	switch errors.Cause(err) {
	case rollback.ErrStaleInput:
		return true
	case rollback.ErrDesyncDetected:
		l4g.Warn("[client(%s)] %v", c.id.Short(), err)
		return true
	case rollback.ErrUnrecoverableDesync:
		c.requestResync(err)
		return true
	}
	return false
}

func (c *Client) requestResync(reason error) {
	if !c.player.Valid() {
		l4g.Warn("[client(%s)] no seat, cannot resync: %v", c.id.Short(), reason)
		return
	}
	now := c.now()
	if !c.lastResyncRequest.IsZero() && now.Sub(c.lastResyncRequest) < c.cfg.ResyncInterval {
		return
	}
	c.lastResyncRequest = now
	c.resyncRequests.Add(1)

	l4g.Warn("[client(%s)] request resync at frame %d: %v", c.id.Short(), c.manager.ValidatedFrame(), reason)
	c.SendPacket(&protocol.ResyncRequest{
		PlayerNumber: c.player,
		Frame:        c.manager.ValidatedFrame(),
	})
}

func (c *Client) handle(p protocol.Packet) {
	switch p := p.(type) {
	case *protocol.Join:
		// server side only

	case *protocol.SpawnPlayer:
		if p.ClientID == c.id {
			c.player = p.PlayerNumber
			c.manager.SetLocalPlayer(p.PlayerNumber)
			l4g.Info("[client(%s)] seat %d", c.id.Short(), p.PlayerNumber)
		}
		if err := c.manager.SpawnPlayer(p.PlayerNumber, p.Pos, p.Angle); nil != err {
			l4g.Error("[client(%s)] spawn %d error: %v", c.id.Short(), p.PlayerNumber, err)
		}

	case *protocol.StartGame:
		if c.clock.Started() {
			return
		}
		start := time.UnixMilli(p.StartTime)
		c.clock.Start(start, c.now())
		l4g.Info("[client(%s)] start at %s", c.id.Short(), start.Format("15:04:05.000"))

	case *protocol.Input:
		c.onInput(p)

	case *protocol.ValidateFrame:
		if err := c.manager.ConfirmValidateFrame(p.Frame, &p.States); nil != err {
			c.report(err)
		}

	case *protocol.SpawnBullet:
		c.onSpawnBullet(p)

	case *protocol.Resync:
		c.onResync(p)

	default:
		l4g.Warn("[client(%s)] unexpected %s", c.id.Short(), p.Type())
	}
}

func (c *Client) onInput(p *protocol.Input) {
	pn := p.PlayerNumber
	if !pn.Valid() {
		return
	}
	h := c.manager.History()

	if pn == c.player {
		// the server echoes our own inputs, any difference is a desync of self
		for i, in := range p.Inputs {
			f := p.FrameOf(i)
			if f < 1 {
				break
			}
			if local, ok := h.Get(pn, f); ok && local != in && h.Status(pn, f) != rollback.StatusConfirmed {
				c.selfDesyncs.Add(1)
				l4g.Warn("[client(%s)] %v: own input frame %d local %d server %d", c.id.Short(), rollback.ErrDesyncDetected, f, local, in)
			}
			if _, err := c.manager.SetInput(pn, in, f, rollback.StatusConfirmed); nil != err {
				c.report(err)
				break
			}
		}
		return
	}

	if p.Frame < c.manager.LastReceivedFrame(pn) {
		c.staleInputs.Add(1)
		return
	}

	for i, in := range p.Inputs {
		f := p.FrameOf(i)
		if f < 1 {
			break
		}
		if _, err := c.manager.SetInput(pn, in, f, rollback.StatusConfirmed); nil != err {
			c.report(err)
			break
		}
	}
}

func (c *Client) onSpawnBullet(p *protocol.SpawnBullet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	oldest := p.Frame - sim.Frame(c.cfg.Game.BulletLife)
	n := 0
	for _, b := range c.bullets {
		if b.Frame > oldest {
			c.bullets[n] = b
			n++
		}
	}
	c.bullets = append(c.bullets[:n], *p)
}

func (c *Client) onResync(p *protocol.Resync) {
	current := c.manager.CurrentFrame()
	if p.Frame > current {
		current = p.Frame
	}
	if err := c.manager.Rebase(p.Frame, &p.States, current, &p.Inputs); nil != err {
		l4g.Error("[client(%s)] resync at %d error: %v", c.id.Short(), p.Frame, err)
		return
	}

	skipped := int(current - c.clock.Frame())
	c.clock.FastForward(current)
	if c.ticks -= skipped; c.ticks < 0 {
		c.ticks = 0
	}
	c.lastResyncRequest = time.Time{}

	if _, err := c.manager.Resimulate(); nil != err {
		c.report(err)
	}
	l4g.Info("[client(%s)] resync base %d current %d", c.id.Short(), p.Frame, current)
}

// Snapshot latest published World, safe from any goroutine.
func (c *Client) Snapshot() *asteroid.World {
	return c.manager.Snapshot()
}

// Bullets SpawnBullet events still alive, safe from any goroutine.
func (c *Client) Bullets() []protocol.SpawnBullet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.SpawnBullet(nil), c.bullets...)
}

// Stats 统计, safe from any goroutine.
func (c *Client) Stats() Stats {
	return Stats{
		Stats:          c.manager.Stats(),
		SelfDesyncs:    c.selfDesyncs.Load(),
		StaleInputs:    c.staleInputs.Load(),
		DroppedPackets: c.droppedPackets.Load(),
		ResyncRequests: c.resyncRequests.Load(),
	}
}
