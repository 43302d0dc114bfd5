package room

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/byebyebruce/rollbackserver/logic/asteroid"
	"github.com/byebyebruce/rollbackserver/logic/game"
	"github.com/byebyebruce/rollbackserver/logic/replay"
	"github.com/byebyebruce/rollbackserver/logic/rollback"
	"github.com/byebyebruce/rollbackserver/pkg/network"
	"github.com/byebyebruce/rollbackserver/pkg/packet/pb_packet"
	"github.com/byebyebruce/rollbackserver/pkg/sim"

	l4g "github.com/alecthomas/log4go"
)

const (
	Frequency   = 100                     // 每秒tick次数
	TickTimer   = time.Second / Frequency // 心跳Timer
	TimeoutTime = time.Minute * 15        // 超时时间
)

type packet struct {
	id  sim.ClientID
	msg network.Packet
}

// Room 战斗房间
type Room struct {
	wg        sync.WaitGroup
	closeOnce sync.Once

	roomID    uint64
	seats     int
	replayDir string
	timeStamp int64

	closeFlag int32
	started   int32
	reserved  int32
	online    int32
	members   sync.Map // sim.ClientID -> sim.PlayerNumber
	connected sync.Map // sim.ClientID -> struct{}

	exitChan chan struct{}
	msgQ     chan *packet
	inChan   chan *network.Conn
	outChan  chan *network.Conn

	game *game.Game
}

// NewRoom 构造, Run must be called exactly once
func NewRoom(id uint64, cfg game.Config, replayDir string) *Room {
	r := &Room{
		roomID:    id,
		seats:     cfg.Seats,
		replayDir: replayDir,
		exitChan:  make(chan struct{}),
		msgQ:      make(chan *packet, 2048),
		outChan:   make(chan *network.Conn, sim.MaxPlayerNmb*4),
		inChan:    make(chan *network.Conn, sim.MaxPlayerNmb*4),
		timeStamp: time.Now().Unix(),
	}

	r.game = game.NewGame(id, cfg, time.Now(), r)
	r.wg.Add(1)

	return r
}

// ID room ID
func (r *Room) ID() uint64 {
	return r.roomID
}

// TimeStamp time stamp
func (r *Room) TimeStamp() int64 {
	return r.timeStamp
}

// IsOver 是否已经结束
func (r *Room) IsOver() bool {
	return atomic.LoadInt32(&r.closeFlag) != 0
}

// IsStarted 是否已经开局
func (r *Room) IsStarted() bool {
	return atomic.LoadInt32(&r.started) != 0
}

// Seats 座位数
func (r *Room) Seats() int {
	return r.seats
}

// OnlineCount 在线人数
func (r *Room) OnlineCount() int {
	return int(atomic.LoadInt32(&r.online))
}

// HasPlayer 是否有这个player
func (r *Room) HasPlayer(id sim.ClientID) bool {
	_, ok := r.members.Load(id)
	return ok
}

// Reserve claims a seat for a connection about to join.
func (r *Room) Reserve() bool {
	if r.IsOver() || r.IsStarted() {
		return false
	}
	for {
		n := atomic.LoadInt32(&r.reserved)
		if int(n) >= r.seats {
			return false
		}
		if atomic.CompareAndSwapInt32(&r.reserved, n, n+1) {
			return true
		}
	}
}

// Snapshot latest published world, safe from any goroutine
func (r *Room) Snapshot() *asteroid.World {
	return r.game.Manager().Snapshot()
}

// Stats 回滚统计
func (r *Room) Stats() rollback.Stats {
	return r.game.Manager().Stats()
}

func (r *Room) OnJoinGame(id uint64, cid sim.ClientID, pn sim.PlayerNumber) {
	r.members.Store(cid, pn)
	if _, loaded := r.connected.LoadOrStore(cid, struct{}{}); !loaded {
		atomic.AddInt32(&r.online, 1)
	}
	l4g.Warn("[room(%d)] onJoinGame %s seat %d", id, cid.Short(), pn)
}

func (r *Room) OnGameStart(id uint64) {
	atomic.StoreInt32(&r.started, 1)
	l4g.Warn("[room(%d)] onGameStart", id)
}

func (r *Room) OnLeaveGame(id uint64, cid sim.ClientID, pn sim.PlayerNumber) {
	if _, loaded := r.connected.LoadAndDelete(cid); loaded {
		atomic.AddInt32(&r.online, -1)
	}
	l4g.Warn("[room(%d)] onLeaveGame %s seat %d", id, cid.Short(), pn)
}

func (r *Room) OnGameOver(id uint64) {
	atomic.StoreInt32(&r.closeFlag, 1)

	l4g.Warn("[room(%d)] onGameOver", id)

	if len(r.replayDir) == 0 {
		return
	}

	rec := r.game.Replay()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		file := filepath.Join(r.replayDir, fmt.Sprintf("room_%d.replay", id))
		if err := replay.Save(file, rec); nil != err {
			l4g.Error("[room(%d)] save replay error:%v", id, err)
			return
		}
		l4g.Info("[room(%d)] replay saved %s frames=%d", id, file, rec.FrameCount())
	}()
}

// OnConnect network.Conn callback
func (r *Room) OnConnect(conn *network.Conn) bool {

	id, ok := conn.GetExtraData().(sim.ClientID)
	if !ok {
		l4g.Error("[room(%d)] OnConnect conn don't have id", r.roomID)
		return false
	}

	conn.SetCallback(r)
	select {
	case r.inChan <- conn:
	case <-r.exitChan:
		l4g.Warn("[room(%d)] OnConnect %s after quit", r.roomID, id.Short())
		return false
	}
	l4g.Warn("[room(%d)] OnConnect %s", r.roomID, id.Short())

	return true
}

// OnMessage network.Conn callback
func (r *Room) OnMessage(conn *network.Conn, msg network.Packet) bool {

	id, ok := conn.GetExtraData().(sim.ClientID)
	if !ok {
		l4g.Error("[room] OnMessage error conn don't have id")
		return false
	}

	p := &packet{
		id:  id,
		msg: msg,
	}
	select {
	case r.msgQ <- p:
	case <-r.exitChan:
		return false
	}

	return true
}

// OnClose network.Conn callback
func (r *Room) OnClose(conn *network.Conn) {
	select {
	case r.outChan <- conn:
	case <-r.exitChan:
	}
	if id, ok := conn.GetExtraData().(sim.ClientID); ok {
		l4g.Warn("[room(%d)] OnClose %s", r.roomID, id.Short())
	} else {
		l4g.Warn("[room(%d)] OnClose no id", r.roomID)
	}

}

// Run 主循环
func (r *Room) Run() {
	defer r.wg.Done()
	defer func() {
		r.game.Cleanup()
		atomic.StoreInt32(&r.closeFlag, 1)
		// 唤醒还在投递的连接
		r.closeOnce.Do(func() {
			close(r.exitChan)
		})
		l4g.Warn("[room(%d)] quit! total time=[%d]", r.roomID, time.Now().Unix()-r.timeStamp)
	}()

	// 心跳
	tickerTick := time.NewTicker(TickTimer)
	defer tickerTick.Stop()

	// 超时timer
	timeoutTimer := time.NewTimer(TimeoutTime)
	defer timeoutTimer.Stop()

	l4g.Info("[room(%d)] running...", r.roomID)

LOOP:
	for {
		select {
		case <-r.exitChan:
			l4g.Error("[room(%d)] force exit", r.roomID)
			return
		case <-timeoutTimer.C:
			l4g.Error("[room(%d)] time out", r.roomID)
			break LOOP
		case msg := <-r.msgQ:
			r.game.ProcessMsg(msg.id, msg.msg.(*pb_packet.Packet))
		case <-tickerTick.C:
			if !r.game.Tick(time.Now()) {
				l4g.Info("[room(%d)] tick over", r.roomID)
				break LOOP
			}
		case c := <-r.inChan:
			id, ok := c.GetExtraData().(sim.ClientID)
			if ok {
				if pn, ok := r.game.JoinGame(id, c); ok {
					l4g.Info("[room(%d)] player[%s] join room ok, seat %d", r.roomID, id.Short(), pn)
				} else {
					l4g.Error("[room(%d)] player[%s] join room failed", r.roomID, id.Short())
					if !r.HasPlayer(id) {
						atomic.AddInt32(&r.reserved, -1)
					}
					c.Close()
				}
			} else {
				c.Close()
				l4g.Error("[room(%d)] inChan don't have id", r.roomID)
			}

		case c := <-r.outChan:
			if id, ok := c.GetExtraData().(sim.ClientID); ok {
				r.game.LeaveGame(id, c)
			} else {
				c.Close()
				l4g.Error("[room(%d)] outChan don't have id", r.roomID)
			}
		}
	}

	r.game.Close()
}

// Stop 强制关闭
func (r *Room) Stop() {
	r.closeOnce.Do(func() {
		close(r.exitChan)
	})
	r.wg.Wait()
}
