package game

import (
	"time"

	"github.com/byebyebruce/rollbackserver/logic/asteroid"
	"github.com/byebyebruce/rollbackserver/logic/replay"
	"github.com/byebyebruce/rollbackserver/logic/rollback"
	"github.com/byebyebruce/rollbackserver/pkg/packet/pb_packet"
	"github.com/byebyebruce/rollbackserver/pkg/protocol"
	"github.com/byebyebruce/rollbackserver/pkg/sim"

	l4g "github.com/alecthomas/log4go"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// GameState 游戏状态
type GameState int

const (
	k_Ready  GameState = 0 // 准备阶段
	k_Gaming           = 1 // 战斗中阶段
	k_Over             = 2 // 结束阶段
	k_Stop             = 3 // 停止
)

// Config 一局游戏的参数
type Config struct {
	Game           asteroid.Config
	Capacity       int           // 回滚窗口(帧)
	Seats          int           // 坐满就开局
	StartDelay     time.Duration // StartGame到第0帧的延迟
	MaxReadyTime   time.Duration // 准备阶段最长时间
	MaxGameFrame   sim.Frame     // 每局最大帧数
	ValidatePeriod sim.Frame     // 每隔多少帧校验一次
	ValidateDelay  sim.Frame     // 校验落后当前帧多少帧, late inputs within it are still accepted
	InputRate      rate.Limit    // 每个座位每秒Input包
	InputBurst     int
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	g := asteroid.DefaultConfig()
	return Config{
		Game:           g,
		Capacity:       256,
		Seats:          2,
		StartDelay:     time.Second,
		MaxReadyTime:   time.Second * 20,
		MaxGameFrame:   sim.Frame(g.TickRate * 60 * 5),
		ValidatePeriod: 10,
		ValidateDelay:  20,
		InputRate:      rate.Limit(g.TickRate * 2),
		InputBurst:     g.TickRate * 2,
	}
}

// Validate 检查参数
func (c *Config) Validate() error {
	switch {
	case c.Game.TickRate <= 0:
		return errors.Errorf("tick rate %d", c.Game.TickRate)
	case c.Seats < 1 || c.Seats > sim.MaxPlayerNmb:
		return errors.Errorf("seats %d not in 1..%d", c.Seats, sim.MaxPlayerNmb)
	case c.ValidatePeriod < 1 || c.ValidateDelay < 0:
		return errors.Errorf("validate period %d delay %d", c.ValidatePeriod, c.ValidateDelay)
	case c.Capacity <= int(c.ValidatePeriod+c.ValidateDelay)+1:
		return errors.Errorf("capacity %d must exceed validate period %d + delay %d", c.Capacity, c.ValidatePeriod, c.ValidateDelay)
	case c.MaxGameFrame < 1:
		return errors.Errorf("max game frame %d", c.MaxGameFrame)
	case c.InputRate <= 0 || c.InputBurst < 1:
		return errors.Errorf("input rate %v burst %d", c.InputRate, c.InputBurst)
	}
	return nil
}

type gameListener interface {
	OnJoinGame(uint64, sim.ClientID, sim.PlayerNumber)
	OnGameStart(uint64)
	OnLeaveGame(uint64, sim.ClientID, sim.PlayerNumber)
	OnGameOver(uint64)
}

// Game 一局游戏, the authoritative simulation of one match
//
// Game is not goroutine safe, the room loop owns it. The manager runs without a
// local player so every input it does not have yet is predicted, and
// FinalizeInputs freezes those predictions once a frame is ValidateDelay old.
type Game struct {
	id         uint64
	cfg        Config
	createTime time.Time
	startTime  time.Time
	State      GameState
	players    [sim.MaxPlayerNmb]*Player

	clock   *sim.Clock
	manager *rollback.Manager
	logic   *lockstep

	listener gameListener
}

// NewGame 构造游戏
func NewGame(id uint64, cfg Config, now time.Time, listener gameListener) *Game {
	g := &Game{
		id:         id,
		cfg:        cfg,
		createTime: now,
		clock:      sim.NewClock(cfg.Game.TickRate),
		manager:    rollback.NewManager(asteroid.NewSimulator(cfg.Game), cfg.Capacity, sim.InvalidPlayer),
		logic:      newLockstep(id, cfg.Game),
		listener:   listener,
	}

	return g
}

// ID 游戏ID
func (g *Game) ID() uint64 {
	return g.id
}

// Manager 回滚管理器
func (g *Game) Manager() *rollback.Manager {
	return g.manager
}

// StartTime 第0帧的时间
func (g *Game) StartTime() time.Time {
	return g.startTime
}

// JoinGame 加入游戏, a known ClientID reconnects to its seat
func (g *Game) JoinGame(id sim.ClientID, conn Client) (sim.PlayerNumber, bool) {

	if k_Ready != g.State && k_Gaming != g.State {
		l4g.Error("[game(%d)] player[%s] game is over", g.id, id.Short())
		return sim.InvalidPlayer, false
	}

	if p := g.getPlayer(id); nil != p {
		// 把现有的连接顶掉
		old := p.client
		p.Connect(conn)
		if nil != old && old != conn {
			old.Close()
			l4g.Error("[game(%d)] player[%s] replace", g.id, id.Short())
		}
		g.sendSpawns(p)
		if k_Gaming == g.State {
			g.doReconnect(p)
			l4g.Warn("[game(%d)] doReconnect [%s]", g.id, id.Short())
		}
		g.listener.OnJoinGame(g.id, id, p.idx)
		return p.idx, true
	}

	if k_Ready != g.State {
		l4g.Error("[game(%d)] player[%s] join after start", g.id, id.Short())
		return sim.InvalidPlayer, false
	}

	idx := g.freeSeat()
	if !idx.Valid() {
		l4g.Error("[game(%d)] player[%s] no free seat", g.id, id.Short())
		return sim.InvalidPlayer, false
	}

	pos, angle := asteroid.SpawnPosition(idx, g.cfg.Game)
	if err := g.manager.SpawnPlayer(idx, pos, angle); nil != err {
		l4g.Error("[game(%d)] player[%s] spawn error:%v", g.id, id.Short(), err)
		return sim.InvalidPlayer, false
	}
	g.logic.addSpawn(idx, pos, angle)

	p := NewPlayer(id, idx, g.cfg.InputRate, g.cfg.InputBurst)
	p.pos, p.angle = pos, angle
	p.Connect(conn)
	g.players[idx] = p

	g.broadcastExclude(g.spawnMsg(p), idx)
	g.sendSpawns(p)

	g.listener.OnJoinGame(g.id, id, idx)

	return idx, true
}

// LeaveGame 离开游戏, only when conn is still the player's current connection
func (g *Game) LeaveGame(id sim.ClientID, conn Client) bool {

	p := g.getPlayer(id)
	if nil == p || p.client != conn {
		return false
	}

	p.Cleanup()

	g.listener.OnLeaveGame(g.id, id, p.idx)

	return true
}

// ProcessMsg 处理消息
func (g *Game) ProcessMsg(id sim.ClientID, msg *pb_packet.Packet) {

	player := g.getPlayer(id)
	if nil == player {
		l4g.Error("[game(%d)] processMsg unknown player[%s] msg=[%d]", g.id, id.Short(), msg.GetMessageID())
		return
	}

	if protocol.Type(msg.GetMessageID()) == protocol.TypeHeartbeat {
		player.SendMessage(msg)
		player.RefreshHeartbeatTime()
		return
	}

	p, err := msg.Decode()
	if nil != err {
		l4g.Warn("[game(%d)] processMsg player[%d] msg=[%d] decode error:[%v]", g.id, player.idx, msg.GetMessageID(), err)
		return
	}

	switch m := p.(type) {
	case *protocol.Join:
		l4g.Debug("[game(%d)] player[%d] already seated", g.id, player.idx)
	case *protocol.Input:
		if k_Gaming != g.State {
			break
		}
		if !g.pushInput(player, m) {
			l4g.Warn("[game(%d)] processMsg player[%d] pushInput failed", g.id, player.idx)
		}
	case *protocol.ResyncRequest:
		if k_Gaming != g.State {
			break
		}
		l4g.Warn("[game(%d)] player[%d] resync request from frame %d", g.id, player.idx, m.Frame)
		g.sendResync(player)
	default:
		l4g.Warn("[game(%d)] processMsg unexpected message %s", g.id, p.Type())
	}
}

// Tick 主逻辑
func (g *Game) Tick(now time.Time) bool {

	switch g.State {
	case k_Ready:
		if now.Sub(g.createTime) < g.cfg.MaxReadyTime {
			if g.checkReady() {
				g.doStart(now)
				g.State = k_Gaming
			}

		} else {
			if g.getOnlinePlayerCount() > 0 {
				// 大于最大准备时间，只要有在线的，就强制开始
				g.doStart(now)
				g.State = k_Gaming
				l4g.Warn("[game(%d)] force start game because ready state is timeout ", g.id)
			} else {
				// 全都没连进来，直接结束
				g.State = k_Over
				l4g.Error("[game(%d)] game over!! nobody ready", g.id)
			}
		}

		return true
	case k_Gaming:
		if g.checkOver() {
			g.State = k_Over
			l4g.Info("[game(%d)] game over, nobody online", g.id)
			return true
		}

		if g.isTimeout() {
			g.State = k_Over
			l4g.Warn("[game(%d)] game timeout", g.id)
			return true
		}

		g.step(now)

		return true
	case k_Over:
		g.doGameOver()
		g.State = k_Stop
		l4g.Info("[game(%d)] do game over", g.id)
		return true
	case k_Stop:
		return false
	}

	return false
}

// Replay 已校验帧的录像
func (g *Game) Replay() *replay.Replay {
	return g.logic.replay()
}

// Close 关闭游戏
func (g *Game) Close() {
	st := g.manager.Stats()
	l4g.Info("[game(%d)] close frame=%d validated=%d rollbacks=%d", g.id, st.CurrentFrame, st.ValidatedFrame, st.Rollbacks)
}

// Cleanup 清理游戏
func (g *Game) Cleanup() {
	for i, v := range g.players {
		if nil != v {
			v.Cleanup()
		}
		g.players[i] = nil
	}
}

func (g *Game) checkReady() bool {
	return g.getPlayerCount() >= g.cfg.Seats
}

func (g *Game) doStart(now time.Time) {

	g.logic.reset()

	// 第0帧对齐到毫秒, the clients only see the millisecond value
	g.startTime = time.UnixMilli(now.Add(g.cfg.StartDelay).UnixMilli())
	g.clock.Start(g.startTime, now)

	g.broadcast(&protocol.StartGame{StartTime: g.startTime.UnixMilli()})

	g.listener.OnGameStart(g.id)
}

func (g *Game) doGameOver() {

	// 剩下的帧全部校验, the replay ends on the last simulated frame
	if cur := g.manager.CurrentFrame(); cur > g.manager.ValidatedFrame() {
		if err := g.doValidate(cur); nil != err {
			l4g.Error("[game(%d)] final validate frame %d error:%v", g.id, cur, err)
		}
	}

	g.listener.OnGameOver(g.id)
}

// step simulates every frame the wall clock says is due.
func (g *Game) step(now time.Time) {
	target := g.clock.FrameAt(now)
	if target > g.cfg.MaxGameFrame {
		target = g.cfg.MaxGameFrame
	}

	for g.manager.CurrentFrame() < target {
		f := g.manager.CurrentFrame() + 1
		if err := g.manager.StartFrame(f); nil != err {
			l4g.Error("[game(%d)] start frame %d error:%v", g.id, f, err)
			return
		}
		g.clock.FastForward(f)

		if f%g.cfg.ValidatePeriod == 0 {
			if v := f - g.cfg.ValidateDelay; v > g.manager.ValidatedFrame() {
				if err := g.doValidate(v); nil != err {
					l4g.Error("[game(%d)] validate frame %d error:%v", g.id, v, err)
				}
			}
		}
	}

	if g.manager.Dirty() != sim.InvalidFrame {
		if _, err := g.manager.Resimulate(); nil != err {
			l4g.Error("[game(%d)] resimulate error:%v", g.id, err)
		}
	}
}

// doValidate freezes every input up to v and publishes its physics.
func (g *Game) doValidate(v sim.Frame) error {
	from := g.manager.ValidatedFrame() + 1

	forced, err := g.manager.FinalizeInputs(v)
	if nil != err {
		return err
	}
	for i, ok := range forced {
		if ok && nil != g.players[i] {
			g.broadcastInputs(sim.PlayerNumber(i), from, v)
		}
	}

	for f := from; f <= v; f++ {
		for _, ev := range g.manager.EventsAt(f) {
			g.broadcast(&protocol.SpawnBullet{
				PlayerNumber: ev.Player,
				Frame:        ev.Frame,
				Pos:          ev.Position,
				Velocity:     ev.Velocity,
			})
		}
		if !g.logic.pushFrame(f, g.manager.FrameInputs(f)) {
			l4g.Error("[game(%d)] lockstep push frame %d after %d", g.id, f, g.logic.getFrameCount())
		}
	}

	snap, err := g.manager.Validate(v)
	if nil != err {
		return err
	}
	g.logic.checkpoint(v, snap.Digest(v))
	g.broadcast(&protocol.ValidateFrame{Frame: v, States: snap})

	return nil
}

func (g *Game) pushInput(p *Player, msg *protocol.Input) bool {

	if msg.PlayerNumber != p.idx {
		l4g.Warn("[game(%d)] player[%d] sent input of seat %d", g.id, p.idx, msg.PlayerNumber)
		return false
	}
	if !p.AllowInput() {
		return false
	}

	for i, in := range msg.Inputs {
		f := msg.FrameOf(i)
		if f < 1 {
			break
		}
		if _, err := g.manager.SetInput(p.idx, in, f, rollback.StatusConfirmed); nil != err {
			if errors.Cause(err) != rollback.ErrStaleInput {
				l4g.Debug("[game(%d)] player[%d] frame %d input error:%v", g.id, p.idx, f, err)
			}
		}
	}

	// 权威值回显给所有人, the sender learns when its prediction was overridden
	g.broadcastInputs(p.idx, msg.Frame-sim.Frame(len(msg.Inputs))+1, msg.Frame)
	return true
}

// broadcastInputs sends the confirmed inputs of pn for from..to, newest first,
// stopping at the first frame the server has not confirmed.
func (g *Game) broadcastInputs(pn sim.PlayerNumber, from, to sim.Frame) {
	h := g.manager.History()
	if from < 1 {
		from = 1
	}

	for hi := to; hi >= from; hi -= protocol.MaxInputsPerPacket {
		out := &protocol.Input{PlayerNumber: pn, Frame: hi}
		for f := hi; f >= from && len(out.Inputs) < protocol.MaxInputsPerPacket; f-- {
			if h.Status(pn, f) != rollback.StatusConfirmed {
				break
			}
			in, _ := h.Get(pn, f)
			out.Inputs = append(out.Inputs, in)
		}
		if len(out.Inputs) == 0 {
			return
		}
		g.broadcast(out)
		if len(out.Inputs) < protocol.MaxInputsPerPacket {
			return
		}
	}
}

// sendResync 发送新的基准状态
func (g *Game) sendResync(p *Player) {
	v := g.manager.ValidatedFrame()
	snap, ok := g.manager.StateAt(v)
	if !ok {
		l4g.Error("[game(%d)] resync base frame %d missing", g.id, v)
		return
	}
	cur := g.manager.CurrentFrame()
	g.sendTo(p, &protocol.Resync{
		Frame:        v,
		States:       snap,
		CurrentFrame: cur,
		Inputs:       g.manager.ResyncInputs(v+1, cur),
	})
}

func (g *Game) doReconnect(p *Player) {
	g.sendTo(p, &protocol.StartGame{StartTime: g.startTime.UnixMilli()})
	g.sendResync(p)
}

func (g *Game) spawnMsg(p *Player) *protocol.SpawnPlayer {
	return &protocol.SpawnPlayer{
		ClientID:     p.id,
		PlayerNumber: p.idx,
		Pos:          p.pos,
		Angle:        p.angle,
	}
}

// sendSpawns 把所有玩家的出生信息发给p
func (g *Game) sendSpawns(p *Player) {
	for _, v := range g.players {
		if nil != v {
			g.sendTo(p, g.spawnMsg(v))
		}
	}
}

func (g *Game) encode(msg protocol.Packet) *pb_packet.Packet {
	pkt, err := pb_packet.FromCodec(msg)
	if nil != err {
		l4g.Error("[game(%d)] encode %s error:%v", g.id, msg.Type(), err)
		return nil
	}
	return pkt
}

func (g *Game) sendTo(p *Player, msg protocol.Packet) {
	if pkt := g.encode(msg); nil != pkt {
		p.SendMessage(pkt)
	}
}

func (g *Game) broadcast(msg protocol.Packet) {
	pkt := g.encode(msg)
	if nil == pkt {
		return
	}
	for _, v := range g.players {
		if nil != v {
			v.SendMessage(pkt)
		}
	}
}

func (g *Game) broadcastExclude(msg protocol.Packet, idx sim.PlayerNumber) {
	pkt := g.encode(msg)
	if nil == pkt {
		return
	}
	for _, v := range g.players {
		if nil == v || v.idx == idx {
			continue
		}
		v.SendMessage(pkt)
	}
}

func (g *Game) getPlayer(id sim.ClientID) *Player {
	for _, v := range g.players {
		if nil != v && v.id == id {
			return v
		}
	}
	return nil
}

func (g *Game) freeSeat() sim.PlayerNumber {
	for i := 0; i < g.cfg.Seats; i++ {
		if nil == g.players[i] {
			return sim.PlayerNumber(i)
		}
	}
	return sim.InvalidPlayer
}

func (g *Game) getPlayerCount() int {
	i := 0
	for _, v := range g.players {
		if nil != v {
			i++
		}
	}
	return i
}

func (g *Game) getOnlinePlayerCount() int {

	i := 0
	for _, v := range g.players {
		if nil != v && v.IsOnline() {
			i++
		}
	}

	return i
}

func (g *Game) checkOver() bool {
	return g.getOnlinePlayerCount() == 0
}

func (g *Game) isTimeout() bool {
	return g.manager.CurrentFrame() >= g.cfg.MaxGameFrame
}
