package game

import (
	"time"

	"github.com/byebyebruce/rollbackserver/pkg/network"
	"github.com/byebyebruce/rollbackserver/pkg/sim"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/time/rate"
)

// Client 玩家连接, *network.Conn in production
type Client interface {
	AsyncWritePacket(p network.Packet, timeout time.Duration) error
	Close()
}

type Player struct {
	id                sim.ClientID
	idx               sim.PlayerNumber
	pos               mgl32.Vec2
	angle             float32
	isOnline          bool
	lastHeartbeatTime time.Time
	limiter           *rate.Limiter
	client            Client
}

func NewPlayer(id sim.ClientID, idx sim.PlayerNumber, limit rate.Limit, burst int) *Player {
	p := &Player{
		id:      id,
		idx:     idx,
		limiter: rate.NewLimiter(limit, burst),
	}

	return p
}

func (p *Player) Connect(conn Client) {
	p.client = conn
	p.isOnline = true
	p.lastHeartbeatTime = time.Now()
}

func (p *Player) IsOnline() bool {
	return nil != p.client && p.isOnline
}

func (p *Player) RefreshHeartbeatTime() {
	p.lastHeartbeatTime = time.Now()
}

func (p *Player) GetLastHeartbeatTime() time.Time {
	return p.lastHeartbeatTime
}

// AllowInput 输入包限流
func (p *Player) AllowInput() bool {
	return p.limiter.Allow()
}

func (p *Player) SendMessage(msg network.Packet) {

	if !p.IsOnline() || nil == msg {
		return
	}

	if nil != p.client.AsyncWritePacket(msg, 0) {
		p.client.Close()
	}
}

func (p *Player) Cleanup() {

	if nil != p.client {
		p.client.Close()
	}
	p.client = nil
	p.isOnline = false

}
