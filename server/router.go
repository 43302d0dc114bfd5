package server

import (
	"sync/atomic"
	"time"

	"github.com/byebyebruce/rollbackserver/pkg/network"
	"github.com/byebyebruce/rollbackserver/pkg/packet/pb_packet"
	"github.com/byebyebruce/rollbackserver/pkg/protocol"

	l4g "github.com/alecthomas/log4go"
)

// TotalConn 当前连接数
func (r *RollbackServer) TotalConn() int64 {
	return atomic.LoadInt64(&r.totalConn)
}

// OnConnect 链接进来
func (r *RollbackServer) OnConnect(conn *network.Conn) bool {
	count := atomic.AddInt64(&r.totalConn, 1)
	l4g.Debug("[router] OnConnect [%s] totalConn=%d", conn.GetRawConn().RemoteAddr().String(), count)
	return true
}

// OnMessage 消息处理, only Join and Heartbeat are accepted before a room takes the connection
func (r *RollbackServer) OnMessage(conn *network.Conn, p network.Packet) bool {

	msg := p.(*pb_packet.Packet)

	l4g.Debug("[router] OnMessage [%s] msg=[%d] len=[%d]", conn.GetRawConn().RemoteAddr().String(), msg.GetMessageID(), len(msg.GetData()))

	switch protocol.Type(msg.GetMessageID()) {
	case protocol.TypeJoin:
		d, err := msg.Decode()
		if nil != err {
			l4g.Error("[router] join decode error=[%v]", err)
			return false
		}
		id := d.(*protocol.Join).ClientID

		room, err := r.roomMgr.Assign(id)
		if nil != err {
			l4g.Error("[router] no room for player=[%s] error=[%v]", id.Short(), err)
			return false
		}

		conn.PutExtraData(id)

		// SpawnPlayer由Game返回
		return room.OnConnect(conn)

	case protocol.TypeHeartbeat:
		conn.AsyncWritePacket(msg, time.Millisecond)
		return true
	}

	l4g.Warn("[router] drop msg=[%d] before join", msg.GetMessageID())
	return true

}

// OnClose 链接断开
func (r *RollbackServer) OnClose(conn *network.Conn) {
	count := atomic.AddInt64(&r.totalConn, -1)

	l4g.Info("[router] OnClose: total=%d", count)
}
