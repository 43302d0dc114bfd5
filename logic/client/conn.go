package client

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/byebyebruce/rollbackserver/pkg/kcp_server"
	"github.com/byebyebruce/rollbackserver/pkg/packet/pb_packet"
	"github.com/byebyebruce/rollbackserver/pkg/protocol"

	l4g "github.com/alecthomas/log4go"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// PacketHandler 收包回调
type PacketHandler interface {
	OnPacketReceived(p protocol.Packet)
}

const (
	writeTimeout      = time.Second * 5
	heartbeatInterval = time.Second
)

// Conn 客户端传输层, frames codec packets with pb_packet over a stream
type Conn struct {
	raw      net.Conn
	protocol *pb_packet.MsgProtocol

	writeMu sync.Mutex
	rtt     atomic.Int64

	closeOnce sync.Once
	closeChan chan struct{}
	wg        sync.WaitGroup
}

// Dial 连接kcp服务器
func Dial(addr string) (*Conn, error) {
	s, err := kcp_server.Dial(addr, nil)
	if nil != err {
		return nil, err
	}
	return NewConn(s), nil
}

// NewConn wraps any stream connection
func NewConn(raw net.Conn) *Conn {
	return &Conn{
		raw:       raw,
		protocol:  &pb_packet.MsgProtocol{},
		closeChan: make(chan struct{}),
	}
}

// Send 编码并发送
func (c *Conn) Send(p protocol.Packet) error {
	pkt, err := pb_packet.FromCodec(p)
	if nil != err {
		return err
	}
	return c.write(pkt.Serialize())
}

func (c *Conn) write(b []byte) error {
	select {
	case <-c.closeChan:
		return errors.New("use of closed connection")
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.raw.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := c.raw.Write(b)
	return err
}

// Heartbeat sends the current time, the server echoes it back
func (c *Conn) Heartbeat() error {
	p := pb_packet.NewPacket(uint8(protocol.TypeHeartbeat), timestamppb.Now())
	if nil == p {
		return errors.New("heartbeat packet")
	}
	return c.write(p.Serialize())
}

// RTT last measured round trip time
func (c *Conn) RTT() time.Duration {
	return time.Duration(c.rtt.Load())
}

// Serve starts the read loop and the heartbeat loop.
func (c *Conn) Serve(h PacketHandler) {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.readLoop(h)
	}()
	go func() {
		defer c.wg.Done()
		c.heartbeatLoop()
	}()
}

func (c *Conn) readLoop(h PacketHandler) {
	defer c.Close()

	for {
		n, err := c.protocol.ReadPacket(c.raw)
		if nil != err {
			select {
			case <-c.closeChan:
			default:
				l4g.Warn("[conn] read error: %v", err)
			}
			return
		}

		pkt := n.(*pb_packet.Packet)
		if protocol.Type(pkt.GetMessageID()) == protocol.TypeHeartbeat {
			ts := &timestamppb.Timestamp{}
			if err := pkt.Unmarshal(ts); nil != err {
				l4g.Warn("[conn] heartbeat error: %v", err)
				continue
			}
			c.rtt.Store(int64(time.Since(ts.AsTime())))
			continue
		}

		p, err := pkt.Decode()
		if nil != err {
			// malformed packets are dropped
			l4g.Warn("[conn] drop packet %d: %v", pkt.GetMessageID(), err)
			continue
		}
		h.OnPacketReceived(p)
	}
}

func (c *Conn) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeChan:
			return
		case <-ticker.C:
			if err := c.Heartbeat(); nil != err {
				l4g.Warn("[conn] heartbeat error: %v", err)
			}
		}
	}
}

// Close 关闭
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		c.raw.Close()
	})
}

// Wait blocks until the loops started by Serve exit.
func (c *Conn) Wait() {
	c.wg.Wait()
}
