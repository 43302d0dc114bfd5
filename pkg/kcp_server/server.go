package kcp_server

import (
	"net"
	"time"

	"github.com/byebyebruce/rollbackserver/pkg/network"

	"github.com/pkg/errors"
	"github.com/xtaci/kcp-go"
)

// SessionConfig kcp会话参数
type SessionConfig struct {
	NoDelay    int
	Interval   int
	Resend     int
	NoCongest  int
	SndWnd     int
	RcvWnd     int
	BufferSize int
	AckNoDelay bool
}

// FastMode 极速模式
var FastMode = SessionConfig{
	NoDelay:    1,
	Interval:   10,
	Resend:     2,
	NoCongest:  1,
	SndWnd:     4096,
	RcvWnd:     4096,
	BufferSize: 4 * 1024 * 1024,
	AckNoDelay: true,
}

// NormalMode 普通模式
var NormalMode = SessionConfig{
	NoDelay:    0,
	Interval:   40,
	Resend:     0,
	NoCongest:  0,
	SndWnd:     32,
	RcvWnd:     32,
	BufferSize: 1024 * 1024,
}

// Apply 设置会话参数
func (c *SessionConfig) Apply(s *kcp.UDPSession) {
	s.SetNoDelay(c.NoDelay, c.Interval, c.Resend, c.NoCongest)
	s.SetStreamMode(true)
	s.SetWindowSize(c.SndWnd, c.RcvWnd)
	s.SetReadBuffer(c.BufferSize)
	s.SetWriteBuffer(c.BufferSize)
	s.SetACKNoDelay(c.AckNoDelay)
}

// DefaultConfig 连接默认参数
func DefaultConfig() *network.Config {
	return &network.Config{
		PacketReceiveChanLimit: 1024,
		PacketSendChanLimit:    1024,
		ConnReadTimeout:        time.Second * 5,
		ConnWriteTimeout:       time.Second * 5,
	}
}

// ListenAndServe 监听kcp端口,cfg为nil时用DefaultConfig,mode为nil时用FastMode
func ListenAndServe(addr string, callback network.ConnCallback, protocol network.Protocol, cfg *network.Config, mode *SessionConfig) (*network.Server, error) {
	if nil == cfg {
		cfg = DefaultConfig()
	}
	if nil == mode {
		mode = &FastMode
	}

	l, err := kcp.Listen(addr)
	if nil != err {
		return nil, errors.Wrapf(err, "kcp listen %s", addr)
	}

	server := network.NewServer(cfg, callback, protocol)
	server.Go(l, func(conn net.Conn, i *network.Server) *network.Conn {
		if kcpConn, ok := conn.(*kcp.UDPSession); ok {
			mode.Apply(kcpConn)
		}
		return network.NewConn(conn, i)
	})

	return server, nil
}

// Dial 连接kcp服务器
func Dial(addr string, mode *SessionConfig) (*kcp.UDPSession, error) {
	if nil == mode {
		mode = &FastMode
	}
	conn, err := kcp.Dial(addr)
	if nil != err {
		return nil, errors.Wrapf(err, "kcp dial %s", addr)
	}
	s, ok := conn.(*kcp.UDPSession)
	if !ok {
		conn.Close()
		return nil, errors.Errorf("unexpected kcp conn %T", conn)
	}
	mode.Apply(s)
	return s, nil
}
