package kcp_server

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/byebyebruce/rollbackserver/pkg/network"
)

const (
	latency = time.Second * 3
)

type testCallback struct {
	numConn   uint32
	numMsg    uint32
	numDiscon uint32
}

func (t *testCallback) OnMessage(conn *network.Conn, msg network.Packet) bool {

	atomic.AddUint32(&t.numMsg, 1)

	conn.AsyncWritePacket(network.NewDefaultPacket([]byte("pong")), time.Second*1)
	return true
}

func (t *testCallback) OnConnect(conn *network.Conn) bool {
	id := atomic.AddUint32(&t.numConn, 1)
	conn.PutExtraData(id)
	return true
}

func (t *testCallback) OnClose(conn *network.Conn) {
	atomic.AddUint32(&t.numDiscon, 1)
}

func pingPong(t *testing.T, c net.Conn) {
	defer c.Close()

	if _, e := c.Write(network.NewDefaultPacket([]byte("ping")).Serialize()); nil != e {
		t.Errorf("write error:%s", e.Error())
		return
	}

	c.SetReadDeadline(time.Now().Add(latency))
	p, e := (&network.DefaultProtocol{}).ReadPacket(c)
	if nil != e {
		t.Errorf("read error:%s", e.Error())
		return
	}
	if body := string(p.(*network.DefaultPacket).GetBody()); body != "pong" {
		t.Errorf("body[%s] should be [pong]", body)
	}
}

func Test_KCPServer(t *testing.T) {

	callback := &testCallback{}
	server, err := ListenAndServe("127.0.0.1:0", callback, &network.DefaultProtocol{}, nil, nil)
	if nil != err {
		t.Fatal(err)
	}

	addr := server.Addr().String()

	wg := sync.WaitGroup{}
	const max_con = 10
	for i := 0; i < max_con; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			c, e := Dial(addr, nil)
			if nil != e {
				t.Error(e)
				return
			}
			pingPong(t, c)
		}()
	}

	wg.Wait()
	server.Stop()

	n := atomic.LoadUint32(&callback.numConn)
	if n != max_con {
		t.Errorf("numConn[%d] should be [%d]", n, max_con)
	}

	n = atomic.LoadUint32(&callback.numMsg)
	if n != max_con {
		t.Errorf("numMsg[%d] should be [%d]", n, max_con)
	}

	n = atomic.LoadUint32(&callback.numDiscon)
	if n != max_con {
		t.Errorf("numDiscon[%d] should be [%d]", n, max_con)
	}
}

func Test_TCPServer(t *testing.T) {

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if nil != err {
		t.Fatal(err)
	}

	config := &network.Config{
		PacketReceiveChanLimit: 1024,
		PacketSendChanLimit:    1024,
		ConnReadTimeout:        latency,
		ConnWriteTimeout:       latency,
	}

	callback := &testCallback{}
	server := network.NewServer(config, callback, &network.DefaultProtocol{})

	server.Go(l, func(conn net.Conn, i *network.Server) *network.Conn {
		return network.NewConn(conn, i)
	})

	wg := sync.WaitGroup{}
	const max_con = 50
	for i := 0; i < max_con; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, e := net.Dial("tcp", l.Addr().String())
			if nil != e {
				t.Error(e)
				return
			}
			pingPong(t, c)
		}()
	}

	wg.Wait()
	server.Stop()

	n := atomic.LoadUint32(&callback.numConn)
	if n != max_con {
		t.Errorf("numConn[%d] should be [%d]", n, max_con)
	}

	n = atomic.LoadUint32(&callback.numMsg)
	if n != max_con {
		t.Errorf("numMsg[%d] should be [%d]", n, max_con)
	}

	n = atomic.LoadUint32(&callback.numDiscon)
	if n != max_con {
		t.Errorf("numDiscon[%d] should be [%d]", n, max_con)
	}
}

func Test_OversizedPacketClosesConn(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if nil != err {
		t.Fatal(err)
	}

	callback := &testCallback{}
	server := network.NewServer(DefaultConfig(), callback, &network.DefaultProtocol{MaxBodyLen: 8})
	server.Go(l, func(conn net.Conn, i *network.Server) *network.Conn {
		return network.NewConn(conn, i)
	})
	defer server.Stop()

	c, err := net.Dial("tcp", l.Addr().String())
	if nil != err {
		t.Fatal(err)
	}
	defer c.Close()

	c.Write(network.NewDefaultPacket(make([]byte, 64)).Serialize())
	c.SetReadDeadline(time.Now().Add(latency))
	if _, err := c.Read(make([]byte, 16)); nil == err {
		t.Error("connection should be closed")
	}
	if n := atomic.LoadUint32(&callback.numMsg); n != 0 {
		t.Errorf("numMsg[%d] should be 0", n)
	}
}
