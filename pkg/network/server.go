package network

import (
	"net"
	"sync"
	"time"

	l4g "github.com/alecthomas/log4go"
)

type Config struct {
	PacketSendChanLimit    uint32        // the limit of packet send channel
	PacketReceiveChanLimit uint32        // the limit of packet receive channel
	ConnReadTimeout        time.Duration // read timeout
	ConnWriteTimeout       time.Duration // write timeout
}

type Server struct {
	config    *Config         // server configuration
	callback  ConnCallback    // message callbacks in connection
	protocol  Protocol        // customize packet protocol
	exitChan  chan struct{}   // notify all goroutines to shutdown
	waitGroup *sync.WaitGroup // wait for all goroutines
	closeOnce sync.Once
	listener  net.Listener
	mu        sync.Mutex
}

// NewServer creates a server
func NewServer(config *Config, callback ConnCallback, protocol Protocol) *Server {
	return &Server{
		config:    config,
		callback:  callback,
		protocol:  protocol,
		exitChan:  make(chan struct{}),
		waitGroup: &sync.WaitGroup{},
	}
}

type ConnectionCreator func(net.Conn, *Server) *Conn

// Start accepts connections until Stop
func (s *Server) Start(listener net.Listener, create ConnectionCreator) {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.waitGroup.Add(1)
	defer s.waitGroup.Done()

	for {
		select {
		case <-s.exitChan:
			return

		default:
		}

		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.exitChan:
				return
			default:
			}
			l4g.Warn("[network] accept error: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		s.waitGroup.Add(1)
		go func() {
			create(conn, s).Do()
			s.waitGroup.Done()
		}()
	}
}

// Go binds the listener then accepts in background
func (s *Server) Go(listener net.Listener, create ConnectionCreator) {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	go s.Start(listener, create)
}

// Addr listening address, nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if nil == s.listener {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops service
func (s *Server) Stop() {
	s.closeOnce.Do(func() {
		close(s.exitChan)
		s.mu.Lock()
		if nil != s.listener {
			s.listener.Close()
		}
		s.mu.Unlock()
	})

	s.waitGroup.Wait()
}
