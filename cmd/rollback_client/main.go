package main

import (
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/byebyebruce/rollbackserver/config"
	"github.com/byebyebruce/rollbackserver/logic/client"
	"github.com/byebyebruce/rollbackserver/pkg/log4gox"
	"github.com/byebyebruce/rollbackserver/pkg/sim"

	l4g "github.com/alecthomas/log4go"
)

var (
	addr       = flag.String("udp", "127.0.0.1:10086", "connect udp address")
	configFile = flag.String("config", "", "the server's xml config, empty means defaults")
	number     = flag.Int("n", 1, "bot number")
	logLevel   = flag.String("log", "INFO", "log level")
	duration   = flag.Duration("t", 0, "run time, 0 means until signal")
)

type bot struct {
	conn *client.Conn
	c    *client.Client
}

// randomInput 随机按键, one choice kept for a few frames
func randomInput(seed int64) client.InputSource {
	r := rand.New(rand.NewSource(seed))
	cur := sim.InputNone
	return func(f sim.Frame) sim.PlayerInput {
		if f%15 == 0 {
			cur = sim.PlayerInput(r.Intn(int(sim.InputMask) + 1))
		}
		return cur
	}
}

func dial(cfg client.Config, i int) (*bot, error) {
	conn, err := client.Dial(*addr)
	if nil != err {
		return nil, err
	}
	c := client.New(cfg, conn, randomInput(time.Now().UnixNano()+int64(i)))
	c.Init()
	conn.Serve(c)
	if err := c.Join(); nil != err {
		conn.Close()
		return nil, err
	}
	return &bot{conn: conn, c: c}, nil
}

func main() {
	flag.Parse()

	if err := log4gox.Setup(*logLevel, ""); nil != err {
		panic(err)
	}
	defer l4g.Close()

	cfg := config.Default()
	if len(*configFile) > 0 {
		c, err := config.Load(*configFile)
		if nil != err {
			l4g.Error("[bot] %v", err)
			return
		}
		cfg = c
	}
	l4g.Info("[bot] tick=[%d] capacity=[%d]", cfg.TickRate, cfg.HistoryCapacity)

	bots := make([]*bot, 0, *number)
	for i := 0; i < *number; i++ {
		b, err := dial(cfg.Client(), i)
		if nil != err {
			l4g.Error("[bot] dial %s error:%v", *addr, err)
			return
		}
		bots = append(bots, b)
	}
	defer func() {
		for _, b := range bots {
			b.conn.Close()
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)

	var timeout <-chan time.Time
	if *duration > 0 {
		timeout = time.After(*duration)
	}

	ticker := time.NewTicker(time.Millisecond * 10)
	defer ticker.Stop()
	report := time.NewTicker(time.Second)
	defer report.Stop()

	last := time.Now()
QUIT:
	for {
		select {
		case sig := <-sigs:
			l4g.Info("[bot] signal: %s", sig.String())
			break QUIT
		case <-timeout:
			break QUIT
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			for _, b := range bots {
				b.c.Update(dt)
			}
		case <-report.C:
			for _, b := range bots {
				st := b.c.Stats()
				l4g.Info("[bot(%s)] seat=[%d] started=[%v] frame=[%d] validated=[%d] rollbacks=[%d] resim=[%d] desync=[%d] rtt=[%s]",
					b.c.ID().Short(), b.c.Player(), b.c.Started(), st.CurrentFrame, st.ValidatedFrame,
					st.Rollbacks, st.ResimulatedFrames, st.SelfDesyncs, b.conn.RTT())
			}
		}
	}
	l4g.Info("[bot] quiting...")
}
