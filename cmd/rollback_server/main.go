package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/byebyebruce/rollbackserver/cmd/rollback_server/api"
	"github.com/byebyebruce/rollbackserver/config"
	"github.com/byebyebruce/rollbackserver/pkg/log4gox"
	"github.com/byebyebruce/rollbackserver/server"
	"github.com/byebyebruce/rollbackserver/util"

	l4g "github.com/alecthomas/log4go"
)

var (
	configFile  = flag.String("config", "", "xml config file, empty means defaults")
	dumpConfig  = flag.String("dump", "", "write the effective config to this file and exit")
	httpAddress = flag.String("web", "", "web listen address, overrides the config")
	udpAddress  = flag.String("udp", "", "udp listen address(':10086' means localhost:10086), overrides the config")
	logLevel    = flag.String("log", "", "log level, overrides the config")
)

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if len(*configFile) > 0 {
		c, err := config.Load(*configFile)
		if nil != err {
			return nil, err
		}
		cfg = c
	}
	if len(*httpAddress) > 0 {
		cfg.WebAddress = *httpAddress
	}
	if len(*udpAddress) > 0 {
		cfg.OutAddress = *udpAddress
	}
	if len(*logLevel) > 0 {
		cfg.LogLevel = *logLevel
	}
	return cfg, cfg.Validate()
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if nil != err {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(*dumpConfig) > 0 {
		if err := cfg.Save(*dumpConfig); nil != err {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := log4gox.Setup(cfg.LogLevel, cfg.LogFile); nil != err {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer l4g.Close()

	if len(cfg.ReplayDir) > 0 {
		if err := os.MkdirAll(cfg.ReplayDir, 0755); nil != err {
			l4g.Error("[main] replay dir error:%v", err)
			return
		}
	}

	s, err := server.New(cfg)
	if err != nil {
		l4g.Error("[main] listen %s error:%v", cfg.OutAddress, err)
		return
	}
	advertise := util.AdvertiseAddr(s.Addr().String())

	var web *api.WebAPI
	if len(cfg.WebAddress) > 0 {
		web = api.NewWebAPI(s.RoomManager(), advertise)
	}
	var httpServer = func() func() {
		if nil == web {
			return func() {}
		}
		srv := web.ListenAndServe(cfg.WebAddress)
		return func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, os.Interrupt)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	l4g.Info("[main] start... kcp=[%s] web=[%s] tick=[%d]", advertise, cfg.WebAddress, cfg.TickRate)
	// 主循环
QUIT:
	for {
		select {
		case sig := <-sigs:
			l4g.Info("[main] signal: %s", sig.String())
			break QUIT
		case <-ticker.C:
			l4g.Info("[main] room number=[%d] conn=[%d]", s.RoomManager().RoomNum(), s.TotalConn())
		}
	}
	l4g.Info("[main] quiting...")
	httpServer()
	s.Stop()
}
