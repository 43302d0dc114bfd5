package config

import (
	"encoding/xml"
	"time"

	"github.com/byebyebruce/rollbackserver/logic/asteroid"
	"github.com/byebyebruce/rollbackserver/logic/client"
	"github.com/byebyebruce/rollbackserver/logic/game"
	"github.com/byebyebruce/rollbackserver/pkg/sim"
	"github.com/byebyebruce/rollbackserver/util"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Config 服务器配置
type Config struct {
	XMLName xml.Name `xml:"config"`

	OutAddress string `xml:"out_address"` // kcp监听地址
	WebAddress string `xml:"web_address"` // http监听地址
	FastMode   bool   `xml:"fast_mode"`   // kcp nodelay模式
	LogLevel   string `xml:"log_level"`
	LogFile    string `xml:"log_file"`
	ReplayDir  string `xml:"replay_dir"`
	MaxRoom    int    `xml:"max_room"`

	Width      float32 `xml:"width"`
	Height     float32 `xml:"height"`
	TickRate   int     `xml:"tick_rate"`
	FirePeriod int32   `xml:"fire_period"`
	BulletLife int32   `xml:"bullet_life"`

	Seats           int     `xml:"seats"`
	HistoryCapacity int     `xml:"history_capacity"`
	StartDelayMs    int     `xml:"start_delay_ms"`
	MaxReadySeconds int     `xml:"max_ready_seconds"`
	MaxGameSeconds  int     `xml:"max_game_seconds"`
	ValidatePeriod  int     `xml:"validate_period"`
	ValidateDelay   int     `xml:"validate_delay"`
	InputRate       float64 `xml:"input_rate"`
	InputBurst      int     `xml:"input_burst"`
}

// Default 默认配置
func Default() *Config {
	g := game.DefaultConfig()
	return &Config{
		OutAddress: ":10086",
		WebAddress: ":8080",
		FastMode:   true,
		LogLevel:   "INFO",

		Width:      g.Game.Width,
		Height:     g.Game.Height,
		TickRate:   g.Game.TickRate,
		FirePeriod: g.Game.FirePeriod,
		BulletLife: g.Game.BulletLife,

		Seats:           g.Seats,
		HistoryCapacity: g.Capacity,
		StartDelayMs:    int(g.StartDelay / time.Millisecond),
		MaxReadySeconds: int(g.MaxReadyTime / time.Second),
		MaxGameSeconds:  int(g.MaxGameFrame) / g.Game.TickRate,
		ValidatePeriod:  int(g.ValidatePeriod),
		ValidateDelay:   int(g.ValidateDelay),
		InputRate:       float64(g.InputRate),
		InputBurst:      g.InputBurst,
	}
}

// Load 读取xml配置, missing fields keep their defaults
func Load(file string) (*Config, error) {
	c := Default()
	if err := util.LoadConfig(file, c); nil != err {
		return nil, errors.Wrapf(err, "load config %s", file)
	}
	if err := c.Validate(); nil != err {
		return nil, errors.Wrapf(err, "config %s", file)
	}
	return c, nil
}

// Save 写xml配置
func (c *Config) Save(file string) error {
	return util.SaveConfig(file, c)
}

// Game 一局游戏的参数
func (c *Config) Game() game.Config {
	return game.Config{
		Game: asteroid.Config{
			Width:      c.Width,
			Height:     c.Height,
			TickRate:   c.TickRate,
			FirePeriod: c.FirePeriod,
			BulletLife: c.BulletLife,
		},
		Capacity:       c.HistoryCapacity,
		Seats:          c.Seats,
		StartDelay:     time.Duration(c.StartDelayMs) * time.Millisecond,
		MaxReadyTime:   time.Duration(c.MaxReadySeconds) * time.Second,
		MaxGameFrame:   sim.Frame(c.MaxGameSeconds * c.TickRate),
		ValidatePeriod: sim.Frame(c.ValidatePeriod),
		ValidateDelay:  sim.Frame(c.ValidateDelay),
		InputRate:      rate.Limit(c.InputRate),
		InputBurst:     c.InputBurst,
	}
}

// Client 客户端参数, the step function and window must match the server's
func (c *Config) Client() client.Config {
	cc := client.DefaultConfig()
	g := c.Game()
	cc.Game = g.Game
	cc.Capacity = g.Capacity
	return cc
}

// Validate 检查配置
func (c *Config) Validate() error {
	if len(c.OutAddress) == 0 {
		return errors.New("out_address is empty")
	}
	if c.Width <= 0 || c.Height <= 0 {
		return errors.Errorf("arena %vx%v", c.Width, c.Height)
	}
	if c.FirePeriod < 1 || c.BulletLife < 1 {
		return errors.Errorf("fire period %d bullet life %d", c.FirePeriod, c.BulletLife)
	}
	if c.MaxReadySeconds < 1 || c.StartDelayMs < 0 {
		return errors.Errorf("max ready %ds start delay %dms", c.MaxReadySeconds, c.StartDelayMs)
	}
	g := c.Game()
	return g.Validate()
}
