package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gridwalk.ai/internal/captcha"
	"gridwalk.ai/internal/captcha/grid"
	"gridwalk.ai/internal/captcha/steer"
)

type Config struct {
	World   WorldSpec   `yaml:"world"`
	Captcha CaptchaSpec `yaml:"captcha"`
	Portal  PortalSpec  `yaml:"portal"`
	Debug   DebugSpec   `yaml:"debug"`
	Data    DataSpec    `yaml:"data"`
}

type WorldSpec struct {
	URL       string `yaml:"url"`
	AgentName string `yaml:"agent_name"`
	Password  string `yaml:"password"`
	Token     string `yaml:"token,omitempty"`
	// Proxy is a socks5://[user:pass@]host:port URL; empty dials directly.
	Proxy string `yaml:"proxy,omitempty"`

	LoginDelayMS     int      `yaml:"login_delay_ms"`
	ReconnectDelayMS int      `yaml:"reconnect_delay_ms"`
	RestartDelayMS   int      `yaml:"restart_delay_ms"`
	RestartMessages  []string `yaml:"restart_messages"`
}

type CaptchaSpec struct {
	TileEntity string          `yaml:"tile_entity"`
	TileKind   int             `yaml:"tile_kind"`
	Slots      grid.SlotLayout `yaml:"slots"`

	Start      [2]float64 `yaml:"start"`
	Goal       [2]float64 `yaml:"goal"`
	ExitOffset [2]float64 `yaml:"exit_offset"`

	Tolerance       float64 `yaml:"tolerance"`
	PollMS          int     `yaml:"poll_ms"`
	SettleMS        int     `yaml:"settle_ms"`
	MaxPollsPerAxis int     `yaml:"max_polls_per_axis"`

	PathLift      float64 `yaml:"path_lift"`
	MarkerHeight  float64 `yaml:"marker_height"`
	MarkerEveryMS int     `yaml:"marker_every_ms"`
}

type PortalSpec struct {
	Enabled   bool    `yaml:"enabled"`
	Target    [3]int  `yaml:"target"`
	Tolerance float64 `yaml:"tolerance"`
}

type DebugSpec struct {
	Enabled    bool   `yaml:"enabled"`
	ViewerAddr string `yaml:"viewer_addr"`
}

type DataSpec struct {
	Dir string `yaml:"dir"`
	// Index is the SQLite attempt index path; relative paths live under Dir.
	Index string `yaml:"index"`
}

func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("bot.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("bot.yaml: %w", err)
	}
	return cfg, nil
}

func Defaults() Config {
	return Config{
		World: WorldSpec{
			URL:              "ws://127.0.0.1:8080/v1/ws",
			AgentName:        "bot",
			LoginDelayMS:     5000,
			ReconnectDelayMS: 5000,
			RestartDelayMS:   7 * 60 * 1000,
			RestartMessages: []string{
				"Server restarts in 60s",
				"Server restarts in 30s",
				"Server restarts in 15s",
				"Server restarts in 10s",
				"Server restarts in 5s",
				"Server restarts in 4s",
				"Server restarts in 3s",
				"Server restarts in 2s",
				"Server restarts in 1s",
				"The target server is offline now! You have been sent to the backup server while it goes back online.",
				"You were kicked from main-server: Server closed",
				"The main server is restarting. We will be back soon! Join our Discord with /discord command in the meantime.",
			},
		},
		Captcha: CaptchaSpec{
			TileEntity:      "block_display",
			TileKind:        2060,
			Slots:           grid.DefaultSlots(),
			Start:           [2]float64{-999.5, -1019.5},
			Goal:            [2]float64{-999.5, -1005.5},
			ExitOffset:      [2]float64{0, 1},
			Tolerance:       0.2,
			PollMS:          100,
			SettleMS:        100,
			MaxPollsPerAxis: 600,
			PathLift:        2,
			MarkerHeight:    2,
			MarkerEveryMS:   200,
		},
		Portal: PortalSpec{
			Enabled:   true,
			Target:    [3]int{-1001, 101, -988},
			Tolerance: 1,
		},
		Debug: DebugSpec{ViewerAddr: "127.0.0.1:8090"},
		Data:  DataSpec{Dir: "./data", Index: "attempts.sqlite"},
	}
}

// Normalize fills zero values left by a partial file.
func (c *Config) Normalize() {
	d := Defaults()
	c.World.URL = strings.TrimSpace(c.World.URL)
	c.World.AgentName = strings.TrimSpace(c.World.AgentName)
	if c.World.LoginDelayMS < 0 {
		c.World.LoginDelayMS = 0
	}
	if c.World.ReconnectDelayMS <= 0 {
		c.World.ReconnectDelayMS = d.World.ReconnectDelayMS
	}
	if c.World.RestartDelayMS <= 0 {
		c.World.RestartDelayMS = d.World.RestartDelayMS
	}

	cs := &c.Captcha
	if cs.TileEntity == "" {
		cs.TileEntity = d.Captcha.TileEntity
	}
	if cs.Slots == (grid.SlotLayout{}) {
		cs.Slots = d.Captcha.Slots
	}
	if cs.PollMS <= 0 {
		cs.PollMS = d.Captcha.PollMS
	}
	if cs.SettleMS < 0 {
		cs.SettleMS = 0
	}
	if cs.MaxPollsPerAxis <= 0 {
		cs.MaxPollsPerAxis = d.Captcha.MaxPollsPerAxis
	}
	if cs.MarkerEveryMS <= 0 {
		cs.MarkerEveryMS = d.Captcha.MarkerEveryMS
	}
	if c.Portal.Tolerance <= 0 {
		c.Portal.Tolerance = d.Portal.Tolerance
	}
	if strings.TrimSpace(c.Data.Dir) == "" {
		c.Data.Dir = d.Data.Dir
	}
}

func (c Config) Validate() error {
	if c.World.URL == "" {
		return errors.New("world.url is required")
	}
	if !strings.HasPrefix(c.World.URL, "ws://") && !strings.HasPrefix(c.World.URL, "wss://") {
		return fmt.Errorf("world.url must be ws:// or wss://: %q", c.World.URL)
	}
	if c.World.AgentName == "" {
		return errors.New("world.agent_name is required")
	}
	if p := c.World.Proxy; p != "" && !strings.HasPrefix(p, "socks5://") {
		return fmt.Errorf("world.proxy must be a socks5:// url: %q", p)
	}
	cs := c.Captcha
	if cs.TileKind <= 0 {
		return fmt.Errorf("captcha.tile_kind must be positive: %d", cs.TileKind)
	}
	if cs.Tolerance <= 0 || cs.Tolerance >= 0.5 {
		return fmt.Errorf("captcha.tolerance must be in (0, 0.5): %v", cs.Tolerance)
	}
	s := cs.Slots
	if s.Offset <= 0 || s.Dimension <= 0 || s.Kind <= 0 {
		return fmt.Errorf("captcha.slots must be positive: %+v", s)
	}
	if s.Offset == s.Dimension || s.Offset == s.Kind || s.Dimension == s.Kind {
		return fmt.Errorf("captcha.slots must be distinct: %+v", s)
	}
	if cs.Start == cs.Goal {
		return errors.New("captcha.start and captcha.goal must differ")
	}
	return nil
}

// Solver converts the captcha section into solver configuration.
func (c Config) Solver() captcha.Config {
	cs := c.Captcha
	return captcha.Config{
		TileEntity:   cs.TileEntity,
		TileKind:     cs.TileKind,
		Slots:        cs.Slots,
		Start:        cs.Start,
		Goal:         cs.Goal,
		ExitOffset:   cs.ExitOffset,
		Debug:        c.Debug.Enabled,
		PathLift:     cs.PathLift,
		MarkerHeight: cs.MarkerHeight,
		MarkerEvery:  ms(cs.MarkerEveryMS),
		Steer: steer.Config{
			Tolerance:    cs.Tolerance,
			PollInterval: ms(cs.PollMS),
			Settle:       ms(cs.SettleMS),
			MaxPolls:     cs.MaxPollsPerAxis,
		},
	}
}

func (w WorldSpec) LoginDelay() time.Duration     { return ms(w.LoginDelayMS) }
func (w WorldSpec) ReconnectDelay() time.Duration { return ms(w.ReconnectDelayMS) }
func (w WorldSpec) RestartDelay() time.Duration   { return ms(w.RestartDelayMS) }

// IsRestartMessage reports whether a chat line announces a server restart.
func (w WorldSpec) IsRestartMessage(line string) bool {
	for _, m := range w.RestartMessages {
		if line == m {
			return true
		}
	}
	return false
}

// LoginPrompt is the chat line the server sends to unauthenticated players.
func (w WorldSpec) LoginPrompt() string {
	return w.AgentName + ", please login with the command: /login <password>"
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
