package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/SamatmaAB/thermoguard/internal/controller"
	"github.com/SamatmaAB/thermoguard/internal/logger"
	"github.com/SamatmaAB/thermoguard/internal/machine"
)

// Config is the top-level TOML structure. Everything here is supplied at
// startup and treated as immutable for the lifetime of the supervisor;
// thresholds in particular are never reconfigured at runtime.
type Config struct {
	Worker     controller.Spec    `mapstructure:"worker"`
	Thresholds machine.Thresholds `mapstructure:"thresholds"`
	Supervisor SupervisorConfig   `mapstructure:"supervisor"`
	Sensor     SensorConfig       `mapstructure:"sensor"`
	Notify     NotifyConfig       `mapstructure:"notify"`
	Metrics    MetricsConfig      `mapstructure:"metrics"`
	Server     ServerConfig       `mapstructure:"server"`
	Log        logger.Config      `mapstructure:"log"`
}

type SupervisorConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	DataDir      string        `mapstructure:"data_dir"`
	// StateDSN selects the state store backend: a bare path means a JSON
	// state file, "sqlite://<path>" and "postgres://..." select SQL
	// backends. Defaults to <data_dir>/state.json.
	StateDSN string `mapstructure:"state_dsn"`
}

type SensorConfig struct {
	VCGenCmd    string `mapstructure:"vcgencmd"`     // binary override, default "vcgencmd"
	ThermalZone string `mapstructure:"thermal_zone"` // sysfs path override
}

type NotifyConfig struct {
	Discord DiscordConfig `mapstructure:"discord"`
}

type DiscordConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Token      string   `mapstructure:"token"` // falls back to env DISCORD_TOKEN
	ChannelIDs []string `mapstructure:"channel_ids"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type ServerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

// Load reads and validates the TOML config at path. The Discord token may
// come from the DISCORD_TOKEN environment variable instead of the file so
// secrets stay out of version control.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetDefault("supervisor.poll_interval", 10*time.Second)
	v.SetDefault("supervisor.data_dir", "/var/lib/thermoguard")
	def := machine.DefaultThresholds()
	v.SetDefault("thresholds.throttle_c", def.Throttle)
	v.SetDefault("thresholds.kill_c", def.Kill)
	v.SetDefault("thresholds.cool_c", def.Cool)
	v.SetDefault("thresholds.throttle_max", def.ThrottleMax)
	v.SetDefault("worker.throttle_nice", controller.DefaultThrottleNice)
	v.SetDefault("metrics.listen", ":9464")
	v.SetDefault("server.listen", ":8080")

	_ = v.BindEnv("notify.discord.token", "DISCORD_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.applyDerivedDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDerivedDefaults fills paths that hang off data_dir.
func (c *Config) applyDerivedDefaults() {
	if c.Worker.PIDFile == "" && c.Worker.Name != "" {
		c.Worker.PIDFile = filepath.Join(c.Supervisor.DataDir, c.Worker.Name+".pid")
	}
	if c.Supervisor.StateDSN == "" {
		c.Supervisor.StateDSN = filepath.Join(c.Supervisor.DataDir, "state.json")
	}
	// Worker output follows the supervisor's log directory unless routed explicitly.
	c.Worker.Log = c.Log
}

// Validate rejects configurations the supervisor cannot run with.
func (c *Config) Validate() error {
	if err := c.Worker.Validate(); err != nil {
		return err
	}
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if c.Supervisor.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be > 0, got %v", c.Supervisor.PollInterval)
	}
	if strings.TrimSpace(c.Supervisor.DataDir) == "" {
		return fmt.Errorf("supervisor.data_dir is required")
	}
	if c.Notify.Discord.Enabled {
		if strings.TrimSpace(c.Notify.Discord.Token) == "" {
			return fmt.Errorf("discord notifications enabled but no token configured (set notify.discord.token or DISCORD_TOKEN)")
		}
		if len(c.Notify.Discord.ChannelIDs) == 0 {
			return fmt.Errorf("discord notifications enabled but no channel_ids configured")
		}
	}
	return nil
}
