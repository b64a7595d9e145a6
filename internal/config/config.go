package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	JoinLimit       int           `mapstructure:"join_limit"`
	JoinLimitWindow time.Duration `mapstructure:"join_limit_window"`

	MetricsEnabled bool `mapstructure:"metrics_enabled"`

	// Client-side knobs. The health monitor and the speaker tracker share
	// one periodic clock; none of these are derived from any rendering
	// frame rate.
	STUNServers       []string      `mapstructure:"stun_servers"`
	TickInterval      time.Duration `mapstructure:"tick_interval"`
	SpeakingThreshold float64       `mapstructure:"speaking_threshold"`
	SpeakingHold      time.Duration `mapstructure:"speaking_hold"`
	SilenceThreshold  float64       `mapstructure:"silence_threshold"`
	SilenceWindow     time.Duration `mapstructure:"silence_window"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("join_limit", 10)
	v.SetDefault("join_limit_window", "1m")
	v.SetDefault("metrics_enabled", true)
	v.SetDefault("stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("tick_interval", "200ms")
	v.SetDefault("speaking_threshold", 0.08)
	v.SetDefault("speaking_hold", "3s")
	v.SetDefault("silence_threshold", 0.01)
	v.SetDefault("silence_window", "10s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Static: %s\n", cfg.Mode, cfg.Port, cfg.StaticPath)
	return &cfg, nil
}
