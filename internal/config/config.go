// Package config loads the service configuration from YAML with
// environment overrides and supports hot reload of the file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/feedpilot/feedpilot/internal/ai"
	"github.com/feedpilot/feedpilot/internal/browser/chromedriver"
	"github.com/feedpilot/feedpilot/internal/platform/douyin"
	"github.com/feedpilot/feedpilot/internal/platform/xhs"
)

// Config is the full service configuration. Runtime automation settings
// (rule groups, block keywords, comment targets) live in the settings
// store, not here; this file covers infrastructure and policy bounds.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Streaming StreamingConfig `mapstructure:"streaming"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	AI        ai.Config       `mapstructure:"ai"`
	Douyin    douyin.Config   `mapstructure:"douyin"`
	XHS       xhs.Config      `mapstructure:"xhs"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	StreamPrefix string `mapstructure:"stream_prefix"`
	StreamMaxLen int64  `mapstructure:"stream_max_len"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// EngineConfig bounds the session runner's pacing and engagement policy.
type EngineConfig struct {
	LikeProbability float64       `mapstructure:"like_probability"`
	EmptyFeedWait   time.Duration `mapstructure:"empty_feed_wait"`
	CommentInterval time.Duration `mapstructure:"comment_interval"`
	CommentBurst    int           `mapstructure:"comment_burst"`
}

type StreamingConfig struct {
	BufferCapacity int `mapstructure:"buffer_capacity"`
}

// BrowserConfig selects the Chrome profile per platform so login sessions
// stay isolated.
type BrowserConfig struct {
	Chrome      chromedriver.Config `mapstructure:"chrome"`
	ProfileRoot string              `mapstructure:"profile_root"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			GracefulTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{Path: "feedpilot.db"},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			StreamPrefix: "feedpilot:events",
			StreamMaxLen: 1024,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Engine: EngineConfig{
			LikeProbability: 0.2,
			EmptyFeedWait:   2 * time.Second,
			CommentInterval: 10 * time.Second,
			CommentBurst:    1,
		},
		Streaming: StreamingConfig{BufferCapacity: 256},
		Browser: BrowserConfig{
			Chrome:      chromedriver.DefaultConfig(),
			ProfileRoot: "profiles",
		},
		AI:     ai.DefaultConfig(),
		Douyin: douyin.DefaultConfig(),
		XHS:    xhs.DefaultConfig(),
	}
}

// Load reads the configuration file at path, or CONFIG_PATH when path is
// empty. A missing file yields the defaults; a malformed one is an error.
// Environment variables override file values with the FEEDPILOT_ prefix
// and underscores for nesting (FEEDPILOT_SERVER_ADDR).
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}

	v := viper.New()
	v.SetEnvPrefix("FEEDPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the service cannot run with.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path must not be empty")
	}
	if c.Engine.LikeProbability < 0 || c.Engine.LikeProbability > 1 {
		return fmt.Errorf("engine.like_probability must be in [0, 1]")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be set when redis is enabled")
	}
	if c.Streaming.BufferCapacity <= 0 {
		return fmt.Errorf("streaming.buffer_capacity must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.graceful_timeout", d.Server.GracefulTimeout)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.stream_prefix", d.Redis.StreamPrefix)
	v.SetDefault("redis.stream_max_len", d.Redis.StreamMaxLen)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("engine.like_probability", d.Engine.LikeProbability)
	v.SetDefault("engine.empty_feed_wait", d.Engine.EmptyFeedWait)
	v.SetDefault("engine.comment_interval", d.Engine.CommentInterval)
	v.SetDefault("engine.comment_burst", d.Engine.CommentBurst)
	v.SetDefault("streaming.buffer_capacity", d.Streaming.BufferCapacity)
	v.SetDefault("browser.profile_root", d.Browser.ProfileRoot)
	v.SetDefault("browser.chrome.headless", d.Browser.Chrome.Headless)
	v.SetDefault("browser.chrome.window_width", d.Browser.Chrome.WindowWidth)
	v.SetDefault("browser.chrome.window_height", d.Browser.Chrome.WindowHeight)
	v.SetDefault("ai.base_url", d.AI.BaseURL)
	v.SetDefault("ai.model", d.AI.Model)
	v.SetDefault("ai.timeout", d.AI.Timeout)
	v.SetDefault("ai.max_tokens", d.AI.MaxTokens)
	v.SetDefault("douyin.comment_band", d.Douyin.CommentBand[:])
	v.SetDefault("douyin.publish_ack_timeout", d.Douyin.PublishAckTimeout)
	v.SetDefault("douyin.comment_list_timeout", d.Douyin.CommentListTimeout)
	v.SetDefault("douyin.verify_appear_wait", d.Douyin.VerifyAppearWait)
	v.SetDefault("douyin.verify_clear_timeout", d.Douyin.VerifyClearTimeout)
	v.SetDefault("douyin.video_load_timeout", d.Douyin.VideoLoadTimeout)
	v.SetDefault("xhs.note_click_timeout", d.XHS.NoteClickTimeout)
	v.SetDefault("xhs.comment_open_timeout", d.XHS.CommentOpenTimeout)
	v.SetDefault("xhs.like_timeout", d.XHS.LikeTimeout)
	v.SetDefault("xhs.submit_confirm_timeout", d.XHS.SubmitConfirmTimeout)
	v.SetDefault("xhs.content_load_timeout", d.XHS.ContentLoadTimeout)
	v.SetDefault("xhs.scroll_distance", d.XHS.ScrollDistance)
}
