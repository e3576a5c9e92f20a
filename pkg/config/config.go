package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Client struct {
		DisplayName string `yaml:"display_name"`
		IDToken     string `yaml:"id_token"`
	} `yaml:"client"`

	API struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
		Retry   struct {
			Enabled      bool          `yaml:"enabled"`
			MaxAttempts  int           `yaml:"max_attempts"`
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
		} `yaml:"retry"`
		CircuitBreaker struct {
			FailureThreshold int           `yaml:"failure_threshold"`
			SuccessThreshold int           `yaml:"success_threshold"`
			Timeout          time.Duration `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"api"`

	Signal struct {
		URL              string        `yaml:"url"`
		PingInterval     time.Duration `yaml:"ping_interval"`
		PongTimeout      time.Duration `yaml:"pong_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxMessageSize   int64         `yaml:"max_message_size"`
		ReconnectInitial time.Duration `yaml:"reconnect_initial"`
		ReconnectMax     time.Duration `yaml:"reconnect_max"`
	} `yaml:"signal"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
		PortRange  struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"webrtc"`

	Media struct {
		PreferAudioOnly   bool   `yaml:"prefer_audio_only"`
		StartVideoEnabled bool   `yaml:"start_video_enabled"`
		StartAudioEnabled bool   `yaml:"start_audio_enabled"`
		VideoBitrate      int    `yaml:"video_bitrate"`
		AudioBitrate      int    `yaml:"audio_bitrate"`
		MTU               uint16 `yaml:"mtu"`
	} `yaml:"media"`

	Presence struct {
		SelfHealGrace  time.Duration `yaml:"self_heal_grace"`
		ResyncInterval time.Duration `yaml:"resync_interval"`
	} `yaml:"presence"`

	Chat struct {
		MessagesPerSecond float64 `yaml:"messages_per_second"`
		Burst             int     `yaml:"burst"`
		HistoryLimit      int     `yaml:"history_limit"`
	} `yaml:"chat"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Address  string        `yaml:"address"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		PoolSize int           `yaml:"pool_size"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"redis"`

	Diagnostics struct {
		Enabled bool   `yaml:"enabled"`
		Address string `yaml:"address"`
	} `yaml:"diagnostics"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		Endpoint    string  `yaml:"endpoint"`
		SampleRate  float64 `yaml:"sample_rate"`
		Environment string  `yaml:"environment"`
	} `yaml:"tracing"`

	Identity struct {
		DevSecret string `yaml:"dev_secret"`
	} `yaml:"identity"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// API
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url must not be empty")
	}
	if _, err := url.ParseRequestURI(c.API.BaseURL); err != nil {
		return fmt.Errorf("api.base_url is not a valid url: %w", err)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be > 0")
	}
	if c.API.Retry.Enabled && c.API.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("api.retry.max_attempts must be > 0 when retry is enabled")
	}
	if c.API.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("api.circuit_breaker.failure_threshold must be > 0")
	}

	// Signal
	if c.Signal.URL == "" {
		return fmt.Errorf("signal.url must not be empty")
	}
	u, err := url.Parse(c.Signal.URL)
	if err != nil {
		return fmt.Errorf("signal.url is not a valid url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("signal.url must use ws or wss, got %q", u.Scheme)
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be greater than signal.ping_interval")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}
	if c.Signal.MaxMessageSize <= 0 {
		return fmt.Errorf("signal.max_message_size must be > 0")
	}
	if c.Signal.ReconnectInitial <= 0 || c.Signal.ReconnectMax < c.Signal.ReconnectInitial {
		return fmt.Errorf("signal.reconnect_initial must be > 0 and <= reconnect_max")
	}

	// WebRTC
	if len(c.WebRTC.ICEServers) == 0 {
		return fmt.Errorf("webrtc.ice_servers must not be empty")
	}
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}

	// Media
	if c.Media.VideoBitrate <= 0 || c.Media.AudioBitrate <= 0 {
		return fmt.Errorf("media bitrates must be > 0")
	}
	if c.Media.MTU < 576 {
		return fmt.Errorf("media.mtu must be >= 576")
	}

	// Presence
	if c.Presence.SelfHealGrace <= 0 {
		return fmt.Errorf("presence.self_heal_grace must be > 0")
	}
	if c.Presence.ResyncInterval < 0 {
		return fmt.Errorf("presence.resync_interval must be >= 0")
	}

	// Chat
	if c.Chat.MessagesPerSecond <= 0 || c.Chat.Burst <= 0 {
		return fmt.Errorf("chat.messages_per_second and chat.burst must be > 0")
	}
	if c.Chat.HistoryLimit <= 0 {
		return fmt.Errorf("chat.history_limit must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Diagnostics
	if c.Diagnostics.Enabled && c.Diagnostics.Address == "" {
		return fmt.Errorf("diagnostics.address must not be empty when diagnostics.enabled=true")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing.endpoint must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.API.BaseURL = "http://localhost:5000"
	cfg.API.Timeout = 10 * time.Second
	cfg.API.Retry.Enabled = true
	cfg.API.Retry.MaxAttempts = 3
	cfg.API.Retry.InitialDelay = 200 * time.Millisecond
	cfg.API.Retry.MaxDelay = 2 * time.Second
	cfg.API.CircuitBreaker.FailureThreshold = 5
	cfg.API.CircuitBreaker.SuccessThreshold = 2
	cfg.API.CircuitBreaker.Timeout = 30 * time.Second

	cfg.Signal.URL = "ws://localhost:5000/ws"
	cfg.Signal.PingInterval = 25 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.MaxMessageSize = 1 << 20
	cfg.Signal.ReconnectInitial = 500 * time.Millisecond
	cfg.Signal.ReconnectMax = 30 * time.Second

	cfg.WebRTC.ICEServers = []ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"stun:global.stun.twilio.com:3478"}},
	}

	cfg.Media.StartVideoEnabled = true
	cfg.Media.StartAudioEnabled = true
	cfg.Media.VideoBitrate = 1_000_000
	cfg.Media.AudioBitrate = 32_000
	cfg.Media.MTU = 1200

	cfg.Presence.SelfHealGrace = 500 * time.Millisecond
	cfg.Presence.ResyncInterval = 0

	cfg.Chat.MessagesPerSecond = 2
	cfg.Chat.Burst = 5
	cfg.Chat.HistoryLimit = 200

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "console"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.TTL = 24 * time.Hour

	cfg.Diagnostics.Enabled = false
	cfg.Diagnostics.Address = "127.0.0.1:7070"

	cfg.Tracing.Enabled = false
	cfg.Tracing.Endpoint = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0
	cfg.Tracing.Environment = "development"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("HUDDLE_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("HUDDLE_SIGNAL_URL"); v != "" {
		c.Signal.URL = v
	}
	if v := os.Getenv("HUDDLE_ID_TOKEN"); v != "" {
		c.Client.IDToken = v
	}
	if v := os.Getenv("HUDDLE_DISPLAY_NAME"); v != "" {
		c.Client.DisplayName = v
	}
	if v := os.Getenv("HUDDLE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("HUDDLE_REDIS_ADDRESS"); v != "" {
		c.Redis.Address = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("HUDDLE_DIAGNOSTICS_ADDRESS"); v != "" {
		c.Diagnostics.Address = v
		c.Diagnostics.Enabled = true
	}
	if v := os.Getenv("HUDDLE_DEV_SECRET"); v != "" {
		c.Identity.DevSecret = v
	}
	if v := os.Getenv("HUDDLE_AUDIO_ONLY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Media.PreferAudioOnly = b
		}
	}
}
