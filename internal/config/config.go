package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pion/webrtc/v3"
)

var ErrTURNCredentials = errors.New("turn servers require username and credential")

type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	Signaling SignalingConfig `yaml:"signaling"`
	WebRTC    WebRTCConfig    `yaml:"webrtc"`
	Capture   CaptureConfig   `yaml:"capture"`
}

type HTTPConfig struct {
	Address        string   `yaml:"address" env:"SIGNALING_ADDRESS" env-default:""`
	Port           string   `yaml:"port" env:"SIGNALING_PORT" env-default:""`
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" env-separator:","`
}

type SignalingConfig struct {
	URL              string        `yaml:"url" env:"SIGNALING_URL" env-default:""`
	PingInterval     time.Duration `yaml:"ping_interval" env-default:"20s"`
	PongWait         time.Duration `yaml:"pong_wait" env-default:"30s"`
	WriteWait        time.Duration `yaml:"write_wait" env-default:"10s"`
	OutboxSize       int           `yaml:"outbox_size" env-default:"64"`
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff" env-default:"2s"`
	MaxMessageSize   int64         `yaml:"max_message_size" env-default:"1048576"`
	// EmptySessionTTL is how long a created session waits for its first
	// participant before it is collected.
	EmptySessionTTL time.Duration `yaml:"empty_session_ttl" env-default:"10m"`
	JanitorInterval time.Duration `yaml:"janitor_interval" env-default:"1m"`
}

type WebRTCConfig struct {
	STUNServers     []string `yaml:"stun_servers" env:"STUN_SERVERS" env-separator:","`
	TURNServers     []string `yaml:"turn_servers" env:"TURN_SERVERS" env-separator:","`
	TURNUsername    string   `yaml:"turn_username" env:"TURN_USERNAME"`
	TURNCredential  string   `yaml:"turn_credential" env:"TURN_CREDENTIAL"`
	IncludeLoopback bool     `yaml:"include_loopback" env-default:"false"`
	LogLevel        string   `yaml:"log_level" env:"WEBRTC_LOG_LEVEL" env-default:"warn"`
	// RetryLimit bounds the re-offers of a failed link; zero retries forever.
	RetryLimit int `yaml:"retry_limit" env-default:"5"`
}

type CaptureConfig struct {
	FrameInterval time.Duration `yaml:"frame_interval" env-default:"100ms"`
	JPEGQuality   int           `yaml:"jpeg_quality" env-default:"70"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadPath(configPath)
}

func MustLoadPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("cannot read config: " + err.Error())
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		panic("invalid config: " + err.Error())
	}

	return &cfg
}

// Load reads the configuration from the environment only. Desktop clients
// use it; they ship without a config file.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	if res == "" {
		res = "config/local.yaml"
	}

	return res
}

func (c *Config) setDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.HTTP.Port != "" {
		host, _, err := net.SplitHostPort(c.HTTP.Address)
		if err != nil {
			host = ""
		}
		c.HTTP.Address = net.JoinHostPort(host, c.HTTP.Port)
	}
	if len(c.HTTP.AllowedOrigins) == 0 {
		c.HTTP.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if c.Signaling.URL == "" {
		c.Signaling.URL = "ws://localhost" + c.HTTP.Address
	}
	if c.Signaling.OutboxSize <= 0 {
		c.Signaling.OutboxSize = 64
	}
	if c.Signaling.EmptySessionTTL <= 0 {
		c.Signaling.EmptySessionTTL = 10 * time.Minute
	}
	if c.Signaling.JanitorInterval <= 0 {
		c.Signaling.JanitorInterval = time.Minute
	}
	if c.Signaling.PongWait <= c.Signaling.PingInterval {
		c.Signaling.PongWait = c.Signaling.PingInterval * 3 / 2
	}
	if len(c.WebRTC.STUNServers) == 0 {
		c.WebRTC.STUNServers = []string{"stun:stun.l.google.com:19302"}
	}
	if c.Capture.FrameInterval <= 0 {
		c.Capture.FrameInterval = 100 * time.Millisecond
	}
	if c.Capture.JPEGQuality <= 0 || c.Capture.JPEGQuality > 100 {
		c.Capture.JPEGQuality = 70
	}
}

func (c *Config) Validate() error {
	if len(nonEmpty(c.WebRTC.TURNServers)) > 0 && (c.WebRTC.TURNUsername == "" || c.WebRTC.TURNCredential == "") {
		return ErrTURNCredentials
	}
	if c.Signaling.PingInterval <= 0 {
		return errors.New("signaling ping interval must be positive")
	}
	return nil
}

// ICEServers returns the STUN and TURN servers in the form pion expects.
func (c WebRTCConfig) ICEServers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if stun := nonEmpty(c.STUNServers); len(stun) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}
	if turn := nonEmpty(c.TURNServers); len(turn) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:           turn,
			Username:       c.TURNUsername,
			Credential:     c.TURNCredential,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	return servers
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
