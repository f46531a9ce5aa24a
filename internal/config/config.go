// Package config loads the focus sensor configuration from YAML, the
// process environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete sensor configuration
type Config struct {
	InstanceID       string          `yaml:"instance_id" validate:"required"`
	ShutdownTimeoutS int             `yaml:"shutdown_timeout_s" validate:"gte=0"` // graceful shutdown timeout (default: 5)
	Detection        DetectionConfig `yaml:"detection"`
	Stream           StreamConfig    `yaml:"stream"`
	Landmark         LandmarkConfig  `yaml:"landmark"`
	Alert            AlertConfig     `yaml:"alert"`
	Render           RenderConfig    `yaml:"render"`
	HTTP             HTTPConfig      `yaml:"http"`
	MQTT             MQTTConfig      `yaml:"mqtt"`
	Log              LogConfig       `yaml:"log"`
}

// DetectionConfig contains the eye-state classification settings
type DetectionConfig struct {
	EARThreshold float64 `yaml:"ear_threshold" validate:"gt=0,lt=1"`

	// RoundDecimals is nil when unset. The threshold lies in (0,1), so
	// rounding to whole numbers would make every verdict identical and is
	// rejected.
	RoundDecimals *int `yaml:"round_decimals" validate:"required,gte=1,lte=6"`
}

// StreamConfig selects and configures the frame source
type StreamConfig struct {
	Source        string  `yaml:"source" validate:"oneof=mock webcam gst"`
	URI           string  `yaml:"uri"`    // gst: rtsp url or file path
	Device        int     `yaml:"device"` // webcam index
	Width         int     `yaml:"width" validate:"gt=0"`
	Height        int     `yaml:"height" validate:"gt=0"`
	FPS           float64 `yaml:"fps" validate:"gt=0,lte=60"`
	MaxFrames     uint64  `yaml:"max_frames"` // mock: 0 = endless
	ReadTimeoutMS int     `yaml:"read_timeout_ms" validate:"gte=0"`
	LatencyMS     int     `yaml:"latency_ms"`
	MaxRetries    int     `yaml:"max_retries" validate:"gte=0"`
}

// LandmarkConfig selects the face landmark detector
type LandmarkConfig struct {
	Detector         string   `yaml:"detector" validate:"oneof=python synthetic"`
	Command          string   `yaml:"command"`
	Args             []string `yaml:"args"`
	ModelPath        string   `yaml:"model_path"`
	Upsample         int      `yaml:"upsample" validate:"gte=0"`
	RequestTimeoutMS int      `yaml:"request_timeout_ms" validate:"gte=0"`
	// synthetic detector: eyes closed for SyntheticClosed out of every SyntheticPeriod frames
	SyntheticPeriod uint64 `yaml:"synthetic_period"`
	SyntheticClosed uint64 `yaml:"synthetic_closed"`
}

// AlertConfig configures the alert dispatcher and speaker
type AlertConfig struct {
	Message        string           `yaml:"message"`
	Speaker        string           `yaml:"speaker" validate:"oneof=log command elevenlabs"`
	Command        string           `yaml:"command"`
	Args           []string         `yaml:"args"`
	QueueSize      int              `yaml:"queue_size" validate:"gte=1"`
	CooldownMS     int              `yaml:"cooldown_ms" validate:"gte=0"`
	SpeakTimeoutMS int              `yaml:"speak_timeout_ms" validate:"gte=0"`
	ElevenLabs     ElevenLabsConfig `yaml:"elevenlabs"`
}

// ElevenLabsConfig configures the ElevenLabs speaker
type ElevenLabsConfig struct {
	APIKey        string   `yaml:"api_key"`
	VoiceID       string   `yaml:"voice_id"`
	ModelID       string   `yaml:"model_id"`
	BaseURL       string   `yaml:"base_url" validate:"omitempty,url"`
	PlayerCommand string   `yaml:"player_command"`
	PlayerArgs    []string `yaml:"player_args"`
	CacheAudio    bool     `yaml:"cache_audio"`
}

// RenderConfig configures frame annotation
type RenderConfig struct {
	JPEGQuality int `yaml:"jpeg_quality" validate:"gte=1,lte=100"`
}

// HTTPConfig configures the health/session/viewer server
type HTTPConfig struct {
	Addr string `yaml:"addr"` // empty disables the server
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Broker   string          `yaml:"broker" validate:"required_if=Enabled true"`
	Username string          `yaml:"username"`
	Password string          `yaml:"password"`
	Topics   MQTTTopics      `yaml:"topics"`
	QoS      map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic prefixes
type MQTTTopics struct {
	Control string `yaml:"control"`
	Events  string `yaml:"events"`
}

// LogConfig configures slog output
type LogConfig struct {
	Level      string `yaml:"level" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" validate:"oneof=text json"`
	File       string `yaml:"file"` // empty = stderr only
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Environment overrides
const (
	EnvMQTTBroker       = "FOCUS_MQTT_BROKER"
	EnvMQTTUsername     = "FOCUS_MQTT_USERNAME"
	EnvMQTTPassword     = "FOCUS_MQTT_PASSWORD"
	EnvElevenLabsAPIKey = "FOCUS_ELEVENLABS_API_KEY"
	EnvHTTPAddr         = "FOCUS_HTTP_ADDR"
)

// Default returns a configuration that runs without any hardware:
// mock frames, synthetic landmarks, log speaker, no MQTT.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Load reads and parses a YAML configuration file, applies defaults and
// environment overrides, and validates the result. An empty path loads
// the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	ApplyEnv(cfg)
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	slog.Debug("config: loaded",
		"path", path,
		"instance_id", cfg.InstanceID,
		"source", cfg.Stream.Source,
		"detector", cfg.Landmark.Detector,
		"speaker", cfg.Alert.Speaker,
		"mqtt", cfg.MQTT.Enabled,
	)

	return cfg, nil
}

// ApplyEnv overrides secrets and endpoints from the environment
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvMQTTBroker); v != "" {
		cfg.MQTT.Broker = v
		cfg.MQTT.Enabled = true
	}
	if v := os.Getenv(EnvMQTTUsername); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv(EnvMQTTPassword); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv(EnvElevenLabsAPIKey); v != "" {
		cfg.Alert.ElevenLabs.APIKey = v
	}
	if v := os.Getenv(EnvHTTPAddr); v != "" {
		cfg.HTTP.Addr = v
	}
}

// ApplyDefaults fills every unset field
func ApplyDefaults(cfg *Config) {
	if cfg.InstanceID == "" {
		cfg.InstanceID = defaultInstanceID()
	}
	if cfg.ShutdownTimeoutS == 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if cfg.Detection.EARThreshold == 0 {
		cfg.Detection.EARThreshold = 0.15
	}
	if cfg.Detection.RoundDecimals == nil {
		decimals := 2
		cfg.Detection.RoundDecimals = &decimals
	}

	s := &cfg.Stream
	if s.Source == "" {
		s.Source = "mock"
	}
	if s.Width == 0 {
		s.Width = 640
	}
	if s.Height == 0 {
		s.Height = 480
	}
	if s.FPS == 0 {
		s.FPS = 15
	}
	if s.ReadTimeoutMS == 0 {
		s.ReadTimeoutMS = 5000
	}
	if s.MaxRetries == 0 {
		s.MaxRetries = 5
	}

	l := &cfg.Landmark
	if l.Detector == "" {
		l.Detector = "synthetic"
	}
	if l.Command == "" {
		l.Command = "models/run_worker.sh"
	}
	if l.RequestTimeoutMS == 0 {
		l.RequestTimeoutMS = 2000
	}
	if l.SyntheticPeriod == 0 {
		l.SyntheticPeriod = 30
	}
	if l.SyntheticClosed == 0 {
		l.SyntheticClosed = 5
	}

	a := &cfg.Alert
	if a.Message == "" {
		a.Message = "Alert! Wake up!"
	}
	if a.Speaker == "" {
		a.Speaker = "log"
	}
	if a.QueueSize == 0 {
		a.QueueSize = 4
	}
	if a.SpeakTimeoutMS == 0 {
		a.SpeakTimeoutMS = 10000
	}

	if cfg.Render.JPEGQuality == 0 {
		cfg.Render.JPEGQuality = 80
	}

	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("focus/control/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Events == "" {
		cfg.MQTT.Topics.Events = fmt.Sprintf("focus/events/%s", cfg.InstanceID)
	}
	if cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = map[string]byte{
			"control":         1,
			"session_started": 1,
			"session_summary": 1,
			"focus_lost":      0,
		}
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 50
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 3
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 7
	}
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "focus-sensor"
	}
	id := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, host)
	return "focus-" + id
}
