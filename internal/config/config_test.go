package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Default() is invalid: %v", err)
	}

	if cfg.Detection.EARThreshold != 0.15 {
		t.Errorf("EARThreshold = %v, want 0.15", cfg.Detection.EARThreshold)
	}
	if cfg.Detection.RoundDecimals == nil || *cfg.Detection.RoundDecimals != 2 {
		t.Errorf("RoundDecimals = %v, want 2", cfg.Detection.RoundDecimals)
	}
	if cfg.Stream.ReadTimeoutMS != 5000 {
		t.Errorf("ReadTimeoutMS = %d, want 5000", cfg.Stream.ReadTimeoutMS)
	}
	if cfg.Alert.Message != "Alert! Wake up!" {
		t.Errorf("Alert.Message = %q", cfg.Alert.Message)
	}
	if !strings.HasPrefix(cfg.MQTT.Topics.Events, "focus/events/") {
		t.Errorf("Topics.Events = %q", cfg.MQTT.Topics.Events)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, `
instance_id: cab-7
detection:
  ear_threshold: 0.2
stream:
  source: gst
  uri: rtsp://10.0.0.5/stream
  fps: 10
alert:
  speaker: command
  command: espeak
  args: ["-s", "150"]
  cooldown_ms: 3000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.InstanceID != "cab-7" {
		t.Errorf("InstanceID = %q", cfg.InstanceID)
	}
	if cfg.Detection.EARThreshold != 0.2 {
		t.Errorf("EARThreshold = %v, want 0.2", cfg.Detection.EARThreshold)
	}
	if cfg.Stream.Source != "gst" || cfg.Stream.FPS != 10 {
		t.Errorf("Stream = %+v", cfg.Stream)
	}
	if cfg.Stream.Width != 640 {
		t.Errorf("Width default not applied: %d", cfg.Stream.Width)
	}
	if cfg.Alert.CooldownMS != 3000 || len(cfg.Alert.Args) != 2 {
		t.Errorf("Alert = %+v", cfg.Alert)
	}
	if cfg.MQTT.Topics.Control != "focus/control/cab-7" {
		t.Errorf("Topics.Control = %q", cfg.MQTT.Topics.Control)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvMQTTBroker, "tcp://broker:1883")
	t.Setenv(EnvMQTTPassword, "s3cret")
	t.Setenv(EnvHTTPAddr, ":9090")

	cfg, err := Load(writeConfig(t, "instance_id: env-test\n"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if !cfg.MQTT.Enabled || cfg.MQTT.Broker != "tcp://broker:1883" {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}
	if cfg.MQTT.Password != "s3cret" {
		t.Errorf("Password not overridden")
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("HTTP.Addr = %q", cfg.HTTP.Addr)
	}
}

func TestLoad_RoundDecimals(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		wantErr bool
	}{
		{"unset uses default", "detection:\n  ear_threshold: 0.2\n", 2, false},
		{"explicit value kept", "detection:\n  round_decimals: 3\n", 3, false},
		{"explicit zero rejected", "detection:\n  round_decimals: 0\n", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, "instance_id: round-test\n"+tt.body))
			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), "RoundDecimals") {
					t.Fatalf("Load() error = %v, want RoundDecimals validation error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			if got := *cfg.Detection.RoundDecimals; got != tt.want {
				t.Errorf("RoundDecimals = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad instance id", func(c *Config) { c.InstanceID = "Cab 7" }, "instance_id"},
		{"unknown source", func(c *Config) { c.Stream.Source = "vhs" }, "Source"},
		{"gst without uri", func(c *Config) { c.Stream.Source = "gst" }, "stream.uri"},
		{"threshold out of range", func(c *Config) { c.Detection.EARThreshold = 1.5 }, "EARThreshold"},
		{"python without model", func(c *Config) { c.Landmark.Detector = "python" }, "model_path"},
		{"command without binary", func(c *Config) { c.Alert.Speaker = "command" }, "alert.command"},
		{"elevenlabs without key", func(c *Config) { c.Alert.Speaker = "elevenlabs" }, "api_key"},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true }, "Broker"},
		{"synthetic closed > period", func(c *Config) { c.Landmark.SyntheticClosed = 100 }, "synthetic_closed"},
		{"integer rounding", func(c *Config) { zero := 0; c.Detection.RoundDecimals = &zero }, "RoundDecimals"},
		{"unset rounding", func(c *Config) { c.Detection.RoundDecimals = nil }, "RoundDecimals"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "focus.yaml"))
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.Stream.Source != "webcam" || cfg.Landmark.Detector != "python" {
		t.Errorf("unexpected example config: source=%s detector=%s", cfg.Stream.Source, cfg.Landmark.Detector)
	}
	if len(cfg.Alert.Args) != 3 || cfg.Alert.Args[2] != "{text}" {
		t.Errorf("Alert.Args = %v", cfg.Alert.Args)
	}
}
