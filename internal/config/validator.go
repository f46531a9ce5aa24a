package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

var validate = validator.New()

// Validate checks struct tags first, then the rules that span fields
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%s", strings.Join(msgs, "; "))
		}
		return err
	}

	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	switch cfg.Stream.Source {
	case "gst":
		if cfg.Stream.URI == "" {
			return fmt.Errorf("stream.uri is required for source gst")
		}
	case "webcam":
		if cfg.Stream.Device < 0 {
			return fmt.Errorf("stream.device must be >= 0")
		}
	}

	if cfg.Landmark.Detector == "python" && cfg.Landmark.ModelPath == "" {
		return fmt.Errorf("landmark.model_path is required for detector python")
	}
	if cfg.Landmark.SyntheticClosed > cfg.Landmark.SyntheticPeriod {
		return fmt.Errorf("landmark.synthetic_closed (%d) must be <= synthetic_period (%d)",
			cfg.Landmark.SyntheticClosed, cfg.Landmark.SyntheticPeriod)
	}

	switch cfg.Alert.Speaker {
	case "command":
		if cfg.Alert.Command == "" {
			return fmt.Errorf("alert.command is required for speaker command")
		}
	case "elevenlabs":
		el := cfg.Alert.ElevenLabs
		if el.APIKey == "" {
			return fmt.Errorf("alert.elevenlabs.api_key is required (or set %s)", EnvElevenLabsAPIKey)
		}
		if el.VoiceID == "" {
			return fmt.Errorf("alert.elevenlabs.voice_id is required")
		}
		if el.PlayerCommand == "" {
			return fmt.Errorf("alert.elevenlabs.player_command is required")
		}
	}

	if cfg.MQTT.Enabled && cfg.MQTT.Topics.Control == cfg.MQTT.Topics.Events {
		return fmt.Errorf("mqtt.topics.control and mqtt.topics.events must differ")
	}

	return nil
}
