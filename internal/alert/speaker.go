package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

// TextPlaceholder in command arguments is replaced by the alert text
const TextPlaceholder = "{text}"

// LogSpeaker writes alerts to the log only
type LogSpeaker struct{}

// Speak logs the alert text
func (LogSpeaker) Speak(_ context.Context, text string) error {
	slog.Warn("alert: focus lost", "text", text)
	return nil
}

// CommandSpeaker runs an external text-to-speech program per alert
// (espeak, say, spd-say).
type CommandSpeaker struct {
	Command string
	Args    []string
}

// NewCommandSpeaker validates the command exists on PATH
func NewCommandSpeaker(command string, args []string) (*CommandSpeaker, error) {
	if command == "" {
		return nil, fmt.Errorf("alert: speaker command is required")
	}
	if _, err := exec.LookPath(command); err != nil {
		return nil, fmt.Errorf("alert: speaker command %q not found: %w", command, err)
	}
	return &CommandSpeaker{Command: command, Args: args}, nil
}

// Speak runs the command, substituting the text placeholder or appending
// the text as the last argument.
func (s *CommandSpeaker) Speak(ctx context.Context, text string) error {
	cmd := exec.CommandContext(ctx, s.Command, expandArgs(s.Args, text)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("alert: %s failed: %w (stderr: %s)", s.Command, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func expandArgs(args []string, text string) []string {
	out := make([]string, 0, len(args)+1)
	substituted := false
	for _, a := range args {
		if strings.Contains(a, TextPlaceholder) {
			a = strings.ReplaceAll(a, TextPlaceholder, text)
			substituted = true
		}
		out = append(out, a)
	}
	if !substituted {
		out = append(out, text)
	}
	return out
}

// ElevenLabs defaults
const (
	DefaultElevenLabsURL   = "https://api.elevenlabs.io/v1/text-to-speech/"
	DefaultElevenLabsModel = "eleven_multilingual_v2"
)

// ElevenLabsConfig configures the ElevenLabs speaker
type ElevenLabsConfig struct {
	APIKey  string
	VoiceID string
	ModelID string
	// BaseURL overrides the API endpoint (voice id is appended)
	BaseURL string
	// PlayerCommand receives the MP3 on stdin (e.g. "mpg123 -q -")
	PlayerCommand string
	PlayerArgs    []string
	// CacheAudio keeps the synthesized audio per text, so repeated
	// alerts do not hit the API again.
	CacheAudio bool
}

// ElevenLabsSpeaker synthesizes speech over HTTP and pipes it to a player
type ElevenLabsSpeaker struct {
	cfg    ElevenLabsConfig
	client *http.Client

	cache map[string][]byte // only touched by the dispatcher worker
}

// NewElevenLabsSpeaker creates an ElevenLabs speaker
func NewElevenLabsSpeaker(cfg ElevenLabsConfig) (*ElevenLabsSpeaker, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("alert: elevenlabs api key is required")
	}
	if cfg.VoiceID == "" {
		return nil, fmt.Errorf("alert: elevenlabs voice id is required")
	}
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultElevenLabsModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultElevenLabsURL
	}

	return &ElevenLabsSpeaker{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		cache:  make(map[string][]byte),
	}, nil
}

// Speak synthesizes the text and plays it
func (s *ElevenLabsSpeaker) Speak(ctx context.Context, text string) error {
	audio, ok := s.cache[text]
	if !ok {
		var err error
		audio, err = s.Synthesize(ctx, text)
		if err != nil {
			return err
		}
		if s.cfg.CacheAudio {
			s.cache[text] = audio
		}
	}

	if s.cfg.PlayerCommand == "" {
		slog.Debug("alert: no player configured, audio discarded", "bytes", len(audio))
		return nil
	}

	cmd := exec.CommandContext(ctx, s.cfg.PlayerCommand, s.cfg.PlayerArgs...)
	cmd.Stdin = bytes.NewReader(audio)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("alert: player %s failed: %w", s.cfg.PlayerCommand, err)
	}
	return nil
}

// Synthesize returns MP3 audio for the text
func (s *ElevenLabsSpeaker) Synthesize(ctx context.Context, text string) ([]byte, error) {
	requestBody := map[string]interface{}{
		"text":     text,
		"model_id": s.cfg.ModelID,
		"voice_settings": map[string]interface{}{
			"stability":         0.5,
			"similarity_boost":  0.8,
			"style":             0.0,
			"use_speaker_boost": true,
		},
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+s.cfg.VoiceID, bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("alert: elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alert: elevenlabs API error: %s", resp.Status)
	}

	return io.ReadAll(resp.Body)
}
