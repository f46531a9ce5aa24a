package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/focus-sensor/internal/alert"
	"github.com/e7canasta/focus-sensor/internal/classifier"
	"github.com/e7canasta/focus-sensor/internal/config"
	"github.com/e7canasta/focus-sensor/internal/control"
	"github.com/e7canasta/focus-sensor/internal/core"
	"github.com/e7canasta/focus-sensor/internal/display"
	"github.com/e7canasta/focus-sensor/internal/emitter"
	"github.com/e7canasta/focus-sensor/internal/events"
	"github.com/e7canasta/focus-sensor/internal/landmark"
	"github.com/e7canasta/focus-sensor/internal/logging"
	"github.com/e7canasta/focus-sensor/internal/render"
	"github.com/e7canasta/focus-sensor/internal/session"
	"github.com/e7canasta/focus-sensor/internal/stream"
	"github.com/e7canasta/focus-sensor/internal/stream/gstsource"
	"github.com/e7canasta/focus-sensor/internal/stream/webcam"
	"github.com/e7canasta/focus-sensor/internal/types"
	"github.com/e7canasta/focus-sensor/internal/viewer"
)

type runOptions struct {
	configPath string
	debug      bool
	autoStart  bool
	once       bool
}

// eventQueueSize buffers each event bus subscriber
const eventQueueSize = 64

func run(parent context.Context, opts runOptions, stdout io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.debug {
		cfg.Log.Level = "debug"
	}

	logCloser, err := logging.Setup(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()

	slog.Info("starting focus sensor",
		"version", version,
		"instance_id", cfg.InstanceID,
		"config", opts.configPath,
		"source", cfg.Stream.Source,
		"detector", cfg.Landmark.Detector,
		"speaker", cfg.Alert.Speaker,
	)

	ctx, stopSignals := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	// service components outlive the signal context until shutdown is done
	serviceCtx, cancelService := context.WithCancel(context.Background())
	defer cancelService()

	// alerting
	speaker, err := newSpeaker(cfg.Alert)
	if err != nil {
		return fmt.Errorf("failed to create speaker: %w", err)
	}
	dispatcher := alert.NewDispatcher(speaker, alert.Config{
		QueueSize:    cfg.Alert.QueueSize,
		Cooldown:     time.Duration(cfg.Alert.CooldownMS) * time.Millisecond,
		SpeakTimeout: time.Duration(cfg.Alert.SpeakTimeoutMS) * time.Millisecond,
	})
	dispatcher.Start(serviceCtx)
	defer dispatcher.Stop()

	// landmarks
	detector, stopDetector, err := newDetector(serviceCtx, cfg.Landmark)
	if err != nil {
		return fmt.Errorf("failed to start landmark detector: %w", err)
	}
	defer stopDetector()

	// presentation
	bus := events.New()
	defer bus.Close()

	supplier := display.NewSupplier()
	if err := supplier.Start(serviceCtx); err != nil {
		return fmt.Errorf("failed to start frame supplier: %w", err)
	}
	defer supplier.Stop()

	tracker := session.NewTracker(session.Config{
		AlertMessage: cfg.Alert.Message,
		Alerter:      dispatcher,
	})

	cls := classifier.New(classifier.Config{
		EARThreshold:  cfg.Detection.EARThreshold,
		RoundDecimals: *cfg.Detection.RoundDecimals,
	})

	sensor, err := core.NewSensor(core.Config{
		InstanceID:  cfg.InstanceID,
		ReadTimeout: time.Duration(cfg.Stream.ReadTimeoutMS) * time.Millisecond,
	}, core.Deps{
		NewSource:  sourceFactory(cfg.Stream),
		Detector:   detector,
		Classifier: cls,
		Tracker:    tracker,
		Annotator: render.New(render.Config{
			JPEGQuality: cfg.Render.JPEGQuality,
			AlertText:   cfg.Alert.Message,
		}),
		Frames: supplier,
		Events: bus,
	})
	if err != nil {
		return fmt.Errorf("failed to create sensor: %w", err)
	}

	sensor.RegisterComponent("classifier", func() interface{} { return cls.Stats() })
	sensor.RegisterComponent("alert", func() interface{} { return dispatcher.Stats() })
	sensor.RegisterComponent("events", func() interface{} { return bus.Stats() })
	sensor.RegisterComponent("display", func() interface{} { return supplier.Stats() })
	if m, ok := detector.(interface{ Metrics() landmark.Metrics }); ok {
		sensor.RegisterComponent("landmark", func() interface{} { return m.Metrics() })
	}

	g, gctx := errgroup.WithContext(serviceCtx)

	g.Go(func() error { return sensor.Run(gctx) })

	// live viewer and HTTP surface
	hub := viewer.NewHub(supplier)
	g.Go(func() error { hub.Run(gctx); return nil })
	if err := subscribe(bus, "viewer", func(ch <-chan events.Event) {
		g.Go(func() error { hub.ForwardEvents(gctx, ch); return nil })
	}); err != nil {
		return err
	}
	sensor.RegisterComponent("viewer", func() interface{} { return hub.Stats() })

	if cfg.HTTP.Addr != "" {
		g.Go(func() error {
			return sensor.ListenAndServe(gctx, cfg.HTTP.Addr, map[string]http.Handler{"GET /ws": hub})
		})
	}

	// MQTT event publishing and control plane
	var (
		mqttClient mqtt.Client
		handler    *control.Handler
	)
	if cfg.MQTT.Enabled {
		mqttClient, err = emitter.Connect(ctx, emitter.ClientConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.InstanceID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		})
		if err != nil {
			cancelService()
			g.Wait()
			return err
		}
		defer mqttClient.Disconnect(250)

		em := emitter.New(mqttClient, emitter.Config{Topic: cfg.MQTT.Topics.Events, QoS: cfg.MQTT.QoS})
		if err := subscribe(bus, "mqtt", func(ch <-chan events.Event) {
			g.Go(func() error { em.Run(gctx, ch); return nil })
		}); err != nil {
			return err
		}
		sensor.RegisterComponent("mqtt", func() interface{} { return em.Stats() })

		handler = control.NewHandler(control.Config{
			Topic: cfg.MQTT.Topics.Control,
			QoS:   cfg.MQTT.QoS["control"],
		}, mqttClient, control.Callbacks{
			OnStartSession: func() (map[string]interface{}, error) {
				state, err := sensor.StartSession(serviceCtx)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"session_id": state.SessionID, "started_at": state.StartedAt}, nil
			},
			OnStopSession: func() (map[string]interface{}, error) {
				summary, err := sensor.StopSession()
				if err != nil {
					return nil, err
				}
				return summaryMap(summary), nil
			},
			OnGetStatus: sensor.StatusMap,
		})
		if err := handler.Start(gctx); err != nil {
			cancelService()
			g.Wait()
			return fmt.Errorf("failed to start control plane: %w", err)
		}
	}

	// headless mode prints every summary
	summaries := make(chan events.Event, eventQueueSize)
	if err := bus.Subscribe("cli", summaries); err != nil {
		return err
	}
	g.Go(func() error {
		printSummaries(gctx, summaries, stdout, opts.once, stopSignals)
		return nil
	})

	if opts.autoStart {
		if _, err := sensor.StartSession(ctx); err != nil {
			slog.Error("auto-start failed", "error", err)
		}
	}

	slog.Info("focus sensor running",
		"http_addr", cfg.HTTP.Addr,
		"mqtt", cfg.MQTT.Enabled,
		"auto_start", opts.autoStart,
	)

	// wait for a signal, --once, or a component failure
	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	case <-gctx.Done():
		slog.Warn("service component stopped", "error", context.Cause(gctx))
	}

	shutdownTimeout := time.Duration(cfg.ShutdownTimeoutS) * time.Second
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// the session summary must reach the bus while subscribers still run
	if err := sensor.Shutdown(shutdownCtx); err != nil {
		slog.Error("sensor shutdown failed", "error", err)
	}
	if handler != nil {
		if err := handler.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}

	cancelService()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	slog.Info("focus sensor stopped")
	return nil
}

func subscribe(bus *events.Bus, id string, start func(<-chan events.Event)) error {
	ch := make(chan events.Event, eventQueueSize)
	if err := bus.Subscribe(id, ch); err != nil {
		return fmt.Errorf("failed to subscribe %s to events: %w", id, err)
	}
	start(ch)
	return nil
}

func printSummaries(ctx context.Context, ch <-chan events.Event, out io.Writer, once bool, stop context.CancelFunc) {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			if ev.Type != events.TypeSessionSummary || ev.Summary == nil {
				continue
			}
			if err := enc.Encode(ev.Summary); err != nil {
				slog.Warn("failed to print summary", "error", err)
			}
			if once {
				stop()
				return
			}
		}
	}
}

func summaryMap(s types.SessionSummary) map[string]interface{} {
	return map[string]interface{}{
		"session_id":       s.SessionID,
		"duration_seconds": s.DurationSeconds,
		"weighted_loss":    s.WeightedLoss,
		"focus_score":      s.FocusScore,
		"focus_loss_count": s.FocusLossCount,
		"end_reason":       s.EndReason,
	}
}

func newSpeaker(cfg config.AlertConfig) (alert.Speaker, error) {
	switch cfg.Speaker {
	case "command":
		return alert.NewCommandSpeaker(cfg.Command, cfg.Args)
	case "elevenlabs":
		return alert.NewElevenLabsSpeaker(alert.ElevenLabsConfig{
			APIKey:        cfg.ElevenLabs.APIKey,
			VoiceID:       cfg.ElevenLabs.VoiceID,
			ModelID:       cfg.ElevenLabs.ModelID,
			BaseURL:       cfg.ElevenLabs.BaseURL,
			PlayerCommand: cfg.ElevenLabs.PlayerCommand,
			PlayerArgs:    cfg.ElevenLabs.PlayerArgs,
			CacheAudio:    cfg.ElevenLabs.CacheAudio,
		})
	default:
		return alert.LogSpeaker{}, nil
	}
}

func newDetector(ctx context.Context, cfg config.LandmarkConfig) (core.LandmarkDetector, func(), error) {
	if cfg.Detector != "python" {
		return landmark.NewSyntheticDetector(cfg.SyntheticPeriod, cfg.SyntheticClosed), func() {}, nil
	}

	d, err := landmark.NewPythonDetector(landmark.PythonConfig{
		Command:        cfg.Command,
		Args:           cfg.Args,
		ModelPath:      cfg.ModelPath,
		Upsample:       cfg.Upsample,
		RequestTimeout: time.Duration(cfg.RequestTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := d.Start(ctx); err != nil {
		return nil, nil, err
	}
	return d, func() {
		if err := d.Stop(); err != nil {
			slog.Warn("failed to stop landmark worker", "error", err)
		}
	}, nil
}

// sourceFactory opens a fresh source per session
func sourceFactory(cfg config.StreamConfig) core.SourceFactory {
	switch cfg.Source {
	case "webcam":
		return func() (stream.Source, error) {
			return webcam.New(webcam.Config{
				Device: cfg.Device,
				Width:  cfg.Width,
				Height: cfg.Height,
				FPS:    cfg.FPS,
			}), nil
		}
	case "gst":
		return func() (stream.Source, error) {
			reconnect := stream.DefaultReconnectConfig()
			reconnect.MaxRetries = cfg.MaxRetries
			src, err := gstsource.New(stream.GstConfig{
				URI:       cfg.URI,
				Width:     cfg.Width,
				Height:    cfg.Height,
				TargetFPS: cfg.FPS,
				LatencyMS: cfg.LatencyMS,
			}, reconnect)
			if err != nil {
				return nil, err
			}
			return src, nil
		}
	default:
		return func() (stream.Source, error) {
			return stream.NewMockStream(stream.MockConfig{
				Width:     cfg.Width,
				Height:    cfg.Height,
				FPS:       int(math.Round(cfg.FPS)),
				MaxFrames: cfg.MaxFrames,
			}), nil
		}
	}
}
