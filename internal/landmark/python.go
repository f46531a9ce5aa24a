package landmark

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/focus-sensor/internal/types"
)

// PythonConfig configures the landmark worker subprocess
type PythonConfig struct {
	// Command is the worker launcher (default models/run_worker.sh)
	Command string
	// Args are passed before the model flags
	Args []string
	// ModelPath is the dlib shape predictor file
	ModelPath string
	// Upsample is the face detector upsampling factor
	Upsample int
	// RequestTimeout bounds one Detect round trip (default 2s)
	RequestTimeout time.Duration
}

// PythonDetector runs face/landmark detection in a Python subprocess.
//
// Protocol: one msgpack request per frame on stdin, one response per
// request on stdout, both framed with a 4-byte big-endian length.
// stderr is forwarded to slog. One request is in flight at a time.
type PythonDetector struct {
	cfg PythonConfig

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	responses chan response

	reqMu sync.Mutex // serializes Detect

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	isActive atomic.Bool

	requests       atomic.Uint64
	failures       atomic.Uint64
	faces          atomic.Uint64
	totalLatencyMS atomic.Uint64
}

// NewPythonDetector creates a detector. Call Start to spawn the worker.
func NewPythonDetector(cfg PythonConfig) (*PythonDetector, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("landmark: model_path is required")
	}
	if cfg.Command == "" {
		cfg.Command = "models/run_worker.sh"
	}
	if cfg.Upsample < 0 {
		cfg.Upsample = 0
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Second
	}

	slog.Info("landmark: python detector created",
		"command", cfg.Command,
		"model", cfg.ModelPath,
	)

	return &PythonDetector{cfg: cfg}, nil
}

// Start spawns the worker process and its reader goroutines
func (d *PythonDetector) Start(ctx context.Context) error {
	if d.isActive.Load() {
		return fmt.Errorf("landmark: detector already started")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.responses = make(chan response, 1)

	args := append(append([]string{}, d.cfg.Args...),
		"--model", d.cfg.ModelPath,
		"--upsample", fmt.Sprintf("%d", d.cfg.Upsample),
	)

	d.cmd = exec.CommandContext(d.ctx, d.cfg.Command, args...)

	var err error
	if d.stdin, err = d.cmd.StdinPipe(); err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	if d.stdout, err = d.cmd.StdoutPipe(); err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if d.stderr, err = d.cmd.StderrPipe(); err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := d.cmd.Start(); err != nil {
		d.cancel()
		return fmt.Errorf("failed to start landmark worker: %w", err)
	}

	d.isActive.Store(true)

	d.wg.Add(3)
	go d.readResponses()
	go d.logStderr()
	go d.waitProcess()

	slog.Info("landmark: worker spawned", "pid", d.cmd.Process.Pid)
	return nil
}

// Detect sends the frame to the worker and waits for its faces
func (d *PythonDetector) Detect(ctx context.Context, frame types.Frame) ([]types.Face, error) {
	if !d.isActive.Load() {
		return nil, ErrNotStarted
	}

	d.reqMu.Lock()
	defer d.reqMu.Unlock()

	d.requests.Add(1)
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()

	req := request{
		Seq:       frame.Seq,
		TraceID:   frame.TraceID,
		Width:     frame.Width,
		Height:    frame.Height,
		FrameData: frame.Data,
	}

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- writeMessage(d.stdin, req)
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			d.failures.Add(1)
			return nil, fmt.Errorf("landmark: write request: %w", err)
		}
	case <-ctx.Done():
		d.failures.Add(1)
		return nil, fmt.Errorf("landmark: stdin write timeout (worker may be hung): %w", ctx.Err())
	}

	for {
		select {
		case resp, ok := <-d.responses:
			if !ok {
				d.failures.Add(1)
				return nil, fmt.Errorf("landmark: worker exited")
			}
			if resp.Seq != frame.Seq {
				// late answer to a request that already timed out
				slog.Debug("landmark: discarding stale response",
					"seq", resp.Seq,
					"want_seq", frame.Seq,
				)
				continue
			}
			if resp.Error != "" {
				d.failures.Add(1)
				return nil, fmt.Errorf("landmark: worker error: %s", resp.Error)
			}

			faces := toFaces(resp.Faces)
			d.faces.Add(uint64(len(faces)))
			d.totalLatencyMS.Add(uint64(time.Since(start).Milliseconds()))
			return faces, nil

		case <-ctx.Done():
			d.failures.Add(1)
			return nil, fmt.Errorf("landmark: response timeout for seq %d: %w", frame.Seq, ctx.Err())
		}
	}
}

func (d *PythonDetector) readResponses() {
	defer d.wg.Done()
	defer close(d.responses)

	for {
		var resp response
		if err := readMessage(d.stdout, &resp); err != nil {
			if err != io.EOF && d.ctx.Err() == nil {
				slog.Error("landmark: failed to read worker response", "error", err)
			}
			return
		}

		// Keep only the newest response; this goroutine is the only sender
		select {
		case old := <-d.responses:
			slog.Debug("landmark: dropping unclaimed response", "seq", old.Seq)
		default:
		}

		select {
		case d.responses <- resp:
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *PythonDetector) logStderr() {
	defer d.wg.Done()

	scanner := bufio.NewScanner(d.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
			slog.Error("landmark: worker error", "log", line)
		case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
			slog.Warn("landmark: worker warning", "log", line)
		default:
			slog.Debug("landmark: worker log", "log", line)
		}
	}
}

func (d *PythonDetector) waitProcess() {
	defer d.wg.Done()

	err := d.cmd.Wait()
	d.isActive.Store(false)

	switch {
	case err == nil:
		slog.Info("landmark: worker exited cleanly", "pid", d.cmd.Process.Pid)
	case d.ctx.Err() != nil:
		slog.Debug("landmark: worker exited (shutdown)", "pid", d.cmd.Process.Pid)
	default:
		slog.Error("landmark: worker exited unexpectedly",
			"pid", d.cmd.Process.Pid,
			"error", err,
		)
	}
}

// Metrics returns current detector metrics
func (d *PythonDetector) Metrics() Metrics {
	requests := d.requests.Load()
	failures := d.failures.Load()

	var avg float64
	if ok := requests - failures; ok > 0 {
		avg = float64(d.totalLatencyMS.Load()) / float64(ok)
	}

	return Metrics{
		Requests:     requests,
		Failures:     failures,
		FacesFound:   d.faces.Load(),
		AvgLatencyMS: avg,
	}
}

// Stop closes stdin, cancels the worker and waits for its goroutines
func (d *PythonDetector) Stop() error {
	if d.cancel == nil {
		return nil
	}
	d.isActive.Store(false)

	slog.Info("landmark: stopping worker")

	if d.stdin != nil {
		d.stdin.Close()
	}
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		slog.Warn("landmark: worker stop timeout, force killing process")
		if d.cmd != nil && d.cmd.Process != nil {
			if err := d.cmd.Process.Kill(); err != nil {
				return fmt.Errorf("landmark: kill worker: %w", err)
			}
		}
	}

	m := d.Metrics()
	slog.Info("landmark: worker stopped",
		"requests", m.Requests,
		"failures", m.Failures,
	)
	return nil
}
