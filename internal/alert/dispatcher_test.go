package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// blockingSpeaker blocks every Speak until release is closed
type blockingSpeaker struct {
	started chan string
	release chan struct{}

	mu     sync.Mutex
	spoken []string
}

func newBlockingSpeaker() *blockingSpeaker {
	return &blockingSpeaker{
		started: make(chan string, 16),
		release: make(chan struct{}),
	}
}

func (s *blockingSpeaker) Speak(ctx context.Context, text string) error {
	s.started <- text
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	s.mu.Unlock()
	return nil
}

func waitStarted(t *testing.T, s *blockingSpeaker) string {
	t.Helper()
	select {
	case text := <-s.started:
		return text
	case <-time.After(2 * time.Second):
		t.Fatal("speaker was never called")
		return ""
	}
}

func TestDispatcher_TriggerNeverBlocks(t *testing.T) {
	speaker := newBlockingSpeaker()
	d := NewDispatcher(speaker, Config{QueueSize: 2})
	d.Start(context.Background())
	defer d.Stop()

	d.Trigger("wake up")
	waitStarted(t, speaker)

	// Speaker is stuck; producers must still return immediately
	start := time.Now()
	for i := 0; i < 1000; i++ {
		d.Trigger("wake up")
		d.Trigger("other")
		d.Trigger("third")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("3000 triggers took %v while speaker blocked", elapsed)
	}

	stats := d.Stats()
	if stats.Pending > 2 {
		t.Errorf("Pending = %d, exceeds queue size 2", stats.Pending)
	}
	if stats.Dropped == 0 || stats.Coalesced == 0 {
		t.Errorf("expected drops and coalescing, got %+v", stats)
	}
	t.Logf("stats while blocked: %+v", stats)

	close(speaker.release)
}

func TestDispatcher_CoalescesPendingText(t *testing.T) {
	speaker := newBlockingSpeaker()
	d := NewDispatcher(speaker, Config{QueueSize: 4})
	d.Start(context.Background())
	defer d.Stop()

	d.Trigger("a")
	waitStarted(t, speaker)

	if !d.Trigger("a") {
		t.Fatal("second trigger should be queued")
	}
	if !d.Trigger("a") {
		t.Fatal("third trigger should be coalesced")
	}

	stats := d.Stats()
	if stats.Queued != 2 || stats.Coalesced != 1 || stats.Pending != 1 {
		t.Errorf("stats = %+v, want queued=2 coalesced=1 pending=1", stats)
	}

	close(speaker.release)
	waitStarted(t, speaker)
}

func TestDispatcher_DropsNewestWhenFull(t *testing.T) {
	speaker := newBlockingSpeaker()
	d := NewDispatcher(speaker, Config{QueueSize: 1})
	d.Start(context.Background())
	defer d.Stop()

	d.Trigger("first")
	waitStarted(t, speaker)

	if !d.Trigger("second") {
		t.Fatal("second should fill the queue")
	}
	if d.Trigger("third") {
		t.Fatal("third should be dropped")
	}

	close(speaker.release)
	if got := waitStarted(t, speaker); got != "second" {
		t.Errorf("next spoken = %q, want second", got)
	}
	if d.Stats().Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", d.Stats().Dropped)
	}
}

type failingSpeaker struct {
	calls chan struct{}
}

func (s *failingSpeaker) Speak(context.Context, string) error {
	s.calls <- struct{}{}
	return errors.New("audio device busy")
}

func TestDispatcher_SpeakerErrorsAreContained(t *testing.T) {
	speaker := &failingSpeaker{calls: make(chan struct{}, 4)}
	d := NewDispatcher(speaker, Config{})
	d.Start(context.Background())

	d.Trigger("x")
	select {
	case <-speaker.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("speaker never called")
	}
	d.Stop()

	if d.Stats().Failed != 1 {
		t.Errorf("Failed = %d, want 1", d.Stats().Failed)
	}
}

func TestDispatcher_Cooldown(t *testing.T) {
	speaker := newBlockingSpeaker()
	d := NewDispatcher(speaker, Config{Cooldown: time.Hour})
	d.Start(context.Background())
	defer d.Stop()

	if !d.Trigger("a") {
		t.Fatal("first trigger should pass")
	}
	waitStarted(t, speaker)

	if d.Trigger("b") {
		t.Fatal("trigger within cooldown should be rejected")
	}
	if d.Stats().RateLimited != 1 {
		t.Errorf("RateLimited = %d, want 1", d.Stats().RateLimited)
	}
	close(speaker.release)
}

func TestDispatcher_TriggerAfterStop(t *testing.T) {
	d := NewDispatcher(LogSpeaker{}, Config{})
	d.Start(context.Background())
	d.Stop()
	d.Stop()

	if d.Trigger("late") {
		t.Error("Trigger after Stop should return false")
	}
}

func TestDispatcher_StartAfterStop(t *testing.T) {
	d := NewDispatcher(LogSpeaker{}, Config{})
	d.Stop()
	d.Start(context.Background())

	if d.started.Load() {
		t.Error("Start after Stop launched a worker")
	}
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		t.Error("Start after Stop installed a cancel func")
	}
	if d.Trigger("late") {
		t.Error("Trigger after Stop should return false")
	}
}

func TestDispatcher_ConcurrentStartStop(t *testing.T) {
	for i := 0; i < 50; i++ {
		d := NewDispatcher(LogSpeaker{}, Config{})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			d.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			d.Stop()
		}()
		wg.Wait()

		// whichever ran first, no worker may outlive Stop
		d.Stop()
		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("iteration %d: worker still running after Stop", i)
		}
	}
}

func TestDispatcher_StopUnblocksSlowSpeaker(t *testing.T) {
	speaker := newBlockingSpeaker()
	d := NewDispatcher(speaker, Config{SpeakTimeout: time.Minute})
	d.Start(context.Background())

	d.Trigger("a")
	waitStarted(t, speaker)

	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return while speaker blocked")
	}
}
