// Package display distributes annotated frames to viewers with
// just-in-time mailbox semantics.
//
// Philosophy: drop frames, never queue. A slow viewer sees the latest
// frame, never a backlog, and never slows the detection loop.
//
// Design:
//   - Non-blocking Publish (single-slot inbox, overwrite on publish)
//   - Blocking per-viewer read function (single-slot mailbox, sync.Cond)
//   - Frames are shared, not copied (immutability contract)
package display

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/focus-sensor/internal/types"
)

// Supplier fans annotated frames out to subscribed viewers.
//
// Lifecycle: NewSupplier -> Start -> Publish/Subscribe -> Stop.
// All methods are safe for concurrent use.
type Supplier struct {
	inboxMu    sync.Mutex
	inboxCond  *sync.Cond
	inboxFrame *types.AnnotatedFrame // nil = consumed
	inboxDrops atomic.Uint64

	slots sync.Map // viewerID -> *viewerSlot

	published atomic.Uint64
	latest    atomic.Pointer[types.AnnotatedFrame]

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedMu sync.Mutex
	started   bool
	stopping  atomic.Bool
}

// NewSupplier creates a supplier. Call Start before Publish.
func NewSupplier() *Supplier {
	s := &Supplier{}
	s.inboxCond = sync.NewCond(&s.inboxMu)
	return s
}

// Start spawns the distribution loop
func (s *Supplier) Start(ctx context.Context) error {
	s.startedMu.Lock()
	defer s.startedMu.Unlock()

	if s.started {
		return fmt.Errorf("display: supplier already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	s.wg.Add(1)
	go s.distributionLoop()

	// Wake the loop on parent cancellation too
	go func() {
		<-s.ctx.Done()
		s.inboxMu.Lock()
		s.inboxCond.Broadcast()
		s.inboxMu.Unlock()
	}()

	return nil
}

// Stop shuts down the distribution loop and wakes every viewer
// (their read functions return nil). Idempotent.
func (s *Supplier) Stop() error {
	s.startedMu.Lock()
	if !s.started || s.stopping.Load() {
		s.startedMu.Unlock()
		return nil
	}
	s.stopping.Store(true)
	s.startedMu.Unlock()

	s.cancel()

	s.inboxMu.Lock()
	s.inboxCond.Broadcast()
	s.inboxMu.Unlock()

	s.wg.Wait()

	s.slots.Range(func(key, value interface{}) bool {
		value.(*viewerSlot).close()
		return true
	})
	return nil
}

// Publish hands a frame to the distribution loop without blocking.
// An unconsumed previous frame is overwritten and counted as an inbox drop.
// The frame must not be modified after Publish.
func (s *Supplier) Publish(frame *types.AnnotatedFrame) {
	if frame == nil || s.stopping.Load() {
		return
	}

	s.latest.Store(frame)

	s.inboxMu.Lock()
	if s.inboxFrame != nil {
		s.inboxDrops.Add(1)
	}
	s.inboxFrame = frame
	s.inboxCond.Signal()
	s.inboxMu.Unlock()
}

// Latest returns the most recently published frame, or nil
func (s *Supplier) Latest() *types.AnnotatedFrame {
	return s.latest.Load()
}

func (s *Supplier) distributionLoop() {
	defer s.wg.Done()

	for {
		s.inboxMu.Lock()
		for s.inboxFrame == nil {
			if s.ctx.Err() != nil {
				s.inboxMu.Unlock()
				return
			}
			s.inboxCond.Wait()
		}
		if s.ctx.Err() != nil {
			s.inboxMu.Unlock()
			return
		}

		frame := s.inboxFrame
		s.inboxFrame = nil
		s.inboxMu.Unlock()

		s.published.Add(1)
		s.slots.Range(func(key, value interface{}) bool {
			value.(*viewerSlot).publish(frame)
			return true
		})
	}
}

// Subscribe registers a viewer and returns its blocking read function.
// The function returns nil after Unsubscribe or Stop. It must be called
// from a single goroutine.
func (s *Supplier) Subscribe(viewerID string) func() *types.AnnotatedFrame {
	if s.stopping.Load() {
		return func() *types.AnnotatedFrame { return nil }
	}

	slot := newViewerSlot()
	if old, loaded := s.slots.Swap(viewerID, slot); loaded {
		old.(*viewerSlot).close()
	}

	return slot.read
}

// Unsubscribe removes a viewer and wakes its read function. Idempotent.
func (s *Supplier) Unsubscribe(viewerID string) {
	val, ok := s.slots.LoadAndDelete(viewerID)
	if !ok {
		return
	}
	val.(*viewerSlot).close()
}
