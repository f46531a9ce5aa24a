package display

import (
	"sync"
	"time"

	"github.com/e7canasta/focus-sensor/internal/types"
)

// viewerSlot is a single-frame mailbox for one viewer
type viewerSlot struct {
	mu    sync.Mutex
	cond  *sync.Cond
	frame *types.AnnotatedFrame // nil = consumed

	lastConsumedAt   time.Time
	lastConsumedSeq  uint64
	consecutiveDrops uint64
	totalDrops       uint64

	closed bool
}

func newViewerSlot() *viewerSlot {
	slot := &viewerSlot{lastConsumedAt: time.Now()}
	slot.cond = sync.NewCond(&slot.mu)
	return slot
}

// publish overwrites the pending frame and wakes the viewer
func (v *viewerSlot) publish(frame *types.AnnotatedFrame) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}
	if v.frame != nil {
		v.consecutiveDrops++
		v.totalDrops++
	}
	v.frame = frame
	v.cond.Signal()
}

// read blocks until a frame is available or the slot is closed
func (v *viewerSlot) read() *types.AnnotatedFrame {
	v.mu.Lock()
	defer v.mu.Unlock()

	for v.frame == nil && !v.closed {
		v.cond.Wait()
	}
	if v.closed {
		return nil
	}

	frame := v.frame
	v.frame = nil
	v.lastConsumedAt = time.Now()
	v.lastConsumedSeq = frame.Seq
	v.consecutiveDrops = 0
	return frame
}

func (v *viewerSlot) close() {
	v.mu.Lock()
	v.closed = true
	v.cond.Broadcast()
	v.mu.Unlock()
}
