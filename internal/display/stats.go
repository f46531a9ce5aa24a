package display

import "time"

// idleThreshold marks a viewer idle when it has not read for this long
const idleThreshold = 30 * time.Second

// Stats is a snapshot of supplier state
type Stats struct {
	// Published counts frames handed to viewers
	Published uint64 `json:"published"`
	// InboxDrops counts frames overwritten before distribution; ~0 when healthy
	InboxDrops uint64                 `json:"inbox_drops"`
	Viewers    map[string]ViewerStats `json:"viewers"`
}

// ViewerStats tracks one viewer
type ViewerStats struct {
	ViewerID         string    `json:"viewer_id"`
	LastConsumedAt   time.Time `json:"last_consumed_at"`
	LastConsumedSeq  uint64    `json:"last_consumed_seq"`
	ConsecutiveDrops uint64    `json:"consecutive_drops"`
	TotalDrops       uint64    `json:"total_drops"`
	IsIdle           bool      `json:"is_idle"`
}

// Stats returns a snapshot
func (s *Supplier) Stats() Stats {
	viewers := make(map[string]ViewerStats)

	s.slots.Range(func(key, value interface{}) bool {
		id := key.(string)
		slot := value.(*viewerSlot)

		slot.mu.Lock()
		viewers[id] = ViewerStats{
			ViewerID:         id,
			LastConsumedAt:   slot.lastConsumedAt,
			LastConsumedSeq:  slot.lastConsumedSeq,
			ConsecutiveDrops: slot.consecutiveDrops,
			TotalDrops:       slot.totalDrops,
			IsIdle:           time.Since(slot.lastConsumedAt) > idleThreshold,
		}
		slot.mu.Unlock()
		return true
	})

	return Stats{
		Published:  s.published.Load(),
		InboxDrops: s.inboxDrops.Load(),
		Viewers:    viewers,
	}
}
