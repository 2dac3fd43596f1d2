package event

import "time"

// SlotTick is emitted by the slot clock whenever the observed slot changes.
type SlotTick struct {
	Slot       int64
	ObservedAt time.Time
}
