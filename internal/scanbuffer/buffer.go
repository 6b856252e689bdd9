// Package scanbuffer tracks the distinct codes currently in view across a
// sliding window of detection frames.
package scanbuffer

import (
	"time"

	"example.com/backstage/services/aggregation/internal/classifier"
)

// State is the buffer's position in the aggregation cycle
type State string

const (
	// StateEmpty holds no codes
	StateEmpty State = "empty"
	// StateFilling is waiting for enough codes or for the set to settle
	StateFilling State = "filling"
	// StateStableCandidate has enough codes, unchanged for the cooling period
	StateStableCandidate State = "stable_candidate"
	// StateChecked has been checked and waits for a membership change
	StateChecked State = "checked"
)

// Buffer is a single-writer working set of classified codes keyed by raw
// value. It is not safe for concurrent use; the owning session serializes
// access.
type Buffer struct {
	entries        map[string]*classifier.ClassifiedCode
	order          []string
	lastChange     time.Time
	checkTriggered bool
}

// New creates an empty buffer
func New() *Buffer {
	return &Buffer{
		entries: make(map[string]*classifier.ClassifiedCode),
	}
}

// Observe records a detection. A new raw value is inserted and changes the
// set; a known one only refreshes LastSeenAt and its classification. It
// reports whether the code was new.
func (b *Buffer) Observe(code classifier.ClassifiedCode, now time.Time) bool {
	if existing, ok := b.entries[code.RawValue]; ok {
		existing.LastSeenAt = now
		existing.ContentType = code.ContentType
		existing.GS1Data = code.GS1Data
		if code.Symbology != "" {
			existing.Symbology = code.Symbology
		}
		return false
	}

	code.FirstSeenAt = now
	code.LastSeenAt = now
	b.entries[code.RawValue] = &code
	b.order = append(b.order, code.RawValue)
	b.changed(now)
	return true
}

// Restore inserts a previously persisted code without touching its
// timestamps. Used when a session is reloaded.
func (b *Buffer) Restore(code classifier.ClassifiedCode, now time.Time) {
	if _, ok := b.entries[code.RawValue]; ok {
		return
	}
	b.entries[code.RawValue] = &code
	b.order = append(b.order, code.RawValue)
	b.changed(now)
}

// EvictStale drops every entry not seen within ttl and returns the evicted
// raw values. A non-positive ttl disables eviction.
func (b *Buffer) EvictStale(now time.Time, ttl time.Duration) []string {
	if ttl <= 0 || len(b.entries) == 0 {
		return nil
	}

	var evicted []string
	kept := b.order[:0]
	for _, raw := range b.order {
		if now.Sub(b.entries[raw].LastSeenAt) > ttl {
			evicted = append(evicted, raw)
			delete(b.entries, raw)
			continue
		}
		kept = append(kept, raw)
	}
	b.order = kept

	if len(evicted) > 0 {
		b.changed(now)
	}
	return evicted
}

// Remove drops the given raw values and returns the ones that were present
func (b *Buffer) Remove(now time.Time, raws ...string) []string {
	var removed []string
	for _, raw := range raws {
		if _, ok := b.entries[raw]; ok {
			delete(b.entries, raw)
			removed = append(removed, raw)
		}
	}
	if len(removed) == 0 {
		return nil
	}

	kept := b.order[:0]
	for _, raw := range b.order {
		if _, ok := b.entries[raw]; ok {
			kept = append(kept, raw)
		}
	}
	b.order = kept
	b.changed(now)
	return removed
}

// Snapshot returns copies of the buffered codes in first-seen order
func (b *Buffer) Snapshot() []classifier.ClassifiedCode {
	out := make([]classifier.ClassifiedCode, 0, len(b.order))
	for _, raw := range b.order {
		code := *b.entries[raw]
		code.GS1Data = append([]string(nil), code.GS1Data...)
		out = append(out, code)
	}
	return out
}

// Clear removes all entries
func (b *Buffer) Clear(now time.Time) {
	if len(b.entries) == 0 {
		b.checkTriggered = false
		return
	}
	b.entries = make(map[string]*classifier.ClassifiedCode)
	b.order = nil
	b.changed(now)
}

// Len returns the number of distinct codes
func (b *Buffer) Len() int {
	return len(b.entries)
}

// Contains reports whether raw is buffered
func (b *Buffer) Contains(raw string) bool {
	_, ok := b.entries[raw]
	return ok
}

// LastChange returns when the set of distinct raw values last changed
func (b *Buffer) LastChange() time.Time {
	return b.lastChange
}

// StableFor returns how long the set has been unchanged
func (b *Buffer) StableFor(now time.Time) time.Duration {
	if b.lastChange.IsZero() {
		return 0
	}
	return now.Sub(b.lastChange)
}

// CheckTriggered reports whether the current set has already been checked
func (b *Buffer) CheckTriggered() bool {
	return b.checkTriggered
}

// MarkChecked records that the current set has been checked. It is reset by
// the next membership change.
func (b *Buffer) MarkChecked() {
	b.checkTriggered = true
}

// State derives the cycle state for a trigger of expected codes held for
// cooling.
func (b *Buffer) State(now time.Time, expected int, cooling time.Duration) State {
	switch {
	case len(b.entries) == 0:
		return StateEmpty
	case b.checkTriggered:
		return StateChecked
	case len(b.entries) >= expected && b.StableFor(now) >= cooling:
		return StateStableCandidate
	default:
		return StateFilling
	}
}

func (b *Buffer) changed(now time.Time) {
	b.lastChange = now
	b.checkTriggered = false
}
