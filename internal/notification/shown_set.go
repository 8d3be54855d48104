package notification

import (
	"time"

	"github.com/google/uuid"
)

type shownEntry struct {
	visible bool
	version time.Time
}

// ShownSet tracks which alerts have a visible notification and the last
// record version seen for each. Dismissed alerts stay as tombstones so a
// late, older copy of the record cannot bring the notification back.
//
// A ShownSet belongs to exactly one Deduplicator and is not safe for
// concurrent use on its own.
type ShownSet struct {
	entries map[uuid.UUID]shownEntry
}

func NewShownSet() *ShownSet {
	return &ShownSet{entries: make(map[uuid.UUID]shownEntry)}
}

// IsVisible reports whether key currently has a notification on screen
func (s *ShownSet) IsVisible(key uuid.UUID) bool {
	return s.entries[key].visible
}

// Version returns the last version seen for key
func (s *ShownSet) Version(key uuid.UUID) (time.Time, bool) {
	e, ok := s.entries[key]
	return e.version, ok
}

// Visible returns the keys with a notification on screen
func (s *ShownSet) Visible() []uuid.UUID {
	keys := make([]uuid.UUID, 0, len(s.entries))
	for key, e := range s.entries {
		if e.visible {
			keys = append(keys, key)
		}
	}
	return keys
}

// Len returns the number of visible notifications
func (s *ShownSet) Len() int {
	n := 0
	for _, e := range s.entries {
		if e.visible {
			n++
		}
	}
	return n
}

// Reset forgets everything, including tombstones
func (s *ShownSet) Reset() {
	s.entries = make(map[uuid.UUID]shownEntry)
}

func (s *ShownSet) get(key uuid.UUID) (shownEntry, bool) {
	e, ok := s.entries[key]
	return e, ok
}

func (s *ShownSet) markVisible(key uuid.UUID, version time.Time) {
	s.entries[key] = shownEntry{visible: true, version: version}
}

func (s *ShownSet) markDismissed(key uuid.UUID, version time.Time) {
	if e, ok := s.entries[key]; ok && e.version.After(version) {
		version = e.version
	}
	s.entries[key] = shownEntry{visible: false, version: version}
}
