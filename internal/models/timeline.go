package models

import (
	"encoding/json"
	"time"
)

// TimelineEntry records one status change.
type TimelineEntry struct {
	Date      time.Time `json:"date"`
	Status    Status    `json:"status"`
	ActorName string    `json:"actorName"`
	Note      string    `json:"note"`
}

// Timeline is the append-only audit trail embedded in an application.
// Entries can only be appended.
type Timeline struct {
	entries []TimelineEntry
}

// NewTimeline rebuilds a timeline from stored entries, keeping their order.
func NewTimeline(entries ...TimelineEntry) Timeline {
	t := Timeline{}
	if len(entries) > 0 {
		t.entries = append(make([]TimelineEntry, 0, len(entries)), entries...)
	}
	return t
}

func (t *Timeline) Append(entry TimelineEntry) {
	t.entries = append(t.entries, entry)
}

func (t Timeline) Len() int {
	return len(t.entries)
}

// Entries returns a copy, oldest first.
func (t Timeline) Entries() []TimelineEntry {
	out := make([]TimelineEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Last returns the newest entry.
func (t Timeline) Last() (TimelineEntry, bool) {
	if len(t.entries) == 0 {
		return TimelineEntry{}, false
	}
	return t.entries[len(t.entries)-1], true
}

// Clone copies the backing slice so that appends on the clone never leak
// into the original.
func (t Timeline) Clone() Timeline {
	return NewTimeline(t.entries...)
}

func (t Timeline) MarshalJSON() ([]byte, error) {
	if t.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t.entries)
}

func (t *Timeline) UnmarshalJSON(data []byte) error {
	var entries []TimelineEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	t.entries = entries
	return nil
}
