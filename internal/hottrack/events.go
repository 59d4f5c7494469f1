package hottrack

import "time"

type EventType string

const (
	EventRangeEvicted  EventType = "range_evicted"
	EventObjectEvicted EventType = "object_evicted"
	EventPassCompleted EventType = "pass_completed"
)

// Event describes something aging did. Sinks must not block.
type Event struct {
	Type        EventType `json:"type"`
	Domain      string    `json:"domain"`
	Kind        string    `json:"kind,omitempty"`
	ObjectID    uint64    `json:"object_id,omitempty"`
	RangeIndex  uint32    `json:"range_index,omitempty"`
	Temperature uint32    `json:"temperature,omitempty"`
	Generation  uint64    `json:"generation,omitempty"`
	Evicted     int       `json:"evicted,omitempty"`
	TS          time.Time `json:"ts"`
}

type EventSink interface {
	Publish(Event)
}
