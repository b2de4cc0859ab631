package events

import (
	"encoding/json"
	"time"
)

// Event names.
const (
	LimitChanged = "limit.changed"
	LimitError   = "limit.error"
)

// Event is a named JSON payload, also the unit of the daemon SSE stream.
type Event struct {
	Name string
	Data json.RawMessage
	Time time.Time
}

// LimitChangedEvent is published after the tool confirmed a new limit.
type LimitChangedEvent struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Percent int    `json:"percent"`
	Ts      int64  `json:"ts"`
}

// LimitErrorEvent is published when an operation fails. Message carries
// the error kind only, never raw tool output.
type LimitErrorEvent struct {
	Op      string `json:"op"`
	Message string `json:"message"`
	Ts      int64  `json:"ts"`
}

// DecodeAs decodes the event payload into T. Empty data yields the zero T.
//
//	payload, err := events.DecodeAs[events.LimitChangedEvent](ev)
func DecodeAs[T any](e Event) (T, error) {
	var v T
	if len(e.Data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(e.Data, &v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}
