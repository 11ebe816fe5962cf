// Package ingest keeps indexes in step with record changes published to
// Kafka by other processes. Each message names a model, a record id and
// whether the record was saved or destroyed.
package ingest

import (
	"encoding/json"
	"fmt"
)

// Action is what happened to a record.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// Event is the JSON payload of one message.
type Event struct {
	Action Action `json:"action"`
	Model  string `json:"model"`
	ID     string `json:"id"`
}

// Key partitions events by record so one record's changes stay ordered.
func (e Event) Key() string {
	return e.Model + "/" + e.ID
}

// Validate reports a malformed event.
func (e Event) Validate() error {
	switch e.Action {
	case ActionAdd, ActionRemove:
	default:
		return fmt.Errorf("unknown action %q", e.Action)
	}
	if e.Model == "" {
		return fmt.Errorf("model is required")
	}
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	return nil
}

// Decode parses and validates a message value.
func Decode(value []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(value, &e); err != nil {
		return e, fmt.Errorf("decoding ingest event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return e, fmt.Errorf("invalid ingest event: %w", err)
	}
	return e, nil
}
