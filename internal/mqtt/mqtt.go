// Package mqtt publishes control events and daemon lifecycle events.
// Telemetry is best effort: a publish failure never reaches a control task.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/westinghouse/internal/logic"
)

// Topic is the MQTT topic for control events.
const Topic = "westinghouse/control/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "westinghouse/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a control event to the broker.
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent is a lifecycle event: STARTUP, SHUTDOWN, HEARTBEAT or
// RECONNECTED.
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // shutdown only, e.g. "SIGTERM"
	RawPayload []byte // pre-formatted JSON; returned as is by FormatSystemPayload
	Retained   bool
}

// Payload is the MQTT message payload for a control event.
type Payload struct {
	Control ControlPayload `json:"control"`
}

// ControlPayload contains the control event details.
type ControlPayload struct {
	Timestamp string `json:"timestamp"`
	Name      string `json:"name"`
	Event     string `json:"event"`
	Action    string `json:"action,omitempty"`
	Direction string `json:"direction,omitempty"`
	Value     *int   `json:"value,omitempty"`
	Error     string `json:"error,omitempty"`
}

// FormatPayload creates the JSON payload for a control event.
func FormatPayload(event logic.Event) ([]byte, error) {
	p := ControlPayload{
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Name:      event.Control,
		Event:     string(event.Kind),
		Action:    event.Action,
		Error:     event.Err,
	}
	if event.Kind == logic.EventStep {
		p.Direction = event.Direction.String()
		v := event.Value
		p.Value = &v
	}
	return json.Marshal(Payload{Control: p})
}

// SystemPayload is the payload for events that carry no status snapshot
// (the will message, RECONNECTED).
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}
