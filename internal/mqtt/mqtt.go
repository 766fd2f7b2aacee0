// Package mqtt provides MQTT telemetry publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"
)

// Topic is the MQTT topic for turret telemetry events.
const Topic = "workshop/turret/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "workshop/turret/system"

// EventKind discriminates telemetry events.
type EventKind string

const (
	// KindCommand is a decoded remote command.
	KindCommand EventKind = "command"
	// KindTransition is a controller state change.
	KindTransition EventKind = "transition"
	// KindRange is a completed range measurement.
	KindRange EventKind = "range"
)

// Event is one telemetry event from the control loop. Fields beyond Kind
// and Timestamp are populated per kind.
type Event struct {
	Timestamp time.Time
	Kind      EventKind

	// Command events.
	Button string
	Repeat bool

	// Transition events.
	From   string
	To     string
	Reason string

	// Range events. DistanceCM is meaningless when Valid is false.
	DistanceCM float64
	Valid      bool
}

// Publisher publishes telemetry to MQTT.
type Publisher interface {
	// Publish sends a turret event to the broker.
	// Returns error if publishing fails (must not crash the process).
	Publish(event Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Turret TurretPayload `json:"turret"`
}

// TurretPayload contains the turret event details.
type TurretPayload struct {
	Timestamp  string   `json:"timestamp"`
	Kind       string   `json:"kind"`
	Button     string   `json:"button,omitempty"`
	Repeat     bool     `json:"repeat,omitempty"`
	From       string   `json:"from,omitempty"`
	To         string   `json:"to,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	DistanceCM *float64 `json:"distance_cm,omitempty"`
	Valid      *bool    `json:"valid,omitempty"`
}

// FormatPayload creates the JSON payload for a turret event.
func FormatPayload(event Event) ([]byte, error) {
	payload := Payload{
		Turret: TurretPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Kind:      string(event.Kind),
			Button:    event.Button,
			Repeat:    event.Repeat,
			From:      event.From,
			To:        event.To,
			Reason:    event.Reason,
		},
	}
	if event.Kind == KindRange {
		valid := event.Valid
		payload.Turret.Valid = &valid
		if valid {
			cm := event.DistanceCM
			payload.Turret.DistanceCM = &cm
		}
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
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
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
