// Package api defines the WebSocket message envelopes exchanged with
// telemetry clients.
package api

import (
	"github.com/roadsim/odotelem/internal/fleet"
	"github.com/roadsim/odotelem/internal/telemetry"
)

// HelloMessage is the initial payload sent on WebSocket connection.
type HelloMessage struct {
	Type       string       `json:"type"`
	TickMS     int          `json:"tick_ms"`
	PublishHz  float64      `json:"publish_hz"`
	Vehicles   []fleet.Info `json:"vehicles"`
	EventStore bool         `json:"event_store"`
}

// NewHelloMessage constructs a hello payload.
func NewHelloMessage(tickMS int, publishHz float64, vehicles []fleet.Info, eventStore bool) HelloMessage {
	return HelloMessage{
		Type:       "hello",
		TickMS:     tickMS,
		PublishHz:  publishHz,
		Vehicles:   vehicles,
		EventStore: eventStore,
	}
}

// TelemetryMessage wraps a published snapshot for transport.
type TelemetryMessage struct {
	Type string `json:"type"`
	telemetry.Snapshot
}

// NewTelemetryMessage constructs a telemetry payload.
func NewTelemetryMessage(snap telemetry.Snapshot) TelemetryMessage {
	return TelemetryMessage{
		Type:     "telemetry",
		Snapshot: snap,
	}
}

// ViolationMessage wraps a closed violation episode for transport.
type ViolationMessage struct {
	Type string `json:"type"`
	telemetry.ViolationEvent
}

// NewViolationMessage constructs a violation payload.
func NewViolationMessage(ev telemetry.ViolationEvent) ViolationMessage {
	return ViolationMessage{
		Type:           "violation",
		ViolationEvent: ev,
	}
}

// ErrorMessage communicates an error condition to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClientMessage is a generic envelope used for decoding inbound client
// messages.
type ClientMessage struct {
	Type string `json:"type"`
}

// SubscribeMessage requests subscription to one vehicle's telemetry stream.
type SubscribeMessage struct {
	Type      string `json:"type"`
	VehicleID string `json:"vehicle_id"`
}

// PongMessage is the response to a ping.
type PongMessage struct {
	Type string `json:"type"`
}
