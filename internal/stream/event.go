// SPDX-License-Identifier: MIT

// Package stream implements the sequencing and resume engine: per-topic
// monotonic event numbering, a bounded replay window with gap detection,
// local fan-out, and resumable client sessions.
package stream

import (
	"encoding/json"
	"time"
)

// Event is one entry in a topic's ordered stream. Seq is unique and strictly
// increasing within a topic and never reused, even across worker restarts.
// The payload is opaque to the engine.
type Event struct {
	V           int             `json:"v"`
	Topic       string          `json:"topic"`
	Seq         uint64          `json:"seq"`
	Name        string          `json:"event"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"ts"`
}

// Encode serialises the event envelope to its wire form.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses a wire-form envelope.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	err := json.Unmarshal(data, &ev)
	return ev, err
}

// FrameType distinguishes the message kinds a session delivers to its
// transport. Reset and heartbeat frames carry no sequence semantics.
type FrameType string

const (
	// FrameEvent carries an ordered domain event.
	FrameEvent FrameType = "event"
	// FrameHeartbeat keeps intermediaries from closing idle connections.
	FrameHeartbeat FrameType = "heartbeat"
	// FrameReset tells the client its resume point is unrecoverable and it
	// must reconnect without a cursor.
	FrameReset FrameType = "reset"
)

// Frame is one unit of delivery from a session to its transport.
type Frame struct {
	Type  FrameType
	Event *Event // set only for FrameEvent
}
