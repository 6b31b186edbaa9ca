package models

import (
	"encoding/json"
	"time"
)

// Command is a device-control request received over the realtime channel.
type Command struct {
	ID      string          `json:"id"`
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PayloadBytes returns the payload as raw JSON. Some senders wrap the JSON
// document in a string, which is unquoted here.
func (c Command) PayloadBytes() []byte {
	if len(c.Payload) == 0 {
		return nil
	}
	if c.Payload[0] == '"' {
		var inner string
		if err := json.Unmarshal(c.Payload, &inner); err == nil {
			return []byte(inner)
		}
	}
	return c.Payload
}

// CommandAck is the acknowledgment sent back for every dispatched command.
type CommandAck struct {
	ID       string `json:"id"`
	Success  bool   `json:"success"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

type ActionKind string

const (
	ActionNone         ActionKind = ""
	ActionReboot       ActionKind = "reboot"
	ActionFactoryReset ActionKind = "factory_reset"
)

// PendingAction is a device-control action deferred until its ack can be delivered safely.
type PendingAction struct {
	Kind       ActionKind `json:"kind"`
	ID         string     `json:"id"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
}

// Active reports whether an action is waiting.
func (p PendingAction) Active() bool {
	return p.Kind != ActionNone
}
