// ABOUTME: Envelope type and kind constants for streamed session events.
// ABOUTME: An envelope is one ordered, immutable unit of agent output.

package envelope

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the type of payload an envelope carries.
type Kind string

// Envelope kinds. The relay forwards payloads opaquely; the kind is the only
// part of a producer item it interprets.
const (
	KindSystem     Kind = "system"
	KindUser       Kind = "user"
	KindAssistant  Kind = "assistant"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
	KindResult     Kind = "result"
	KindError      Kind = "error"
	KindDone       Kind = "done"
)

// Valid reports whether k is one of the defined envelope kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindSystem, KindUser, KindAssistant, KindToolCall,
		KindToolResult, KindResult, KindError, KindDone:
		return true
	}
	return false
}

// Terminal reports whether an envelope of this kind ends a prompt's stream.
func (k Kind) Terminal() bool {
	return k == KindDone || k == KindError
}

// Envelope is the unit of streamed data. Sequence numbers are strictly
// increasing within a session, start at 1, and are the sole ordering
// authority. Envelopes are immutable once appended to a session log.
type Envelope struct {
	Sequence   uint64          `json:"sequence"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ProducedAt time.Time       `json:"produced_at"`
}

// DonePayload is the payload of a terminal done envelope.
type DonePayload struct {
	Cancelled bool `json:"cancelled"`
}

// ErrorPayload is the payload of a terminal error envelope.
type ErrorPayload struct {
	Error string `json:"error"`
}

// Done builds the payload for a done envelope.
func Done(cancelled bool) json.RawMessage {
	data, _ := json.Marshal(DonePayload{Cancelled: cancelled})
	return data
}

// Error builds the payload for an error envelope.
func Error(msg string) json.RawMessage {
	data, _ := json.Marshal(ErrorPayload{Error: msg})
	return data
}

// KindFromItemType maps a raw producer item type to an envelope kind.
// Unknown types are forwarded as system envelopes rather than dropped, so a
// newer producer never loses data against an older relay.
func KindFromItemType(t string) Kind {
	k := Kind(t)
	if k.Valid() {
		return k
	}
	return KindSystem
}

func (e *Envelope) String() string {
	return fmt.Sprintf("envelope{seq=%d kind=%s}", e.Sequence, e.Kind)
}
