// ABOUTME: Tests for envelope kinds and terminal payload builders.
// ABOUTME: Covers kind validity, terminal detection, and item type mapping.

package envelope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindValid(t *testing.T) {
	for _, k := range []Kind{
		KindSystem, KindUser, KindAssistant, KindToolCall,
		KindToolResult, KindResult, KindError, KindDone,
	} {
		assert.True(t, k.Valid(), "kind %q should be valid", k)
	}

	assert.False(t, Kind("").Valid())
	assert.False(t, Kind("banana").Valid())
}

func TestKindTerminal(t *testing.T) {
	assert.True(t, KindDone.Terminal())
	assert.True(t, KindError.Terminal())
	assert.False(t, KindAssistant.Terminal())
	assert.False(t, KindResult.Terminal())
}

func TestKindFromItemType(t *testing.T) {
	assert.Equal(t, KindAssistant, KindFromItemType("assistant"))
	assert.Equal(t, KindToolCall, KindFromItemType("tool_call"))

	// Unknown producer types are forwarded as system, never dropped.
	assert.Equal(t, KindSystem, KindFromItemType("future_kind"))
	assert.Equal(t, KindSystem, KindFromItemType(""))
}

func TestDonePayload(t *testing.T) {
	var p DonePayload
	require.NoError(t, json.Unmarshal(Done(true), &p))
	assert.True(t, p.Cancelled)

	require.NoError(t, json.Unmarshal(Done(false), &p))
	assert.False(t, p.Cancelled)
}

func TestErrorPayload(t *testing.T) {
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(Error("agent crashed"), &p))
	assert.Equal(t, "agent crashed", p.Error)
}

func TestEnvelopeJSON(t *testing.T) {
	env := &Envelope{
		Sequence: 7,
		Kind:     KindAssistant,
		Payload:  json.RawMessage(`{"text":"hi"}`),
	}

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, uint64(7), decoded.Sequence)
	assert.Equal(t, KindAssistant, decoded.Kind)
	assert.JSONEq(t, `{"text":"hi"}`, string(decoded.Payload))
}
