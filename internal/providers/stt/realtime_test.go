package stt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestDecodeFinalityFailsClosed(t *testing.T) {
	meta := func(final *bool) *struct {
		Final *bool `json:"final"`
	} {
		return &struct {
			Final *bool `json:"final"`
		}{Final: final}
	}

	cases := []struct {
		name string
		msg  vendorMessage
		want bool
	}{
		{"no finality fields", vendorMessage{}, false},
		{"top-level true", vendorMessage{IsFinal: boolPtr(true)}, true},
		{"top-level false", vendorMessage{IsFinal: boolPtr(false)}, false},
		{"metadata true", vendorMessage{Metadata: meta(boolPtr(true))}, true},
		{"metadata false", vendorMessage{Metadata: meta(boolPtr(false))}, false},
		{"both true", vendorMessage{IsFinal: boolPtr(true), Metadata: meta(boolPtr(true))}, true},
		{"conflict top true meta false", vendorMessage{IsFinal: boolPtr(true), Metadata: meta(boolPtr(false))}, false},
		{"conflict top false meta true", vendorMessage{IsFinal: boolPtr(false), Metadata: meta(boolPtr(true))}, false},
		{"metadata present but empty", vendorMessage{Metadata: meta(nil)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, decodeFinality(tc.msg))
		})
	}
}

func TestTranscriptEventFrom(t *testing.T) {
	msg := vendorMessage{
		MessageType:  "transcript",
		UtteranceID:  "utt-1",
		Text:         "hello world",
		IsFinal:      boolPtr(true),
		AudioStartMs: 1000,
		AudioEndMs:   2500,
	}

	ev, ok := transcriptEventFrom(msg)
	require.True(t, ok)
	assert.Equal(t, "utt-1", ev.UtteranceID)
	assert.Equal(t, "hello world", ev.Text)
	assert.True(t, ev.IsFinal)
	assert.Equal(t, int64(1000), ev.StartedAt.UnixMilli())
	require.NotNil(t, ev.EndedAt)
	assert.Equal(t, int64(2500), ev.EndedAt.UnixMilli())
}

func TestTranscriptEventFromDropsIncomplete(t *testing.T) {
	_, ok := transcriptEventFrom(vendorMessage{UtteranceID: "utt-1"})
	assert.False(t, ok)

	_, ok = transcriptEventFrom(vendorMessage{Text: "hello"})
	assert.False(t, ok)
}

func TestTranscriptEventFromOmitsZeroEnd(t *testing.T) {
	ev, ok := transcriptEventFrom(vendorMessage{UtteranceID: "utt-1", Text: "partial"})
	require.True(t, ok)
	assert.False(t, ev.IsFinal)
	assert.Nil(t, ev.EndedAt)
}

func TestVendorMessageDecoding(t *testing.T) {
	raw := `{
		"message_type": "transcript",
		"utterance_id": "utt-42",
		"text": "testing one two",
		"is_final": true,
		"metadata": {"final": true},
		"audio_start_ms": 120,
		"audio_end_ms": 480
	}`

	var msg vendorMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	assert.Equal(t, "transcript", msg.MessageType)
	assert.Equal(t, "utt-42", msg.UtteranceID)
	require.NotNil(t, msg.IsFinal)
	assert.True(t, *msg.IsFinal)
	require.NotNil(t, msg.Metadata)
	require.NotNil(t, msg.Metadata.Final)
	assert.True(t, decodeFinality(msg))
}
