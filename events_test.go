package realtime

import (
	"testing"

	"github.com/bt-bridge/realtime-assistant/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInboundEvent(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want InboundEvent
	}{
		{
			"user transcript delta",
			`{"type":"conversation.item.input_audio_transcription.delta","item_id":"i1","delta":"hel"}`,
			TranscriptDelta{ItemID: "i1", Delta: "hel"},
		},
		{
			"user transcript completed",
			`{"type":"conversation.item.input_audio_transcription.completed","item_id":"i1","transcript":"hello"}`,
			TranscriptDone{ItemID: "i1", Transcript: "hello"},
		},
		{
			"text delta",
			`{"type":"response.output_text.delta","response_id":"r1","delta":"Hi"}`,
			ResponseTextDelta{Source: ServerEventTypeResponseOutputTextDelta, ResponseID: "r1", Delta: "Hi"},
		},
		{
			"beta audio transcript delta",
			`{"type":"response.audio_transcript.delta","response_id":"r1","delta":"Hi"}`,
			ResponseTextDelta{Source: ServerEventTypeResponseAudioTranscriptDelta, ResponseID: "r1", Delta: "Hi"},
		},
		{
			"audio transcript done",
			`{"type":"response.output_audio_transcript.done","response_id":"r1","transcript":"Hi there"}`,
			ResponseDone{Source: ServerEventTypeResponseOutputAudioTranscriptDone, ResponseID: "r1", Text: "Hi there"},
		},
		{
			"text done",
			`{"type":"response.text.done","response_id":"r1","text":"Hi"}`,
			ResponseDone{Source: ServerEventTypeResponseTextDone, ResponseID: "r1", Text: "Hi"},
		},
		{
			"response done",
			`{"type":"response.done","response":{"id":"r1","status":"completed"}}`,
			ResponseDone{Source: ServerEventTypeResponseDone, ResponseID: "r1"},
		},
		{
			"function call item",
			`{"type":"response.output_item.done","item":{"type":"function_call","call_id":"c1","name":"open_folder","arguments":"{\"folder_name\":\"Downloads\"}"}}`,
			FunctionCall{CallID: "c1", Name: "open_folder", Arguments: `{"folder_name":"Downloads"}`},
		},
		{
			"message item is not a call",
			`{"type":"response.output_item.done","item":{"type":"message"}}`,
			nil,
		},
		{
			"arguments done with name",
			`{"type":"response.function_call_arguments.done","call_id":"c2","name":"web_search","arguments":"{}"}`,
			FunctionCall{CallID: "c2", Name: "web_search", Arguments: "{}"},
		},
		{
			"audio started",
			`{"type":"output_audio_buffer.started","response_id":"r1"}`,
			AudioMarker{Source: ServerEventTypeOutputAudioBufferStarted, Started: true},
		},
		{
			"audio stopped",
			`{"type":"output_audio_buffer.stopped"}`,
			AudioMarker{Source: ServerEventTypeOutputAudioBufferStopped, Started: false},
		},
		{
			"server error",
			`{"type":"error","error":{"type":"invalid_request_error","code":"bad","message":"nope"}}`,
			ServerError{Type: "invalid_request_error", Code: "bad", Message: "nope"},
		},
		{
			"session created",
			`{"type":"session.created","session":{"id":"sess_1","model":"gpt-realtime"}}`,
			SessionInfo{Source: ServerEventTypeSessionCreated, SessionID: "sess_1", Model: "gpt-realtime"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseInboundEvent([]byte(tt.raw))
			require.NoError(t, err)
			if tt.want == nil {
				assert.Equal(t, KindUnknown, ev.Kind())
				return
			}
			assert.Equal(t, tt.want, ev)
		})
	}
}

func TestParseInboundEventUnknown(t *testing.T) {
	raw := []byte(`{"type":"rate_limits.updated","rate_limits":[]}`)
	ev, err := ParseInboundEvent(raw)
	require.NoError(t, err)
	u, ok := ev.(UnknownEvent)
	require.True(t, ok)
	assert.Equal(t, "rate_limits.updated", u.Type)
	assert.Equal(t, raw, u.Raw)
}

func TestParseInboundEventMalformed(t *testing.T) {
	for _, raw := range []string{``, `garbage`, `[1,2]`, `{"no_type":true}`, `"string"`} {
		_, err := ParseInboundEvent([]byte(raw))
		assert.ErrorIs(t, err, shared.ErrMalformedEvent, raw)
	}
}
