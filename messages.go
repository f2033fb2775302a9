package realtime

import (
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// Outbound control messages. They are plain maps so the channel can
// marshal them without knowing their shape.

func newEventID() string {
	return "event_" + uuid.NewString()
}

func clientEvent(t ClientEventType, fields map[string]any) map[string]any {
	msg := map[string]any{
		"type":     string(t),
		"event_id": newEventID(),
	}
	for k, v := range fields {
		msg[k] = v
	}
	return msg
}

// SessionUpdateMessage is the capability handshake.
func SessionUpdateMessage(session map[string]any) map[string]any {
	return clientEvent(ClientEventTypeSessionUpdate, map[string]any{"session": session})
}

// FunctionCallOutputMessage reports an action result for callID. The output
// travels as a JSON string.
func FunctionCallOutputMessage(callID string, result ActionResult) (map[string]any, error) {
	out, err := sonic.MarshalString(result)
	if err != nil {
		return nil, err
	}
	return clientEvent(ClientEventTypeConversationItemCreate, map[string]any{
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  out,
		},
	}), nil
}

// ResponseCreateMessage asks the model to resume generating.
func ResponseCreateMessage() map[string]any {
	return clientEvent(ClientEventTypeResponseCreate, nil)
}

func ResponseCancelMessage() map[string]any {
	return clientEvent(ClientEventTypeResponseCancel, nil)
}

func OutputAudioBufferClearMessage() map[string]any {
	return clientEvent(ClientEventTypeOutputAudioBufferClear, nil)
}

// UserTextMessage adds a typed user message to the conversation.
func UserTextMessage(text string) map[string]any {
	return clientEvent(ClientEventTypeConversationItemCreate, map[string]any{
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []any{
				map[string]any{"type": "input_text", "text": text},
			},
		},
	})
}
