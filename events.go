package realtime

import (
	"fmt"

	"github.com/bt-bridge/realtime-assistant/shared"
	"github.com/bytedance/sonic"
)

type EventType string

type ServerEventType EventType

type ClientEventType EventType

// Server event types the engine reacts to. The beta names are still
// emitted by older model snapshots.
const (
	ServerEventTypeError                                            ServerEventType = "error"
	ServerEventTypeSessionCreated                                   ServerEventType = "session.created"
	ServerEventTypeSessionUpdated                                   ServerEventType = "session.updated"
	ServerEventTypeConversationItemInputAudioTranscriptionDelta     ServerEventType = "conversation.item.input_audio_transcription.delta"
	ServerEventTypeConversationItemInputAudioTranscriptionCompleted ServerEventType = "conversation.item.input_audio_transcription.completed"
	ServerEventTypeOutputAudioBufferStarted                         ServerEventType = "output_audio_buffer.started"
	ServerEventTypeOutputAudioBufferStopped                         ServerEventType = "output_audio_buffer.stopped"
	ServerEventTypeOutputAudioBufferCleared                         ServerEventType = "output_audio_buffer.cleared"
	ServerEventTypeResponseDone                                     ServerEventType = "response.done"
	ServerEventTypeResponseOutputItemDone                           ServerEventType = "response.output_item.done"
	ServerEventTypeResponseOutputTextDelta                          ServerEventType = "response.output_text.delta"
	ServerEventTypeResponseOutputTextDone                           ServerEventType = "response.output_text.done"
	ServerEventTypeResponseOutputAudioTranscriptDelta               ServerEventType = "response.output_audio_transcript.delta"
	ServerEventTypeResponseOutputAudioTranscriptDone                ServerEventType = "response.output_audio_transcript.done"
	ServerEventTypeResponseFunctionCallArgumentsDone                ServerEventType = "response.function_call_arguments.done"

	ServerEventTypeResponseTextDelta            ServerEventType = "response.text.delta"
	ServerEventTypeResponseTextDone             ServerEventType = "response.text.done"
	ServerEventTypeResponseAudioTranscriptDelta ServerEventType = "response.audio_transcript.delta"
	ServerEventTypeResponseAudioTranscriptDone  ServerEventType = "response.audio_transcript.done"
	ServerEventTypeResponseAudioStart           ServerEventType = "response.audio.start"
)

const (
	ClientEventTypeSessionUpdate          ClientEventType = "session.update"
	ClientEventTypeConversationItemCreate ClientEventType = "conversation.item.create"
	ClientEventTypeResponseCreate         ClientEventType = "response.create"
	ClientEventTypeResponseCancel         ClientEventType = "response.cancel"
	ClientEventTypeOutputAudioBufferClear ClientEventType = "output_audio_buffer.clear"
)

type EventKind int

const (
	KindUnknown EventKind = iota
	KindTranscriptDelta
	KindTranscriptDone
	KindResponseTextDelta
	KindResponseDone
	KindFunctionCall
	KindAudioMarker
	KindServerError
	KindSessionInfo
)

func (k EventKind) String() string {
	switch k {
	case KindTranscriptDelta:
		return "transcript_delta"
	case KindTranscriptDone:
		return "transcript_done"
	case KindResponseTextDelta:
		return "response_text_delta"
	case KindResponseDone:
		return "response_done"
	case KindFunctionCall:
		return "function_call"
	case KindAudioMarker:
		return "response_audio_marker"
	case KindServerError:
		return "error"
	case KindSessionInfo:
		return "session_info"
	default:
		return "unknown"
	}
}

// InboundEvent is one parsed control-channel message. The set of
// implementations is closed; switch on the concrete type.
type InboundEvent interface {
	Kind() EventKind
	inbound()
}

// TranscriptDelta is a partial transcription of the user's speech.
type TranscriptDelta struct {
	ItemID string
	Delta  string
}

// TranscriptDone is the completed transcription of one user utterance.
type TranscriptDone struct {
	ItemID     string
	Transcript string
}

// ResponseTextDelta is streamed assistant text, either from a text output
// or from the transcript of the audio output.
type ResponseTextDelta struct {
	Source     ServerEventType
	ResponseID string
	Delta      string
}

// ResponseDone is any of the signals that end an assistant turn.
type ResponseDone struct {
	Source     ServerEventType
	ResponseID string
	// Text is the full text when the signal carries it.
	Text string
}

type FunctionCall struct {
	CallID    string
	Name      string
	Arguments string
}

// AudioMarker tracks whether assistant audio is playing.
type AudioMarker struct {
	Source  ServerEventType
	Started bool
}

type ServerError struct {
	Type    string
	Code    string
	Message string
}

type SessionInfo struct {
	Source    ServerEventType
	SessionID string
	Model     string
}

type UnknownEvent struct {
	Type string
	Raw  []byte
}

func (TranscriptDelta) Kind() EventKind   { return KindTranscriptDelta }
func (TranscriptDone) Kind() EventKind    { return KindTranscriptDone }
func (ResponseTextDelta) Kind() EventKind { return KindResponseTextDelta }
func (ResponseDone) Kind() EventKind      { return KindResponseDone }
func (FunctionCall) Kind() EventKind      { return KindFunctionCall }
func (AudioMarker) Kind() EventKind       { return KindAudioMarker }
func (ServerError) Kind() EventKind       { return KindServerError }
func (SessionInfo) Kind() EventKind       { return KindSessionInfo }
func (UnknownEvent) Kind() EventKind      { return KindUnknown }

func (TranscriptDelta) inbound()   {}
func (TranscriptDone) inbound()    {}
func (ResponseTextDelta) inbound() {}
func (ResponseDone) inbound()      {}
func (FunctionCall) inbound()      {}
func (AudioMarker) inbound()       {}
func (ServerError) inbound()       {}
func (SessionInfo) inbound()       {}
func (UnknownEvent) inbound()      {}

type wireItem struct {
	Type      string `json:"type"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wireSession struct {
	ID    string `json:"id"`
	Model string `json:"model"`
}

type wireResponse struct {
	ID string `json:"id"`
}

// wireEvent is the union of the fields the engine reads from any server
// event.
type wireEvent struct {
	Type       ServerEventType `json:"type"`
	EventID    string          `json:"event_id"`
	ItemID     string          `json:"item_id"`
	ResponseID string          `json:"response_id"`
	Delta      string          `json:"delta"`
	Text       string          `json:"text"`
	Transcript string          `json:"transcript"`
	CallID     string          `json:"call_id"`
	Name       string          `json:"name"`
	Arguments  string          `json:"arguments"`
	Item       *wireItem       `json:"item"`
	Error      *wireError      `json:"error"`
	Session    *wireSession    `json:"session"`
	Response   *wireResponse   `json:"response"`
}

// ParseInboundEvent maps one raw server message onto an InboundEvent.
// Anything that is not a JSON object with a type fails with
// ErrMalformedEvent; unrecognized types yield UnknownEvent.
func ParseInboundEvent(raw []byte) (InboundEvent, error) {
	var w wireEvent
	if err := sonic.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrMalformedEvent, err)
	}
	if w.Type == "" {
		return nil, fmt.Errorf("%w: missing type", shared.ErrMalformedEvent)
	}
	switch w.Type {
	case ServerEventTypeConversationItemInputAudioTranscriptionDelta:
		return TranscriptDelta{ItemID: w.ItemID, Delta: w.Delta}, nil
	case ServerEventTypeConversationItemInputAudioTranscriptionCompleted:
		return TranscriptDone{ItemID: w.ItemID, Transcript: w.Transcript}, nil

	case ServerEventTypeResponseOutputTextDelta, ServerEventTypeResponseTextDelta,
		ServerEventTypeResponseOutputAudioTranscriptDelta, ServerEventTypeResponseAudioTranscriptDelta:
		return ResponseTextDelta{Source: w.Type, ResponseID: w.ResponseID, Delta: w.Delta}, nil

	case ServerEventTypeResponseOutputTextDone, ServerEventTypeResponseTextDone:
		return ResponseDone{Source: w.Type, ResponseID: w.ResponseID, Text: w.Text}, nil
	case ServerEventTypeResponseOutputAudioTranscriptDone, ServerEventTypeResponseAudioTranscriptDone:
		return ResponseDone{Source: w.Type, ResponseID: w.ResponseID, Text: w.Transcript}, nil
	case ServerEventTypeResponseDone:
		done := ResponseDone{Source: w.Type}
		if w.Response != nil {
			done.ResponseID = w.Response.ID
		}
		return done, nil

	case ServerEventTypeResponseOutputItemDone:
		if w.Item != nil && w.Item.Type == "function_call" {
			return FunctionCall{CallID: w.Item.CallID, Name: w.Item.Name, Arguments: w.Item.Arguments}, nil
		}
	case ServerEventTypeResponseFunctionCallArgumentsDone:
		// Only some snapshots put the name here; without it the
		// output_item.done that follows carries the call.
		if w.Name != "" {
			return FunctionCall{CallID: w.CallID, Name: w.Name, Arguments: w.Arguments}, nil
		}

	case ServerEventTypeOutputAudioBufferStarted, ServerEventTypeResponseAudioStart:
		return AudioMarker{Source: w.Type, Started: true}, nil
	case ServerEventTypeOutputAudioBufferStopped, ServerEventTypeOutputAudioBufferCleared:
		return AudioMarker{Source: w.Type, Started: false}, nil

	case ServerEventTypeError:
		se := ServerError{}
		if w.Error != nil {
			se = ServerError{Type: w.Error.Type, Code: w.Error.Code, Message: w.Error.Message}
		}
		return se, nil
	case ServerEventTypeSessionCreated, ServerEventTypeSessionUpdated:
		info := SessionInfo{Source: w.Type}
		if w.Session != nil {
			info.SessionID, info.Model = w.Session.ID, w.Session.Model
		}
		return info, nil
	}
	return UnknownEvent{Type: string(w.Type), Raw: raw}, nil
}
