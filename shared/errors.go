package shared

import "errors"

var (
	ErrNoLogger   = errors.New("no logger provided")
	ErrNoConfig   = errors.New("no config provided")
	ErrNoAPIKey   = errors.New("no API key provided")
	ErrNoProvider = errors.New("no device provider provided")
	ErrNoFactory  = errors.New("no transport factory provided")

	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrDeviceNotFound   = errors.New("no microphone detected")
	ErrDeviceBusy       = errors.New("microphone is in use")
	ErrDeviceUnknown    = errors.New("microphone unavailable")

	ErrCredentials      = errors.New("credentials unavailable")
	ErrNegotiation      = errors.New("session negotiation failed")
	ErrTransportFailure = errors.New("transport failure")
	ErrConnectAborted   = errors.New("connect aborted")
	ErrNotConnected     = errors.New("session not connected")

	ErrChannelClosed     = errors.New("control channel closed")
	ErrMalformedEvent    = errors.New("malformed event")
	ErrDuplicateCall     = errors.New("duplicate function call")
	ErrUnknownCapability = errors.New("unknown capability")
	ErrActionTimeout     = errors.New("action timed out")
	ErrInvalidArguments  = errors.New("invalid arguments")
	ErrVision            = errors.New("image analysis failed")

	ErrHandlerAlreadySet = errors.New("handler already set")
)
