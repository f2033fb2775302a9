// Package realtime is the session engine of a desktop voice assistant built
// on a realtime speech model reached over WebRTC.
//
// A Client negotiates the media session (credentials, microphone lease,
// peer transport, SDP exchange) and owns the control channel that carries
// JSON events in both directions. Inbound events are routed to the UI, the
// conversation log and a function-call executor that runs local actions
// and feeds their results back to the model. A TurnController gates the
// microphone in push-to-talk or continuous mode without ever releasing the
// device between sessions.
//
// Hosts provide the collaborators declared in collaborators.go; the agents
// package wires a terminal host around pion/webrtc and pion/mediadevices.
package realtime
