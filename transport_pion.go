package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/bt-bridge/realtime-assistant/shared"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// LocalTrackHandler pumps one microphone track into its outgoing sample
// track until ctx ends. Samples must be dropped while enabled reports false.
type LocalTrackHandler func(ctx context.Context, track AudioTrack, enabled func() bool, out *webrtc.TrackLocalStaticSample)

// RemoteTrackHandler plays one inbound audio track until ctx ends.
type RemoteTrackHandler func(ctx context.Context, track *webrtc.TrackRemote)

type PionConfig struct {
	Logger      shared.LoggerAdapter
	ICEServers  []webrtc.ICEServer
	LocalTrack  LocalTrackHandler
	RemoteTrack RemoteTrackHandler
	// DataChannelLabel defaults to "oai-events".
	DataChannelLabel string
}

func NewPionTransportFactory(cfg PionConfig) TransportFactory {
	return func(ctx context.Context, lease *MicLease) (Transport, error) {
		return NewPionTransport(ctx, cfg, lease)
	}
}

type localSender struct {
	track  AudioTrack
	sample *webrtc.TrackLocalStaticSample
}

// PionTransport is a Transport over a pion PeerConnection.
type PionTransport struct {
	logger shared.LoggerAdapter
	cfg    PionConfig
	lease  *MicLease
	pc     *webrtc.PeerConnection
	dc     *pionDataChannel
	locals []localSender

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    ConnectionState
	observer func(ConnectionState)
	events   chan ConnectionState
	closed   bool

	startOnce sync.Once
	closeOnce sync.Once
}

var _ Transport = (*PionTransport)(nil)

func NewPionTransport(ctx context.Context, cfg PionConfig, lease *MicLease) (t *PionTransport, err error) {
	if cfg.Logger == nil {
		return nil, shared.ErrNoLogger
	}
	if cfg.DataChannelLabel == "" {
		cfg.DataChannelLabel = "oai-events"
	}
	t = &PionTransport{
		logger: cfg.Logger.With(zap.String("component", "transport")),
		cfg:    cfg,
		lease:  lease,
		state:  ConnectionNew,
		events: make(chan ConnectionState, 16),
	}
	t.ctx, t.cancel = context.WithCancel(context.WithoutCancel(ctx))

	t.pc, err = webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		t.cancel()
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}
	defer func() {
		if err != nil {
			t.cancel()
			_ = t.pc.Close()
		}
	}()

	var tracks []AudioTrack
	if lease != nil {
		tracks = lease.Tracks()
	}
	for _, track := range tracks {
		sample, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeOpus,
				ClockRate:   48000,
				Channels:    2,
				SDPFmtpLine: "minptime=10;useinbandfec=1",
			},
			"audio",
			"mic-"+track.ID(),
		)
		if err != nil {
			return nil, fmt.Errorf("creating local audio track: %w", err)
		}
		if _, err := t.pc.AddTrack(sample); err != nil {
			return nil, fmt.Errorf("adding audio track to peer connection: %w", err)
		}
		t.locals = append(t.locals, localSender{track: track, sample: sample})
	}
	if len(t.locals) == 0 {
		if _, err := t.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return nil, fmt.Errorf("adding audio transceiver: %w", err)
		}
	}

	t.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		t.logger.Info("received remote track",
			zap.String("kind", track.Kind().String()),
			zap.String("codec", track.Codec().MimeType),
		)
		if track.Kind() == webrtc.RTPCodecTypeAudio && t.cfg.RemoteTrack != nil {
			go t.cfg.RemoteTrack(t.ctx, track)
		}
	})

	dc, err := t.pc.CreateDataChannel(cfg.DataChannelLabel, nil)
	if err != nil {
		return nil, fmt.Errorf("creating data channel: %w", err)
	}
	t.dc = &pionDataChannel{dc: dc, logger: t.logger}

	t.pc.OnConnectionStateChange(t.handleState)
	go t.dispatch()
	return t, nil
}

func (t *PionTransport) DataChannel() DataChannel { return t.dc }

func (t *PionTransport) State() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *PionTransport) OnStateChange(fn func(ConnectionState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observer = fn
}

func (t *PionTransport) CreateOffer(ctx context.Context) (string, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("creating offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("setting local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return t.pc.LocalDescription().SDP, nil
}

func (t *PionTransport) ApplyAnswer(sdp string) error {
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}
	return nil
}

func (t *PionTransport) handleState(s webrtc.PeerConnectionState) {
	cs := connectionState(s)
	t.mu.Lock()
	prev := t.state
	t.state = cs
	closed := t.closed
	t.mu.Unlock()
	t.logger.Trace("peer connection state changed",
		zap.Stringer("prev", prev),
		zap.Stringer("new", cs),
	)
	if cs == ConnectionConnected {
		t.startOnce.Do(t.startSenders)
	}
	if closed {
		return
	}
	// blocks pion's callback until the dispatcher catches up; a dropped
	// failed state would leave the session open forever
	select {
	case t.events <- cs:
	case <-t.ctx.Done():
	}
}

// dispatch delivers state changes to the observer off pion's callback
// goroutine, so the observer may call Close.
func (t *PionTransport) dispatch() {
	for {
		select {
		case <-t.ctx.Done():
			return
		case cs := <-t.events:
			t.mu.Lock()
			fn := t.observer
			t.mu.Unlock()
			if fn != nil {
				fn(cs)
			}
		}
	}
}

func (t *PionTransport) startSenders() {
	if t.cfg.LocalTrack == nil {
		return
	}
	for _, l := range t.locals {
		id := l.track.ID()
		go t.cfg.LocalTrack(t.ctx, l.track, func() bool { return t.lease.TrackEnabled(id) }, l.sample)
	}
}

// Close stops the senders, mutes the lease and closes the connection. The
// lease tracks keep running.
func (t *PionTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.state = ConnectionClosed
		t.mu.Unlock()
		t.cancel()
		if t.lease != nil {
			t.lease.SetTracksEnabled(false)
		}
		if cerr := t.dc.Close(); cerr != nil {
			t.logger.Warn("closing data channel", zap.Error(cerr))
		}
		err = t.pc.Close()
	})
	return err
}

func connectionState(s webrtc.PeerConnectionState) ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return ConnectionConnecting
	case webrtc.PeerConnectionStateConnected:
		return ConnectionConnected
	case webrtc.PeerConnectionStateDisconnected:
		return ConnectionDisconnected
	case webrtc.PeerConnectionStateFailed:
		return ConnectionFailed
	case webrtc.PeerConnectionStateClosed:
		return ConnectionClosed
	default:
		return ConnectionNew
	}
}

type pionDataChannel struct {
	dc     *webrtc.DataChannel
	logger shared.LoggerAdapter
}

func (d *pionDataChannel) Send(data []byte) error {
	return d.dc.SendText(string(data))
}

func (d *pionDataChannel) OnOpen(fn func()) { d.dc.OnOpen(fn) }

func (d *pionDataChannel) OnClose(fn func()) { d.dc.OnClose(fn) }

func (d *pionDataChannel) OnMessage(fn func([]byte)) {
	d.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			d.logger.Warn("received non-string message on data channel")
			return
		}
		fn(msg.Data)
	})
}

func (d *pionDataChannel) ReadyState() ChannelState {
	switch d.dc.ReadyState() {
	case webrtc.DataChannelStateOpen:
		return ChannelOpen
	case webrtc.DataChannelStateClosing:
		return ChannelClosing
	case webrtc.DataChannelStateClosed:
		return ChannelClosed
	default:
		return ChannelConnecting
	}
}

func (d *pionDataChannel) Close() error { return d.dc.Close() }
