package tools

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	realtime "github.com/bt-bridge/realtime-assistant"
	"github.com/bt-bridge/realtime-assistant/shared"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/prop"
	"go.uber.org/zap"
)

// MediaTrack adapts a mediadevices track to the engine's AudioTrack.
type MediaTrack struct {
	track mediadevices.Track
	ended atomic.Bool
}

func NewMediaTrack(track mediadevices.Track) *MediaTrack {
	mt := &MediaTrack{track: track}
	track.OnEnded(func(error) { mt.ended.Store(true) })
	return mt
}

func (m *MediaTrack) ID() string                { return m.track.ID() }
func (m *MediaTrack) Live() bool                { return !m.ended.Load() }
func (m *MediaTrack) Track() mediadevices.Track { return m.track }

func (m *MediaTrack) Stop() error {
	m.ended.Store(true)
	return m.track.Close()
}

// Microphone opens the default input device through mediadevices and
// encodes it as Opus.
type Microphone struct {
	logger       shared.LoggerAdapter
	params       opus.Params
	SampleRate   int
	ChannelCount int
}

var _ realtime.DeviceProvider = (*Microphone)(nil)

func NewMicrophone(logger shared.LoggerAdapter) (*Microphone, error) {
	params, err := opus.NewParams()
	if err != nil {
		return nil, err
	}
	return &Microphone{
		logger:       logger.With(zap.String("component", "microphone")),
		params:       params,
		SampleRate:   48000,
		ChannelCount: 1,
	}, nil
}

// FrameDuration is the encoder latency, which is also the duration of
// every encoded frame.
func (m *Microphone) FrameDuration() time.Duration {
	return time.Duration(m.params.Latency)
}

func (m *Microphone) Acquire(ctx context.Context) ([]realtime.AudioTrack, error) {
	type result struct {
		stream mediadevices.MediaStream
		err    error
	}
	resC := make(chan result, 1)
	go func() {
		stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
			Audio: func(c *mediadevices.MediaTrackConstraints) {
				c.SampleRate = prop.Int(m.SampleRate)
				c.ChannelCount = prop.Int(m.ChannelCount)
				c.SampleSize = prop.Int(16)
			},
			Codec: mediadevices.NewCodecSelector(
				mediadevices.WithAudioEncoders(&m.params),
			),
		})
		resC <- result{stream, err}
	}()

	var r result
	select {
	case r = <-resC:
	case <-ctx.Done():
		// the device may still open; close it once it does
		go func() {
			if late := <-resC; late.err == nil {
				for _, t := range late.stream.GetTracks() {
					_ = t.Close()
				}
			}
		}()
		return nil, ctx.Err()
	}
	if r.err != nil {
		return nil, deviceError(r.err)
	}
	var tracks []realtime.AudioTrack
	for _, t := range r.stream.GetAudioTracks() {
		tracks = append(tracks, NewMediaTrack(t))
	}
	m.logger.Debug("microphone stream obtained", zap.Int("tracks", len(tracks)))
	return tracks, nil
}

// deviceError names a mediadevices failure the way the engine classifies
// device errors.
func deviceError(err error) error {
	var de *realtime.DeviceError
	if errors.As(err, &de) {
		return err
	}
	msg := strings.ToLower(err.Error())
	name := "UnknownError"
	switch {
	case strings.Contains(msg, "permission"), strings.Contains(msg, "denied"), strings.Contains(msg, "not allowed"):
		name = "NotAllowedError"
	case strings.Contains(msg, "failed to find"), strings.Contains(msg, "not found"), strings.Contains(msg, "no device"):
		name = "NotFoundError"
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"), strings.Contains(msg, "could not start"):
		name = "NotReadableError"
	}
	return &realtime.DeviceError{Name: name, Message: err.Error()}
}
