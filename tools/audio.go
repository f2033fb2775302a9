package tools

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	realtime "github.com/bt-bridge/realtime-assistant"
	"github.com/bt-bridge/realtime-assistant/shared"
	"github.com/ebitengine/oto/v3"
	"github.com/hraban/opus"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
)

// AudioBuffer is a bounded byte FIFO between the decoder and the output
// device. When full, the oldest bytes are dropped.
type AudioBuffer struct {
	buffer []byte
	mu     sync.Mutex
	cond   *sync.Cond
	cap    int
	closed bool
}

func NewAudioBuffer(fixedCap int) *AudioBuffer {
	ab := &AudioBuffer{
		buffer: make([]byte, 0, fixedCap),
		cap:    fixedCap,
	}
	ab.cond = sync.NewCond(&ab.mu)
	return ab
}

// Write appends data and returns how many old bytes were dropped to fit it.
func (ab *AudioBuffer) Write(data []byte) (dropped int) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	if ab.closed {
		return len(data)
	}
	if len(data) > ab.cap {
		dropped = len(data) - ab.cap
		data = data[dropped:]
	}
	if over := len(ab.buffer) + len(data) - ab.cap; over > 0 {
		ab.buffer = ab.buffer[over:]
		dropped += over
	}
	ab.buffer = append(ab.buffer, data...)
	ab.cond.Signal()
	return dropped
}

// Read blocks until data is available or the buffer is closed.
func (ab *AudioBuffer) Read(p []byte) (n int, err error) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	for len(ab.buffer) == 0 && !ab.closed {
		ab.cond.Wait()
	}
	if len(ab.buffer) == 0 {
		return 0, io.EOF
	}
	n = copy(p, ab.buffer)
	ab.buffer = ab.buffer[n:]
	return n, nil
}

func (ab *AudioBuffer) Len() int {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return len(ab.buffer)
}

// Close wakes blocked readers. Buffered data can still be read.
func (ab *AudioBuffer) Close() error {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	ab.closed = true
	ab.cond.Broadcast()
	return nil
}

// LocalAudioSender returns the handler that moves encoded microphone
// frames into the peer connection. Frames read while the track is muted
// are dropped, so the device keeps running between turns.
func LocalAudioSender(logger shared.LoggerAdapter, frameDuration time.Duration) realtime.LocalTrackHandler {
	return func(ctx context.Context, track realtime.AudioTrack, enabled func() bool, out *webrtc.TrackLocalStaticSample) {
		mt, ok := track.(*MediaTrack)
		if !ok {
			logger.Error("unsupported microphone track", errors.New("not a media device track"), zap.String("track", track.ID()))
			return
		}
		reader, err := mt.Track().NewEncodedReader(out.Codec().MimeType)
		if err != nil {
			logger.Error("creating media track reader", err)
			return
		}
		defer func() { _ = reader.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			buf, release, err := reader.Read()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				logger.Error("reading from media track", err)
				continue
			}
			if buf.Samples == 0 || !enabled() {
				release()
				continue
			}
			err = out.WriteSample(media.Sample{
				Data:     buf.Data,
				Duration: frameDuration,
			})
			release()
			if err != nil {
				logger.Error("failed to write sample to track", err)
			}
		}
	}
}

// Speaker plays remote Opus tracks on the default output device. The oto
// context can exist only once per process, so it is created on first use
// and shared by every session.
type Speaker struct {
	logger      shared.LoggerAdapter
	bufferSize  time.Duration
	ringSeconds int

	once     sync.Once
	otoCtx   *oto.Context
	otoErr   error
	rate     int
	channels int
}

func NewSpeaker(logger shared.LoggerAdapter, bufferSize time.Duration, ringSeconds int) *Speaker {
	if bufferSize <= 0 {
		bufferSize = 100 * time.Millisecond
	}
	if ringSeconds <= 0 {
		ringSeconds = 2
	}
	return &Speaker{
		logger:      logger.With(zap.String("component", "speaker")),
		bufferSize:  bufferSize,
		ringSeconds: ringSeconds,
	}
}

func (s *Speaker) context(rate, channels int) (*oto.Context, error) {
	s.once.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   rate,
			ChannelCount: channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   s.bufferSize,
		})
		if err != nil {
			s.otoErr = err
			return
		}
		<-ready
		s.otoCtx, s.rate, s.channels = ctx, rate, channels
	})
	if s.otoErr != nil {
		return nil, s.otoErr
	}
	if rate != s.rate || channels != s.channels {
		s.logger.Warn("remote track format differs from output device",
			zap.Int("sampleRate", rate),
			zap.Int("channels", channels),
		)
	}
	return s.otoCtx, nil
}

// Handler adapts the speaker to the transport's remote track hook.
func (s *Speaker) Handler() realtime.RemoteTrackHandler {
	return s.Play
}

// Play decodes track until ctx ends or the track does.
func (s *Speaker) Play(ctx context.Context, track *webrtc.TrackRemote) {
	var (
		codec      = track.Codec()
		sampleRate = int(codec.ClockRate)
		channels   = int(codec.Channels)
	)
	if channels == 0 {
		channels = 2
	}
	s.logger.Info("playing remote audio",
		zap.String("codec", codec.MimeType),
		zap.Int("sampleRate", sampleRate),
		zap.Int("channels", channels),
	)
	decoder, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		s.logger.Error("creating Opus decoder", err)
		return
	}
	otoCtx, err := s.context(sampleRate, channels)
	if err != nil {
		s.logger.Error("creating audio output context", err)
		return
	}

	audioBuffer := NewAudioBuffer(RingBytes(s.ringSeconds, sampleRate, channels))
	player := otoCtx.NewPlayer(audioBuffer)
	player.Play()
	defer func() {
		_ = audioBuffer.Close()
		_ = player.Close()
	}()
	go func() {
		<-ctx.Done()
		_ = audioBuffer.Close()
	}()

	pcm := make([]int16, FrameSamples(maxOpusFrame, sampleRate, channels))
	for {
		if ctx.Err() != nil {
			return
		}
		rtp, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Error("reading RTP packet", err)
			}
			return
		}
		if len(rtp.Payload) == 0 {
			continue
		}
		n, err := decoder.Decode(rtp.Payload, pcm)
		if err != nil {
			s.logger.Error("decoding Opus", err)
			continue
		}
		if dropped := audioBuffer.Write(PCMBytes(pcm[:n*channels])); dropped > 0 {
			s.logger.Warn("audio buffer dropped data", zap.Int("droppedBytes", dropped))
		}
	}
}
