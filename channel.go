package realtime

import (
	"sync"

	"github.com/bt-bridge/realtime-assistant/shared"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// ControlChannel carries JSON control events over a DataChannel. Sends made
// before the channel opens are queued and flushed in order on open. Once
// closed it never reopens.
type ControlChannel struct {
	logger shared.LoggerAdapter
	dc     DataChannel

	mu        sync.Mutex
	state     ChannelState
	pending   [][]byte
	onMessage func([]byte)
	onClose   func()

	// serializes inbound delivery
	dispatchMu sync.Mutex
}

func NewControlChannel(logger shared.LoggerAdapter, dc DataChannel) *ControlChannel {
	c := &ControlChannel{
		logger: logger.With(zap.String("component", "channel")),
		dc:     dc,
		state:  ChannelConnecting,
	}
	dc.OnOpen(c.handleOpen)
	dc.OnMessage(c.handleMessage)
	dc.OnClose(c.handleClose)
	if dc.ReadyState() == ChannelOpen {
		c.handleOpen()
	}
	return c
}

func (c *ControlChannel) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// OnClose is called once when the remote side or the transport closes the
// channel. It is not called for Close.
func (c *ControlChannel) OnClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

func (c *ControlChannel) ReadyState() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send marshals msg and transmits it, or queues it while connecting.
// A []byte is sent as is.
func (c *ControlChannel) Send(msg any) error {
	data, ok := msg.([]byte)
	if !ok {
		var err error
		if data, err = sonic.Marshal(msg); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case ChannelConnecting:
		c.pending = append(c.pending, data)
		c.logger.Trace("queued outbound message", zap.Int("pending", len(c.pending)))
		return nil
	case ChannelOpen:
		return c.dc.Send(data)
	default:
		return shared.ErrChannelClosed
	}
}

func (c *ControlChannel) handleOpen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ChannelConnecting {
		return
	}
	c.state = ChannelOpen
	c.logger.Debug("control channel open", zap.Int("flushing", len(c.pending)))
	for _, data := range c.pending {
		if err := c.dc.Send(data); err != nil {
			c.logger.Error("flushing queued message", err)
		}
	}
	c.pending = nil
}

func (c *ControlChannel) handleMessage(data []byte) {
	if !sonic.Valid(data) {
		c.logger.Warn("dropping non-JSON control message", zap.ByteString("data", data))
		return
	}
	c.mu.Lock()
	fn := c.onMessage
	closed := c.state == ChannelClosed
	c.mu.Unlock()
	if fn == nil || closed {
		return
	}
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	fn(data)
}

func (c *ControlChannel) handleClose() {
	c.mu.Lock()
	if c.state == ChannelClosed {
		c.mu.Unlock()
		return
	}
	c.state = ChannelClosed
	if n := len(c.pending); n > 0 {
		c.logger.Warn("control channel closed with queued messages", zap.Int("dropped", n))
	}
	c.pending = nil
	fn := c.onClose
	c.mu.Unlock()
	c.logger.Info("control channel closed by peer")
	if fn != nil {
		fn()
	}
}

// Close closes the channel locally. Idempotent.
func (c *ControlChannel) Close() error {
	c.mu.Lock()
	if c.state == ChannelClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = ChannelClosed
	c.pending = nil
	c.mu.Unlock()
	return c.dc.Close()
}
