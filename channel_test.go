package realtime

import (
	"testing"

	"github.com/bt-bridge/realtime-assistant/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlChannelQueuesUntilOpen(t *testing.T) {
	dc := &fakeDataChannel{}
	ch := NewControlChannel(nopLogger(), dc)
	assert.Equal(t, ChannelConnecting, ch.ReadyState())

	for i := range 5 {
		require.NoError(t, ch.Send(map[string]any{"type": "test", "seq": i}))
	}
	assert.Empty(t, dc.messages(t))

	dc.open()
	require.NoError(t, ch.Send(map[string]any{"type": "test", "seq": 5}))

	msgs := dc.messages(t)
	require.Len(t, msgs, 6)
	for i, m := range msgs {
		assert.EqualValues(t, i, m["seq"], "message %d out of order", i)
	}
	assert.Equal(t, ChannelOpen, ch.ReadyState())
}

func TestControlChannelAlreadyOpen(t *testing.T) {
	dc := &fakeDataChannel{state: ChannelOpen}
	ch := NewControlChannel(nopLogger(), dc)
	require.NoError(t, ch.Send([]byte(`{"type":"raw"}`)))
	assert.Equal(t, []string{"raw"}, types(dc.messages(t)))
}

func TestControlChannelClosedIsTerminal(t *testing.T) {
	dc := &fakeDataChannel{}
	ch := NewControlChannel(nopLogger(), dc)
	closed := 0
	ch.OnClose(func() { closed++ })
	require.NoError(t, ch.Send(map[string]any{"type": "queued"}))

	dc.remoteClose()
	dc.remoteClose()
	assert.Equal(t, 1, closed)
	assert.Equal(t, ChannelClosed, ch.ReadyState())
	assert.ErrorIs(t, ch.Send(map[string]any{"type": "late"}), shared.ErrChannelClosed)

	// a late open must not resurrect the channel
	dc.open()
	assert.Equal(t, ChannelClosed, ch.ReadyState())
	assert.Empty(t, dc.messages(t))
}

func TestControlChannelLocalCloseSkipsCallback(t *testing.T) {
	dc := &fakeDataChannel{state: ChannelOpen}
	ch := NewControlChannel(nopLogger(), dc)
	called := false
	ch.OnClose(func() { called = true })

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	dc.remoteClose()
	assert.False(t, called)
	assert.Equal(t, 1, dc.closes)
}

func TestControlChannelDropsMalformedInbound(t *testing.T) {
	dc := &fakeDataChannel{state: ChannelOpen}
	ch := NewControlChannel(nopLogger(), dc)
	var got []string
	ch.OnMessage(func(b []byte) { got = append(got, string(b)) })

	assert.NotPanics(t, func() {
		dc.deliver("not json at all")
		dc.deliver(`{"type":"ok"}`)
		dc.deliver(`{"type":`)
	})
	assert.Equal(t, []string{`{"type":"ok"}`}, got)
}
