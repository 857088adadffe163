package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient() *WSClient {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return NewClient(Options{URL: "ws://localhost:0/rt", Logger: logger})
}

func TestNewClient_StartsDisconnected(t *testing.T) {
	client := newTestClient()
	assert.Equal(t, StateDisconnected, client.State())
}

func TestSend_FailsWhenDisconnected(t *testing.T) {
	client := newTestClient()
	err := client.Send(context.Background(), EventMessageSend, OutgoingMessage{
		ChannelID: 7,
		Content:   "hello",
		LocalID:   "local-1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestSubscribe_FailsWhenDisconnected(t *testing.T) {
	client := newTestClient()
	assert.Error(t, client.Subscribe(context.Background(), 7))
	assert.Error(t, client.Unsubscribe(context.Background(), 7))
}

func TestOn_DispatchDeliversInRegistrationOrder(t *testing.T) {
	client := newTestClient()

	var order []int
	client.On(EventMessageReceived, func(payload json.RawMessage) {
		order = append(order, 1)
	})
	client.On(EventMessageReceived, func(payload json.RawMessage) {
		order = append(order, 2)
	})
	client.On(EventTypingChanged, func(payload json.RawMessage) {
		order = append(order, 99)
	})

	client.dispatch(Frame{Event: EventMessageReceived})

	assert.Equal(t, []int{1, 2}, order)
}

func TestDispatch_PassesPayloadThrough(t *testing.T) {
	client := newTestClient()

	var got IncomingMessage
	client.On(EventMessageReceived, func(payload json.RawMessage) {
		require.NoError(t, json.Unmarshal(payload, &got))
	})

	payload, err := json.Marshal(IncomingMessage{
		LocalID:   "local-1",
		ServerID:  101,
		ChannelID: 7,
		Content:   "hello",
		AuthorID:  "user-9",
	})
	require.NoError(t, err)
	client.dispatch(Frame{Event: EventMessageReceived, Payload: payload})

	assert.Equal(t, "local-1", got.LocalID)
	assert.Equal(t, int64(101), got.ServerID)
	assert.Equal(t, int64(7), got.ChannelID)
}

func TestSetState_EmitsConnectionChanged(t *testing.T) {
	client := newTestClient()

	var states []string
	client.On(EventConnectionChanged, func(payload json.RawMessage) {
		var p map[string]string
		require.NoError(t, json.Unmarshal(payload, &p))
		states = append(states, p["state"])
	})

	client.setState(StateConnecting)
	client.setState(StateDisconnected)

	assert.Equal(t, []string{"connecting", "disconnected"}, states)
	assert.Equal(t, StateDisconnected, client.State())
}

func TestClose_IsIdempotentWhenNeverConnected(t *testing.T) {
	client := newTestClient()
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	assert.Equal(t, StateDisconnected, client.State())
}

func TestFrame_RoundTripsOptionalPayload(t *testing.T) {
	data, err := json.Marshal(Frame{Event: EventTypingStart})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "payload")

	var frame Frame
	require.NoError(t, json.Unmarshal([]byte(`{"event":"typingStart","payload":{"channelId":7,"typing":true}}`), &frame))
	assert.Equal(t, EventTypingStart, frame.Event)

	var typing TypingPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &typing))
	assert.Equal(t, int64(7), typing.ChannelID)
	assert.True(t, typing.Typing)
}
