package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

// WSClient is the websocket implementation of the realtime transport.
type WSClient struct {
	url          string
	authToken    string
	writeTimeout time.Duration
	logger       *logrus.Logger

	mu       sync.RWMutex
	conn     *websocket.Conn
	state    ConnectionState
	handlers map[string][]Handler

	readCtx    context.Context
	readCancel context.CancelFunc
	readDone   chan struct{}
}

// Options configures a WSClient.
type Options struct {
	URL          string
	AuthToken    string
	WriteTimeout time.Duration
	Logger       *logrus.Logger
}

// NewClient creates a websocket transport client. The client starts
// disconnected; call Connect before sending.
func NewClient(opts Options) *WSClient {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &WSClient{
		url:          opts.URL,
		authToken:    opts.AuthToken,
		writeTimeout: writeTimeout,
		logger:       logger,
		state:        StateDisconnected,
		handlers:     make(map[string][]Handler),
	}
}

// Connect dials the transport and starts the read pump.
func (c *WSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()
	c.notifyStateChange(StateConnecting)

	opts := &websocket.DialOptions{}
	if c.authToken != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + c.authToken}}
	}

	conn, _, err := websocket.Dial(ctx, c.url, opts)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("failed to dial transport: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.readCtx, c.readCancel = context.WithCancel(context.Background())
	c.readDone = make(chan struct{})
	c.mu.Unlock()
	c.notifyStateChange(StateConnected)

	go c.readPump()

	c.logger.WithField("url", c.url).Info("Realtime transport connected")
	return nil
}

// Close shuts the connection down and stops the read pump.
func (c *WSClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	cancel := c.readCancel
	done := c.readDone
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	if done != nil {
		<-done
	}
	return nil
}

// State reports the current connection state.
func (c *WSClient) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// On registers a handler for a named event. Registration order is delivery
// order.
func (c *WSClient) On(event string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], handler)
}

// Send writes a named event frame. Fails immediately when disconnected.
func (c *WSClient) Send(ctx context.Context, event string, payload interface{}) error {
	c.mu.RLock()
	conn := c.conn
	state := c.state
	c.mu.RUnlock()

	if state != StateConnected || conn == nil {
		return fmt.Errorf("transport not connected")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	if err := wsjson.Write(writeCtx, conn, Frame{Event: event, Payload: data}); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Subscribe joins a channel's event stream.
func (c *WSClient) Subscribe(ctx context.Context, channelID int64) error {
	return c.Send(ctx, EventSubscribe, SubscribePayload{ChannelID: channelID})
}

// Unsubscribe leaves a channel's event stream.
func (c *WSClient) Unsubscribe(ctx context.Context, channelID int64) error {
	return c.Send(ctx, EventUnsubscribe, SubscribePayload{ChannelID: channelID})
}

func (c *WSClient) readPump() {
	defer close(c.readDone)

	for {
		c.mu.RLock()
		conn := c.conn
		ctx := c.readCtx
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		var frame Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			c.mu.Lock()
			stillCurrent := c.conn == conn
			if stillCurrent {
				c.conn = nil
				c.state = StateDisconnected
			}
			c.mu.Unlock()
			if stillCurrent {
				c.logger.WithError(err).Warn("Realtime transport read failed, disconnected")
				c.notifyStateChange(StateDisconnected)
			}
			return
		}

		c.dispatch(frame)
	}
}

func (c *WSClient) dispatch(frame Frame) {
	c.mu.RLock()
	handlers := make([]Handler, len(c.handlers[frame.Event]))
	copy(handlers, c.handlers[frame.Event])
	c.mu.RUnlock()

	for _, h := range handlers {
		h(frame.Payload)
	}
}

func (c *WSClient) setState(state ConnectionState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	c.notifyStateChange(state)
}

func (c *WSClient) notifyStateChange(state ConnectionState) {
	payload, err := json.Marshal(map[string]string{"state": string(state)})
	if err != nil {
		return
	}
	c.dispatch(Frame{Event: EventConnectionChanged, Payload: payload})
}
