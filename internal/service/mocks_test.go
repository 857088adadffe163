package service

import (
	"context"
	"sync"
	"time"

	"chatsync/internal/cache"
	"chatsync/internal/models"
	"chatsync/pkg/realtime"
	remotetypes "chatsync/pkg/remote/types"

	"github.com/stretchr/testify/mock"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) StoreMessage(ctx context.Context, msg *models.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *mockStore) StoreMessages(ctx context.Context, msgs []*models.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *mockStore) GetMessages(ctx context.Context, channelID int64, opts cache.GetOptions) ([]models.Message, error) {
	args := m.Called(ctx, channelID, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *mockStore) GetMessageByLocalID(ctx context.Context, localID string) (*models.Message, error) {
	args := m.Called(ctx, localID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *mockStore) UpdateMessageSyncStatus(ctx context.Context, localID string, status models.SyncStatus, serverID int64) error {
	args := m.Called(ctx, localID, status, serverID)
	return args.Error(0)
}

func (m *mockStore) GetPendingMessages(ctx context.Context) ([]models.Message, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *mockStore) ActiveChannelIDs(ctx context.Context, since time.Time) ([]int64, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *mockStore) DeleteMessagesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

type mockRemoteClient struct {
	mock.Mock
}

func (m *mockRemoteClient) SearchMessages(ctx context.Context, q remotetypes.SearchQuery) ([]remotetypes.RemoteMessage, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]remotetypes.RemoteMessage), args.Error(1)
}

func (m *mockRemoteClient) CreateMessage(ctx context.Context, values remotetypes.CreateValues) (int64, error) {
	args := m.Called(ctx, values)
	return args.Get(0).(int64), args.Error(1)
}

// mockTransport is a hand-rolled realtime.Client: tests flip its state and
// inspect sent frames without a live websocket.
type mockTransport struct {
	mu        sync.Mutex
	state     realtime.ConnectionState
	handlers  map[string][]realtime.Handler
	sent      []sentFrame
	sendErr   error
	connerr   error
	subbed    map[int64]bool
	connectCt int
}

type sentFrame struct {
	event   string
	payload interface{}
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		state:    realtime.StateConnected,
		handlers: make(map[string][]realtime.Handler),
		subbed:   make(map[int64]bool),
	}
}

func (m *mockTransport) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectCt++
	if m.connerr != nil {
		m.state = realtime.StateDisconnected
		return m.connerr
	}
	m.state = realtime.StateConnected
	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = realtime.StateDisconnected
	return nil
}

func (m *mockTransport) Subscribe(ctx context.Context, channelID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subbed[channelID] = true
	return nil
}

func (m *mockTransport) Unsubscribe(ctx context.Context, channelID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subbed, channelID)
	return nil
}

func (m *mockTransport) Send(ctx context.Context, event string, payload interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentFrame{event: event, payload: payload})
	return nil
}

func (m *mockTransport) On(event string, handler realtime.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], handler)
}

func (m *mockTransport) State() realtime.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *mockTransport) setState(state realtime.ConnectionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
}

func (m *mockTransport) setSendErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

func (m *mockTransport) sentFrames() []sentFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentFrame, len(m.sent))
	copy(out, m.sent)
	return out
}
