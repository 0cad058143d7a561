package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/outreach-orchestrator/internal/eventbus"
	"github.com/wolfman30/outreach-orchestrator/pkg/logging"
)

type fakeSidecar struct {
	mu        sync.Mutex
	active    atomic.Int32
	maxActive atomic.Int32
	delay     time.Duration
	err       error
	success   bool
	threadURL string
	replies   []ReplyRequest
	initial   []InitialMessageRequest
	inbox     *InboxResponse
	sawCtxErr error
}

func (f *fakeSidecar) enter(ctx context.Context) {
	n := f.active.Add(1)
	for {
		cur := f.maxActive.Load()
		if n <= cur || f.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.sawCtxErr = ctx.Err()
	f.mu.Unlock()
	f.active.Add(-1)
}

func (f *fakeSidecar) Login(ctx context.Context, req LoginRequest) (*ActionResponse, error) {
	f.enter(ctx)
	return &ActionResponse{Success: f.success}, f.err
}

func (f *fakeSidecar) SendInitialMessage(ctx context.Context, req InitialMessageRequest) (*ActionResponse, error) {
	f.enter(ctx)
	f.mu.Lock()
	f.initial = append(f.initial, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &ActionResponse{Success: f.success, ThreadURL: f.threadURL}, nil
}

func (f *fakeSidecar) SendReply(ctx context.Context, req ReplyRequest) (*ActionResponse, error) {
	f.enter(ctx)
	f.mu.Lock()
	f.replies = append(f.replies, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &ActionResponse{Success: f.success, Error: "thread not found"}, nil
}

func (f *fakeSidecar) LatestInbox(ctx context.Context, req InboxRequest) (*InboxResponse, error) {
	f.enter(ctx)
	if f.err != nil {
		return nil, f.err
	}
	return f.inbox, nil
}

func TestSessionSerializesCalls(t *testing.T) {
	sidecar := &fakeSidecar{success: true, delay: 10 * time.Millisecond}
	session := NewSession(sidecar, nil, logging.Discard(), time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session.SendReply(context.Background(), "", "hi")
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), sidecar.maxActive.Load())
	assert.Len(t, sidecar.replies, 5)
}

func TestSessionFailuresBecomeFalseAndBusErrors(t *testing.T) {
	bus := eventbus.New(10)
	sidecar := &fakeSidecar{err: errors.New("connection refused")}
	session := NewSession(sidecar, bus, logging.Discard(), time.Second)

	_, ok := session.SendInitialMessage(context.Background(), "https://x/in/a", "hello")
	assert.False(t, ok)
	assert.Nil(t, session.FetchRecentInbound(context.Background(), 30, nil))

	history := bus.History()
	require.Len(t, history, 2)
	assert.Equal(t, eventbus.LevelError, history[0].Level)
	assert.Equal(t, "https://x/in/a", history[0].Extra["profile_url"])
}

func TestSessionUnsuccessfulResponse(t *testing.T) {
	bus := eventbus.New(10)
	session := NewSession(&fakeSidecar{success: false}, bus, logging.Discard(), time.Second)

	assert.False(t, session.SendReply(context.Background(), "https://x/messaging/thread/1", "hi"))
	require.Len(t, bus.History(), 1)
	assert.Equal(t, "thread not found", bus.History()[0].Extra["error"])
}

func TestSessionSanitizesOutboundText(t *testing.T) {
	sidecar := &fakeSidecar{success: true}
	session := NewSession(sidecar, nil, logging.Discard(), time.Second)

	_, ok := session.SendInitialMessage(context.Background(), "https://x/in/a", "Hello 👋 there, café")
	require.True(t, ok)
	assert.Equal(t, "Hello  there, café", sidecar.initial[0].Text)

	assert.False(t, session.SendReply(context.Background(), "", "🚀"))
	assert.Empty(t, sidecar.replies)
}

func TestSessionReturnsInitialMessageThread(t *testing.T) {
	sidecar := &fakeSidecar{success: true, threadURL: "https://x/messaging/thread/7"}
	session := NewSession(sidecar, nil, logging.Discard(), time.Second)

	threadURL, ok := session.SendInitialMessage(context.Background(), "https://x/in/a", "hello")
	require.True(t, ok)
	assert.Equal(t, "https://x/messaging/thread/7", threadURL)

	sidecar.success = false
	threadURL, ok = session.SendInitialMessage(context.Background(), "https://x/in/a", "hello")
	assert.False(t, ok)
	assert.Empty(t, threadURL)
}

func TestSessionCallsSurviveCallerCancellation(t *testing.T) {
	sidecar := &fakeSidecar{success: true}
	session := NewSession(sidecar, nil, logging.Discard(), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, session.Login(ctx, "user", "pass"))
	assert.NoError(t, sidecar.sawCtxErr)
}

func TestSessionFetchMapsMessages(t *testing.T) {
	observed := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	sidecar := &fakeSidecar{inbox: &InboxResponse{Success: true, Messages: []InboxMessage{
		{Text: " hi there ", ObservedAt: observed, ParticipantName: " Alice ", Incoming: true, ThreadURL: "t1"},
		{Text: "my own message", ObservedAt: observed, Incoming: false},
	}}}
	session := NewSession(sidecar, nil, logging.Discard(), 0)

	msgs := session.FetchRecentInbound(context.Background(), 30, []string{"https://x/in/alice"})
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi there", msgs[0].Text)
	assert.Equal(t, "Alice", msgs[0].ParticipantName)
	assert.True(t, msgs[0].Actionable())
	assert.False(t, msgs[1].Actionable())
}
