package publisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	topic   string
	qos     byte
	payload string
}

type fakeClient struct {
	mu          sync.Mutex
	connected   bool
	connectErr  error
	publishErr  error
	connects    int
	disconnects int
	messages    []published
}

func (f *fakeClient) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Publish(ctx context.Context, topic string, qos byte, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.messages = append(f.messages, published{topic, qos, payload})
	return nil
}

func (f *fakeClient) setConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

func (f *fakeClient) sent() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.messages...)
}

// blockingClient connects only when released, or fails when ctx ends.
type blockingClient struct {
	fakeClient
	release chan struct{}
	hang    bool // Publish blocks until ctx ends
}

func (b *blockingClient) Connect(ctx context.Context) error {
	select {
	case <-b.release:
		return b.fakeClient.Connect(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *blockingClient) Publish(ctx context.Context, topic string, qos byte, payload string) error {
	if b.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return b.fakeClient.Publish(ctx, topic, qos, payload)
}

// stubbornClient ignores ctx and connects once released.
type stubbornClient struct {
	fakeClient
	release chan struct{}
}

func (s *stubbornClient) Connect(ctx context.Context) error {
	<-s.release
	return s.fakeClient.Connect(ctx)
}

type fixedSource struct {
	mu sync.Mutex
	v  int
}

func (s *fixedSource) Load() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v
}

func (s *fixedSource) set(v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v = v
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	return Options{
		Topic:          "tempserver/relay/set",
		QoS:            1,
		Interval:       10 * time.Millisecond,
		ConnectTimeout: time.Second,
	}
}

func TestSession_PublishesImmediatelyAndPeriodically(t *testing.T) {
	client := &fakeClient{}
	source := &fixedSource{v: 20}
	s := NewSession(client, source, testOptions(), testLogger())

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.Running())

	assert.Eventually(t, func() bool { return len(client.sent()) >= 1 }, time.Second, time.Millisecond)
	first := client.sent()[0]
	assert.Equal(t, published{"tempserver/relay/set", 1, "20"}, first)

	source.set(27)
	assert.Eventually(t, func() bool {
		msgs := client.sent()
		return msgs[len(msgs)-1].payload == "27"
	}, time.Second, time.Millisecond)

	require.NoError(t, s.Close())
	assert.False(t, s.Running())
	assert.Equal(t, 1, client.disconnects)
}

func TestSession_CloseStopsLoop(t *testing.T) {
	client := &fakeClient{}
	s := NewSession(client, &fixedSource{v: 20}, testOptions(), testLogger())

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return len(client.sent()) >= 2 }, time.Second, time.Millisecond)
	require.NoError(t, s.Close())

	n := len(client.sent())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, len(client.sent()), "no publishes after Close")
}

func TestSession_ConnectFailure(t *testing.T) {
	boom := errors.New("connection refused")
	client := &fakeClient{connectErr: boom}
	s := NewSession(client, &fixedSource{v: 20}, testOptions(), testLogger())

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, s.Running())
	assert.Equal(t, 1, client.connects, "connect is attempted once")
	assert.Empty(t, client.sent())
}

func TestSession_StartTwice(t *testing.T) {
	client := &fakeClient{}
	s := NewSession(client, &fixedSource{v: 20}, testOptions(), testLogger())

	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)
	assert.Equal(t, 1, client.connects)
}

func TestSession_CloseWhenIdle(t *testing.T) {
	s := NewSession(&fakeClient{}, &fixedSource{v: 20}, testOptions(), testLogger())
	assert.ErrorIs(t, s.Close(), ErrNotRunning)
}

func TestSession_RestartAfterClose(t *testing.T) {
	client := &fakeClient{}
	s := NewSession(client, &fixedSource{v: 20}, testOptions(), testLogger())

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Close())
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Close())

	assert.Equal(t, 2, client.connects)
	assert.Equal(t, 2, client.disconnects)
}

func TestSession_SkipsWhileDisconnected(t *testing.T) {
	client := &fakeClient{}
	s := NewSession(client, &fixedSource{v: 20}, testOptions(), testLogger())

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return len(client.sent()) >= 1 }, time.Second, time.Millisecond)

	client.setConnected(false)
	time.Sleep(20 * time.Millisecond)
	n := len(client.sent())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, len(client.sent()))

	require.NoError(t, s.Close())
	assert.Equal(t, 0, client.disconnects, "nothing to disconnect")
}

func TestSession_PublishErrorKeepsLoopAlive(t *testing.T) {
	client := &fakeClient{publishErr: errors.New("broker gone")}
	var mu sync.Mutex
	calls := 0
	opts := testOptions()
	opts.OnPublish = func(int) {
		mu.Lock()
		calls++
		mu.Unlock()
	}
	s := NewSession(client, &fixedSource{v: 20}, opts, testLogger())

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)

	client.mu.Lock()
	client.publishErr = nil
	client.mu.Unlock()

	assert.Eventually(t, func() bool { return len(client.sent()) >= 1 }, time.Second, time.Millisecond)
	require.NoError(t, s.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, len(client.sent()), calls, "OnPublish fires only on success")
}

func TestSession_CloseAbortsPendingConnect(t *testing.T) {
	client := &blockingClient{release: make(chan struct{})}
	opts := testOptions()
	opts.ConnectTimeout = 2 * time.Second
	s := NewSession(client, &fixedSource{v: 20}, opts, testLogger())

	startErr := make(chan error, 1)
	go func() { startErr <- s.Start(context.Background()) }()
	time.Sleep(50 * time.Millisecond)

	began := time.Now()
	require.NoError(t, s.Close())
	assert.Less(t, time.Since(began), 200*time.Millisecond, "Close must not wait for the connect")

	select {
	case err := <-startErr:
		assert.ErrorIs(t, err, ErrStartCancelled)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Close")
	}
	assert.False(t, s.Running())
	assert.Empty(t, client.sent())

	// Start works again afterwards.
	close(client.release)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Close())
}

func TestSession_LateConnectAfterCloseDisconnects(t *testing.T) {
	client := &stubbornClient{release: make(chan struct{})}
	s := NewSession(client, &fixedSource{v: 20}, testOptions(), testLogger())

	startErr := make(chan error, 1)
	go func() { startErr <- s.Start(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, s.Close())
	close(client.release)

	assert.ErrorIs(t, <-startErr, ErrStartCancelled)
	assert.False(t, s.Running())
	assert.False(t, client.IsConnected())
	assert.Equal(t, 1, client.disconnects)
	assert.Empty(t, client.sent())
}

func TestSession_StartWhileStarting(t *testing.T) {
	client := &blockingClient{release: make(chan struct{})}
	s := NewSession(client, &fixedSource{v: 20}, testOptions(), testLogger())

	go s.Start(context.Background())
	assert.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.state == starting
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)
	require.NoError(t, s.Close())
}

func TestSession_ConnectTimeout(t *testing.T) {
	client := &blockingClient{release: make(chan struct{})}
	opts := testOptions()
	opts.ConnectTimeout = 50 * time.Millisecond
	s := NewSession(client, &fixedSource{v: 20}, opts, testLogger())

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, s.Running())
	assert.ErrorIs(t, s.Close(), ErrNotRunning)
}

func TestSession_CloseDoesNotWaitForHungPublish(t *testing.T) {
	client := &blockingClient{release: make(chan struct{}), hang: true}
	close(client.release)
	opts := testOptions()
	opts.Interval = time.Minute
	s := NewSession(client, &fixedSource{v: 20}, opts, testLogger())

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- s.Close() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close blocked on an unacknowledged publish")
	}
}

func TestNewSession_DefaultInterval(t *testing.T) {
	s := NewSession(&fakeClient{}, &fixedSource{}, Options{Topic: "t"}, testLogger())
	assert.Equal(t, DefaultInterval, s.opts.Interval)
}

func TestPayload(t *testing.T) {
	assert.Equal(t, "20", Payload(20))
	assert.Equal(t, "-3", Payload(-3))
}
