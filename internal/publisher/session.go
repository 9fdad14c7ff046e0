package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// DefaultInterval is used when Options.Interval is not positive.
const DefaultInterval = 5 * time.Second

var (
	ErrAlreadyRunning = errors.New("publisher already running")
	ErrNotRunning     = errors.New("publisher not running")
	ErrStartCancelled = errors.New("publisher start cancelled")
)

// Client is the part of an MQTT connection the session needs.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	Publish(ctx context.Context, topic string, qos byte, payload string) error
}

// Source provides the value to publish.
type Source interface {
	Load() int
}

type Options struct {
	Topic          string
	QoS            byte
	Interval       time.Duration
	ConnectTimeout time.Duration
	// OnPublish is called from the publish goroutine after every successful publish.
	OnPublish func(value int)
}

type state int

const (
	idle state = iota
	starting
	running
)

// Session connects on Start, publishes the source value every Interval and
// stops on Close.
type Session struct {
	client Client
	source Source
	opts   Options
	logger *slog.Logger

	mu    sync.Mutex
	state state
	gen   uint64
	// cancel aborts the pending connect while starting and the loop while running.
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSession(client Client, source Source, opts Options, logger *slog.Logger) *Session {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Session{
		client: client,
		source: source,
		opts:   opts,
		logger: logger,
	}
}

// Start connects to the broker and launches the publish loop. The connect is
// attempted once, outside the session lock, so Close can abort it.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != idle {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	connectCtx, cancel := context.WithCancel(ctx)
	if s.opts.ConnectTimeout > 0 {
		var cancelTimeout context.CancelFunc
		connectCtx, cancelTimeout = context.WithTimeout(connectCtx, s.opts.ConnectTimeout)
		defer cancelTimeout()
	}
	s.gen++
	gen := s.gen
	s.state = starting
	s.cancel = cancel
	s.mu.Unlock()

	err := s.client.Connect(connectCtx)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != starting || s.gen != gen {
		// Closed while connecting.
		if err == nil && s.state == idle {
			s.client.Disconnect()
		}
		return ErrStartCancelled
	}
	if err != nil {
		s.state = idle
		s.cancel = nil
		return fmt.Errorf("start publisher: %w", err)
	}

	loopCtx, stop := context.WithCancel(context.Background())
	s.state = running
	s.cancel = stop
	s.done = make(chan struct{})
	go s.run(loopCtx, s.done)

	s.logger.Info("Publisher started",
		"topic", s.opts.Topic,
		"qos", s.opts.QoS,
		"interval", s.opts.Interval)
	return nil
}

// Close aborts a pending connect, or stops the publish loop, waits for it to
// exit and disconnects.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case idle:
		return ErrNotRunning
	case starting:
		s.cancel()
		s.state, s.cancel = idle, nil
		s.logger.Info("Publisher start aborted")
		return nil
	}

	s.cancel()
	<-s.done
	s.state, s.cancel, s.done = idle, nil, nil

	if s.client.IsConnected() {
		s.client.Disconnect()
	}
	s.logger.Info("Publisher stopped")
	return nil
}

func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == running
}

func (s *Session) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		s.publishOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Session) publishOnce(ctx context.Context) {
	if !s.client.IsConnected() {
		s.logger.Debug("Not connected, skipping publish")
		return
	}

	temp := s.source.Load()
	s.logger.Info("Publishing temperature", "temp", temp, "topic", s.opts.Topic)

	// A publish never outlives one interval or the session.
	pubCtx, cancel := context.WithTimeout(ctx, s.opts.Interval)
	defer cancel()
	if err := s.client.Publish(pubCtx, s.opts.Topic, s.opts.QoS, Payload(temp)); err != nil {
		s.logger.Error("Publish failed", "error", err)
		return
	}
	if s.opts.OnPublish != nil {
		s.opts.OnPublish(temp)
	}
}

// Payload renders a temperature as the decimal string sent on the wire.
func Payload(temp int) string {
	return strconv.Itoa(temp)
}
