package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/r3labs/sse/v2"
	"gopkg.in/cenkalti/backoff.v1"
)

// Inventory and log streams reconnect on their own, unlike the mirroring socket
const (
	EventMaxRetries    = 5
	EventRetryInterval = 5 * time.Second
)

// ErrMaxRetries is returned by EventStream.Run once the retry budget is spent
var ErrMaxRetries = errors.New("max retries reached")

const connectedEvent = "connected"

type EventStreamConfig struct {
	Name          string
	URL           string
	Client        *http.Client
	MaxRetries    int
	RetryInterval time.Duration
}

// EventHandlers are called from the Run goroutine
type EventHandlers struct {
	OnMessage   func(data string) error
	OnConnected func(connected bool)
	OnRetry     func(attempt int)
	OnGiveUp    func()
}

// EventStream is a Server-Sent-Events client with bounded, fixed-interval
// reconnection. A successful open resets the retry counter.
type EventStream struct {
	cfg      EventStreamConfig
	handlers EventHandlers

	mu        sync.Mutex
	connected bool
	retries   int
}

func NewEventStream(cfg EventStreamConfig, handlers EventHandlers) *EventStream {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = EventMaxRetries
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = EventRetryInterval
	}
	if cfg.Name == "" {
		cfg.Name = cfg.URL
	}
	return &EventStream{cfg: cfg, handlers: handlers}
}

// Run consumes the stream until ctx is done or retries are exhausted
func (s *EventStream) Run(ctx context.Context) error {
	strategy := backoff.WithContext(
		backoff.WithMaxTries(backoff.NewConstantBackOff(s.cfg.RetryInterval), uint64(s.cfg.MaxRetries)),
		ctx,
	)

	client := sse.NewClient(s.cfg.URL)
	client.Connection = s.cfg.Client
	client.ReconnectStrategy = strategy
	client.ResponseValidator = func(_ *sse.Client, resp *http.Response) error {
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		// a server closing the stream is a dropped connection, not a clean end
		resp.Body = eofAsDrop{resp.Body}

		strategy.Reset()
		s.mu.Lock()
		s.retries = 0
		s.mu.Unlock()
		s.setConnected(true)
		log.Infof("SSE connection established (%s)", s.cfg.Name)
		return nil
	}
	client.ReconnectNotify = func(err error, wait time.Duration) {
		s.setConnected(false)
		log.Warnf("SSE error (%s): %v", s.cfg.Name, err)

		s.mu.Lock()
		s.retries++
		attempt := s.retries
		s.mu.Unlock()

		log.Infof("Retry %d to connect to %s in %s", attempt, s.cfg.Name, wait)
		if s.handlers.OnRetry != nil {
			s.handlers.OnRetry(attempt)
		}
	}
	client.OnDisconnect(func(*sse.Client) {
		s.setConnected(false)
	})

	err := client.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
		s.dispatch(string(msg.Data))
	})
	s.setConnected(false)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	log.Errorf("Max retries reached for %s: %v", s.cfg.Name, err)
	if s.handlers.OnGiveUp != nil {
		s.handlers.OnGiveUp()
	}
	return fmt.Errorf("%w: %s", ErrMaxRetries, s.cfg.Name)
}

func (s *EventStream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *EventStream) Retries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries
}

func (s *EventStream) dispatch(data string) {
	if data == connectedEvent {
		s.setConnected(true)
		return
	}
	if s.handlers.OnMessage == nil {
		return
	}
	if err := s.handlers.OnMessage(data); err != nil {
		log.Errorf("SSE message rejected (%s): %v", s.cfg.Name, err)
		return
	}
	s.setConnected(true)
}

func (s *EventStream) setConnected(connected bool) {
	s.mu.Lock()
	changed := s.connected != connected
	s.connected = connected
	s.mu.Unlock()

	if changed && s.handlers.OnConnected != nil {
		s.handlers.OnConnected(connected)
	}
}

// eofAsDrop reports the end of a long-lived stream as io.ErrUnexpectedEOF
// so the subscriber reconnects instead of returning.
type eofAsDrop struct {
	io.ReadCloser
}

func (b eofAsDrop) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}
