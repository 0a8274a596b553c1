package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type messageLog struct {
	mu   sync.Mutex
	msgs []string
}

func (m *messageLog) add(data string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, data)
	return nil
}

func (m *messageLog) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.msgs...)
}

// runStream starts Run in the background and returns a stop func that
// cancels it and reports its result.
func runStream(t *testing.T, s *EventStream) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after cancel")
			return nil
		}
	}
}

func TestEventStream_DispatchesDataEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\nevent: message\ndata: connected\n\ndata: {\"a\":1}\n\ndata: line1\ndata:line2\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	var got messageLog
	s := NewEventStream(EventStreamConfig{URL: srv.URL}, EventHandlers{OnMessage: got.add})
	stop := runStream(t, s)

	require.Eventually(t, func() bool { return len(got.all()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{`{"a":1}`, "line1\nline2"}, got.all())
	assert.True(t, s.Connected())

	assert.ErrorIs(t, stop(), context.Canceled)
	assert.False(t, s.Connected())
}

func TestEventStream_ServerCloseIsRetried(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %d\n\n", n)
		w.(http.Flusher).Flush()
		if n == 1 {
			return
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	var got messageLog
	var mu sync.Mutex
	var attempts []int
	s := NewEventStream(EventStreamConfig{
		URL:           srv.URL,
		MaxRetries:    2,
		RetryInterval: 5 * time.Millisecond,
	}, EventHandlers{
		OnMessage: got.add,
		OnRetry: func(n int) {
			mu.Lock()
			defer mu.Unlock()
			attempts = append(attempts, n)
		},
	})
	stop := runStream(t, s)

	require.Eventually(t, func() bool { return len(got.all()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"1", "2"}, got.all())
	assert.Zero(t, s.Retries())
	assert.ErrorIs(t, stop(), context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1}, attempts)
}

func TestEventStream_GivesUpAfterMaxRetries(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var attempts []int
	gaveUp := 0
	s := NewEventStream(EventStreamConfig{
		URL:           srv.URL,
		MaxRetries:    2,
		RetryInterval: 5 * time.Millisecond,
	}, EventHandlers{
		OnRetry:  func(n int) { attempts = append(attempts, n) },
		OnGiveUp: func() { gaveUp++ },
	})

	err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrMaxRetries)
	assert.Equal(t, int32(3), requests.Load())
	assert.Equal(t, []int{1, 2}, attempts)
	assert.Equal(t, 1, gaveUp)
	assert.False(t, s.Connected())
}

func TestEventStream_SuccessfulOpenResetsRetries(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: connected\n\n")
		fmt.Fprint(w, "data: {\"serial\":\"abc\",\"new_state\":\"Online\"}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	var got messageLog
	var states []bool
	var mu sync.Mutex
	s := NewEventStream(EventStreamConfig{
		URL:           srv.URL,
		MaxRetries:    3,
		RetryInterval: 5 * time.Millisecond,
	}, EventHandlers{
		OnMessage: got.add,
		OnConnected: func(c bool) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, c)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return len(got.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, s.Connected())
	assert.Zero(t, s.Retries())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, states)
}

func TestEventStream_RejectedMessageIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: nope\n\ndata: ok\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	var got messageLog
	s := NewEventStream(EventStreamConfig{URL: srv.URL}, EventHandlers{
		OnMessage: func(data string) error {
			if data == "nope" {
				return fmt.Errorf("bad payload")
			}
			return got.add(data)
		},
	})
	stop := runStream(t, s)

	require.Eventually(t, func() bool { return len(got.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, s.Retries())
	assert.ErrorIs(t, stop(), context.Canceled)
}
