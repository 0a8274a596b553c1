package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"andromirror/models"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/log"
)

// MaxMonitoringLogs is how many log entries are kept for the used device
const MaxMonitoringLogs = 100

type MonitoringLogStore struct {
	mu   sync.RWMutex
	logs []models.MonitoringLog
}

func NewMonitoringLogStore() *MonitoringLogStore {
	return &MonitoringLogStore{}
}

// Add appends an entry, keeping only the newest MaxMonitoringLogs
func (s *MonitoringLogStore) Add(entry models.MonitoringLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > MaxMonitoringLogs {
		s.logs = append([]models.MonitoringLog(nil), s.logs[len(s.logs)-MaxMonitoringLogs:]...)
	}
}

func (s *MonitoringLogStore) Logs() []models.MonitoringLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.MonitoringLog(nil), s.logs...)
}

func (s *MonitoringLogStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = nil
}

func (s *MonitoringLogStore) HandleEvent(data string) error {
	var entry models.MonitoringLog
	if err := sonic.UnmarshalString(data, &entry); err != nil {
		return fmt.Errorf("failed to parse monitoring log event: %w", err)
	}
	s.Add(entry)
	return nil
}

// MonitoringLogFollower keeps one log stream open for the used device
type MonitoringLogFollower struct {
	baseURL  string
	store    *MonitoringLogStore
	streamFn func(serial string) EventStreamConfig
	notify   func(models.Notification)

	mu     sync.Mutex
	serial string
	cancel context.CancelFunc
	done   chan struct{}
}

func NewMonitoringLogFollower(baseURL string, store *MonitoringLogStore, cfg EventStreamConfig, notify func(models.Notification)) *MonitoringLogFollower {
	base := strings.TrimRight(baseURL, "/")
	return &MonitoringLogFollower{
		baseURL: base,
		store:   store,
		notify:  notify,
		streamFn: func(serial string) EventStreamConfig {
			c := cfg
			c.Name = "monitoring logs " + serial
			c.URL = fmt.Sprintf("%s/event/devices/%s/monitoring/logs", base, url.PathEscape(serial))
			return c
		},
	}
}

// Follow switches the stream to serial, clearing logs of the previous device
func (f *MonitoringLogFollower) Follow(ctx context.Context, serial string) {
	f.Stop()
	f.store.Clear()

	f.mu.Lock()
	defer f.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	f.serial = serial
	f.cancel = cancel
	f.done = done

	stream := NewEventStream(f.streamFn(serial), EventHandlers{
		OnMessage: f.store.HandleEvent,
		OnRetry: func(attempt int) {
			f.emit(models.NotifyWarn,
				fmt.Sprintf("Lost monitoring log connection, retrying... (%d)", attempt),
				fmt.Sprintf("monitoring_log_retry_%s_%d", serial, attempt))
		},
		OnGiveUp: func() {
			f.emit(models.NotifyError,
				fmt.Sprintf("Max retries reached for monitoring logs (%s)", serial),
				"monitoring_log_max_retries_"+serial)
		},
	})

	go func() {
		defer close(done)
		if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
			log.Warnf("[%s] Monitoring log stream ended: %v", serial, err)
		}
	}()
}

// Stop closes the current stream and waits for it to finish
func (f *MonitoringLogFollower) Stop() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done, f.serial = nil, nil, ""
	f.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (f *MonitoringLogFollower) Serial() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.serial
}

func (f *MonitoringLogFollower) emit(level models.NotificationLevel, message, key string) {
	if f.notify != nil {
		f.notify(models.Notification{Level: level, Message: message, Key: key})
	}
}
