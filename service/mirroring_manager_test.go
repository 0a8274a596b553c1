package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"andromirror/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*MirroringManager, *DeviceManager, *MonitoringLogFollower) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	devices := NewDeviceManager(nil)
	devices.AddOrUpdate(models.Device{Serial: "a", State: models.DeviceOnline})
	devices.AddOrUpdate(models.Device{Serial: "b", State: models.DeviceOnline})

	follower := NewMonitoringLogFollower(srv.URL, NewMonitoringLogStore(), EventStreamConfig{}, nil)
	mm := NewMirroringManager(context.Background(), devices, follower, ViewConfig{
		Transport: TransportConfig{BaseURL: "ws://127.0.0.1:1", PingInterval: time.Hour},
	})
	t.Cleanup(mm.Close)
	return mm, devices, follower
}

func TestMirroringManager_SelectUnknownDevice(t *testing.T) {
	mm, _, _ := newTestManager(t)

	_, err := mm.Select("zzz")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.Nil(t, mm.Active())
}

func TestMirroringManager_SelectSwitchesDevice(t *testing.T) {
	mm, devices, follower := newTestManager(t)

	a, err := mm.Select("a")
	require.NoError(t, err)
	again, err := mm.Select("a")
	require.NoError(t, err)
	assert.Same(t, a, again)
	assert.Equal(t, "a", follower.Serial())

	b, err := mm.Select("b")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Same(t, b, mm.Active())
	assert.Equal(t, "b", follower.Serial())

	used, ok := devices.DeviceUsed()
	require.True(t, ok)
	assert.Equal(t, "b", used.Serial)

	assert.ErrorIs(t, a.Connect(), ErrViewClosed, "the previous view is torn down")

	_, ok = mm.Lookup("a")
	assert.False(t, ok)
	view, ok := mm.Lookup("b")
	assert.True(t, ok)
	assert.Same(t, b, view)
}

func TestMirroringManager_Status(t *testing.T) {
	mm, _, _ := newTestManager(t)

	status, err := mm.Status("a")
	require.NoError(t, err)
	assert.Equal(t, ViewIdle, status.State)
	assert.Equal(t, models.DefaultSetup(), status.Setup)

	_, err = mm.Status("zzz")
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	_, err = mm.Select("a")
	require.NoError(t, err)
	status, err = mm.Status("a")
	require.NoError(t, err)
	assert.Equal(t, "a", status.Serial)
}

func TestMirroringManager_Release(t *testing.T) {
	mm, devices, follower := newTestManager(t)

	_, err := mm.Select("a")
	require.NoError(t, err)
	mm.Release()

	assert.Nil(t, mm.Active())
	assert.Empty(t, follower.Serial())
	_, ok := devices.DeviceUsed()
	assert.False(t, ok)
}
