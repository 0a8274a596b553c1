package service

import (
	"testing"
	"time"

	"andromirror/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceManager_InventoryEvents(t *testing.T) {
	var notes []models.Notification
	dm := NewDeviceManager(func(n models.Notification) { notes = append(notes, n) })

	require.NoError(t, dm.HandleInventoryEvent(`{"serial":"b","model":"Pixel 7","old_state":"Unknown","new_state":"Online"}`))
	require.NoError(t, dm.HandleInventoryEvent(`{"serial":"a","new_state":"Unauthorized"}`))
	require.NoError(t, dm.HandleInventoryEvent(`{"serial":"b","old_state":"Online","new_state":"Offline"}`))

	devices := dm.GetAllDevices()
	require.Len(t, devices, 2)
	assert.Equal(t, "b", devices[0].Serial, "first-seen order is kept")
	assert.Equal(t, "Pixel 7", devices[0].Model, "empty fields do not overwrite")
	assert.Equal(t, models.DeviceOffline, devices[0].State)
	assert.Equal(t, models.DeviceUnauthorized, devices[1].State)

	require.Len(t, notes, 3)
	assert.Equal(t, `Device "b" Online`, notes[0].Message)
	assert.Equal(t, "b_Online", notes[0].Key)
}

func TestDeviceManager_InvalidEvents(t *testing.T) {
	dm := NewDeviceManager(nil)
	assert.Error(t, dm.HandleInventoryEvent(`{not json`))
	assert.Error(t, dm.HandleInventoryEvent(`{"model":"no serial"}`))
	assert.Empty(t, dm.GetAllDevices())
}

func TestDeviceManager_NotificationsDeduplicated(t *testing.T) {
	var notes []models.Notification
	dm := NewDeviceManager(func(n models.Notification) { notes = append(notes, n) })

	for i := 0; i < 3; i++ {
		dm.AddOrUpdate(models.Device{Serial: "a", NewState: models.DeviceOnline})
	}
	dm.AddOrUpdate(models.Device{Serial: "a", NewState: models.DeviceOffline})

	require.Len(t, notes, 2)
	assert.Equal(t, "a_Offline", notes[1].Key)
}

func TestDeviceManager_DeviceUsed(t *testing.T) {
	dm := NewDeviceManager(nil)
	assert.ErrorIs(t, dm.SetDeviceUsed("missing"), ErrDeviceNotFound)

	dm.AddOrUpdate(models.Device{Serial: "a", State: models.DeviceOnline})
	require.NoError(t, dm.SetDeviceUsed("a"))

	dm.AddOrUpdate(models.Device{Serial: "a", NewState: models.DeviceOffline})
	used, ok := dm.DeviceUsed()
	require.True(t, ok)
	assert.Equal(t, models.DeviceOffline, used.State, "used device follows updates")

	dm.UnsetDeviceUsed()
	_, ok = dm.DeviceUsed()
	assert.False(t, ok)
}

func TestDeviceManager_DeviceFunc(t *testing.T) {
	dm := NewDeviceManager(nil)
	get := dm.DeviceFunc("a")
	assert.Equal(t, models.DeviceUnknown, get().State)

	dm.AddOrUpdate(models.Device{Serial: "a", State: models.DeviceOnline})
	assert.True(t, get().IsOnline())
}

func TestDeviceManager_Subscribe(t *testing.T) {
	dm := NewDeviceManager(nil)
	updates, cancel := dm.Subscribe()

	dm.AddOrUpdate(models.Device{Serial: "a", NewState: models.DeviceOnline})
	select {
	case d := <-updates:
		assert.Equal(t, "a", d.Serial)
		assert.Equal(t, models.DeviceOnline, d.State)
	case <-time.After(time.Second):
		t.Fatal("no update published")
	}

	cancel()
	_, open := <-updates
	assert.False(t, open)
	cancel()
}
