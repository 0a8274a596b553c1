package service

import (
	"context"
	"sync"

	"andromirror/models"

	"github.com/charmbracelet/log"
)

// MirroringManager holds at most one active MirroringView. Selecting a
// device tears down everything belonging to the previous one first.
type MirroringManager struct {
	ctx     context.Context
	devices *DeviceManager
	logs    *MonitoringLogFollower
	cfg     ViewConfig

	mu     sync.Mutex
	active *MirroringView
}

// NewMirroringManager creates a manager. logs may be nil.
func NewMirroringManager(ctx context.Context, devices *DeviceManager, logs *MonitoringLogFollower, cfg ViewConfig) *MirroringManager {
	return &MirroringManager{
		ctx:     ctx,
		devices: devices,
		logs:    logs,
		cfg:     cfg,
	}
}

// Select makes serial the used device and returns its view
func (m *MirroringManager) Select(serial string) (*MirroringView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil && m.active.Serial() == serial {
		return m.active, nil
	}
	if err := m.devices.SetDeviceUsed(serial); err != nil {
		return nil, err
	}

	if m.active != nil {
		log.Infof("[%s] Switching mirroring to %s", m.active.Serial(), serial)
		m.active.Close()
		m.active = nil
	}

	m.active = NewMirroringView(serial, m.devices.DeviceFunc(serial), m.cfg)
	if m.logs != nil {
		m.logs.Follow(m.ctx, serial)
	}
	log.Infof("[%s] Device selected", serial)
	return m.active, nil
}

// Active returns the current view, nil when no device is selected
func (m *MirroringManager) Active() *MirroringView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Lookup returns the active view only if it belongs to serial
func (m *MirroringManager) Lookup(serial string) (*MirroringView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || m.active.Serial() != serial {
		return nil, false
	}
	return m.active, true
}

// Status reports the view of serial, or an idle status if it is not active
func (m *MirroringManager) Status(serial string) (ViewStatus, error) {
	if view, ok := m.Lookup(serial); ok {
		return view.Status(), nil
	}
	if _, ok := m.devices.GetDevice(serial); !ok {
		return ViewStatus{}, ErrDeviceNotFound
	}
	return ViewStatus{
		Serial:     serial,
		State:      ViewIdle,
		Connection: models.ConnDisconnected,
		Setup:      models.DefaultSetup(),
	}, nil
}

// Release closes the active view and its monitoring stream
func (m *MirroringManager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		m.active.Close()
		m.active = nil
	}
	if m.logs != nil {
		m.logs.Stop()
	}
	m.devices.UnsetDeviceUsed()
}

func (m *MirroringManager) Close() {
	m.Release()
}
