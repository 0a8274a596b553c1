package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"andromirror/models"

	ttl "github.com/FloatTech/ttl"
	"github.com/bytedance/sonic"
	"github.com/charmbracelet/log"
)

// ErrDeviceNotFound is returned for a serial the inventory has never reported
var ErrDeviceNotFound = errors.New("device not found")

// notificationWindow suppresses repeats of the same device notification
const notificationWindow = 5 * time.Second

// DeviceManager is the client-side device inventory, fed only by the
// inventory event stream.
type DeviceManager struct {
	devices map[string]*models.Device
	order   []string
	used    string
	mu      sync.RWMutex

	notified *ttl.Cache[string, bool]
	notify   func(models.Notification)

	subMu  sync.Mutex
	subs   map[int]chan models.Device
	nextID int
}

// NewDeviceManager creates an empty inventory. notify may be nil.
func NewDeviceManager(notify func(models.Notification)) *DeviceManager {
	return &DeviceManager{
		devices:  make(map[string]*models.Device),
		notified: ttl.NewCache[string, bool](notificationWindow),
		notify:   notify,
		subs:     make(map[int]chan models.Device),
	}
}

// HandleInventoryEvent decodes one inventory stream payload
func (m *DeviceManager) HandleInventoryEvent(data string) error {
	var device models.Device
	if err := sonic.UnmarshalString(data, &device); err != nil {
		return fmt.Errorf("failed to parse device event: %w", err)
	}
	if device.Serial == "" {
		return fmt.Errorf("failed to parse device event: missing serial")
	}
	m.AddOrUpdate(device)
	return nil
}

// AddOrUpdate inserts a new device or replaces the known one with the same serial
func (m *DeviceManager) AddOrUpdate(device models.Device) {
	if device.State == "" && device.NewState != "" {
		device.State = device.NewState
	}

	m.mu.Lock()
	if existing, ok := m.devices[device.Serial]; ok {
		mergeDevice(existing, device)
		device = *existing
	} else {
		d := device
		m.devices[device.Serial] = &d
		m.order = append(m.order, device.Serial)
	}
	m.mu.Unlock()

	log.Infof("[%s] Device %s -> %s", device.Serial, device.OldState, device.NewState)
	m.notifyChange(device)
	m.publish(device)
}

// mergeDevice overlays non-empty fields of update onto dst
func mergeDevice(dst *models.Device, update models.Device) {
	if update.Model != "" {
		dst.Model = update.Model
	}
	if update.Product != "" {
		dst.Product = update.Product
	}
	if update.State != "" {
		dst.State = update.State
	}
	if update.OldState != "" {
		dst.OldState = update.OldState
	}
	if update.NewState != "" {
		dst.NewState = update.NewState
	}
	if update.AndroidVersion != "" {
		dst.AndroidVersion = update.AndroidVersion
	}
}

func (m *DeviceManager) notifyChange(device models.Device) {
	if m.notify == nil || device.NewState == "" {
		return
	}
	key := fmt.Sprintf("%s_%s", device.Serial, device.NewState)
	if m.notified.Get(key) {
		return
	}
	m.notified.Set(key, true)
	m.notify(models.Notification{
		Level:   models.NotifyInfo,
		Message: fmt.Sprintf("Device %q %s", device.Serial, device.NewState),
		Key:     key,
	})
}

// GetAllDevices returns the inventory in first-seen order
func (m *DeviceManager) GetAllDevices() []models.Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	devices := make([]models.Device, 0, len(m.order))
	for _, serial := range m.order {
		devices = append(devices, *m.devices[serial])
	}
	return devices
}

// GetDevice returns a single device by serial
func (m *DeviceManager) GetDevice(serial string) (models.Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[serial]
	if !ok {
		return models.Device{}, false
	}
	return *d, true
}

// DeviceFunc returns a getter for the live state of serial. Unknown devices
// report DeviceUnknown.
func (m *DeviceManager) DeviceFunc(serial string) func() models.Device {
	return func() models.Device {
		if d, ok := m.GetDevice(serial); ok {
			return d
		}
		return models.Device{Serial: serial, State: models.DeviceUnknown}
	}
}

func (m *DeviceManager) SetDeviceUsed(serial string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[serial]; !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, serial)
	}
	m.used = serial
	return nil
}

func (m *DeviceManager) UnsetDeviceUsed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used = ""
}

func (m *DeviceManager) DeviceUsed() (models.Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.used == "" {
		return models.Device{}, false
	}
	return *m.devices[m.used], true
}

// Subscribe returns a channel of inventory changes and its cancel func
func (m *DeviceManager) Subscribe() (<-chan models.Device, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan models.Device, 16)
	m.subs[id] = ch

	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

func (m *DeviceManager) publish(device models.Device) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- device:
		default:
			log.Warnf("[%s] Device subscriber full, skipping update", device.Serial)
		}
	}
}
