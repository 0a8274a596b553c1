package models

// DeviceState is the connection state reported by the inventory stream
type DeviceState string

const (
	DeviceUnknown      DeviceState = "Unknown"
	DeviceOnline       DeviceState = "Online"
	DeviceDisconnected DeviceState = "Disconnected"
	DeviceOffline      DeviceState = "Offline"
	DeviceUnauthorized DeviceState = "Unauthorized"
	DeviceAuthorizing  DeviceState = "Authorizing"
	DeviceRecovery     DeviceState = "Recovery"
)

type Device struct {
	Serial         string      `json:"serial"`
	Model          string      `json:"model"`
	Product        string      `json:"product"`
	State          DeviceState `json:"state"`
	OldState       DeviceState `json:"old_state"` // used only for notification text
	NewState       DeviceState `json:"new_state"`
	AndroidVersion string      `json:"android_version"`
}

// IsOnline reports whether the device can accept a mirroring session
func (d Device) IsOnline() bool {
	return d.State == DeviceOnline
}
