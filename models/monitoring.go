package models

import "time"

type MonitoringLog struct {
	Serial    string    `json:"serial"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type NotificationLevel string

const (
	NotifyInfo    NotificationLevel = "info"
	NotifySuccess NotificationLevel = "success"
	NotifyWarn    NotificationLevel = "warn"
	NotifyError   NotificationLevel = "error"
)

// Notification is a non-fatal, user-facing notice
type Notification struct {
	Level   NotificationLevel `json:"level"`
	Message string            `json:"message"`
	Key     string            `json:"key,omitempty"` // de-dup key
}
