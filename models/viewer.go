package models

// Message types exchanged with local viewers
const (
	ViewerState            = "state"
	ViewerNotification     = "notification"
	ViewerFullscreen       = "fullscreen"
	ViewerResize           = "resize"
	ViewerPointer          = "pointer"
	ViewerKey              = "key"
	ViewerFullscreenChange = "fullscreenchange"
)

type ViewerStateMessage struct {
	Type   string      `json:"type"`
	Status interface{} `json:"status"`
}

type ViewerNotificationMessage struct {
	Type string `json:"type"`
	Notification
}

type ViewerFullscreenMessage struct {
	Type    string `json:"type"`
	Request string `json:"request"`
}
