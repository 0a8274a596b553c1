package models

// Wire message types on the mirroring socket
const (
	MessageSetup     = "setup"
	MessagePing      = "ping"
	MessageTouch     = "touch"
	MessageKey       = "key"
	MessageConnected = "connected"
	MessageError     = "error"
)

type TouchAction string

const (
	TouchDown   TouchAction = "down"
	TouchUp     TouchAction = "up"
	TouchMove   TouchAction = "move"
	TouchCancel TouchAction = "cancel"
)

type KeyCommand string

const (
	KeyBack   KeyCommand = "back"
	KeyHome   KeyCommand = "home"
	KeyRecent KeyCommand = "recent"
	KeyPower  KeyCommand = "power"
)

// ConnectionState of a mirroring transport
type ConnectionState string

const (
	ConnDisconnected ConnectionState = "disconnected"
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
	ConnError        ConnectionState = "error"
)

// Enumerated stream options offered to the user
var (
	Resolutions = []int{360, 480, 720, 1080}
	Bitrates    = []int{1000000, 2000000, 3000000, 4000000, 5000000, 6000000, 7000000, 8000000}
	FrameRates  = []int{30, 60}
)

const (
	DefaultResolution = 720
	DefaultBitrate    = 4000000
	DefaultFPS        = 30

	// Used for coordinate math until the server reports real dimensions
	DefaultScreenWidth  = 1080
	DefaultScreenHeight = 1920
)

type SetupMessage struct {
	Type       string `json:"type"`
	FPS        int    `json:"fps" validate:"oneof=30 60"`
	Resolution int    `json:"resolution" validate:"oneof=360 480 720 1080"`
	Bitrate    int    `json:"bitrate" validate:"oneof=1000000 2000000 3000000 4000000 5000000 6000000 7000000 8000000"`
}

// DefaultSetup returns the setup used when the user has not configured one
func DefaultSetup() SetupMessage {
	return SetupMessage{
		Type:       MessageSetup,
		FPS:        DefaultFPS,
		Resolution: DefaultResolution,
		Bitrate:    DefaultBitrate,
	}
}

type TouchMessage struct {
	Type      string      `json:"type" validate:"eq=touch"`
	Action    TouchAction `json:"action" validate:"oneof=down up move cancel"`
	X         float64     `json:"x" validate:"min=0,max=1"`
	Y         float64     `json:"y" validate:"min=0,max=1"`
	PointerID int         `json:"pointerId" validate:"min=0,max=10"`
	Pressure  float64     `json:"pressure" validate:"min=0,max=1"`
}

type KeyMessage struct {
	Type string     `json:"type" validate:"eq=key"`
	Key  KeyCommand `json:"key" validate:"oneof=back home recent power"`
}

type PingMessage struct {
	Type string `json:"type"`
}

type ConnectedMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Serial  string `json:"serial"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ScreenDimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect is a bounding rectangle in viewport coordinates
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// VideoDisplayArea is the letterboxed rectangle inside a container where
// video is actually drawn, relative to the container origin.
type VideoDisplayArea struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	ScaleX float64 `json:"scaleX"`
	ScaleY float64 `json:"scaleY"`
}

type RelativeCoordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}
