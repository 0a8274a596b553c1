package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"andromirror/models"

	"github.com/charmbracelet/log"
)

var (
	ErrCoolingDown      = errors.New("disconnect cooldown in progress")
	ErrAlreadyConnected = errors.New("mirroring session already open")
	ErrDeviceOffline    = errors.New("device is not online")
	ErrInputDisabled    = errors.New("mirroring input is not enabled")
	ErrInvalidKey       = errors.New("invalid key")
	ErrViewClosed       = errors.New("mirroring view closed")
)

const (
	// DisconnectCooldownTicks * CooldownTick is how long Connect stays
	// disabled after a disconnect
	DisconnectCooldownTicks = 5
	CooldownTick            = time.Second

	recorderSinkID = "recorder"
)

// ViewState is the top-level flow of a MirroringView
type ViewState string

const (
	ViewIdle       ViewState = "idle"
	ViewConnecting ViewState = "connecting"
	ViewConnected  ViewState = "connected"
	ViewCooldown   ViewState = "cooldown"
)

// FullscreenRequest is what a viewer must do with its container element
type FullscreenRequest string

const (
	FullscreenEnter FullscreenRequest = "enter"
	FullscreenExit  FullscreenRequest = "exit"
)

type ViewStatus struct {
	Serial       string                 `json:"serial"`
	State        ViewState              `json:"state"`
	Connection   models.ConnectionState `json:"connection"`
	Setup        models.SetupMessage    `json:"setup"`
	Width        int                    `json:"width,omitempty"`
	Height       int                    `json:"height,omitempty"`
	AspectRatio  float64                `json:"aspect_ratio,omitempty"`
	Cooldown     int                    `json:"cooldown"`
	Fullscreen   bool                   `json:"fullscreen"`
	VideoReady   bool                   `json:"video_ready"`
	InputEnabled bool                   `json:"input_enabled"`
	Error        string                 `json:"error,omitempty"`
	Recording    string                 `json:"recording,omitempty"`
}

// SessionRecorder persists the lifecycle of connect attempts
type SessionRecorder interface {
	StartSession(serial string, setup models.SetupMessage) (string, error)
	MarkConnected(id string, width, height int) error
	EndSession(id, reason string) error
}

type ViewConfig struct {
	Transport     TransportConfig
	CooldownTicks int
	CooldownTick  time.Duration
	RecordDir     string
	Sessions      SessionRecorder
	OnStatus      func(ViewStatus)
	OnNotify      func(models.Notification)
}

// MirroringView composes transport, video presentation and input
// translation for one device
type MirroringView struct {
	serial     string
	device     func() models.Device
	cfg        ViewConfig
	transport  *MirroringTransport
	presenter  *VideoPresenter
	translator *InputTranslator

	mu            sync.Mutex
	setup         models.SetupMessage
	cooldown      int
	cooldownStop  chan struct{}
	fullscreen    bool
	recorder      *FileRecorder
	sessionID     string
	pendingReason string
	attempting    bool
	closed        bool
}

func NewMirroringView(serial string, device func() models.Device, cfg ViewConfig) *MirroringView {
	if cfg.CooldownTicks <= 0 {
		cfg.CooldownTicks = DisconnectCooldownTicks
	}
	if cfg.CooldownTick <= 0 {
		cfg.CooldownTick = CooldownTick
	}

	v := &MirroringView{
		serial: serial,
		device: device,
		cfg:    cfg,
		setup:  models.DefaultSetup(),
	}

	v.presenter = NewVideoPresenter(serial, func(err error) {
		v.notify(models.NotifyWarn, fmt.Sprintf("Video error: %v", err), "video_error_"+serial)
	})
	v.presenter.OnReady(v.handleVideoReady)

	v.transport = NewMirroringTransport(serial, device, cfg.Transport, TransportHandlers{
		OnConnected:   v.handleConnected,
		OnError:       v.handleError,
		OnVideoFrame:  v.presenter.Feed,
		OnStateChange: v.handleState,
	})
	v.translator = NewInputTranslator(v.transport.SendTouchEvent, v.transport.SendKeyEvent)
	return v
}

func (v *MirroringView) Serial() string {
	return v.serial
}

// Configure replaces the setup used by the next Connect
func (v *MirroringView) Configure(setup models.SetupMessage) (map[string]string, error) {
	setup.Type = models.MessageSetup
	fields, err := ValidateSetup(setup)
	if err != nil {
		return fields, err
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil, ErrViewClosed
	}
	if v.cooldown > 0 {
		v.mu.Unlock()
		return nil, ErrCoolingDown
	}
	v.setup = setup
	v.mu.Unlock()

	log.Infof("[%s] Mirroring configured: %dp, %d bps, %d fps", v.serial, setup.Resolution, setup.Bitrate, setup.FPS)
	v.publish()
	return nil, nil
}

// Connect opens a new session with the configured setup
func (v *MirroringView) Connect() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrViewClosed
	}
	if v.cooldown > 0 {
		v.mu.Unlock()
		return ErrCoolingDown
	}
	if v.attempting {
		v.mu.Unlock()
		return ErrAlreadyConnected
	}
	// one attempt at a time from the state check to transport.Connect
	v.attempting = true
	setup := v.setup
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		v.attempting = false
		v.mu.Unlock()
	}()

	switch v.transport.State() {
	case models.ConnConnecting, models.ConnConnected:
		return ErrAlreadyConnected
	case models.ConnError:
		// the errored socket may still be open
		v.transport.Disconnect()
	}
	if !v.device().IsOnline() {
		return ErrDeviceOffline
	}

	v.presenter.Start()
	rec := v.startRecording()
	id := v.startSession(setup)

	if !v.transport.Connect(setup) {
		v.abandonAttempt(id, rec)
		return ErrAlreadyConnected
	}
	v.publish()
	return nil
}

// Disconnect closes the session and starts the reconnect cooldown.
// Safe to call in any state.
func (v *MirroringView) Disconnect() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.pendingReason = "disconnected"
	v.mu.Unlock()

	active := v.transport.State() != models.ConnDisconnected
	v.transport.Disconnect()
	v.socketDown("disconnected")

	if active {
		v.mu.Lock()
		v.startCooldownLocked()
		v.mu.Unlock()
		log.Infof("[%s] Disconnected, cooldown %d x %s", v.serial, v.cfg.CooldownTicks, v.cfg.CooldownTick)
	}
	v.publish()
}

// ToggleFullscreen returns the request the viewer should perform. The flag
// itself only follows FullscreenChanged.
func (v *MirroringView) ToggleFullscreen() FullscreenRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.fullscreen {
		return FullscreenExit
	}
	return FullscreenEnter
}

// FullscreenChanged records the viewer's observed fullscreen state
func (v *MirroringView) FullscreenChanged(fullscreen bool) {
	v.mu.Lock()
	changed := v.fullscreen != fullscreen
	v.fullscreen = fullscreen
	v.mu.Unlock()
	if changed {
		v.publish()
	}
}

func (v *MirroringView) SetContainer(rect models.Rect) {
	v.translator.SetContainer(rect)
}

func (v *MirroringView) HandlePointer(ev PointerEvent) bool {
	return v.translator.HandlePointer(ev)
}

func (v *MirroringView) SendKey(key models.KeyCommand) error {
	if !ValidateKeyMessage(models.KeyMessage{Type: models.MessageKey, Key: key}) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if !v.translator.HandleKey(key) {
		return ErrInputDisabled
	}
	return nil
}

func (v *MirroringView) AttachSink(id string, sink VideoSink) {
	v.presenter.Attach(id, sink)
}

func (v *MirroringView) DetachSink(id string) {
	v.presenter.Detach(id)
}

func (v *MirroringView) DisplayArea() (models.VideoDisplayArea, bool) {
	return v.translator.DisplayArea()
}

func (v *MirroringView) Status() ViewStatus {
	conn := v.transport.State()
	dims, hasDims := v.transport.ScreenDimensions()

	v.mu.Lock()
	defer v.mu.Unlock()

	status := ViewStatus{
		Serial:       v.serial,
		Connection:   conn,
		Setup:        v.setup,
		Cooldown:     v.cooldown,
		Fullscreen:   v.fullscreen,
		VideoReady:   v.presenter.Ready(),
		InputEnabled: v.translator.Enabled(),
		Error:        v.transport.Error(),
	}
	if v.recorder != nil {
		status.Recording = v.recorder.Path()
	}
	if hasDims && dims.Width > 0 && dims.Height > 0 {
		status.Width = dims.Width
		status.Height = dims.Height
		status.AspectRatio = float64(dims.Width) / float64(dims.Height)
	}

	switch {
	case v.cooldown > 0:
		status.State = ViewCooldown
	case conn == models.ConnConnecting:
		status.State = ViewConnecting
	case conn == models.ConnConnected:
		status.State = ViewConnected
	default:
		status.State = ViewIdle
	}
	return status
}

// Close tears down the transport, presenter, throttle and cooldown timer
func (v *MirroringView) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.pendingReason = "closed"
	if v.cooldownStop != nil {
		close(v.cooldownStop)
		v.cooldownStop = nil
	}
	v.cooldown = 0
	v.mu.Unlock()

	v.transport.Disconnect()
	v.socketDown("closed")
	v.translator.Close()
	log.Infof("[%s] Mirroring view closed", v.serial)
}

func (v *MirroringView) handleState(state models.ConnectionState) {
	switch state {
	case models.ConnConnected:
		v.updateInput()
	case models.ConnDisconnected:
		v.socketDown("socket closed")
	case models.ConnError:
		v.socketDown("error: " + v.transport.Error())
	}
	v.publish()
}

func (v *MirroringView) handleConnected(msg models.ConnectedMessage) {
	v.translator.SetScreenSize(msg.Width, msg.Height)

	v.mu.Lock()
	id := v.sessionID
	v.mu.Unlock()
	if id != "" && v.cfg.Sessions != nil {
		if err := v.cfg.Sessions.MarkConnected(id, msg.Width, msg.Height); err != nil {
			log.Errorf("[%s] Failed to update session %s: %v", v.serial, id, err)
		}
	}

	message := msg.Message
	if message == "" {
		message = fmt.Sprintf("Mirroring %s connected", v.serial)
	}
	v.notify(models.NotifySuccess, message, "mirroring_connected_"+v.serial)
	v.publish()
}

func (v *MirroringView) handleError(message string) {
	v.notify(models.NotifyError, message, "mirroring_error_"+v.serial)
}

func (v *MirroringView) handleVideoReady() {
	log.Infof("[%s] Video ready", v.serial)
	v.updateInput()
	v.publish()
}

func (v *MirroringView) updateInput() {
	v.translator.SetEnabled(v.transport.IsConnected() && v.presenter.Ready())
}

// socketDown releases everything tied to the current attempt. Idempotent.
func (v *MirroringView) socketDown(reason string) {
	v.mu.Lock()
	id := v.sessionID
	v.sessionID = ""
	if v.pendingReason != "" {
		reason = v.pendingReason
		v.pendingReason = ""
	}
	rec := v.recorder
	v.recorder = nil
	v.mu.Unlock()

	v.translator.SetEnabled(false)
	v.presenter.Stop()

	if rec != nil {
		v.presenter.Detach(recorderSinkID)
		if err := rec.Close(); err != nil {
			log.Warnf("[%s] Failed to close recording: %v", v.serial, err)
		}
	}
	if id != "" && v.cfg.Sessions != nil {
		if err := v.cfg.Sessions.EndSession(id, reason); err != nil {
			log.Errorf("[%s] Failed to end session %s: %v", v.serial, id, err)
		}
	}
}

func (v *MirroringView) startSession(setup models.SetupMessage) string {
	if v.cfg.Sessions == nil {
		return ""
	}
	id, err := v.cfg.Sessions.StartSession(v.serial, setup)
	if err != nil {
		log.Errorf("[%s] Failed to record session: %v", v.serial, err)
		return ""
	}
	v.mu.Lock()
	v.sessionID = id
	v.mu.Unlock()
	return id
}

func (v *MirroringView) startRecording() *FileRecorder {
	if v.cfg.RecordDir == "" {
		return nil
	}
	rec, err := NewFileRecorder(v.cfg.RecordDir, v.serial)
	if err != nil {
		v.notify(models.NotifyWarn, fmt.Sprintf("Recording disabled: %v", err), "recording_error_"+v.serial)
		return nil
	}
	v.mu.Lock()
	v.recorder = rec
	v.mu.Unlock()
	v.presenter.Attach(recorderSinkID, rec)
	return rec
}

// abandonAttempt releases the session row and recorder of a connect the
// transport refused. The presenter and input belong to whichever session
// holds the transport and are left alone.
func (v *MirroringView) abandonAttempt(id string, rec *FileRecorder) {
	v.mu.Lock()
	if id != "" && v.sessionID == id {
		v.sessionID = ""
	}
	ownRecorder := rec != nil && v.recorder == rec
	if ownRecorder {
		v.recorder = nil
	}
	v.mu.Unlock()

	if rec != nil {
		if ownRecorder {
			v.presenter.Detach(recorderSinkID)
		}
		if err := rec.Close(); err != nil {
			log.Warnf("[%s] Failed to close recording: %v", v.serial, err)
		}
	}
	if id != "" && v.cfg.Sessions != nil {
		if err := v.cfg.Sessions.EndSession(id, "connect rejected"); err != nil {
			log.Errorf("[%s] Failed to end session %s: %v", v.serial, id, err)
		}
	}
}

// startCooldownLocked must be called with mu held
func (v *MirroringView) startCooldownLocked() {
	if v.cooldown > 0 {
		return
	}
	v.cooldown = v.cfg.CooldownTicks
	stop := make(chan struct{})
	v.cooldownStop = stop
	go v.runCooldown(stop)
}

func (v *MirroringView) runCooldown(stop chan struct{}) {
	ticker := time.NewTicker(v.cfg.CooldownTick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			v.mu.Lock()
			if v.cooldownStop != stop {
				v.mu.Unlock()
				return
			}
			v.cooldown--
			done := v.cooldown <= 0
			if done {
				v.cooldown = 0
				v.cooldownStop = nil
			}
			v.mu.Unlock()

			v.publish()
			if done {
				log.Debugf("[%s] Cooldown finished", v.serial)
				return
			}
		}
	}
}

func (v *MirroringView) publish() {
	if v.cfg.OnStatus != nil {
		v.cfg.OnStatus(v.Status())
	}
}

func (v *MirroringView) notify(level models.NotificationLevel, message, key string) {
	if v.cfg.OnNotify != nil {
		v.cfg.OnNotify(models.Notification{Level: level, Message: message, Key: key})
	}
}
