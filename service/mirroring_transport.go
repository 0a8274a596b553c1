package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"andromirror/models"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const (
	// PingInterval is the keep-alive period once a session is connected
	PingInterval = 5 * time.Second

	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

const (
	errConnection = "WebSocket connection error"
	errParse      = "Failed to parse server message"
	errSendTouch  = "Failed to send touch event"
	errSendKey    = "Failed to send key event"
)

// TransportConfig locates the mirroring endpoint of an AndroModem server
type TransportConfig struct {
	BaseURL      string // ws:// or wss:// base, or http(s):// which is rewritten
	PingInterval time.Duration
	Dialer       *websocket.Dialer
}

// TransportHandlers are invoked from the session goroutine, never under a lock
type TransportHandlers struct {
	OnConnected   func(models.ConnectedMessage)
	OnError       func(message string)
	OnVideoFrame  func(frame []byte)
	OnStateChange func(models.ConnectionState)
}

// MirroringTransport owns at most one mirroring WebSocket for a device
type MirroringTransport struct {
	serial   string
	device   func() models.Device
	cfg      TransportConfig
	handlers TransportHandlers

	mu      sync.Mutex
	state   models.ConnectionState
	lastErr string
	dims    *models.ScreenDimensions
	sess    *mirrorSession
}

// mirrorSession is one socket. conn is nil while dialing.
type mirrorSession struct {
	conn     *websocket.Conn
	cancel   context.CancelFunc
	writeMu  sync.Mutex
	pingStop chan struct{}
	pingOnce sync.Once
	pinging  bool
}

func NewMirroringTransport(serial string, device func() models.Device, cfg TransportConfig, handlers TransportHandlers) *MirroringTransport {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = PingInterval
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  4 * 1024,
		}
	}
	return &MirroringTransport{
		serial:   serial,
		device:   device,
		cfg:      cfg,
		handlers: handlers,
		state:    models.ConnDisconnected,
	}
}

// Endpoint returns the session URL addressed by device serial
func (t *MirroringTransport) Endpoint() string {
	base := strings.TrimRight(t.cfg.BaseURL, "/")
	switch {
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	}
	return fmt.Sprintf("%s/ws/devices/%s/mirroring", base, url.PathEscape(t.serial))
}

// Connect starts a new session with the given setup and reports whether an
// attempt was started. It is a no-op while the device is not Online or a
// socket is already open or opening.
func (t *MirroringTransport) Connect(setup models.SetupMessage) bool {
	setup.Type = models.MessageSetup

	t.mu.Lock()
	if dev := t.device(); !dev.IsOnline() {
		t.mu.Unlock()
		log.Warnf("[%s] Connect ignored, device state is %s", t.serial, dev.State)
		return false
	}
	if t.sess != nil {
		t.mu.Unlock()
		log.Debugf("[%s] Connect ignored, socket already open or opening", t.serial)
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &mirrorSession{cancel: cancel, pingStop: make(chan struct{})}
	t.sess = sess
	t.lastErr = ""
	notify := t.setStateLocked(models.ConnConnecting)
	t.mu.Unlock()

	t.emitState(notify)
	log.Infof("[%s] Opening mirroring socket (%dp, %d bps, %d fps)", t.serial, setup.Resolution, setup.Bitrate, setup.FPS)
	go t.run(ctx, sess, setup)
	return true
}

// Disconnect closes the socket if present and resets all session state.
// Safe to call at any time, any number of times.
func (t *MirroringTransport) Disconnect() {
	t.mu.Lock()
	sess := t.sess
	var conn *websocket.Conn
	if sess != nil {
		conn = sess.conn
	}
	t.sess = nil
	t.lastErr = ""
	t.dims = nil
	notify := t.setStateLocked(models.ConnDisconnected)
	t.mu.Unlock()

	if sess != nil {
		sess.cancel()
		sess.stopPing()
		if conn != nil {
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			conn.Close()
		}
		log.Infof("[%s] Mirroring socket closed by client", t.serial)
	}
	t.emitState(notify)
}

func (t *MirroringTransport) run(ctx context.Context, sess *mirrorSession, setup models.SetupMessage) {
	endpoint := t.Endpoint()
	conn, _, err := t.cfg.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Errorf("[%s] Failed to open %s: %v", t.serial, endpoint, err)
		t.fail(sess, errConnection)
		return
	}

	t.mu.Lock()
	if t.sess != sess {
		t.mu.Unlock()
		conn.Close()
		return
	}
	sess.conn = conn
	t.mu.Unlock()

	log.Infof("[%s] WebSocket connected, sending setup", t.serial)
	if err := sess.writeJSON(setup); err != nil {
		log.Errorf("[%s] Failed to send setup: %v", t.serial, err)
	}

	t.readLoop(sess)
}

func (t *MirroringTransport) readLoop(sess *mirrorSession) {
	for {
		msgType, data, err := sess.conn.ReadMessage()
		if err != nil {
			t.closed(sess, err)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if t.handlers.OnVideoFrame != nil && t.isCurrent(sess) {
				t.handlers.OnVideoFrame(data)
			}
		case websocket.TextMessage:
			t.handleControl(sess, data)
		}
	}
}

func (t *MirroringTransport) handleControl(sess *mirrorSession, data []byte) {
	msg, err := decodeControl(data)
	if err != nil {
		log.Errorf("[%s] %v", t.serial, err)
		if !t.recordError(sess, errParse) {
			return
		}
		t.emitError(errParse)
		return
	}

	switch msg.Type {
	case models.MessageConnected:
		connected := *msg.Connected
		t.mu.Lock()
		if t.sess != sess {
			t.mu.Unlock()
			return
		}
		t.dims = &models.ScreenDimensions{Width: connected.Width, Height: connected.Height}
		t.lastErr = ""
		notify := t.setStateLocked(models.ConnConnected)
		startPing := !sess.pinging
		sess.pinging = true
		t.mu.Unlock()

		log.Infof("[%s] Mirroring stream connected @ %dx%d", t.serial, connected.Width, connected.Height)
		if startPing {
			go t.pingLoop(sess)
		}
		t.emitState(notify)
		if t.handlers.OnConnected != nil {
			t.handlers.OnConnected(connected)
		}

	case models.MessageError:
		t.mu.Lock()
		if t.sess != sess {
			t.mu.Unlock()
			return
		}
		t.lastErr = msg.Error.Message
		notify := t.setStateLocked(models.ConnError)
		t.mu.Unlock()

		log.Errorf("[%s] Server reported error: %s", t.serial, msg.Error.Message)
		t.emitState(notify)
		t.emitError(msg.Error.Message)

	default:
		log.Warnf("[%s] Unknown message type: %q", t.serial, msg.Type)
	}
}

func (t *MirroringTransport) pingLoop(sess *mirrorSession) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.pingStop:
			return
		case <-ticker.C:
			if err := sess.writeJSON(models.PingMessage{Type: models.MessagePing}); err != nil {
				log.Warnf("[%s] Ping failed: %v", t.serial, err)
				return
			}
		}
	}
}

// closed handles a socket close or read error
func (t *MirroringTransport) closed(sess *mirrorSession, err error) {
	t.mu.Lock()
	if t.sess != sess {
		t.mu.Unlock()
		return
	}
	t.sess = nil
	notify := t.setStateLocked(models.ConnDisconnected)
	t.mu.Unlock()

	sess.stopPing()
	sess.conn.Close()

	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Warnf("[%s] WebSocket closed: %v", t.serial, err)
	} else {
		log.Infof("[%s] WebSocket closed", t.serial)
	}
	t.emitState(notify)
}

// fail ends a session that never opened
func (t *MirroringTransport) fail(sess *mirrorSession, message string) {
	t.mu.Lock()
	if t.sess != sess {
		t.mu.Unlock()
		return
	}
	t.sess = nil
	t.lastErr = message
	notify := t.setStateLocked(models.ConnError)
	t.mu.Unlock()

	sess.stopPing()
	t.emitState(notify)
	t.emitError(message)
}

// SendTouchEvent writes a validated touch message. Invalid messages and
// sends without an open socket are dropped.
func (t *MirroringTransport) SendTouchEvent(msg models.TouchMessage) {
	msg.Type = models.MessageTouch
	sess := t.openSession()
	if sess == nil {
		log.Warnf("[%s] WebSocket not connected, cannot send touch event", t.serial)
		return
	}
	if !ValidateTouchMessage(msg) {
		log.Debugf("[%s] Dropping invalid touch message: %+v", t.serial, msg)
		return
	}
	if err := sess.writeJSON(msg); err != nil {
		log.Errorf("[%s] %s: %v", t.serial, errSendTouch, err)
		t.recordError(sess, errSendTouch)
	}
}

// SendKeyEvent writes a key message for a recognized key only
func (t *MirroringTransport) SendKeyEvent(msg models.KeyMessage) {
	msg.Type = models.MessageKey
	sess := t.openSession()
	if sess == nil {
		log.Warnf("[%s] WebSocket not connected, cannot send key event", t.serial)
		return
	}
	if !ValidateKeyMessage(msg) {
		log.Warnf("[%s] Invalid key: %q", t.serial, msg.Key)
		return
	}
	if err := sess.writeJSON(msg); err != nil {
		log.Errorf("[%s] %s: %v", t.serial, errSendKey, err)
		t.recordError(sess, errSendKey)
		return
	}
	log.Debugf("[%s] Key event sent: %s", t.serial, msg.Key)
}

func (t *MirroringTransport) State() models.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *MirroringTransport) IsConnected() bool {
	return t.State() == models.ConnConnected
}

func (t *MirroringTransport) IsConnecting() bool {
	return t.State() == models.ConnConnecting
}

// Error returns the last surfaced error message, empty when none
func (t *MirroringTransport) Error() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// ScreenDimensions returns the dimensions from the last connected message
func (t *MirroringTransport) ScreenDimensions() (models.ScreenDimensions, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dims == nil {
		return models.ScreenDimensions{}, false
	}
	return *t.dims, true
}

func (t *MirroringTransport) openSession() *mirrorSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sess == nil || t.sess.conn == nil {
		return nil
	}
	return t.sess
}

func (t *MirroringTransport) isCurrent(sess *mirrorSession) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sess == sess
}

func (t *MirroringTransport) recordError(sess *mirrorSession, message string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sess != sess {
		return false
	}
	t.lastErr = message
	return true
}

// setStateLocked returns the new state when it changed, empty otherwise
func (t *MirroringTransport) setStateLocked(state models.ConnectionState) models.ConnectionState {
	if t.state == state {
		return ""
	}
	t.state = state
	return state
}

func (t *MirroringTransport) emitState(state models.ConnectionState) {
	if state != "" && t.handlers.OnStateChange != nil {
		t.handlers.OnStateChange(state)
	}
}

func (t *MirroringTransport) emitError(message string) {
	if t.handlers.OnError != nil {
		t.handlers.OnError(message)
	}
}

func (s *mirrorSession) writeJSON(v interface{}) error {
	payload, err := encodeControl(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *mirrorSession) stopPing() {
	s.pingOnce.Do(func() { close(s.pingStop) })
}
