package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"andromirror/models"
	"andromirror/service"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	sendBuffer = 256
)

var errClientClosed = errors.New("viewer disconnected")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 2 * 1024 * 1024,
}

type outbound struct {
	binary bool
	data   []byte
}

// Client is one local viewer of one device. It doubles as a VideoSink.
type Client struct {
	id        string
	serial    string
	hub       *WebSocketHub
	conn      *websocket.Conn
	send      chan outbound
	done      chan struct{}
	closeOnce sync.Once
	mirroring *service.MirroringManager
}

type WebSocketHub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *WebSocketHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.Infof("[%s] Viewer %s connected (total: %d)", client.serial, client.id, total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Infof("[%s] Viewer %s disconnected (total: %d)", client.serial, client.id, total)
		}
	}
}

func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastToDevice sends a JSON message to viewers of serial
func (h *WebSocketHub) BroadcastToDevice(serial string, message interface{}) {
	payload, err := sonic.Marshal(message)
	if err != nil {
		log.Errorf("Failed to marshal message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.serial == serial {
			client.enqueue(outbound{data: payload})
		}
	}
}

// BroadcastToAll sends a JSON message to every viewer
func (h *WebSocketHub) BroadcastToAll(message interface{}) {
	payload, err := sonic.Marshal(message)
	if err != nil {
		log.Errorf("Failed to marshal message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.enqueue(outbound{data: payload})
	}
}

// PublishStatus forwards a view status to the viewers of its device
func (h *WebSocketHub) PublishStatus(status service.ViewStatus) {
	h.BroadcastToDevice(status.Serial, models.ViewerStateMessage{Type: models.ViewerState, Status: status})
}

// PublishNotification forwards a notification to every viewer
func (h *WebSocketHub) PublishNotification(n models.Notification) {
	h.BroadcastToAll(models.ViewerNotificationMessage{Type: models.ViewerNotification, Notification: n})
}

// HandleViewer upgrades a viewer of serial, selecting it as the used device
func HandleViewer(hub *WebSocketHub, mm *service.MirroringManager, c *gin.Context) {
	serial := c.Param("serial")
	view, err := mm.Select(serial)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("[%s] WebSocket upgrade failed: %v", serial, err)
		return
	}

	client := &Client{
		id:        uuid.New().String(),
		serial:    serial,
		hub:       hub,
		conn:      conn,
		send:      make(chan outbound, sendBuffer),
		done:      make(chan struct{}),
		mirroring: mm,
	}
	hub.register <- client

	client.enqueue(viewerState(view.Status()))
	view.AttachSink(client.id, client)

	go client.writePump()
	go client.readPump()
}

// WriteNAL queues one video NAL unit as a binary frame
func (c *Client) WriteNAL(nal []byte) error {
	if !c.enqueue(outbound{binary: true, data: nal}) {
		return errClientClosed
	}
	return nil
}

// enqueue drops the oldest queued frame when the viewer lags behind
func (c *Client) enqueue(msg outbound) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
	}

	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- msg:
	default:
		log.Warnf("[%s] Viewer %s channel full, skipping frame", c.serial, c.id)
	}
	return true
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) readPump() {
	defer func() {
		if view, ok := c.mirroring.Lookup(c.serial); ok {
			view.DetachSink(c.id)
		}
		select {
		case c.hub.unregister <- c:
		case <-c.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warnf("[%s] Viewer %s error: %v", c.serial, c.id, err)
			}
			return
		}
		c.handleMessage(message)
	}
}

type viewerMessage struct {
	Type       string            `json:"type"`
	Rect       *models.Rect      `json:"rect,omitempty"`
	Key        models.KeyCommand `json:"key,omitempty"`
	Fullscreen bool              `json:"fullscreen"`
	service.PointerEvent
}

func (c *Client) handleMessage(data []byte) {
	var msg viewerMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		log.Warnf("[%s] Invalid viewer message: %v", c.serial, err)
		return
	}

	view, ok := c.mirroring.Lookup(c.serial)
	if !ok {
		log.Debugf("[%s] Device no longer selected, ignoring %q", c.serial, msg.Type)
		return
	}

	switch msg.Type {
	case models.ViewerResize:
		if msg.Rect != nil {
			view.SetContainer(*msg.Rect)
		}
	case models.ViewerPointer:
		view.HandlePointer(msg.PointerEvent)
	case models.ViewerKey:
		if err := view.SendKey(msg.Key); err != nil {
			log.Warnf("[%s] Key %q rejected: %v", c.serial, msg.Key, err)
		}
	case models.ViewerFullscreenChange:
		view.FullscreenChanged(msg.Fullscreen)
	default:
		log.Warnf("[%s] Unknown viewer message type: %q", c.serial, msg.Type)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			kind := websocket.TextMessage
			if msg.binary {
				kind = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(kind, msg.data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func viewerState(status service.ViewStatus) outbound {
	payload, err := sonic.Marshal(models.ViewerStateMessage{Type: models.ViewerState, Status: status})
	if err != nil {
		log.Errorf("Failed to marshal state: %v", err)
	}
	return outbound{data: payload}
}
