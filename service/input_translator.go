package service

import (
	"sync"
	"time"

	"andromirror/models"

	"github.com/charmbracelet/log"
)

// TouchThrottleInterval bounds MOVE emission to one per 60Hz frame
const TouchThrottleInterval = 16 * time.Millisecond

const (
	defaultPressure = 0.5
	mousePointerID  = 0
)

// PointerKind names the viewer-side DOM event that produced a PointerEvent
type PointerKind string

const (
	TouchStart  PointerKind = "touchstart"
	TouchMoveEv PointerKind = "touchmove"
	TouchEnd    PointerKind = "touchend"
	TouchCancel PointerKind = "touchcancel"
	MouseDown   PointerKind = "mousedown"
	MouseMove   PointerKind = "mousemove"
	MouseUp     PointerKind = "mouseup"
	MouseLeave  PointerKind = "mouseleave"
)

// TouchPoint is one changed touch of a touch event
type TouchPoint struct {
	Identifier int      `json:"identifier"`
	ClientX    float64  `json:"clientX"`
	ClientY    float64  `json:"clientY"`
	Force      *float64 `json:"force,omitempty"`
}

// PointerEvent is a pointer/touch/mouse event in viewport coordinates.
// Touch kinds carry Touches; mouse kinds use ClientX/ClientY.
type PointerEvent struct {
	Kind     PointerKind  `json:"event"`
	Touches  []TouchPoint `json:"touches,omitempty"`
	ClientX  float64      `json:"clientX"`
	ClientY  float64      `json:"clientY"`
	Pressure *float64     `json:"pressure,omitempty"`
}

// InputTranslator turns viewer pointer events into wire touch messages
type InputTranslator struct {
	emitTouch func(models.TouchMessage)
	emitKey   func(models.KeyMessage)
	throttle  *Throttle

	// emitMu orders trailing moves against gesture boundaries on the wire
	emitMu sync.Mutex

	mu           sync.Mutex
	moveGen      uint64
	enabled      bool
	container    models.Rect
	screenWidth  int
	screenHeight int
	area         *models.VideoDisplayArea
	active       map[int]models.RelativeCoordinates
	mouseDown    bool
}

func NewInputTranslator(emitTouch func(models.TouchMessage), emitKey func(models.KeyMessage)) *InputTranslator {
	return &InputTranslator{
		emitTouch:    emitTouch,
		emitKey:      emitKey,
		throttle:     NewThrottle(TouchThrottleInterval),
		screenWidth:  models.DefaultScreenWidth,
		screenHeight: models.DefaultScreenHeight,
		active:       make(map[int]models.RelativeCoordinates),
	}
}

// SetEnabled attaches or detaches the translator from incoming events
func (t *InputTranslator) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enabled == enabled {
		return
	}
	t.enabled = enabled
	if !enabled {
		t.moveGen++
		t.throttle.Cancel()
		t.mouseDown = false
		clear(t.active)
	}
}

func (t *InputTranslator) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// SetContainer records the viewer's container rectangle (on resize)
func (t *InputTranslator) SetContainer(rect models.Rect) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.container = rect
	t.recomputeArea()
}

// SetScreenSize records the device screen dimensions from the server
func (t *InputTranslator) SetScreenSize(width, height int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if width <= 0 || height <= 0 {
		width, height = models.DefaultScreenWidth, models.DefaultScreenHeight
	}
	t.screenWidth = width
	t.screenHeight = height
	t.recomputeArea()
}

func (t *InputTranslator) recomputeArea() {
	if t.container.Width <= 0 || t.container.Height <= 0 {
		t.area = nil
		return
	}
	area := CalculateVideoDisplayArea(t.container.Width, t.container.Height,
		float64(t.screenWidth), float64(t.screenHeight))
	t.area = &area
}

// DisplayArea returns the current letterboxed rectangle, if known
func (t *InputTranslator) DisplayArea() (models.VideoDisplayArea, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.area == nil {
		return models.VideoDisplayArea{}, false
	}
	return *t.area, true
}

// IsActive is true while at least one pointer is down
func (t *InputTranslator) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active) > 0
}

func (t *InputTranslator) ActivePointers() map[int]models.RelativeCoordinates {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int]models.RelativeCoordinates, len(t.active))
	for id, p := range t.active {
		out[id] = p
	}
	return out
}

// HandlePointer processes one viewer event. It returns false when the
// translator is disabled or the event kind is unknown.
func (t *InputTranslator) HandlePointer(ev PointerEvent) bool {
	t.mu.Lock()
	if !t.enabled {
		t.mu.Unlock()
		return false
	}

	var immediate []models.TouchMessage
	var move *models.TouchMessage

	switch ev.Kind {
	case TouchStart:
		for _, tp := range ev.Touches {
			if msg, ok := t.down(tp.Identifier, tp.ClientX, tp.ClientY, tp.Force); ok {
				immediate = append(immediate, msg)
			}
		}
	case TouchMoveEv:
		for _, tp := range ev.Touches {
			msg, throttled := t.move(tp.Identifier, tp.ClientX, tp.ClientY, tp.Force)
			if msg == nil {
				continue
			}
			if throttled {
				move = msg
			} else {
				immediate = append(immediate, *msg)
			}
		}
	case TouchEnd:
		for _, tp := range ev.Touches {
			if msg, ok := t.release(tp.Identifier, tp.ClientX, tp.ClientY, models.TouchUp); ok {
				immediate = append(immediate, msg)
			}
		}
	case TouchCancel:
		for _, tp := range ev.Touches {
			if msg, ok := t.release(tp.Identifier, tp.ClientX, tp.ClientY, models.TouchCancel); ok {
				immediate = append(immediate, msg)
			}
		}
	case MouseDown:
		if msg, ok := t.down(mousePointerID, ev.ClientX, ev.ClientY, ev.Pressure); ok {
			t.mouseDown = true
			immediate = append(immediate, msg)
		}
	case MouseMove:
		if !t.mouseDown {
			break
		}
		msg, throttled := t.move(mousePointerID, ev.ClientX, ev.ClientY, ev.Pressure)
		if msg != nil {
			if throttled {
				move = msg
			} else {
				t.mouseDown = false
				immediate = append(immediate, *msg)
			}
		}
	case MouseUp, MouseLeave:
		if !t.mouseDown {
			break
		}
		t.mouseDown = false
		action := models.TouchUp
		if ev.Kind == MouseLeave {
			action = models.TouchCancel
		}
		if msg, ok := t.release(mousePointerID, ev.ClientX, ev.ClientY, action); ok {
			immediate = append(immediate, msg)
		}
	default:
		t.mu.Unlock()
		log.Debugf("Ignoring unknown pointer event %q", ev.Kind)
		return false
	}
	if len(immediate) > 0 {
		t.moveGen++
	}
	gen := t.moveGen
	t.mu.Unlock()

	if len(immediate) > 0 {
		// a gesture boundary must never be followed by a stale trailing move
		t.throttle.Cancel()
		t.emitMu.Lock()
		for _, msg := range immediate {
			t.emitTouch(msg)
		}
		t.emitMu.Unlock()
	}
	if move != nil {
		m := *move
		t.throttle.Do(func() { t.emitMove(m, gen) })
	}
	return true
}

// emitMove sends a throttled MOVE unless a boundary event or a disable
// happened after it was scheduled
func (t *InputTranslator) emitMove(msg models.TouchMessage, gen uint64) {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	t.mu.Lock()
	stale := gen != t.moveGen || !t.enabled
	t.mu.Unlock()
	if stale {
		return
	}
	t.emitTouch(msg)
}

// down must be called with mu held
func (t *InputTranslator) down(id int, clientX, clientY float64, force *float64) (models.TouchMessage, bool) {
	coords, ok := ConvertToRelativeCoordinates(clientX, clientY, t.container, t.area)
	if !ok {
		return models.TouchMessage{}, false
	}
	t.active[id] = coords
	return touchMessage(models.TouchDown, coords, id, pressureOr(force, defaultPressure)), true
}

// move returns a throttled MOVE, or an immediate CANCEL when the pointer
// slid off the video. Pointers whose DOWN was never sent are ignored.
// Must be called with mu held.
func (t *InputTranslator) move(id int, clientX, clientY float64, force *float64) (*models.TouchMessage, bool) {
	last, tracked := t.active[id]
	if !tracked {
		return nil, false
	}

	coords, ok := ConvertToRelativeCoordinates(clientX, clientY, t.container, t.area)
	if ok {
		t.active[id] = coords
		msg := touchMessage(models.TouchMove, coords, id, pressureOr(force, defaultPressure))
		return &msg, true
	}

	delete(t.active, id)
	msg := touchMessage(models.TouchCancel, last, id, 0)
	return &msg, false
}

// release ends a pointer with UP, or CANCEL when it ended outside the
// video. Must be called with mu held.
func (t *InputTranslator) release(id int, clientX, clientY float64, action models.TouchAction) (models.TouchMessage, bool) {
	last, tracked := t.active[id]
	delete(t.active, id)

	coords, ok := ConvertToRelativeCoordinates(clientX, clientY, t.container, t.area)
	if !ok {
		if !tracked {
			return models.TouchMessage{}, false
		}
		coords = last
		action = models.TouchCancel
	}
	return touchMessage(action, coords, id, 0), true
}

// HandleKey forwards a recognized navigation key
func (t *InputTranslator) HandleKey(key models.KeyCommand) bool {
	if !t.Enabled() {
		return false
	}
	msg := models.KeyMessage{Type: models.MessageKey, Key: key}
	if !ValidateKeyMessage(msg) {
		log.Warnf("Invalid key: %q", key)
		return false
	}
	t.emitKey(msg)
	return true
}

// Close stops the move throttle
func (t *InputTranslator) Close() {
	t.SetEnabled(false)
	t.throttle.Stop()
}

func touchMessage(action models.TouchAction, c models.RelativeCoordinates, id int, pressure float64) models.TouchMessage {
	return models.TouchMessage{
		Type:      models.MessageTouch,
		Action:    action,
		X:         c.X,
		Y:         c.Y,
		PointerID: id,
		Pressure:  pressure,
	}
}

func pressureOr(force *float64, fallback float64) float64 {
	if force == nil {
		return fallback
	}
	return *force
}
