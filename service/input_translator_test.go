package service

import (
	"sync"
	"testing"
	"time"

	"andromirror/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type touchRecorder struct {
	mu      sync.Mutex
	touches []models.TouchMessage
	keys    []models.KeyMessage
}

func (r *touchRecorder) touch(m models.TouchMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touches = append(r.touches, m)
}

func (r *touchRecorder) key(m models.KeyMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, m)
}

func (r *touchRecorder) all() []models.TouchMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.TouchMessage(nil), r.touches...)
}

func (r *touchRecorder) actions() []models.TouchAction {
	var out []models.TouchAction
	for _, m := range r.all() {
		out = append(out, m.Action)
	}
	return out
}

// newTestTranslator maps a 2000x1920 container onto a 1080x1920 screen,
// leaving 460px margins left and right.
func newTestTranslator(t *testing.T) (*InputTranslator, *touchRecorder) {
	t.Helper()
	rec := &touchRecorder{}
	tr := NewInputTranslator(rec.touch, rec.key)
	tr.SetScreenSize(1080, 1920)
	tr.SetContainer(models.Rect{Width: 2000, Height: 1920})
	tr.SetEnabled(true)
	t.Cleanup(tr.Close)
	return tr, rec
}

func touchEvent(kind PointerKind, id int, x, y float64) PointerEvent {
	return PointerEvent{Kind: kind, Touches: []TouchPoint{{Identifier: id, ClientX: x, ClientY: y}}}
}

func TestInputTranslator_DisplayArea(t *testing.T) {
	tr, _ := newTestTranslator(t)

	area, ok := tr.DisplayArea()
	require.True(t, ok)
	assert.InDelta(t, 460.0, area.X, 1e-9)
	assert.InDelta(t, 1080.0, area.Width, 1e-9)
}

func TestInputTranslator_DisabledIgnoresEvents(t *testing.T) {
	rec := &touchRecorder{}
	tr := NewInputTranslator(rec.touch, rec.key)
	defer tr.Close()
	tr.SetContainer(models.Rect{Width: 1080, Height: 1920})

	assert.False(t, tr.HandlePointer(touchEvent(TouchStart, 0, 540, 960)))
	assert.False(t, tr.HandleKey(models.KeyHome))
	assert.Empty(t, rec.all())
}

func TestInputTranslator_TapEmitsDownAndUp(t *testing.T) {
	tr, rec := newTestTranslator(t)

	force := 0.8
	start := touchEvent(TouchStart, 2, 1000, 960)
	start.Touches[0].Force = &force
	require.True(t, tr.HandlePointer(start))
	assert.True(t, tr.IsActive())
	require.True(t, tr.HandlePointer(touchEvent(TouchEnd, 2, 1000, 960)))
	assert.False(t, tr.IsActive())

	touches := rec.all()
	require.Len(t, touches, 2)
	assert.Equal(t, models.TouchDown, touches[0].Action)
	assert.Equal(t, models.MessageTouch, touches[0].Type)
	assert.Equal(t, 2, touches[0].PointerID)
	assert.InDelta(t, 0.5, touches[0].X, 1e-9)
	assert.InDelta(t, 0.5, touches[0].Y, 1e-9)
	assert.Equal(t, 0.8, touches[0].Pressure)
	assert.Equal(t, models.TouchUp, touches[1].Action)
	assert.Equal(t, 0.0, touches[1].Pressure)
}

func TestInputTranslator_DefaultPressure(t *testing.T) {
	tr, rec := newTestTranslator(t)

	tr.HandlePointer(touchEvent(TouchStart, 0, 1000, 960))
	require.Len(t, rec.all(), 1)
	assert.Equal(t, 0.5, rec.all()[0].Pressure)
}

func TestInputTranslator_DownOutsideAreaSuppressed(t *testing.T) {
	tr, rec := newTestTranslator(t)

	assert.True(t, tr.HandlePointer(touchEvent(TouchStart, 0, 100, 960)))
	assert.True(t, tr.HandlePointer(touchEvent(TouchEnd, 0, 100, 960)))
	assert.Empty(t, rec.all())
	assert.False(t, tr.IsActive())
}

func TestInputTranslator_MovesAreThrottled(t *testing.T) {
	tr, rec := newTestTranslator(t)

	tr.HandlePointer(touchEvent(TouchStart, 0, 1000, 500))
	for y := 510.0; y <= 600; y += 10 {
		tr.HandlePointer(touchEvent(TouchMoveEv, 0, 1000, y))
	}

	assert.Equal(t, []models.TouchAction{models.TouchDown, models.TouchMove}, rec.actions())
	require.Eventually(t, func() bool { return len(rec.all()) == 3 }, time.Second, 2*time.Millisecond)

	last := rec.all()[2]
	assert.Equal(t, models.TouchMove, last.Action)
	assert.InDelta(t, 600.0/1920.0, last.Y, 1e-9)
}

func TestInputTranslator_UpCancelsPendingMove(t *testing.T) {
	tr, rec := newTestTranslator(t)

	tr.HandlePointer(touchEvent(TouchStart, 0, 1000, 500))
	tr.HandlePointer(touchEvent(TouchMoveEv, 0, 1000, 510))
	tr.HandlePointer(touchEvent(TouchMoveEv, 0, 1000, 520))
	tr.HandlePointer(touchEvent(TouchEnd, 0, 1000, 520))

	time.Sleep(3 * TouchThrottleInterval)
	assert.Equal(t, []models.TouchAction{models.TouchDown, models.TouchMove, models.TouchUp}, rec.actions())
}

func TestInputTranslator_MoveOffVideoCancels(t *testing.T) {
	tr, rec := newTestTranslator(t)

	tr.HandlePointer(touchEvent(TouchStart, 1, 1000, 960))
	tr.HandlePointer(touchEvent(TouchMoveEv, 1, 100, 960))

	touches := rec.all()
	require.Len(t, touches, 2)
	assert.Equal(t, models.TouchCancel, touches[1].Action)
	assert.InDelta(t, touches[0].X, touches[1].X, 1e-9, "cancel reports the last in-area position")
	assert.False(t, tr.IsActive())

	tr.HandlePointer(touchEvent(TouchEnd, 1, 100, 960))
	assert.Len(t, rec.all(), 2)
}

func TestInputTranslator_UpOutsideBecomesCancel(t *testing.T) {
	tr, rec := newTestTranslator(t)

	tr.HandlePointer(touchEvent(TouchStart, 0, 1000, 960))
	tr.HandlePointer(touchEvent(TouchEnd, 0, 1900, 960))

	assert.Equal(t, []models.TouchAction{models.TouchDown, models.TouchCancel}, rec.actions())
}

func TestInputTranslator_MultiTouch(t *testing.T) {
	tr, rec := newTestTranslator(t)

	tr.HandlePointer(PointerEvent{Kind: TouchStart, Touches: []TouchPoint{
		{Identifier: 0, ClientX: 600, ClientY: 500},
		{Identifier: 1, ClientX: 1400, ClientY: 1500},
	}})
	assert.Len(t, tr.ActivePointers(), 2)

	touches := rec.all()
	require.Len(t, touches, 2)
	assert.Equal(t, 0, touches[0].PointerID)
	assert.Equal(t, 1, touches[1].PointerID)
}

func TestInputTranslator_Mouse(t *testing.T) {
	tr, rec := newTestTranslator(t)

	assert.True(t, tr.HandlePointer(PointerEvent{Kind: MouseMove, ClientX: 1000, ClientY: 960}))
	assert.Empty(t, rec.all(), "hover without a button is ignored")

	tr.HandlePointer(PointerEvent{Kind: MouseDown, ClientX: 1000, ClientY: 960})
	tr.HandlePointer(PointerEvent{Kind: MouseLeave, ClientX: 1999, ClientY: 960})
	tr.HandlePointer(PointerEvent{Kind: MouseUp, ClientX: 1000, ClientY: 960})

	assert.Equal(t, []models.TouchAction{models.TouchDown, models.TouchCancel}, rec.actions())
	assert.Equal(t, 0, rec.all()[0].PointerID)
}

func TestInputTranslator_UnknownKind(t *testing.T) {
	tr, rec := newTestTranslator(t)
	assert.False(t, tr.HandlePointer(PointerEvent{Kind: "wheel"}))
	assert.Empty(t, rec.all())
}

func TestInputTranslator_Keys(t *testing.T) {
	tr, rec := newTestTranslator(t)

	assert.True(t, tr.HandleKey(models.KeyBack))
	assert.False(t, tr.HandleKey("volume_up"))
	require.Len(t, rec.keys, 1)
	assert.Equal(t, models.KeyMessage{Type: models.MessageKey, Key: models.KeyBack}, rec.keys[0])
}

func TestInputTranslator_DisableClearsActive(t *testing.T) {
	tr, _ := newTestTranslator(t)

	tr.HandlePointer(touchEvent(TouchStart, 0, 1000, 960))
	require.True(t, tr.IsActive())
	tr.SetEnabled(false)
	assert.False(t, tr.IsActive())
}

func TestInputTranslator_FlushedMoveAfterUpIsDropped(t *testing.T) {
	tr, rec := newTestTranslator(t)

	tr.HandlePointer(touchEvent(TouchStart, 0, 1000, 500))
	tr.mu.Lock()
	gen := tr.moveGen
	tr.mu.Unlock()
	late := touchMessage(models.TouchMove, models.RelativeCoordinates{X: 0.5, Y: 0.3}, 0, defaultPressure)

	tr.HandlePointer(touchEvent(TouchEnd, 0, 1000, 500))
	// a trailing move the throttle already handed off before the UP
	tr.emitMove(late, gen)

	assert.Equal(t, []models.TouchAction{models.TouchDown, models.TouchUp}, rec.actions())
}

func TestInputTranslator_ScheduledMoveWithoutBoundaryIsSent(t *testing.T) {
	tr, rec := newTestTranslator(t)

	tr.HandlePointer(touchEvent(TouchStart, 0, 1000, 500))
	tr.mu.Lock()
	gen := tr.moveGen
	tr.mu.Unlock()

	tr.emitMove(touchMessage(models.TouchMove, models.RelativeCoordinates{X: 0.5, Y: 0.3}, 0, defaultPressure), gen)
	assert.Equal(t, []models.TouchAction{models.TouchDown, models.TouchMove}, rec.actions())
}

func TestInputTranslator_MouseDownOutsideAreaIgnoresDrag(t *testing.T) {
	tr, rec := newTestTranslator(t)

	tr.HandlePointer(PointerEvent{Kind: MouseDown, ClientX: 100, ClientY: 960})
	tr.HandlePointer(PointerEvent{Kind: MouseMove, ClientX: 1000, ClientY: 960})
	tr.HandlePointer(PointerEvent{Kind: MouseUp, ClientX: 1000, ClientY: 960})

	time.Sleep(3 * TouchThrottleInterval)
	assert.Empty(t, rec.all())
	assert.False(t, tr.IsActive())
}

func TestInputTranslator_TouchMoveWithoutStartIgnored(t *testing.T) {
	tr, rec := newTestTranslator(t)

	tr.HandlePointer(touchEvent(TouchStart, 3, 100, 960))
	tr.HandlePointer(touchEvent(TouchMoveEv, 3, 1000, 960))
	tr.HandlePointer(touchEvent(TouchMoveEv, 4, 1000, 960))

	time.Sleep(3 * TouchThrottleInterval)
	assert.Empty(t, rec.all())
	assert.Empty(t, tr.ActivePointers())
}
