package input

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/babelcloud/hopemirror/internal/core"
	"github.com/babelcloud/hopemirror/internal/geometry"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recorder) record(format string, args ...interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
	return r.err
}

func (r *recorder) Tap(dev core.DeviceHandle, x, y int) error {
	return r.record("tap %s %d %d", dev, x, y)
}

func (r *recorder) Swipe(dev core.DeviceHandle, x1, y1, x2, y2, ms int) error {
	return r.record("swipe %s %d %d %d %d %d", dev, x1, y1, x2, y2, ms)
}

func (r *recorder) KeyEvent(dev core.DeviceHandle, code int) error {
	return r.record("key %s %d", dev, code)
}

func (r *recorder) Text(dev core.DeviceHandle, text string) error {
	return r.record("text %s %s", dev, text)
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func newTestTranslator(t *testing.T, w, h int) (*Translator, *recorder) {
	t.Helper()
	state, err := geometry.New(w, h, 0.5)
	require.NoError(t, err)
	rec := &recorder{}
	return NewTranslator("R58M", rec, geometry.NewHolder(state)), rec
}

func TestTapScalesToDevice(t *testing.T) {
	tr, rec := newTestTranslator(t, 1080, 1920)

	assert.True(t, tr.HandleGesture(core.Tap(270, 480)))
	tr.Close()

	assert.Equal(t, []string{"tap R58M 540 960"}, rec.Calls())
}

func TestToDeviceRoundTrip(t *testing.T) {
	tr, _ := newTestTranslator(t, 1080, 1920)
	defer tr.Close()

	x, y := tr.ToDevice(270, 480)
	assert.Equal(t, 540, x)
	assert.Equal(t, 960, y)
}

func TestTapAfterRotation(t *testing.T) {
	tr, rec := newTestTranslator(t, 1920, 1080)

	tr.HandleGesture(core.Tap(480, 270))
	tr.Close()

	assert.Equal(t, []string{"tap R58M 960 540"}, rec.Calls())
}

func TestSwipe(t *testing.T) {
	tr, rec := newTestTranslator(t, 1080, 1920)

	tr.HandleGesture(core.ClassifyGesture(100, 400, 100, 100))
	tr.HandleGesture(core.ClassifyGesture(50, 50, 52, 51))
	tr.Close()

	assert.Equal(t, []string{
		"swipe R58M 200 800 200 200 200",
		"tap R58M 100 100",
	}, rec.Calls())
}

func TestCommandsAndText(t *testing.T) {
	tr, rec := newTestTranslator(t, 1080, 1920)

	require.NoError(t, tr.HandleKey("volume_up"))
	require.NoError(t, tr.HandleKey("Volume-Down"))
	require.NoError(t, tr.HandleKey("home"))
	require.NoError(t, tr.HandleKey("back"))
	err := tr.HandleKey("selfdestruct")
	assert.ErrorIs(t, err, ErrUnknownCommand)
	tr.SendText("hello world")
	tr.SendText("")
	tr.Close()

	assert.Equal(t, []string{
		"key R58M 24",
		"key R58M 25",
		"key R58M 3",
		"key R58M 4",
		"text R58M hello world",
	}, rec.Calls())
}

func TestDispatchFailureIsSwallowed(t *testing.T) {
	tr, rec := newTestTranslator(t, 1080, 1920)
	rec.err = errors.New("device offline")

	tr.HandleGesture(core.Tap(1, 1))
	tr.HandleGesture(core.Tap(2, 2))
	tr.Close()

	assert.Len(t, rec.Calls(), 2)
}

func TestClosedTranslatorRejectsInput(t *testing.T) {
	tr, rec := newTestTranslator(t, 1080, 1920)
	tr.Close()
	tr.Close()

	assert.False(t, tr.HandleGesture(core.Tap(1, 1)))
	assert.Empty(t, rec.Calls())
}

// stuckDispatcher blocks every tap until release is closed.
type stuckDispatcher struct {
	recorder
	release chan struct{}
}

func (d *stuckDispatcher) Tap(dev core.DeviceHandle, x, y int) error {
	<-d.release
	return d.recorder.Tap(dev, x, y)
}

func TestCloseBoundsWaitForStuckDevice(t *testing.T) {
	state, err := geometry.New(1080, 1920, 0.5)
	require.NoError(t, err)
	d := &stuckDispatcher{release: make(chan struct{})}
	tr := NewTranslator("R58M", d, geometry.NewHolder(state))
	tr.closeWait = 20 * time.Millisecond

	for i := 0; i < 5; i++ {
		require.True(t, tr.HandleGesture(core.Tap(i, i)))
	}

	start := time.Now()
	tr.Close()
	assert.Less(t, time.Since(start), time.Second)

	close(d.release)
	tr.wg.Wait()
	assert.Len(t, d.Calls(), 1, "only the tap in flight is sent")
}

func TestKeyTable(t *testing.T) {
	code, ok := KeyCode("app_switch")
	require.True(t, ok)
	assert.Equal(t, 187, code)

	name, ok := KeyName(26)
	require.True(t, ok)
	assert.Equal(t, "power", name)

	_, ok = KeyName(999)
	assert.False(t, ok)

	assert.Equal(t, []string{"app_switch", "back", "delete", "enter", "home", "menu", "power", "volume_down", "volume_up"}, KeyNames())
}
