package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/bylins/mudscript/engine"
	"github.com/bylins/mudscript/value"
	"github.com/stretchr/testify/assert"
)

type countingCallback struct{ count int64 }

func (c *countingCallback) Invoke(args ...value.Value) (value.Value, error) {
	atomic.AddInt64(&c.count, 1)
	return value.Null(), nil
}

func (c *countingCallback) fired() int64 { return atomic.LoadInt64(&c.count) }

func TestSetTimeout(t *testing.T) {
	fired := make(chan engine.Invocable, 1)
	m := New(func(cb engine.Invocable) { fired <- cb })
	defer m.Shutdown()

	cb := &countingCallback{}
	id := m.SetTimeout(10, cb)
	assert.NotEmpty(t, id)

	select {
	case got := <-fired:
		assert.Same(t, engine.Invocable(cb), got)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout callback never dispatched")
	}
	assert.Equal(t, 0, m.Len())
}

func TestClearBeforeFire(t *testing.T) {
	m := New(nil)
	defer m.Shutdown()

	cb := &countingCallback{}
	id := m.SetTimeout(200, cb)
	m.Clear(id)
	m.Clear(id)
	m.Clear("missing")

	time.Sleep(300 * time.Millisecond)
	assert.EqualValues(t, 0, cb.fired())
	assert.Equal(t, 0, m.Len())
}

func TestSetIntervalRepeats(t *testing.T) {
	m := New(nil)
	defer m.Shutdown()

	cb := &countingCallback{}
	id := m.SetInterval(50, cb)

	// a 50ms interval must actually fire at 50ms granularity
	time.Sleep(700 * time.Millisecond)
	assert.GreaterOrEqual(t, cb.fired(), int64(8))

	m.Clear(id)
	at := cb.fired()
	time.Sleep(150 * time.Millisecond)
	assert.LessOrEqual(t, cb.fired(), at+1)
	assert.Equal(t, 0, m.Len())
}

func TestSetIntervalSecondAndAbove(t *testing.T) {
	m := New(nil)
	defer m.Shutdown()

	cb := &countingCallback{}
	id := m.SetInterval(1500, cb)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, m.Len())

	m.Clear(id)
	assert.Equal(t, 0, m.Len())
}

func TestShutdownStopsEverything(t *testing.T) {
	m := New(nil)
	cb := &countingCallback{}
	m.SetTimeout(50, cb)
	m.SetInterval(50, cb)
	m.Shutdown()
	m.Shutdown()

	assert.Equal(t, 0, m.Len())
	assert.Empty(t, m.SetTimeout(1, cb))
	assert.Empty(t, m.SetInterval(1, cb))
}
