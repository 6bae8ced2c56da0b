package pressure

import "testing"

func TestPoolShrinksUnderPressure(t *testing.T) {
	src := NewSource()
	pool := NewPool(src, Caps{Low: 4, Medium: 2, High: 1, Critical: 0}, func() []byte { return make([]byte, 0, 256) })

	for i := 0; i < 4; i++ {
		pool.Put(make([]byte, 0, 256))
	}
	if got := pool.Len(); got != 4 {
		t.Fatalf("expected 4 idle buffers at low pressure, got %d", got)
	}

	src.Set(High)
	if got := pool.Len(); got > 1 {
		t.Fatalf("pool should shrink to at most 1 under high pressure, got %d", got)
	}

	src.Set(Critical)
	if got := pool.Len(); got != 0 {
		t.Fatalf("pool should be emptied under critical pressure, got %d", got)
	}

	pool.Put(make([]byte, 0, 256))
	if got := pool.Len(); got != 0 {
		t.Fatalf("pool should reject puts while capacity is 0, got %d", got)
	}
}

func TestPoolNeverExceedsCap(t *testing.T) {
	src := NewSource()
	pool := NewPool(src, Caps{Low: 2, Medium: 2, High: 2, Critical: 2}, func() int { return 0 })
	for i := 0; i < 10; i++ {
		pool.Put(i)
	}
	if got := pool.Len(); got != 2 {
		t.Fatalf("pool should cap at 2, got %d", got)
	}
}

func TestSubscribeDeliversCurrentLevelImmediately(t *testing.T) {
	src := NewSource()
	src.Set(Medium)

	var got Level = -1
	src.Subscribe(SubscriberFunc(func(level Level) { got = level }))
	if got != Medium {
		t.Fatalf("new subscriber should see current level immediately, got %v", got)
	}
}
