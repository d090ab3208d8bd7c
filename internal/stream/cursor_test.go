package stream

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movefeed/internal/storage/memory"
)

// spyCache wraps a backing map and records calls, optionally failing.
type spyCache struct {
	data    map[string]string
	gets    int
	sets    int
	getErr  error
	setErr  error
	lastSet string
}

func newSpyCache() *spyCache {
	return &spyCache{data: make(map[string]string)}
}

func (c *spyCache) Get(_ context.Context, key string) (string, bool, error) {
	c.gets++
	if c.getErr != nil {
		return "", false, c.getErr
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *spyCache) Set(_ context.Context, key, value string) error {
	c.sets++
	if c.setErr != nil {
		return c.setErr
	}
	c.data[key] = value
	c.lastSet = value
	return nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func i64(v int64) *int64 { return &v }

func TestCursorStore_OverrideSuppressesCacheRead(t *testing.T) {
	cache := newSpyCache()
	cache.data["k"] = "999"
	s := newCursorStore(cache, "k", quietLogger())

	s.load(context.Background(), i64(100))

	assert.Zero(t, cache.gets, "an explicit override always wins over the cache")
	require.NotNil(t, s.value())
	assert.Equal(t, int64(100), *s.value())
}

func TestCursorStore_LoadFromCache(t *testing.T) {
	cache := newSpyCache()
	cache.data["k"] = "12345"
	s := newCursorStore(cache, "k", quietLogger())

	s.load(context.Background(), nil)

	require.NotNil(t, s.value())
	assert.Equal(t, int64(12345), *s.value())
}

func TestCursorStore_LoadMissOrFailureIsNil(t *testing.T) {
	t.Run("miss", func(t *testing.T) {
		s := newCursorStore(newSpyCache(), "k", quietLogger())
		s.load(context.Background(), nil)
		assert.Nil(t, s.value())
	})

	t.Run("read failure", func(t *testing.T) {
		cache := newSpyCache()
		cache.getErr = errors.New("backend down")
		s := newCursorStore(cache, "k", quietLogger())
		s.load(context.Background(), nil)
		assert.Nil(t, s.value())
	})

	t.Run("malformed value", func(t *testing.T) {
		cache := newSpyCache()
		cache.data["k"] = "not-a-number"
		s := newCursorStore(cache, "k", quietLogger())
		s.load(context.Background(), nil)
		assert.Nil(t, s.value())
	})
}

func TestCursorStore_AdmitFilter(t *testing.T) {
	s := newCursorStore(memory.NewCache(), "k", quietLogger())
	s.load(context.Background(), i64(100))

	assert.True(t, s.admit(nil), "events without a timestamp always pass")
	assert.False(t, s.admit(i64(99)))
	assert.False(t, s.admit(i64(100)), "equal timestamps are treated as already seen")
	assert.True(t, s.admit(i64(101)))
	assert.Equal(t, int64(101), *s.value(), "a passing event advances the cursor")
	assert.False(t, s.admit(i64(101)), "the advanced cursor filters replays")
}

func TestCursorStore_SaveIsNoopWithoutTimestampedDispatch(t *testing.T) {
	cache := newSpyCache()
	cache.data["k"] = "100"
	s := newCursorStore(cache, "k", quietLogger())
	s.load(context.Background(), nil)

	s.admit(nil) // timestampless events do not dirty the cursor
	s.save(context.Background())

	assert.Zero(t, cache.sets)
}

func TestCursorStore_SavePersistsMaxDispatched(t *testing.T) {
	cache := newSpyCache()
	s := newCursorStore(cache, "k", quietLogger())
	s.load(context.Background(), nil)

	s.admit(i64(5))
	s.admit(i64(9))
	s.admit(i64(7)) // filtered, must not regress the cursor
	s.save(context.Background())

	assert.Equal(t, 1, cache.sets)
	assert.Equal(t, "9", cache.lastSet)
}

func TestCursorStore_SaveFailureIsSwallowed(t *testing.T) {
	cache := newSpyCache()
	cache.setErr = errors.New("backend down")
	s := newCursorStore(cache, "k", quietLogger())
	s.load(context.Background(), nil)
	s.admit(i64(5))

	// Must not panic or propagate.
	s.save(context.Background())
	assert.Equal(t, 1, cache.sets)
}
