package stream

import (
	"context"
	"log"
	"strconv"
	"sync"
)

// Cache is the injected persistence capability for the resume cursor. Both
// operations may touch I/O; implementations decide durability. Absence of an
// injected cache means an in-process substitute with no cross-restart
// durability.
type Cache interface {
	// Get returns the stored value for key and whether one exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key.
	Set(ctx context.Context, key, value string) error
}

// cursorStore owns the session's resume cursor: the highest TimestampMs
// dispatched so far, keyed by a fixed cache key per client flavor. Read at
// connect time, written at disconnect time.
type cursorStore struct {
	cache  Cache
	key    string
	logger *log.Logger

	mu      sync.Mutex
	current *int64
	dirty   bool // at least one timestamped event was dispatched
}

func newCursorStore(cache Cache, key string, logger *log.Logger) *cursorStore {
	return &cursorStore{cache: cache, key: key, logger: logger}
}

// load seeds the session cursor. An explicit override always wins and
// suppresses the cache read entirely. Cache read failures and malformed
// values are logged and treated as a miss; load never fails.
func (s *cursorStore) load(ctx context.Context, override *int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = false

	if override != nil {
		v := *override
		s.current = &v
		return
	}

	raw, ok, err := s.cache.Get(ctx, s.key)
	if err != nil {
		s.logger.Printf("cursor read for %q failed: %v", s.key, err)
		s.current = nil
		return
	}
	if !ok {
		s.current = nil
		return
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.logger.Printf("cursor value %q for %q is not an integer: %v", raw, s.key, err)
		s.current = nil
		return
	}
	s.current = &ts
}

// admit applies the resume filter: an event passes iff it carries no
// timestamp or its timestamp is strictly greater than the cursor. Equal
// timestamps are treated as already seen. Passing timestamped events advance
// the cursor.
func (s *cursorStore) admit(ts *int64) bool {
	if ts == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && *ts <= *s.current {
		return false
	}
	v := *ts
	s.current = &v
	s.dirty = true
	return true
}

// value returns the current cursor, nil when unset.
func (s *cursorStore) value() *int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	v := *s.current
	return &v
}

// save persists the cursor. A session in which no timestamped event was
// dispatched leaves the cache untouched. Write failures are logged, never
// propagated.
func (s *cursorStore) save(ctx context.Context) {
	s.mu.Lock()
	dirty := s.dirty
	var cur int64
	if s.current != nil {
		cur = *s.current
	}
	s.mu.Unlock()

	if !dirty {
		return
	}
	if err := s.cache.Set(ctx, s.key, strconv.FormatInt(cur, 10)); err != nil {
		s.logger.Printf("cursor write for %q failed: %v", s.key, err)
	}
}
