package stream

import (
	"regexp"
	"strings"
	"sync"
)

// Wildcard is the universal pattern: it matches every event type and selects
// full-envelope delivery.
const Wildcard = "*"

// Handler consumes one delivered payload. Contents-only matches receive the
// event's business payload; wildcard matches receive the full envelope view.
type Handler func(payload any)

// Subscription identifies one registered occurrence of a handler. The same
// handler registered twice yields two distinct subscriptions and is invoked
// twice per matching event.
type Subscription struct {
	pattern string
}

// Pattern returns the pattern this subscription was registered under.
func (s *Subscription) Pattern() string { return s.pattern }

// registration is one (token, handler) pair inside an entry.
type registration struct {
	sub *Subscription
	fn  Handler
}

// entry holds the ordered handlers for one pattern. glob is precompiled for
// patterns containing '*' (other than the universal wildcard).
type entry struct {
	handlers []registration
	glob     *regexp.Regexp
}

// match is one resolved (handler, delivery mode) pair.
type match struct {
	fn   Handler
	full bool
}

// Registry stores interest declarations and resolves which ones an event
// type satisfies. Registration order is invocation order within a pattern;
// rule precedence orders handlers across patterns.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string // insertion order, for deterministic glob iteration
}

// NewRegistry creates an empty subscription registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// On appends a handler to the entry for pattern, creating the entry on first
// registration. The returned subscription is the token for a later Off.
func (r *Registry) On(pattern string, fn Handler) *Subscription {
	sub := &Subscription{pattern: pattern}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[pattern]
	if !ok {
		e = &entry{}
		if pattern != Wildcard && strings.Contains(pattern, "*") {
			e.glob = compileGlob(pattern)
		}
		r.entries[pattern] = e
		r.order = append(r.order, pattern)
	}
	e.handlers = append(e.handlers, registration{sub: sub, fn: fn})
	return sub
}

// Off with a subscription removes only that occurrence and deletes the entry
// once its handler sequence is empty. Off with a nil subscription deletes the
// whole entry regardless of its contents. Unknown patterns and tokens are
// no-ops.
func (r *Registry) Off(pattern string, sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[pattern]
	if !ok {
		return
	}
	if sub == nil {
		r.drop(pattern)
		return
	}
	for i, reg := range e.handlers {
		if reg.sub == sub {
			e.handlers = append(e.handlers[:i], e.handlers[i+1:]...)
			break
		}
	}
	if len(e.handlers) == 0 {
		r.drop(pattern)
	}
}

// drop removes a pattern's entry and its slot in the insertion order.
// Caller holds r.mu.
func (r *Registry) drop(pattern string) {
	delete(r.entries, pattern)
	for i, p := range r.order {
		if p == pattern {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Len reports the number of live pattern entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// matchAll resolves every entry satisfied by eventType, in fixed precedence:
//
//  1. exact equality with the full type (contents-only)
//  2. equality with the type's trailing short name (contents-only)
//  3. the universal wildcard (full-envelope)
//  4. every other glob pattern, anchored, '*' = any run (contents-only)
//
// A pattern matching through more than one rule fires once per rule;
// duplicates are not suppressed.
func (r *Registry) matchAll(eventType string) []match {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []match

	if e, ok := r.entries[eventType]; ok {
		for _, reg := range e.handlers {
			out = append(out, match{fn: reg.fn})
		}
	}

	// Rule 2 is a plain lookup of the trailing short name. For unqualified
	// types the short name equals the full type, so the same entry fires a
	// second time; that degenerate double-fire is intended.
	if e, ok := r.entries[ShortName(eventType)]; ok {
		for _, reg := range e.handlers {
			out = append(out, match{fn: reg.fn})
		}
	}

	if e, ok := r.entries[Wildcard]; ok {
		for _, reg := range e.handlers {
			out = append(out, match{fn: reg.fn, full: true})
		}
	}

	for _, p := range r.order {
		e := r.entries[p]
		if e == nil || e.glob == nil {
			continue
		}
		if e.glob.MatchString(eventType) {
			for _, reg := range e.handlers {
				out = append(out, match{fn: reg.fn})
			}
		}
	}

	return out
}

// Matches reports whether pattern satisfies eventType: either the universal
// wildcard, or a full anchored match with each '*' standing for any run of
// characters. Matching is case-sensitive.
func Matches(eventType, pattern string) bool {
	if pattern == Wildcard {
		return true
	}
	return compileGlob(pattern).MatchString(eventType)
}

// compileGlob converts a subscription pattern to an anchored regexp with '*'
// mapped to ".*". All other characters match literally.
func compileGlob(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
}
