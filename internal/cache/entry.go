// Package cache provides the bounded in-memory TTL cache that fronts the
// analytics read path: JSON payloads with optional gzip compression, LRU
// eviction against a byte budget, refresh-ahead reloading, and optional
// persistent mirrors (sqlite, redis) for warm restarts.
package cache

import "time"

// Entry is a single cached value. Payload holds the stored representation,
// which is gzip-compressed JSON when Compressed is set.
type Entry struct {
	Key            string        `json:"key" msgpack:"key"`
	Payload        []byte        `json:"payload" msgpack:"payload"`
	CreatedAt      time.Time     `json:"created_at" msgpack:"created_at"`
	TTL            time.Duration `json:"ttl" msgpack:"ttl"`
	AccessCount    int64         `json:"access_count" msgpack:"access_count"`
	LastAccessedAt time.Time     `json:"last_accessed_at" msgpack:"last_accessed_at"`
	SizeBytes      int64         `json:"size_bytes" msgpack:"size_bytes"`
	Compressed     bool          `json:"compressed" msgpack:"compressed"`
	Tags           []string      `json:"tags,omitempty" msgpack:"tags"`
}

// ExpiresAt returns the absolute expiry instant of the entry.
func (e *Entry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

func (e *Entry) expired(now time.Time) bool {
	return now.After(e.ExpiresAt())
}

// needsRefresh reports whether the entry has entered the refresh-ahead window,
// i.e. its age exceeds ttl*(1-threshold).
func (e *Entry) needsRefresh(now time.Time, threshold float64) bool {
	if threshold <= 0 {
		return false
	}
	return now.Sub(e.CreatedAt) > time.Duration(float64(e.TTL)*(1-threshold))
}

func (e *Entry) hasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

type entryOptions struct {
	ttl  time.Duration
	tags []string
}

// Option customizes a single Get or Set call.
type Option func(*entryOptions)

// WithTTL overrides the store's default TTL for this call. A TTL of zero or
// below disables caching for the call entirely.
func WithTTL(ttl time.Duration) Option {
	return func(o *entryOptions) {
		o.ttl = ttl
	}
}

// WithTags attaches invalidation tags to the entry.
func WithTags(tags ...string) Option {
	return func(o *entryOptions) {
		o.tags = tags
	}
}
