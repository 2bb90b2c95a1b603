package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// compressMinBytes is the smallest uncompressed payload worth gzipping.
const compressMinBytes = 1024

// compressMaxRatio rejects compression that saves less than 20%.
const compressMaxRatio = 0.8

// LoaderFunc computes the value for a cache key on miss or refresh.
type LoaderFunc func(ctx context.Context) (interface{}, error)

// Config holds the cache store tuning knobs.
type Config struct {
	DefaultTTL       time.Duration
	MaxSizeBytes     int64
	RefreshThreshold float64
	Compression      bool
	SweepInterval    time.Duration
}

// Store is a bounded in-memory TTL cache. All values are stored as JSON
// payloads so the HTTP layer can serve them without re-encoding.
type Store struct {
	cfg        Config
	entries    map[string]*Entry
	totalSize  int64
	refreshing map[string]bool
	persistent PersistentCache

	hits       int64
	misses     int64
	evictions  int64
	refreshes  int64
	getCalls   int64
	getElapsed time.Duration

	mu      sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
	logger  zerolog.Logger
}

// NewStore creates a cache store. The persistent mirror is optional; pass nil
// to keep the cache memory-only.
func NewStore(cfg Config, persistent PersistentCache) *Store {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &Store{
		cfg:        cfg,
		entries:    make(map[string]*Entry),
		refreshing: make(map[string]bool),
		persistent: persistent,
		stop:       make(chan struct{}),
		logger:     log.With().Str("component", "cache").Logger(),
	}
}

// Start launches the background expiry sweeper.
func (s *Store) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	s.wg.Add(1)
	go s.sweepLoop()

	s.logger.Info().
		Dur("sweep_interval", s.cfg.SweepInterval).
		Int64("max_size_bytes", s.cfg.MaxSizeBytes).
		Msg("Cache store started")
}

// Stop halts the sweeper and waits for in-flight refreshes to finish.
func (s *Store) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()
	s.logger.Info().Msg("Cache store stopped")
}

func (s *Store) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

// sweep removes expired entries and prunes the persistent mirror.
func (s *Store) sweep() {
	now := time.Now()

	s.mu.Lock()
	removed := 0
	for key, entry := range s.entries {
		if entry.expired(now) {
			s.removeLocked(key)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug().Int("removed", removed).Msg("Swept expired cache entries")
	}

	if s.persistent != nil {
		if _, err := s.persistent.DeleteExpired(context.Background()); err != nil {
			s.logger.Debug().Err(err).Msg("Persistent cache sweep failed")
		}
	}
}

// Get returns the cached value for key, invoking loader on miss or expiry.
// Loader errors propagate unchanged and nothing is cached for a failed load.
func (s *Store) Get(ctx context.Context, key string, loader LoaderFunc, opts ...Option) (json.RawMessage, error) {
	start := time.Now()
	o := s.buildOptions(opts)

	// Non-positive TTL disables caching for this call entirely.
	if o.ttl <= 0 {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal value for %s: %w", key, err)
		}
		return raw, nil
	}

	now := time.Now()

	s.mu.Lock()
	entry, ok := s.entries[key]
	if ok && !entry.expired(now) {
		entry.AccessCount++
		entry.LastAccessedAt = now
		s.hits++

		payload := entry.Payload
		compressed := entry.Compressed
		refresh := loader != nil && entry.needsRefresh(now, s.cfg.RefreshThreshold) && !s.refreshing[key]
		if refresh {
			s.refreshing[key] = true
		}
		s.recordGetLocked(start)
		s.mu.Unlock()

		if refresh {
			s.refreshAhead(key, loader, opts)
		}
		return s.decode(key, payload, compressed)
	}
	if ok {
		// Expired entries are dropped on access, not served stale.
		s.removeLocked(key)
	}
	s.misses++
	s.mu.Unlock()

	if loader == nil {
		s.observeGet(start)
		return nil, fmt.Errorf("cache miss for %s and no loader provided", key)
	}

	value, err := loader(ctx)
	if err != nil {
		s.observeGet(start)
		return nil, err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		s.observeGet(start)
		return nil, fmt.Errorf("failed to marshal value for %s: %w", key, err)
	}

	s.store(key, raw, o)
	s.observeGet(start)
	return raw, nil
}

// refreshAhead reloads a near-expiry key in the background. The stale entry
// stays in place if the loader fails.
func (s *Store) refreshAhead(key string, loader LoaderFunc, opts []Option) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.refreshing, key)
			s.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		value, err := loader(ctx)
		if err != nil {
			s.logger.Debug().Err(err).Str("key", key).Msg("Refresh-ahead load failed")
			return
		}

		if err := s.Set(key, value, opts...); err != nil {
			s.logger.Debug().Err(err).Str("key", key).Msg("Refresh-ahead store failed")
			return
		}

		s.mu.Lock()
		s.refreshes++
		s.mu.Unlock()
	}()
}

// Set stores a value under key, evicting LRU entries if the byte budget
// requires it. A non-positive TTL makes the call a no-op.
func (s *Store) Set(key string, value interface{}, opts ...Option) error {
	o := s.buildOptions(opts)
	if o.ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for %s: %w", key, err)
	}

	s.store(key, raw, o)
	return nil
}

// store inserts an already-serialized payload.
func (s *Store) store(key string, raw []byte, o entryOptions) {
	payload, compressed := s.maybeCompress(key, raw)
	now := time.Now()

	entry := &Entry{
		Key:            key,
		Payload:        payload,
		CreatedAt:      now,
		TTL:            o.ttl,
		AccessCount:    0,
		LastAccessedAt: now,
		SizeBytes:      int64(len(payload)),
		Compressed:     compressed,
		Tags:           o.tags,
	}

	s.mu.Lock()
	if old, ok := s.entries[key]; ok {
		s.totalSize -= old.SizeBytes
		delete(s.entries, key)
	}
	s.makeSpaceLocked(entry.SizeBytes)
	s.entries[key] = entry
	s.totalSize += entry.SizeBytes
	s.mu.Unlock()

	if s.persistent != nil {
		go func() {
			if err := s.persistent.Store(context.Background(), entry); err != nil {
				s.logger.Debug().Err(err).Str("key", key).Msg("Persistent cache store failed")
			}
		}()
	}
}

// makeSpaceLocked evicts least-recently-accessed entries until the incoming
// payload fits. The budget is a soft ceiling: when nothing is evictable the
// entry is admitted anyway with a warning.
func (s *Store) makeSpaceLocked(incoming int64) {
	if s.cfg.MaxSizeBytes <= 0 {
		return
	}

	for s.totalSize+incoming > s.cfg.MaxSizeBytes {
		victim := ""
		var oldest time.Time
		for key, entry := range s.entries {
			if victim == "" || entry.LastAccessedAt.Before(oldest) {
				victim = key
				oldest = entry.LastAccessedAt
			}
		}
		if victim == "" {
			s.logger.Warn().
				Int64("incoming_bytes", incoming).
				Int64("max_size_bytes", s.cfg.MaxSizeBytes).
				Msg("Cache entry exceeds size budget, storing anyway")
			return
		}

		s.removeLocked(victim)
		s.evictions++
	}
}

// removeLocked drops an entry from the map and schedules mirror cleanup.
func (s *Store) removeLocked(key string) {
	entry, ok := s.entries[key]
	if !ok {
		return
	}
	s.totalSize -= entry.SizeBytes
	delete(s.entries, key)

	if s.persistent != nil {
		go func() {
			if err := s.persistent.Delete(context.Background(), key); err != nil {
				s.logger.Debug().Err(err).Str("key", key).Msg("Persistent cache delete failed")
			}
		}()
	}
}

// Delete removes a single key. Returns the number of entries removed (0 or 1).
func (s *Store) Delete(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return 0
	}
	s.removeLocked(key)
	return 1
}

// InvalidatePattern removes all entries whose key matches the regular
// expression and returns how many were removed.
func (s *Store) InvalidatePattern(pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("invalid invalidation pattern %q: %w", pattern, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.entries {
		if re.MatchString(key) {
			s.removeLocked(key)
			removed++
		}
	}
	return removed, nil
}

// InvalidateByTag removes all entries carrying the tag and returns the count.
func (s *Store) InvalidateByTag(tag string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if entry.hasTag(tag) {
			s.removeLocked(key)
			removed++
		}
	}
	return removed
}

// WarmStrategy names one key to pre-populate at startup.
type WarmStrategy struct {
	Key    string
	TTL    time.Duration
	Tags   []string
	Loader LoaderFunc
}

// WarmCache pre-populates the cache from the given strategies. Individual
// failures are logged and skipped; an error is returned only when every
// strategy failed.
func (s *Store) WarmCache(ctx context.Context, strategies []WarmStrategy) error {
	if len(strategies) == 0 {
		return nil
	}

	failed := 0
	for _, strategy := range strategies {
		value, err := strategy.Loader(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", strategy.Key).Msg("Cache warm load failed")
			failed++
			continue
		}

		opts := []Option{WithTags(strategy.Tags...)}
		if strategy.TTL > 0 {
			opts = append(opts, WithTTL(strategy.TTL))
		}
		if err := s.Set(strategy.Key, value, opts...); err != nil {
			s.logger.Warn().Err(err).Str("key", strategy.Key).Msg("Cache warm store failed")
			failed++
		}
	}

	if failed == len(strategies) {
		return fmt.Errorf("cache warming failed for all %d strategies", failed)
	}

	s.logger.Info().
		Int("warmed", len(strategies)-failed).
		Int("failed", failed).
		Msg("Cache warmed")
	return nil
}

// Stats is a point-in-time snapshot of cache effectiveness counters.
type Stats struct {
	TotalEntries      int     `json:"total_entries"`
	TotalSizeBytes    int64   `json:"total_size_bytes"`
	Hits              int64   `json:"hits"`
	Misses            int64   `json:"misses"`
	HitRate           float64 `json:"hit_rate"`
	Evictions         int64   `json:"evictions"`
	Refreshes         int64   `json:"refreshes"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
}

// Stats returns the current cache counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		TotalEntries:   len(s.entries),
		TotalSizeBytes: s.totalSize,
		Hits:           s.hits,
		Misses:         s.misses,
		Evictions:      s.evictions,
		Refreshes:      s.refreshes,
	}
	if total := s.hits + s.misses; total > 0 {
		stats.HitRate = float64(s.hits) / float64(total)
	}
	if s.getCalls > 0 {
		stats.AvgResponseTimeMs = float64(s.getElapsed.Milliseconds()) / float64(s.getCalls)
	}
	return stats
}

func (s *Store) buildOptions(opts []Option) entryOptions {
	o := entryOptions{ttl: s.cfg.DefaultTTL}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// maybeCompress gzips payloads that are large enough and compress well
// enough. Failures fall back to the uncompressed payload.
func (s *Store) maybeCompress(key string, raw []byte) ([]byte, bool) {
	if !s.cfg.Compression || len(raw) < compressMinBytes {
		return raw, false
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		s.logger.Debug().Err(err).Str("key", key).Msg("Compression failed, storing uncompressed")
		return raw, false
	}
	if err := gz.Close(); err != nil {
		s.logger.Debug().Err(err).Str("key", key).Msg("Compression failed, storing uncompressed")
		return raw, false
	}

	if float64(buf.Len()) > float64(len(raw))*compressMaxRatio {
		return raw, false
	}
	return buf.Bytes(), true
}

func (s *Store) decode(key string, payload []byte, compressed bool) (json.RawMessage, error) {
	if !compressed {
		return json.RawMessage(payload), nil
	}

	gz, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress cache entry %s: %w", key, err)
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress cache entry %s: %w", key, err)
	}
	return json.RawMessage(raw), nil
}

func (s *Store) recordGetLocked(start time.Time) {
	s.getCalls++
	s.getElapsed += time.Since(start)
}

func (s *Store) observeGet(start time.Time) {
	s.mu.Lock()
	s.recordGetLocked(start)
	s.mu.Unlock()
}
