package safety

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"guardian/internal/logging"
)

// Cache policy constants. These thresholds are product policy, not technical
// necessities; change values only with product sign-off.
const (
	DefaultCacheMaxEntries    = 10000
	DefaultCacheTTL           = time.Hour
	DefaultCacheSweepInterval = 15 * time.Minute

	// DefaultAgeTolerance is the maximum difference, in years, between the
	// lookup age and the entry's stored age for a hit. Safety thresholds
	// are age-banded, not age-exact.
	DefaultAgeTolerance = 1

	// normalizedKeyLimit bounds the normalized text fed into the fingerprint.
	normalizedKeyLimit = 200

	// evictBatchFraction is the share of entries removed per eviction pass.
	evictBatchFraction = 0.10

	// contextKeyDepth is how many recent context messages participate in
	// the fingerprint.
	contextKeyDepth = 2
)

// cacheEntry owns one cached verdict plus the bookkeeping used for
// TTL expiry and LRU-biased eviction.
type cacheEntry struct {
	verdict      Verdict
	childAge     int
	storedAt     time.Time
	lastAccessed time.Time
	hitCount     int
}

// CacheStats is a point-in-time snapshot of cache counters.
type CacheStats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Size      int     `json:"size"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// ResultCache is a bounded, TTL-based cache of validation verdicts keyed by
// a fingerprint of the normalized message, child age, and recent context.
// Safe for concurrent use by multiple in-flight validations.
//
// Safety invariant: the cache never holds a severity-3 verdict. High-severity
// content must always be re-examined fresh, so Set is a no-op for severity>=3.
type ResultCache struct {
	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	maxEntries int
	ttl        time.Duration

	ageTolerance int

	hits      uint64
	misses    uint64
	evictions uint64

	sweepInterval time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}
	running       bool
}

// CacheOptions configures a ResultCache. Zero values fall back to defaults.
type CacheOptions struct {
	MaxEntries    int
	TTL           time.Duration
	SweepInterval time.Duration
	AgeTolerance  int
}

// NewResultCache creates a ResultCache with the given options.
func NewResultCache(opts CacheOptions) *ResultCache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultCacheMaxEntries
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultCacheTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultCacheSweepInterval
	}
	if opts.AgeTolerance < 0 {
		opts.AgeTolerance = DefaultAgeTolerance
	}

	logging.CacheDebug("ResultCache created: maxEntries=%d ttl=%v sweep=%v ageTolerance=%d",
		opts.MaxEntries, opts.TTL, opts.SweepInterval, opts.AgeTolerance)

	return &ResultCache{
		entries:       make(map[string]*cacheEntry),
		maxEntries:    opts.MaxEntries,
		ttl:           opts.TTL,
		sweepInterval: opts.SweepInterval,
		ageTolerance:  opts.AgeTolerance,
	}
}

// Fingerprint derives the cache key for a message in context.
//
// The message is normalized (lowercased, punctuation stripped, whitespace
// collapsed, truncated) purely to raise the hit rate on near-duplicate
// phrasing; normalization never alters the text fed to the classifier or
// rule engine. The last two context messages participate in the key. The
// child's age is carried on the entry and checked with the age tolerance at
// lookup rather than hashed, so lookups within the tolerance can still hit.
func Fingerprint(message string, recentMessages []string) string {
	var b strings.Builder
	b.WriteString(normalizeForKey(message))
	for i := 0; i < contextKeyDepth && i < len(recentMessages); i++ {
		b.WriteByte('|')
		b.WriteString(normalizeForKey(recentMessages[i]))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

// normalizeForKey lowercases, strips punctuation, collapses whitespace, and
// truncates to normalizedKeyLimit runes.
func normalizeForKey(s string) string {
	var b strings.Builder
	lastSpace := false
	count := 0
	for _, r := range strings.ToLower(s) {
		if count >= normalizedKeyLimit {
			break
		}
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
			count++
		case unicode.IsSpace(r):
			if !lastSpace && b.Len() > 0 {
				b.WriteByte(' ')
				lastSpace = true
				count++
			}
		default:
			// punctuation dropped
		}
	}
	return strings.TrimSpace(b.String())
}

// Get returns the cached verdict for a message, if present, fresh, and
// within the age tolerance.
func (c *ResultCache) Get(message string, age int, recentMessages []string) (Verdict, bool) {
	key := Fingerprint(message, recentMessages)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return Verdict{}, false
	}

	// TTL is enforced at lookup; the background sweep is only maintenance.
	if now.Sub(entry.storedAt) > c.ttl {
		delete(c.entries, key)
		c.misses++
		logging.CacheDebug("expired entry dropped on lookup: key=%s", key)
		return Verdict{}, false
	}

	if diff := entry.childAge - age; diff > c.ageTolerance || diff < -c.ageTolerance {
		c.misses++
		return Verdict{}, false
	}

	entry.lastAccessed = now
	entry.hitCount++
	c.hits++

	return entry.verdict, true
}

// Set stores a verdict, unless it is high severity.
// Storing a severity-3 verdict is a safety violation, not an optimization
// trade-off: such content must be re-validated on every occurrence.
func (c *ResultCache) Set(message string, age int, verdict Verdict, recentMessages []string) {
	if verdict.Severity >= SeverityEscalate {
		logging.CacheDebug("refusing to cache severity-%d verdict", verdict.Severity)
		return
	}

	key := Fingerprint(message, recentMessages)
	now := time.Now()

	// Cached verdicts replay without per-call annotations.
	verdict.CacheHit = false
	verdict.ProcessingTimeMs = 0

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &cacheEntry{
		verdict:      verdict,
		childAge:     age,
		storedAt:     now,
		lastAccessed: now,
	}

	if len(c.entries) > c.maxEntries {
		c.evictLocked()
	}
}

// evictLocked removes the coldest ~10% of entries in one pass, ordered by
// (lastAccessed ascending, hitCount ascending). Batch eviction amortizes the
// sort cost across many inserts. Caller must hold c.mu.
func (c *ResultCache) evictLocked() {
	type candidate struct {
		key   string
		entry *cacheEntry
	}

	candidates := make([]candidate, 0, len(c.entries))
	for k, e := range c.entries {
		candidates = append(candidates, candidate{key: k, entry: e})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].entry, candidates[j].entry
		if !a.lastAccessed.Equal(b.lastAccessed) {
			return a.lastAccessed.Before(b.lastAccessed)
		}
		return a.hitCount < b.hitCount
	})

	n := int(float64(len(candidates)) * evictBatchFraction)
	if n < 1 {
		n = 1
	}

	for i := 0; i < n; i++ {
		delete(c.entries, candidates[i].key)
	}
	c.evictions += uint64(n)

	logging.CacheDebug("evicted %d entries (size now %d)", n, len(c.entries))
}

// Cleanup removes all expired entries. Returns the number removed.
func (c *ResultCache) Cleanup() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.storedAt) > c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	if removed > 0 {
		logging.CacheDebug("sweep removed %d expired entries", removed)
	}
	return removed
}

// Clear removes every entry.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

// Stats returns a snapshot of cache counters.
func (c *ResultCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Size:      len(c.entries),
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// StartSweeper launches the periodic best-effort TTL sweep.
// Lookups already enforce TTL, so the sweep is not required for correctness.
func (c *ResultCache) StartSweeper() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	stopCh, doneCh := c.stopCh, c.doneCh
	c.mu.Unlock()

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Cleanup()
			case <-stopCh:
				return
			}
		}
	}()

	logging.CacheDebug("sweeper started: interval=%v", c.sweepInterval)
}

// StopSweeper stops the background sweep and waits for it to exit.
func (c *ResultCache) StopSweeper() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	stopCh, doneCh := c.stopCh, c.doneCh
	c.mu.Unlock()

	close(stopCh)
	<-doneCh
}
