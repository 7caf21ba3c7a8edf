// ABOUTME: Thread-safe TTL cache for rejecting repeated turn submissions.
// ABOUTME: Keys are idempotency keys or derived from chat ID and message content.

package dedupe

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// submission is one remembered send. It is the Value of its list element.
type submission struct {
	key    string
	sentAt time.Time
}

// Cache remembers recent submission keys for a fixed window, holding at most
// maxSize of them. The recency list has the least recently sent key at the
// front, which is the one evicted when the cache is full.
type Cache struct {
	mu      sync.RWMutex
	byKey   map[string]*list.Element
	recency *list.List
	window  time.Duration
	maxSize int
	now     func() time.Time

	stop    chan struct{}
	stopped bool
}

// New creates a cache that treats a key as a duplicate for ttl after it was
// last marked. A background goroutine sweeps expired keys until Close.
func New(ttl time.Duration, maxSize int) *Cache {
	return newCache(ttl, maxSize, time.Now)
}

func newCache(ttl time.Duration, maxSize int, now func() time.Time) *Cache {
	c := &Cache{
		byKey:   make(map[string]*list.Element),
		recency: list.New(),
		window:  ttl,
		maxSize: max(maxSize, 1),
		now:     now,
		stop:    make(chan struct{}),
	}
	go c.sweepLoop(min(max(ttl, time.Second), time.Minute))
	return c
}

// SubmissionKey derives a key for a message sent without an explicit
// idempotency key.
func SubmissionKey(chatID, content string) string {
	sum := sha256.Sum256([]byte(chatID + "\x00" + content))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) expired(s *submission, now time.Time) bool {
	return now.Sub(s.sentAt) >= c.window
}

// Check reports whether key was marked within the window.
func (c *Cache) Check(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	elem, ok := c.byKey[key]
	return ok && !c.expired(elem.Value.(*submission), c.now())
}

// CheckAndMark reports whether key is a duplicate and, when it is not, marks
// it in the same critical section. Two racing senders of the same key see
// exactly one false.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if elem, ok := c.byKey[key]; ok && !c.expired(elem.Value.(*submission), now) {
		return true
	}
	c.markLocked(key, now)
	return false
}

// Mark records key as sent now, restarting its window.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key, c.now())
}

// Forget removes a key so the same submission can be sent again, e.g. after
// the turn it started failed before reaching the server.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.byKey[key]; ok {
		c.removeLocked(elem)
	}
}

// Len reports the number of keys currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byKey)
}

func (c *Cache) markLocked(key string, now time.Time) {
	if elem, ok := c.byKey[key]; ok {
		elem.Value.(*submission).sentAt = now
		c.recency.MoveToBack(elem)
		return
	}

	for len(c.byKey) >= c.maxSize {
		c.removeLocked(c.recency.Front())
	}
	c.byKey[key] = c.recency.PushBack(&submission{key: key, sentAt: now})
}

func (c *Cache) removeLocked(elem *list.Element) {
	s := c.recency.Remove(elem).(*submission)
	delete(c.byKey, s.key)
}

func (c *Cache) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.stop:
			return
		}
	}
}

// runCleanup drops expired keys. Marking moves a key to the back, so the
// list is ordered by sentAt and the sweep stops at the first live key.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for elem := c.recency.Front(); elem != nil; elem = c.recency.Front() {
		if !c.expired(elem.Value.(*submission), now) {
			return
		}
		c.removeLocked(elem)
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.stopped {
		close(c.stop)
		c.stopped = true
	}
}
