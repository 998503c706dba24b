package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/a3tai/mcp-receipt-reader/internal/pdf"
)

// DefaultCacheSize is the number of parsed first pages kept in memory.
const DefaultCacheSize = 32

// pageEntry is the parsed form of one uploaded PDF.
type pageEntry struct {
	page    *pdf.PageText
	preview *pdf.PreviewResult
}

// pageCache is a thread-safe LRU of parsed first pages keyed by the SHA-256
// of the upload bytes. Re-uploading the same file skips PDF parsing and
// preview rendering; extraction always runs again.
type pageCache struct {
	mutex    sync.Mutex
	capacity int
	items    map[string]*cacheNode
	head     *cacheNode // most recently used
	tail     *cacheNode // least recently used
	hits     int64
	misses   int64
}

type cacheNode struct {
	key   string
	value pageEntry
	prev  *cacheNode
	next  *cacheNode
}

// CacheStats describes page cache usage.
type CacheStats struct {
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	HitRate  float64 `json:"hitRatePercent"`
	Size     int     `json:"size"`
	Capacity int     `json:"capacity"`
}

func newPageCache(capacity int) *pageCache {
	c := &pageCache{
		capacity: capacity,
		items:    make(map[string]*cacheNode),
		head:     &cacheNode{},
		tail:     &cacheNode{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

func contentKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (c *pageCache) get(key string) (pageEntry, bool) {
	if c == nil {
		return pageEntry{}, false
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	node, ok := c.items[key]
	if !ok {
		c.misses++
		return pageEntry{}, false
	}
	c.moveToFront(node)
	c.hits++
	return node.value, true
}

func (c *pageCache) put(key string, value pageEntry) {
	if c == nil {
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if node, ok := c.items[key]; ok {
		node.value = value
		c.moveToFront(node)
		return
	}

	node := &cacheNode{key: key, value: value}
	c.addToFront(node)
	c.items[key] = node

	if len(c.items) > c.capacity {
		lru := c.tail.prev
		c.removeNode(lru)
		delete(c.items, lru.key)
	}
}

func (c *pageCache) stats() CacheStats {
	if c == nil {
		return CacheStats{}
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var rate float64
	if total := c.hits + c.misses; total > 0 {
		rate = float64(c.hits) / float64(total) * 100
	}
	return CacheStats{
		Hits:     c.hits,
		Misses:   c.misses,
		HitRate:  rate,
		Size:     len(c.items),
		Capacity: c.capacity,
	}
}

func (c *pageCache) moveToFront(node *cacheNode) {
	c.removeNode(node)
	c.addToFront(node)
}

func (c *pageCache) addToFront(node *cacheNode) {
	node.prev = c.head
	node.next = c.head.next
	c.head.next.prev = node
	c.head.next = node
}

func (c *pageCache) removeNode(node *cacheNode) {
	node.prev.next = node.next
	node.next.prev = node.prev
}
