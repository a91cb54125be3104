package querysvc

import (
	"container/list"
	"encoding/binary"
	"strconv"
	"sync"
	"time"

	"github.com/quench-dns/quench/internal/dnswire"
)

// Fingerprint identifies a question for caching: the normalized qname plus
// QTYPE and QCLASS.
type Fingerprint string

// FingerprintOf derives the cache key for a decoded query.
func FingerprintOf(q *dnswire.Query) Fingerprint {
	return Fingerprint(q.Name() + "|" + strconv.Itoa(int(q.Type)) + "|" + strconv.Itoa(int(q.Class)))
}

// Cache maps question fingerprints to encoded reply bytes. The dataplane
// consults it on every lookup; nothing populates it yet. Negative-cache
// and forwarded-answer caching plug in through this interface later.
type Cache interface {
	// Get returns the cached reply and whether it was present. The caller
	// must patch the transaction ID before sending the bytes.
	Get(fp Fingerprint) ([]byte, bool)
	// Put stores a reply for the given lifetime.
	Put(fp Fingerprint, reply []byte, ttl time.Duration)
}

// PatchID overwrites the transaction ID of an encoded reply, returning a
// copy. Cached replies are stored ID-agnostic and re-stamped per client.
func PatchID(reply []byte, id uint16) []byte {
	if len(reply) < 2 {
		return reply
	}
	out := make([]byte, len(reply))
	copy(out, reply)
	binary.BigEndian.PutUint16(out[0:2], id)
	return out
}

// replyCache is a TTL-aware LRU cache. Entries expire individually; when
// capacity is reached the least recently used entry is evicted.
type replyCache struct {
	mu         sync.Mutex
	maxEntries int
	lru        *list.List // front = oldest
	data       map[Fingerprint]*cacheEntry
}

type cacheEntry struct {
	fp        Fingerprint
	reply     []byte
	expiresAt time.Time
	elem      *list.Element
}

// NewCache returns the default in-memory Cache implementation.
func NewCache(maxEntries int) Cache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &replyCache{
		maxEntries: maxEntries,
		lru:        list.New(),
		data:       make(map[Fingerprint]*cacheEntry),
	}
}

func (c *replyCache) Get(fp Fingerprint) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[fp]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.removeLocked(e)
		return nil, false
	}
	c.lru.MoveToBack(e.elem)
	return e.reply, true
}

func (c *replyCache) Put(fp Fingerprint, reply []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.data[fp]; ok {
		e.reply = reply
		e.expiresAt = time.Now().Add(ttl)
		c.lru.MoveToBack(e.elem)
		return
	}
	for len(c.data) >= c.maxEntries {
		oldest := c.lru.Front()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*cacheEntry))
	}
	e := &cacheEntry{fp: fp, reply: reply, expiresAt: time.Now().Add(ttl)}
	e.elem = c.lru.PushBack(e)
	c.data[fp] = e
}

func (c *replyCache) removeLocked(e *cacheEntry) {
	c.lru.Remove(e.elem)
	delete(c.data, e.fp)
}
