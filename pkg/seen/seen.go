package seen

import (
	"container/list"
	"sync"
	"time"

	"github.com/ryandielhenn/zephyrdht/pkg/krpc"
)

type entry struct {
	key      string
	node     krpc.Node
	heardAt  time.Time
	expireAt time.Time
}

// Cache remembers the nodes we recently heard from, keyed by their compact
// encoding, with per-entry TTL and LRU eviction once capacity is reached.
// It is observational only: nothing here ranks or buckets nodes.
type Cache struct {
	mu   sync.Mutex
	data map[string]*list.Element
	ll   *list.List
	cap  int
	now  func() time.Time
}

// Entry is a snapshot of one cached node.
type Entry struct {
	Node    krpc.Node
	HeardAt time.Time
}

func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		data: make(map[string]*list.Element),
		ll:   list.New(),
		cap:  capacity,
		now:  time.Now,
	}
}

// Observe records n as just heard. A ttl of 0 never expires. Nodes whose
// address cannot be packed (IPv6) are ignored and reported as false.
func (c *Cache) Observe(n krpc.Node, ttl time.Duration) bool {
	b, err := krpc.EncodeNode(n)
	if err != nil {
		return false
	}
	key := string(b)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}

	if el, ok := c.data[key]; ok {
		e := el.Value.(*entry)
		e.heardAt = now
		e.expireAt = exp
		c.ll.MoveToFront(el)
		return true
	}
	el := c.ll.PushFront(&entry{key: key, node: n, heardAt: now, expireAt: exp})
	c.data[key] = el
	c.evictIfNeeded()
	return true
}

// Get returns the most recently heard live entry for id.
func (c *Cache) Get(id krpc.NodeID) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for el := c.ll.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)
		if c.expired(e, now) {
			c.removeElement(el)
		} else if e.node.ID.Equal(id) {
			return Entry{Node: e.node, HeardAt: e.heardAt}, true
		}
		el = next
	}
	return Entry{}, false
}

// All returns live entries, most recently heard first.
func (c *Cache) All() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := make([]Entry, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)
		if c.expired(e, now) {
			c.removeElement(el)
		} else {
			out = append(out, Entry{Node: e.node, HeardAt: e.heardAt})
		}
		el = next
	}
	return out
}

// Forget drops n and reports whether it was cached.
func (c *Cache) Forget(n krpc.Node) bool {
	b, err := krpc.EncodeNode(n)
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.data[string(b)]
	if ok {
		c.removeElement(el)
	}
	return ok
}

// Len counts entries including ones that expired but were not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

func (c *Cache) expired(e *entry, now time.Time) bool {
	return !e.expireAt.IsZero() && now.After(e.expireAt)
}

func (c *Cache) evictIfNeeded() {
	for len(c.data) > c.cap && c.ll.Back() != nil {
		c.removeElement(c.ll.Back())
	}
}

func (c *Cache) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	delete(c.data, e.key)
	c.ll.Remove(el)
}
