package assistant

import (
	"strings"

	lru "github.com/hashicorp/golang-lru"
)

// Cache stores answers keyed by normalized prompt
type Cache interface {
	Get(prompt string) (string, bool)
	Add(prompt, answer string)
}

// LRUCache is a bounded Cache evicting the least recently used answer
type LRUCache struct {
	c *lru.Cache
}

func NewLRUCache(size int) (*LRUCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{c: c}, nil
}

func (l *LRUCache) Get(prompt string) (string, bool) {
	v, ok := l.c.Get(cacheKey(prompt))
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (l *LRUCache) Add(prompt, answer string) {
	l.c.Add(cacheKey(prompt), answer)
}

func (l *LRUCache) Len() int {
	return l.c.Len()
}

func cacheKey(prompt string) string {
	return strings.Join(strings.Fields(strings.ToLower(prompt)), " ")
}
