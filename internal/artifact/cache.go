/*
Copyright 2026 The FlakeGuard Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package artifact

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// urlCacheEntry is a cached signed download URL plus its locally-enforced
// expiry, set well under the upstream-advertised lifetime (spec.md §4.F:
// e.g. a 50s TTL against a ~60s upstream signed URL).
type urlCacheEntry struct {
	url       string
	expiresAt time.Time
}

// urlCache caches signed download URLs keyed by artifact identity with a
// TTL, per spec.md §4.F.
type urlCache struct {
	cache *lru.Cache[string, urlCacheEntry]
	ttl   time.Duration
	now   func() time.Time
}

func newURLCache(size int, ttl time.Duration) *urlCache {
	if size <= 0 {
		size = 256
	}
	c, _ := lru.New[string, urlCacheEntry](size)
	return &urlCache{cache: c, ttl: ttl, now: time.Now}
}

// get returns a cached URL if present and not past its TTL.
func (c *urlCache) get(key string) (string, bool) {
	entry, ok := c.cache.Get(key)
	if !ok {
		return "", false
	}
	if c.now().After(entry.expiresAt) {
		c.cache.Remove(key)
		return "", false
	}
	return entry.url, true
}

func (c *urlCache) set(key, url string) {
	c.cache.Add(key, urlCacheEntry{url: url, expiresAt: c.now().Add(c.ttl)})
}

func (c *urlCache) invalidate(key string) {
	c.cache.Remove(key)
}
