package memory

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// SessionHandle is what the repository needs to know about a live session.
type SessionHandle interface {
	ID() string
	Cancel()
}

// SessionRepository keeps live sessions in memory. A session that expires
// or is deleted is cancelled, so its council stops at the next suspension point.
type SessionRepository[H SessionHandle] struct {
	cache *cache.Cache
}

func NewSessionRepository[H SessionHandle](ttl time.Duration) *SessionRepository[H] {
	if ttl <= 0 {
		ttl = time.Hour
	}
	c := cache.New(ttl, 10*time.Minute)
	c.OnEvicted(func(_ string, v interface{}) {
		if h, ok := v.(H); ok {
			h.Cancel()
		}
	})
	return &SessionRepository[H]{cache: c}
}

func (r *SessionRepository[H]) Save(h H) {
	r.cache.Set(h.ID(), h, cache.DefaultExpiration)
}

// Get returns the session and refreshes its expiry.
func (r *SessionRepository[H]) Get(id string) (H, bool) {
	var zero H
	x, found := r.cache.Get(id)
	if !found {
		return zero, false
	}
	h, ok := x.(H)
	if !ok {
		return zero, false
	}
	r.cache.Set(id, h, cache.DefaultExpiration)
	return h, true
}

func (r *SessionRepository[H]) Delete(id string) {
	r.cache.Delete(id)
}

func (r *SessionRepository[H]) Count() int {
	return r.cache.ItemCount()
}

// CancelAll cancels and forgets every session. Used on shutdown.
func (r *SessionRepository[H]) CancelAll() {
	for id := range r.cache.Items() {
		r.cache.Delete(id)
	}
}
