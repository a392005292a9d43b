package conversation

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const sessionCacheTTL = 5 * time.Minute

type cachedSession struct {
	session   Session
	expiresAt time.Time
}

// CachedStore wraps a Store with a process-local session cache plus
// in-flight request coalescing, so a burst of messages from one user costs
// a single lookup. Writes through UpdateSession invalidate the entry; the
// rest of the Store surface passes through.
type CachedStore struct {
	Store

	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu       sync.RWMutex
	sessions map[string]cachedSession
	byID     map[string]string
}

func NewCachedStore(store Store) *CachedStore {
	if store == nil {
		panic("conversation: store cannot be nil")
	}
	return &CachedStore{
		Store:    store,
		ttl:      sessionCacheTTL,
		now:      time.Now,
		sessions: make(map[string]cachedSession),
		byID:     make(map[string]string),
	}
}

func sessionCacheKey(userID, clinicID, channel string) string {
	return strings.ToLower(userID) + "|" + clinicID + "|" + channel
}

func (c *CachedStore) GetOrCreateSession(ctx context.Context, userID, clinicID, channel string) (*Session, bool, error) {
	if channel == "" {
		channel = ChannelWhatsApp
	}
	key := sessionCacheKey(userID, clinicID, channel)

	c.mu.RLock()
	entry, ok := c.sessions[key]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expiresAt) {
		session := entry.session
		return &session, false, nil
	}

	type result struct {
		session *Session
		created bool
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		session, created, err := c.Store.GetOrCreateSession(ctx, userID, clinicID, channel)
		if err != nil {
			return nil, err
		}
		c.put(key, session)
		return result{session: session, created: created}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(result)
	session := *res.session
	return &session, res.created, nil
}

func (c *CachedStore) UpdateSession(ctx context.Context, sessionID string, patch SessionPatch) error {
	err := c.Store.UpdateSession(ctx, sessionID, patch)
	c.invalidateID(sessionID)
	return err
}

func (c *CachedStore) IncrementUnread(ctx context.Context, sessionID string) (int, error) {
	count, err := c.Store.IncrementUnread(ctx, sessionID)
	c.invalidateID(sessionID)
	return count, err
}

// Invalidate drops the cache entry for a session id, if present.
func (c *CachedStore) Invalidate(sessionID string) {
	c.invalidateID(sessionID)
}

func (c *CachedStore) put(key string, session *Session) {
	if session == nil {
		return
	}
	c.mu.Lock()
	c.sessions[key] = cachedSession{session: *session, expiresAt: c.now().Add(c.ttl)}
	c.byID[session.ID] = key
	c.mu.Unlock()
}

func (c *CachedStore) invalidateID(sessionID string) {
	c.mu.Lock()
	if key, ok := c.byID[sessionID]; ok {
		delete(c.sessions, key)
		delete(c.byID, sessionID)
	}
	c.mu.Unlock()
}
