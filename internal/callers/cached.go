package callers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cached fronts a Lookup's lightweight path with Redis. Unknown numbers are
// cached too (as an empty record) so repeat callers with no record stay fast.
// Enhanced lookups always go to the source.
type Cached struct {
	src    Lookup
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	log    *slog.Logger
}

func NewCached(src Lookup, rdb *redis.Client, ttl time.Duration, log *slog.Logger) *Cached {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cached{src: src, rdb: rdb, ttl: ttl, prefix: "dialer:caller:", log: log}
}

type cachedIdentity struct {
	Found    bool   `json:"found"`
	CallerID string `json:"caller_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

func (c *Cached) key(phone string) string { return c.prefix + NormalizePhone(phone) }

func (c *Cached) Lightweight(ctx context.Context, phone string) (Identity, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(phone)).Bytes()
	if err == nil {
		var ci cachedIdentity
		if jerr := json.Unmarshal(raw, &ci); jerr == nil {
			return Identity{CallerID: ci.CallerID, Name: ci.Name, Phone: ci.Phone}, ci.Found, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		// Cache trouble is not caller trouble; fall through to the source.
		c.log.Debug("caller cache read failed", slog.Any("err", err))
	}

	id, found, err := c.src.Lightweight(ctx, phone)
	if err != nil {
		return Identity{}, false, err
	}
	c.store(ctx, phone, id, found)
	return id, found, nil
}

func (c *Cached) Enhanced(ctx context.Context, phone string) (Identity, bool, error) {
	id, found, err := c.src.Enhanced(ctx, phone)
	if err == nil {
		c.store(ctx, phone, id, found)
	}
	return id, found, err
}

// Forget drops the cached entry, e.g. after the claimant's record changes.
func (c *Cached) Forget(ctx context.Context, phone string) error {
	return c.rdb.Del(ctx, c.key(phone)).Err()
}

func (c *Cached) store(ctx context.Context, phone string, id Identity, found bool) {
	payload, err := json.Marshal(cachedIdentity{Found: found, CallerID: id.CallerID, Name: id.Name, Phone: id.Phone})
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.key(phone), payload, c.ttl).Err(); err != nil {
		c.log.Debug("caller cache write failed", slog.Any("err", err))
	}
}
