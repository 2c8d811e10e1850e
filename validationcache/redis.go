package validationcache

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RemoteCache is the second tier behind Cache: shared across every engine
// instance behind a load balancer, so a token validated on one instance
// doesn't have to be re-validated on the next request that happens to land
// on another. Cache (process-local, LRU-bounded) is always checked first;
// RemoteCache is consulted only on a local miss.
type RemoteCache struct {
	client *redis.Client
	prefix string
}

func NewRemoteCache(client *redis.Client) *RemoteCache {
	return &RemoteCache{client: client, prefix: "validation:"}
}

func (r *RemoteCache) Get(ctx context.Context, token string) (Identity, bool, error) {
	key := r.prefix + hashToken(token)
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Identity{}, false, nil
	}
	if err != nil {
		return Identity{}, false, err
	}
	var id Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return Identity{}, false, err
	}
	return id, true, nil
}

func (r *RemoteCache) Put(ctx context.Context, token string, id Identity) error {
	key := r.prefix + hashToken(token)
	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, raw, TTL).Err()
}

func (r *RemoteCache) Invalidate(ctx context.Context, token string) error {
	key := r.prefix + hashToken(token)
	return r.client.Del(ctx, key).Err()
}

// Clear drops every cached validation under this prefix, scanning rather
// than KEYS so it never blocks the shared Redis instance for long.
func (r *RemoteCache) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

// TwoTier composes the local LRU cache in front of RemoteCache: a Redis hit
// populates the local tier on its way back to the caller, so a second local
// request for the same token never touches Redis again. A local hit is
// returned without writing to Redis.
type TwoTier struct {
	local  *Cache
	remote *RemoteCache
}

func NewTwoTier(local *Cache, remote *RemoteCache) *TwoTier {
	return &TwoTier{local: local, remote: remote}
}

func (t *TwoTier) GetWithContext(ctx context.Context, token string) (Identity, bool) {
	if id, ok := t.local.Get(token); ok {
		return id, true
	}
	id, ok, err := t.remote.Get(ctx, token)
	if err != nil || !ok {
		return Identity{}, false
	}
	t.local.Put(token, id)
	return id, true
}

func (t *TwoTier) PutWithContext(ctx context.Context, token string, id Identity) {
	t.local.Put(token, id)
	_ = t.remote.Put(ctx, token, id)
}

func (t *TwoTier) InvalidateWithContext(ctx context.Context, token string) {
	t.local.Invalidate(token)
	_ = t.remote.Invalidate(ctx, token)
}

// Get and Put satisfy auth's identityCache interface for callers, like the
// JWT verifier, that have no request context to thread through. The local
// tier never blocks, so only the Redis round trip risks running unbounded;
// that trip is already wrapped by the client's own dial/read timeouts.
func (t *TwoTier) Get(token string) (Identity, bool) {
	return t.GetWithContext(context.Background(), token)
}

func (t *TwoTier) Put(token string, id Identity) {
	t.PutWithContext(context.Background(), token, id)
}

// Clear drops every cached validation in both tiers, used when the signing
// key rotates (SPEC_FULL.md §4.7).
func (t *TwoTier) Clear() {
	t.local.Clear()
	_ = t.remote.Clear(context.Background())
}
