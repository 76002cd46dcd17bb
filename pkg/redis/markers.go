package redis

import (
	"context"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/redis/go-redis/v9"
)

var releaseMarkerScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

// MarkerStore records notification sends. A claim is a short-lived "pending" key so a crashed
// sender never blocks later runs; a confirmed send is kept for the retention window.
type MarkerStore struct {
	client    *Client
	claimTTL  time.Duration
	retention time.Duration
}

func NewMarkerStore(client *Client, claimTTL, retention time.Duration) *MarkerStore {
	return &MarkerStore{
		client:    client,
		claimTTL:  claimTTL,
		retention: retention,
	}
}

func (s *MarkerStore) key(key models.MarkerKey) string {
	return s.client.Key("notify", key.String())
}

// Claim atomically reserves key. It returns false when the key was already sent or is claimed.
func (s *MarkerStore) Claim(ctx context.Context, key models.MarkerKey) (bool, error) {
	return s.client.rdb.SetNX(ctx, s.key(key), string(models.MarkerPending), s.claimTTL).Result()
}

func (s *MarkerStore) Confirm(ctx context.Context, key models.MarkerKey) error {
	return s.client.rdb.Set(ctx, s.key(key), string(models.MarkerSent), s.retention).Err()
}

// Release drops a pending claim after a failed send. Sent markers are never removed.
func (s *MarkerStore) Release(ctx context.Context, key models.MarkerKey) error {
	return releaseMarkerScript.Run(ctx, s.client.rdb, []string{s.key(key)}, string(models.MarkerPending)).Err()
}
