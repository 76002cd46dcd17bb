package redis

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/redis/go-redis/v9"
)

// A lock whose last_activity + ttl <= now is free even if the key has not expired yet.
var acquirePlanLockScript = redis.NewScript(`
	local holder = redis.call("hget", KEYS[1], "user_id")
	local name = redis.call("hget", KEYS[1], "locked_by") or ""
	local lastRaw = redis.call("hget", KEYS[1], "last_activity") or "0"
	local active = holder and (tonumber(lastRaw) + tonumber(ARGV[4])) > tonumber(ARGV[3])

	if active and holder ~= ARGV[1] and ARGV[5] ~= "1" then
		return {0, holder, name, lastRaw, "", "", ""}
	end

	local prevUser, prevName, prevLast = "", "", ""
	if active and holder ~= ARGV[1] then
		prevUser, prevName, prevLast = holder, name, lastRaw
	end

	redis.call("hset", KEYS[1], "user_id", ARGV[1], "locked_by", ARGV[2], "last_activity", ARGV[3])
	redis.call("pexpire", KEYS[1], ARGV[4])
	return {1, ARGV[1], ARGV[2], ARGV[3], prevUser, prevName, prevLast}
`)

var refreshPlanLockScript = redis.NewScript(`
	local holder = redis.call("hget", KEYS[1], "user_id")
	local lastRaw = redis.call("hget", KEYS[1], "last_activity") or "0"
	if holder ~= ARGV[1] or (tonumber(lastRaw) + tonumber(ARGV[3])) <= tonumber(ARGV[2]) then
		return {0, ""}
	end
	redis.call("hset", KEYS[1], "last_activity", ARGV[2])
	redis.call("pexpire", KEYS[1], ARGV[3])
	return {1, redis.call("hget", KEYS[1], "locked_by") or ""}
`)

var releasePlanLockScript = redis.NewScript(`
	if redis.call("hget", KEYS[1], "user_id") == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

// PlanLockStore keeps one hash per plan: user_id, locked_by and last_activity (unix ms).
type PlanLockStore struct {
	client *Client
}

func NewPlanLockStore(client *Client) *PlanLockStore {
	return &PlanLockStore{client: client}
}

func (s *PlanLockStore) key(planID int64) string {
	return s.client.Key("planlock", strconv.FormatInt(planID, 10))
}

// Acquire grants the lock when it is free, expired, already held by userID, or force is set.
// When refused, current is the active holder. previous is set when force displaced someone else.
func (s *PlanLockStore) Acquire(ctx context.Context, planID int64, userID, lockedBy string, now time.Time, ttl time.Duration, force bool) (current models.PlanLock, previous *models.PlanLock, granted bool, err error) {
	forceArg := "0"
	if force {
		forceArg = "1"
	}

	values, err := acquirePlanLockScript.Run(ctx, s.client.rdb, []string{s.key(planID)},
		userID, lockedBy, now.UnixMilli(), ttl.Milliseconds(), forceArg).Slice()
	if err != nil {
		return models.PlanLock{}, nil, false, err
	}

	granted = toInt64(values[0]) == 1
	current = models.NewPlanLock(planID, toString(values[1]), toString(values[2]), fromMillis(toString(values[3])), ttl, now)

	if prevUser := toString(values[4]); prevUser != "" {
		prev := models.NewPlanLock(planID, prevUser, toString(values[5]), fromMillis(toString(values[6])), ttl, now)
		previous = &prev
	}

	s.client.logger.WithContext(ctx).WithFields(map[string]any{
		"plan_id": planID,
		"user_id": userID,
		"granted": granted,
		"force":   force,
	}).Debug("Plan lock acquire")

	return current, previous, granted, nil
}

// Refresh bumps last_activity when userID holds an active lock.
func (s *PlanLockStore) Refresh(ctx context.Context, planID int64, userID string, now time.Time, ttl time.Duration) (models.PlanLock, bool, error) {
	values, err := refreshPlanLockScript.Run(ctx, s.client.rdb, []string{s.key(planID)},
		userID, now.UnixMilli(), ttl.Milliseconds()).Slice()
	if err != nil {
		return models.PlanLock{}, false, err
	}
	if toInt64(values[0]) != 1 {
		return models.PlanLock{}, false, nil
	}
	return models.NewPlanLock(planID, userID, toString(values[1]), now, ttl, now), true, nil
}

// Release deletes the lock only when userID holds it.
func (s *PlanLockStore) Release(ctx context.Context, planID int64, userID string) (bool, error) {
	result, err := releasePlanLockScript.Run(ctx, s.client.rdb, []string{s.key(planID)}, userID).Int64()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

// Get returns the active lock, or nil when there is none or it has expired.
func (s *PlanLockStore) Get(ctx context.Context, planID int64, now time.Time, ttl time.Duration) (*models.PlanLock, error) {
	fields, err := s.client.rdb.HGetAll(ctx, s.key(planID)).Result()
	if err != nil {
		return nil, err
	}
	return lockFromHash(planID, fields, now, ttl), nil
}

// List scans for every active lock.
func (s *PlanLockStore) List(ctx context.Context, now time.Time, ttl time.Duration) ([]models.PlanLock, error) {
	prefix := s.client.Key("planlock", "")
	locks := []models.PlanLock{}

	iter := s.client.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		planID, err := strconv.ParseInt(strings.TrimPrefix(key, prefix), 10, 64)
		if err != nil {
			continue
		}

		fields, err := s.client.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		if lock := lockFromHash(planID, fields, now, ttl); lock != nil {
			locks = append(locks, *lock)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	return locks, nil
}

func lockFromHash(planID int64, fields map[string]string, now time.Time, ttl time.Duration) *models.PlanLock {
	userID := fields["user_id"]
	if userID == "" {
		return nil
	}
	lock := models.NewPlanLock(planID, userID, fields["locked_by"], fromMillis(fields["last_activity"]), ttl, now)
	if !lock.IsActive() {
		return nil
	}
	return &lock
}

func fromMillis(value string) time.Time {
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func toInt64(value any) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}
