// Package redis provides a Redis-backed QuotaStore for sitegen.
//
// Each subject is a Redis hash with fields "period" and "used". Rollover and
// IncrementIfBelow run as Lua scripts, so the period check, the limit check
// and the increment are applied atomically. This makes it safe for
// multi-instance deployments.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/sitegen"
)

// Store is a Redis-backed QuotaStore.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
}

var _ sitegen.QuotaStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "sitegen:quota:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a new Redis-backed QuotaStore.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "sitegen:quota:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) subjectKey(subjectID string) string {
	return s.keyPrefix + subjectID
}

// rolloverScript creates or resets a subject hash.
// KEYS[1] = subject hash key
// ARGV[1] = period key
//
// Returns {period, used}.
var rolloverScript = goredis.NewScript(`
local key = KEYS[1]
local period = ARGV[1]

local stored = redis.call("HGET", key, "period")
if stored ~= period then
    redis.call("HSET", key, "period", period, "used", "0")
    return {period, 0}
end

return {period, tonumber(redis.call("HGET", key, "used") or "0")}
`)

// incrementScript rolls a subject hash over and increments it if below limit.
// KEYS[1] = subject hash key
// ARGV[1] = period key
// ARGV[2] = limit
//
// Returns {period, used, granted} where granted is 1 or 0.
var incrementScript = goredis.NewScript(`
local key = KEYS[1]
local period = ARGV[1]
local limit = tonumber(ARGV[2])

local stored = redis.call("HGET", key, "period")
if stored ~= period then
    redis.call("HSET", key, "period", period, "used", "0")
end

local used = tonumber(redis.call("HGET", key, "used") or "0")
if used >= limit then
    return {period, used, 0}
end

used = redis.call("HINCRBY", key, "used", 1)
return {period, used, 1}
`)

// Load returns the stored record for a subject.
func (s *Store) Load(ctx context.Context, subjectID string) (sitegen.QuotaRecord, bool, error) {
	vals, err := s.client.HMGet(ctx, s.subjectKey(subjectID), "period", "used").Result()
	if err != nil {
		return sitegen.QuotaRecord{}, false, unavailable("load", err)
	}

	// Subject not found.
	if vals[0] == nil {
		return sitegen.QuotaRecord{}, false, nil
	}

	period, _ := vals[0].(string)
	var used int64
	if raw, ok := vals[1].(string); ok {
		used, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return sitegen.QuotaRecord{}, false, unavailable("load", fmt.Errorf("parse used: %w", err))
		}
	}

	return sitegen.QuotaRecord{SubjectID: subjectID, PeriodKey: period, UsedCount: used}, true, nil
}

// Rollover creates or resets the subject's hash for periodKey.
func (s *Store) Rollover(ctx context.Context, subjectID, periodKey string) (sitegen.QuotaRecord, error) {
	res, err := rolloverScript.Run(ctx, s.client, []string{s.subjectKey(subjectID)}, periodKey).Slice()
	if err != nil {
		return sitegen.QuotaRecord{}, unavailable("rollover", err)
	}

	rec, _, err := parseResult(subjectID, res)
	if err != nil {
		return sitegen.QuotaRecord{}, unavailable("rollover", err)
	}
	return rec, nil
}

// IncrementIfBelow atomically rolls over and increments the subject's hash.
func (s *Store) IncrementIfBelow(ctx context.Context, subjectID, periodKey string, limit int64) (sitegen.QuotaRecord, bool, error) {
	res, err := incrementScript.Run(ctx, s.client,
		[]string{s.subjectKey(subjectID)},
		periodKey, limit,
	).Slice()
	if err != nil {
		return sitegen.QuotaRecord{}, false, unavailable("consume", err)
	}

	rec, granted, err := parseResult(subjectID, res)
	if err != nil {
		return sitegen.QuotaRecord{}, false, unavailable("consume", err)
	}
	return rec, granted, nil
}

// parseResult decodes a {period, used[, granted]} script reply.
func parseResult(subjectID string, res []any) (sitegen.QuotaRecord, bool, error) {
	if len(res) < 2 {
		return sitegen.QuotaRecord{}, false, fmt.Errorf("unexpected script result: %v", res)
	}

	period, ok := res[0].(string)
	if !ok {
		return sitegen.QuotaRecord{}, false, fmt.Errorf("unexpected period type %T", res[0])
	}
	used, ok := res[1].(int64)
	if !ok {
		return sitegen.QuotaRecord{}, false, fmt.Errorf("unexpected used type %T", res[1])
	}

	granted := false
	if len(res) > 2 {
		flag, ok := res[2].(int64)
		if !ok {
			return sitegen.QuotaRecord{}, false, errors.New("unexpected granted flag")
		}
		granted = flag == 1
	}

	return sitegen.QuotaRecord{SubjectID: subjectID, PeriodKey: period, UsedCount: used}, granted, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("sitegen/redis: %s: %w: %w", op, sitegen.ErrStoreUnavailable, err)
}
