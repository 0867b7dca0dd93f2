package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"fleet-monitor/asset-tracking/internal/config"
	"fleet-monitor/asset-tracking/internal/domain"
)

const geoKey = "assets:geo"

func stateKey(assetID string) string         { return fmt.Sprintf("asset:%s:state", assetID) }
func PositionsChannel(assetID string) string { return fmt.Sprintf("asset:%s:positions", assetID) }
func AlertsChannel(assetID string) string    { return fmt.Sprintf("asset:%s:alerts", assetID) }
func APIKeyKey(apiKey string) string         { return fmt.Sprintf("asset:auth:%s", apiKey) }

func dedupKey(assetID string, kind domain.AlertKind) string {
	return fmt.Sprintf("alert:active:%s:%s", assetID, kind)
}

// updateStateScript replaces the cached fix unless the cache already holds a
// fix with a later timestamp. Returns 1 when the fix was written.
var updateStateScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'timestamp_us')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'timestamp_us', ARGV[1], 'fix', ARGV[2])
if tonumber(ARGV[3]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

type RedisStore struct {
	client   *redis.Client
	stateTTL time.Duration
	dedupTTL time.Duration
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{
		client:   client,
		stateTTL: cfg.Redis.StateTTL,
		dedupTTL: cfg.Alerts.DedupTTL,
	}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Client() *redis.Client {
	return r.client
}

// UpdateLiveState caches fix as the asset's live position, indexes it in the
// geo set and publishes it. Fixes older than the cached one are ignored.
func (r *RedisStore) UpdateLiveState(ctx context.Context, fix domain.LocationFix) error {
	payload, err := json.Marshal(fix)
	if err != nil {
		return fmt.Errorf("failed to marshal fix: %w", err)
	}

	written, err := updateStateScript.Run(ctx, r.client,
		[]string{stateKey(fix.AssetID)},
		strconv.FormatInt(fix.Timestamp.UnixMicro(), 10),
		payload,
		r.stateTTL.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("redis state update failed: %w", err)
	}
	if written == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	pipe.GeoAdd(ctx, geoKey, &redis.GeoLocation{
		Name:      fix.AssetID,
		Longitude: fix.Longitude,
		Latitude:  fix.Latitude,
	})
	pipe.Publish(ctx, PositionsChannel(fix.AssetID), payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// LiveState returns the cached live position or domain.ErrNoLocation.
func (r *RedisStore) LiveState(ctx context.Context, assetID string) (domain.LocationFix, error) {
	raw, err := r.client.HGet(ctx, stateKey(assetID), "fix").Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.LocationFix{}, domain.ErrNoLocation
	}
	if err != nil {
		return domain.LocationFix{}, fmt.Errorf("redis live state failed: %w", err)
	}

	var fix domain.LocationFix
	if err := json.Unmarshal(raw, &fix); err != nil {
		return domain.LocationFix{}, fmt.Errorf("decode live state for %s: %w", assetID, err)
	}
	return fix, nil
}

// GetAPIKey returns the owner recorded for apiKey, or "" when unknown.
func (r *RedisStore) GetAPIKey(ctx context.Context, apiKey string) (string, error) {
	val, err := r.client.Get(ctx, APIKeyKey(apiKey)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get api key failed: %w", err)
	}
	return val, nil
}

// AcquireAlertDedup claims the (asset, kind) alert slot. It reports false when
// an alert for the same condition is already outstanding.
func (r *RedisStore) AcquireAlertDedup(ctx context.Context, assetID string, kind domain.AlertKind) (bool, error) {
	ok, err := r.client.SetNX(ctx, dedupKey(assetID, kind), time.Now().UTC().Format(time.RFC3339), r.dedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("dedup acquire failed: %w", err)
	}
	return ok, nil
}

func (r *RedisStore) ReleaseAlertDedup(ctx context.Context, assetID string, kind domain.AlertKind) error {
	if err := r.client.Del(ctx, dedupKey(assetID, kind)).Err(); err != nil {
		return fmt.Errorf("dedup release failed: %w", err)
	}
	return nil
}

func (r *RedisStore) PublishAlert(ctx context.Context, alert domain.GeoAlert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	return r.client.Publish(ctx, AlertsChannel(alert.AssetID), payload).Err()
}
