// FilePath: internal/repository/cache/redis.sensor_data.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/farmflow/sensorhub/internal/models"
	"github.com/farmflow/sensorhub/internal/repository"
	nuts "github.com/vaudience/go-nuts"
)

const keyPrefix = "sensorhub:pivot"

// Client is the subset of *redis.Client used by the cache.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Close() error
}

// SensorDataRepo caches pivoted query results in Redis in front of another
// repository. Result keys carry the generation of their measurement, read
// before the backend query, and every write bumps that generation. A result
// computed while a write was in flight is therefore stored under a
// generation no later reader asks for. Redis failures never fail a request;
// the cache is bypassed instead.
type SensorDataRepo struct {
	next   repository.SensorDataRepository
	client Client
	ttl    time.Duration
}

// NewSensorDataRepository wraps next with a Redis result cache.
func NewSensorDataRepository(next repository.SensorDataRepository, client Client, ttl time.Duration) *SensorDataRepo {
	return &SensorDataRepo{next: next, client: client, ttl: ttl}
}

// NewClient opens a go-redis client for addr.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func queryKey(q models.PivotQuery, gen int64) string {
	return fmt.Sprintf("%s:%s:g%d:%s:%s", keyPrefix, q.Measurement, gen, q.Window, strings.Join(q.Fields, ","))
}

func genKey(measurement string) string {
	return fmt.Sprintf("%s:%s:gen", keyPrefix, measurement)
}

func indexKey(measurement string) string {
	return fmt.Sprintf("%s:%s:keys", keyPrefix, measurement)
}

func (r *SensorDataRepo) WritePoint(ctx context.Context, point *models.Point) error {
	if err := r.next.WritePoint(ctx, point); err != nil {
		return err
	}
	r.invalidate(ctx, point.Measurement)
	return nil
}

func (r *SensorDataRepo) invalidate(ctx context.Context, measurement string) {
	if err := r.client.Incr(ctx, genKey(measurement)).Err(); err != nil {
		nuts.L.Warnf("[Cache] Failed to bump generation of %s: %v", measurement, err)
	}
	// old generations are unreachable; drop them instead of waiting for the ttl
	idx := indexKey(measurement)
	keys, err := r.client.SMembers(ctx, idx).Result()
	if err != nil {
		nuts.L.Warnf("[Cache] Failed to list cached queries of %s: %v", measurement, err)
		return
	}
	if err := r.client.Del(ctx, append(keys, idx)...).Err(); err != nil {
		nuts.L.Warnf("[Cache] Failed to invalidate %s: %v", measurement, err)
	}
}

// generation returns the current write generation of a measurement, 0 when
// nothing was written through the cache yet.
func (r *SensorDataRepo) generation(ctx context.Context, measurement string) (int64, error) {
	gen, err := r.client.Get(ctx, genKey(measurement)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return gen, err
}

func (r *SensorDataRepo) QueryPivoted(ctx context.Context, q models.PivotQuery) ([]models.PivotRow, error) {
	gen, err := r.generation(ctx, q.Measurement)
	if err != nil {
		nuts.L.Warnf("[Cache] Generation of %s unavailable, bypassing cache: %v", q.Measurement, err)
		return r.next.QueryPivoted(ctx, q)
	}
	key := queryKey(q, gen)

	raw, err := r.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var rows []models.PivotRow
		if err := json.Unmarshal(raw, &rows); err == nil {
			nuts.L.Debugf("[Cache] Hit for %s", key)
			return rows, nil
		}
		nuts.L.Warnf("[Cache] Dropping undecodable entry %s", key)
	case err != redis.Nil:
		nuts.L.Warnf("[Cache] Get %s failed: %v", key, err)
	}

	rows, err := r.next.QueryPivoted(ctx, q)
	if err != nil {
		return nil, err
	}
	r.store(ctx, q.Measurement, key, rows)
	return rows, nil
}

func (r *SensorDataRepo) store(ctx context.Context, measurement, key string, rows []models.PivotRow) {
	data, err := json.Marshal(rows)
	if err != nil {
		nuts.L.Warnf("[Cache] Failed to encode %s: %v", key, err)
		return
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		nuts.L.Warnf("[Cache] Set %s failed: %v", key, err)
		return
	}
	if err := r.client.SAdd(ctx, indexKey(measurement), key).Err(); err != nil {
		nuts.L.Warnf("[Cache] Failed to index %s: %v", key, err)
	}
}

func (r *SensorDataRepo) Ping(ctx context.Context) error {
	return r.next.Ping(ctx)
}

// Close closes the Redis client, then the wrapped repository.
func (r *SensorDataRepo) Close() error {
	if err := r.client.Close(); err != nil {
		nuts.L.Warnf("[Cache] Failed to close redis client: %v", err)
	}
	return r.next.Close()
}
