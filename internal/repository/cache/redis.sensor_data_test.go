package cache

import (
	"context"
	stderrors "errors"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/farmflow/sensorhub/internal/models"
	"github.com/farmflow/sensorhub/internal/repository/memory"
)

type fakeRedis struct {
	values map[string]string
	sets   map[string]map[string]bool
	down   bool
	closed bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, sets: map[string]map[string]bool{}}
}

var errDown = stderrors.New("connection refused")

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.down {
		return redis.NewStringResult("", errDown)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	if f.down {
		return redis.NewStatusResult("", errDown)
	}
	f.values[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	if f.down {
		return redis.NewIntResult(0, errDown)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			n++
		}
		if _, ok := f.sets[k]; ok {
			delete(f.sets, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Incr(_ context.Context, key string) *redis.IntCmd {
	if f.down {
		return redis.NewIntResult(0, errDown)
	}
	n, _ := strconv.ParseInt(f.values[key], 10, 64)
	n++
	f.values[key] = strconv.FormatInt(n, 10)
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) SAdd(_ context.Context, key string, members ...interface{}) *redis.IntCmd {
	if f.down {
		return redis.NewIntResult(0, errDown)
	}
	if f.sets[key] == nil {
		f.sets[key] = map[string]bool{}
	}
	for _, m := range members {
		f.sets[key][m.(string)] = true
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeRedis) SMembers(_ context.Context, key string) *redis.StringSliceCmd {
	if f.down {
		return redis.NewStringSliceResult(nil, errDown)
	}
	var out []string
	for m := range f.sets[key] {
		out = append(out, m)
	}
	return redis.NewStringSliceResult(out, nil)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func writeTemp(t *testing.T, repo *SensorDataRepo, v float64, ts time.Time) {
	t.Helper()
	p, _, err := models.NewPoint("m", models.Record{"temperature": v}, ts)
	if err != nil {
		t.Fatalf("new point: %v", err)
	}
	if err := repo.WritePoint(context.Background(), p); err != nil {
		t.Fatalf("write: %v", err)
	}
}

var query = models.PivotQuery{Measurement: "m", Window: "1y", Fields: []string{"temperature"}}

// currentKey is the cache key readers use right now.
func currentKey(t *testing.T, repo *SensorDataRepo) string {
	t.Helper()
	gen, err := repo.generation(context.Background(), query.Measurement)
	if err != nil {
		t.Fatalf("generation: %v", err)
	}
	return queryKey(query, gen)
}

// racingRepo completes a write through the cache after reading from its
// inner repository and before returning, as a concurrent writer would.
type racingRepo struct {
	*memory.SensorDataRepo
	onRead func()
}

func (r *racingRepo) QueryPivoted(ctx context.Context, q models.PivotQuery) ([]models.PivotRow, error) {
	rows, err := r.SensorDataRepo.QueryPivoted(ctx, q)
	if r.onRead != nil {
		hook := r.onRead
		r.onRead = nil
		hook()
	}
	return rows, err
}

func TestQueryPivotedServesFromCache(t *testing.T) {
	rdb := newFakeRedis()
	repo := NewSensorDataRepository(memory.NewSensorDataRepository(), rdb, time.Minute)
	now := time.Now().UTC()
	writeTemp(t, repo, 20, now.Add(-time.Minute))

	first, err := repo.QueryPivoted(context.Background(), query)
	if err != nil || len(first) != 1 {
		t.Fatalf("first query: %v %v", first, err)
	}
	key := currentKey(t, repo)
	if _, ok := rdb.values[key]; !ok {
		t.Fatalf("result not cached")
	}

	// a poisoned entry proves the second read comes from redis
	rdb.values[key] = `[{"_time":"2026-01-01T00:00:00Z","temperature":99}]`
	second, err := repo.QueryPivoted(context.Background(), query)
	if err != nil {
		t.Fatalf("second query: %v", err)
	}
	if len(second) != 1 || second[0]["temperature"] != 99.0 {
		t.Fatalf("expected cached row, got %v", second)
	}
	if ts, err := second[0].Time(); err != nil || ts.Year() != 2026 {
		t.Fatalf("cached _time not readable: %v %v", ts, err)
	}
}

func TestWritePointInvalidatesMeasurement(t *testing.T) {
	rdb := newFakeRedis()
	repo := NewSensorDataRepository(memory.NewSensorDataRepository(), rdb, time.Minute)
	now := time.Now().UTC()
	writeTemp(t, repo, 20, now.Add(-2*time.Minute))

	if _, err := repo.QueryPivoted(context.Background(), query); err != nil {
		t.Fatalf("query: %v", err)
	}
	before := currentKey(t, repo)
	writeTemp(t, repo, 21, now.Add(-time.Minute))
	if _, ok := rdb.values[before]; ok {
		t.Fatalf("cache entry survived a write")
	}
	if currentKey(t, repo) == before {
		t.Fatalf("write did not move the generation")
	}

	rows, err := repo.QueryPivoted(context.Background(), query)
	if err != nil || len(rows) != 2 {
		t.Fatalf("expected fresh rows, got %v %v", rows, err)
	}
}

func TestWriteDuringBackendReadIsVisibleAfterwards(t *testing.T) {
	rdb := newFakeRedis()
	inner := &racingRepo{SensorDataRepo: memory.NewSensorDataRepository()}
	repo := NewSensorDataRepository(inner, rdb, time.Minute)
	now := time.Now().UTC()
	inner.onRead = func() { writeTemp(t, repo, 21, now.Add(-time.Minute)) }

	stale, err := repo.QueryPivoted(context.Background(), query)
	if err != nil {
		t.Fatalf("first query: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("expected the pre-write snapshot, got %v", stale)
	}

	rows, err := repo.QueryPivoted(context.Background(), query)
	if err != nil {
		t.Fatalf("second query: %v", err)
	}
	if len(rows) != 1 || rows[0]["temperature"] != 21.0 {
		t.Fatalf("completed write not visible, got %v", rows)
	}
}

func TestRedisOutageFallsThrough(t *testing.T) {
	rdb := newFakeRedis()
	rdb.down = true
	repo := NewSensorDataRepository(memory.NewSensorDataRepository(), rdb, time.Minute)
	writeTemp(t, repo, 20, time.Now().Add(-time.Minute))

	rows, err := repo.QueryPivoted(context.Background(), query)
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected passthrough, got %v %v", rows, err)
	}
}

func TestCloseClosesClientAndInner(t *testing.T) {
	rdb := newFakeRedis()
	inner := memory.NewSensorDataRepository()
	repo := NewSensorDataRepository(inner, rdb, time.Minute)
	if err := repo.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !rdb.closed {
		t.Fatalf("redis client not closed")
	}
	if err := inner.Ping(context.Background()); err == nil {
		t.Fatalf("inner repository still open")
	}
}
