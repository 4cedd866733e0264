package memory

import (
	"context"
	"testing"
	"time"

	"github.com/farmflow/sensorhub/internal/models"
)

func TestQueryPivotedMergesFieldsByTimestamp(t *testing.T) {
	now := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	repo := NewSensorDataRepository().WithClock(func() time.Time { return now })
	ctx := context.Background()

	t1 := now.Add(-2 * time.Hour)
	t2 := now.Add(-1 * time.Hour)
	write := func(ts time.Time, rec models.Record) {
		t.Helper()
		p, _, err := models.NewPoint("ms_farmer1", rec, ts)
		if err != nil {
			t.Fatalf("new point: %v", err)
		}
		if err := repo.WritePoint(ctx, p); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write(t2, models.Record{"temperature": 22.0})
	write(t1, models.Record{"temperature": 21.0, "farmerId": "fr1"})
	write(t1, models.Record{"humidity": 55.0})
	write(t1, models.Record{"ignored": "x"})

	rows, err := repo.QueryPivoted(ctx, models.PivotQuery{
		Measurement: "ms_farmer1",
		Window:      "1y",
		Fields:      models.DefaultQueryFields,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	first := rows[0]
	if ts, _ := first.Time(); !ts.Equal(t1) {
		t.Fatalf("rows not ascending: %v", ts)
	}
	if first["temperature"] != 21.0 || first["humidity"] != 55.0 || first["farmerId"] != "fr1" {
		t.Fatalf("unexpected pivot row: %v", first)
	}
	if _, ok := first["ignored"]; ok {
		t.Fatalf("unselected field leaked into row")
	}
}

func TestQueryPivotedHonoursWindowAndMeasurement(t *testing.T) {
	now := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	repo := NewSensorDataRepository().WithClock(func() time.Time { return now })
	ctx := context.Background()

	old, _, _ := models.NewPoint("m", models.Record{"temperature": 1.0}, now.AddDate(-2, 0, 0))
	other, _, _ := models.NewPoint("other", models.Record{"temperature": 2.0}, now)
	for _, p := range []*models.Point{old, other} {
		if err := repo.WritePoint(ctx, p); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	rows, err := repo.QueryPivoted(ctx, models.PivotQuery{Measurement: "m", Window: "1y", Fields: models.DefaultQueryFields})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows inside window, got %v", rows)
	}
	if repo.Count("m") != 1 || repo.Count("other") != 1 {
		t.Fatalf("unexpected counts")
	}
}

func TestClosedRepositoryRejectsWrites(t *testing.T) {
	repo := NewSensorDataRepository()
	if err := repo.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	p, _, _ := models.NewPoint("m", models.Record{"temperature": 1.0}, time.Now())
	if err := repo.WritePoint(context.Background(), p); err == nil {
		t.Fatalf("expected error after close")
	}
	if err := repo.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping error after close")
	}
}
