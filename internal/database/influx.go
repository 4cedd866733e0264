package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/farmflow/sensorhub/internal/config"
	"github.com/farmflow/sensorhub/internal/models"
	nuts "github.com/vaudience/go-nuts"
)

// InfluxDB owns one InfluxDB client and the write/query handles bound to the
// configured organization and bucket. Handles are created once and shared;
// the client is safe for concurrent use.
type InfluxDB struct {
	client influxdb2.Client
	org    string
	bucket string

	writeOnce sync.Once
	writeAPI  api.WriteAPIBlocking
	queryOnce sync.Once
	queryAPI  api.QueryAPI

	closeOnce sync.Once
}

// NewInfluxDB creates a client writing with the configured precision.
func NewInfluxDB(cfg config.InfluxConfig) (*InfluxDB, error) {
	precision, err := parsePrecision(cfg.Precision)
	if err != nil {
		return nil, err
	}
	opts := influxdb2.DefaultOptions().SetPrecision(precision)
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	nuts.L.Infof("[InfluxDB] Client created for %s (org=%s bucket=%s precision=%s)", cfg.URL, cfg.Org, cfg.Bucket, cfg.Precision)
	return &InfluxDB{client: client, org: cfg.Org, bucket: cfg.Bucket}, nil
}

func parsePrecision(p string) (time.Duration, error) {
	switch p {
	case "", "ms":
		return time.Millisecond, nil
	case "s":
		return time.Second, nil
	case "us":
		return time.Microsecond, nil
	case "ns":
		return time.Nanosecond, nil
	default:
		return 0, fmt.Errorf("unsupported influx precision %q", p)
	}
}

// Bucket returns the bucket points are written to.
func (i *InfluxDB) Bucket() string {
	return i.bucket
}

// WriteAPI returns the shared blocking write handle.
func (i *InfluxDB) WriteAPI() api.WriteAPIBlocking {
	i.writeOnce.Do(func() {
		i.writeAPI = i.client.WriteAPIBlocking(i.org, i.bucket)
	})
	return i.writeAPI
}

// QueryAPI returns the shared query handle.
func (i *InfluxDB) QueryAPI() api.QueryAPI {
	i.queryOnce.Do(func() {
		i.queryAPI = i.client.QueryAPI(i.org)
	})
	return i.queryAPI
}

// QueryRows runs a Flux query and collects every record's values.
func (i *InfluxDB) QueryRows(ctx context.Context, flux string) ([]models.PivotRow, error) {
	result, err := i.QueryAPI().Query(ctx, flux)
	if err != nil {
		return nil, err
	}
	defer result.Close()

	var rows []models.PivotRow
	for result.Next() {
		values := result.Record().Values()
		row := make(models.PivotRow, len(values))
		for k, v := range values {
			row[k] = v
		}
		rows = append(rows, row)
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

func (i *InfluxDB) Ping(ctx context.Context) error {
	ok, err := i.client.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("influxdb not ready")
	}
	return nil
}

// Close flushes outstanding writes and closes the client. Safe to call twice.
func (i *InfluxDB) Close() error {
	i.closeOnce.Do(func() {
		i.client.Close()
		nuts.L.Infof("[InfluxDB] Write API closed")
	})
	return nil
}
