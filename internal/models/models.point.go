// FilePath: internal/models/models.point.go
package models

import (
	"encoding/json"
	"errors"
	"math"
	"sort"
	"time"
)

// ErrInvalidTimestamp marks a record whose timeStamp cannot be read as an instant.
var ErrInvalidTimestamp = errors.New("invalid timestamp format")

// FieldKind is the storage type chosen for a record value.
type FieldKind int

const (
	FieldUnsupported FieldKind = iota
	FieldString
	FieldFloat
	FieldBool
)

func (k FieldKind) String() string {
	switch k {
	case FieldString:
		return "string"
	case FieldFloat:
		return "float"
	case FieldBool:
		return "bool"
	default:
		return "unsupported"
	}
}

// Field is a typed point field. Exactly one of the value members is
// meaningful, selected by Kind.
type Field struct {
	Key    string
	Kind   FieldKind
	String string
	Float  float64
	Bool   bool
	// Source keeps the original value of unsupported fields for diagnostics.
	Source any
}

// NewField classifies v once, at record construction time.
func NewField(key string, v any) Field {
	f := Field{Key: key}
	switch val := v.(type) {
	case string:
		f.Kind, f.String = FieldString, val
	case bool:
		f.Kind, f.Bool = FieldBool, val
	case float64:
		f.setFloat(val)
	case float32:
		f.setFloat(float64(val))
	case int:
		f.setFloat(float64(val))
	case int64:
		f.setFloat(float64(val))
	case int32:
		f.setFloat(float64(val))
	case json.Number:
		if n, err := val.Float64(); err == nil {
			f.setFloat(n)
		} else {
			f.Source = v
		}
	default:
		f.Source = v
	}
	return f
}

func (f *Field) setFloat(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		f.Source = v
		return
	}
	f.Kind, f.Float = FieldFloat, v
}

// Value returns the Go value matching Kind.
func (f Field) Value() any {
	switch f.Kind {
	case FieldString:
		return f.String
	case FieldFloat:
		return f.Float
	case FieldBool:
		return f.Bool
	default:
		return nil
	}
}

// Point is the storage-layer representation of one record.
type Point struct {
	Measurement string
	Fields      []Field
	Timestamp   time.Time
}

// NewPoint builds a point from a flat record. The timeStamp key selects the
// event time (now when absent); every other key becomes a typed field.
// Unsupported values are returned separately and left out of the point.
func NewPoint(measurement string, rec Record, now time.Time) (*Point, []Field, error) {
	ts, err := ParseTimestamp(rec[FieldTimeStamp], now)
	if err != nil {
		return nil, nil, err
	}

	keys := make([]string, 0, len(rec))
	for k := range rec {
		if k == FieldTimeStamp {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p := &Point{Measurement: measurement, Timestamp: ts}
	var dropped []Field
	for _, k := range keys {
		f := NewField(k, rec[k])
		if f.Kind == FieldUnsupported {
			dropped = append(dropped, f)
			continue
		}
		p.Fields = append(p.Fields, f)
	}
	return p, dropped, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp resolves a record's timeStamp value. Empty values default
// to now, numbers are unix milliseconds, strings must parse. Strings
// without a zone are read as UTC regardless of the host timezone.
func ParseTimestamp(v any, now time.Time) (time.Time, error) {
	switch val := v.(type) {
	case nil:
		return now, nil
	case time.Time:
		if val.IsZero() {
			return now, nil
		}
		return val, nil
	case *time.Time:
		if val == nil || val.IsZero() {
			return now, nil
		}
		return *val, nil
	case string:
		if val == "" {
			return now, nil
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, val); err == nil {
				return t, nil
			}
		}
		return time.Time{}, ErrInvalidTimestamp
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return time.Time{}, ErrInvalidTimestamp
		}
		if val == 0 {
			return now, nil
		}
		return time.UnixMilli(int64(val)), nil
	case json.Number:
		ms, err := val.Int64()
		if err != nil {
			return time.Time{}, ErrInvalidTimestamp
		}
		if ms == 0 {
			return now, nil
		}
		return time.UnixMilli(ms), nil
	default:
		return time.Time{}, ErrInvalidTimestamp
	}
}
