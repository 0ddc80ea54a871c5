package store

import (
	"encoding"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mengxiangmengyuan/fabrik/internal/ir"
)

// marshalValue converts a record value to a SQLite bind argument.
// json.Number keeps its text so column affinity decides the stored type.
// Instants bind as RFC 3339 text and composites as canonical JSON.
func marshalValue(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, bool, int, int32, int64, float32, float64, []byte:
		return val, nil
	case uint64:
		if val > 1<<63-1 {
			return fmt.Sprint(val), nil
		}
		return int64(val), nil
	case json.Number:
		return val.String(), nil
	case time.Time, encoding.TextMarshaler:
		return ir.FormatScalar(val), nil
	default:
		data, err := ir.MarshalCanonical(v)
		if err != nil {
			return nil, fmt.Errorf("marshal value: %w", err)
		}
		return string(data), nil
	}
}

// textValue renders scalars bound to a TEXT column the way index keys are
// built, so 1.0 is stored as "1" and found again by LoadExistingIndex.
func textValue(v any) any {
	switch v.(type) {
	case bool, int, int32, int64, uint64, float32, float64, json.Number:
		return ir.FormatScalar(v)
	}
	return v
}

// unmarshalValue normalises a scanned column value.
func unmarshalValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
