package driver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mengxiangmengyuan/fabrik/internal/ir"
)

// DecodeJSON decodes a JSON document keeping numbers as json.Number so
// their text survives untouched into templates.
func DecodeJSON(r io.Reader) (any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return doc, nil
}

// DecodeJSONBytes is DecodeJSON over a byte slice.
func DecodeJSONBytes(data []byte) (any, error) {
	return DecodeJSON(bytes.NewReader(data))
}

// Select walks doc to startPoint and returns the records found there.
// An object yields one record, an array yields one record per element;
// scalar elements are wrapped as {"value": v}. A null target yields none.
func Select(doc any, startPoint string) ([]ir.Record, error) {
	target, ok := ir.LookupPath(doc, startPoint)
	if !ok {
		return nil, fmt.Errorf("start point %q not found", startPoint)
	}

	switch v := target.(type) {
	case nil:
		return []ir.Record{}, nil
	case map[string]any:
		return []ir.Record{ir.Record(v)}, nil
	case []any:
		out := make([]ir.Record, 0, len(v))
		for _, elem := range v {
			if obj, ok := elem.(map[string]any); ok {
				out = append(out, ir.Record(obj))
			} else {
				out = append(out, ir.Record{"value": elem})
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("start point %q is a %T, not a record list", startPoint, target)
	}
}
