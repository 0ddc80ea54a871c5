package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupPath(t *testing.T) {
	doc := map[string]any{
		"data": map[string]any{
			"events": []any{
				map[string]any{"id": "a"},
				map[string]any{"id": "b"},
			},
		},
		"name": "x",
	}

	tests := []struct {
		name   string
		path   string
		want   any
		wantOK bool
	}{
		{"top level", "name", "x", true},
		{"nested array index", "data.events.1.id", "b", true},
		{"empty path", "", doc, true},
		{"missing key", "data.missing", nil, false},
		{"index out of range", "data.events.5", nil, false},
		{"non numeric index", "data.events.x", nil, false},
		{"through scalar", "name.length", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := LookupPath(doc, tt.path)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestLookupPathRecord(t *testing.T) {
	rec := Record{"Venue": map[string]any{"Name": "Paradiso"}}
	got, ok := LookupPath(rec, "Venue.Name")
	assert.True(t, ok)
	assert.Equal(t, "Paradiso", got)
}

func TestFormatScalar(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"nil", nil, ""},
		{"string", "Gig", "Gig"},
		{"bool", true, "true"},
		{"int", 42, "42"},
		{"int64", int64(-7), "-7"},
		{"integral float", float64(1), "1"},
		{"fraction", 12.5, "12.5"},
		{"json number keeps text", json.Number("12.50"), "12.50"},
		{"array", []any{1, "a"}, `[1,"a"]`},
		{"object", map[string]any{"b": 1, "a": 2}, `{"a":2,"b":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatScalar(tt.input))
		})
	}
}

func TestNumber(t *testing.T) {
	f, ok := Number("12.5")
	assert.True(t, ok)
	assert.Equal(t, 12.5, f)

	f, ok = Number(json.Number("3"))
	assert.True(t, ok)
	assert.Equal(t, 3.0, f)

	_, ok = Number("abc")
	assert.False(t, ok)

	_, ok = Number("")
	assert.False(t, ok)

	_, ok = Number(true)
	assert.False(t, ok)
}

func TestSortedKeys(t *testing.T) {
	keys := SortedKeys(map[string]int{"b": 1, "a": 2, "c": 3})
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}
