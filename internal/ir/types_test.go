package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServiceConfigCanonicalObject(t *testing.T) {
	cfg := ServiceConfig{Driver: "rest", Options: map[string]any{"endpoint": "ignored", "k": 1}}
	obj := cfg.CanonicalObject()

	assert.Equal(t, "rest", obj["driver"])
	assert.Nil(t, obj["endpoint"])
	assert.Equal(t, 1, obj["k"])
	assert.Equal(t, "", cfg.EndpointValue())
}

func TestMappingRuleKinds(t *testing.T) {
	assert.False(t, MappingRule{From: "{A}", To: "a"}.IsLiteral())
	assert.False(t, MappingRule{From: "{A}", To: "a"}.IsExpression())
	assert.True(t, MappingRule{From: "{A}", To: "a", Match: "x"}.IsLiteral())
	assert.True(t, MappingRule{From: "{A}", To: "a", Match: "return 1;", Expression: true}.IsExpression())

	// an empty match is a plain copy even when flagged as expression
	assert.False(t, MappingRule{From: "{A}", To: "a", Expression: true}.IsExpression())
}

func TestIndexLookup(t *testing.T) {
	idx := Index{"1": 42, "": 7}

	pk, ok := idx.Lookup("1")
	assert.True(t, ok)
	assert.Equal(t, int64(42), pk)

	_, ok = idx.Lookup("")
	assert.False(t, ok, "empty foreign key never matches")

	_, ok = idx.Lookup("2")
	assert.False(t, ok)
}

func TestCountsAdd(t *testing.T) {
	c := Counts{Added: 1, Updated: 2}.Add(Counts{Added: 3, Skipped: 1, Failed: 2})
	assert.Equal(t, Counts{Added: 4, Updated: 2, Skipped: 1, Failed: 2}, c)
	assert.Equal(t, 6, c.Written())
}

func TestTargetPrimaryKeyDefault(t *testing.T) {
	assert.Equal(t, "id", TargetSpec{}.PrimaryKeyOrDefault())
	assert.Equal(t, "event_id", TargetSpec{PrimaryKey: "event_id"}.PrimaryKeyOrDefault())
}

func TestMappedRecordClone(t *testing.T) {
	r := MappedRecord{"a": 1}
	c := r.Clone()
	c["a"] = 2
	assert.Equal(t, 1, r["a"])
}
