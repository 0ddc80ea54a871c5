package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mengxiangmengyuan/fabrik/internal/coerce"
	"github.com/mengxiangmengyuan/fabrik/internal/ir"
)

func TestFromTarget(t *testing.T) {
	tbl, err := FromTarget(ir.TargetSpec{
		Table:      "events",
		ForeignKey: "fk",
		Fields:     map[string]string{"start": "date", "name": "text", "free": "bool"},
	})
	require.NoError(t, err)

	assert.Equal(t, "id", tbl.PrimaryKey)
	assert.Equal(t, []string{"fk", "free", "name", "start"}, tbl.FieldNames())

	f, ok := tbl.Lookup("start")
	require.True(t, ok)
	assert.Equal(t, coerce.TypeDate, f.Type)

	fk, ok := tbl.Lookup("fk")
	require.True(t, ok)
	assert.Equal(t, coerce.TypeText, fk.Type)

	_, ok = tbl.Lookup("unknown")
	assert.False(t, ok)
}

func TestFieldFromExternalFormat(t *testing.T) {
	f := Field{Name: "start", Type: coerce.TypeDate}
	v, err := f.FromExternalFormat("2024-05-01 20:00")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01T20:00:00+00:00", v)

	_, err = f.FromExternalFormat("garbage")
	assert.ErrorIs(t, err, coerce.ErrCoercion)
}

func TestFromTargetErrors(t *testing.T) {
	_, err := FromTarget(ir.TargetSpec{
		Table:      "bad table",
		ForeignKey: "id",
		Fields:     map[string]string{"x;drop": "text", "y": "blob", "id": "int"},
	})
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, `invalid table name "bad table"`)
	assert.Contains(t, msg, "must differ from the primary key")
	assert.Contains(t, msg, `invalid field name "x;drop"`)
	assert.Contains(t, msg, `unknown field type "blob"`)
	assert.Contains(t, msg, "collides with the primary key")
}

func TestValidIdentifier(t *testing.T) {
	assert.True(t, ValidIdentifier("events_2024"))
	assert.True(t, ValidIdentifier("_x"))
	assert.False(t, ValidIdentifier(""))
	assert.False(t, ValidIdentifier("1abc"))
	assert.False(t, ValidIdentifier(`a"b`))
}
