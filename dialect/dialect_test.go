package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syssam/modelkit/schema/field"
)

func TestColumnType(t *testing.T) {
	assert.Equal(t, "integer", ColumnType(SQLite, field.TypeInt))
	assert.Equal(t, "bigint", ColumnType(Postgres, field.TypeInt))
	assert.Equal(t, "jsonb", ColumnType(Postgres, field.TypeJSON))
	assert.Equal(t, "char(36)", ColumnType(MySQL, field.TypeUUID))
	assert.Equal(t, "time", ColumnType(Memory, field.TypeTime))
}

func TestFieldType(t *testing.T) {
	for _, d := range []string{SQLite, Postgres, MySQL, Memory} {
		for _, ft := range []field.Type{field.TypeBool, field.TypeInt, field.TypeFloat, field.TypeString, field.TypeBytes, field.TypeTime, field.TypeUUID, field.TypeJSON} {
			assert.Equal(t, ft, FieldType(d, ColumnType(d, ft)), "%s %s", d, ft)
		}
	}
	assert.Equal(t, field.TypeString, FieldType(SQLite, ColumnType(SQLite, field.TypeEnum)))
	assert.Equal(t, field.TypeInvalid, FieldType(Postgres, "point"))
}
