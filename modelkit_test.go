package modelkit_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syssam/modelkit"
	"github.com/syssam/modelkit/schema"
	"github.com/syssam/modelkit/schema/field"
)

// TestSchemaDefaultMethods tests the default implementations of Schema methods.
func TestSchemaDefaultMethods(t *testing.T) {
	t.Parallel()

	type TestSchema struct {
		modelkit.Schema
	}
	s := TestSchema{}
	assert.Nil(t, s.Fields())
	assert.Nil(t, s.Edges())
	assert.Nil(t, s.Indexes())
	assert.Nil(t, s.Mixin())
	var _ modelkit.Interface = s
}

type Villain struct{ modelkit.Schema }

func (Villain) Fields() []modelkit.Field {
	return []modelkit.Field{field.String("alias")}
}

func (Villain) Table() string { return "rogues" }

func TestTabler(t *testing.T) {
	t.Parallel()

	e := schema.Of(Villain{})
	assert.Equal(t, "Villain", e.Name)
	assert.Equal(t, "rogues", e.Table)
	_, ok := e.Field("alias")
	assert.True(t, ok)
}
