package schema_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/modelkit"
	"github.com/syssam/modelkit/schema"
	"github.com/syssam/modelkit/schema/edge"
	"github.com/syssam/modelkit/schema/field"
	"github.com/syssam/modelkit/schema/index"
	"github.com/syssam/modelkit/schema/mixin"
)

type Team struct{ modelkit.Schema }

func (Team) Fields() []modelkit.Field {
	return []modelkit.Field{
		field.String("name").NotEmpty(),
	}
}

func (Team) Edges() []modelkit.Edge {
	return []modelkit.Edge{
		edge.To("heroes", "Hero").CascadeDelete(),
	}
}

func (Team) Indexes() []modelkit.Index {
	return []modelkit.Index{
		index.Fields("name").Unique(),
	}
}

type Account struct{ modelkit.Schema }

func (Account) Mixin() []modelkit.Mixin {
	return []modelkit.Mixin{
		mixin.UUIDID{},
		mixin.Time{},
	}
}

func (Account) Fields() []modelkit.Field {
	return []modelkit.Field{
		field.String("email").Unique(),
		field.String("password").Sensitive(),
	}
}

func (Account) Table() string { return "accounts_v2" }

func TestOf(t *testing.T) {
	e := schema.Of(Team{})
	assert.Equal(t, "Team", e.Name)
	assert.Equal(t, "team", e.Label())
	require.Len(t, e.Fields, 1)
	require.Len(t, e.Edges, 1)
	require.Len(t, e.Indexes, 1)
	assert.Empty(t, e.Table)

	e = schema.Of(&Team{})
	assert.Equal(t, "Team", e.Name)
}

func TestNormalize(t *testing.T) {
	t.Run("implicit_id", func(t *testing.T) {
		e := schema.Of(Team{})
		e.Normalize()
		assert.Equal(t, "teams", e.Table)
		require.Len(t, e.Fields, 2)
		id, ok := e.ID()
		require.True(t, ok)
		assert.Equal(t, "id", id.Name)
		assert.Equal(t, field.TypeInt, id.Type)
		assert.True(t, id.StorageGenerated())
		assert.Equal(t, "id", e.Fields[0].Name)
		require.NoError(t, e.Validate())
	})

	t.Run("mixins_and_tabler", func(t *testing.T) {
		e := schema.Of(Account{})
		e.Normalize()
		assert.Equal(t, "accounts_v2", e.Table)
		var names []string
		for _, f := range e.Fields {
			names = append(names, f.Name)
		}
		assert.Equal(t, []string{"id", "created_at", "updated_at", "email", "password"}, names)
		id, ok := e.ID()
		require.True(t, ok)
		assert.Equal(t, field.TypeUUID, id.Type)
		require.NoError(t, e.Validate())
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		entity *schema.Entity
	}{
		{
			name: "contradictory_field",
			entity: &schema.Entity{Name: "User", Fields: []*field.Descriptor{
				field.String("email").Optional().Descriptor(),
			}},
		},
		{
			name: "duplicate_field",
			entity: &schema.Entity{Name: "User", Fields: []*field.Descriptor{
				field.String("email").Descriptor(),
				field.String("email").Descriptor(),
			}},
		},
		{
			name: "json_primary_key",
			entity: &schema.Entity{Name: "User", Fields: []*field.Descriptor{
				field.JSON("doc").PrimaryKey().Descriptor(),
			}},
		},
		{
			name: "unknown_index_field",
			entity: &schema.Entity{Name: "User", Indexes: []*index.Descriptor{
				index.Fields("missing").Descriptor(),
			}},
		},
		{
			name: "edge_collides_with_field",
			entity: &schema.Entity{Name: "User",
				Fields: []*field.Descriptor{field.String("team").Descriptor()},
				Edges:  []*edge.Descriptor{edge.From("team", "Team").Ref("users").Unique().Descriptor()},
			},
		},
		{
			name:   "invalid_field_name",
			entity: &schema.Entity{Name: "User", Fields: []*field.Descriptor{field.String("first name").Descriptor()}},
		},
		{
			name:   "invalid_entity_name",
			entity: &schema.Entity{Name: "User-1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.entity.Normalize()
			err := tt.entity.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, modelkit.ErrInvalidField), err.Error())
			assert.True(t, modelkit.IsSchemaError(err))
		})
	}
}

func TestValidateAggregates(t *testing.T) {
	e := &schema.Entity{Name: "User", Fields: []*field.Descriptor{
		field.String("a").Optional().Descriptor(),
		field.Int("b").Range(5, 1).Descriptor(),
	}}
	e.Normalize()
	err := e.Validate()
	var agg *modelkit.AggregateError
	require.ErrorAs(t, err, &agg)
	assert.Len(t, agg.Errors, 2)
}

func TestClone(t *testing.T) {
	e := schema.Of(Team{})
	e.Normalize()
	c := e.Clone()
	c.Fields[1].Name = "title"
	c.Edges[0].Cascade = false
	c.Indexes[0].Fields[0] = "title"
	assert.Equal(t, "name", e.Fields[1].Name)
	assert.True(t, e.Edges[0].Cascade)
	assert.Equal(t, "name", e.Indexes[0].Fields[0])
}

func TestIndexName(t *testing.T) {
	e := schema.Of(Team{})
	e.Normalize()
	assert.Equal(t, "teams_name_key", e.IndexName(e.Indexes[0]))
	assert.Equal(t, "teams_a_b_idx", e.IndexName(index.Fields("a", "b").Descriptor()))
	assert.Equal(t, "custom", e.IndexName(index.Fields("a").StorageKey("custom").Descriptor()))
}
