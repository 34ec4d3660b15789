package edge_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/modelkit/schema/edge"
)

func TestEdgeTo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		build    func() *edge.Descriptor
		validate func(t *testing.T, desc *edge.Descriptor)
	}{
		{
			name: "basic_edge",
			build: func() *edge.Descriptor {
				return edge.To("heroes", "Hero").Descriptor()
			},
			validate: func(t *testing.T, desc *edge.Descriptor) {
				assert.Equal(t, "heroes", desc.Name)
				assert.Equal(t, "Hero", desc.Type)
				assert.False(t, desc.Inverse)
				assert.False(t, desc.Unique)
				assert.False(t, desc.Cascade)
				assert.Empty(t, desc.Through)
				assert.Empty(t, desc.Comment)
			},
		},
		{
			name: "unique_edge",
			build: func() *edge.Descriptor {
				return edge.To("profile", "Profile").Unique().Descriptor()
			},
			validate: func(t *testing.T, desc *edge.Descriptor) {
				assert.True(t, desc.Unique)
			},
		},
		{
			name: "cascade_edge",
			build: func() *edge.Descriptor {
				return edge.To("heroes", "Hero").CascadeDelete().Comment("members").Descriptor()
			},
			validate: func(t *testing.T, desc *edge.Descriptor) {
				assert.True(t, desc.Cascade)
				assert.Equal(t, "members", desc.Comment)
			},
		},
		{
			name: "through_edge",
			build: func() *edge.Descriptor {
				return edge.To("groups", "Group").Through("Membership").Descriptor()
			},
			validate: func(t *testing.T, desc *edge.Descriptor) {
				assert.Equal(t, "Membership", desc.Through)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			desc := tt.build()
			require.NoError(t, desc.Validate())
			tt.validate(t, desc)
		})
	}
}

func TestEdgeFrom(t *testing.T) {
	t.Parallel()

	desc := edge.From("team", "Team").
		Ref("heroes").
		Field("team_id").
		Unique().
		Required().
		Descriptor()
	require.NoError(t, desc.Validate())
	assert.Equal(t, "team", desc.Name)
	assert.Equal(t, "Team", desc.Type)
	assert.True(t, desc.Inverse)
	assert.Equal(t, "heroes", desc.RefName)
	assert.Equal(t, "team_id", desc.Field)
	assert.True(t, desc.Unique)
	assert.True(t, desc.Required)
}

func TestEdgeValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		desc *edge.Descriptor
	}{
		{"missing_name", edge.To("", "Hero").Descriptor()},
		{"missing_target", edge.To("heroes", "").Descriptor()},
		{"field_on_many", edge.From("teams", "Team").Ref("heroes").Field("team_id").Descriptor()},
		{"unique_through", edge.To("group", "Group").Unique().Through("Membership").Descriptor()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Error(t, tt.desc.Validate())
		})
	}
}

func TestEdgeM2M(t *testing.T) {
	t.Parallel()

	groups := edge.To("groups", "Group").Descriptor()
	users := edge.From("users", "User").Ref("groups").Descriptor()
	assert.True(t, groups.M2M(users))
	assert.False(t, groups.M2M(nil))

	team := edge.From("team", "Team").Ref("heroes").Unique().Descriptor()
	assert.False(t, edge.To("heroes", "Hero").Descriptor().M2M(team))
}

func TestEdgeClone(t *testing.T) {
	t.Parallel()

	desc := edge.To("heroes", "Hero").Descriptor()
	c := desc.Clone()
	c.Name = "members"
	assert.Equal(t, "heroes", desc.Name)
}
