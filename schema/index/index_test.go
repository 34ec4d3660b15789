package index_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/modelkit/schema/index"
)

func TestIndexFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		build    func() *index.Descriptor
		validate func(t *testing.T, desc *index.Descriptor)
	}{
		{
			name: "single_field",
			build: func() *index.Descriptor {
				return index.Fields("name").Descriptor()
			},
			validate: func(t *testing.T, desc *index.Descriptor) {
				assert.Equal(t, []string{"name"}, desc.Fields)
				assert.False(t, desc.Unique)
				assert.Empty(t, desc.StorageKey)
			},
		},
		{
			name: "multiple_fields",
			build: func() *index.Descriptor {
				return index.Fields("first", "last").Descriptor()
			},
			validate: func(t *testing.T, desc *index.Descriptor) {
				assert.Equal(t, []string{"first", "last"}, desc.Fields)
			},
		},
		{
			name: "unique_with_storage_key",
			build: func() *index.Descriptor {
				return index.Fields("email").Unique().StorageKey("users_email_key").Descriptor()
			},
			validate: func(t *testing.T, desc *index.Descriptor) {
				assert.True(t, desc.Unique)
				assert.Equal(t, "users_email_key", desc.StorageKey)
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

func TestIndexValidate(t *testing.T) {
	t.Parallel()

	assert.Error(t, index.Fields().Descriptor().Validate())
	assert.Error(t, index.Fields("a", "a").Descriptor().Validate())
	assert.Error(t, index.Fields("").Descriptor().Validate())
}

func TestIndexClone(t *testing.T) {
	t.Parallel()

	desc := index.Fields("a", "b").Descriptor()
	c := desc.Clone()
	c.Fields[0] = "z"
	assert.Equal(t, "a", desc.Fields[0])
}
