// Package index provides builders for declaring composite and unique
// indexes on entity fields.
package index

import (
	"errors"
	"fmt"
)

// A Descriptor for index configuration.
type Descriptor struct {
	Unique     bool     // unique index.
	Fields     []string // indexed fields, in order.
	StorageKey string   // custom index name.
}

// Builder for indexes on fields.
type Builder struct {
	desc *Descriptor
}

// Fields creates an index on the given fields.
//
//	// Unique index on 2 fields.
//	index.Fields("first", "last").Unique()
func Fields(fields ...string) *Builder {
	return &Builder{desc: &Descriptor{Fields: fields}}
}

// Unique sets the index to be a unique index.
func (b *Builder) Unique() *Builder {
	b.desc.Unique = true
	return b
}

// StorageKey sets the storage key of the index. In SQL dialects, it's the
// index name.
func (b *Builder) StorageKey(key string) *Builder {
	b.desc.StorageKey = key
	return b
}

// Descriptor implements the modelkit.Index interface by returning its descriptor.
func (b *Builder) Descriptor() *Descriptor {
	return b.desc
}

// Clone returns a deep copy of the descriptor.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	c.Fields = append([]string(nil), d.Fields...)
	return &c
}

// Validate checks that the index names at least one field and no field twice.
func (d *Descriptor) Validate() error {
	if len(d.Fields) == 0 {
		return errors.New("index without fields")
	}
	seen := make(map[string]struct{}, len(d.Fields))
	for _, f := range d.Fields {
		if f == "" {
			return errors.New("index with an empty field name")
		}
		if _, ok := seen[f]; ok {
			return fmt.Errorf("duplicate field %q in index", f)
		}
		seen[f] = struct{}{}
	}
	return nil
}
