// Package viewgen renders the views of a validated graph as Go structs and
// as GraphQL SDL.
//
// For every registered entity it emits three shapes: <Entity>Create,
// <Entity>Public and <Entity>Update. Link entities generated for
// many-to-many relations are skipped.
package viewgen

import (
	"github.com/syssam/modelkit"
	"github.com/syssam/modelkit/graph"
	"github.com/syssam/modelkit/view"
)

// Header is the comment written at the top of generated files.
const Header = "Code generated by modelkit, DO NOT EDIT."

// entity is the set of views of one entity.
type entity struct {
	name    string
	comment string
	views   []view.FieldSet
}

// entities derives the views of the registered entities of g.
func entities(g *graph.Graph) ([]*entity, error) {
	if !g.Sealed() {
		return nil, modelkit.ErrNotValidated
	}
	var es []*entity
	for _, t := range g.Types() {
		if t.Link {
			continue
		}
		e := &entity{name: t.Name, comment: t.Comment}
		for _, k := range view.Kinds() {
			e.views = append(e.views, view.Derive(t.Name, t.Fields, k))
		}
		es = append(es, e)
	}
	return es, nil
}

// typeName returns the name of the generated type of a view.
//
//	Team, Create => TeamCreate
func typeName(fs view.FieldSet) string {
	switch fs.Kind {
	case view.Create:
		return fs.Entity + "Create"
	case view.Update:
		return fs.Entity + "Update"
	default:
		return fs.Entity + "Public"
	}
}

// optional reports if the view field may be absent, which is rendered as a
// pointer in Go and as a nullable type in SDL.
func optional(fs view.FieldSet, f view.Field) bool {
	switch fs.Kind {
	case view.Update:
		return true
	case view.Create:
		return !f.Required || f.Nullable
	default:
		return f.Nullable
	}
}
