// Package fixture declares the entities shared by the package tests.
package fixture

import (
	"github.com/syssam/modelkit"
	"github.com/syssam/modelkit/graph"
	"github.com/syssam/modelkit/schema/edge"
	"github.com/syssam/modelkit/schema/field"
	"github.com/syssam/modelkit/schema/index"
	"github.com/syssam/modelkit/schema/mixin"
)

// Team has many heroes. Deleting a team deletes its heroes.
type Team struct{ modelkit.Schema }

func (Team) Fields() []modelkit.Field {
	return []modelkit.Field{
		field.String("name").NotEmpty().Unique(),
	}
}

func (Team) Edges() []modelkit.Edge {
	return []modelkit.Edge{
		edge.To("heroes", "Hero").CascadeDelete(),
	}
}

// Hero belongs to a team and has many powers.
type Hero struct{ modelkit.Schema }

func (Hero) Fields() []modelkit.Field {
	return []modelkit.Field{
		field.String("name").NotEmpty(),
		field.Int("level").Range(1, 99).Default(1),
		field.String("secret").Sensitive().Nillable(),
		field.Int("team_id").Nillable(),
	}
}

func (Hero) Edges() []modelkit.Edge {
	return []modelkit.Edge{
		edge.From("team", "Team").Ref("heroes").Field("team_id").Unique(),
		edge.To("powers", "Power"),
	}
}

// Power is shared by many heroes through a generated link entity.
type Power struct{ modelkit.Schema }

func (Power) Fields() []modelkit.Field {
	return []modelkit.Field{
		field.String("name").Unique(),
	}
}

func (Power) Edges() []modelkit.Edge {
	return []modelkit.Edge{
		edge.From("heroes", "Hero").Ref("powers"),
	}
}

// User has one profile and joins groups through memberships.
type User struct{ modelkit.Schema }

func (User) Mixin() []modelkit.Mixin {
	return []modelkit.Mixin{
		mixin.Time{},
	}
}

func (User) Fields() []modelkit.Field {
	return []modelkit.Field{
		field.String("email").Unique().Immutable(),
		field.String("password").Sensitive(),
		field.String("name").Optional().Default(""),
	}
}

func (User) Edges() []modelkit.Edge {
	return []modelkit.Edge{
		edge.To("profile", "Profile").Unique().CascadeDelete(),
		edge.To("groups", "Group").Through("Membership"),
	}
}

// Profile is owned by exactly one user.
type Profile struct{ modelkit.Schema }

func (Profile) Fields() []modelkit.Field {
	return []modelkit.Field{
		field.String("bio").Default(""),
	}
}

func (Profile) Edges() []modelkit.Edge {
	return []modelkit.Edge{
		edge.From("user", "User").Ref("profile").Unique().Required(),
	}
}

// Group has many users.
type Group struct{ modelkit.Schema }

func (Group) Mixin() []modelkit.Mixin {
	return []modelkit.Mixin{
		mixin.UUIDID{},
	}
}

func (Group) Fields() []modelkit.Field {
	return []modelkit.Field{
		field.String("name"),
	}
}

func (Group) Edges() []modelkit.Edge {
	return []modelkit.Edge{
		edge.From("users", "User").Ref("groups"),
	}
}

// Membership is the supplied link entity between users and groups.
type Membership struct{ modelkit.Schema }

func (Membership) Fields() []modelkit.Field {
	return []modelkit.Field{
		field.Int("user_id").PrimaryKey(),
		field.UUID("group_id").PrimaryKey(),
		field.Enum("role").Values("member", "admin").Default("member"),
	}
}

func (Membership) Indexes() []modelkit.Index {
	return []modelkit.Index{
		index.Fields("group_id", "role"),
	}
}

// Declarations returns every fixture declaration.
func Declarations() []modelkit.Interface {
	return []modelkit.Interface{Team{}, Hero{}, Power{}, User{}, Profile{}, Group{}, Membership{}}
}

// Graph returns the validated graph of all fixture entities.
func Graph() (*graph.Graph, error) {
	return graph.Build(Declarations()...)
}

// MustGraph is like Graph but panics on error.
func MustGraph() *graph.Graph {
	g, err := Graph()
	if err != nil {
		panic(err)
	}
	return g
}

// Heroes returns the validated graph of the Team, Hero and Power entities.
func Heroes() *graph.Graph {
	g, err := graph.Build(Team{}, Hero{}, Power{})
	if err != nil {
		panic(err)
	}
	return g
}
