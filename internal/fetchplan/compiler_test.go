package fetchplan

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	metadata "github.com/hanpama/fetchgraph/internal/metadata"
	selection "github.com/hanpama/fetchgraph/internal/selection"
)

const filmsSDL = `
type Film @entity {
  id: ID! @id
  title: String
  year: Int
  studios: [String] @lazy
  directors: [String] @lazy
  budget: Money
  trivia: Trivia @lazy
  sequel: Film
  cast: [Person]
}

type Person @entity {
  id: ID! @id
  name: String
  bio: String @lazy
  films: [Film]
}

type Money @embeddable {
  amount: Int
  currency: String
  note: String @lazy
}

type Trivia @embeddable {
  text: String
}
`

func films(t *testing.T) *metadata.Entity {
	t.Helper()
	reg, err := metadata.FromSDL("films.graphql", filmsSDL)
	require.NoError(t, err)
	film, ok := reg.Lookup("Film")
	require.True(t, ok)
	return film
}

func sel(t *testing.T, nodes ...selection.Node) *selection.Selection {
	t.Helper()
	s, err := selection.New(nodes...)
	require.NoError(t, err)
	return s
}

func assertPaths(t *testing.T, want, got []string) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("paths mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileLazyColumns(t *testing.T) {
	t.Run("film scenario", func(t *testing.T) {
		film := &metadata.Entity{
			Type:        "Film",
			ID:          "id",
			Columns:     []string{"title", "year"},
			LazyColumns: []string{"studios", "directors", "cast"},
		}
		got := New().Paths(film, sel(t, selection.Leaf("studios"), selection.Leaf("directors")))
		assertPaths(t, []string{"directors", "id", "studios", "title", "year"}, got)
	})

	t.Run("minimal", func(t *testing.T) {
		e := &metadata.Entity{Type: "T", ID: "id", Columns: []string{"a", "b"}, LazyColumns: []string{"c", "d"}}
		got := New().Paths(e, sel(t, selection.Leaf("c")))
		assertPaths(t, []string{"a", "b", "c", "id"}, got)
	})

	t.Run("glob selection", func(t *testing.T) {
		e := &metadata.Entity{Type: "T", ID: "id", LazyColumns: []string{"c", "d"}}
		s, err := selection.New(selection.Leaf("c"), selection.Leaf("d"))
		require.NoError(t, err)
		require.True(t, s.Contains("*"))
		assertPaths(t, []string{"c", "d", "id"}, New().Paths(e, s))
	})

	t.Run("nil and empty selections fetch eager columns only", func(t *testing.T) {
		e := &metadata.Entity{Type: "T", ID: "id", Columns: []string{"a"}, LazyColumns: []string{"c"}}
		assertPaths(t, []string{"a", "id"}, New().Paths(e, nil))
		assertPaths(t, []string{"a", "id"}, New().Paths(e, selection.Empty()))
	})
}

func TestCompileEmbedded(t *testing.T) {
	film := films(t)

	t.Run("eager embedded without selection", func(t *testing.T) {
		got := New().Paths(film, sel(t, selection.Leaf("title")))
		assertPaths(t, []string{"budget.amount", "budget.currency", "id", "title", "year"}, got)
	})

	t.Run("lazy column of embedded value", func(t *testing.T) {
		got := New().Paths(film, sel(t, selection.Object("budget", selection.Leaf("note"))))
		assertPaths(t, []string{"budget.amount", "budget.currency", "budget.note", "id", "title", "year"}, got)
	})

	t.Run("lazy embedded when selected", func(t *testing.T) {
		got := New().Paths(film, sel(t, selection.Object("trivia", selection.Leaf("text"))))
		require.Contains(t, got, "trivia.text")

		got = New().Paths(film, sel(t, selection.Leaf("trivia")))
		require.NotContains(t, got, "trivia.text", "a leaf match has no sub-selection")
	})
}

func TestCompileRelations(t *testing.T) {
	film := films(t)

	t.Run("selected relations only", func(t *testing.T) {
		s := sel(t,
			selection.Object("cast", selection.Leaf("bio")),
			selection.Object("sequel", selection.Leaf("title")),
		)
		got := New().Paths(film, s)
		want := []string{
			"budget.amount", "budget.currency",
			"cast.bio", "cast.id", "cast.name",
			"id",
			"sequel.budget.amount", "sequel.budget.currency", "sequel.id", "sequel.title", "sequel.year",
			"title", "year",
		}
		assertPaths(t, want, got)
	})

	t.Run("cyclic path bounded by selection depth", func(t *testing.T) {
		s := sel(t, selection.Object("cast", selection.Object("films", selection.Object("cast"))))
		got := New().Paths(film, s)
		require.Contains(t, got, "cast.films.cast.id")
		require.NotContains(t, got, "cast.films.cast.films.id")
	})

	t.Run("full selection terminates on cyclic metadata", func(t *testing.T) {
		got := New().Paths(film, selection.Full())
		for _, p := range []string{"id", "studios", "directors", "budget.note", "trivia.text", "cast.id", "cast.bio"} {
			require.Contains(t, got, p)
		}
		require.NotContains(t, got, "sequel.id", "self relation is cut before the hop")
		require.NotContains(t, got, "cast.films.id")
	})

	t.Run("full selection on a self relation", func(t *testing.T) {
		node := &metadata.Entity{Type: "Node", ID: "id", Columns: []string{"name"}}
		node.Relations = map[string]*metadata.Entity{"parent": node}
		assertPaths(t, []string{"id", "name"}, New().Paths(node, selection.Full()))

		s := sel(t, selection.Object("parent", selection.Leaf("name")))
		assertPaths(t, []string{"id", "name", "parent.id", "parent.name"}, New().Paths(node, s))
	})

	t.Run("max depth", func(t *testing.T) {
		s := sel(t, selection.Object("sequel", selection.Object("sequel", selection.Object("sequel"))))
		got := New(WithMaxDepth(2)).Paths(film, s)
		require.Contains(t, got, "sequel.sequel.id")
		require.NotContains(t, got, "sequel.sequel.sequel.id")
	})
}

func TestCompileSkipOver(t *testing.T) {
	studio := &metadata.Entity{Type: "Studio", ID: "id", Columns: []string{"name"}, LazyColumns: []string{"country"}}
	link := &metadata.Entity{Type: "StudioLink", ID: "id", Columns: []string{"role"}, Relations: map[string]*metadata.Entity{"studio": studio}}
	film := &metadata.Entity{Type: "Film", ID: "id", Columns: []string{"title"}, Relations: map[string]*metadata.Entity{"studioLinks": link}}

	core, logs := observer.New(zapcore.DebugLevel)
	s := sel(t, selection.Object("studios", selection.Leaf("country"))).
		WithSkipOvers(selection.NewSkipOvers(
			selection.SkipOver{Field: "studioLinks", Target: "studios"},
			selection.SkipOver{Field: "studio", Type: "StudioLink"},
		))

	got := New(WithLogger(zap.New(core))).Paths(film, s)
	want := []string{
		"id",
		"studioLinks.id", "studioLinks.role",
		"studioLinks.studio.country", "studioLinks.studio.id", "studioLinks.studio.name",
		"title",
	}
	assertPaths(t, want, got)
	require.Zero(t, logs.Len(), "fields reached through skip-overs are not unknown")

	t.Run("without rules the hop is invisible", func(t *testing.T) {
		plain := sel(t, selection.Object("studios", selection.Leaf("country")))
		assertPaths(t, []string{"id", "title"}, New().Paths(film, plain))
	})
}

func TestCompileUnknownFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	c := New(WithLogger(zap.New(core)))
	e := &metadata.Entity{Type: "Film", ID: "id", Columns: []string{"title"}}

	got := c.Paths(e, sel(t, selection.Leaf("title"), selection.Leaf("rating")))
	assertPaths(t, []string{"id", "title"}, got)

	entries := logs.FilterMessage("selected field has no fetch metadata").All()
	require.Len(t, entries, 1)
	require.Equal(t, map[string]any{"type": "Film", "field": "rating"}, entries[0].ContextMap())
}

func TestPathSet(t *testing.T) {
	s := NewPathSet()
	for _, p := range []string{"b", "a", "b", "c"} {
		s.Fetch(p)
	}
	require.Equal(t, 3, s.Len())
	require.True(t, s.Has("a"))
	require.Equal(t, []string{"b", "a", "c"}, s.Emitted())
	require.Equal(t, []string{"a", "b", "c"}, s.Paths())

	var calls []string
	New().Compile(&metadata.Entity{Type: "T", ID: "id"}, nil, FetcherFunc(func(p string) { calls = append(calls, p) }))
	require.Equal(t, []string{"id"}, calls)
}
