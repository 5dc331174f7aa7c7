package materialize

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestTableComputesOnce(t *testing.T) {
	t.Cleanup(func() {
		goleak.VerifyNone(t)
	})

	var builds atomic.Int32
	release := make(chan struct{})
	tbl := NewTable()
	require.NoError(t, tbl.Register("Film", func() (*TypeInfo, error) {
		builds.Add(1)
		<-release
		return filmInfo(), nil
	}))

	const callers = 16
	var wg sync.WaitGroup
	infos := make([]*TypeInfo, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			info, err := tbl.TypeInfo("Film")
			require.NoError(t, err)
			infos[i] = info
		}(i)
	}
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), builds.Load())
	for _, info := range infos {
		require.Same(t, infos[0], info)
	}
}

func TestTableErrors(t *testing.T) {
	t.Run("duplicate registration", func(t *testing.T) {
		tbl := NewTable()
		require.NoError(t, tbl.Register("Film", Static(filmInfo())))
		require.ErrorIs(t, tbl.Register("Film", Static(filmInfo())), ErrUnsupportedShape)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := NewTable().TypeInfo("Film")
		require.ErrorIs(t, err, ErrUnknownType)
	})

	t.Run("build error is remembered", func(t *testing.T) {
		var builds int
		tbl := NewTable()
		require.NoError(t, tbl.Register("Bad", func() (*TypeInfo, error) {
			builds++
			return &TypeInfo{Name: "Bad"}, nil
		}))
		for i := 0; i < 3; i++ {
			_, err := tbl.TypeInfo("Bad")
			require.ErrorIs(t, err, ErrUnsupportedShape)
		}
		require.Equal(t, 1, builds)
	})

	t.Run("name mismatch", func(t *testing.T) {
		tbl := NewTable()
		require.NoError(t, tbl.Register("Movie", Static(filmInfo())))
		_, err := tbl.TypeInfo("Movie")
		require.ErrorIs(t, err, ErrUnsupportedShape)
	})

	t.Run("invalid members", func(t *testing.T) {
		info := filmInfo()
		info.Members = append(info.Members, info.Members[0])
		tbl := NewTable()
		require.NoError(t, tbl.Register("Film", Static(info)))
		_, err := tbl.TypeInfo("Film")
		require.ErrorIs(t, err, ErrUnsupportedShape)
	})

	t.Run("warm reports unknown targets", func(t *testing.T) {
		tbl := NewTable()
		require.NoError(t, tbl.Register("Film", Static(filmInfo())))
		require.ErrorIs(t, tbl.Warm(), ErrUnknownType)
	})

	t.Run("warm reports unsupported shapes", func(t *testing.T) {
		type Tagged struct {
			ID    int            `fetch:"id"`
			Index map[string]any `fetch:"rel=Node"`
		}
		tbl := NewTable()
		require.NoError(t, tbl.Register("Tagged", Describe[Tagged]("Tagged")))
		require.ErrorIs(t, tbl.Warm(), ErrUnsupportedShape)
	})
}

func TestDescribe(t *testing.T) {
	info, err := Describe[Person]("Person")()
	require.NoError(t, err)
	require.Equal(t, "Person", info.Name)
	require.Len(t, info.Members, 1)
	films := info.Members[0]
	require.Equal(t, "films", films.Name)
	require.Equal(t, "Film", films.Target)
	require.True(t, films.Collection)

	p := &Person{ID: "alice"}
	id, err := info.ID(p)
	require.NoError(t, err)
	require.Equal(t, "alice", id)

	v, err := films.Get(p)
	require.NoError(t, err)
	require.Nil(t, v)

	f := &Film{ID: 1}
	require.NoError(t, films.Set(p, []any{f, nil}))
	require.Equal(t, []*Film{f, nil}, p.Films)
	require.ErrorIs(t, films.Set(p, []any{&Node{}}), ErrAccessor)
	require.ErrorIs(t, films.Set(&Film{}, nil), ErrAccessor)

	unsupported := []struct {
		name  string
		build Builder
	}{
		{"not a struct", Describe[int]("Int")},
		{"no identifier", Describe[struct {
			Next *Node `fetch:"rel=Node"`
		}]("X")},
		{"two identifiers", Describe[struct {
			A int `fetch:"id"`
			B int `fetch:"id"`
		}]("X")},
		{"interface identifier", Describe[struct {
			ID any `fetch:"id"`
		}]("X")},
		{"unexported", Describe[struct {
			ID   int   `fetch:"id"`
			next *Node `fetch:"rel=Node"`
		}]("X")},
		{"value relation", Describe[struct {
			ID   int  `fetch:"id"`
			Next Node `fetch:"rel=Node"`
		}]("X")},
		{"collection of values", Describe[struct {
			ID    int    `fetch:"id"`
			Nodes []Node `fetch:"rel=Node"`
		}]("X")},
		{"unknown tag", Describe[struct {
			ID int `fetch:"key"`
		}]("X")},
		{"empty target", Describe[struct {
			ID   int   `fetch:"id"`
			Next *Node `fetch:"rel="`
		}]("X")},
	}
	for _, tc := range unsupported {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.build()
			require.ErrorIs(t, err, ErrUnsupportedShape)
		})
	}
}

func TestTypedMembers(t *testing.T) {
	sequel := filmInfo().Members[0]
	f := &Film{ID: 1}

	v, err := sequel.Get(f)
	require.NoError(t, err)
	require.Nil(t, v, "typed nil pointers read as absent")

	require.NoError(t, sequel.Set(f, f))
	require.Same(t, f, f.Sequel)
	require.ErrorIs(t, sequel.Set(f, &Node{}), ErrAccessor)
	_, err = sequel.Get(&Node{})
	require.ErrorIs(t, err, ErrAccessor)

	loaded := Loaded(sequel, func(f *Film) bool { return f.ID > 1 })
	require.False(t, loaded.initialized(f))
	require.True(t, loaded.initialized(&Film{ID: 2}))
}
