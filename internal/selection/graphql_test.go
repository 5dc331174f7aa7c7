package selection

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromQuery(t *testing.T) {
	t.Run("nested fields and aliases", func(t *testing.T) {
		s, err := FromQuery(`{
			title
			headline: title
			studios { name }
			__typename
		}`, "", nil)
		require.NoError(t, err)
		require.Equal(t, "{title studios {name}}", s.String())
	})

	t.Run("fragments merge", func(t *testing.T) {
		s, err := FromQuery(`
			query Q {
				studios { name }
				...F
				... on Film { studios { country } }
			}
			fragment F on Film { studios { founded } year }
		`, "Q", nil)
		require.NoError(t, err)
		want := mustNew(t, Object("studios", Leaf("name"), Leaf("founded"), Leaf("country")), Leaf("year"))
		require.True(t, want.Equal(s), s.String())
	})

	t.Run("skip and include", func(t *testing.T) {
		s, err := FromQuery(`query($withCast: Boolean!) {
			title
			year @skip(if: true)
			cast @include(if: $withCast) { name }
			studios @include(if: true) { name }
		}`, "", map[string]any{"withCast": false})
		require.NoError(t, err)
		require.Equal(t, "{title studios {name}}", s.String())
	})

	t.Run("fragment spread with skip", func(t *testing.T) {
		s, err := FromQuery(`{ title ...F @skip(if: true) } fragment F on Film { year }`, "", nil)
		require.NoError(t, err)
		require.Equal(t, "{title}", s.String())
	})

	t.Run("errors", func(t *testing.T) {
		_, err := FromQuery(`{ title `, "", nil)
		require.Error(t, err)

		_, err = FromQuery(`{ title ...Missing }`, "", nil)
		require.ErrorContains(t, err, "unknown fragment")

		_, err = FromQuery(`query A { a } query B { b }`, "", nil)
		require.ErrorContains(t, err, "not found")

		_, err = FromQuery(`query($v: Boolean) { a @skip(if: $v) }`, "", nil)
		require.ErrorContains(t, err, "must be Boolean")
	})
}
