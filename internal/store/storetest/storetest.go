// Package storetest runs the behavior every store driver must share.
package storetest

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gamenotes/internal/store"
)

// Factory returns a fresh, empty store. Cleanup is the caller's job.
type Factory func(t *testing.T) store.Store

// Run exercises a driver.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("OpenCreatesGeneration", func(t *testing.T) {
		st := newStore(t)
		gen, err := st.Open("gamenotes-cache-v1")
		require.NoError(t, err)
		assert.Equal(t, "gamenotes-cache-v1", gen.Name())

		gens, err := st.Generations()
		require.NoError(t, err)
		require.Len(t, gens, 1)
		assert.Equal(t, "gamenotes-cache-v1", gens[0].Name)
		assert.False(t, gens[0].CreatedAt.IsZero())

		// opening again must not create a second generation
		_, err = st.Open("gamenotes-cache-v1")
		require.NoError(t, err)
		gens, err = st.Generations()
		require.NoError(t, err)
		assert.Len(t, gens, 1)
	})

	t.Run("PutGetOverwrite", func(t *testing.T) {
		st := newStore(t)
		gen, err := st.Open("g1")
		require.NoError(t, err)

		_, ok, err := gen.Get("GET /app.js")
		require.NoError(t, err)
		assert.False(t, ok)

		ent := store.Entry{
			Status:   http.StatusOK,
			Header:   http.Header{"Content-Type": {"application/javascript"}},
			Body:     []byte("console.log(1)"),
			StoredAt: 1700000000,
			Hash32:   42,
		}
		require.NoError(t, gen.Put("GET /app.js", ent))

		got, ok, err := gen.Get("GET /app.js")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, ent, got)

		ent.Body = []byte("console.log(2)")
		require.NoError(t, gen.Put("GET /app.js", ent))
		got, ok, err = gen.Get("GET /app.js")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "console.log(2)", string(got.Body))

		n, size, err := gen.Size()
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Positive(t, size)
	})

	t.Run("GenerationsAreIsolated", func(t *testing.T) {
		st := newStore(t)
		a, err := st.Open("a")
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
		b, err := st.Open("b")
		require.NoError(t, err)

		require.NoError(t, a.Put("GET /", store.Entry{Status: 200, Body: []byte("a")}))
		require.NoError(t, b.Put("GET /", store.Entry{Status: 200, Body: []byte("b")}))
		require.NoError(t, b.Put("GET /x", store.Entry{Status: 200}))

		got, ok, err := a.Get("GET /")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "a", string(got.Body))

		keys, err := b.Keys()
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"GET /", "GET /x"}, keys)

		gens, err := st.Generations()
		require.NoError(t, err)
		require.Len(t, gens, 2)
		assert.Equal(t, "a", gens[0].Name)
		assert.Equal(t, "b", gens[1].Name)
	})

	t.Run("DeleteRemovesEntries", func(t *testing.T) {
		st := newStore(t)
		a, err := st.Open("a")
		require.NoError(t, err)
		b, err := st.Open("b")
		require.NoError(t, err)
		require.NoError(t, a.Put("GET /", store.Entry{Status: 200}))
		require.NoError(t, b.Put("GET /", store.Entry{Status: 200}))

		existed, err := st.Delete("a")
		require.NoError(t, err)
		assert.True(t, existed)

		_, ok, err := a.Get("GET /")
		require.NoError(t, err)
		assert.False(t, ok)
		_, ok, err = b.Get("GET /")
		require.NoError(t, err)
		assert.True(t, ok)

		existed, err = st.Delete("a")
		require.NoError(t, err)
		assert.False(t, existed)

		gens, err := st.Generations()
		require.NoError(t, err)
		require.Len(t, gens, 1)
		assert.Equal(t, "b", gens[0].Name)
	})

	t.Run("PutAfterDeleteIsRejected", func(t *testing.T) {
		st := newStore(t)
		stale, err := st.Open("gamenotes-v1")
		require.NoError(t, err)
		require.NoError(t, stale.Put("GET /", store.Entry{Status: 200}))

		_, err = st.Delete("gamenotes-v1")
		require.NoError(t, err)

		err = stale.Put("GET /late.js", store.Entry{Status: 200})
		assert.ErrorIs(t, err, store.ErrGenerationDeleted)

		gens, err := st.Generations()
		require.NoError(t, err)
		assert.Empty(t, gens)

		reopened, err := st.Open("gamenotes-v1")
		require.NoError(t, err)
		keys, err := reopened.Keys()
		require.NoError(t, err)
		assert.Empty(t, keys)
		_, ok, err := reopened.Get("GET /late.js")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("InvalidName", func(t *testing.T) {
		st := newStore(t)
		_, err := st.Open("")
		assert.ErrorIs(t, err, store.ErrInvalidName)
		_, err = st.Open("bad\x00name")
		assert.ErrorIs(t, err, store.ErrInvalidName)
	})
}
