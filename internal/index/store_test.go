package index

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/ville/internal/retry"
)

var t0 = time.Date(2024, 2, 13, 9, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", NewHashEmbedder(128), retry.Policy{Attempts: 1})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func meta(typ string, poignancy int, create time.Time) Metadata {
	return Metadata{
		Type:      typ,
		Subject:   "Klaus",
		Predicate: "now",
		Object:    "idle",
		Poignancy: poignancy,
		Create:    create,
		Expire:    create.Add(30 * 24 * time.Hour),
		Access:    create,
	}
}

func TestStore_AddGet(t *testing.T) {
	s := openTestStore(t)
	md := meta("event", 4, t0)
	md.Filling = []string{"a", "b"}
	n, err := s.Add("Klaus is reading a paper on gentrification", md)
	require.NoError(t, err)
	assert.NotEmpty(t, n.ID)

	got, err := s.Get(n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.Text, got.Text)
	assert.Equal(t, 4, got.Poignancy)
	assert.True(t, got.Create.Equal(t0))
	assert.Equal(t, []string{"a", "b"}, got.Filling)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_GetManyKeepsOrder(t *testing.T) {
	s := openTestStore(t)
	var ids []string
	for _, text := range []string{"one", "two", "three"} {
		n, err := s.Add(text, meta("event", 1, t0))
		require.NoError(t, err)
		ids = append(ids, n.ID)
	}
	nodes, err := s.GetMany([]string{ids[2], ids[0]})
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "three", nodes[0].Text)
	assert.Equal(t, "one", nodes[1].Text)

	_, err = s.GetMany([]string{ids[0], "gone"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Nearest(t *testing.T) {
	s := openTestStore(t)
	coffee, err := s.Add("Isabella is brewing coffee at the cafe", meta("event", 3, t0))
	require.NoError(t, err)
	piano, err := s.Add("Eddy is playing the piano", meta("event", 3, t0))
	require.NoError(t, err)
	thought, err := s.Add("coffee at the cafe is great", meta("thought", 3, t0))
	require.NoError(t, err)

	got, err := s.Nearest("coffee at the cafe", 2, "", nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.NotEqual(t, piano.ID, got[0].ID)
	assert.NotEqual(t, piano.ID, got[1].ID)
	assert.GreaterOrEqual(t, got[0].Score, got[1].Score)

	got, err = s.Nearest("coffee at the cafe", 5, "event", nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, coffee.ID, got[0].ID)

	got, err = s.Nearest("coffee at the cafe", 5, "", []string{piano.ID, thought.ID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, thought.ID, got[0].ID)

	got, err = s.Nearest("coffee", 5, "", []string{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_ExpiredRemoveTouch(t *testing.T) {
	s := openTestStore(t)
	live, err := s.Add("live", meta("event", 1, t0))
	require.NoError(t, err)
	future, err := s.Add("future", meta("event", 1, t0.Add(time.Hour)))
	require.NoError(t, err)
	oldMeta := meta("event", 1, t0.Add(-48*time.Hour))
	oldMeta.Expire = t0.Add(-time.Hour)
	old, err := s.Add("old", oldMeta)
	require.NoError(t, err)

	ids, err := s.Expired(t0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{future.ID, old.ID}, ids)

	require.NoError(t, s.Remove(ids...))
	require.NoError(t, s.Remove(ids...), "removing twice is a no-op")
	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	later := t0.Add(2 * time.Hour)
	require.NoError(t, s.Touch([]string{live.ID}, later))
	got, err := s.Get(live.ID)
	require.NoError(t, err)
	assert.True(t, got.Access.Equal(later))
}

type flakyEmbedder struct {
	*HashEmbedder
	failures int
}

func (f *flakyEmbedder) Embed(text string) ([]float32, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("embedding backend unavailable")
	}
	return f.HashEmbedder.Embed(text)
}

func TestStore_RetriesEmbedding(t *testing.T) {
	emb := &flakyEmbedder{HashEmbedder: NewHashEmbedder(64), failures: 2}
	s, err := Open(":memory:", emb, retry.Policy{Attempts: 3})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Add("hello", meta("event", 1, t0))
	require.NoError(t, err)

	emb.failures = 5
	_, err = s.Add("hello", meta("event", 1, t0))
	assert.ErrorIs(t, err, retry.ErrExhausted)
}

func TestOpen_EmbedderMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	s, err := Open(path, NewHashEmbedder(64), retry.Once())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path, NewHashEmbedder(64), retry.Once())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path, NewHashEmbedder(32), retry.Once())
	assert.Error(t, err)
}

func TestHashEmbedder(t *testing.T) {
	h := NewHashEmbedder(64)
	a, err := h.Embed("Morning Coffee")
	require.NoError(t, err)
	b, err := h.Embed("morning coffee")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, cosine(a, b), 1e-6)

	z, err := h.Embed("  ")
	require.NoError(t, err)
	assert.Zero(t, cosine(a, z))
	assert.Equal(t, a, decodeVector(encodeVector(a)))
}
