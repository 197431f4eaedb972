package kvstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeReport struct {
	Title     string `json:"title"`
	Submitted bool   `json:"submitted"`
}

func newTestStore(t *testing.T) Store {
	database, err := OpenMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() {
		database.Close()
	})

	store, err := NewStore(database)
	require.NoError(t, err)
	return store
}

func TestLoadMissingKey(t *testing.T) {
	store := newTestStore(t)

	var out []fakeReport
	ok, err := store.Load(context.Background(), "reports_2024_1", &out)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, out)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	in := []fakeReport{
		{Title: "第1回レポート", Submitted: true},
		{Title: "第2回レポート", Submitted: false},
	}
	require.NoError(t, store.Save(ctx, "reports_2024_1", in))

	var out []fakeReport
	ok, err := store.Load(ctx, "reports_2024_1", &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, in, out)
}

func TestSaveOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "k", fakeReport{Title: "old"}))
	require.NoError(t, store.Save(ctx, "k", fakeReport{Title: "new"}))

	var out fakeReport
	ok, err := store.Load(ctx, "k", &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "new", out.Title)
}

func TestEmptyDatasetIsNotMissing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "quizzes_2024_2", []fakeReport{}))

	var out []fakeReport
	ok, err := store.Load(ctx, "quizzes_2024_2", &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, out)
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "k", fakeReport{Title: "v"}))
	require.NoError(t, store.Delete(ctx, "k"))

	var out fakeReport
	ok, err := store.Load(ctx, "k", &out)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTermKey(t *testing.T) {
	require.Equal(t, "reports_2024_1", TermKey("reports", 2024, 1))
}
