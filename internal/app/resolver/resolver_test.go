package resolver

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheBlackParrot/SpinRequests/internal/infra/spinshare"
)

type fakeCatalog struct {
	searchQueries []string
	detailIDs     []int

	searchResults []spinshare.Song
	searchErr     error
	details       map[int]*spinshare.SongDetail
	detailErr     error
}

func (f *fakeCatalog) Search(_ context.Context, query string) ([]spinshare.Song, error) {
	f.searchQueries = append(f.searchQueries, query)
	return f.searchResults, f.searchErr
}

func (f *fakeCatalog) GetSongDetail(_ context.Context, id int) (*spinshare.SongDetail, error) {
	f.detailIDs = append(f.detailIDs, id)
	if f.detailErr != nil {
		return nil, f.detailErr
	}
	if detail, ok := f.details[id]; ok {
		return detail, nil
	}
	return nil, errors.Mark(errors.Newf("no detail for %d", id), spinshare.ErrNotFound)
}

func TestResolveNumericToken(t *testing.T) {
	catalog := &fakeCatalog{
		details: map[int]*spinshare.SongDetail{
			12345: {ID: 12345, Title: "Foo", FileReference: "foo_123"},
		},
	}

	detail, err := New(catalog).Resolve(context.Background(), "12345")

	require.NoError(t, err)
	assert.Equal(t, 12345, detail.ID)
	assert.Empty(t, catalog.searchQueries, "a numeric token must not hit search")
	assert.Equal(t, []int{12345}, catalog.detailIDs)
}

func TestResolveTextToken(t *testing.T) {
	catalog := &fakeCatalog{
		searchResults: []spinshare.Song{
			{ID: 777, Title: "First Hit"},
			{ID: 888, Title: "Second Hit"},
		},
		details: map[int]*spinshare.SongDetail{
			777: {ID: 777, Title: "First Hit", FileReference: "first_1"},
		},
	}

	detail, err := New(catalog).Resolve(context.Background(), "some song name")

	require.NoError(t, err)
	assert.Equal(t, 777, detail.ID)
	assert.Equal(t, []string{"some song name"}, catalog.searchQueries)
	// The first hit is re-fetched by ID for full metadata.
	assert.Equal(t, []int{777}, catalog.detailIDs)
}

func TestResolveNoSearchResults(t *testing.T) {
	catalog := &fakeCatalog{}

	_, err := New(catalog).Resolve(context.Background(), "unknown search text")

	assert.True(t, errors.Is(err, ErrNoResults))
	assert.Empty(t, catalog.detailIDs)
}

func TestResolveSearchErrorPassesThrough(t *testing.T) {
	upstream := errors.Mark(errors.New("deadline"), spinshare.ErrTimeout)
	catalog := &fakeCatalog{searchErr: upstream}

	_, err := New(catalog).Resolve(context.Background(), "some song")

	assert.True(t, errors.Is(err, spinshare.ErrTimeout))
}

func TestResolveUnknownID(t *testing.T) {
	catalog := &fakeCatalog{}

	_, err := New(catalog).Resolve(context.Background(), "99999")

	assert.True(t, errors.Is(err, spinshare.ErrNotFound))
}
