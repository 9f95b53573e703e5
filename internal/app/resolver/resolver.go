// Package resolver turns raw request tokens into canonical song detail.
package resolver

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/TheBlackParrot/SpinRequests/internal/infra/spinshare"
)

// ErrNoResults indicates a free-text search matched nothing upstream.
var ErrNoResults = errors.New("no results for search")

// CatalogAPI is the slice of the SpinShare client the resolver needs.
type CatalogAPI interface {
	Search(ctx context.Context, query string) ([]spinshare.Song, error)
	GetSongDetail(ctx context.Context, id int) (*spinshare.SongDetail, error)
}

// Resolver resolves tokens against the upstream catalog. It is a pure
// query component with no side effects.
type Resolver struct {
	api CatalogAPI
}

// New creates a resolver backed by the given catalog API.
func New(api CatalogAPI) *Resolver {
	return &Resolver{api: api}
}

// Resolve maps a raw path token to full song detail. A token that parses
// as an integer is treated as a direct catalog ID; anything else is a
// free-text search whose first hit is re-fetched by ID, since search
// results carry incomplete metadata.
func (r *Resolver) Resolve(ctx context.Context, token string) (*spinshare.SongDetail, error) {
	id, err := strconv.Atoi(token)
	if err != nil {
		zlog.Info().Str("query", token).Msg("searching")

		songs, err := r.api.Search(ctx, token)
		if err != nil {
			return nil, err
		}
		if len(songs) == 0 {
			return nil, errors.Mark(errors.Newf("no results for %q", token), ErrNoResults)
		}
		id = songs[0].ID
	}

	return r.api.GetSongDetail(ctx, id)
}
