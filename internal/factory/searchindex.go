package factory

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/searchindex"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/searchindex/fts5"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/searchindex/pgtext"
	storepkg "github.com/Mystery2099/dnd-pwa-sub000/internal/store"
)

// NewSearchIndex returns the index living beside st. When the index table is
// missing it is rebuilt from the store in the background; searches use the
// substring fallback until that finishes.
func NewSearchIndex(ctx context.Context, st storepkg.Store, bootstrapTimeout time.Duration, log zerolog.Logger) searchindex.Index {
	var idx searchindex.Index
	switch st.Dialect() {
	case "postgres":
		idx = pgtext.New(st.DB(), log)
	default:
		idx = fts5.New(st.DB(), log)
	}

	go func() {
		bctx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
		defer cancel()
		err := idx.HealthPing(bctx)
		if err == nil {
			return
		}
		if !errors.Is(err, searchindex.ErrNotInitialized) {
			log.Warn().Err(err).Str("dialect", st.Dialect()).Msg("search index bootstrap check failed")
			return
		}
		n, err := idx.RebuildAll(bctx, st.Items())
		if err != nil {
			log.Warn().Err(err).Msg("search index bootstrap failed")
			return
		}
		log.Debug().Int("items", n).Msg("search index bootstrap completed")
	}()

	return idx
}
