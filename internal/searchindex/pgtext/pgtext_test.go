package pgtext

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/Mystery2099/dnd-pwa-sub000/internal/errors"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/searchindex"
)

func newIndexWithMock(t *testing.T) (*Index, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, zerolog.Nop()), mock
}

type oneBatch []model.NormalizedItem

func (b oneBatch) Scan(_ context.Context, afterID int64, _ int) ([]model.NormalizedItem, error) {
	if afterID > 0 {
		return nil, nil
	}
	return b, nil
}

func TestTSQuery(t *testing.T) {
	assert.Equal(t, "fire & bo:*", TSQuery("Fire, bo"))
	assert.Equal(t, "", TSQuery("&|!"))
}

func TestSearch_RanksWithinType(t *testing.T) {
	idx, mock := newIndexWithMock(t)

	mock.ExpectQuery(`(?s)SELECT\s+item_id\s+FROM\s+items_search\s+WHERE\s+item_type\s*=\s*\$1\s+AND\s+document\s+@@\s+to_tsquery\('english',\s*\$2\).*ts_rank.*LIMIT\s+\$3`).
		WithArgs("spell", "fire:*", 5).
		WillReturnRows(sqlmock.NewRows([]string{"item_id"}).AddRow(int64(9)).AddRow(int64(2)))

	ids, err := idx.Search(context.Background(), model.TypeSpell, "fire", 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{9, 2}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearch_WrapsFailures(t *testing.T) {
	idx, mock := newIndexWithMock(t)
	mock.ExpectQuery(`FROM\s+items_search`).WillReturnError(errors.New(`relation "items_search" does not exist`))

	_, err := idx.Search(context.Background(), model.TypeSpell, "fire", 5)
	assert.True(t, perrors.IsIndexError(err))
}

func TestRebuildAll_TruncatesThenUpserts(t *testing.T) {
	idx, mock := newIndexWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`^TRUNCATE\s+items_search$`).WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare(`INSERT\s+INTO\s+items_search.*ON\s+CONFLICT\s+\(item_id\)`)
	prep.ExpectExec().
		WithArgs(int64(1), "spell", "Fireball", "Level 3 Evocation", "A bright streak").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := idx.RebuildAll(context.Background(), oneBatch{{
		ID: 1, Type: model.TypeSpell, Name: "Fireball", Summary: "Level 3 Evocation",
		Details: model.Details{"desc": "A bright streak"},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveItems(t *testing.T) {
	idx, mock := newIndexWithMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM items_search WHERE item_id IN ($1, $2)`)).
		WithArgs(int64(4), int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, idx.RemoveItems(context.Background(), []int64{4, 5}))
	require.NoError(t, idx.RemoveItems(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthPing_NotInitialized(t *testing.T) {
	idx, mock := newIndexWithMock(t)
	mock.ExpectQuery(`to_regclass`).WillReturnRows(sqlmock.NewRows([]string{"to_regclass"}).AddRow(nil))

	assert.ErrorIs(t, idx.HealthPing(context.Background()), searchindex.ErrNotInitialized)
}
