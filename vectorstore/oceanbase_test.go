package vectorstore

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tongyi-community/dashscope-go/document"
)

func setupOceanBase(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *OceanBaseStore) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := mysql.New(mysql.Config{
		Conn:                      mockDB,
		SkipInitializeWithVersion: true,
	})
	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)

	store, err := NewOceanBaseStore(gormDB, OceanBaseConfig{Dimension: 3}, nil)
	require.NoError(t, err)
	return mockDB, mock, store
}

func TestOceanBaseStore_Add(t *testing.T) {
	mockDB, mock, store := setupOceanBase(t)
	defer mockDB.Close()

	mock.ExpectExec("INSERT INTO dashscope_vectors").
		WithArgs("doc-1", "正文", `{"source":"test"}`, "[1,0,0]").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Add(context.Background(), []Entry{{
		Document:  document.Document{ID: "doc-1", Text: "正文", Metadata: map[string]any{"source": "test"}},
		Embedding: []float64{1, 0, 0},
	}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOceanBaseStore_Add_DimensionMismatch(t *testing.T) {
	mockDB, _, store := setupOceanBase(t)
	defer mockDB.Close()

	err := store.Add(context.Background(), []Entry{{
		Document:  document.Document{ID: "doc-1"},
		Embedding: []float64{1, 0},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")
}

func TestOceanBaseStore_Search(t *testing.T) {
	mockDB, mock, store := setupOceanBase(t)
	defer mockDB.Close()

	rows := sqlmock.NewRows([]string{"doc_id", "content", "metadata", "distance"}).
		AddRow("doc-1", "最相关", `{"k":"v"}`, 0.1).
		AddRow("doc-2", "次相关", "", 0.4)

	mock.ExpectQuery("SELECT doc_id, content, metadata, cosine_distance").
		WithArgs("[1,0,0]", 2).
		WillReturnRows(rows)

	results, err := store.Search(context.Background(), []float64{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "doc-1", results[0].Document.ID)
	assert.InDelta(t, 0.9, results[0].Score, 1e-9)
	assert.Equal(t, "v", results[0].Document.Metadata["k"])
	assert.InDelta(t, 0.4, results[1].Distance, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOceanBaseStore_Delete(t *testing.T) {
	mockDB, mock, store := setupOceanBase(t)
	defer mockDB.Close()

	mock.ExpectExec("DELETE FROM dashscope_vectors").
		WithArgs("a", "b").
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, store.Delete(context.Background(), []string{"a", "b"}))
	assert.NoError(t, mock.ExpectationsWereMet())

	// 空列表不发 SQL
	require.NoError(t, store.Delete(context.Background(), nil))
}

func TestOceanBaseStore_Count(t *testing.T) {
	mockDB, mock, store := setupOceanBase(t)
	defer mockDB.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM dashscope_vectors`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
}
