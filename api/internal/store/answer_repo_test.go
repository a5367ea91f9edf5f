package store

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"answer-ocr/api/internal/errs"
	"answer-ocr/api/internal/ocr"
	"answer-ocr/api/internal/util"
)

// openTestDB connects to TEST_DATABASE_URL or skips.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, db.PingContext(ctx))
	return db
}

func TestAnswerRepo_SaveAndFind(t *testing.T) {
	db := openTestDB(t)
	repo := NewAnswerRepo(db)
	ctx := context.Background()
	require.NoError(t, repo.EnsureSchema(ctx))
	require.NoError(t, repo.EnsureSchema(ctx))

	hash := util.SHA256Hex([]byte(t.Name() + time.Now().String()))
	t.Cleanup(func() { _, _ = db.Exec(`delete from recognized_answers where image_hash = $1`, hash) })

	_, err := repo.FindByHash(ctx, hash, 0)
	assert.ErrorIs(t, err, ErrNotFound)

	ok := ocr.NewSuccess("yandex", "x = 4", 0.81, true)
	ok.Corrected = true
	ok.RequestID = "req-1"
	id, err := repo.Save(ctx, 42, hash, ok)
	require.NoError(t, err)
	assert.Positive(t, id)

	// неуспешные записи кэшем не считаются
	_, err = repo.Save(ctx, 42, hash, ocr.NewFailure(errs.KindServer))
	require.NoError(t, err)

	row, err := repo.FindByHash(ctx, hash, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, id, row.ID)
	assert.Equal(t, int64(42), row.ChatID)
	assert.Equal(t, ok, row.Result)
}

func TestAnswerRepo_MaxAge(t *testing.T) {
	db := openTestDB(t)
	repo := NewAnswerRepo(db)
	ctx := context.Background()
	require.NoError(t, repo.EnsureSchema(ctx))

	hash := util.SHA256Hex([]byte(t.Name() + time.Now().String()))
	t.Cleanup(func() { _, _ = db.Exec(`delete from recognized_answers where image_hash = $1`, hash) })

	_, err := repo.Save(ctx, 1, hash, ocr.NewSuccess("claude", "a", 0.95, false))
	require.NoError(t, err)
	_, err = db.Exec(`update recognized_answers set created_at = now() - interval '2 days' where image_hash = $1`, hash)
	require.NoError(t, err)

	_, err = repo.FindByHash(ctx, hash, 24*time.Hour)
	assert.ErrorIs(t, err, ErrNotFound)

	row, err := repo.FindByHash(ctx, hash, 0)
	require.NoError(t, err)
	assert.Equal(t, "a", row.Result.Text)
}
