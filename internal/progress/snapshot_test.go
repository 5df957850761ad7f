package progress

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/pot-code/course-player/internal/domain"
	"github.com/pot-code/course-player/internal/infrastructure/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotKV(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	kv := driver.NewRedisClientFromConn(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer kv.Close()

	repo := NewSnapshotKV(kv, time.Hour)
	ctx := context.Background()

	got, err := repo.GetSnapshot(ctx, "u1", "c1", "v1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.SaveSnapshot(ctx, "u1", "c1", &domain.Progress{VideoID: "v1", WatchedPercentage: 42, LastPosition: 120}))
	got, err = repo.GetSnapshot(ctx, "u1", "c1", "v1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 42, got.WatchedPercentage)
	assert.Equal(t, 120.0, got.LastPosition)
	assert.True(t, mr.Exists("course-player:progress:u1:c1:v1"))

	mr.Set("course-player:progress:u1:c1:bad", "{")
	_, err = repo.GetSnapshot(ctx, "u1", "c1", "bad")
	assert.Error(t, err)
}

func TestSnapshotSQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSnapshotSQL(driver.WrapSQLDB(db, "mysql"))
	ctx := context.Background()
	now := time.Now()

	mock.ExpectExec("INSERT INTO progress_snapshot .* ON DUPLICATE KEY UPDATE").
		WithArgs("u1", "c1", "v1", 30.0, 100.0, 30, 30.0, false, 30.0, now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, repo.SaveSnapshot(ctx, "u1", "c1", &domain.Progress{
		VideoID: "v1", WatchedDuration: 30, TotalDuration: 100, WatchedPercentage: 30,
		CompletionPercentage: 30, LastPosition: 30, UpdatedAt: now,
	}))

	mock.ExpectQuery("SELECT .* FROM progress_snapshot WHERE user_id = \\? AND course_id = \\? AND video_id = \\?").
		WithArgs("u1", "c1", "v1").
		WillReturnRows(sqlmock.NewRows([]string{
			"video_id", "watched_duration", "total_duration", "watched_percentage",
			"completion_percentage", "is_completed", "last_position", "updated_at",
		}).AddRow("v1", 30.0, 100.0, 30, 30.0, false, 30.0, now))
	got, err := repo.GetSnapshot(ctx, "u1", "c1", "v1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 30, got.WatchedPercentage)

	mock.ExpectQuery("SELECT .* FROM progress_snapshot").
		WithArgs("u1", "c1", "v2").
		WillReturnRows(sqlmock.NewRows([]string{"video_id"}))
	got, err = repo.GetSnapshot(ctx, "u1", "c1", "v2")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.NoError(t, mock.ExpectationsWereMet())
}
