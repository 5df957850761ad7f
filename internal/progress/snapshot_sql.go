package progress

import (
	"context"
	"time"

	"github.com/pot-code/course-player/internal/domain"
	"github.com/pot-code/course-player/internal/infrastructure/driver"
)

// SnapshotSQL persist last-known progress in the progress_snapshot table
type SnapshotSQL struct {
	Conn driver.SQLDB
}

var _ domain.ProgressSnapshotRepository = &SnapshotSQL{}

func NewSnapshotSQL(Conn driver.SQLDB) *SnapshotSQL {
	return &SnapshotSQL{Conn}
}

const upsertSnapshotMySQL = `
INSERT INTO progress_snapshot
    (user_id, course_id, video_id, watched_duration, total_duration, watched_percentage,
     completion_percentage, is_completed, last_position, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON DUPLICATE KEY UPDATE
    watched_duration = VALUES(watched_duration),
    total_duration = VALUES(total_duration),
    watched_percentage = VALUES(watched_percentage),
    completion_percentage = VALUES(completion_percentage),
    is_completed = GREATEST(is_completed, VALUES(is_completed)),
    last_position = VALUES(last_position),
    updated_at = VALUES(updated_at)`

const upsertSnapshotPostgres = `
INSERT INTO progress_snapshot
    (user_id, course_id, video_id, watched_duration, total_duration, watched_percentage,
     completion_percentage, is_completed, last_position, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (user_id, course_id, video_id) DO UPDATE SET
    watched_duration = EXCLUDED.watched_duration,
    total_duration = EXCLUDED.total_duration,
    watched_percentage = EXCLUDED.watched_percentage,
    completion_percentage = EXCLUDED.completion_percentage,
    is_completed = progress_snapshot.is_completed OR EXCLUDED.is_completed,
    last_position = EXCLUDED.last_position,
    updated_at = EXCLUDED.updated_at`

func (repo *SnapshotSQL) SaveSnapshot(ctx context.Context, userID, courseID string, p *domain.Progress) error {
	query := upsertSnapshotMySQL
	if repo.Conn.Driver() == "postgres" {
		query = upsertSnapshotPostgres
	}
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := repo.Conn.ExecContext(ctx, query,
		userID, courseID, p.VideoID,
		p.WatchedDuration, p.TotalDuration, p.WatchedPercentage,
		p.CompletionPercentage, p.IsCompleted, p.LastPosition, updatedAt,
	)
	return err
}

// GetSnapshot returns nil when nothing was saved
func (repo *SnapshotSQL) GetSnapshot(ctx context.Context, userID, courseID, videoID string) (*domain.Progress, error) {
	rows, err := repo.Conn.QueryContext(ctx, `
SELECT
    video_id, watched_duration, total_duration, watched_percentage,
    completion_percentage, is_completed, last_position, updated_at
FROM
    progress_snapshot
WHERE
    user_id = $1 AND course_id = $2 AND video_id = $3`, userID, courseID, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}
	p := new(domain.Progress)
	if err := rows.Scan(&p.VideoID, &p.WatchedDuration, &p.TotalDuration, &p.WatchedPercentage,
		&p.CompletionPercentage, &p.IsCompleted, &p.LastPosition, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return p, nil
}
