package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pot-code/course-player/internal/domain"
	"github.com/pot-code/course-player/internal/infrastructure/driver"
)

// SnapshotKV persist last-known progress in a key-value store
type SnapshotKV struct {
	KV  driver.KeyValueDB
	TTL time.Duration
}

var _ domain.ProgressSnapshotRepository = &SnapshotKV{}

func NewSnapshotKV(KV driver.KeyValueDB, TTL time.Duration) *SnapshotKV {
	return &SnapshotKV{KV, TTL}
}

func snapshotKey(userID, courseID, videoID string) string {
	return fmt.Sprintf("course-player:progress:%s:%s:%s", userID, courseID, videoID)
}

func (repo *SnapshotKV) SaveSnapshot(ctx context.Context, userID, courseID string, p *domain.Progress) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return repo.KV.SetEX(ctx, snapshotKey(userID, courseID, p.VideoID), string(b), repo.TTL)
}

// GetSnapshot returns nil when nothing was saved
func (repo *SnapshotKV) GetSnapshot(ctx context.Context, userID, courseID, videoID string) (*domain.Progress, error) {
	v, err := repo.KV.Get(ctx, snapshotKey(userID, courseID, videoID))
	if errors.Is(err, driver.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p := new(domain.Progress)
	if err := json.Unmarshal([]byte(v), p); err != nil {
		return nil, fmt.Errorf("corrupted progress snapshot: %w", err)
	}
	return p, nil
}
