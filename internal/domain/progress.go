package domain

import (
	"context"
	"time"
)

// CompletionThreshold completion percentage implied by IsCompleted
const CompletionThreshold = 100

// Progress per video, per user
type Progress struct {
	VideoID              string    `json:"video_id"`
	WatchedDuration      float64   `json:"watched_duration"`
	TotalDuration        float64   `json:"total_duration"`
	WatchedPercentage    int       `json:"watched_percentage"`
	CompletionPercentage float64   `json:"completion_percentage"`
	IsCompleted          bool      `json:"is_completed"`
	LastPosition         float64   `json:"last_position"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Clone returns a copy safe to hand out
func (p *Progress) Clone() *Progress {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// CourseProgress aggregate over per-video progress
type CourseProgress struct {
	CourseID            string  `json:"course_id"`
	TotalVideos         int     `json:"total_videos"`
	CompletedVideos     int     `json:"completed_videos"`
	Percentage          int     `json:"percentage"`
	IsCompleted         bool    `json:"is_completed"`
	LastWatchedVideoID  string  `json:"last_watched_video_id,omitempty"`
	LastWatchedPosition float64 `json:"last_watched_position"`
	Authoritative       bool    `json:"authoritative"`
}

// Clone returns a copy safe to hand out
func (cp *CourseProgress) Clone() *CourseProgress {
	if cp == nil {
		return nil
	}
	c := *cp
	return &c
}

// ProgressUpdate body of a progress flush
type ProgressUpdate struct {
	WatchedDuration float64 `json:"watched_duration"`
	LastPosition    float64 `json:"last_position"`
	TotalDuration   float64 `json:"total_duration"`
}

// ProgressUpdateResult response of a progress flush
type ProgressUpdateResult struct {
	Progress *Progress
	Course   *CourseProgress
}

// ProgressRepository progress query/update
type ProgressRepository interface {
	GetProgress(ctx context.Context, viewer Viewer, courseID, videoID string) (*Progress, error)
	UpdateProgress(ctx context.Context, viewer Viewer, courseID, videoID string, update *ProgressUpdate) (*ProgressUpdateResult, error)
}

// ProgressSnapshotRepository last-known local progress, used only as a fallback
type ProgressSnapshotRepository interface {
	SaveSnapshot(ctx context.Context, userID, courseID string, p *Progress) error
	GetSnapshot(ctx context.Context, userID, courseID, videoID string) (*Progress, error)
}
