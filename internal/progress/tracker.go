// Package progress tracks per-video and per-course watch progress of one
// mounted course view, persists it to the backend at a bounded rate and keeps
// other views of the same course consistent through the notify hub.
package progress

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pot-code/course-player/internal/domain"
	"github.com/pot-code/course-player/internal/infrastructure/metrics"
	"github.com/pot-code/course-player/internal/infrastructure/notify"
	"github.com/pot-code/course-player/internal/infrastructure/uuid"
	"go.elastic.co/apm"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// loadParallelism max concurrent progress queries during Load
const loadParallelism = 4

// Options tracker dependencies
type Options struct {
	Viewer       domain.Viewer
	CourseID     string
	Repo         domain.ProgressRepository
	Snapshots    domain.ProgressSnapshotRepository // optional
	Hub          *notify.Hub                       // optional
	Limiter      *rate.Limiter                     // bounds background flushes
	FlushTimeout time.Duration
	IDGen        uuid.Generator
	Logger       *zap.Logger
}

type entry struct {
	progress   *domain.Progress
	seq        uint64 // sequence of the last applied update
	flushedSeq uint64 // highest sequence acknowledged by the backend
	dirty      bool
}

// Tracker progress state of one view
type Tracker struct {
	viewer       domain.Viewer
	courseID     string
	repo         domain.ProgressRepository
	snapshots    domain.ProgressSnapshotRepository
	hub          *notify.Hub
	limiter      *rate.Limiter
	flushTimeout time.Duration
	origin       string
	logger       *zap.Logger

	mu          sync.Mutex
	seq         uint64
	entries     map[string]*entry
	videos      []*domain.Video
	course      *domain.CourseProgress // authoritative aggregate, nil until the backend returns one
	courseSeq   uint64
	active      string // video currently playing in this view
	unsubscribe func()
	closed      bool

	wg sync.WaitGroup
}

// NewTracker create a Tracker and subscribe it to remote progress changes
func NewTracker(opts *Options) (*Tracker, error) {
	origin, err := opts.IDGen.Generate()
	if err != nil {
		return nil, err
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(10*time.Second), 1)
	}
	flushTimeout := opts.FlushTimeout
	if flushTimeout <= 0 {
		flushTimeout = 5 * time.Second
	}

	t := &Tracker{
		viewer:       opts.Viewer,
		courseID:     opts.CourseID,
		repo:         opts.Repo,
		snapshots:    opts.Snapshots,
		hub:          opts.Hub,
		limiter:      limiter,
		flushTimeout: flushTimeout,
		origin:       origin,
		logger:       opts.Logger.With(zap.String("course.id", opts.CourseID), zap.String("progress.origin", origin)),
		entries:      make(map[string]*entry),
	}

	if t.hub != nil && t.persistent() {
		unsubscribe, err := t.hub.Subscribe(t.key(), t.onRemote)
		if err != nil {
			return nil, fmt.Errorf("failed to subscribe progress notifications: %w", err)
		}
		t.unsubscribe = unsubscribe
	}
	return t, nil
}

// Origin id attached to the notifications this tracker publishes
func (t *Tracker) Origin() string {
	return t.origin
}

func (t *Tracker) key() notify.Key {
	return notify.Key{UserID: t.viewer.UserID, CourseID: t.courseID}
}

// persistent anonymous progress lives only in memory
func (t *Tracker) persistent() bool {
	return t.viewer.Authenticated() && t.viewer.UserID != ""
}

func (t *Tracker) nextSeq() uint64 {
	t.seq++
	return t.seq
}

func (t *Tracker) entryLocked(videoID string) *entry {
	e, ok := t.entries[videoID]
	if !ok {
		e = new(entry)
		t.entries[videoID] = e
	}
	return e
}

// SetVideos replace the course video list used for the local aggregate
func (t *Tracker) SetVideos(videos []*domain.Video) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.videos = videos
}

// CurrentProgress returns a copy of the known progress of videoID, nil when unknown
func (t *Tracker) CurrentProgress(videoID string) *domain.Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[videoID]; ok {
		return e.progress.Clone()
	}
	return nil
}

// CourseProgress prefers the backend aggregate, falls back to a local one
func (t *Tracker) CourseProgress() *domain.CourseProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.course != nil {
		return t.course.Clone()
	}
	return t.localAggregateLocked()
}

func (t *Tracker) localAggregateLocked() *domain.CourseProgress {
	cp := &domain.CourseProgress{CourseID: t.courseID, TotalVideos: len(t.videos)}
	var (
		sum    int
		latest time.Time
	)
	for _, v := range t.videos {
		e, ok := t.entries[v.ID]
		if !ok || e.progress == nil {
			continue
		}
		p := e.progress
		if p.IsCompleted {
			cp.CompletedVideos++
			sum += 100
		} else {
			sum += p.WatchedPercentage
		}
		if !p.UpdatedAt.IsZero() && p.UpdatedAt.After(latest) {
			latest = p.UpdatedAt
			cp.LastWatchedVideoID = v.ID
			cp.LastWatchedPosition = p.LastPosition
		}
	}
	if cp.TotalVideos > 0 {
		cp.Percentage = int(math.Round(float64(sum) / float64(cp.TotalVideos)))
		cp.IsCompleted = cp.CompletedVideos >= cp.TotalVideos
	}
	return cp
}

// Activate videoID starts playing in this view
func (t *Tracker) Activate(videoID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = videoID
}

// Deactivate videoID stopped playing in this view
func (t *Tracker) Deactivate(videoID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == videoID {
		t.active = ""
	}
}

// OnTimeUpdate record a playback position, may schedule a background flush
func (t *Tracker) OnTimeUpdate(videoID string, currentTime, duration float64) {
	if math.IsNaN(currentTime) || currentTime < 0 {
		currentTime = 0
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	e := t.entryLocked(videoID)
	p := e.progress.Clone()
	if p == nil {
		p = &domain.Progress{VideoID: videoID}
	}
	if duration > 0 && !math.IsInf(duration, 0) {
		p.TotalDuration = duration
		p.WatchedPercentage = percentOf(currentTime, duration)
	}
	if currentTime > p.WatchedDuration {
		p.WatchedDuration = currentTime
	}
	p.LastPosition = currentTime
	p.UpdatedAt = time.Now()
	e.progress = p
	e.seq = t.nextSeq()
	e.dirty = true
	schedule := t.persistent() && t.limiter.Allow()
	if schedule {
		// registered under the lock so Close never waits on a stale count
		t.wg.Add(1)
	}
	t.mu.Unlock()

	if schedule {
		t.flushAsync(videoID)
	}
}

func percentOf(currentTime, duration float64) int {
	pct := math.Round(currentTime / duration * 100)
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return int(pct)
}

// flushAsync caller must have done t.wg.Add(1)
func (t *Tracker) flushAsync(videoID string) {
	go func() {
		defer t.wg.Done()
		_ = t.Flush(context.Background(), videoID)
	}()
}

// Flush persist buffered progress of videoID.
//
// A failed flush leaves the entry dirty so the next flush point retries it.
func (t *Tracker) Flush(ctx context.Context, videoID string) error {
	t.mu.Lock()
	e, ok := t.entries[videoID]
	if !ok || !e.dirty || e.progress == nil {
		t.mu.Unlock()
		return nil
	}
	if !t.persistent() {
		e.dirty = false
		t.mu.Unlock()
		return nil
	}
	reqSeq := e.seq
	snapshot := e.progress.Clone()
	update := &domain.ProgressUpdate{
		WatchedDuration: snapshot.WatchedDuration,
		LastPosition:    snapshot.LastPosition,
		TotalDuration:   snapshot.TotalDuration,
	}
	e.dirty = false
	t.mu.Unlock()

	apmSpan, ctx := apm.StartSpan(ctx, "Tracker.Flush", "service")
	defer apmSpan.End()

	ctx, cancel := context.WithTimeout(ctx, t.flushTimeout)
	defer cancel()

	t.saveSnapshot(ctx, snapshot)

	result, err := t.repo.UpdateProgress(ctx, t.viewer, t.courseID, videoID, update)
	if err != nil {
		metrics.ProgressFlushTotal.WithLabelValues("error").Inc()
		t.logger.Warn("Failed to flush progress",
			zap.String("video.id", videoID),
			zap.Uint64("progress.seq", reqSeq),
			zap.Error(err),
		)
		t.mu.Lock()
		if e.flushedSeq < reqSeq {
			e.dirty = true
		}
		t.mu.Unlock()
		return err
	}
	metrics.ProgressFlushTotal.WithLabelValues("ok").Inc()

	t.mu.Lock()
	if reqSeq > e.flushedSeq {
		e.flushedSeq = reqSeq
	}
	applied := t.applyLocked(videoID, reqSeq, result.Progress)
	courseApplied := false
	if result.Course != nil && reqSeq >= t.courseSeq {
		c := result.Course.Clone()
		c.CourseID = t.courseID
		c.Authoritative = true
		t.course = c
		t.courseSeq = reqSeq
		courseApplied = true
	}
	ev := notify.Event{
		Key:           t.key(),
		Origin:        t.origin,
		VideoID:       videoID,
		Progress:      e.progress.Clone(),
		Authoritative: true,
	}
	if courseApplied {
		ev.Course = t.course.Clone()
	}
	t.mu.Unlock()

	if (applied || courseApplied) && t.hub != nil {
		t.hub.Publish(ev)
	}
	return nil
}

// FlushAll flush every dirty entry, returns the first error
func (t *Tracker) FlushAll(ctx context.Context) error {
	t.mu.Lock()
	ids := make([]string, 0, len(t.entries))
	for id, e := range t.entries {
		if e.dirty {
			ids = append(ids, id)
		}
	}
	t.mu.Unlock()

	var first error
	for _, id := range ids {
		if err := t.Flush(ctx, id); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// applyLocked merge a backend progress record produced by request reqSeq.
//
// Responses older than the last applied update are discarded, except that
// completion is always merged since it never reverts.
func (t *Tracker) applyLocked(videoID string, reqSeq uint64, incoming *domain.Progress) bool {
	if incoming == nil {
		return false
	}
	e := t.entryLocked(videoID)
	if reqSeq < e.seq {
		metrics.ProgressStaleDiscardedTotal.Inc()
		t.logger.Debug("Discarded stale progress response",
			zap.String("video.id", videoID),
			zap.Uint64("progress.seq", reqSeq),
			zap.Uint64("progress.applied_seq", e.seq),
		)
		if incoming.IsCompleted && e.progress != nil && !e.progress.IsCompleted {
			p := e.progress.Clone()
			markCompleted(p)
			e.progress = p
			return true
		}
		return false
	}

	next := incoming.Clone()
	next.VideoID = videoID
	if prev := e.progress; prev != nil {
		if prev.IsCompleted {
			markCompleted(next)
		}
		if t.active == videoID && prev.LastPosition > next.LastPosition {
			next.LastPosition = prev.LastPosition
		}
		if next.TotalDuration <= 0 {
			next.TotalDuration = prev.TotalDuration
		}
	}
	if next.IsCompleted {
		markCompleted(next)
	}
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = time.Now()
	}
	e.progress = next
	e.seq = reqSeq
	return true
}

func markCompleted(p *domain.Progress) {
	p.IsCompleted = true
	if p.CompletionPercentage < domain.CompletionThreshold {
		p.CompletionPercentage = domain.CompletionThreshold
	}
}

// Refresh query the backend for videoID, a failure keeps the previous value and
// falls back to the local snapshot when nothing is known yet
func (t *Tracker) Refresh(ctx context.Context, videoID string) error {
	if !t.persistent() {
		return nil
	}

	t.mu.Lock()
	reqSeq := t.nextSeq()
	t.mu.Unlock()

	apmSpan, ctx := apm.StartSpan(ctx, "Tracker.Refresh", "service")
	defer apmSpan.End()

	p, err := t.repo.GetProgress(ctx, t.viewer, t.courseID, videoID)
	if err != nil {
		t.logger.Warn("Failed to fetch progress", zap.String("video.id", videoID), zap.Error(err))
		if t.restoreSnapshot(ctx, videoID, reqSeq) {
			metrics.ProgressFetchTotal.WithLabelValues("snapshot").Inc()
		} else {
			metrics.ProgressFetchTotal.WithLabelValues("error").Inc()
		}
		return err
	}
	metrics.ProgressFetchTotal.WithLabelValues("ok").Inc()

	t.mu.Lock()
	t.applyLocked(videoID, reqSeq, p)
	t.mu.Unlock()
	return nil
}

// Load refresh every video of the course with bounded parallelism, failures
// are contained per video
func (t *Tracker) Load(ctx context.Context, videoIDs []string) {
	sem := semaphore.NewWeighted(loadParallelism)
	eg, ctx := errgroup.WithContext(ctx)
	for _, id := range videoIDs {
		id := id
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		eg.Go(func() error {
			defer sem.Release(1)
			_ = t.Refresh(ctx, id)
			return nil
		})
	}
	_ = eg.Wait()
}

func (t *Tracker) restoreSnapshot(ctx context.Context, videoID string, reqSeq uint64) bool {
	if t.snapshots == nil {
		return false
	}
	t.mu.Lock()
	e, known := t.entries[videoID]
	known = known && e.progress != nil
	t.mu.Unlock()
	if known {
		return false
	}

	p, err := t.snapshots.GetSnapshot(ctx, t.viewer.UserID, t.courseID, videoID)
	if err != nil {
		t.logger.Warn("Failed to read progress snapshot", zap.String("video.id", videoID), zap.Error(err))
		return false
	}
	if p == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[videoID]; ok && e.progress != nil {
		return false
	}
	return t.applyLocked(videoID, reqSeq, p)
}

func (t *Tracker) saveSnapshot(ctx context.Context, p *domain.Progress) {
	if t.snapshots == nil {
		return
	}
	if err := t.snapshots.SaveSnapshot(ctx, t.viewer.UserID, t.courseID, p); err != nil {
		t.logger.Warn("Failed to save progress snapshot", zap.String("video.id", p.VideoID), zap.Error(err))
	}
}

// onRemote apply a notification from another view of the same course
func (t *Tracker) onRemote(ev notify.Event) {
	if ev.Origin == t.origin {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	if ev.Progress != nil && ev.VideoID != "" {
		e := t.entryLocked(ev.VideoID)
		if t.active == ev.VideoID && e.progress != nil {
			// this view owns the playhead, only completion travels
			if ev.Progress.IsCompleted && !e.progress.IsCompleted {
				p := e.progress.Clone()
				markCompleted(p)
				e.progress = p
			}
		} else {
			next := ev.Progress.Clone()
			next.VideoID = ev.VideoID
			if e.progress != nil && e.progress.IsCompleted {
				markCompleted(next)
			}
			e.progress = next
			e.seq = t.nextSeq()
			e.dirty = false
		}
	}
	if ev.Course != nil && ev.Authoritative {
		c := ev.Course.Clone()
		c.CourseID = t.courseID
		t.course = c
		t.courseSeq = t.seq
	}
}

// Close flush pending progress, stop listening for remote changes and wait for
// background flushes
func (t *Tracker) Close(ctx context.Context) error {
	err := t.FlushAll(ctx)

	t.mu.Lock()
	t.closed = true
	unsubscribe := t.unsubscribe
	t.unsubscribe = nil
	t.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	t.wg.Wait()
	return err
}

// Wait block until background flushes finish
func (t *Tracker) Wait() {
	t.wg.Wait()
}
