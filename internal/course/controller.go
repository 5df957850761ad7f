// Package course composes access resolution, progress tracking, playback and
// purchase into the controller of one mounted course view.
package course

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pot-code/course-player/internal/access"
	"github.com/pot-code/course-player/internal/domain"
	"github.com/pot-code/course-player/internal/duration"
	"github.com/pot-code/course-player/internal/infrastructure/notify"
	"github.com/pot-code/course-player/internal/infrastructure/uuid"
	"github.com/pot-code/course-player/internal/playback"
	"github.com/pot-code/course-player/internal/progress"
	"github.com/pot-code/course-player/internal/purchase"
	"go.elastic.co/apm"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Dependencies collaborators shared by every view
type Dependencies struct {
	Videos    domain.VideoRepository
	Purchases domain.PurchaseRepository
	Progress  domain.ProgressRepository
	Checkout  domain.CheckoutRepository
	Snapshots domain.ProgressSnapshotRepository // optional
	Hub       *notify.Hub
	IDGen     uuid.Generator
	Logger    *zap.Logger
}

// Settings player tunables
type Settings struct {
	FlushInterval   time.Duration
	FlushBurst      int
	FlushTimeout    time.Duration
	CheckoutTimeout time.Duration
	MaxRetries      int
}

// PlaylistItem one video of the playlist as the view renders it
type PlaylistItem struct {
	ID                string           `json:"id"`
	Index             int              `json:"index"`
	Title             string           `json:"title"`
	Duration          float64          `json:"duration"`
	FormattedDuration string           `json:"formatted_duration"`
	IsFreePreview     bool             `json:"is_free_preview"`
	RequiresPurchase  bool             `json:"requires_purchase"`
	Decision          string           `json:"decision"`
	Remedy            string           `json:"remedy,omitempty"`
	Availability      string           `json:"availability"`
	Active            bool             `json:"active"`
	Progress          *domain.Progress `json:"progress,omitempty"`
}

// View read model of a mounted course view
type View struct {
	ID             string                 `json:"id"`
	Key            string                 `json:"view_key,omitempty"` // only in the mount response
	CourseID       string                 `json:"course_id"`
	ViewerState    string                 `json:"viewer_state"`
	Purchased      bool                   `json:"purchased"`
	Playlist       []PlaylistItem         `json:"playlist"`
	TotalSeconds   float64                `json:"total_seconds"`
	TotalFormatted string                 `json:"total_formatted"`
	CourseProgress *domain.CourseProgress `json:"course_progress"`
	Playback       playback.Snapshot      `json:"playback"`
	Purchase       purchase.ButtonState   `json:"purchase"`
	NextVideoID    string                 `json:"next_video_id,omitempty"`
	LoadedAt       time.Time              `json:"loaded_at"`
}

// Controller course-detail controller of one view
type Controller struct {
	id       string
	key      string // owner key of the view, set by Registry.Mount
	viewer   domain.Viewer
	courseID string
	deps     *Dependencies
	logger   *zap.Logger

	tracker  *progress.Tracker
	machine  *playback.Machine
	checkout *purchase.Orchestrator

	mu          sync.RWMutex
	videos      []*domain.Video
	byID        map[string]*domain.Video
	purchased   bool // sticky within the view
	nextVideoID string
	loadedAt    time.Time
}

var _ playback.Catalog = &Controller{}

// NewController build a controller, call Load before use
func NewController(id string, viewer domain.Viewer, courseID string, deps *Dependencies, settings *Settings) (*Controller, error) {
	logger := deps.Logger.With(zap.String("view.id", id), zap.String("course.id", courseID))

	limit := rate.Inf
	if settings.FlushInterval > 0 {
		limit = rate.Every(settings.FlushInterval)
	}
	burst := settings.FlushBurst
	if burst < 1 {
		burst = 1
	}
	tracker, err := progress.NewTracker(&progress.Options{
		Viewer:       viewer,
		CourseID:     courseID,
		Repo:         deps.Progress,
		Snapshots:    deps.Snapshots,
		Hub:          deps.Hub,
		Limiter:      rate.NewLimiter(limit, burst),
		FlushTimeout: settings.FlushTimeout,
		IDGen:        deps.IDGen,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	c := &Controller{
		id:       id,
		viewer:   viewer,
		courseID: courseID,
		deps:     deps,
		logger:   logger,
		tracker:  tracker,
		checkout: purchase.NewOrchestrator(deps.Checkout, settings.CheckoutTimeout, logger),
		byID:     make(map[string]*domain.Video),
	}
	c.machine = playback.NewMachine(&playback.Options{
		Catalog:    c,
		Sink:       tracker,
		MaxRetries: settings.MaxRetries,
		IDGen:      deps.IDGen,
		OnEnded:    c.onEnded,
		Logger:     logger,
	})
	return c, nil
}

// ID view id
func (c *Controller) ID() string {
	return c.id
}

// Key owner key, anonymous viewers send it back on every call
func (c *Controller) Key() string {
	return c.key
}

// Viewer .
func (c *Controller) Viewer() domain.Viewer {
	return c.viewer
}

// CourseID .
func (c *Controller) CourseID() string {
	return c.courseID
}

// Load fetch video access and purchase status concurrently, then progress.
//
// Only the video list is required, a failed purchase-status query leaves the
// viewer unpurchased and progress failures fall back per video.
func (c *Controller) Load(ctx context.Context) error {
	apmSpan, ctx := apm.StartSpan(ctx, "Controller.Load", "service")
	defer apmSpan.End()

	videos, purchased, err := c.fetch(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.setVideosLocked(videos)
	c.purchased = c.purchased || purchased
	c.loadedAt = time.Now()
	ids := make([]string, len(c.videos))
	for i, v := range c.videos {
		ids[i] = v.ID
	}
	c.mu.Unlock()

	c.tracker.Load(ctx, ids)
	c.logger.Debug("Course view loaded", zap.Int("course.videos", len(ids)), zap.Bool("course.purchased", purchased))
	return nil
}

func (c *Controller) fetch(ctx context.Context) ([]*domain.Video, bool, error) {
	var (
		videos    []*domain.Video
		purchased bool
	)
	eg, ectx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		v, err := c.deps.Videos.GetCourseVideos(ectx, c.viewer, c.courseID)
		if err != nil {
			return fmt.Errorf("failed to load course videos: %w", err)
		}
		videos = v
		return nil
	})
	eg.Go(func() error {
		p, err := c.deps.Purchases.GetPurchaseStatus(ectx, c.viewer, c.courseID)
		if err != nil {
			c.logger.Warn("Failed to load purchase status", zap.Error(err))
			return nil
		}
		purchased = p
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, false, err
	}
	return videos, purchased, nil
}

func (c *Controller) setVideosLocked(videos []*domain.Video) {
	sorted := make([]*domain.Video, 0, len(videos))
	byID := make(map[string]*domain.Video, len(videos))
	for _, v := range videos {
		if v == nil || v.ID == "" {
			continue
		}
		sorted = append(sorted, v)
		byID[v.ID] = v
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	c.videos = sorted
	c.byID = byID
	c.tracker.SetVideos(sorted)
}

func (c *Controller) viewerStateLocked() domain.ViewerState {
	return c.viewer.State(c.purchased)
}

// Lookup implement playback.Catalog, the verdict is recomputed on every call
func (c *Controller) Lookup(videoID string) (*domain.Video, access.Verdict, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.byID[videoID]
	if !ok {
		return nil, access.Verdict{}, domain.ErrVideoNotFound
	}
	return v, access.Evaluate(v, c.viewerStateLocked()), nil
}

func (c *Controller) onEnded(videoID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextVideoID = ""
	for i, v := range c.videos {
		if v.ID == videoID && i+1 < len(c.videos) {
			c.nextVideoID = c.videos[i+1].ID
			return
		}
	}
}

// View build the read model
func (c *Controller) View() *View {
	snapshot := c.machine.Snapshot()
	activeID := ""
	if snapshot.Session != nil {
		activeID = snapshot.Session.VideoID
	}

	c.mu.RLock()
	state := c.viewerStateLocked()
	verdicts := access.EvaluateAll(c.videos, state)
	playlist := make([]PlaylistItem, 0, len(c.videos))
	for _, v := range c.videos {
		verdict := verdicts[v.ID]
		playlist = append(playlist, PlaylistItem{
			ID:                v.ID,
			Index:             v.Index,
			Title:             v.Title,
			Duration:          v.Duration,
			FormattedDuration: duration.Format(v.Duration),
			IsFreePreview:     v.IsFreePreview,
			RequiresPurchase:  verdict.Decision != domain.AccessAccessible,
			Decision:          verdict.Decision.String(),
			Remedy:            verdict.Decision.Remedy(),
			Availability:      verdict.Availability.String(),
			Active:            v.ID == activeID,
			Progress:          c.tracker.CurrentProgress(v.ID),
		})
	}
	view := &View{
		ID:          c.id,
		CourseID:    c.courseID,
		ViewerState: state.String(),
		Purchased:   c.purchased,
		Playlist:    playlist,
		NextVideoID: c.nextVideoID,
		LoadedAt:    c.loadedAt,
	}
	view.TotalSeconds = duration.TotalVideoSeconds(c.videos)
	c.mu.RUnlock()

	view.TotalFormatted = duration.Format(view.TotalSeconds)
	view.CourseProgress = c.tracker.CourseProgress()
	view.Playback = snapshot
	view.Purchase = c.checkout.State()
	return view
}

// Select .
func (c *Controller) Select(ctx context.Context, videoID string) (*View, error) {
	c.mu.Lock()
	c.nextVideoID = ""
	c.mu.Unlock()
	if _, err := c.machine.Select(ctx, videoID); err != nil {
		return nil, err
	}
	return c.View(), nil
}

// Play .
func (c *Controller) Play() (*View, error) {
	if _, err := c.machine.Play(); err != nil {
		return nil, err
	}
	return c.View(), nil
}

// Pause .
func (c *Controller) Pause(ctx context.Context) (*View, error) {
	if _, err := c.machine.Pause(ctx); err != nil {
		return nil, err
	}
	return c.View(), nil
}

// TimeUpdate returns the playback snapshot only, time updates are frequent
func (c *Controller) TimeUpdate(currentTime, total float64) (playback.Snapshot, error) {
	return c.machine.TimeUpdate(currentTime, total)
}

// End .
func (c *Controller) End(ctx context.Context) (*View, error) {
	if _, err := c.machine.End(ctx); err != nil {
		return nil, err
	}
	return c.View(), nil
}

// Fail .
func (c *Controller) Fail(ctx context.Context, reason string) (*View, error) {
	if _, err := c.machine.Fail(ctx, reason); err != nil {
		return nil, err
	}
	return c.View(), nil
}

// Retry .
func (c *Controller) Retry() (*View, error) {
	if _, err := c.machine.Retry(); err != nil {
		return nil, err
	}
	return c.View(), nil
}

// SetRate .
func (c *Controller) SetRate(r float64) (*View, error) {
	if _, err := c.machine.SetRate(r); err != nil {
		return nil, err
	}
	return c.View(), nil
}

// DismissLock .
func (c *Controller) DismissLock() (*View, error) {
	if _, err := c.machine.DismissLock(); err != nil {
		return nil, err
	}
	return c.View(), nil
}

// RefreshMedia re-query the video list, used while the active video waits for its URL
func (c *Controller) RefreshMedia(ctx context.Context) (*View, error) {
	apmSpan, ctx := apm.StartSpan(ctx, "Controller.RefreshMedia", "service")
	defer apmSpan.End()

	videos, err := c.deps.Videos.GetCourseVideos(ctx, c.viewer, c.courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh course videos: %w", err)
	}
	c.replaceVideos(videos)
	return c.View(), nil
}

func (c *Controller) replaceVideos(videos []*domain.Video) {
	c.mu.Lock()
	c.setVideosLocked(videos)
	c.mu.Unlock()

	if id := c.machine.ActiveVideoID(); id != "" {
		if v, verdict, err := c.Lookup(id); err == nil {
			c.machine.MediaRefreshed(v, verdict)
		}
	}
}

// Purchase start checkout, returns the redirect URL
func (c *Controller) Purchase(ctx context.Context) (string, error) {
	return c.checkout.Initiate(ctx, c.viewer, c.courseID)
}

// CheckoutReturned the viewer came back from the payment collaborator, purchase
// status and media URLs are re-queried
func (c *Controller) CheckoutReturned(ctx context.Context) (*View, error) {
	apmSpan, ctx := apm.StartSpan(ctx, "Controller.CheckoutReturned", "service")
	defer apmSpan.End()

	c.checkout.Reset()
	videos, purchased, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.purchased = c.purchased || purchased
	c.mu.Unlock()
	c.replaceVideos(videos)

	c.logger.Info("Checkout returned", zap.Bool("course.purchased", purchased))
	return c.View(), nil
}

// Close final flush and unsubscribe, the view must not be used afterwards
func (c *Controller) Close(ctx context.Context) error {
	c.machine.Close(ctx)
	return c.tracker.Close(ctx)
}
