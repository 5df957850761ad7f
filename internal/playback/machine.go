// Package playback implements the "now playing" session lifecycle of one
// course view: select, load, play, pause, end, fail and user initiated retry.
package playback

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pot-code/course-player/internal/access"
	"github.com/pot-code/course-player/internal/domain"
	"github.com/pot-code/course-player/internal/infrastructure/metrics"
	"github.com/pot-code/course-player/internal/infrastructure/uuid"
	"go.uber.org/zap"
)

// State playback state
type State int

const (
	StateIdle State = iota
	StateSelecting
	StateAwaitingMedia
	StatePlaying
	StatePaused
	StateEnded
	StateError
	StateLocked
)

func (s State) String() string {
	switch s {
	case StateSelecting:
		return "selecting"
	case StateAwaitingMedia:
		return "awaiting_media"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateEnded:
		return "ended"
	case StateError:
		return "error"
	case StateLocked:
		return "locked"
	default:
		return "idle"
	}
}

// MarshalText .
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const (
	MinRate = 0.25
	MaxRate = 4.0

	// resumeTail a completed video stopped this close to its end restarts from zero
	resumeTail = 1.0
)

// Alternatives offered once the retry budget is used up
var Alternatives = []string{"reload", "contact_support"}

// Catalog looks up a course video together with its access verdict
type Catalog interface {
	Lookup(videoID string) (*domain.Video, access.Verdict, error)
}

// ProgressSink receives the time updates of the active session
type ProgressSink interface {
	Activate(videoID string)
	Deactivate(videoID string)
	OnTimeUpdate(videoID string, currentTime, duration float64)
	Flush(ctx context.Context, videoID string) error
	CurrentProgress(videoID string) *domain.Progress
}

// Session ephemeral state of the selected video
type Session struct {
	ID          string    `json:"id"`
	VideoID     string    `json:"video_id"`
	Playing     bool      `json:"playing"`
	Rate        float64   `json:"rate"`
	CurrentTime float64   `json:"current_time"`
	Duration    float64   `json:"duration"`
	StartAt     float64   `json:"start_at"`
	MediaURL    string    `json:"media_url,omitempty"`
	Refreshing  bool      `json:"refreshing"`
	Error       string    `json:"error,omitempty"`
	RetryCount  int       `json:"retry_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Lock why the last selection was denied
type Lock struct {
	VideoID  string                `json:"video_id"`
	Decision domain.AccessDecision `json:"-"`
	Reason   string                `json:"reason"`
	Remedy   string                `json:"remedy"`
}

// Snapshot read-only copy of the machine
type Snapshot struct {
	State        State    `json:"state"`
	Session      *Session `json:"session,omitempty"`
	Lock         *Lock    `json:"lock,omitempty"`
	MaxRetries   int      `json:"max_retries"`
	RetriesLeft  int      `json:"retries_left"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// Options machine dependencies
type Options struct {
	Catalog    Catalog
	Sink       ProgressSink
	MaxRetries int
	IDGen      uuid.Generator
	OnEnded    func(videoID string) // called outside the machine lock
	Logger     *zap.Logger
}

// Machine playback session state machine, safe for concurrent use.
//
// Network calls (progress flushes) run outside the machine lock so that
// pause or seek stay responsive while a flush is pending.
type Machine struct {
	catalog    Catalog
	sink       ProgressSink
	maxRetries int
	idGen      uuid.Generator
	onEnded    func(string)
	logger     *zap.Logger

	mu        sync.Mutex
	state     State
	prevState State // state under the lock overlay
	session   *Session
	lock      *Lock
}

// NewMachine create an idle Machine
func NewMachine(opts *Options) *Machine {
	return &Machine{
		catalog:    opts.Catalog,
		sink:       opts.Sink,
		maxRetries: opts.MaxRetries,
		idGen:      opts.IDGen,
		onEnded:    opts.OnEnded,
		logger:     opts.Logger,
		state:      StateIdle,
	}
}

// current points at the state playback events act on, which is the state
// under the overlay while Locked
func (m *Machine) current() *State {
	if m.state == StateLocked {
		return &m.prevState
	}
	return &m.state
}

func (m *Machine) snapshotLocked() Snapshot {
	s := Snapshot{State: m.state, MaxRetries: m.maxRetries, RetriesLeft: m.maxRetries}
	if m.session != nil {
		cp := *m.session
		s.Session = &cp
		s.RetriesLeft = m.maxRetries - cp.RetryCount
		if s.RetriesLeft < 0 {
			s.RetriesLeft = 0
		}
		if *m.current() == StateError && s.RetriesLeft == 0 {
			s.Alternatives = append([]string(nil), Alternatives...)
		}
	}
	if m.lock != nil {
		cp := *m.lock
		s.Lock = &cp
	}
	return s
}

// Snapshot .
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// ActiveVideoID id of the selected video, empty when idle
func (m *Machine) ActiveVideoID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	return m.session.VideoID
}

// Select make videoID the active session.
//
// A denied video enters Locked and leaves the current session untouched. An
// accessible one replaces the current session atomically, the replaced
// session gets a final flush before Select returns.
func (m *Machine) Select(ctx context.Context, videoID string) (Snapshot, error) {
	video, verdict, err := m.catalog.Lookup(videoID)
	if err != nil {
		return m.Snapshot(), err
	}

	m.mu.Lock()
	prior, underlying := m.state, *m.current()
	m.state = StateSelecting

	if verdict.Decision != domain.AccessAccessible {
		m.prevState = underlying
		m.state = StateLocked
		m.lock = &Lock{
			VideoID:  videoID,
			Decision: verdict.Decision,
			Reason:   verdict.Decision.String(),
			Remedy:   verdict.Decision.Remedy(),
		}
		snapshot := m.snapshotLocked()
		m.mu.Unlock()
		m.logger.Debug("Video locked",
			zap.String("video.id", videoID),
			zap.String("access.decision", verdict.Decision.String()),
		)
		return snapshot, nil
	}

	id, err := m.idGen.Generate()
	if err != nil {
		m.state = prior
		m.mu.Unlock()
		return m.Snapshot(), err
	}

	old := m.session
	rate := 1.0
	if old != nil {
		rate = old.Rate
	}
	start := m.resumePosition(video)
	m.session = &Session{
		ID:          id,
		VideoID:     videoID,
		Rate:        rate,
		CurrentTime: start,
		Duration:    video.Duration,
		StartAt:     start,
		MediaURL:    playableURL(video, verdict),
		Refreshing:  verdict.Availability != domain.MediaAccessible,
		CreatedAt:   time.Now(),
	}
	m.lock = nil
	m.prevState = StateIdle
	m.state = StateAwaitingMedia
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	if old != nil {
		m.release(ctx, old.VideoID)
	}
	m.logger.Debug("Session selected",
		zap.String("video.id", videoID),
		zap.String("session.id", id),
		zap.Float64("session.start_at", start),
	)
	return snapshot, nil
}

func playableURL(video *domain.Video, verdict access.Verdict) string {
	if verdict.Availability == domain.MediaAccessible {
		return video.MediaURL
	}
	return ""
}

// resumePosition last known position, a finished video restarts from zero
func (m *Machine) resumePosition(video *domain.Video) float64 {
	p := m.sink.CurrentProgress(video.ID)
	if p == nil || p.LastPosition <= 0 {
		return 0
	}
	total := p.TotalDuration
	if total <= 0 {
		total = video.Duration
	}
	if p.IsCompleted && total > 0 && total-p.LastPosition <= resumeTail {
		return 0
	}
	return p.LastPosition
}

// release stop reporting for videoID and save its final position
func (m *Machine) release(ctx context.Context, videoID string) {
	m.sink.Deactivate(videoID)
	if err := m.sink.Flush(ctx, videoID); err != nil {
		m.logger.Warn("Final progress flush failed", zap.String("video.id", videoID), zap.Error(err))
	}
}

// MediaRefreshed update the active session after the video list was re-queried
func (m *Machine) MediaRefreshed(video *domain.Video, verdict access.Verdict) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || video == nil || m.session.VideoID != video.ID {
		return m.snapshotLocked()
	}
	if verdict.Availability == domain.MediaAccessible {
		m.session.MediaURL = video.MediaURL
		m.session.Refreshing = false
		if video.Duration > 0 {
			m.session.Duration = video.Duration
		}
	}
	return m.snapshotLocked()
}

// Play AwaitingMedia, Paused or Ended to Playing
func (m *Machine) Play() (Snapshot, error) {
	m.mu.Lock()
	cur := m.current()
	if m.session == nil {
		m.mu.Unlock()
		return m.Snapshot(), domain.ErrNoActiveSession
	}
	switch *cur {
	case StatePlaying:
		snapshot := m.snapshotLocked()
		m.mu.Unlock()
		return snapshot, nil
	case StateAwaitingMedia:
		if m.session.Refreshing {
			m.mu.Unlock()
			return m.Snapshot(), domain.ErrMediaNotReady
		}
	case StatePaused:
	case StateEnded:
		m.session.CurrentTime = 0
	default:
		state := *cur
		m.mu.Unlock()
		return m.Snapshot(), fmt.Errorf("%w: play from %s", domain.ErrInvalidTransition, state)
	}
	*cur = StatePlaying
	m.session.Playing = true
	m.session.Error = ""
	videoID := m.session.VideoID
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.sink.Activate(videoID)
	return snapshot, nil
}

// Pause Playing to Paused, the position is flushed
func (m *Machine) Pause(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	cur := m.current()
	if m.session == nil {
		m.mu.Unlock()
		return m.Snapshot(), domain.ErrNoActiveSession
	}
	if *cur == StatePaused {
		snapshot := m.snapshotLocked()
		m.mu.Unlock()
		return snapshot, nil
	}
	if *cur != StatePlaying {
		state := *cur
		m.mu.Unlock()
		return m.Snapshot(), fmt.Errorf("%w: pause from %s", domain.ErrInvalidTransition, state)
	}
	*cur = StatePaused
	m.session.Playing = false
	videoID := m.session.VideoID
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.release(ctx, videoID)
	return snapshot, nil
}

// TimeUpdate report the playhead, ignored unless Playing
func (m *Machine) TimeUpdate(currentTime, duration float64) (Snapshot, error) {
	if math.IsNaN(currentTime) || currentTime < 0 {
		currentTime = 0
	}

	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return m.Snapshot(), domain.ErrNoActiveSession
	}
	if *m.current() != StatePlaying {
		snapshot := m.snapshotLocked()
		m.mu.Unlock()
		return snapshot, nil
	}
	m.session.CurrentTime = currentTime
	if duration > 0 && !math.IsInf(duration, 0) {
		m.session.Duration = duration
	}
	videoID, total := m.session.VideoID, m.session.Duration
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.sink.OnTimeUpdate(videoID, currentTime, total)
	return snapshot, nil
}

// End Playing or Paused to Ended, fires the ended callback
func (m *Machine) End(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	cur := m.current()
	if m.session == nil {
		m.mu.Unlock()
		return m.Snapshot(), domain.ErrNoActiveSession
	}
	if *cur != StatePlaying && *cur != StatePaused {
		state := *cur
		m.mu.Unlock()
		return m.Snapshot(), fmt.Errorf("%w: end from %s", domain.ErrInvalidTransition, state)
	}
	wasPlaying := *cur == StatePlaying
	*cur = StateEnded
	m.session.Playing = false
	if m.session.Duration > 0 {
		m.session.CurrentTime = m.session.Duration
	}
	videoID, position, total := m.session.VideoID, m.session.CurrentTime, m.session.Duration
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	if wasPlaying {
		m.sink.OnTimeUpdate(videoID, position, total)
	}
	m.release(ctx, videoID)
	if m.onEnded != nil {
		m.onEnded(videoID)
	}
	return snapshot, nil
}

// Fail media load or playback failure, AwaitingMedia or Playing to Error
func (m *Machine) Fail(ctx context.Context, reason string) (Snapshot, error) {
	m.mu.Lock()
	cur := m.current()
	if m.session == nil {
		m.mu.Unlock()
		return m.Snapshot(), domain.ErrNoActiveSession
	}
	if *cur != StateAwaitingMedia && *cur != StatePlaying {
		state := *cur
		m.mu.Unlock()
		return m.Snapshot(), fmt.Errorf("%w: fail from %s", domain.ErrInvalidTransition, state)
	}
	wasPlaying := *cur == StatePlaying
	*cur = StateError
	if reason == "" {
		reason = "media_error"
	}
	m.session.Error = reason
	m.session.Playing = false
	videoID := m.session.VideoID
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	metrics.MediaErrorTotal.Inc()
	m.logger.Warn("Media failure",
		zap.String("video.id", videoID),
		zap.String("error.message", reason),
		zap.Int("session.retry_count", snapshot.Session.RetryCount),
	)
	if wasPlaying {
		m.release(ctx, videoID)
	}
	return snapshot, nil
}

// Retry user initiated reload, Error to AwaitingMedia within the retry budget
func (m *Machine) Retry() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.current()
	if m.session == nil {
		return m.snapshotLocked(), domain.ErrNoActiveSession
	}
	if *cur != StateError {
		return m.snapshotLocked(), fmt.Errorf("%w: retry from %s", domain.ErrInvalidTransition, *cur)
	}
	if m.session.RetryCount >= m.maxRetries {
		metrics.MediaRetryTotal.WithLabelValues("exhausted").Inc()
		return m.snapshotLocked(), domain.ErrRetriesExhausted
	}
	metrics.MediaRetryTotal.WithLabelValues("accepted").Inc()
	m.session.RetryCount++
	m.session.Error = ""
	m.session.StartAt = m.session.CurrentTime
	*cur = StateAwaitingMedia
	return m.snapshotLocked(), nil
}

// SetRate change playback rate of the active session
func (m *Machine) SetRate(rate float64) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return m.snapshotLocked(), domain.ErrNoActiveSession
	}
	if math.IsNaN(rate) || rate < MinRate || rate > MaxRate {
		return m.snapshotLocked(), domain.ErrInvalidRate
	}
	m.session.Rate = rate
	return m.snapshotLocked(), nil
}

// DismissLock leave Locked and return to the state under it
func (m *Machine) DismissLock() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateLocked {
		return m.snapshotLocked(), fmt.Errorf("%w: dismiss lock from %s", domain.ErrInvalidTransition, m.state)
	}
	m.state = m.prevState
	m.prevState = StateIdle
	m.lock = nil
	return m.snapshotLocked(), nil
}

// Close tear down the active session with a final flush
func (m *Machine) Close(ctx context.Context) {
	m.mu.Lock()
	old := m.session
	m.session = nil
	m.lock = nil
	m.state = StateIdle
	m.prevState = StateIdle
	m.mu.Unlock()

	if old != nil {
		m.release(ctx, old.VideoID)
	}
}
