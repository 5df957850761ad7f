package course

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pot-code/course-player/internal/domain"
	"github.com/pot-code/course-player/internal/infrastructure/notify"
	"github.com/pot-code/course-player/internal/infrastructure/uuid"
	"github.com/pot-code/course-player/internal/playback"
	"github.com/pot-code/course-player/internal/purchase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

var member = domain.Viewer{UserID: "u1", Token: "token"}

// fakeBackend serves every collaborator contract from memory
type fakeBackend struct {
	mu          sync.Mutex
	purchased   map[string]bool
	videoErr    error
	purchaseErr error
	checkoutErr error
	progress    map[string]*domain.Progress
	updates     int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{purchased: make(map[string]bool), progress: make(map[string]*domain.Progress)}
}

func (b *fakeBackend) GetCourseVideos(ctx context.Context, viewer domain.Viewer, courseID string) ([]*domain.Video, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.videoErr != nil {
		return nil, b.videoErr
	}
	owned := b.purchased[viewer.UserID]
	url := func(id string, free bool) (string, domain.MediaAvailability) {
		if owned || free {
			return "https://cdn/" + id, domain.MediaAccessible
		}
		return "", domain.MediaDenied
	}
	var videos []*domain.Video
	for i, free := range []bool{true, false, false} {
		id := []string{"1", "2", "3"}[i]
		u, a := url(id, free)
		videos = append(videos, &domain.Video{
			ID: id, Index: i + 1, Title: "Video " + id, Duration: 65,
			IsFreePreview: free, HasAccess: owned || free, MediaURL: u, Availability: a,
		})
	}
	return videos, nil
}

func (b *fakeBackend) GetPurchaseStatus(ctx context.Context, viewer domain.Viewer, courseID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.purchaseErr != nil {
		return false, b.purchaseErr
	}
	return b.purchased[viewer.UserID], nil
}

func (b *fakeBackend) GetProgress(ctx context.Context, viewer domain.Viewer, courseID, videoID string) (*domain.Progress, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.progress[videoID]; ok {
		return p.Clone(), nil
	}
	return &domain.Progress{VideoID: videoID}, nil
}

func (b *fakeBackend) UpdateProgress(ctx context.Context, viewer domain.Viewer, courseID, videoID string, u *domain.ProgressUpdate) (*domain.ProgressUpdateResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates++
	pct := 0
	if u.TotalDuration > 0 {
		pct = int(u.LastPosition / u.TotalDuration * 100)
	}
	p := &domain.Progress{
		VideoID: videoID, WatchedDuration: u.WatchedDuration, TotalDuration: u.TotalDuration,
		WatchedPercentage: pct, CompletionPercentage: float64(pct), IsCompleted: pct >= 100, LastPosition: u.LastPosition,
	}
	b.progress[videoID] = p
	return &domain.ProgressUpdateResult{
		Progress: p.Clone(),
		Course:   &domain.CourseProgress{TotalVideos: 3, Percentage: pct / 3, LastWatchedVideoID: videoID},
	}, nil
}

func (b *fakeBackend) CreateCheckoutSession(ctx context.Context, viewer domain.Viewer, courseID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.checkoutErr != nil {
		return "", b.checkoutErr
	}
	return "https://pay.example.com/" + courseID, nil
}

func (b *fakeBackend) updateCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updates
}

func newTestRegistry(b *fakeBackend) *Registry {
	return NewRegistry(&Dependencies{
		Videos:    b,
		Purchases: b,
		Progress:  b,
		Checkout:  b,
		Hub:       notify.NewHub(uuid.NewNanoIDGenerator(8, "sub_"), zap.NewNop()),
		IDGen:     uuid.NewNanoIDGenerator(12, ""),
		Logger:    zap.NewNop(),
	}, &Settings{
		FlushInterval:   time.Hour,
		FlushBurst:      1,
		FlushTimeout:    time.Second,
		CheckoutTimeout: time.Second,
		MaxRetries:      3,
	})
}

func playlistItem(v *View, id string) PlaylistItem {
	for _, it := range v.Playlist {
		if it.ID == id {
			return it
		}
	}
	return PlaylistItem{}
}

func TestController_AnonymousFreePreview(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := newFakeBackend()
	r := newTestRegistry(b)
	ctx := context.Background()
	c, err := r.Mount(ctx, domain.Viewer{}, "c1")
	require.NoError(t, err)

	v := c.View()
	assert.Equal(t, "anonymous", v.ViewerState)
	assert.Equal(t, "accessible", playlistItem(v, "1").Decision)
	assert.Equal(t, "locked_requires_sign_in", playlistItem(v, "2").Decision)
	assert.Equal(t, "sign_in", playlistItem(v, "2").Remedy)
	assert.True(t, playlistItem(v, "2").RequiresPurchase)
	assert.Equal(t, "3:15", v.TotalFormatted)
	assert.Equal(t, "1:05", playlistItem(v, "1").FormattedDuration)

	v, err = c.Select(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, playback.StateAwaitingMedia, v.Playback.State)

	v, err = c.Select(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, playback.StateLocked, v.Playback.State)
	assert.Equal(t, "1", v.Playback.Session.VideoID)

	_, err = c.Purchase(ctx)
	assert.ErrorIs(t, err, domain.ErrAuthRequired)

	require.NoError(t, r.Unmount(ctx, c.ID(), domain.Viewer{}, c.Key()))
	assert.Equal(t, 0, b.updateCount())
}

func TestController_PurchaseFlipsEveryVideo(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := newFakeBackend()
	r := newTestRegistry(b)
	ctx := context.Background()
	c, err := r.Mount(ctx, member, "c1")
	require.NoError(t, err)

	v := c.View()
	assert.Equal(t, "authenticated_not_purchased", v.ViewerState)
	assert.Equal(t, "purchase", playlistItem(v, "3").Remedy)

	v, err = c.Select(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, "purchase", v.Playback.Lock.Remedy)

	url, err := c.Purchase(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.com/c1", url)
	assert.Equal(t, purchase.ButtonRedirecting, c.View().Purchase)

	b.mu.Lock()
	b.purchased["u1"] = true
	b.mu.Unlock()

	v, err = c.CheckoutReturned(ctx)
	require.NoError(t, err)
	assert.True(t, v.Purchased)
	assert.Equal(t, purchase.ButtonIdle, v.Purchase)
	for _, it := range v.Playlist {
		assert.Equal(t, "accessible", it.Decision, it.ID)
		assert.Equal(t, "accessible", it.Availability, it.ID)
	}

	v, err = c.Select(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, playback.StateAwaitingMedia, v.Playback.State)
	assert.Equal(t, "https://cdn/3", v.Playback.Session.MediaURL)

	// a failing status query later does not relock the course
	b.mu.Lock()
	b.purchaseErr = errors.New("status unavailable")
	b.mu.Unlock()
	v, err = c.CheckoutReturned(ctx)
	require.NoError(t, err)
	assert.True(t, v.Purchased)

	require.NoError(t, r.Close(ctx))
}

func TestController_CheckoutFailureBackToIdle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := newFakeBackend()
	b.checkoutErr = errors.New("provider down")
	r := newTestRegistry(b)
	ctx := context.Background()
	c, err := r.Mount(ctx, member, "c1")
	require.NoError(t, err)

	_, err = c.Purchase(ctx)
	assert.ErrorIs(t, err, domain.ErrCheckoutCreationFailed)
	assert.Equal(t, purchase.ButtonIdle, c.View().Purchase)
	require.NoError(t, r.Close(ctx))
}

func TestController_PlaybackFlushesAndSuggestsNext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := newFakeBackend()
	b.purchased["u1"] = true
	b.progress["1"] = &domain.Progress{VideoID: "1", LastPosition: 20, TotalDuration: 65, WatchedPercentage: 31}
	r := newTestRegistry(b)
	ctx := context.Background()
	c, err := r.Mount(ctx, member, "c1")
	require.NoError(t, err)

	v, err := c.Select(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 20.0, v.Playback.Session.StartAt)

	_, err = c.Play()
	require.NoError(t, err)
	_, err = c.TimeUpdate(30, 65)
	require.NoError(t, err)
	_, err = c.TimeUpdate(40, 65)
	require.NoError(t, err)
	c.tracker.Wait()

	// switching saves the final position of the previous video
	_, err = c.Select(ctx, "2")
	require.NoError(t, err)
	b.mu.Lock()
	assert.Equal(t, 40.0, b.progress["1"].LastPosition)
	b.mu.Unlock()

	_, err = c.Play()
	require.NoError(t, err)
	v, err = c.End(ctx)
	require.NoError(t, err)
	assert.Equal(t, playback.StateEnded, v.Playback.State)
	assert.Equal(t, "3", v.NextVideoID)
	assert.Equal(t, "2", v.Playback.Session.VideoID)
	assert.True(t, playlistItem(v, "2").Progress.IsCompleted)
	assert.True(t, v.CourseProgress.Authoritative)

	require.NoError(t, r.Unmount(ctx, c.ID(), member, ""))
}

func TestController_LoadFailures(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := newFakeBackend()
	b.purchaseErr = errors.New("status unavailable")
	r := newTestRegistry(b)
	ctx := context.Background()

	c, err := r.Mount(ctx, member, "c1")
	require.NoError(t, err)
	assert.False(t, c.View().Purchased)

	b.videoErr = errors.New("videos unavailable")
	_, err = r.Mount(ctx, member, "c1")
	assert.Error(t, err)
	assert.Equal(t, 1, r.Len())

	_, err = c.RefreshMedia(ctx)
	assert.Error(t, err)
	require.NoError(t, r.Close(ctx))
}

func TestRegistry_Lifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := newFakeBackend()
	b.purchased["u1"] = true
	r := newTestRegistry(b)
	ctx := context.Background()

	detail, err := r.Mount(ctx, member, "c1")
	require.NoError(t, err)
	card, err := r.Mount(ctx, member, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	got, err := r.Get(detail.ID(), member, "")
	require.NoError(t, err)
	assert.Same(t, detail, got)

	_, err = r.Get(detail.ID(), domain.Viewer{UserID: "u2", Token: "x"}, detail.Key())
	assert.ErrorIs(t, err, domain.ErrViewNotFound)
	assert.ErrorIs(t, r.Unmount(ctx, detail.ID(), domain.Viewer{UserID: "u2", Token: "x"}, detail.Key()), domain.ErrViewNotFound)

	// progress saved in one view shows up in the other
	_, err = detail.Select(ctx, "2")
	require.NoError(t, err)
	_, err = detail.Play()
	require.NoError(t, err)
	_, err = detail.TimeUpdate(13, 65)
	require.NoError(t, err)
	_, err = detail.Pause(ctx)
	require.NoError(t, err)
	detail.tracker.Wait()

	p := playlistItem(card.View(), "2").Progress
	require.NotNil(t, p)
	assert.Equal(t, 13.0, p.LastPosition)
	assert.Equal(t, "2", card.View().CourseProgress.LastWatchedVideoID)

	require.NoError(t, r.Unmount(ctx, detail.ID(), member, ""))
	_, err = r.Get(detail.ID(), member, "")
	assert.ErrorIs(t, err, domain.ErrViewNotFound)

	require.NoError(t, r.Close(ctx))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_AnonymousViewsNeedTheirKey(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := newTestRegistry(newFakeBackend())
	ctx := context.Background()

	mine, err := r.Mount(ctx, domain.Viewer{}, "c1")
	require.NoError(t, err)
	theirs, err := r.Mount(ctx, domain.Viewer{}, "c1")
	require.NoError(t, err)
	require.NotEmpty(t, mine.Key())
	assert.NotEqual(t, mine.Key(), theirs.Key())

	// another anonymous caller knowing only the view id
	_, err = r.Get(mine.ID(), domain.Viewer{}, "")
	assert.ErrorIs(t, err, domain.ErrViewNotFound)
	_, err = r.Get(mine.ID(), domain.Viewer{}, theirs.Key())
	assert.ErrorIs(t, err, domain.ErrViewNotFound)
	assert.ErrorIs(t, r.Unmount(ctx, mine.ID(), domain.Viewer{}, theirs.Key()), domain.ErrViewNotFound)
	assert.Equal(t, 2, r.Len())

	// a key does not let a signed in user take over an anonymous view
	_, err = r.Get(mine.ID(), member, mine.Key())
	assert.ErrorIs(t, err, domain.ErrViewNotFound)

	got, err := r.Get(mine.ID(), domain.Viewer{}, mine.Key())
	require.NoError(t, err)
	assert.Same(t, mine, got)
	require.NoError(t, r.Unmount(ctx, mine.ID(), domain.Viewer{}, mine.Key()))
	require.NoError(t, r.Close(ctx))
}
