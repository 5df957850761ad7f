package purchase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pot-code/course-player/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type checkoutFunc func(ctx context.Context, viewer domain.Viewer, courseID string) (string, error)

func (f checkoutFunc) CreateCheckoutSession(ctx context.Context, viewer domain.Viewer, courseID string) (string, error) {
	return f(ctx, viewer, courseID)
}

var member = domain.Viewer{UserID: "u1", Token: "token"}

func TestOrchestrator_AuthRequired(t *testing.T) {
	o := NewOrchestrator(checkoutFunc(func(context.Context, domain.Viewer, string) (string, error) {
		t.Fatal("anonymous viewer must not reach checkout")
		return "", nil
	}), time.Second, zap.NewNop())

	_, err := o.Initiate(context.Background(), domain.Viewer{}, "c1")
	assert.ErrorIs(t, err, domain.ErrAuthRequired)
	assert.Equal(t, ButtonIdle, o.State())
}

func TestOrchestrator_Success(t *testing.T) {
	o := NewOrchestrator(checkoutFunc(func(ctx context.Context, viewer domain.Viewer, courseID string) (string, error) {
		assert.Equal(t, "c1", courseID)
		assert.Equal(t, "token", viewer.Token)
		return "https://pay.example.com/s/1", nil
	}), time.Second, zap.NewNop())

	url, err := o.Initiate(context.Background(), member, "c1")
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.com/s/1", url)
	assert.Equal(t, ButtonRedirecting, o.State())

	o.Reset()
	assert.Equal(t, ButtonIdle, o.State())
}

func TestOrchestrator_FailureReturnsToIdle(t *testing.T) {
	cause := errors.New("payment provider unavailable")
	o := NewOrchestrator(checkoutFunc(func(context.Context, domain.Viewer, string) (string, error) {
		return "", cause
	}), time.Second, zap.NewNop())

	_, err := o.Initiate(context.Background(), member, "c1")
	assert.ErrorIs(t, err, domain.ErrCheckoutCreationFailed)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ButtonIdle, o.State())

	// retry affordance
	_, err = o.Initiate(context.Background(), member, "c1")
	assert.ErrorIs(t, err, domain.ErrCheckoutCreationFailed)
}

func TestOrchestrator_Timeout(t *testing.T) {
	o := NewOrchestrator(checkoutFunc(func(ctx context.Context, viewer domain.Viewer, courseID string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}), 10*time.Millisecond, zap.NewNop())

	start := time.Now()
	_, err := o.Initiate(context.Background(), member, "c1")
	assert.ErrorIs(t, err, domain.ErrCheckoutCreationFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, int64(time.Since(start)), int64(time.Second))
	assert.Equal(t, ButtonIdle, o.State())
}

func TestOrchestrator_InProgress(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	o := NewOrchestrator(checkoutFunc(func(context.Context, domain.Viewer, string) (string, error) {
		close(entered)
		<-release
		return "https://pay.example.com/s/2", nil
	}), time.Second, zap.NewNop())

	done := make(chan error)
	go func() {
		_, err := o.Initiate(context.Background(), member, "c1")
		done <- err
	}()
	<-entered
	assert.Equal(t, ButtonProcessing, o.State())

	_, err := o.Initiate(context.Background(), member, "c1")
	assert.ErrorIs(t, err, domain.ErrCheckoutInProgress)

	close(release)
	assert.NoError(t, <-done)
	assert.Equal(t, ButtonRedirecting, o.State())
}
