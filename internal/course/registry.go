package course

import (
	"context"
	"crypto/subtle"
	"sync"

	"github.com/pot-code/course-player/internal/domain"
	"github.com/pot-code/course-player/internal/infrastructure/metrics"
	"go.elastic.co/apm"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Registry process-wide set of mounted views
type Registry struct {
	deps     *Dependencies
	settings *Settings

	mu    sync.RWMutex
	views map[string]*Controller
}

// NewRegistry .
func NewRegistry(deps *Dependencies, settings *Settings) *Registry {
	return &Registry{
		deps:     deps,
		settings: settings,
		views:    make(map[string]*Controller),
	}
}

// Mount create and load a view of courseID for viewer
func (r *Registry) Mount(ctx context.Context, viewer domain.Viewer, courseID string) (*Controller, error) {
	apmSpan, ctx := apm.StartSpan(ctx, "Registry.Mount", "service")
	defer apmSpan.End()

	id, err := r.deps.IDGen.Generate()
	if err != nil {
		return nil, err
	}
	key, err := r.deps.IDGen.Generate()
	if err != nil {
		return nil, err
	}
	c, err := NewController(id, viewer, courseID, r.deps, r.settings)
	if err != nil {
		return nil, err
	}
	c.key = key
	if err := c.Load(ctx); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}

	r.mu.Lock()
	r.views[id] = c
	r.mu.Unlock()
	metrics.MountedViews.Inc()

	r.deps.Logger.Info("View mounted",
		zap.String("view.id", id),
		zap.String("course.id", courseID),
		zap.String("user.id", viewer.UserID),
	)
	return c, nil
}

// ownedBy views of signed in users belong to that user, anonymous views to
// whoever holds the key issued at mount
func (c *Controller) ownedBy(viewer domain.Viewer, key string) bool {
	if c.viewer.UserID != viewer.UserID {
		return false
	}
	if c.viewer.UserID != "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(c.key), []byte(key)) == 1
}

// Get returns the view only to its owner, key is the one returned by Mount
func (r *Registry) Get(id string, viewer domain.Viewer, key string) (*Controller, error) {
	r.mu.RLock()
	c, ok := r.views[id]
	r.mu.RUnlock()
	if !ok || !c.ownedBy(viewer, key) {
		return nil, domain.ErrViewNotFound
	}
	return c, nil
}

// Unmount remove the view after a final flush
func (r *Registry) Unmount(ctx context.Context, id string, viewer domain.Viewer, key string) error {
	r.mu.Lock()
	c, ok := r.views[id]
	if !ok || !c.ownedBy(viewer, key) {
		r.mu.Unlock()
		return domain.ErrViewNotFound
	}
	delete(r.views, id)
	r.mu.Unlock()
	metrics.MountedViews.Dec()

	r.deps.Logger.Info("View unmounted", zap.String("view.id", id))
	return c.Close(ctx)
}

// Len number of mounted views
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.views)
}

// Close unmount every view, used on shutdown
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	views := r.views
	r.views = make(map[string]*Controller)
	r.mu.Unlock()

	var err error
	for _, c := range views {
		metrics.MountedViews.Dec()
		err = multierr.Append(err, c.Close(ctx))
	}
	return err
}
