// Package notify propagates progress changes between views of the same course
// that are mounted in this process, without a network round trip.
package notify

import (
	"sync"
	"time"

	"github.com/pot-code/course-player/internal/domain"
	"github.com/pot-code/course-player/internal/infrastructure/metrics"
	"github.com/pot-code/course-player/internal/infrastructure/uuid"
	"go.uber.org/zap"
)

// Key notification scope
type Key struct {
	UserID   string `json:"user_id"`
	CourseID string `json:"course_id"`
}

// Event progress-changed notification
type Event struct {
	Key
	Origin        string                 `json:"origin"`
	VideoID       string                 `json:"video_id,omitempty"`
	Progress      *domain.Progress       `json:"progress,omitempty"`
	Course        *domain.CourseProgress `json:"course,omitempty"`
	Authoritative bool                   `json:"authoritative"`
	At            time.Time              `json:"at"`
}

// Handler receives events, it must not block
type Handler func(Event)

// Publisher .
type Publisher interface {
	Publish(ev Event) int
}

// Subscriber .
type Subscriber interface {
	Subscribe(key Key, handler Handler) (func(), error)
}

// Hub in-process publish/subscribe registry scoped by (user, course)
type Hub struct {
	mu     sync.RWMutex
	subs   map[Key]map[string]Handler
	idGen  uuid.Generator
	logger *zap.Logger
}

var (
	_ Publisher  = &Hub{}
	_ Subscriber = &Hub{}
)

// NewHub create a Hub
func NewHub(idGen uuid.Generator, logger *zap.Logger) *Hub {
	return &Hub{
		subs:   make(map[Key]map[string]Handler),
		idGen:  idGen,
		logger: logger,
	}
}

// Subscribe register handler for key, the returned func unsubscribes and is idempotent
func (h *Hub) Subscribe(key Key, handler Handler) (func(), error) {
	id, err := h.idGen.Generate()
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	scoped, ok := h.subs[key]
	if !ok {
		scoped = make(map[string]Handler)
		h.subs[key] = scoped
	}
	scoped[id] = handler
	h.mu.Unlock()
	metrics.NotifySubscribers.Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if scoped, ok := h.subs[key]; ok {
				delete(scoped, id)
				if len(scoped) == 0 {
					delete(h.subs, key)
				}
			}
			metrics.NotifySubscribers.Dec()
		})
	}, nil
}

// Publish deliver ev to every subscriber of ev.Key, returns the number of deliveries.
//
// Handlers run on the caller goroutine after the hub lock is released.
func (h *Hub) Publish(ev Event) int {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	h.mu.RLock()
	scoped := h.subs[ev.Key]
	handlers := make([]Handler, 0, len(scoped))
	for _, fn := range scoped {
		handlers = append(handlers, fn)
	}
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
	h.logger.Debug("Published progress notification",
		zap.String("user.id", ev.UserID),
		zap.String("course.id", ev.CourseID),
		zap.String("video.id", ev.VideoID),
		zap.Int("notify.deliveries", len(handlers)),
	)
	return len(handlers)
}

// Subscribers number of subscribers for key
func (h *Hub) Subscribers(key Key) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[key])
}
