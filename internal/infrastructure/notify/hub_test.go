package notify

import (
	"sync"
	"testing"

	"github.com/pot-code/course-player/internal/domain"
	"github.com/pot-code/course-player/internal/infrastructure/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHub() *Hub {
	return NewHub(uuid.NewNanoIDGenerator(8, "sub_"), zap.NewNop())
}

func TestHubScopedDelivery(t *testing.T) {
	hub := newTestHub()
	a := Key{UserID: "u1", CourseID: "c1"}
	b := Key{UserID: "u1", CourseID: "c2"}

	var gotA, gotB []Event
	unsubA, err := hub.Subscribe(a, func(ev Event) { gotA = append(gotA, ev) })
	require.NoError(t, err)
	_, err = hub.Subscribe(b, func(ev Event) { gotB = append(gotB, ev) })
	require.NoError(t, err)

	n := hub.Publish(Event{Key: a, VideoID: "v1", Progress: &domain.Progress{VideoID: "v1", WatchedPercentage: 40}})
	assert.Equal(t, 1, n)
	require.Len(t, gotA, 1)
	assert.Empty(t, gotB)
	assert.Equal(t, 40, gotA[0].Progress.WatchedPercentage)
	assert.False(t, gotA[0].At.IsZero())

	unsubA()
	unsubA()
	assert.Equal(t, 0, hub.Publish(Event{Key: a}))
	assert.Equal(t, 0, hub.Subscribers(a))
	assert.Equal(t, 1, hub.Subscribers(b))
}

func TestHubHandlerMayUnsubscribeDuringPublish(t *testing.T) {
	hub := newTestHub()
	key := Key{UserID: "u", CourseID: "c"}

	var unsub func()
	calls := 0
	unsub, err := hub.Subscribe(key, func(ev Event) {
		calls++
		unsub()
	})
	require.NoError(t, err)

	hub.Publish(Event{Key: key})
	hub.Publish(Event{Key: key})
	assert.Equal(t, 1, calls)
}

func TestHubConcurrentPublish(t *testing.T) {
	hub := newTestHub()
	key := Key{UserID: "u", CourseID: "c"}

	var mu sync.Mutex
	count := 0
	_, err := hub.Subscribe(key, func(ev Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Publish(Event{Key: key})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, count)
}
