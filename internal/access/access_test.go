package access

import (
	"testing"

	"github.com/pot-code/course-player/internal/domain"
	"github.com/stretchr/testify/assert"
)

var viewerStates = []domain.ViewerState{
	domain.ViewerAnonymous,
	domain.ViewerAuthenticatedNotPurchased,
	domain.ViewerAuthenticatedPurchased,
}

func TestResolveFreePreviewAnonymous(t *testing.T) {
	videos := []*domain.Video{
		{ID: "1", IsFreePreview: true},
		{ID: "2", IsFreePreview: false},
	}
	assert.Equal(t, domain.AccessAccessible, Resolve(videos[0], domain.ViewerAnonymous))
	assert.Equal(t, domain.AccessLockedRequiresSignIn, Resolve(videos[1], domain.ViewerAnonymous))
}

func TestResolveNotPurchased(t *testing.T) {
	assert.Equal(t, domain.AccessAccessible, Resolve(&domain.Video{IsFreePreview: true}, domain.ViewerAuthenticatedNotPurchased))
	assert.Equal(t, domain.AccessLockedRequiresPurchase, Resolve(&domain.Video{}, domain.ViewerAuthenticatedNotPurchased))
}

func TestResolvePurchasedUnlocksEverything(t *testing.T) {
	videos := []*domain.Video{{ID: "1", IsFreePreview: true}, {ID: "2"}, {ID: "3"}}
	for _, v := range videos {
		assert.Equal(t, domain.AccessAccessible, Resolve(v, domain.ViewerAuthenticatedPurchased))
	}
}

func TestResolveDeterministic(t *testing.T) {
	videos := []*domain.Video{{IsFreePreview: true}, {IsFreePreview: false}, nil}
	for _, v := range videos {
		for _, vs := range viewerStates {
			assert.Equal(t, Resolve(v, vs), Resolve(v, vs))
			assert.Equal(t, Evaluate(v, vs), Evaluate(v, vs))
		}
	}
}

func TestEvaluate(t *testing.T) {
	ready := &domain.Video{ID: "1", IsFreePreview: true, Availability: domain.MediaAccessible}
	pending := &domain.Video{ID: "2", Availability: domain.MediaNotYetAvailable}
	denied := &domain.Video{ID: "3", Availability: domain.MediaDenied}

	assert.True(t, Evaluate(ready, domain.ViewerAnonymous).Playable())
	assert.Equal(t, Verdict{domain.AccessLockedRequiresSignIn, domain.MediaDenied}, Evaluate(pending, domain.ViewerAnonymous))

	// purchase flips the decision before the URL is refreshed
	v := Evaluate(denied, domain.ViewerAuthenticatedPurchased)
	assert.Equal(t, domain.AccessAccessible, v.Decision)
	assert.Equal(t, domain.MediaNotYetAvailable, v.Availability)
	assert.False(t, v.Playable())
}

func TestEvaluateAll(t *testing.T) {
	videos := []*domain.Video{{ID: "1", IsFreePreview: true, Availability: domain.MediaAccessible}, {ID: "2"}, nil}
	verdicts := EvaluateAll(videos, domain.ViewerAuthenticatedNotPurchased)
	assert.Len(t, verdicts, 2)
	assert.Equal(t, domain.AccessAccessible, verdicts["1"].Decision)
	assert.Equal(t, domain.AccessLockedRequiresPurchase, verdicts["2"].Decision)
}

func TestClassify(t *testing.T) {
	page := "https://courses.example.com/course/42"
	assert.Equal(t, domain.MediaDenied, Classify(false, "https://cdn.example.com/v.m3u8", page))
	assert.Equal(t, domain.MediaAccessible, Classify(true, "https://cdn.example.com/v.m3u8", page))
	assert.Equal(t, domain.MediaNotYetAvailable, Classify(true, "", page))
	assert.Equal(t, domain.MediaNotYetAvailable, Classify(true, "  ", page))
	assert.Equal(t, domain.MediaNotYetAvailable, Classify(true, "undefined", page))
	assert.Equal(t, domain.MediaNotYetAvailable, Classify(true, page+"/", page))
	assert.Equal(t, domain.MediaAccessible, Classify(true, "https://cdn.example.com/v.m3u8", ""))
}
