// Package access decides whether a course video may be played by a viewer.
package access

import (
	"strings"

	"github.com/pot-code/course-player/internal/domain"
)

// Verdict access decision plus media availability for one video
type Verdict struct {
	Decision     domain.AccessDecision    `json:"decision"`
	Availability domain.MediaAvailability `json:"availability"`
}

// Playable the media can be loaded right now
func (v Verdict) Playable() bool {
	return v.Decision == domain.AccessAccessible && v.Availability == domain.MediaAccessible
}

// Resolve decide playability of video for the viewer state, it is a pure function
func Resolve(video *domain.Video, viewer domain.ViewerState) domain.AccessDecision {
	if viewer == domain.ViewerAuthenticatedPurchased {
		return domain.AccessAccessible
	}
	if video != nil && video.IsFreePreview {
		return domain.AccessAccessible
	}
	if viewer == domain.ViewerAnonymous {
		return domain.AccessLockedRequiresSignIn
	}
	return domain.AccessLockedRequiresPurchase
}

// Evaluate resolve the decision and combine it with the ingested media availability.
//
// An accessible video without a usable URL is NotYetAvailable, never Denied.
func Evaluate(video *domain.Video, viewer domain.ViewerState) Verdict {
	decision := Resolve(video, viewer)
	if decision != domain.AccessAccessible {
		return Verdict{Decision: decision, Availability: domain.MediaDenied}
	}
	if video != nil && video.Availability == domain.MediaAccessible {
		return Verdict{Decision: decision, Availability: domain.MediaAccessible}
	}
	return Verdict{Decision: decision, Availability: domain.MediaNotYetAvailable}
}

// EvaluateAll evaluate every video, keyed by video id
func EvaluateAll(videos []*domain.Video, viewer domain.ViewerState) map[string]Verdict {
	result := make(map[string]Verdict, len(videos))
	for _, v := range videos {
		if v == nil {
			continue
		}
		result[v.ID] = Evaluate(v, viewer)
	}
	return result
}

// Classify convert the backend access flag and media URL into MediaAvailability.
//
// pageURL is the address of the page hosting the player, a media URL equal to
// it is a placeholder rather than media.
func Classify(hasAccess bool, mediaURL, pageURL string) domain.MediaAvailability {
	if !hasAccess {
		return domain.MediaDenied
	}
	if isPlaceholderURL(mediaURL, pageURL) {
		return domain.MediaNotYetAvailable
	}
	return domain.MediaAccessible
}

func isPlaceholderURL(mediaURL, pageURL string) bool {
	u := strings.TrimSpace(mediaURL)
	switch strings.ToLower(u) {
	case "", "undefined", "null":
		return true
	}
	if pageURL != "" && strings.TrimRight(u, "/") == strings.TrimRight(strings.TrimSpace(pageURL), "/") {
		return true
	}
	return false
}
