package domain

import "context"

// AccessDecision playability verdict for a (video, viewer) pair
type AccessDecision int

const (
	AccessAccessible AccessDecision = iota
	AccessLockedRequiresSignIn
	AccessLockedRequiresPurchase
)

func (ad AccessDecision) String() string {
	switch ad {
	case AccessLockedRequiresSignIn:
		return "locked_requires_sign_in"
	case AccessLockedRequiresPurchase:
		return "locked_requires_purchase"
	default:
		return "accessible"
	}
}

// Remedy action offered for a locked video
func (ad AccessDecision) Remedy() string {
	switch ad {
	case AccessLockedRequiresSignIn:
		return "sign_in"
	case AccessLockedRequiresPurchase:
		return "purchase"
	default:
		return ""
	}
}

// MediaAvailability whether a playable media URL is present
type MediaAvailability int

const (
	MediaDenied MediaAvailability = iota
	MediaNotYetAvailable
	MediaAccessible
)

func (ma MediaAvailability) String() string {
	switch ma {
	case MediaAccessible:
		return "accessible"
	case MediaNotYetAvailable:
		return "not_yet_available"
	default:
		return "denied"
	}
}

// Video course video as returned by the access query
type Video struct {
	ID            string            `json:"id"`
	Index         int               `json:"index"`
	Title         string            `json:"title"`
	Duration      float64           `json:"duration"` // seconds
	IsFreePreview bool              `json:"is_free_preview"`
	HasAccess     bool              `json:"has_access"`
	MediaURL      string            `json:"-"`
	Availability  MediaAvailability `json:"-"`
}

// VideoRepository video access query
type VideoRepository interface {
	GetCourseVideos(ctx context.Context, viewer Viewer, courseID string) ([]*Video, error)
}

// PurchaseRepository purchase-status query
type PurchaseRepository interface {
	GetPurchaseStatus(ctx context.Context, viewer Viewer, courseID string) (bool, error)
}

// CheckoutRepository checkout-session creation
type CheckoutRepository interface {
	CreateCheckoutSession(ctx context.Context, viewer Viewer, courseID string) (string, error)
}
