package domain

// ViewerState authentication and purchase state of the viewer for one course
type ViewerState int

const (
	ViewerAnonymous ViewerState = iota
	ViewerAuthenticatedNotPurchased
	ViewerAuthenticatedPurchased
)

func (vs ViewerState) String() string {
	switch vs {
	case ViewerAuthenticatedNotPurchased:
		return "authenticated_not_purchased"
	case ViewerAuthenticatedPurchased:
		return "authenticated_purchased"
	default:
		return "anonymous"
	}
}

// Viewer identity forwarded to the backend, empty Token means anonymous
type Viewer struct {
	UserID string
	Token  string
}

// Authenticated reports whether the viewer carries a token
func (v Viewer) Authenticated() bool {
	return v.Token != ""
}

// State derive ViewerState from identity and purchase flag
func (v Viewer) State(purchased bool) ViewerState {
	if !v.Authenticated() {
		return ViewerAnonymous
	}
	if purchased {
		return ViewerAuthenticatedPurchased
	}
	return ViewerAuthenticatedNotPurchased
}
