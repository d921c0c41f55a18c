// Package viewport decides whether a scrolling log view should stick to the
// newest entry when new content arrives.
package viewport

// DefaultThreshold is the distance from the bottom, in the caller's units,
// within which the view is considered pinned.
const DefaultThreshold = 100

// ShouldFollow reports whether the view is close enough to the bottom to
// scroll along with new content. It must be evaluated before the new
// content is laid out.
func ShouldFollow(scrollTop, scrollHeight, viewportHeight, threshold int) bool {
	return scrollHeight-(scrollTop+viewportHeight) < threshold
}
