package itinerary

import "strings"

// ComputeStatus derives a request's aggregate status from its responses'
// statuses. prior is returned unchanged when no rule applies, so repeated
// recomputation over the same inputs is stable.
//
// Rules, in precedence order:
//   - any response completed  -> completed
//   - all responses failed    -> failed (only when at least one exists)
//   - any response processing -> processing
func ComputeStatus(prior string, responseStatuses []string) string {
	hasCompleted := false
	hasProcessing := false
	allFailed := len(responseStatuses) > 0

	for _, s := range responseStatuses {
		switch s {
		case ResponseStatusCompleted:
			hasCompleted = true
			allFailed = false
		case ResponseStatusProcessing:
			hasProcessing = true
			allFailed = false
		}
	}

	switch {
	case hasCompleted:
		return RequestStatusCompleted
	case allFailed:
		return RequestStatusFailed
	case hasProcessing:
		return RequestStatusProcessing
	default:
		return prior
	}
}

// RouteKey normalizes a source/destination/rideType triple into the composite
// attribute indexed by the route_key GSI. Lookups are case-insensitive by
// construction rather than by query expression.
func RouteKey(source, destination, rideType string) string {
	norm := func(s string) string {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return norm(source) + "#" + norm(destination) + "#" + norm(rideType)
}
