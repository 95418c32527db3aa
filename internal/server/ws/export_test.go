package ws

import "github.com/alanyoungcy/opinionmarket/internal/domain"

// Wants reports whether a client holding subs would receive e.
func Wants(subs []string, e domain.Event) bool {
	set := make(topicSet, len(subs))
	for _, s := range subs {
		set[s] = struct{}{}
	}
	return set.matches(eventTopics(e))
}
