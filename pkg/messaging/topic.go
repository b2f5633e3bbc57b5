package messaging

import (
	"fmt"
	"strings"
)

// message topics follow the format source.object.action
// wildcard * for any individual segment

type Actor string
type Object string
type Action string

const (
	DiscoveryActor Actor = "discovery"
	ClientActor    Actor = "client"
	TrackerActor   Actor = "tracker"
	AnyActor       Actor = "*"
)

const (
	Swarm     Object = "swarm"
	Peer      Object = "peer"
	Stream    Object = "stream"
	Fault     Object = "fault"
	AnyObject Object = "*"
)

const (
	Connected    Action = "connected"
	Disconnected Action = "disconnected"
	Requested    Action = "requested"
	Raised       Action = "raised"
	AnyAction    Action = "*"
)

const topicSegments = 3

// AllTopics matches every topic.
const AllTopics = "*.*.*"

func NewTopic(source Actor, obj Object, action Action) string {
	return fmt.Sprintf("%s.%s.%s", source, obj, action)
}

func validPattern(pattern string) error {
	segments := strings.Split(pattern, ".")
	if len(segments) != topicSegments {
		return fmt.Errorf("topic pattern %q: want %d segments, got %d", pattern, topicSegments, len(segments))
	}
	for _, s := range segments {
		if s == "" {
			return fmt.Errorf("topic pattern %q has an empty segment", pattern)
		}
	}
	return nil
}

func matchTopic(pattern, topic string) bool {
	patternSegments := strings.Split(pattern, ".")
	topicParts := strings.Split(topic, ".")

	if len(patternSegments) != len(topicParts) {
		return false
	}

	for idx, patternSegment := range patternSegments {
		if patternSegment == "*" || patternSegment == topicParts[idx] {
			continue // segments match or the pattern has a wildcard
		}
		return false
	}
	return true
}
