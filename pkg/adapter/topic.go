package adapter

import "strings"

// TopicMatches reports whether an MQTT topic matches a subscription pattern.
// `+` matches exactly one level; `#` is a terminal multi-level wildcard.
func TopicMatches(pattern, topic string) bool {
	patternParts := strings.Split(pattern, "/")
	topicParts := strings.Split(topic, "/")

	for i, part := range patternParts {
		if part == "#" {
			return true
		}
		if i >= len(topicParts) {
			return false
		}
		if part != "+" && part != topicParts[i] {
			return false
		}
	}

	return len(patternParts) == len(topicParts)
}
