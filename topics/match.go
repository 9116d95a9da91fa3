package topics

import "strings"

// TopicMatch checks if the topic matches the given filter according to MQTT wildcard rules.
// '+' matches one level, '#' matches the remaining levels and must be last.
// Topics starting with '$' are only matched by filters whose first level is literal.
func TopicMatch(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	if filter == topic {
		return true
	}

	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")

	if strings.HasPrefix(topic, "$") && (filterLevels[0] == "+" || filterLevels[0] == "#") {
		return false
	}

	for i, fLevel := range filterLevels {
		if fLevel == "#" {
			return true
		}
		if i >= len(topicLevels) {
			return false
		}
		if fLevel != "+" && fLevel != topicLevels[i] {
			return false
		}
	}

	return len(filterLevels) == len(topicLevels)
}

// MatchSubscription reports whether a delivered topic belongs to the given
// subscription filter. Shared filters are matched on their topic filter part,
// since brokers deliver shared messages under the original topic name.
func MatchSubscription(subscription, topic string) bool {
	return TopicMatch(StripShared(subscription), topic)
}
