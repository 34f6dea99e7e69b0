package mqtt

import (
	"fmt"
	"strings"
)

// DefaultStatusTopic is where the bridge announces online/offline.
const DefaultStatusTopic = "sensorbridge/status"

// ValidateTopicFilter checks a subscription filter against MQTT 3.1.1
// rules: non-empty, "#" only as the whole last level, "+" only as a whole
// level.
func ValidateTopicFilter(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return fmt.Errorf("%w: %q has '#' before the last level", ErrInvalidTopic, filter)
			}
		case level == "+":
		case strings.ContainsAny(level, "#+"):
			return fmt.Errorf("%w: %q mixes a wildcard with other characters", ErrInvalidTopic, filter)
		}
	}
	return nil
}

// ValidateTopicName checks a publish topic: non-empty and wildcard free.
func ValidateTopicName(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if strings.ContainsAny(topic, "#+") {
		return fmt.Errorf("%w: %q contains a wildcard", ErrInvalidTopic, topic)
	}
	return nil
}
