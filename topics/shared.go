// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics

import (
	"errors"
	"fmt"
	"strings"
)

const sharePrefix = "$share/"

// Default shared subscription layout used by the overload consumer.
const (
	DefaultShareGroup = "overloadtest"
	DefaultBase       = "overload/ce"
)

// ErrInvalidCount is returned when the requested subscription count is not positive.
var ErrInvalidCount = errors.New("subscription count must be positive")

// Generate returns count shared subscription filters of the form
// $share/{group}/{base}/{NNNN}, indexed from 1 and zero-padded to four digits.
// The result is ordered by ascending index.
func Generate(group, base string, count int) ([]string, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCount, count)
	}
	if err := ValidateShareName(group); err != nil {
		return nil, err
	}
	base = strings.Trim(base, "/")
	if err := ValidateTopicName(base); err != nil {
		return nil, err
	}

	prefix := sharePrefix + group + "/" + base + "/"
	out := make([]string, count)
	for i := range out {
		out[i] = fmt.Sprintf("%s%04d", prefix, i+1)
	}

	return out, nil
}

// ParseShared parses a shared subscription filter.
// Format: $share/{ShareName}/{TopicFilter}
// Returns: shareName, topicFilter, isShared
//
// Examples:
//   - "$share/group1/sensors/#" -> ("group1", "sensors/#", true)
//   - "sensors/#" -> ("", "sensors/#", false)
func ParseShared(filter string) (shareName, topicFilter string, isShared bool) {
	if !strings.HasPrefix(filter, sharePrefix) {
		return "", filter, false
	}

	rest := filter[len(sharePrefix):]

	// Split on first '/' to separate share name from topic filter
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", filter, false
	}

	return parts[0], parts[1], true
}

// IsShared returns true if the filter is a shared subscription.
func IsShared(filter string) bool {
	return strings.HasPrefix(filter, sharePrefix)
}

// StripShared returns the topic filter without its $share/{group}/ prefix.
// Non-shared filters are returned unchanged.
func StripShared(filter string) string {
	_, f, ok := ParseShared(filter)
	if !ok {
		return filter
	}
	return f
}
