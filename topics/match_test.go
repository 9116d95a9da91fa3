// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics_test

import (
	"testing"

	"github.com/absmach/overload/topics"
)

func TestTopicMatch(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"foo/bar", "foo/bar", true},
		{"foo/+", "foo/bar", true},
		{"foo/+", "foo", false},
		{"foo/+", "foo/bar/baz", false},
		{"foo/#", "foo/bar/baz", true},
		{"foo/#", "foo", true},
		{"#", "foo/bar", true},
		{"+/+", "foo/bar/baz", false},
		{"$SYS/#", "$SYS/monitor/Clients", true},
		{"#", "$SYS/monitor/Clients", false},
		{"+/monitor/Clients", "$SYS/monitor/Clients", false},
		{"foo/bar", "foo/baz", false},
		{"", "foo", false},
		{"foo", "", false},
	}

	for _, tt := range tests {
		if got := topics.TopicMatch(tt.filter, tt.topic); got != tt.want {
			t.Errorf("TopicMatch(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
		}
	}
}

func TestMatchSubscription(t *testing.T) {
	tests := []struct {
		sub   string
		topic string
		want  bool
	}{
		{"$share/overloadtest/overload/ce/0003", "overload/ce/0003", true},
		{"$share/overloadtest/overload/ce/0003", "overload/ce/0004", false},
		{"$share/g/overload/ce/+", "overload/ce/0001", true},
		{"overload/ce/0001", "overload/ce/0001", true},
		{"$share/overloadtest/overload/ce/0001", "$share/overloadtest/overload/ce/0001", false},
	}

	for _, tt := range tests {
		if got := topics.MatchSubscription(tt.sub, tt.topic); got != tt.want {
			t.Errorf("MatchSubscription(%q, %q) = %v, want %v", tt.sub, tt.topic, got, tt.want)
		}
	}
}
