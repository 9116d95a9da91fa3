// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package consumer

import (
	"slices"
	"strings"
	"sync"

	"github.com/absmach/overload/topics"
)

// subscriptionSet holds the filters a worker is currently subscribed to,
// in the order they were added. Only the owning worker mutates it.
type subscriptionSet struct {
	mu        sync.RWMutex
	order     []string
	exact     map[string]string // delivered topic -> filter
	wildcards []string
}

func newSubscriptionSet() *subscriptionSet {
	return &subscriptionSet{
		exact: make(map[string]string),
	}
}

func (s *subscriptionSet) add(filter string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.Contains(s.order, filter) {
		return
	}
	s.order = append(s.order, filter)

	f := topics.StripShared(filter)
	if strings.ContainsAny(f, "+#") {
		s.wildcards = append(s.wildcards, filter)
		return
	}
	s.exact[f] = filter
}

func (s *subscriptionSet) remove(filter string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = slices.DeleteFunc(s.order, func(f string) bool { return f == filter })
	s.wildcards = slices.DeleteFunc(s.wildcards, func(f string) bool { return f == filter })
	if f := topics.StripShared(filter); s.exact[f] == filter {
		delete(s.exact, f)
	}
}

func (s *subscriptionSet) contains(filter string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.order, filter)
}

// match reports whether a delivered topic belongs to any held filter.
func (s *subscriptionSet) match(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.exact[topic]; ok {
		return true
	}
	for _, f := range s.wildcards {
		if topics.MatchSubscription(f, topic) {
			return true
		}
	}
	return false
}

func (s *subscriptionSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// snapshot returns the held filters in subscription order.
func (s *subscriptionSet) snapshot() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}
