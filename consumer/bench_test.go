// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package consumer

import (
	"context"
	"fmt"
	"testing"

	"github.com/absmach/overload/client"
	"github.com/absmach/overload/topics"
)

// BenchmarkWorkerConsume measures the consume loop with a no-op handler.
func BenchmarkWorkerConsume(b *testing.B) {
	tt, err := topics.Generate(topics.DefaultShareGroup, topics.DefaultBase, 5)
	if err != nil {
		b.Fatal(err)
	}

	s := newFakeSession()
	w := NewWorker(WorkerConfig{
		ClientID:    "bench",
		Topics:      tt,
		QoS:         1,
		MaxMessages: int64(b.N),
	}, factoryFor(s), nil, nil, nil, discard)

	msg := client.NewMessage("overload/ce/0001", []byte(`{"X":"0001","Value":"2024-05-01T10:00:00Z"}`), 1, 1)
	go func() {
		for range b.N {
			s.msgs <- msg
		}
	}()

	b.ReportAllocs()
	b.ResetTimer()

	res := w.Run(context.Background())
	if res.Received != int64(b.N) {
		b.Fatalf("received %d, want %d", res.Received, b.N)
	}
}

// BenchmarkLogHandler measures JSON decoding and log formatting per message.
func BenchmarkLogHandler(b *testing.B) {
	h, err := NewLogHandler(LogHandlerConfig{Format: FormatJSON}, discard)
	if err != nil {
		b.Fatal(err)
	}
	msg := client.NewMessage("overload/ce/0001", []byte(`{"X":"0001","Value":"2024-05-01T10:00:00Z"}`), 1, 1)
	id := Identity{ID: 0, ClientID: "bench"}

	b.ReportAllocs()
	b.ResetTimer()

	for range b.N {
		h.Handle(context.Background(), id, msg)
	}
}

// BenchmarkSubscriptionMatch measures topic lookups against large filter sets.
func BenchmarkSubscriptionMatch(b *testing.B) {
	for _, n := range []int{5, 100, 1000} {
		b.Run(fmt.Sprintf("filters_%d", n), func(b *testing.B) {
			tt, err := topics.Generate(topics.DefaultShareGroup, topics.DefaultBase, n)
			if err != nil {
				b.Fatal(err)
			}
			s := newSubscriptionSet()
			for _, f := range tt {
				s.add(f)
			}
			topic := topics.StripShared(tt[n-1])

			b.ReportAllocs()
			b.ResetTimer()

			for range b.N {
				if !s.match(topic) {
					b.Fatal("expected match")
				}
			}
		})
	}
}
