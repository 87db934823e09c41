package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
)

var errDrained = errors.New("no more messages")

type fakeReader struct {
	messages  []kafka.Message
	committed []int64
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if err := ctx.Err(); err != nil {
		return kafka.Message{}, err
	}
	if len(f.messages) == 0 {
		return kafka.Message{}, errDrained
	}
	msg := f.messages[0]
	f.messages = f.messages[1:]
	return msg, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error { return nil }

func newTestConsumer(reader *fakeReader, maxTries uint) *Consumer {
	cfg := newConsumerConfig([]ConsumerOption{
		WithRetry(maxTries, &backoff.ZeroBackOff{}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	})
	return newConsumer(reader, TopicOrderCreated, "test-group", cfg)
}

func messages(offsets ...int64) []kafka.Message {
	out := make([]kafka.Message, len(offsets))
	for i, o := range offsets {
		out[i] = kafka.Message{Offset: o, Value: []byte{byte(o)}}
	}
	return out
}

func TestConsumer_Consume(t *testing.T) {
	tests := []struct {
		name      string
		failures  map[byte]int
		permanent bool
		wantCalls map[byte]int
	}{
		{
			name:      "all handled",
			wantCalls: map[byte]int{1: 1, 2: 1},
		},
		{
			name:      "transient failure is retried",
			failures:  map[byte]int{1: 2},
			wantCalls: map[byte]int{1: 3, 2: 1},
		},
		{
			name:      "exhausted message is dropped",
			failures:  map[byte]int{1: 100},
			wantCalls: map[byte]int{1: 4, 2: 1},
		},
		{
			name:      "permanent failure is not retried",
			failures:  map[byte]int{1: 100},
			permanent: true,
			wantCalls: map[byte]int{1: 1, 2: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := &fakeReader{messages: messages(1, 2)}
			c := newTestConsumer(reader, 4)
			calls := map[byte]int{}

			err := c.Consume(context.Background(), func(_ context.Context, payload []byte) error {
				id := payload[0]
				calls[id]++
				if calls[id] <= tt.failures[id] {
					err := errors.New("smtp: connection refused")
					if tt.permanent {
						return Permanent(err)
					}
					return err
				}
				return nil
			})

			if !errors.Is(err, errDrained) {
				t.Fatalf("expected the consumer to run until drained, got %v", err)
			}
			for id, want := range tt.wantCalls {
				if calls[id] != want {
					t.Errorf("message %d: expected %d calls, got %d", id, want, calls[id])
				}
			}
			if len(reader.committed) != 2 || reader.committed[0] != 1 || reader.committed[1] != 2 {
				t.Errorf("expected both offsets committed in order, got %v", reader.committed)
			}
		})
	}
}

func TestConsumer_ConsumeCanceled(t *testing.T) {
	reader := &fakeReader{messages: messages(1, 2)}
	c := newTestConsumer(reader, 10)
	ctx, cancel := context.WithCancel(context.Background())

	err := c.Consume(ctx, func(context.Context, []byte) error {
		cancel()
		return errors.New("interrupted")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(reader.committed) != 0 {
		t.Errorf("expected nothing committed on shutdown, got %v", reader.committed)
	}
}
