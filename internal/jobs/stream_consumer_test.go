package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/leafsii/rediscmd/pkg/kv"
	"github.com/leafsii/rediscmd/pkg/kv/memory"
)

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
	claims   int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{outcomes: make(map[string]int)}
}

func (r *countingRecorder) RecordEntry(ctx context.Context, stream, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[outcome]++
}

func (r *countingRecorder) RecordClaim(ctx context.Context, stream string, claimed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claims += claimed
}

func (r *countingRecorder) outcome(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[name]
}

func (r *countingRecorder) claimCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.claims
}

type collector struct {
	mu  sync.Mutex
	ids []string
}

func (c *collector) handle(ctx context.Context, msg kv.XMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, msg.ID)
	return nil
}

func (c *collector) seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func startConsumer(t *testing.T, consumer *StreamConsumer) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- consumer.Start(context.Background())
	}()
	t.Cleanup(func() {
		consumer.Stop()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Errorf("consumer did not stop")
		}
	})
	return done
}

func TestStreamConsumerAcknowledges(t *testing.T) {
	client := kv.NewClient(memory.New(0), nil)
	t.Cleanup(func() { client.Close() })
	ctx := context.Background()

	first, err := client.AppendToStream(ctx, "events", kv.Pairs("n", "1"))
	require.NoError(t, err)
	second, err := client.AppendToStream(ctx, "events", kv.Pairs("n", "2"))
	require.NoError(t, err)

	handled := &collector{}
	recorder := newCountingRecorder()
	consumer := NewStreamConsumer(client, handled.handle, zaptest.NewLogger(t).Sugar(), recorder, StreamConsumerConfig{
		Stream:        "events",
		Group:         "workers",
		Consumer:      "w1",
		ClaimMinIdle:  time.Minute,
		ClaimInterval: time.Second,
	})
	startConsumer(t, consumer)

	require.Eventually(t, func() bool {
		return len(handled.seen()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{first, second}, handled.seen())

	require.Eventually(t, func() bool {
		return recorder.outcome(OutcomeAcked) == 2
	}, time.Second, 10*time.Millisecond)

	pending, err := client.Store().XPending(ctx, "events", "workers", kv.StreamRangeStart, kv.StreamRangeEnd, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Acknowledged entries are kept in the stream
	deleted, err := client.DeleteEntries(ctx, "events", first)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestStreamConsumerDeleteOnAck(t *testing.T) {
	client := kv.NewClient(memory.New(0), nil)
	t.Cleanup(func() { client.Close() })
	ctx := context.Background()

	id, err := client.AppendToStream(ctx, "events", kv.Pairs("n", "1"))
	require.NoError(t, err)

	recorder := newCountingRecorder()
	consumer := NewStreamConsumer(client, (&collector{}).handle, nil, recorder, StreamConsumerConfig{
		Stream:        "events",
		Group:         "workers",
		Consumer:      "w1",
		ClaimMinIdle:  time.Minute,
		ClaimInterval: time.Second,
		DeleteOnAck:   true,
	})
	startConsumer(t, consumer)

	require.Eventually(t, func() bool {
		return recorder.outcome(OutcomeAcked) == 1
	}, 2*time.Second, 10*time.Millisecond)

	deleted, err := client.DeleteEntries(ctx, "events", id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted, "entry should already be gone")
}

func TestStreamConsumerReclaimsFailedEntry(t *testing.T) {
	client := kv.NewClient(memory.New(0), nil)
	t.Cleanup(func() { client.Close() })
	ctx := context.Background()

	id, err := client.AppendToStream(ctx, "events", kv.Pairs("job", "flaky"))
	require.NoError(t, err)

	var (
		mu       sync.Mutex
		attempts int
	)
	handler := func(ctx context.Context, msg kv.XMessage) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return errors.New("transient failure")
		}
		return nil
	}

	recorder := newCountingRecorder()
	consumer := NewStreamConsumer(client, handler, nil, recorder, StreamConsumerConfig{
		Stream:        "events",
		Group:         "workers",
		Consumer:      "w1",
		ClaimMinIdle:  0,
		ClaimInterval: 10 * time.Millisecond,
	})
	startConsumer(t, consumer)

	// The retry happens on the reclaim after the first read's block period
	require.Eventually(t, func() bool {
		return recorder.outcome(OutcomeAcked) == 1
	}, 3*kv.ReadGroupBlock, 20*time.Millisecond)

	assert.Equal(t, 1, recorder.outcome(OutcomeFailed))
	assert.Equal(t, 1, recorder.claimCount())

	pending, err := client.Store().XPending(ctx, "events", "workers", kv.StreamRangeStart, kv.StreamRangeEnd, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "entry %s should be acknowledged", id)
}

func TestStreamConsumerStopReturnsContextError(t *testing.T) {
	client := kv.NewClient(memory.New(0), nil)
	t.Cleanup(func() { client.Close() })

	consumer := NewStreamConsumer(client, (&collector{}).handle, nil, nil, StreamConsumerConfig{
		Stream:   "events",
		Group:    "workers",
		Consumer: "w1",
	})

	done := make(chan error, 1)
	go func() {
		done <- consumer.Start(context.Background())
	}()

	// Give the loop time to block in ReadGroup
	time.Sleep(50 * time.Millisecond)
	consumer.Stop()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestStreamConsumerStopBeforeStart(t *testing.T) {
	client := kv.NewClient(memory.New(0), nil)
	t.Cleanup(func() { client.Close() })

	consumer := NewStreamConsumer(client, (&collector{}).handle, nil, nil, StreamConsumerConfig{
		Stream:   "events",
		Group:    "workers",
		Consumer: "w1",
	})
	consumer.Stop()

	done := make(chan error, 1)
	go func() {
		done <- consumer.Start(context.Background())
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(kv.ReadGroupBlock + time.Second):
		t.Fatal("Start kept running after Stop")
	}

	// The group is never created once stopped
	_, err := client.GroupExists(context.Background(), "events", "workers")
	assert.Error(t, err, "stream should not have been created")
}

func TestStreamConsumerGroupError(t *testing.T) {
	client := kv.NewClient(memory.New(0), nil)
	t.Cleanup(func() { client.Close() })
	ctx := context.Background()

	// A string key cannot hold a consumer group
	_, err := client.Set(ctx, "events", "not a stream")
	require.NoError(t, err)

	consumer := NewStreamConsumer(client, (&collector{}).handle, nil, nil, StreamConsumerConfig{
		Stream:   "events",
		Group:    "workers",
		Consumer: "w1",
	})
	err = consumer.Start(ctx)
	assert.Error(t, err)
}
