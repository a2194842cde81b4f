package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/leafsii/rediscmd/pkg/kv"
)

// Handler processes one stream entry. Returning an error leaves the entry
// pending so that it is reclaimed later.
type Handler func(ctx context.Context, msg kv.XMessage) error

// Recorder receives worker outcomes
type Recorder interface {
	RecordEntry(ctx context.Context, stream, outcome string)
	RecordClaim(ctx context.Context, stream string, claimed int)
}

const (
	OutcomeAcked  = "acked"
	OutcomeFailed = "failed"
)

type StreamConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string

	// ClaimMinIdle is how long an entry must sit unacknowledged before another
	// consumer may take it over
	ClaimMinIdle time.Duration
	// ClaimInterval paces reclaim attempts
	ClaimInterval time.Duration
	// DeleteOnAck removes entries from the stream once acknowledged
	DeleteOnAck bool
	// ErrorBackoff is the pause after a failed store call. Default: kv.ReadGroupBlock
	ErrorBackoff time.Duration
}

type StreamConsumer struct {
	client   *kv.Client
	handler  Handler
	logger   *zap.SugaredLogger
	recorder Recorder
	config   StreamConsumerConfig

	claimLimiter *rate.Limiter

	mu        sync.Mutex
	cancelCtx context.CancelFunc
	stopped   bool
}

func NewStreamConsumer(client *kv.Client, handler Handler, logger *zap.SugaredLogger, recorder Recorder, config StreamConsumerConfig) *StreamConsumer {
	if config.ClaimInterval <= 0 {
		config.ClaimInterval = 5 * time.Second
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = kv.ReadGroupBlock
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &StreamConsumer{
		client:       client,
		handler:      handler,
		logger:       kv.NopIfNil(logger),
		recorder:     recorder,
		config:       config,
		claimLimiter: rate.NewLimiter(rate.Every(config.ClaimInterval), 1),
	}
}

// Start ensures the consumer group and then consumes until ctx is done or
// Stop is called. It returns the context's error on shutdown, and
// context.Canceled at once if Stop was already called.
func (c *StreamConsumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return context.Canceled
	}
	c.cancelCtx = cancel
	c.mu.Unlock()

	if err := c.client.EnsureConsumerGroup(ctx, c.config.Stream, c.config.Group); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	c.logger.Infow("Starting stream consumer",
		"stream", c.config.Stream,
		"group", c.config.Group,
		"consumer", c.config.Consumer,
		"claimMinIdle", c.config.ClaimMinIdle,
	)

	for {
		if err := ctx.Err(); err != nil {
			c.logger.Infow("Stream consumer stopping due to context cancellation")
			return err
		}

		if c.claimLimiter.Allow() {
			if err := c.reclaim(ctx); err != nil {
				c.backoff(ctx, "reclaim", err)
				continue
			}
		}

		if err := c.readNext(ctx); err != nil {
			c.backoff(ctx, "read", err)
		}
	}
}

// Stop ends a running Start. A Stop that arrives before Start makes Start
// return immediately; a stopped consumer cannot be restarted.
func (c *StreamConsumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.cancelCtx != nil {
		c.cancelCtx()
	}
}

func (c *StreamConsumer) backoff(ctx context.Context, step string, err error) {
	if ctx.Err() != nil {
		return
	}
	c.logger.Warnw("Stream consumer store call failed", "step", step, "stream", c.config.Stream, "error", err)

	timer := time.NewTimer(c.config.ErrorBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// reclaim takes over the oldest entry left pending by any consumer
func (c *StreamConsumer) reclaim(ctx context.Context) error {
	claimed, err := c.client.ClaimOldestPending(ctx, c.config.Stream, c.config.Group, c.config.Consumer, c.config.ClaimMinIdle)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		return nil
	}

	c.recorder.RecordClaim(ctx, c.config.Stream, len(claimed))
	for _, msg := range claimed {
		c.logger.Debugw("Reclaimed pending entry", "stream", c.config.Stream, "id", msg.ID)
		if err := c.process(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *StreamConsumer) readNext(ctx context.Context) error {
	streams, err := c.client.ReadGroup(ctx, c.config.Stream, c.config.Group, c.config.Consumer)
	if err != nil {
		return err
	}
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			if err := c.process(ctx, msg); err != nil {
				return err
			}
		}
	}
	return nil
}

// process runs the handler and acknowledges on success. Only store errors
// are returned; a handler error is logged and the entry stays pending.
func (c *StreamConsumer) process(ctx context.Context, msg kv.XMessage) error {
	if err := c.handler(ctx, msg); err != nil {
		c.logger.Warnw("Handler failed, entry left pending",
			"stream", c.config.Stream,
			"id", msg.ID,
			"error", err,
		)
		c.recorder.RecordEntry(ctx, c.config.Stream, OutcomeFailed)
		return nil
	}

	if c.config.DeleteOnAck {
		if _, _, err := c.client.AcknowledgeAndDelete(ctx, c.config.Stream, c.config.Group, msg.ID); err != nil {
			return err
		}
	} else if _, err := c.client.Acknowledge(ctx, c.config.Stream, c.config.Group, msg.ID); err != nil {
		return err
	}

	c.recorder.RecordEntry(ctx, c.config.Stream, OutcomeAcked)
	return nil
}

type nopRecorder struct{}

func (nopRecorder) RecordEntry(context.Context, string, string) {}
func (nopRecorder) RecordClaim(context.Context, string, int)    {}
