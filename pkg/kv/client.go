package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// ReadGroupBlock is how long ReadGroup waits for a new entry
	ReadGroupBlock = 3 * time.Second

	// ClaimIdle is the IDLE option sent by ClaimOldestPending
	ClaimIdle = 60 * time.Second

	// claimTimeMs is the TIME option sent by ClaimOldestPending, in Unix ms
	claimTimeMs = 60000
)

// ClaimTime is the delivery time ClaimOldestPending stamps on a claimed entry.
// It is an absolute time, 60s after the Unix epoch, so a reclaimed entry is
// immediately eligible for the next claim.
var ClaimTime = time.UnixMilli(claimTimeMs)

// Client is the facade callers use. It forwards each call to the underlying
// Store and adds the few composite stream helpers. A Client is safe for
// concurrent use; it holds no per-call state.
type Client struct {
	store  Store
	logger *zap.SugaredLogger
}

// NewClient wraps store. logger may be nil.
func NewClient(store Store, logger *zap.SugaredLogger) *Client {
	return &Client{store: store, logger: NopIfNil(logger)}
}

// Store returns the underlying connection handle.
func (c *Client) Store() Store {
	return c.store
}

// String and key operations

// Get returns the string at key, or ErrNotFound if the key does not exist.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.store.Get(ctx, key)
}

// Exists counts how many of keys exist.
func (c *Client) Exists(ctx context.Context, keys ...string) (int64, error) {
	return c.store.Exists(ctx, keys...)
}

// Set stores value at key with no expiry, dropping any previous TTL.
func (c *Client) Set(ctx context.Context, key, value string) (bool, error) {
	return c.store.Set(ctx, key, value)
}

// Expire sets a TTL on key. ttl is a duration, sent to the store in whole
// seconds; it reports false when the key does not exist.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.store.Expire(ctx, key, ttl)
}

// Delete removes keys and returns how many existed.
func (c *Client) Delete(ctx context.Context, keys ...string) (int64, error) {
	return c.store.Del(ctx, keys...)
}

// Stream operations

// AppendToStream appends one entry and returns the id the store assigned.
func (c *Client) AppendToStream(ctx context.Context, key string, pairs []FieldValue) (string, error) {
	return c.store.XAdd(ctx, key, StreamAutoID, pairs)
}

// EnsureConsumerGroup creates group on key, creating the stream if needed.
// A group that already exists is not an error, so concurrent first use by
// several callers is safe: the store decides which create wins.
func (c *Client) EnsureConsumerGroup(ctx context.Context, key, group string) error {
	err := c.store.XGroupCreateMkStream(ctx, key, group, StreamZeroID)
	if errors.Is(err, ErrGroupExists) {
		c.logger.Debugw("Consumer group already exists", "stream", key, "group", group)
		return nil
	}
	return err
}

// ReadGroup reads at most one never-delivered entry for consumer, waiting up
// to ReadGroupBlock. An empty reply with a nil error means nothing arrived.
func (c *Client) ReadGroup(ctx context.Context, key, group, consumer string) ([]XStream, error) {
	return c.store.XReadGroup(ctx, ReadGroupArgs{
		Stream:   key,
		Group:    group,
		Consumer: consumer,
		ID:       StreamNeverDelivered,
		Count:    1,
		Block:    ReadGroupBlock,
	})
}

// ListGroups returns the consumer groups of the stream at key.
func (c *Client) ListGroups(ctx context.Context, key string) ([]XInfoGroup, error) {
	return c.store.XInfoGroups(ctx, key)
}

// ListConsumers returns the consumers known to group.
func (c *Client) ListConsumers(ctx context.Context, key, group string) ([]XInfoConsumer, error) {
	return c.store.XInfoConsumers(ctx, key, group)
}

// GroupExists reports whether key has a consumer group named group.
func (c *Client) GroupExists(ctx context.Context, key, group string) (bool, error) {
	groups, err := c.store.XInfoGroups(ctx, key)
	if err != nil {
		return false, err
	}
	for _, g := range groups {
		if g.Name == group {
			return true, nil
		}
	}
	return false, nil
}

// PendingEntries lists up to count pending entries of group, oldest first.
func (c *Client) PendingEntries(ctx context.Context, key, group string, count int64) ([]XPendingExt, error) {
	return c.store.XPending(ctx, key, group, StreamRangeStart, StreamRangeEnd, count)
}

// ClaimOldestPending moves the oldest pending entry of group to consumer if it
// has been idle for at least minIdle. The claim carries IDLE ClaimIdle and
// TIME ClaimTime; the server applies TIME last, so the claimed entry's
// delivery time becomes ClaimTime. When nothing is pending it returns nil
// without claiming.
func (c *Client) ClaimOldestPending(ctx context.Context, key, group, consumer string, minIdle time.Duration) ([]XMessage, error) {
	pending, err := c.PendingEntries(ctx, key, group, 1)
	if err != nil {
		return nil, err
	}
	id := ExtractEntryID(pending)
	if id == "" {
		c.logger.Debugw("No pending entry to claim", "stream", key, "group", group)
		return nil, nil
	}
	return c.store.XClaim(ctx, ClaimArgs{
		Stream:   key,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		IDs:      []string{id},
		Idle:     ClaimIdle,
		Time:     ClaimTime,
	})
}

// Acknowledge marks ids as processed. The entries stay in the stream.
func (c *Client) Acknowledge(ctx context.Context, key, group string, ids ...string) (int64, error) {
	return c.store.XAck(ctx, key, group, ids...)
}

// AcknowledgeAndDelete acknowledges ids and then deletes them from the stream.
// The two steps are separate commands: if the delete fails the entries stay
// acknowledged, and the ack count is returned along with the error.
func (c *Client) AcknowledgeAndDelete(ctx context.Context, key, group string, ids ...string) (acked, deleted int64, err error) {
	acked, err = c.store.XAck(ctx, key, group, ids...)
	if err != nil {
		return 0, 0, err
	}
	deleted, err = c.store.XDel(ctx, key, ids...)
	if err != nil {
		return acked, 0, fmt.Errorf("acknowledged %d entries but delete failed: %w", acked, err)
	}
	return acked, deleted, nil
}

// DeleteEntries removes ids from the stream and returns how many were removed.
func (c *Client) DeleteEntries(ctx context.Context, key string, ids ...string) (int64, error) {
	return c.store.XDel(ctx, key, ids...)
}

// Health check

// Ping checks that the store answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

// Close releases the connection handle.
func (c *Client) Close() error {
	return c.store.Close()
}

// ExtractEntryID returns the id of the first pending entry, or "" if there is none.
func ExtractEntryID(pending []XPendingExt) string {
	if len(pending) == 0 {
		return ""
	}
	return pending[0].ID
}
