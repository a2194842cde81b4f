package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is not found
var ErrNotFound = errors.New("not found")

// ErrBackendUnavailable is returned when the backend storage is unavailable
var ErrBackendUnavailable = errors.New("backend unavailable")

// ErrGroupExists is returned by XGroupCreateMkStream when the consumer group
// is already registered on the stream.
var ErrGroupExists = errors.New("consumer group already exists")

// ReadGroupArgs describes a single XREADGROUP call against one stream.
type ReadGroupArgs struct {
	Stream   string
	Group    string
	Consumer string
	// ID is the id to read after; ">" reads entries never delivered to the group.
	ID    string
	Count int64
	// Block is how long to wait for entries. Zero blocks until the context is
	// done, a negative value does not block at all.
	Block time.Duration
	NoAck bool
}

// ClaimArgs describes an XCLAIM call.
type ClaimArgs struct {
	Stream   string
	Group    string
	Consumer string
	MinIdle  time.Duration
	IDs      []string
	// Idle, when positive, is sent as the IDLE option and becomes the idle
	// time of every claimed entry.
	Idle time.Duration
	// Time, when set, is sent as the TIME option after IDLE. It becomes the
	// last delivery time of every claimed entry and so overrides Idle. A time
	// after the server clock counts as now.
	Time time.Time
}

// Store is the connection handle the Client forwards to. Implementations must
// be safe for concurrent use.
type Store interface {
	// String and key operations
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) (bool, error)
	Exists(ctx context.Context, keys ...string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) (int64, error)

	// Stream operations
	XAdd(ctx context.Context, stream, id string, values []FieldValue) (string, error)
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) error
	XReadGroup(ctx context.Context, args ReadGroupArgs) ([]XStream, error)
	XInfoGroups(ctx context.Context, stream string) ([]XInfoGroup, error)
	XInfoConsumers(ctx context.Context, stream, group string) ([]XInfoConsumer, error)
	XPending(ctx context.Context, stream, group, start, end string, count int64) ([]XPendingExt, error)
	XClaim(ctx context.Context, args ClaimArgs) ([]XMessage, error)
	XAck(ctx context.Context, stream, group string, ids ...string) (int64, error)
	XDel(ctx context.Context, stream string, ids ...string) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Cleanup
	Close() error
}
