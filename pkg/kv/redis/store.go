package redis

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/leafsii/rediscmd/pkg/kv"
)

// Store is a Redis-backed implementation of the kv.Store interface. The
// underlying client is a cluster client or a single-node client depending
// on the configured mode.
type Store struct {
	client redis.UniversalClient
	mode   kv.Mode
	logger *zap.SugaredLogger
}

var _ kv.Store = (*Store)(nil)

// New creates a new Redis-backed store and verifies it can reach the server
func New(cfg kv.Config) (*Store, error) {
	logger := kv.NopIfNil(cfg.Logger)

	client, mode, err := newUniversalClient(cfg)
	if err != nil {
		return nil, err
	}
	client.AddHook(&commandHook{logger: logger, recorder: cfg.Recorder})

	timeout := cfg.StartupProbeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, wrap(err)
	}

	logger.Infow("Connected to Redis", "mode", mode)
	return &Store{client: client, mode: mode, logger: logger}, nil
}

// Mode reports which connection strategy the store uses
func (s *Store) Mode() kv.Mode {
	return s.mode
}

func newUniversalClient(cfg kv.Config) (redis.UniversalClient, kv.Mode, error) {
	mode, err := cfg.ResolveMode()
	if err != nil {
		return nil, "", err
	}

	switch mode {
	case kv.ModeCluster:
		opt, err := clusterOptions(cfg)
		if err != nil {
			return nil, "", err
		}
		return redis.NewClusterClient(opt), mode, nil
	default:
		opt, err := singleOptions(cfg)
		if err != nil {
			return nil, "", err
		}
		return redis.NewClient(opt), mode, nil
	}
}

func clusterOptions(cfg kv.Config) (*redis.ClusterOptions, error) {
	if len(cfg.Nodes) == 0 {
		return nil, fmt.Errorf("cluster mode requires at least one node")
	}

	opt := &redis.ClusterOptions{
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	for _, node := range cfg.Nodes {
		nodeOpt, err := parseNode(node)
		if err != nil {
			return nil, fmt.Errorf("invalid cluster node %q: %w", node, err)
		}
		opt.Addrs = append(opt.Addrs, nodeOpt.Addr)
		if opt.Password == "" {
			opt.Username = nodeOpt.Username
			opt.Password = nodeOpt.Password
		}
	}
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	return opt, nil
}

func singleOptions(cfg kv.Config) (*redis.Options, error) {
	if cfg.Node == "" {
		return nil, fmt.Errorf("single mode requires a node address")
	}

	opt, err := parseNode(cfg.Node)
	if err != nil {
		return nil, fmt.Errorf("invalid node %q: %w", cfg.Node, err)
	}
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opt.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		opt.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opt.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opt.WriteTimeout = cfg.WriteTimeout
	}
	return opt, nil
}

// parseNode accepts a redis:// URL or a bare host:port
func parseNode(node string) (*redis.Options, error) {
	opt, err := redis.ParseURL(node)
	if err == nil {
		return opt, nil
	}

	// Fallback for simple address format
	u, parseErr := url.Parse("redis://" + node)
	if parseErr != nil || u.Host == "" {
		return nil, err // Return original error
	}

	db := 0
	if u.Path != "" && u.Path != "/" {
		if dbNum, dbErr := strconv.Atoi(u.Path[1:]); dbErr == nil {
			db = dbNum
		}
	}

	opt = &redis.Options{
		Addr: u.Host,
		DB:   db,
	}
	if u.User != nil {
		if password, hasPassword := u.User.Password(); hasPassword {
			opt.Password = password
		}
	}
	return opt, nil
}

// String operations

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	result, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", kv.ErrNotFound
	}
	if err != nil {
		return "", wrap(err)
	}
	return result, nil
}

func (s *Store) Set(ctx context.Context, key string, value string) (bool, error) {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return false, wrap(err)
	}
	return true, nil
}

// Key operations

func (s *Store) Exists(ctx context.Context, keys ...string) (int64, error) {
	n, err := s.client.Exists(ctx, keys...).Result()
	return n, wrap(err)
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.Expire(ctx, key, ttl).Result()
	return ok, wrap(err)
}

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	n, err := s.client.Del(ctx, keys...).Result()
	return n, wrap(err)
}

// Stream operations

func (s *Store) XAdd(ctx context.Context, stream, id string, values []kv.FieldValue) (string, error) {
	result, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		ID:     id,
		Values: kv.Flatten(values),
	}).Result()
	return result, wrap(err)
}

func (s *Store) XGroupCreateMkStream(ctx context.Context, stream, group, start string) error {
	err := s.client.XGroupCreateMkStream(ctx, stream, group, start).Err()
	if isBusyGroup(err) {
		return fmt.Errorf("%w: %v", kv.ErrGroupExists, err)
	}
	return wrap(err)
}

func (s *Store) XReadGroup(ctx context.Context, args kv.ReadGroupArgs) ([]kv.XStream, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    args.Group,
		Consumer: args.Consumer,
		Streams:  []string{args.Stream, args.ID},
		Count:    args.Count,
		Block:    args.Block,
		NoAck:    args.NoAck,
	}).Result()
	if errors.Is(err, redis.Nil) {
		// The block period ran out with nothing to deliver
		return nil, nil
	}
	if err != nil {
		return nil, wrap(err)
	}
	return streams, nil
}

func (s *Store) XInfoGroups(ctx context.Context, stream string) ([]kv.XInfoGroup, error) {
	groups, err := s.client.XInfoGroups(ctx, stream).Result()
	return groups, wrap(err)
}

func (s *Store) XInfoConsumers(ctx context.Context, stream, group string) ([]kv.XInfoConsumer, error) {
	consumers, err := s.client.XInfoConsumers(ctx, stream, group).Result()
	return consumers, wrap(err)
}

func (s *Store) XPending(ctx context.Context, stream, group, start, end string, count int64) ([]kv.XPendingExt, error) {
	pending, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  start,
		End:    end,
		Count:  count,
	}).Result()
	return pending, wrap(err)
}

// XClaim issues XCLAIM directly since redis.XClaimArgs cannot carry the IDLE
// and TIME options
func (s *Store) XClaim(ctx context.Context, args kv.ClaimArgs) ([]kv.XMessage, error) {
	cmd := redis.NewXMessageSliceCmd(ctx, claimArgs(args)...)
	if err := s.client.Process(ctx, cmd); err != nil {
		return nil, wrap(err)
	}
	return cmd.Val(), nil
}

func claimArgs(args kv.ClaimArgs) []interface{} {
	cmdArgs := make([]interface{}, 0, 9+len(args.IDs))
	cmdArgs = append(cmdArgs, "xclaim", args.Stream, args.Group, args.Consumer, args.MinIdle.Milliseconds())
	for _, id := range args.IDs {
		cmdArgs = append(cmdArgs, id)
	}
	if args.Idle > 0 {
		cmdArgs = append(cmdArgs, "idle", args.Idle.Milliseconds())
	}
	if !args.Time.IsZero() {
		cmdArgs = append(cmdArgs, "time", args.Time.UnixMilli())
	}
	return cmdArgs
}

func (s *Store) XAck(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	n, err := s.client.XAck(ctx, stream, group, ids...).Result()
	return n, wrap(err)
}

func (s *Store) XDel(ctx context.Context, stream string, ids ...string) (int64, error) {
	n, err := s.client.XDel(ctx, stream, ids...).Result()
	return n, wrap(err)
}

// Health check

func (s *Store) Ping(ctx context.Context) error {
	return wrap(s.client.Ping(ctx).Err())
}

// Close releases all pooled connections
func (s *Store) Close() error {
	return s.client.Close()
}
