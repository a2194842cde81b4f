package redis

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/leafsii/rediscmd/pkg/kv"
)

// commandHook logs every command at debug level and reports it to the recorder
type commandHook struct {
	logger   *zap.SugaredLogger
	recorder kv.CommandRecorder
}

var _ redis.Hook = (*commandHook)(nil)

func (h *commandHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.logger.Warnw("Redis dial failed", "addr", addr, "error", err)
		}
		return conn, err
	}
}

func (h *commandHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		h.observe(ctx, cmd.Name(), time.Since(start), err)
		return err
	}
}

func (h *commandHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		h.observe(ctx, "pipeline", time.Since(start), err)
		return err
	}
}

func (h *commandHook) observe(ctx context.Context, name string, duration time.Duration, err error) {
	// A nil reply is a normal answer (missing key, read timeout)
	if errors.Is(err, redis.Nil) {
		err = nil
	}

	if err != nil {
		h.logger.Debugw("Redis command failed", "cmd", name, "duration", duration, "error", err)
	} else {
		h.logger.Debugw("Redis command", "cmd", name, "duration", duration)
	}

	if h.recorder != nil {
		h.recorder.RecordCommand(ctx, name, duration, err)
	}
}
