package redis

import (
	"fmt"

	"github.com/leafsii/rediscmd/pkg/kv"
)

func init() {
	kv.RegisterBackend(kv.BackendRedis, func(cfg kv.Config) (kv.Store, error) {
		if cfg.Node == "" && len(cfg.Nodes) == 0 {
			return nil, fmt.Errorf("node or nodes is required when backend is 'redis'")
		}
		return New(cfg)
	})
}

// NewStore creates a new Redis-backed store
func NewStore(cfg kv.Config) (kv.Store, error) {
	return New(cfg)
}
