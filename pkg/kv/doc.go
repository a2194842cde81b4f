// Package kv is a thin client facade over a Redis key-value and stream store.
//
// The package defines a Store interface, the connection handle, with a Redis
// backed implementation (single node or cluster, picked at runtime) and an
// in-memory implementation for development and tests. Client wraps a Store,
// forwards string, key and stream commands to it and adds the consumer-group
// helpers: idempotent group creation and reclaiming the oldest pending entry.
//
// Example usage:
//
//	cfg := kv.Config{
//		Backend: kv.BackendRedis,
//		Node:    "redis://127.0.0.1:6379/0",
//	}
//	client, err := kv.Open(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	ctx := context.Background()
//	id, err := client.AppendToStream(ctx, "events", kv.Pairs("type", "created"))
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	if err := client.EnsureConsumerGroup(ctx, "events", "workers"); err != nil {
//		log.Fatal(err)
//	}
//
//	streams, err := client.ReadGroup(ctx, "events", "workers", "worker-1")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Backends register themselves on import:
//
//	import (
//		_ "github.com/leafsii/rediscmd/pkg/kv/memory"
//		_ "github.com/leafsii/rediscmd/pkg/kv/redis"
//	)
//
// No Client method retries. Errors from the store are returned to the caller;
// connection failures wrap ErrBackendUnavailable, a missing key on Get is
// ErrNotFound.
package kv
