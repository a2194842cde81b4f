package kv_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/leafsii/rediscmd/pkg/kv"

	// Import backends to register them
	_ "github.com/leafsii/rediscmd/pkg/kv/memory"
	_ "github.com/leafsii/rediscmd/pkg/kv/redis"
)

func ExampleOpen_memory() {
	cfg := kv.Config{
		Backend:         kv.BackendMemory,
		JanitorInterval: 30 * time.Second,
	}

	client, err := kv.Open(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	ctx := context.Background()

	if _, err := client.Set(ctx, "321", "123"); err != nil {
		log.Fatal(err)
	}

	value, err := client.Get(ctx, "321")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(value)
	// Output: 123
}

func ExampleClient_EnsureConsumerGroup() {
	client, err := kv.Open(kv.Config{Backend: kv.BackendMemory})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	ctx := context.Background()

	// Calling it twice is fine
	for i := 0; i < 2; i++ {
		if err := client.EnsureConsumerGroup(ctx, "rrrrr", "1234"); err != nil {
			log.Fatal(err)
		}
	}

	groups, err := client.ListGroups(ctx, "rrrrr")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(len(groups), groups[0].Name)
	// Output: 1 1234
}

func ExampleClient_ClaimOldestPending() {
	client, err := kv.Open(kv.Config{Backend: kv.BackendMemory})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	ctx := context.Background()
	client.EnsureConsumerGroup(ctx, "jobs", "workers")
	client.AppendToStream(ctx, "jobs", kv.Pairs("task", "resize"))

	// worker-1 reads the entry and never acknowledges it
	if _, err := client.ReadGroup(ctx, "jobs", "workers", "worker-1"); err != nil {
		log.Fatal(err)
	}

	claimed, err := client.ClaimOldestPending(ctx, "jobs", "workers", "worker-2", 0)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(claimed[0].Values["task"])
	// Output: resize
}

func ExampleOpen_redis() {
	cfg := kv.Config{
		Backend: kv.BackendRedis,
		Node:    "redis://localhost:6379/0",
	}

	client, err := kv.Open(cfg)
	if err != nil {
		// Handle error (Redis might not be available)
		fmt.Println("Redis not available, using memory store instead")

		cfg.Backend = kv.BackendMemory
		client, err = kv.Open(cfg)
		if err != nil {
			log.Fatal(err)
		}
	}
	defer client.Close()

	ctx := context.Background()

	if _, err := client.Set(ctx, "session:abc", "active"); err != nil {
		log.Fatal(err)
	}
	client.Expire(ctx, "session:abc", 5*time.Minute)

	exists, err := client.Exists(ctx, "session:abc")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Session exists: %t\n", exists > 0)
}
