// Package kvtest provides conformance tests for kv.Store implementations
package kvtest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/leafsii/rediscmd/pkg/kv"
)

// StoreFactory creates a fresh Store instance for testing
type StoreFactory func(t *testing.T) kv.Store

// RunConformanceTests runs all conformance tests against a Store implementation
func RunConformanceTests(t *testing.T, factory StoreFactory) {
	t.Run("StringOperations", func(t *testing.T) {
		run(t, factory, []conformanceTest{
			{"SetGet", testSetGet},
			{"GetNonExistent", testGetNonExistent},
			{"NonASCIIRoundTrip", testNonASCIIRoundTrip},
			{"Scenario", testScenario},
		})
	})
	t.Run("KeyOperations", func(t *testing.T) {
		run(t, factory, []conformanceTest{
			{"ExistsAndDelete", testExistsAndDelete},
			{"Expire", testExpire},
		})
	})
	t.Run("StreamOperations", func(t *testing.T) {
		run(t, factory, []conformanceTest{
			{"AppendAssignsIncreasingIDs", testAppendAssignsIncreasingIDs},
			{"EnsureConsumerGroupIdempotent", testEnsureConsumerGroupIdempotent},
			{"EnsureConsumerGroupConcurrent", testEnsureConsumerGroupConcurrent},
			{"GroupExists", testGroupExists},
			{"ReadGroupDeliversOnce", testReadGroupDeliversOnce},
			{"ReadGroupTimeout", testReadGroupTimeout},
			{"ListConsumers", testListConsumers},
		})
	})
	t.Run("PendingOperations", func(t *testing.T) {
		run(t, factory, []conformanceTest{
			{"ClaimOldestPendingFreshGroup", testClaimOldestPendingFreshGroup},
			{"ClaimOldestPendingAfterRead", testClaimOldestPendingAfterRead},
			{"AcknowledgeKeepsEntry", testAcknowledgeKeepsEntry},
			{"AcknowledgeAndDelete", testAcknowledgeAndDelete},
		})
	})
	t.Run("HealthCheck", func(t *testing.T) {
		run(t, factory, []conformanceTest{
			{"Ping", testPing},
		})
	})
}

type conformanceTest struct {
	name string
	test func(t *testing.T, client *kv.Client)
}

func run(t *testing.T, factory StoreFactory, tests []conformanceTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := kv.NewClient(factory(t), nil)
			defer client.Close()
			tt.test(t, client)
		})
	}
}

// key returns a name unique to this run so tests can share a real server
func key(t *testing.T, client *kv.Client, name string) string {
	k := "kvtest:" + name + ":" + uuid.NewString()
	t.Cleanup(func() {
		client.Delete(context.Background(), k)
	})
	return k
}

func testSetGet(t *testing.T, client *kv.Client) {
	ctx := context.Background()
	k := key(t, client, "string")

	ok, err := client.Set(ctx, k, "hello world")
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !ok {
		t.Errorf("Expected Set to report success")
	}

	result, err := client.Get(ctx, k)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if result != "hello world" {
		t.Errorf("Expected %q, got %q", "hello world", result)
	}

	// Overwrite
	if _, err := client.Set(ctx, k, "second"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	result, err = client.Get(ctx, k)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if result != "second" {
		t.Errorf("Expected %q, got %q", "second", result)
	}
}

func testGetNonExistent(t *testing.T, client *kv.Client) {
	_, err := client.Get(context.Background(), key(t, client, "missing"))
	if !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func testNonASCIIRoundTrip(t *testing.T, client *kv.Client) {
	ctx := context.Background()
	k := key(t, client, "unicode")
	value := "héllo wörld ✓ 日本語 \x00\xff"

	if _, err := client.Set(ctx, k, value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	result, err := client.Get(ctx, k)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if result != value {
		t.Errorf("Expected %q, got %q", value, result)
	}
}

func testScenario(t *testing.T, client *kv.Client) {
	ctx := context.Background()
	k := key(t, client, "321")
	stream := key(t, client, "rrrrr")

	if _, err := client.Set(ctx, k, "123"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := client.Get(ctx, k)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "123" {
		t.Errorf("Expected %q, got %q", "123", got)
	}

	n, err := client.Exists(ctx, k)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected exists 1, got %d", n)
	}

	ok, err := client.Expire(ctx, k, 100*time.Second)
	if err != nil {
		t.Fatalf("Expire failed: %v", err)
	}
	if !ok {
		t.Errorf("Expected Expire to return true")
	}

	id, err := client.AppendToStream(ctx, stream, kv.Pairs("123", "321"))
	if err != nil {
		t.Fatalf("AppendToStream failed: %v", err)
	}
	if id == "" {
		t.Errorf("Expected a non-empty entry id")
	}

	for i := 0; i < 2; i++ {
		if err := client.EnsureConsumerGroup(ctx, stream, "1234"); err != nil {
			t.Fatalf("EnsureConsumerGroup call %d failed: %v", i+1, err)
		}
	}
}

func testExistsAndDelete(t *testing.T, client *kv.Client) {
	ctx := context.Background()
	k1 := key(t, client, "a")
	k2 := key(t, client, "b")
	k3 := key(t, client, "c")

	client.Set(ctx, k1, "1")
	client.Set(ctx, k2, "2")

	n, err := client.Exists(ctx, k1, k2, k3)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 existing keys, got %d", n)
	}

	deleted, err := client.Delete(ctx, k1, k3)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted key, got %d", deleted)
	}

	n, err = client.Exists(ctx, k1)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected deleted key to be gone, got exists %d", n)
	}
}

func testExpire(t *testing.T, client *kv.Client) {
	ctx := context.Background()
	k := key(t, client, "ttl")

	ok, err := client.Expire(ctx, k, time.Minute)
	if err != nil {
		t.Fatalf("Expire failed: %v", err)
	}
	if ok {
		t.Errorf("Expected Expire on a missing key to return false")
	}

	client.Set(ctx, k, "v")
	ok, err = client.Expire(ctx, k, 1*time.Second)
	if err != nil {
		t.Fatalf("Expire failed: %v", err)
	}
	if !ok {
		t.Errorf("Expected Expire on an existing key to return true")
	}

	time.Sleep(1100 * time.Millisecond)

	if _, err := client.Get(ctx, k); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after expiry, got %v", err)
	}
}

func testAppendAssignsIncreasingIDs(t *testing.T, client *kv.Client) {
	ctx := context.Background()
	stream := key(t, client, "stream")

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := client.AppendToStream(ctx, stream, kv.Pairs("n", string(rune('a'+i))))
		if err != nil {
			t.Fatalf("AppendToStream failed: %v", err)
		}
		ids = append(ids, id)
	}

	for i := 1; i < len(ids); i++ {
		if !idLess(ids[i-1], ids[i]) {
			t.Errorf("Expected ids to increase, got %s then %s", ids[i-1], ids[i])
		}
	}
}

func testEnsureConsumerGroupIdempotent(t *testing.T, client *kv.Client) {
	ctx := context.Background()
	stream := key(t, client, "groups")

	// The stream does not exist yet; the first call creates it.
	if err := client.EnsureConsumerGroup(ctx, stream, "workers"); err != nil {
		t.Fatalf("First EnsureConsumerGroup failed: %v", err)
	}
	if err := client.EnsureConsumerGroup(ctx, stream, "workers"); err != nil {
		t.Fatalf("Second EnsureConsumerGroup failed: %v", err)
	}

	groups, err := client.ListGroups(ctx, stream)
	if err != nil {
		t.Fatalf("ListGroups failed: %v", err)
	}
	count := 0
	for _, g := range groups {
		if g.Name == "workers" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Expected exactly one group named workers, got %d (%v)", count, groups)
	}
}

func testEnsureConsumerGroupConcurrent(t *testing.T, client *kv.Client) {
	ctx := context.Background()
	stream := key(t, client, "groups-concurrent")

	const callers = 32
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- client.EnsureConsumerGroup(ctx, stream, "workers")
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Concurrent EnsureConsumerGroup failed: %v", err)
		}
	}

	groups, err := client.ListGroups(ctx, stream)
	if err != nil {
		t.Fatalf("ListGroups failed: %v", err)
	}
	if len(groups) != 1 || groups[0].Name != "workers" {
		t.Errorf("Expected exactly one group named workers, got %v", groups)
	}
}

func testGroupExists(t *testing.T, client *kv.Client) {
	ctx := context.Background()
	stream := key(t, client, "exists")

	if err := client.EnsureConsumerGroup(ctx, stream, "present"); err != nil {
		t.Fatalf("EnsureConsumerGroup failed: %v", err)
	}

	exists, err := client.GroupExists(ctx, stream, "present")
	if err != nil {
		t.Fatalf("GroupExists failed: %v", err)
	}
	if !exists {
		t.Errorf("Expected group to exist")
	}

	exists, err = client.GroupExists(ctx, stream, uuid.NewString())
	if err != nil {
		t.Fatalf("GroupExists failed: %v", err)
	}
	if exists {
		t.Errorf("Expected random group not to exist")
	}
}

func testReadGroupDeliversOnce(t *testing.T, client *kv.Client) {
	ctx := context.Background()
	stream := key(t, client, "read")

	if err := client.EnsureConsumerGroup(ctx, stream, "g"); err != nil {
		t.Fatalf("EnsureConsumerGroup failed: %v", err)
	}
	first, _ := client.AppendToStream(ctx, stream, kv.Pairs("k", "1"))
	second, _ := client.AppendToStream(ctx, stream, kv.Pairs("k", "2"))

	for _, want := range []string{first, second} {
		streams, err := client.ReadGroup(ctx, stream, "g", "c1")
		if err != nil {
			t.Fatalf("ReadGroup failed: %v", err)
		}
		msgs := messages(streams)
		if len(msgs) != 1 {
			t.Fatalf("Expected exactly one message, got %d", len(msgs))
		}
		if msgs[0].ID != want {
			t.Errorf("Expected id %s, got %s", want, msgs[0].ID)
		}
	}

	// Another consumer of the same group sees nothing new
	streams, err := client.ReadGroup(ctx, stream, "g", "c2")
	if err != nil {
		t.Fatalf("ReadGroup failed: %v", err)
	}
	if n := len(messages(streams)); n != 0 {
		t.Errorf("Expected no messages for second consumer, got %d", n)
	}
}

func testReadGroupTimeout(t *testing.T, client *kv.Client) {
	ctx := context.Background()
	stream := key(t, client, "timeout")

	if err := client.EnsureConsumerGroup(ctx, stream, "g"); err != nil {
		t.Fatalf("EnsureConsumerGroup failed: %v", err)
	}

	start := time.Now()
	streams, err := client.ReadGroup(ctx, stream, "g", "c")
	if err != nil {
		t.Fatalf("Expected timeout to be reported as an empty reply, got %v", err)
	}
	if n := len(messages(streams)); n != 0 {
		t.Errorf("Expected no messages, got %d", n)
	}
	if elapsed := time.Since(start); elapsed < kv.ReadGroupBlock-100*time.Millisecond {
		t.Errorf("Expected ReadGroup to block about %v, returned after %v", kv.ReadGroupBlock, elapsed)
	}
}

func testListConsumers(t *testing.T, client *kv.Client) {
	ctx := context.Background()
	stream := key(t, client, "consumers")

	client.EnsureConsumerGroup(ctx, stream, "g")
	client.AppendToStream(ctx, stream, kv.Pairs("k", "v"))
	if _, err := client.ReadGroup(ctx, stream, "g", "alice"); err != nil {
		t.Fatalf("ReadGroup failed: %v", err)
	}

	consumers, err := client.ListConsumers(ctx, stream, "g")
	if err != nil {
		t.Fatalf("ListConsumers failed: %v", err)
	}
	if len(consumers) != 1 {
		t.Fatalf("Expected 1 consumer, got %d", len(consumers))
	}
	if consumers[0].Name != "alice" || consumers[0].Pending != 1 {
		t.Errorf("Expected alice with 1 pending, got %+v", consumers[0])
	}
}

func testClaimOldestPendingFreshGroup(t *testing.T, client *kv.Client) {
	ctx := context.Background()
	stream := key(t, client, "claim-fresh")

	client.AppendToStream(ctx, stream, kv.Pairs("k", "v"))
	if err := client.EnsureConsumerGroup(ctx, stream, "g"); err != nil {
		t.Fatalf("EnsureConsumerGroup failed: %v", err)
	}

	claimed, err := client.ClaimOldestPending(ctx, stream, "g", "thief", 0)
	if err != nil {
		t.Fatalf("ClaimOldestPending failed: %v", err)
	}
	if len(claimed) != 0 {
		t.Errorf("Expected nothing to claim before delivery, got %v", claimed)
	}
}

func testClaimOldestPendingAfterRead(t *testing.T, client *kv.Client) {
	ctx := context.Background()
	stream := key(t, client, "claim")

	if err := client.EnsureConsumerGroup(ctx, stream, "g"); err != nil {
		t.Fatalf("EnsureConsumerGroup failed: %v", err)
	}
	id, err := client.AppendToStream(ctx, stream, kv.Pairs("job", "1"))
	if err != nil {
		t.Fatalf("AppendToStream failed: %v", err)
	}
	if _, err := client.ReadGroup(ctx, stream, "g", "owner"); err != nil {
		t.Fatalf("ReadGroup failed: %v", err)
	}

	// Not idle long enough
	claimed, err := client.ClaimOldestPending(ctx, stream, "g", "thief", time.Hour)
	if err != nil {
		t.Fatalf("ClaimOldestPending failed: %v", err)
	}
	if len(claimed) != 0 {
		t.Errorf("Expected nothing claimed with a one hour min idle, got %v", claimed)
	}

	claimed, err = client.ClaimOldestPending(ctx, stream, "g", "thief", 0)
	if err != nil {
		t.Fatalf("ClaimOldestPending failed: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != id {
		t.Fatalf("Expected to claim %s, got %v", id, claimed)
	}
	if claimed[0].Values["job"] != "1" {
		t.Errorf("Expected claimed values to be returned, got %v", claimed[0].Values)
	}

	pending, err := client.PendingEntries(ctx, stream, "g", 10)
	if err != nil {
		t.Fatalf("PendingEntries failed: %v", err)
	}
	if len(pending) != 1 || pending[0].Consumer != "thief" {
		t.Fatalf("Expected entry to be owned by thief, got %+v", pending)
	}
	if pending[0].Idle < kv.ClaimIdle {
		t.Errorf("Expected claimed entry idle >= %v, got %v", kv.ClaimIdle, pending[0].Idle)
	}

	// The TIME stamp dates the delivery to the epoch, so even a one hour
	// min idle lets the next consumer take it over
	claimed, err = client.ClaimOldestPending(ctx, stream, "g", "next", time.Hour)
	if err != nil {
		t.Fatalf("ClaimOldestPending failed: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != id {
		t.Errorf("Expected reclaimed entry to be claimable again, got %v", claimed)
	}
}

func testAcknowledgeKeepsEntry(t *testing.T, client *kv.Client) {
	ctx := context.Background()
	stream := key(t, client, "ack")

	client.EnsureConsumerGroup(ctx, stream, "g")
	id, _ := client.AppendToStream(ctx, stream, kv.Pairs("k", "v"))
	client.ReadGroup(ctx, stream, "g", "c")

	acked, err := client.Acknowledge(ctx, stream, "g", id)
	if err != nil {
		t.Fatalf("Acknowledge failed: %v", err)
	}
	if acked != 1 {
		t.Errorf("Expected 1 acknowledged, got %d", acked)
	}

	pending, err := client.PendingEntries(ctx, stream, "g", 10)
	if err != nil {
		t.Fatalf("PendingEntries failed: %v", err)
	}
	if kv.ExtractEntryID(pending) != "" {
		t.Errorf("Expected nothing pending after ack, got %+v", pending)
	}

	// The entry is still in the stream
	deleted, err := client.DeleteEntries(ctx, stream, id)
	if err != nil {
		t.Fatalf("DeleteEntries failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected acknowledged entry to still be deletable, got %d", deleted)
	}
}

func testAcknowledgeAndDelete(t *testing.T, client *kv.Client) {
	ctx := context.Background()
	stream := key(t, client, "ackdel")

	client.EnsureConsumerGroup(ctx, stream, "g")
	id, _ := client.AppendToStream(ctx, stream, kv.Pairs("k", "v"))
	client.ReadGroup(ctx, stream, "g", "c")

	acked, deleted, err := client.AcknowledgeAndDelete(ctx, stream, "g", id)
	if err != nil {
		t.Fatalf("AcknowledgeAndDelete failed: %v", err)
	}
	if acked != 1 || deleted != 1 {
		t.Errorf("Expected (1, 1), got (%d, %d)", acked, deleted)
	}

	acked, deleted, err = client.AcknowledgeAndDelete(ctx, stream, "g", id)
	if err != nil {
		t.Fatalf("Second AcknowledgeAndDelete failed: %v", err)
	}
	if acked != 0 || deleted != 0 {
		t.Errorf("Expected (0, 0) on repeat, got (%d, %d)", acked, deleted)
	}
}

func testPing(t *testing.T, client *kv.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func messages(streams []kv.XStream) []kv.XMessage {
	var out []kv.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out
}

// idLess compares two <ms>-<seq> ids numerically
func idLess(a, b string) bool {
	var am, as, bm, bs uint64
	parse(a, &am, &as)
	parse(b, &bm, &bs)
	if am != bm {
		return am < bm
	}
	return as < bs
}

func parse(id string, ms, seq *uint64) {
	target := ms
	for _, r := range id {
		if r == '-' {
			target = seq
			continue
		}
		*target = *target*10 + uint64(r-'0')
	}
}
