package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/leafsii/rediscmd/pkg/kv"
)

var (
	errNoSuchKey  = errors.New("ERR no such key")
	errIDTooSmall = errors.New("ERR The ID specified in XADD is equal or smaller than the target stream top item")
	errIDZero     = errors.New("ERR The ID specified in XADD must be greater than 0-0")
	errNoFields   = errors.New("ERR wrong number of arguments for 'xadd' command")
)

func noGroupError(stream, group string) error {
	return fmt.Errorf("NOGROUP No such key '%s' or consumer group '%s'", stream, group)
}

type streamEntry struct {
	id     streamID
	values []kv.FieldValue
}

type pendingEntry struct {
	consumer  string
	delivered time.Time
	count     int64
}

type consumerGroup struct {
	lastDelivered streamID
	entriesRead   int64
	pending       map[streamID]*pendingEntry
	// consumers maps a consumer name to the last time it was seen
	consumers map[string]time.Time
}

type stream struct {
	entries      []streamEntry // ordered by id
	lastID       streamID
	entriesAdded int64
	groups       map[string]*consumerGroup
}

func newStream() *stream {
	return &stream{groups: make(map[string]*consumerGroup)}
}

// find returns the index of id in entries and whether it is present
func (st *stream) find(id streamID) (int, bool) {
	i := sort.Search(len(st.entries), func(i int) bool {
		return !st.entries[i].id.less(id)
	})
	return i, i < len(st.entries) && st.entries[i].id == id
}

func (e streamEntry) message() kv.XMessage {
	values := make(map[string]interface{}, len(e.values))
	for _, fv := range e.values {
		values[fv.Field] = fv.Value
	}
	return kv.XMessage{ID: e.id.String(), Values: values}
}

// streamUnsafe returns the stream at key, nil if absent (must hold lock)
func (s *Store) streamUnsafe(key string) (*stream, error) {
	s.evictIfExpiredUnsafe(key)
	if _, isString := s.strings[key]; isString {
		return nil, errWrongType
	}
	return s.streams[key], nil
}

// groupUnsafe returns the group or a NOGROUP error (must hold lock)
func (s *Store) groupUnsafe(key, group string) (*stream, *consumerGroup, error) {
	st, err := s.streamUnsafe(key)
	if err != nil {
		return nil, nil, err
	}
	if st == nil {
		return nil, nil, noGroupError(key, group)
	}
	g, ok := st.groups[group]
	if !ok {
		return nil, nil, noGroupError(key, group)
	}
	return st, g, nil
}

func (s *Store) XAdd(ctx context.Context, key, id string, values []kv.FieldValue) (string, error) {
	if len(values) == 0 {
		return "", errNoFields
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.streamUnsafe(key)
	if err != nil {
		return "", err
	}
	if st == nil {
		st = newStream()
	}

	var next streamID
	if id == kv.StreamAutoID {
		ms := uint64(s.now().UnixMilli())
		if ms > st.lastID.ms {
			next = streamID{ms: ms}
		} else {
			next = streamID{ms: st.lastID.ms, seq: st.lastID.seq + 1}
		}
	} else {
		next, err = parseID(id, 0)
		if err != nil {
			return "", err
		}
		if next.isZero() {
			return "", errIDZero
		}
		if !st.lastID.less(next) {
			return "", errIDTooSmall
		}
	}

	pairs := make([]kv.FieldValue, len(values))
	copy(pairs, values)
	st.entries = append(st.entries, streamEntry{id: next, values: pairs})
	st.lastID = next
	st.entriesAdded++
	s.streams[key] = st

	close(s.appended)
	s.appended = make(chan struct{})

	return next.String(), nil
}

func (s *Store) XGroupCreateMkStream(ctx context.Context, key, group, start string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.streamUnsafe(key)
	if err != nil {
		return err
	}
	if st == nil {
		st = newStream()
		s.streams[key] = st
	}
	if _, exists := st.groups[group]; exists {
		return kv.ErrGroupExists
	}

	var last streamID
	if start == kv.StreamLastDeliveredID {
		last = st.lastID
	} else if last, err = parseID(start, 0); err != nil {
		return err
	}

	g := &consumerGroup{
		lastDelivered: last,
		pending:       make(map[streamID]*pendingEntry),
		consumers:     make(map[string]time.Time),
	}
	if !last.isZero() && last == st.lastID {
		g.entriesRead = st.entriesAdded
	}
	st.groups[group] = g
	return nil
}

func (s *Store) XReadGroup(ctx context.Context, args kv.ReadGroupArgs) ([]kv.XStream, error) {
	var deadline <-chan time.Time
	if args.Block > 0 {
		timer := time.NewTimer(args.Block)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		s.mu.Lock()
		messages, err := s.readGroupUnsafe(args)
		wake := s.appended
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}

		if args.ID != kv.StreamNeverDelivered {
			return []kv.XStream{{Stream: args.Stream, Messages: messages}}, nil
		}
		if len(messages) > 0 {
			return []kv.XStream{{Stream: args.Stream, Messages: messages}}, nil
		}
		if args.Block < 0 {
			return nil, nil
		}

		select {
		case <-wake:
		case <-deadline:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.janitorStop:
			return nil, errors.New("store is closed")
		}
	}
}

// readGroupUnsafe delivers entries for one XREADGROUP attempt (must hold lock)
func (s *Store) readGroupUnsafe(args kv.ReadGroupArgs) ([]kv.XMessage, error) {
	st, g, err := s.groupUnsafe(args.Stream, args.Group)
	if err != nil {
		return nil, err
	}
	now := s.now()
	g.consumers[args.Consumer] = now

	if args.ID != kv.StreamNeverDelivered {
		return s.consumerHistoryUnsafe(st, g, args)
	}

	var messages []kv.XMessage
	for _, entry := range st.entries {
		if args.Count > 0 && int64(len(messages)) >= args.Count {
			break
		}
		if !g.lastDelivered.less(entry.id) {
			continue
		}
		g.lastDelivered = entry.id
		g.entriesRead++
		if !args.NoAck {
			if pe, ok := g.pending[entry.id]; ok {
				pe.consumer = args.Consumer
				pe.delivered = now
				pe.count++
			} else {
				g.pending[entry.id] = &pendingEntry{consumer: args.Consumer, delivered: now, count: 1}
			}
		}
		messages = append(messages, entry.message())
	}
	return messages, nil
}

// consumerHistoryUnsafe returns entries already pending for the consumer with
// an id greater than args.ID
func (s *Store) consumerHistoryUnsafe(st *stream, g *consumerGroup, args kv.ReadGroupArgs) ([]kv.XMessage, error) {
	after, err := parseID(args.ID, 0)
	if err != nil {
		return nil, err
	}

	messages := []kv.XMessage{}
	for _, id := range sortedPending(g) {
		if args.Count > 0 && int64(len(messages)) >= args.Count {
			break
		}
		pe := g.pending[id]
		if pe.consumer != args.Consumer || !after.less(id) {
			continue
		}
		pe.delivered = s.now()
		pe.count++
		if i, ok := st.find(id); ok {
			messages = append(messages, st.entries[i].message())
		} else {
			messages = append(messages, kv.XMessage{ID: id.String()})
		}
	}
	return messages, nil
}

func sortedPending(g *consumerGroup) []streamID {
	ids := make([]streamID, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].less(ids[j]) })
	return ids
}

func (s *Store) XInfoGroups(ctx context.Context, key string) ([]kv.XInfoGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.streamUnsafe(key)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errNoSuchKey
	}

	names := make([]string, 0, len(st.groups))
	for name := range st.groups {
		names = append(names, name)
	}
	sort.Strings(names)

	groups := make([]kv.XInfoGroup, 0, len(names))
	for _, name := range names {
		g := st.groups[name]
		groups = append(groups, kv.XInfoGroup{
			Name:            name,
			Consumers:       int64(len(g.consumers)),
			Pending:         int64(len(g.pending)),
			LastDeliveredID: g.lastDelivered.String(),
			EntriesRead:     g.entriesRead,
			Lag:             st.entriesAdded - g.entriesRead,
		})
	}
	return groups, nil
}

func (s *Store) XInfoConsumers(ctx context.Context, key, group string) ([]kv.XInfoConsumer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.streamUnsafe(key)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errNoSuchKey
	}
	g, ok := st.groups[group]
	if !ok {
		return nil, noGroupError(key, group)
	}

	pendingBy := make(map[string]int64)
	for _, pe := range g.pending {
		pendingBy[pe.consumer]++
	}

	names := make([]string, 0, len(g.consumers))
	for name := range g.consumers {
		names = append(names, name)
	}
	sort.Strings(names)

	now := s.now()
	consumers := make([]kv.XInfoConsumer, 0, len(names))
	for _, name := range names {
		consumers = append(consumers, kv.XInfoConsumer{
			Name:    name,
			Pending: pendingBy[name],
			Idle:    now.Sub(g.consumers[name]),
		})
	}
	return consumers, nil
}

func (s *Store) XPending(ctx context.Context, key, group, start, end string, count int64) ([]kv.XPendingExt, error) {
	from, err := parseID(start, 0)
	if err != nil {
		return nil, err
	}
	to, err := parseID(end, maxID.seq)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, g, err := s.groupUnsafe(key, group)
	if err != nil {
		return nil, err
	}

	now := s.now()
	pending := []kv.XPendingExt{}
	for _, id := range sortedPending(g) {
		if count > 0 && int64(len(pending)) >= count {
			break
		}
		if id.less(from) || to.less(id) {
			continue
		}
		pe := g.pending[id]
		pending = append(pending, kv.XPendingExt{
			ID:         id.String(),
			Consumer:   pe.consumer,
			Idle:       now.Sub(pe.delivered),
			RetryCount: pe.count,
		})
	}
	return pending, nil
}

// XClaim reassigns pending entries idle for at least MinIdle. Entries that
// were deleted from the stream are dropped from the pending list instead.
func (s *Store) XClaim(ctx context.Context, args kv.ClaimArgs) ([]kv.XMessage, error) {
	ids := make([]streamID, 0, len(args.IDs))
	for _, raw := range args.IDs {
		id, err := parseID(raw, 0)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, g, err := s.groupUnsafe(args.Stream, args.Group)
	if err != nil {
		return nil, err
	}

	now := s.now()
	g.consumers[args.Consumer] = now

	messages := []kv.XMessage{}
	for _, id := range ids {
		pe, ok := g.pending[id]
		if !ok {
			continue
		}
		if now.Sub(pe.delivered) < args.MinIdle {
			continue
		}
		i, found := st.find(id)
		if !found {
			delete(g.pending, id)
			continue
		}
		pe.consumer = args.Consumer
		pe.delivered = now
		if args.Idle > 0 {
			pe.delivered = now.Add(-args.Idle)
		}
		// TIME follows IDLE on the wire and wins
		if !args.Time.IsZero() {
			pe.delivered = args.Time
			if pe.delivered.After(now) {
				pe.delivered = now
			}
		}
		pe.count++
		messages = append(messages, st.entries[i].message())
	}
	return messages, nil
}

func (s *Store) XAck(ctx context.Context, key, group string, ids ...string) (int64, error) {
	parsed := make([]streamID, 0, len(ids))
	for _, raw := range ids {
		id, err := parseID(raw, 0)
		if err != nil {
			return 0, err
		}
		parsed = append(parsed, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.streamUnsafe(key)
	if err != nil {
		return 0, err
	}
	if st == nil {
		return 0, nil
	}
	g, ok := st.groups[group]
	if !ok {
		return 0, nil
	}

	var acked int64
	for _, id := range parsed {
		if _, ok := g.pending[id]; ok {
			delete(g.pending, id)
			acked++
		}
	}
	return acked, nil
}

func (s *Store) XDel(ctx context.Context, key string, ids ...string) (int64, error) {
	parsed := make([]streamID, 0, len(ids))
	for _, raw := range ids {
		id, err := parseID(raw, 0)
		if err != nil {
			return 0, err
		}
		parsed = append(parsed, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.streamUnsafe(key)
	if err != nil {
		return 0, err
	}
	if st == nil {
		return 0, nil
	}

	var deleted int64
	for _, id := range parsed {
		if i, ok := st.find(id); ok {
			st.entries = append(st.entries[:i], st.entries[i+1:]...)
			deleted++
		}
	}
	return deleted, nil
}
