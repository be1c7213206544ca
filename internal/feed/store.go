package feed

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"

	"FeedRelay/internal/oracle"
	"FeedRelay/internal/storage"
)

var (
	// ErrTimestampNotIncreasing is returned when a record does not advance the feed.
	ErrTimestampNotIncreasing = errors.New("aggregate timestamp not increasing")

	// ErrRelayTimeRegressed is returned when a record's relay time precedes the latest record.
	ErrRelayTimeRegressed = errors.New("relay timestamp regressed")

	// ErrIndexOutOfRange is returned by At for an index past the feed's end.
	ErrIndexOutOfRange = errors.New("aggregate index out of range")

	// ErrCorrupt is returned when a feed's count and records disagree.
	ErrCorrupt = errors.New("feed ledger corrupt")

	// ErrNotEmpty is returned by Restore on a store that already holds records.
	ErrNotEmpty = errors.New("store is not empty")
)

// Key prefixes for storage.
var (
	prefixRecord    = []byte("a:") // a:<feed><index> -> record
	prefixTimestamp = []byte("t:") // t:<feed><timestamp> -> index
	prefixCount     = []byte("c:") // c:<feed> -> count
)

// head is the cached tail of a feed.
type head struct {
	count  uint64
	latest oracle.AggregateRecord
}

// Store is the append-only per-feed aggregate ledger.
// Records are addressable by dense index and by aggregate timestamp.
// It is safe for concurrent access.
type Store struct {
	db *storage.Storage

	// In-memory heads rebuilt from storage on startup.
	mu    sync.RWMutex
	heads map[oracle.FeedID]*head
}

// Open creates a store backed by db and loads every feed head.
func Open(db *storage.Storage) (*Store, error) {
	s := &Store{
		db:    db,
		heads: make(map[oracle.FeedID]*head),
	}

	if err := s.load(); err != nil {
		return nil, fmt.Errorf("load feed heads:\n%w", err)
	}

	return s, nil
}

// load rebuilds the in-memory heads from the count keys.
func (s *Store) load() error {
	var feeds []oracle.FeedID

	err := s.db.IteratePrefix(prefixCount, func(key, value []byte) error {
		if len(key) != len(prefixCount)+oracle.FeedIDSize || len(value) != 8 {
			return fmt.Errorf("corrupt count entry %x", key)
		}

		var feed oracle.FeedID
		copy(feed[:], key[len(prefixCount):])
		feeds = append(feeds, feed)

		s.heads[feed] = &head{count: binary.BigEndian.Uint64(value)}

		return nil
	})
	if err != nil {
		return err
	}

	for _, feed := range feeds {
		h := s.heads[feed]
		if h.count == 0 {
			continue
		}

		rec, err := s.tail(feed, h.count)
		if err != nil {
			return fmt.Errorf("feed %s:\n%w", feed.Short(), err)
		}

		h.latest = rec
	}

	return nil
}

// tail reads the feed's last record and checks it sits at count-1.
func (s *Store) tail(feed oracle.FeedID, count uint64) (oracle.AggregateRecord, error) {
	prefix := feedPrefix(prefixRecord, feed)

	key, value, err := s.db.LastWithPrefix(prefix)
	if err != nil {
		return oracle.AggregateRecord{}, err
	}

	if key == nil {
		return oracle.AggregateRecord{}, fmt.Errorf("%w: count %d but no records", ErrCorrupt, count)
	}

	if index := binary.BigEndian.Uint64(key[len(prefix):]); index != count-1 {
		return oracle.AggregateRecord{}, fmt.Errorf("%w: last index %d, count %d", ErrCorrupt, index, count)
	}

	return oracle.DecodeRecord(value)
}

// Append adds rec to the feed and returns its index.
// The record must advance the feed's aggregate timestamp and must not
// move its relay timestamp backwards.
func (s *Store) Append(feed oracle.FeedID, rec oracle.AggregateRecord) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.heads[feed]
	if h == nil {
		h = &head{}
	}

	if err := h.admits(&rec); err != nil {
		return 0, err
	}

	index := h.count

	err := s.db.SetBatch([]storage.KeyValue{
		{Key: recordKey(feed, index), Value: oracle.EncodeRecord(&rec)},
		{Key: timestampKey(feed, rec.AggregateTimestamp), Value: encodeUint64(index)},
		{Key: countKey(feed), Value: encodeUint64(index + 1)},
	})
	if err != nil {
		return 0, fmt.Errorf("write record:\n%w", err)
	}

	rec.Value = bytes.Clone(rec.Value)
	s.heads[feed] = &head{count: index + 1, latest: rec}

	return index, nil
}

// Restore writes whole feed histories into an empty store in one batch.
// Every history is checked with the Append rules before anything is
// written, so a rejected restore leaves the store empty.
func (s *Store) Restore(histories map[oracle.FeedID][]oracle.AggregateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range s.heads {
		if h.count > 0 {
			return ErrNotEmpty
		}
	}

	var pairs []storage.KeyValue
	heads := make(map[oracle.FeedID]*head, len(histories))

	for feed, records := range histories {
		h := &head{}

		for i, rec := range records {
			if err := h.admits(&rec); err != nil {
				return fmt.Errorf("feed %s record %d:\n%w", feed.Short(), i, err)
			}

			index := uint64(i)
			pairs = append(pairs,
				storage.KeyValue{Key: recordKey(feed, index), Value: oracle.EncodeRecord(&rec)},
				storage.KeyValue{Key: timestampKey(feed, rec.AggregateTimestamp), Value: encodeUint64(index)},
			)

			rec.Value = bytes.Clone(rec.Value)
			h.count, h.latest = index+1, rec
		}

		if h.count == 0 {
			continue
		}

		pairs = append(pairs, storage.KeyValue{Key: countKey(feed), Value: encodeUint64(h.count)})
		heads[feed] = h
	}

	if err := s.db.SetBatch(pairs); err != nil {
		return fmt.Errorf("write restore batch:\n%w", err)
	}

	maps.Copy(s.heads, heads)

	return nil
}

// admits checks that rec may follow the head.
func (h *head) admits(rec *oracle.AggregateRecord) error {
	if rec.AggregateTimestamp <= h.latest.AggregateTimestamp {
		return fmt.Errorf("%w: %d <= %d", ErrTimestampNotIncreasing, rec.AggregateTimestamp, h.latest.AggregateTimestamp)
	}

	if rec.RelayTimestamp < h.latest.RelayTimestamp {
		return fmt.Errorf("%w: %d < %d", ErrRelayTimeRegressed, rec.RelayTimestamp, h.latest.RelayTimestamp)
	}

	return nil
}

// Count returns the number of records in the feed.
func (s *Store) Count(feed oracle.FeedID) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if h := s.heads[feed]; h != nil {
		return h.count
	}

	return 0
}

// Latest returns the most recent record, or false if the feed is empty.
func (s *Store) Latest(feed oracle.FeedID) (oracle.AggregateRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := s.heads[feed]
	if h == nil || h.count == 0 {
		return oracle.AggregateRecord{}, false
	}

	rec := h.latest
	rec.Value = bytes.Clone(rec.Value)

	return rec, true
}

// At returns the record at a dense index.
func (s *Store) At(feed oracle.FeedID, index uint64) (oracle.AggregateRecord, error) {
	if index >= s.Count(feed) {
		return oracle.AggregateRecord{}, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}

	return s.read(feed, index)
}

// ByTimestamp returns the record with exactly the given aggregate timestamp.
// Returns false when no record carries that timestamp.
func (s *Store) ByTimestamp(feed oracle.FeedID, ts uint64) (oracle.AggregateRecord, bool, error) {
	value, err := s.db.Get(timestampKey(feed, ts))
	if err != nil {
		return oracle.AggregateRecord{}, false, err
	}

	if len(value) != 8 {
		return oracle.AggregateRecord{}, false, nil
	}

	rec, err := s.read(feed, binary.BigEndian.Uint64(value))
	if err != nil {
		return oracle.AggregateRecord{}, false, err
	}

	return rec, true, nil
}

// Timestamps returns the feed's aggregate timestamps in ascending order.
func (s *Store) Timestamps(feed oracle.FeedID) ([]uint64, error) {
	prefix := feedPrefix(prefixTimestamp, feed)

	var out []uint64

	err := s.db.IteratePrefix(prefix, func(key, _ []byte) error {
		out = append(out, binary.BigEndian.Uint64(key[len(prefix):]))
		return nil
	})

	return out, err
}

// Each calls fn for every record of the feed in index order.
// Iteration stops at the first error fn returns.
func (s *Store) Each(feed oracle.FeedID, fn func(index uint64, rec oracle.AggregateRecord) error) error {
	prefix := feedPrefix(prefixRecord, feed)

	return s.db.IteratePrefix(prefix, func(key, value []byte) error {
		rec, err := oracle.DecodeRecord(value)
		if err != nil {
			return fmt.Errorf("decode record %x:\n%w", key, err)
		}

		return fn(binary.BigEndian.Uint64(key[len(prefix):]), rec)
	})
}

// Feeds returns every feed with at least one record, sorted by id.
func (s *Store) Feeds() []oracle.FeedID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	feeds := make([]oracle.FeedID, 0, len(s.heads))
	for feed, h := range s.heads {
		if h.count > 0 {
			feeds = append(feeds, feed)
		}
	}

	sort.Slice(feeds, func(i, j int) bool {
		return bytes.Compare(feeds[i][:], feeds[j][:]) < 0
	})

	return feeds
}

// read loads and decodes one record from storage.
func (s *Store) read(feed oracle.FeedID, index uint64) (oracle.AggregateRecord, error) {
	value, err := s.db.Get(recordKey(feed, index))
	if err != nil {
		return oracle.AggregateRecord{}, err
	}

	if value == nil {
		return oracle.AggregateRecord{}, fmt.Errorf("record %d missing", index)
	}

	return oracle.DecodeRecord(value)
}

// feedPrefix returns prefix || feed.
func feedPrefix(prefix []byte, feed oracle.FeedID) []byte {
	key := make([]byte, 0, len(prefix)+oracle.FeedIDSize+8)
	key = append(key, prefix...)
	return append(key, feed[:]...)
}

// recordKey creates the key for a record: "a:" + feed + index.
func recordKey(feed oracle.FeedID, index uint64) []byte {
	return binary.BigEndian.AppendUint64(feedPrefix(prefixRecord, feed), index)
}

// timestampKey creates the key for a timestamp index entry: "t:" + feed + ts.
func timestampKey(feed oracle.FeedID, ts uint64) []byte {
	return binary.BigEndian.AppendUint64(feedPrefix(prefixTimestamp, feed), ts)
}

// countKey creates the key for a feed count: "c:" + feed.
func countKey(feed oracle.FeedID) []byte {
	return feedPrefix(prefixCount, feed)
}

// encodeUint64 encodes v as 8 big-endian bytes.
func encodeUint64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}
