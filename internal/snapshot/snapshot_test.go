package snapshot

import (
	"bytes"
	"errors"
	"testing"

	"FeedRelay/internal/feed"
	"FeedRelay/internal/oracle"
	"FeedRelay/internal/storage"
)

var (
	ethUSD = oracle.FeedIDFromQuery([]byte("eth/usd"))
	btcUSD = oracle.FeedIDFromQuery([]byte("btc/usd"))
)

func newStore(t *testing.T) *feed.Store {
	t.Helper()

	db, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	s, err := feed.Open(db)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	return s
}

func record(value byte, ts uint64) oracle.AggregateRecord {
	return oracle.AggregateRecord{
		Value:                []byte{value, value},
		Power:                uint64(value) * 10,
		AggregateTimestamp:   ts,
		AttestationTimestamp: ts + 250,
		RelayTimestamp:       ts/1000 + 1,
	}
}

// populated returns a store with two feeds of history.
func populated(t *testing.T) *feed.Store {
	t.Helper()

	s := newStore(t)

	for i, ts := range []uint64{1_000_000, 1_060_000, 1_120_000} {
		if _, err := s.Append(ethUSD, record(byte(i+1), ts)); err != nil {
			t.Fatalf("append eth: %v", err)
		}
	}

	if _, err := s.Append(btcUSD, record(9, 2_000_000)); err != nil {
		t.Fatalf("append btc: %v", err)
	}

	return s
}

func TestExportImport(t *testing.T) {
	src := populated(t)

	data, err := Export(src, 1_700_000_000)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	dst := newStore(t)

	snap, err := Import(dst, data)
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	if snap.CreatedAt != 1_700_000_000 || len(snap.Feeds) != 2 || snap.RecordCount() != 4 {
		t.Fatalf("snapshot = version %d, created %d, %d feeds, %d records",
			snap.Version, snap.CreatedAt, len(snap.Feeds), snap.RecordCount())
	}

	for _, f := range []oracle.FeedID{ethUSD, btcUSD} {
		if src.Count(f) != dst.Count(f) {
			t.Fatalf("feed %s: count %d, want %d", f.Short(), dst.Count(f), src.Count(f))
		}

		for i := uint64(0); i < src.Count(f); i++ {
			want, _ := src.At(f, i)
			got, err := dst.At(f, i)
			if err != nil {
				t.Fatalf("feed %s index %d: %v", f.Short(), i, err)
			}

			if !bytes.Equal(got.Value, want.Value) ||
				got.Power != want.Power ||
				got.AggregateTimestamp != want.AggregateTimestamp ||
				got.AttestationTimestamp != want.AttestationTimestamp ||
				got.RelayTimestamp != want.RelayTimestamp {
				t.Errorf("feed %s index %d: got %+v, want %+v", f.Short(), i, got, want)
			}
		}
	}

	// Timestamp index is rebuilt too.
	if _, ok, err := dst.ByTimestamp(ethUSD, 1_060_000); err != nil || !ok {
		t.Errorf("by timestamp after import: ok=%v err=%v", ok, err)
	}
}

func TestExportEmpty(t *testing.T) {
	data, err := Export(newStore(t), 42)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	snap, err := Import(newStore(t), data)
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	if len(snap.Feeds) != 0 || snap.CreatedAt != 42 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestImportRequiresEmptyStore(t *testing.T) {
	data, err := Export(populated(t), 1)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	if _, err := Import(populated(t), data); !errors.Is(err, ErrNotEmpty) {
		t.Fatalf("got %v, want ErrNotEmpty", err)
	}
}

func TestDecodeDetectsTampering(t *testing.T) {
	snap, err := Collect(populated(t), 7)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	raw := Encode(snap)

	// Length-prefixed value of the first eth record.
	needle := []byte{2, 0, 0, 0, 1, 1}
	pos := bytes.Index(raw, needle)
	if pos < 0 {
		t.Fatal("value bytes not found in encoding")
	}

	tampered := bytes.Clone(raw)
	tampered[pos+4] = 0xee

	if _, err := Decode(tampered); !errors.Is(err, ErrChecksum) {
		t.Fatalf("got %v, want ErrChecksum", err)
	}
}

func TestImportRechecksOrdering(t *testing.T) {
	// A well-formed snapshot whose history is out of order.
	snap := &Snapshot{
		Version:   snapshotVersion,
		CreatedAt: 1,
		Feeds: []History{{
			Feed:    ethUSD,
			Records: []oracle.AggregateRecord{record(1, 5_000), record(2, 4_000)},
		}},
	}

	data, err := Compress(Encode(snap))
	if err != nil {
		t.Fatalf("compress: %v", err)
	}

	if _, err := Import(newStore(t), data); !errors.Is(err, feed.ErrTimestampNotIncreasing) {
		t.Fatalf("got %v, want ErrTimestampNotIncreasing", err)
	}
}

func TestImportWritesNothingOnRejection(t *testing.T) {
	snap := &Snapshot{
		Version:   snapshotVersion,
		CreatedAt: 1,
		Feeds: []History{
			{Feed: ethUSD, Records: []oracle.AggregateRecord{record(1, 1_000_000), record(2, 2_000_000)}},
			{Feed: btcUSD, Records: []oracle.AggregateRecord{record(3, 5_000_000), record(4, 4_000_000)}},
		},
	}

	data, err := Compress(Encode(snap))
	if err != nil {
		t.Fatalf("compress: %v", err)
	}

	dst := newStore(t)

	if _, err := Import(dst, data); !errors.Is(err, feed.ErrTimestampNotIncreasing) {
		t.Fatalf("got %v, want ErrTimestampNotIncreasing", err)
	}

	if n := len(dst.Feeds()); n != 0 {
		t.Fatalf("feeds after rejected import = %d, want 0", n)
	}

	good, err := Export(populated(t), 2)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	if _, err := Import(dst, good); err != nil {
		t.Errorf("import after rejection: %v", err)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Error("short input accepted")
	}

	if _, err := Import(newStore(t), []byte("not zstd at all")); err == nil {
		t.Error("invalid compression accepted")
	}
}
