package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"FeedRelay/internal/feed"
	"FeedRelay/internal/oracle"
	"FeedRelay/internal/types"
)

const (
	// snapshotVersion is the current snapshot format version.
	snapshotVersion = 1

	// maxDecodedSize bounds decompressed snapshot size.
	maxDecodedSize = 1 << 30
)

var (
	// ErrNotEmpty is returned when importing into a store that already holds records.
	ErrNotEmpty = feed.ErrNotEmpty

	// ErrChecksum is returned when a snapshot's checksum does not match its content.
	ErrChecksum = errors.New("snapshot checksum mismatch")

	// ErrVersion is returned for an unsupported snapshot format version.
	ErrVersion = errors.New("unsupported snapshot version")
)

// History is the full record sequence of one feed.
type History struct {
	Feed    oracle.FeedID
	Records []oracle.AggregateRecord
}

// Snapshot is a decoded, checksum-verified snapshot.
type Snapshot struct {
	Version   uint32
	CreatedAt uint64 // CreatedAt is unix seconds
	Feeds     []History
}

// RecordCount returns the total number of records across feeds.
func (s *Snapshot) RecordCount() int {
	n := 0
	for _, h := range s.Feeds {
		n += len(h.Records)
	}

	return n
}

// Collect reads every feed history from the store, ordered by feed id.
func Collect(store *feed.Store, createdAt uint64) (*Snapshot, error) {
	snap := &Snapshot{Version: snapshotVersion, CreatedAt: createdAt}

	for _, f := range store.Feeds() {
		h := History{Feed: f}

		err := store.Each(f, func(_ uint64, rec oracle.AggregateRecord) error {
			h.Records = append(h.Records, rec)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("collect feed %s:\n%w", f.Short(), err)
		}

		snap.Feeds = append(snap.Feeds, h)
	}

	return snap, nil
}

// Export collects the store and encodes it as a compressed snapshot.
func Export(store *feed.Store, createdAt uint64) ([]byte, error) {
	snap, err := Collect(store, createdAt)
	if err != nil {
		return nil, err
	}

	return Compress(Encode(snap))
}

// Import verifies a compressed snapshot and restores it into an empty store.
// Every record goes through the store's append checks, and nothing is
// written unless all of them pass.
func Import(store *feed.Store, data []byte) (*Snapshot, error) {
	if len(store.Feeds()) != 0 {
		return nil, ErrNotEmpty
	}

	raw, err := Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot:\n%w", err)
	}

	snap, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	histories := make(map[oracle.FeedID][]oracle.AggregateRecord, len(snap.Feeds))

	for _, h := range snap.Feeds {
		if _, dup := histories[h.Feed]; dup {
			return nil, fmt.Errorf("feed %s appears twice", h.Feed.Short())
		}

		histories[h.Feed] = h.Records
	}

	if err := store.Restore(histories); err != nil {
		return nil, err
	}

	return snap, nil
}

// Encode serializes a snapshot with its checksum as FlatBuffers.
func Encode(snap *Snapshot) []byte {
	sortFeeds(snap.Feeds)
	checksum := computeChecksum(snap)

	builder := flatbuffers.NewBuilder(1024)

	feedOffsets := make([]flatbuffers.UOffsetT, len(snap.Feeds))
	for i, h := range snap.Feeds {
		feedOffsets[i] = buildHistory(builder, &h)
	}

	types.SnapshotStartFeedsVector(builder, len(feedOffsets))
	for i := len(feedOffsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(feedOffsets[i])
	}
	feedsVector := builder.EndVector(len(feedOffsets))

	checksumOffset := builder.CreateByteVector(checksum[:])

	types.SnapshotStart(builder)
	types.SnapshotAddVersion(builder, snap.Version)
	types.SnapshotAddCreatedAt(builder, snap.CreatedAt)
	types.SnapshotAddFeeds(builder, feedsVector)
	types.SnapshotAddChecksum(builder, checksumOffset)
	builder.Finish(types.SnapshotEnd(builder))

	return builder.FinishedBytes()
}

// buildHistory writes one feed's records as a FeedHistory table.
func buildHistory(builder *flatbuffers.Builder, h *History) flatbuffers.UOffsetT {
	recordOffsets := make([]flatbuffers.UOffsetT, len(h.Records))

	for i, rec := range h.Records {
		valueOffset := builder.CreateByteVector(rec.Value)

		types.AggregateRecordStart(builder)
		types.AggregateRecordAddValue(builder, valueOffset)
		types.AggregateRecordAddPower(builder, rec.Power)
		types.AggregateRecordAddAggregateTimestamp(builder, rec.AggregateTimestamp)
		types.AggregateRecordAddAttestationTimestamp(builder, rec.AttestationTimestamp)
		types.AggregateRecordAddRelayTimestamp(builder, rec.RelayTimestamp)
		recordOffsets[i] = types.AggregateRecordEnd(builder)
	}

	types.FeedHistoryStartRecordsVector(builder, len(recordOffsets))
	for i := len(recordOffsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(recordOffsets[i])
	}
	recordsVector := builder.EndVector(len(recordOffsets))

	feedOffset := builder.CreateByteVector(h.Feed[:])

	types.FeedHistoryStart(builder)
	types.FeedHistoryAddFeedId(builder, feedOffset)
	types.FeedHistoryAddRecords(builder, recordsVector)

	return types.FeedHistoryEnd(builder)
}

// Decode parses and verifies an uncompressed snapshot.
func Decode(data []byte) (snap *Snapshot, retErr error) {
	defer func() {
		if r := recover(); r != nil {
			snap = nil
			retErr = fmt.Errorf("malformed snapshot data")
		}
	}()

	if len(data) < 8 {
		return nil, fmt.Errorf("snapshot data too short")
	}

	fb := types.GetRootAsSnapshot(data, 0)

	if fb.Version() != snapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersion, fb.Version())
	}

	snap = &Snapshot{
		Version:   fb.Version(),
		CreatedAt: fb.CreatedAt(),
		Feeds:     make([]History, fb.FeedsLength()),
	}

	var (
		fh  types.FeedHistory
		rec types.AggregateRecord
	)

	for i := range snap.Feeds {
		if !fb.Feeds(&fh, i) {
			return nil, fmt.Errorf("read feed %d", i)
		}

		id := fh.FeedIdBytes()
		if len(id) != oracle.FeedIDSize {
			return nil, fmt.Errorf("feed %d: invalid id size %d", i, len(id))
		}

		h := &snap.Feeds[i]
		copy(h.Feed[:], id)
		h.Records = make([]oracle.AggregateRecord, fh.RecordsLength())

		for j := range h.Records {
			if !fh.Records(&rec, j) {
				return nil, fmt.Errorf("feed %d: read record %d", i, j)
			}

			h.Records[j] = oracle.AggregateRecord{
				Value:                append([]byte(nil), rec.ValueBytes()...),
				Power:                rec.Power(),
				AggregateTimestamp:   rec.AggregateTimestamp(),
				AttestationTimestamp: rec.AttestationTimestamp(),
				RelayTimestamp:       rec.RelayTimestamp(),
			}
		}
	}

	computed := computeChecksum(snap)
	if !bytes.Equal(computed[:], fb.ChecksumBytes()) {
		return nil, ErrChecksum
	}

	return snap, nil
}

// sortFeeds orders histories by feed id for a deterministic checksum.
func sortFeeds(feeds []History) {
	slices.SortFunc(feeds, func(a, b History) int {
		return bytes.Compare(a.Feed[:], b.Feed[:])
	})
}

// computeChecksum computes a blake3 checksum over canonical snapshot data.
// Format: version(4) || createdAt(8) || per feed: id || count(8) ||
// per record: len(value)(4) || value || power || aggregate ts || attestation ts || relay ts.
func computeChecksum(snap *Snapshot) [32]byte {
	hasher := blake3.New()

	var buf [8]byte
	binary.BigEndian.PutUint32(buf[:4], snap.Version)
	hasher.Write(buf[:4])
	binary.BigEndian.PutUint64(buf[:], snap.CreatedAt)
	hasher.Write(buf[:])

	for _, h := range snap.Feeds {
		hasher.Write(h.Feed[:])
		binary.BigEndian.PutUint64(buf[:], uint64(len(h.Records)))
		hasher.Write(buf[:])

		for _, rec := range h.Records {
			binary.BigEndian.PutUint32(buf[:4], uint32(len(rec.Value)))
			hasher.Write(buf[:4])
			hasher.Write(rec.Value)

			for _, v := range []uint64{rec.Power, rec.AggregateTimestamp, rec.AttestationTimestamp, rec.RelayTimestamp} {
				binary.BigEndian.PutUint64(buf[:], v)
				hasher.Write(buf[:])
			}
		}
	}

	var checksum [32]byte
	hasher.Sum(checksum[:0])

	return checksum
}

// Compress compresses snapshot data using zstd.
func Compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// Decompress decompresses zstd-compressed snapshot data.
func Decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize))
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	return decoder.DecodeAll(data, nil)
}
