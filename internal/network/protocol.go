package network

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MessageKind tags every frame exchanged between relays.
type MessageKind byte

const (
	// KindSubmission carries an encoded oracle submission.
	KindSubmission MessageKind = 1

	// KindSnapshotRequest asks a peer for its compressed feed snapshot.
	KindSnapshotRequest MessageKind = 2

	// KindSnapshot answers a snapshot request.
	KindSnapshot MessageKind = 3
)

const (
	// maxFrameSize bounds a frame payload (64 MB, enough for a snapshot).
	maxFrameSize = 64 << 20

	// headerSize is the length prefix plus the kind byte.
	headerSize = 5
)

// String returns the kind's name.
func (k MessageKind) String() string {
	switch k {
	case KindSubmission:
		return "submission"
	case KindSnapshotRequest:
		return "snapshot_request"
	case KindSnapshot:
		return "snapshot"
	default:
		return fmt.Sprintf("unknown(%d)", byte(k))
	}
}

// writeFrame writes one frame.
// Format: [4 bytes big-endian payload length] [1 byte kind] [payload]
func writeFrame(w io.Writer, kind MessageKind, payload []byte) error {
	if len(payload) > maxFrameSize {
		return fmt.Errorf("frame too large: %d > %d", len(payload), maxFrameSize)
	}

	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(payload)))
	header[4] = byte(kind)

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write header:\n%w", err)
	}

	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload:\n%w", err)
	}

	return nil
}

// readFrame reads one frame.
func readFrame(r io.Reader) (MessageKind, []byte, error) {
	var header [headerSize]byte

	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, fmt.Errorf("read header:\n%w", err)
	}

	length := binary.BigEndian.Uint32(header[:4])
	if length > maxFrameSize {
		return 0, nil, fmt.Errorf("frame too large: %d > %d", length, maxFrameSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("read payload:\n%w", err)
	}

	return MessageKind(header[4]), payload, nil
}
