// Package frame implements the length-prefixed multi-frame codec the
// streaming sockets (publisher, subscriber, control) use over TCP: every
// logical message is a fixed count of byte frames, each on the wire as a
// 4-byte big-endian length followed by that many payload bytes.
package frame

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame so a corrupt or hostile length
// prefix can't force an unbounded allocation.
const MaxFrameSize = 64 << 20 // 64 MiB

// Write writes frames as one message: each frame is a 4-byte big-endian
// length prefix followed by its bytes, written back to back with no
// message-level delimiter (the reader already knows how many frames a
// given message kind carries).
func Write(w io.Writer, frames ...[]byte) error {
	for _, f := range frames {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(f)))
		if _, err := w.Write(lenBuf[:]); err != nil {
			return fmt.Errorf("frame: write length: %w", err)
		}
		if len(f) == 0 {
			continue
		}
		if _, err := w.Write(f); err != nil {
			return fmt.Errorf("frame: write payload: %w", err)
		}
	}
	return nil
}

// Read reads exactly n frames from r, blocking until all are received.
func Read(r io.Reader, n int) ([][]byte, error) {
	frames := make([][]byte, n)
	for i := 0; i < n; i++ {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, fmt.Errorf("frame: read length: %w", err)
		}
		size := binary.BigEndian.Uint32(lenBuf[:])
		if size > MaxFrameSize {
			return nil, fmt.Errorf("frame: frame size %d exceeds maximum", size)
		}
		buf := make([]byte, size)
		if size > 0 {
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, fmt.Errorf("frame: read payload: %w", err)
			}
		}
		frames[i] = buf
	}
	return frames, nil
}
