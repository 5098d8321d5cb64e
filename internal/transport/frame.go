// Package transport carries length-prefixed frames between the producer and
// the visualiser. Each frame is a 4-byte big-endian length followed by that
// many bytes of UTF-8 JSON.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// HeaderSize is the length of the frame prefix.
const HeaderSize = 4

// DefaultMaxFrameSize caps the payload a reader will allocate for.
const DefaultMaxFrameSize = 64 << 20

var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// FrameError reports a framing failure. Framing errors are terminal: the
// byte stream can no longer be trusted.
type FrameError struct {
	Length uint32 // declared payload length, 0 when the header itself was cut
	Read   int    // payload bytes read before the failure
	Err    error
}

func (e *FrameError) Error() string {
	if e.Length == 0 {
		return fmt.Sprintf("frame header: %v", e.Err)
	}
	return fmt.Sprintf("frame of %d bytes (read %d): %v", e.Length, e.Read, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// ReadFrame reads one frame with the default size cap.
func ReadFrame(r io.Reader) ([]byte, error) {
	return readFrame(r, DefaultMaxFrameSize)
}

// readFrame loops over short reads until the header and payload are complete.
// io.EOF is returned only when the stream ends cleanly between frames.
func readFrame(r io.Reader, max int) ([]byte, error) {
	var hdr [HeaderSize]byte
	n, err := io.ReadFull(r, hdr[:])
	switch {
	case err == io.EOF:
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return nil, &FrameError{Read: n, Err: io.ErrUnexpectedEOF}
	case err != nil:
		return nil, err
	}

	length := binary.BigEndian.Uint32(hdr[:])
	if max > 0 && uint64(length) > uint64(max) {
		return nil, &FrameError{Length: length, Err: ErrFrameTooLarge}
	}

	payload := make([]byte, length)
	n, err = io.ReadFull(r, payload)
	if err != nil {
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.ErrUnexpectedEOF
			return nil, &FrameError{Length: length, Read: n, Err: err}
		}
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes payload with its length prefix in a single Write.
func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > math.MaxUint32 {
		return &FrameError{Err: ErrFrameTooLarge}
	}
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	_, err := w.Write(buf)
	return err
}

// AppendFrame appends the framed payload to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}
