package proto

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single wire message, guarding against a
// misbehaving or malicious peer claiming an enormous length prefix.
const MaxFrameSize = 1 << 20

// ReadFrame reads one length-prefixed JSON message: a 4-byte big-endian
// length followed by that many bytes of JSON payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return nil, &TransportError{"received zero-length frame"}
	}
	if n > MaxFrameSize {
		return nil, &TransportError{fmt.Sprintf("frame of %d bytes exceeds the %d byte limit", n, MaxFrameSize)}
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes payload as one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// EncodeFrame prepends payload with its 4-byte big-endian length, giving
// the caller one contiguous buffer to hand to a single Write call.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxFrameSize {
		return nil, &TransportError{fmt.Sprintf("frame of %d bytes exceeds the %d byte limit", len(payload), MaxFrameSize)}
	}
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)
	return frame, nil
}
