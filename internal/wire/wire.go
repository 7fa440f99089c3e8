// Package wire implements the little-endian framing rules shared by the
// tracker protocol and the raw worker-to-worker byte stream (spec §6).
//
// Two framings are supported:
//   - raw: the declared byte count is transferred as-is, no length prefix.
//     Used for collective payloads between workers (Channel.ISend/IRecv).
//   - length-prefixed: a 32-bit little-endian length precedes the payload.
//     Used for strings and byte blobs on the tracker connection.
//
// A bare 32-bit integer is framed as 4 raw little-endian bytes.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxBlobSize bounds length-prefixed reads so a corrupt or hostile peer
// cannot force an unbounded allocation.
const MaxBlobSize = 1 << 30

// WriteInt32 writes v as 4 raw little-endian bytes.
func WriteInt32(w io.Writer, v int32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	_, err := w.Write(buf[:])
	return err
}

// ReadInt32 reads 4 raw little-endian bytes into an int32.
func ReadInt32(r io.Reader) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

// WriteBytes writes a 32-bit little-endian length prefix followed by b.
func WriteBytes(w io.Writer, b []byte) error {
	if err := WriteInt32(w, int32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadBytes reads a length-prefixed byte blob.
func ReadBytes(r io.Reader) ([]byte, error) {
	n, err := ReadInt32(r)
	if err != nil {
		return nil, err
	}
	if n < 0 || int64(n) > MaxBlobSize {
		return nil, fmt.Errorf("wire: blob length %d out of range", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteString writes a length-prefixed UTF-8 string.
func WriteString(w io.Writer, s string) error {
	return WriteBytes(w, []byte(s))
}

// ReadString reads a length-prefixed UTF-8 string.
func ReadString(r io.Reader) (string, error) {
	b, err := ReadBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
