// Package shortvec implements the compact-u16 length prefix used by the
// Solana wire format: 7 bits per byte, little endian, at most 3 bytes.
package shortvec

import (
	"io"
	"math"

	"github.com/pkg/errors"
)

const maxEncodedLen = 3

var (
	ErrLenOutOfRange   = errors.New("shortvec: len out of range")
	ErrInvalidEncoding = errors.New("shortvec: invalid encoding")
)

// EncodeLen writes the compact-u16 encoding of length to w
func EncodeLen(w io.Writer, length int) (int, error) {
	if length < 0 || length > math.MaxUint16 {
		return 0, errors.Wrapf(ErrLenOutOfRange, "%d", length)
	}

	var buf [maxEncodedLen]byte
	size := 0
	for {
		buf[size] = byte(length & 0x7f)
		length >>= 7
		if length == 0 {
			size++
			break
		}
		buf[size] |= 0x80
		size++
	}

	return w.Write(buf[:size])
}

// DecodeLen reads a compact-u16 length from r. Encodings longer than three
// bytes, values beyond a u16 and non-canonical encodings with trailing zero
// bytes are rejected.
func DecodeLen(r io.Reader) (int, error) {
	var value int
	var b [1]byte

	for i := 0; i < maxEncodedLen; i++ {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}

		if i > 0 && b[0] == 0 {
			return 0, errors.Wrap(ErrInvalidEncoding, "trailing zero byte")
		}

		value |= int(b[0]&0x7f) << (7 * i)
		if b[0]&0x80 == 0 {
			if value > math.MaxUint16 {
				return 0, errors.Wrapf(ErrLenOutOfRange, "%d", value)
			}
			return value, nil
		}
	}

	return 0, errors.Wrapf(ErrInvalidEncoding, "more than %d bytes", maxEncodedLen)
}
