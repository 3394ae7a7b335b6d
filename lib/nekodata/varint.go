// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package nekodata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/bits"
)

// Varints use a prefix code: the number of leading one bits in the
// first byte is the number of continuation bytes that follow. The
// remaining low bits of the first byte hold the most significant bits
// of the value and the continuation bytes follow big-endian.
//
//	0xxxxxxx                          < 2^7
//	10xxxxxx +1                       < 2^14
//	110xxxxx +2                       < 2^21
//	1110xxxx +3                       < 2^28
//	11110xxx +4                       < 2^35
//	111110xx +5                       < 2^42
//	1111110x +6                       < 2^49
//	11111110 +7                       < 2^56
//	11111111 +8                       any uint64
//
// The 32-bit form shares the first four classes and writes any value
// of 2^28 or more as 0xF0 followed by four full bytes.

// Uvarint64Len returns the encoded length of v.
func Uvarint64Len(v uint64) int {
	for length := 1; length <= 8; length++ {
		if v < 1<<(7*length) {
			return length
		}
	}
	return 9
}

// Uvarint32Len returns the encoded length of v in the 32-bit form.
func Uvarint32Len(v uint32) int {
	if v < 1<<28 {
		return Uvarint64Len(uint64(v))
	}
	return 5
}

// AppendUvarint64 appends the encoding of v to dst.
func AppendUvarint64(dst []byte, v uint64) []byte {
	length := Uvarint64Len(v)
	if length == 9 {
		dst = append(dst, 0xFF)
		return binary.BigEndian.AppendUint64(dst, v)
	}
	return appendClass(dst, v, length)
}

// AppendUvarint32 appends the 32-bit encoding of v to dst.
func AppendUvarint32(dst []byte, v uint32) []byte {
	if v >= 1<<28 {
		dst = append(dst, 0xF0)
		return binary.BigEndian.AppendUint32(dst, v)
	}
	return appendClass(dst, uint64(v), Uvarint64Len(uint64(v)))
}

// appendClass writes v, known to fit in length bytes with
// length-1 leading one bits, for length in 1..8.
func appendClass(dst []byte, v uint64, length int) []byte {
	prefix := byte(0xFF) << (9 - length)
	dst = append(dst, prefix|byte(v>>(8*(length-1))))
	for shift := 8 * (length - 2); shift >= 0; shift -= 8 {
		dst = append(dst, byte(v>>shift))
	}
	return dst
}

// ReadUvarint64 decodes one varint from r. A truncated encoding
// returns an error wrapping both ErrCorruptArchive and
// io.ErrUnexpectedEOF.
func ReadUvarint64(r io.ByteReader) (uint64, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, truncated(err)
	}
	continuation := bits.LeadingZeros8(^first)
	var value uint64
	if continuation < 7 {
		value = uint64(first & (0x7F >> continuation))
	}
	for range continuation {
		next, err := r.ReadByte()
		if err != nil {
			return 0, truncated(err)
		}
		value = value<<8 | uint64(next)
	}
	return value, nil
}

// ReadUvarint32 decodes one varint in the 32-bit form from r.
func ReadUvarint32(r io.ByteReader) (uint32, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, truncated(err)
	}
	continuation := bits.LeadingZeros8(^first)
	if continuation > 4 {
		return 0, corruptf("32-bit varint prefix %#02x", first)
	}
	value := uint64(first & (0x7F >> continuation))
	for range continuation {
		next, err := r.ReadByte()
		if err != nil {
			return 0, truncated(err)
		}
		value = value<<8 | uint64(next)
	}
	if value > math.MaxUint32 {
		return 0, corruptf("32-bit varint value %d overflows", value)
	}
	return uint32(value), nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrCorruptArchive, io.ErrUnexpectedEOF)
	}
	return ioErrorf(err, "reading varint")
}

// readPositiveUvarint32 decodes a 32-bit varint that must be nonzero
// and fit in an int32. field names the value for error messages.
func readPositiveUvarint32(r io.ByteReader, field string) (int32, error) {
	value, err := ReadUvarint32(r)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", field, err)
	}
	if value == 0 {
		return 0, corruptf("%s is zero", field)
	}
	if value > math.MaxInt32 {
		return 0, corruptf("%s %d out of range", field, value)
	}
	return int32(value), nil
}

// readSizeUvarint64 decodes a 64-bit varint that must fit in an
// int64. field names the value for error messages.
func readSizeUvarint64(r io.ByteReader, field string) (int64, error) {
	value, err := ReadUvarint64(r)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", field, err)
	}
	if value > math.MaxInt64 {
		return 0, corruptf("%s %d out of range", field, value)
	}
	return int64(value), nil
}
