// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package nekodata

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"

	"github.com/pixelneko/nekofs/lib/bufferpool"
)

// Fingerprint is the BLAKE3 hash of an entry's decoded content.
type Fingerprint [32]byte

func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

// MarshalText encodes f as lowercase hex.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return hex.AppendEncode(nil, f[:]), nil
}

// UnmarshalText decodes a 64-character hex string.
func (f *Fingerprint) UnmarshalText(text []byte) error {
	return decodeHex32(f[:], text)
}

// ContentFingerprint hashes the decoded content of name. Unlike
// FileEntry.Digest it does not depend on how the entry was compressed,
// so it identifies the same content across archives.
func (r *Reader) ContentFingerprint(name string) (Fingerprint, error) {
	var fingerprint Fingerprint
	stream, err := r.OpenDecodedStream(name)
	if err != nil {
		return fingerprint, err
	}
	defer stream.Close()

	buffer := r.options.Pool.Acquire(bufferpool.Copy)
	defer buffer.Release()
	hasher := blake3.New()
	if _, err := io.CopyBuffer(hasher, stream, buffer.B); err != nil {
		return fingerprint, fmt.Errorf("fingerprinting %s: %w", name, err)
	}
	hasher.Sum(fingerprint[:0])
	return fingerprint, nil
}
