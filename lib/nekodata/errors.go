// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package nekodata

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Every error returned by this package wraps exactly
// one of these (ErrVersionInconsistent additionally wraps
// ErrCorruptArchive), so callers classify failures with errors.Is.
var (
	// ErrIO reports a read, write, or open failure of an underlying
	// volume, source file, or stream.
	ErrIO = errors.New("nekodata: i/o error")

	// ErrCompressionFailed reports that the block compressor produced
	// no output for non-empty input.
	ErrCompressionFailed = errors.New("nekodata: compression failed")

	// ErrDecompressionFailed reports that a block did not decompress to
	// its expected length.
	ErrDecompressionFailed = errors.New("nekodata: decompression failed")

	// ErrCorruptArchive reports a structural problem: bad magic, a
	// truncated varint, an out-of-range position, or a directory that
	// does not end exactly at its own pointer.
	ErrCorruptArchive = errors.New("nekodata: corrupt archive")

	// ErrDigestMismatch reports that an entry's stored bytes do not
	// hash to the recorded SHA-256 digest.
	ErrDigestMismatch = errors.New("nekodata: digest mismatch")

	// ErrVersionInconsistent reports footers that disagree across the
	// volumes of one set (total count, volume size, or index order).
	ErrVersionInconsistent = errors.New("nekodata: inconsistent volume set")

	// ErrInvalidConfiguration reports encoder options that cannot
	// produce a valid archive. Returned before any I/O.
	ErrInvalidConfiguration = errors.New("nekodata: invalid configuration")

	// ErrNotFound reports a name that is not in the central directory.
	ErrNotFound = errors.New("nekodata: entry not found")

	// ErrClosed reports use of a closed Reader or FileReader.
	ErrClosed = errors.New("nekodata: closed")
)

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptArchive, fmt.Sprintf(format, args...))
}

func inconsistentf(format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrVersionInconsistent, ErrCorruptArchive, fmt.Sprintf(format, args...))
}

func ioErrorf(err error, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %w", ErrIO, fmt.Sprintf(format, args...), err)
}

// DigestMismatch describes one entry that failed verification.
type DigestMismatch struct {
	Name     string
	Expected Digest
	Actual   Digest
}

func (m DigestMismatch) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", m.Name, m.Expected, m.Actual)
}

func (m DigestMismatch) Unwrap() error { return ErrDigestMismatch }

// VerifyError aggregates every entry that failed verification.
// Verify never stops at the first mismatch.
type VerifyError struct {
	Mismatches []DigestMismatch
}

func (e *VerifyError) Error() string {
	names := make([]string, len(e.Mismatches))
	for i, mismatch := range e.Mismatches {
		names[i] = mismatch.Name
	}
	return fmt.Sprintf("%v: %d entries failed verification: %s",
		ErrDigestMismatch, len(e.Mismatches), strings.Join(names, ", "))
}

func (e *VerifyError) Unwrap() []error {
	errs := make([]error, len(e.Mismatches))
	for i, mismatch := range e.Mismatches {
		errs[i] = mismatch
	}
	return errs
}
