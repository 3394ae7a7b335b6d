// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"math/rand/v2"
)

// Pattern returns n bytes of a repeating, highly compressible text
// seeded by seed.
func Pattern(seed string, n int) []byte {
	line := []byte(seed + ": the quick brown fox jumps over the lazy dog\n")
	data := make([]byte, n)
	for i := range data {
		data[i] = line[i%len(line)]
	}
	return data
}

// Random returns n pseudo-random bytes that are the same for the same
// seed. The output is effectively incompressible.
func Random(seed uint64, n int) []byte {
	source := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	data := make([]byte, n)
	for i := 0; i < n; i += 8 {
		value := source.Uint64()
		for j := 0; j < 8 && i+j < n; j++ {
			data[i+j] = byte(value >> (8 * j))
		}
	}
	return data
}
