// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding configuration shared by
// nekofs tooling.
//
// Archive manifests are written as JSON for people and as CBOR for
// machines that diff or sign them. The encoder uses Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer
// encoding, no indefinite-length items. Two manifests of the same
// archive are therefore byte-identical.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Types that are serialized to both JSON and CBOR carry only `json`
// tags; fxamacker/cbor reads them as a fallback.
package codec
