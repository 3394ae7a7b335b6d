// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

// Package bufferpool recycles fixed-size byte buffers in a small number
// of size classes. A Pool is an ordinary value passed to whoever needs
// it; there is no package-level pool.
package bufferpool

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Class selects one of a pool's buffer sizes.
type Class int

const (
	// Block holds one decoded block.
	Block Class = iota
	// Compressed holds one compressed block at its worst-case size.
	Compressed
	// Copy is a large buffer for streaming copies.
	Copy

	classCount
)

func (c Class) String() string {
	switch c {
	case Block:
		return "block"
	case Compressed:
		return "compressed"
	case Copy:
		return "copy"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Pool hands out buffers of three size classes. Safe for concurrent
// use.
type Pool struct {
	sizes       [classCount]int
	pools       [classCount]sync.Pool
	outstanding atomic.Int64
}

// New returns a pool whose classes have the given sizes. Every size
// must be positive.
func New(blockSize, compressedSize, copySize int) (*Pool, error) {
	p := &Pool{sizes: [classCount]int{blockSize, compressedSize, copySize}}
	for class, size := range p.sizes {
		if size <= 0 {
			return nil, fmt.Errorf("bufferpool: %s size %d must be positive", Class(class), size)
		}
		p.pools[class].New = func() any {
			buffer := make([]byte, size)
			return &buffer
		}
	}
	return p, nil
}

// Size returns the length of buffers of the given class.
func (p *Pool) Size(class Class) int { return p.sizes[class] }

// Acquire returns a buffer of the given class. The caller must call
// Release exactly once when done with it.
func (p *Pool) Acquire(class Class) *Buffer {
	slot := p.pools[class].Get().(*[]byte)
	p.outstanding.Add(1)
	return &Buffer{B: (*slot)[:p.sizes[class]], pool: p, class: class, slot: slot}
}

// Outstanding returns the number of acquired buffers not yet released.
func (p *Pool) Outstanding() int64 { return p.outstanding.Load() }

// Buffer is a pooled byte slice. B always has the full class length.
type Buffer struct {
	B     []byte
	pool  *Pool
	class Class
	slot  *[]byte
}

// Release returns the buffer to its pool. Calling Release on a nil or
// already released Buffer does nothing.
func (b *Buffer) Release() {
	if b == nil || b.pool == nil {
		return
	}
	b.pool.pools[b.class].Put(b.slot)
	b.pool.outstanding.Add(-1)
	b.pool = nil
	b.B = nil
	b.slot = nil
}
