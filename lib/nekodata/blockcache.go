// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package nekodata

import (
	"sync"
	"weak"
)

// cachedBlock is one decompressed block. Readers hold it strongly
// while copying from it; the cache only holds it weakly.
type cachedBlock struct {
	data []byte
}

type blockState uint8

const (
	blockEmpty blockState = iota
	blockPending
	blockReady
	blockFailed
)

type blockSlot struct {
	state blockState
	block weak.Pointer[cachedBlock]
	err   error
}

// blockCache decompresses each block of one file at most once at a
// time. The first goroutine to ask for a block loads it while later
// ones wait. A loaded block stays cached until the garbage collector
// reclaims it, after which the next request loads it again. A failed
// load is remembered for the life of the cache.
type blockCache struct {
	mu    sync.Mutex
	cond  *sync.Cond
	slots []blockSlot
	load  func(index int) (*cachedBlock, error)
}

func newBlockCache(blocks int, load func(index int) (*cachedBlock, error)) *blockCache {
	cache := &blockCache{slots: make([]blockSlot, blocks), load: load}
	cache.cond = sync.NewCond(&cache.mu)
	return cache
}

func (c *blockCache) get(index int) (*cachedBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		slot := &c.slots[index]
		switch slot.state {
		case blockReady:
			if block := slot.block.Value(); block != nil {
				return block, nil
			}
			slot.state = blockEmpty
		case blockFailed:
			return nil, slot.err
		case blockPending:
			c.cond.Wait()
		case blockEmpty:
			slot.state = blockPending
			c.mu.Unlock()
			block, err := c.load(index)
			c.mu.Lock()
			if err != nil {
				slot.state, slot.err = blockFailed, err
			} else {
				slot.state, slot.block = blockReady, weak.Make(block)
			}
			c.cond.Broadcast()
			return block, err
		}
	}
}
