// This file is part of dynarm.
//
// dynarm is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package cpu

import (
	codegenx64 "github.com/dynarm/dynarm/codegen/x64"
	"github.com/dynarm/dynarm/cache"
	"github.com/dynarm/dynarm/execmem"
)

// compiledBlock pairs one cache.Entry's Native segments with the
// executable memory they were loaded into. One region holds every
// Native segment belonging to the same entry, since they are always
// entered in a fixed order and never outlive the entry itself.
type compiledBlock struct {
	region *execmem.Region
	// entryAddr[i] is the callNative entry point for segments[i] when
	// that segment is Native; 0 for an Interpreted segment's index.
	entryAddr []uintptr
}

// regionSize is the base arena size for one compiled block's machine
// code; load adds the total size of the block's Native segments to it.
const regionSize = 8192

// load writes every Native segment's code into a fresh executable
// region and seals it, returning the per-segment entry points.
func load(segments []codegenx64.Segment) (*compiledBlock, error) {
	size := regionSize
	for _, seg := range segments {
		if seg.Kind == codegenx64.Native {
			size += len(seg.Code)
		}
	}

	region, err := execmem.New(size)
	if err != nil {
		return nil, err
	}

	cb := &compiledBlock{region: region, entryAddr: make([]uintptr, len(segments))}
	for i, seg := range segments {
		if seg.Kind != codegenx64.Native {
			continue
		}
		addr, err := region.Write(seg.Code)
		if err != nil {
			region.Close()
			return nil, err
		}
		cb.entryAddr[i] = addr
	}
	if err := region.Seal(); err != nil {
		region.Close()
		return nil, err
	}
	return cb, nil
}

// close releases the executable memory backing cb. Called when the
// cache entry it belongs to is invalidated.
func (cb *compiledBlock) close() {
	if cb.region != nil {
		cb.region.Close()
	}
}

// codeCache tracks the compiledBlock for every live cache.EntryID,
// mirroring cache.Cache's own slab-with-reuse shape so that an
// invalidated-then-reinserted EntryID never sees a stale entry.
type codeCache struct {
	blocks map[cache.EntryID]*compiledBlock
}

func newCodeCache() *codeCache {
	return &codeCache{blocks: make(map[cache.EntryID]*compiledBlock)}
}

func (c *codeCache) get(id cache.EntryID) (*compiledBlock, bool) {
	cb, ok := c.blocks[id]
	return cb, ok
}

func (c *codeCache) put(id cache.EntryID, cb *compiledBlock) {
	c.blocks[id] = cb
}

func (c *codeCache) evict(id cache.EntryID) {
	if cb, ok := c.blocks[id]; ok {
		cb.close()
		delete(c.blocks, id)
	}
}

func (c *codeCache) evictAll() {
	for id := range c.blocks {
		c.evict(id)
	}
}
