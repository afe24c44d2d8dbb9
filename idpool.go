package tapez

import (
	"sync/atomic"
)

// IDPool hands out tape-local identifiers. IDs are unique for the pool's
// lifetime and start at 1; zero means "none" on the wire.
//
// Threads reserve whole blocks so that opening spans on a thread does not
// touch the shared counter.
type IDPool struct {
	next      atomic.Uint64
	blockSize uint64
}

// NewIDPool creates a pool that reserves blockSize IDs per block.
func NewIDPool(blockSize uint64) *IDPool {
	if blockSize == 0 {
		blockSize = 1
	}
	return &IDPool{blockSize: blockSize}
}

// Get reserves a single ID.
func (p *IDPool) Get() uint64 {
	return p.next.Add(1)
}

// Block reserves a contiguous block of IDs.
func (p *IDPool) Block() IDBlock {
	end := p.next.Add(p.blockSize)
	return IDBlock{next: end - p.blockSize + 1, end: end + 1}
}

// IDBlock is a reserved range of IDs. Not safe for concurrent use.
type IDBlock struct {
	next uint64
	end  uint64
}

// Next returns the next ID in the block, or false once it is exhausted.
func (b *IDBlock) Next() (uint64, bool) {
	if b.next >= b.end {
		return 0, false
	}
	id := b.next
	b.next++
	return id, true
}
