package blockchain

import (
	"errors"
	"iter"

	"go.uber.org/zap"

	"github.com/yourusername/ledger/internal/storage"
	"github.com/yourusername/ledger/pkg/types"
)

// Iterator walks the chain backwards from the tip it was created at to the
// genesis block. It is not safe for concurrent use, but any number of
// iterators may run alongside each other and alongside AddBlock.
type Iterator struct {
	bc   *Blockchain
	next string
	done bool
	err  error
}

// Iterator returns a new cursor positioned at the current tip
func (bc *Blockchain) Iterator() *Iterator {
	return &Iterator{bc: bc, next: bc.TipHash()}
}

// Next returns the next block towards genesis. It returns false once the
// genesis block has been returned, when the next block is missing from the
// store, or when reading it failed (see Err).
func (it *Iterator) Next() (*types.Block, bool) {
	if it.done {
		return nil, false
	}

	block, err := it.bc.GetBlock(it.next)
	if err != nil {
		it.done = true
		if errors.Is(err, storage.ErrNotFound) {
			it.bc.logger.Debug("iteration stopped at missing block", zap.String("hash", it.next))
		} else {
			it.err = err
		}
		return nil, false
	}

	if block.IsGenesis() {
		it.done = true
	} else {
		it.next = block.PrevHash
	}
	return block, true
}

// Err returns the error that ended the iteration early, if any. A missing
// block is not an error.
func (it *Iterator) Err() error {
	return it.err
}

// Blocks returns a sequence over the chain from the tip to genesis. Every
// range over the sequence starts a fresh Iterator.
func (bc *Blockchain) Blocks() iter.Seq[*types.Block] {
	return func(yield func(*types.Block) bool) {
		it := bc.Iterator()
		for {
			block, ok := it.Next()
			if !ok || !yield(block) {
				return
			}
		}
	}
}
