package blockchain

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/yourusername/ledger/internal/pow"
	"github.com/yourusername/ledger/internal/storage"
	"github.com/yourusername/ledger/pkg/types"
)

// ErrCorrupted is returned when the stored chain contradicts itself, for
// example a tip pointing at a missing block.
var ErrCorrupted = errors.New("chain corrupted")

// Blockchain is a persistent chain of sealed blocks. The store is the
// single source of truth: the tip is re-read from it on every append.
type Blockchain struct {
	store  storage.Store
	opts   Options
	logger *zap.Logger
	cache  *lru.Cache

	// serializes AddBlock
	mu sync.Mutex

	tipMu sync.RWMutex
	tip   string
}

// Open loads the chain held in store, creating and persisting a genesis
// block when the store is empty. The caller keeps ownership of store and
// must close it after the Blockchain is no longer used.
func Open(store storage.Store, opts Options) (*Blockchain, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	bc := &Blockchain{
		store:  store,
		opts:   opts,
		logger: opts.Logger,
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New(opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create block cache: %w", err)
		}
		bc.cache = cache
	}

	tip, err := store.Get([]byte(storage.TipKey))
	switch {
	case err == nil:
		bc.tip = string(tip)
		bc.logger.Info("loaded existing chain", zap.String("tip", bc.tip))
		return bc, nil
	case errors.Is(err, storage.ErrNotFound):
		// fresh store
	default:
		return nil, fmt.Errorf("failed to read chain tip: %w", err)
	}

	genesis, err := pow.Genesis(opts.Clock)
	if err != nil {
		return nil, fmt.Errorf("failed to seal genesis block: %w", err)
	}
	data, err := bc.persist(genesis)
	if err != nil {
		return nil, fmt.Errorf("failed to save genesis block: %w", err)
	}
	bc.setTip(genesis, data)

	bc.logger.Info("created new chain",
		zap.String("genesis", genesis.Hash),
		zap.Int64("nonce", genesis.Nonce))

	return bc, nil
}

// AddBlock seals payload into a new block on top of the current tip and
// returns the new block's hash.
func (bc *Blockchain) AddBlock(payload string) (string, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	tipHash, err := bc.store.Get([]byte(storage.TipKey))
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: chain tip missing", ErrCorrupted)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read chain tip: %w", err)
	}

	prev, err := bc.GetBlock(string(tipHash))
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: tip block %s missing", ErrCorrupted, tipHash)
	}
	if err != nil {
		return "", err
	}

	block, err := pow.Seal(bc.opts.Clock, payload, prev.Hash, prev.Height+1)
	if err != nil {
		return "", fmt.Errorf("failed to seal block: %w", err)
	}
	data, err := bc.persist(block)
	if err != nil {
		return "", fmt.Errorf("failed to save block: %w", err)
	}
	bc.setTip(block, data)

	bc.logger.Info("appended block",
		zap.String("hash", block.Hash),
		zap.Uint64("height", block.Height),
		zap.Int64("nonce", block.Nonce))

	return block.Hash, nil
}

// persist writes the block under its hash, then points the tip at it and
// flushes. The block is staged before the tip, so a tip is never durable
// without its block. It returns the encoded block.
func (bc *Blockchain) persist(block *types.Block) ([]byte, error) {
	data, err := types.EncodeBlock(block)
	if err != nil {
		return nil, err
	}
	if err := bc.store.Set([]byte(block.Hash), data); err != nil {
		return nil, err
	}
	if err := bc.store.Set([]byte(storage.TipKey), []byte(block.Hash)); err != nil {
		return nil, err
	}
	if err := bc.store.Flush(); err != nil {
		return nil, err
	}
	return data, nil
}

func (bc *Blockchain) setTip(block *types.Block, data []byte) {
	bc.cacheBlock(block, data)

	bc.tipMu.Lock()
	bc.tip = block.Hash
	bc.tipMu.Unlock()
}

// TipHash returns the hash of the most recently appended block
func (bc *Blockchain) TipHash() string {
	bc.tipMu.RLock()
	defer bc.tipMu.RUnlock()

	return bc.tip
}

// Height returns the height of the tip block
func (bc *Blockchain) Height() (uint64, error) {
	tip := bc.TipHash()
	block, err := bc.GetBlock(tip)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("%w: tip block %s missing", ErrCorrupted, tip)
	}
	if err != nil {
		return 0, err
	}
	return block.Height, nil
}

// cachedBlock is a decoded block together with the bytes it was decoded from
type cachedBlock struct {
	data  []byte
	block types.Block
}

// GetBlock looks a block up by hash. It returns storage.ErrNotFound when the
// store has no such block. The store is read on every call; the cache only
// saves decoding when the stored bytes are unchanged.
func (bc *Blockchain) GetBlock(hash string) (*types.Block, error) {
	data, err := bc.store.Get([]byte(hash))
	if err != nil {
		return nil, err
	}

	if bc.cache != nil {
		if v, ok := bc.cache.Get(hash); ok {
			if cached := v.(*cachedBlock); bytes.Equal(cached.data, data) {
				block := cached.block
				return &block, nil
			}
		}
	}

	block, err := types.DecodeBlock(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode block %s: %w", hash, err)
	}
	if block.Hash != hash {
		return nil, fmt.Errorf("%w: block stored under %s has hash %s", ErrCorrupted, hash, block.Hash)
	}

	bc.cacheBlock(block, data)
	return block, nil
}

func (bc *Blockchain) cacheBlock(block *types.Block, data []byte) {
	if bc.cache == nil {
		return
	}
	bc.cache.Add(block.Hash, &cachedBlock{
		data:  append([]byte(nil), data...),
		block: *block,
	})
}

// ValidateChain walks the chain from the tip and checks every block's
// proof-of-work, its link to the next block and the height sequence. It
// returns the first inconsistency found.
func (bc *Blockchain) ValidateChain() error {
	hash := bc.TipHash()
	var child *types.Block

	for {
		block, err := bc.GetBlock(hash)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: block %s missing", ErrCorrupted, hash)
		}
		if err != nil {
			return err
		}

		if !pow.Verify(block) {
			return fmt.Errorf("%w: invalid proof-of-work at height %d", ErrCorrupted, block.Height)
		}
		if child != nil && child.Height != block.Height+1 {
			return fmt.Errorf("%w: height %d follows height %d", ErrCorrupted, child.Height, block.Height)
		}

		if block.IsGenesis() {
			if block.Height != 0 {
				return fmt.Errorf("%w: genesis at height %d", ErrCorrupted, block.Height)
			}
			return nil
		}
		if block.Height == 0 {
			return fmt.Errorf("%w: non-genesis block %s at height 0", ErrCorrupted, block.Hash)
		}

		child = block
		hash = block.PrevHash
	}
}
