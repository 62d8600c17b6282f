package blockchain

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yourusername/ledger/internal/pow"
	"github.com/yourusername/ledger/internal/storage"
	"github.com/yourusername/ledger/pkg/types"
)

func testOptions(t *testing.T) Options {
	return DefaultOptions().WithLogger(zaptest.NewLogger(t))
}

// Helper function to create a test blockchain on an in-memory store
func setupTestBlockchain(t *testing.T, opts Options) (*Blockchain, *storage.Memory) {
	store := storage.NewMemory()
	bc, err := Open(store, opts)
	require.NoError(t, err)
	return bc, store
}

func collect(t *testing.T, bc *Blockchain) []*types.Block {
	var blocks []*types.Block
	it := bc.Iterator()
	for {
		block, ok := it.Next()
		if !ok {
			break
		}
		blocks = append(blocks, block)
	}
	require.NoError(t, it.Err())
	return blocks
}

func requireWellFormed(t *testing.T, blocks []*types.Block) {
	require.NotEmpty(t, blocks)
	tip := blocks[0].Height
	require.Len(t, blocks, int(tip)+1)

	for i, block := range blocks {
		assert.Equal(t, tip-uint64(i), block.Height)
		assert.True(t, pow.Verify(block), "block at height %d does not verify", block.Height)
		if i+1 < len(blocks) {
			assert.Equal(t, blocks[i+1].Hash, block.PrevHash)
		}
	}
	assert.Equal(t, "", blocks[len(blocks)-1].PrevHash)
}

func TestOpen_FreshStore(t *testing.T) {
	bc, store := setupTestBlockchain(t, testOptions(t))

	blocks := collect(t, bc)
	require.Len(t, blocks, 1)

	genesis := blocks[0]
	assert.Equal(t, "", genesis.PrevHash)
	assert.Equal(t, uint64(0), genesis.Height)
	assert.Equal(t, types.GenesisPayload, genesis.Payload)
	assert.Equal(t, genesis.Hash, bc.TipHash())
	assert.True(t, pow.Verify(genesis))

	tip, err := store.Get([]byte(storage.TipKey))
	require.NoError(t, err)
	assert.Equal(t, genesis.Hash, string(tip))
	assert.Equal(t, 2, store.Len())
}

func TestAddBlock_Scenario(t *testing.T) {
	bc, _ := setupTestBlockchain(t, testOptions(t))
	genesisHash := bc.TipHash()

	hashA, err := bc.AddBlock("A")
	require.NoError(t, err)
	assert.Equal(t, hashA, bc.TipHash())

	blocks := collect(t, bc)
	require.Len(t, blocks, 2)
	assert.Equal(t, genesisHash, blocks[0].PrevHash)
	assert.Equal(t, uint64(1), blocks[0].Height)
	assert.Equal(t, "A", blocks[0].Payload)

	hashB, err := bc.AddBlock("B")
	require.NoError(t, err)

	blocks = collect(t, bc)
	require.Len(t, blocks, 3)
	assert.Equal(t, hashB, blocks[0].Hash)
	assert.Equal(t, []uint64{2, 1, 0}, []uint64{blocks[0].Height, blocks[1].Height, blocks[2].Height})
	assert.Equal(t, []string{"B", "A", types.GenesisPayload},
		[]string{blocks[0].Payload, blocks[1].Payload, blocks[2].Payload})
	requireWellFormed(t, blocks)

	height, err := bc.Height()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), height)
}

func TestAddBlock_EmptyPayload(t *testing.T) {
	bc, _ := setupTestBlockchain(t, testOptions(t))

	hash, err := bc.AddBlock("")
	require.NoError(t, err)

	block, err := bc.GetBlock(hash)
	require.NoError(t, err)
	assert.Equal(t, "", block.Payload)
	assert.True(t, pow.Verify(block))
}

func TestAddMultipleBlocks(t *testing.T) {
	bc, _ := setupTestBlockchain(t, testOptions(t))

	for i := 0; i < 5; i++ {
		_, err := bc.AddBlock(fmt.Sprintf("block %d", i))
		require.NoError(t, err)
	}

	blocks := collect(t, bc)
	require.Len(t, blocks, 6)
	requireWellFormed(t, blocks)
	assert.NoError(t, bc.ValidateChain())
}

func TestOpen_ExistingStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocks")

	store, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	bc, err := Open(store, testOptions(t))
	require.NoError(t, err)
	genesisHash := bc.TipHash()
	tipHash, err := bc.AddBlock("persisted")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	for i := 0; i < 2; i++ {
		store, err := storage.NewLevelDB(path)
		require.NoError(t, err)

		reopened, err := Open(store, testOptions(t))
		require.NoError(t, err)
		assert.Equal(t, tipHash, reopened.TipHash())

		blocks := collect(t, reopened)
		require.Len(t, blocks, 2)
		assert.Equal(t, genesisHash, blocks[1].Hash)
		assert.Equal(t, "persisted", blocks[0].Payload)

		require.NoError(t, store.Close())
	}
}

func TestOpen_ResumesAppending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocks")

	store, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	bc, err := Open(store, testOptions(t))
	require.NoError(t, err)
	_, err = bc.AddBlock("first run")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = storage.NewLevelDB(path)
	require.NoError(t, err)
	defer store.Close()
	bc, err = Open(store, testOptions(t))
	require.NoError(t, err)
	_, err = bc.AddBlock("second run")
	require.NoError(t, err)

	blocks := collect(t, bc)
	require.Len(t, blocks, 3)
	requireWellFormed(t, blocks)
	assert.Equal(t, "second run", blocks[0].Payload)
}

func TestOpen_ClockError(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Unix(-1, 0))

	store := storage.NewMemory()
	_, err := Open(store, testOptions(t).WithClock(clk))
	assert.True(t, errors.Is(err, types.ErrClock))
	assert.Equal(t, 0, store.Len())
}

func TestIterator_StopsAtMissingBlock(t *testing.T) {
	bc, store := setupTestBlockchain(t, testOptions(t))

	hashA, err := bc.AddBlock("A")
	require.NoError(t, err)
	hashB, err := bc.AddBlock("B")
	require.NoError(t, err)
	hashC, err := bc.AddBlock("C")
	require.NoError(t, err)

	require.NoError(t, store.Delete([]byte(hashA)))

	it := bc.Iterator()
	var visited []string
	for {
		block, ok := it.Next()
		if !ok {
			break
		}
		visited = append(visited, block.Hash)
	}

	assert.NoError(t, it.Err())
	assert.Equal(t, []string{hashC, hashB}, visited)

	_, ok := it.Next()
	assert.False(t, ok)

	assert.True(t, errors.Is(bc.ValidateChain(), ErrCorrupted))
}

func TestBlocks_WarmCacheSeesDeletedBlock(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{name: "Default cache", opts: DefaultOptions()},
		{name: "No cache", opts: DefaultOptions().WithCacheSize(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bc, store := setupTestBlockchain(t, tt.opts.WithLogger(zaptest.NewLogger(t)))

			hashA, err := bc.AddBlock("A")
			require.NoError(t, err)
			hashB, err := bc.AddBlock("B")
			require.NoError(t, err)
			hashC, err := bc.AddBlock("C")
			require.NoError(t, err)

			// every block is read once so the cache holds all of them
			require.Len(t, collect(t, bc), 4)
			require.NoError(t, bc.ValidateChain())

			require.NoError(t, store.Delete([]byte(hashA)))

			var visited []string
			for block := range bc.Blocks() {
				visited = append(visited, block.Hash)
			}
			assert.Equal(t, []string{hashC, hashB}, visited)

			_, err = bc.GetBlock(hashA)
			assert.True(t, errors.Is(err, storage.ErrNotFound))
			assert.True(t, errors.Is(bc.ValidateChain(), ErrCorrupted))
		})
	}
}

func TestGetBlock_WarmCacheSeesRewrittenBlock(t *testing.T) {
	bc, store := setupTestBlockchain(t, testOptions(t))
	hashA, err := bc.AddBlock("A")
	require.NoError(t, err)

	block, err := bc.GetBlock(hashA)
	require.NoError(t, err)
	block.Payload = "forged"
	data, err := types.EncodeBlock(block)
	require.NoError(t, err)
	require.NoError(t, store.Set([]byte(hashA), data))

	again, err := bc.GetBlock(hashA)
	require.NoError(t, err)
	assert.Equal(t, "forged", again.Payload)
	assert.True(t, errors.Is(bc.ValidateChain(), ErrCorrupted))
}

func TestIterator_DecodeFailure(t *testing.T) {
	bc, store := setupTestBlockchain(t, testOptions(t))

	hashA, err := bc.AddBlock("A")
	require.NoError(t, err)
	_, err = bc.AddBlock("B")
	require.NoError(t, err)

	require.NoError(t, store.Set([]byte(hashA), []byte{0xff, 0x00}))

	it := bc.Iterator()
	count := 0
	for {
		if _, ok := it.Next(); !ok {
			break
		}
		count++
	}

	assert.Equal(t, 1, count)
	assert.True(t, errors.Is(it.Err(), types.ErrEncoding))
}

func TestIterator_Independent(t *testing.T) {
	bc, _ := setupTestBlockchain(t, testOptions(t))
	_, err := bc.AddBlock("A")
	require.NoError(t, err)

	first := bc.Iterator()
	second := bc.Iterator()

	a, ok := first.Next()
	require.True(t, ok)
	b, ok := second.Next()
	require.True(t, ok)
	assert.Equal(t, a.Hash, b.Hash)

	// an append after creation is not seen by existing cursors
	_, err = bc.AddBlock("B")
	require.NoError(t, err)

	a, ok = first.Next()
	require.True(t, ok)
	assert.Equal(t, uint64(0), a.Height)

	assert.Len(t, collect(t, bc), 3)
}

func TestBlocks_Seq(t *testing.T) {
	bc, _ := setupTestBlockchain(t, testOptions(t))
	_, err := bc.AddBlock("A")
	require.NoError(t, err)
	_, err = bc.AddBlock("B")
	require.NoError(t, err)

	var heights []uint64
	for block := range bc.Blocks() {
		heights = append(heights, block.Height)
	}
	assert.Equal(t, []uint64{2, 1, 0}, heights)

	// ranging again restarts from the tip
	for block := range bc.Blocks() {
		assert.Equal(t, uint64(2), block.Height)
		break
	}
}

func TestAddBlock_ReadsTipFromStore(t *testing.T) {
	store := storage.NewMemory()
	first, err := Open(store, testOptions(t))
	require.NoError(t, err)
	second, err := Open(store, testOptions(t))
	require.NoError(t, err)

	hashA, err := first.AddBlock("A")
	require.NoError(t, err)
	hashB, err := second.AddBlock("B")
	require.NoError(t, err)

	block, err := second.GetBlock(hashB)
	require.NoError(t, err)
	assert.Equal(t, hashA, block.PrevHash)
	assert.Equal(t, uint64(2), block.Height)
}

func TestAddBlock_Concurrent(t *testing.T) {
	bc, _ := setupTestBlockchain(t, testOptions(t))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 2; j++ {
				if _, err := bc.AddBlock(fmt.Sprintf("worker %d block %d", worker, j)); err != nil {
					errs <- err
				}
			}
		}(i)
	}

	// readers run alongside the writers
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range bc.Blocks() {
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	blocks := collect(t, bc)
	require.Len(t, blocks, 9)
	requireWellFormed(t, blocks)
}

func TestValidateChain_Tampered(t *testing.T) {
	bc, store := setupTestBlockchain(t, testOptions(t))
	hashA, err := bc.AddBlock("A")
	require.NoError(t, err)
	_, err = bc.AddBlock("B")
	require.NoError(t, err)
	require.NoError(t, bc.ValidateChain())

	block, err := bc.GetBlock(hashA)
	require.NoError(t, err)
	block.Payload = "forged"
	data, err := types.EncodeBlock(block)
	require.NoError(t, err)
	require.NoError(t, store.Set([]byte(hashA), data))

	assert.True(t, errors.Is(bc.ValidateChain(), ErrCorrupted))
}

func TestGetBlock_WrongKey(t *testing.T) {
	bc, store := setupTestBlockchain(t, testOptions(t))
	hashA, err := bc.AddBlock("A")
	require.NoError(t, err)

	data, err := store.Get([]byte(hashA))
	require.NoError(t, err)
	require.NoError(t, store.Set([]byte("0000elsewhere"), data))

	_, err = bc.GetBlock("0000elsewhere")
	assert.True(t, errors.Is(err, ErrCorrupted))
}

func TestGetBlock_ReturnsCopies(t *testing.T) {
	bc, _ := setupTestBlockchain(t, testOptions(t))
	hash, err := bc.AddBlock("A")
	require.NoError(t, err)

	block, err := bc.GetBlock(hash)
	require.NoError(t, err)
	block.Payload = "mutated"

	again, err := bc.GetBlock(hash)
	require.NoError(t, err)
	assert.Equal(t, "A", again.Payload)
}

func TestAddBlock_MissingTipBlock(t *testing.T) {
	bc, store := setupTestBlockchain(t, testOptions(t))
	require.NoError(t, store.Delete([]byte(bc.TipHash())))

	_, err := bc.AddBlock("A")
	assert.True(t, errors.Is(err, ErrCorrupted))
}

// faultyStore injects failures into Set for one key or into Flush
type faultyStore struct {
	*storage.Memory
	failSetKey string
	failFlush  bool
}

func (s *faultyStore) Set(key, value []byte) error {
	if s.failSetKey != "" && string(key) == s.failSetKey {
		return fmt.Errorf("%w: injected set failure", storage.ErrStore)
	}
	return s.Memory.Set(key, value)
}

func (s *faultyStore) Flush() error {
	if s.failFlush {
		return fmt.Errorf("%w: injected flush failure", storage.ErrStore)
	}
	return s.Memory.Flush()
}

func TestAddBlock_StoreFailures(t *testing.T) {
	t.Run("Tip write fails", func(t *testing.T) {
		store := &faultyStore{Memory: storage.NewMemory()}
		bc, err := Open(store, testOptions(t))
		require.NoError(t, err)
		genesis := bc.TipHash()
		keys := store.Len()

		store.failSetKey = storage.TipKey
		_, err = bc.AddBlock("orphan")
		assert.True(t, errors.Is(err, storage.ErrStore))

		// the block was written but is unreachable
		assert.Equal(t, keys+1, store.Len())
		assert.Equal(t, genesis, bc.TipHash())
		assert.Len(t, collect(t, bc), 1)

		// retrying is safe
		store.failSetKey = ""
		_, err = bc.AddBlock("retry")
		require.NoError(t, err)
		blocks := collect(t, bc)
		require.Len(t, blocks, 2)
		requireWellFormed(t, blocks)
	})

	t.Run("Flush fails", func(t *testing.T) {
		store := &faultyStore{Memory: storage.NewMemory()}
		bc, err := Open(store, testOptions(t))
		require.NoError(t, err)
		genesis := bc.TipHash()

		store.failFlush = true
		_, err = bc.AddBlock("unflushed")
		assert.True(t, errors.Is(err, storage.ErrStore))
		assert.Equal(t, genesis, bc.TipHash())
	})

	t.Run("Genesis write fails", func(t *testing.T) {
		store := &faultyStore{Memory: storage.NewMemory(), failFlush: true}
		_, err := Open(store, testOptions(t))
		assert.True(t, errors.Is(err, storage.ErrStore))
	})
}

func TestOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, DefaultCacheSize, opts.CacheSize)
	assert.NotNil(t, opts.Logger)
	assert.NotNil(t, opts.Clock)

	clk := clock.NewMock()
	opts = opts.WithCacheSize(0).WithClock(clk)
	assert.Equal(t, 0, opts.CacheSize)
	assert.Equal(t, clk, opts.Clock)
}
