package pow

import (
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/yourusername/ledger/internal/crypto"
	"github.com/yourusername/ledger/pkg/types"
)

var targetPrefix = strings.Repeat("0", types.Difficulty)

// ProofOfWork searches for a nonce that seals a block
type ProofOfWork struct {
	Block *types.Block
}

// NewProofOfWork creates a new PoW instance for a block
func NewProofOfWork(block *types.Block) *ProofOfWork {
	return &ProofOfWork{Block: block}
}

// Mine increments the block's nonce from zero until its hash satisfies the
// difficulty, then stores the winning hash on the block. There is no upper
// bound on the number of attempts.
func (pow *ProofOfWork) Mine() error {
	pow.Block.Nonce = 0
	for {
		hash, err := crypto.HashBlock(pow.Block)
		if err != nil {
			return err
		}
		if IsValidHash(hash) {
			pow.Block.Hash = hash
			return nil
		}
		pow.Block.Nonce++
	}
}

// Validate checks that the block's stored hash matches its fields and
// satisfies the difficulty.
func (pow *ProofOfWork) Validate() bool {
	hash, err := crypto.HashBlock(pow.Block)
	if err != nil {
		return false
	}
	return hash == pow.Block.Hash && IsValidHash(hash)
}

// IsValidHash reports whether the first Difficulty characters of a hex hash
// are all '0'.
func IsValidHash(hash string) bool {
	return strings.HasPrefix(hash, targetPrefix)
}

// Seal builds a block for payload on top of prevHash and mines it. The
// timestamp is read from clk once, before mining starts.
func Seal(clk clock.Clock, payload, prevHash string, height uint64) (*types.Block, error) {
	timestamp, err := timestampMillis(clk)
	if err != nil {
		return nil, err
	}

	block := &types.Block{
		Timestamp: timestamp,
		Payload:   payload,
		PrevHash:  prevHash,
		Height:    height,
	}
	if err := NewProofOfWork(block).Mine(); err != nil {
		return nil, err
	}

	return block, nil
}

// Genesis seals the first block of a chain
func Genesis(clk clock.Clock) (*types.Block, error) {
	return Seal(clk, types.GenesisPayload, "", 0)
}

// Verify reports whether block carries a valid proof-of-work for its own
// fields.
func Verify(block *types.Block) bool {
	return NewProofOfWork(block).Validate()
}

func timestampMillis(clk clock.Clock) (uint64, error) {
	if clk == nil {
		return 0, fmt.Errorf("%w: no clock configured", types.ErrClock)
	}
	now := clk.Now()
	if now.Before(time.Unix(0, 0)) {
		return 0, fmt.Errorf("%w: %s is before the Unix epoch", types.ErrClock, now)
	}
	return uint64(now.UnixMilli()), nil
}
