package types

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

const (
	// Difficulty is the number of leading hex characters of a block hash
	// that must be '0'. It is fixed for every block in the chain.
	Difficulty = 4

	// GenesisPayload is the data stored in the genesis block
	GenesisPayload = "Genesis Block"
)

var (
	// ErrClock is returned when the system clock cannot produce a usable
	// block timestamp.
	ErrClock = errors.New("clock unavailable")

	// ErrEncoding is returned when a block cannot be serialized.
	ErrEncoding = errors.New("encoding failed")
)

// Block is one sealed entry of the ledger. A block is never modified after
// it has been sealed.
type Block struct {
	Timestamp uint64 // Milliseconds since the Unix epoch
	Payload   string // Opaque caller data
	PrevHash  string // Hash of the predecessor, empty for genesis
	Hash      string // Lowercase hex SHA-256 of the canonical bytes
	Height    uint64 // Genesis is 0
	Nonce     int64  // Proof-of-work counter
}

// IsGenesis reports whether b is the first block of a chain.
func (b *Block) IsGenesis() bool {
	return b.PrevHash == ""
}

// CanonicalBytes returns the bytes that are hashed to seal a block.
//
// Layout (little endian):
//
//	u64 len(prevHash) | prevHash | u64 len(payload) | payload |
//	u128 timestamp | u64 difficulty | i64 nonce
//
// The nonce takes 8 bytes rather than 4 so the unbounded nonce search in
// package pow cannot wrap. Hashes are therefore not byte-compatible with
// chains that frame the nonce as a 32-bit integer.
func CanonicalBytes(prevHash, payload string, timestamp uint64, difficulty uint64, nonce int64) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(8 + len(prevHash) + 8 + len(payload) + 16 + 8 + 8)

	fields := []interface{}{
		uint64(len(prevHash)), []byte(prevHash),
		uint64(len(payload)), []byte(payload),
		// u128, low word first
		timestamp, uint64(0),
		difficulty,
		nonce,
	}
	for _, field := range fields {
		if err := binary.Write(&buf, binary.LittleEndian, field); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
		}
	}

	return buf.Bytes(), nil
}

// HashData returns the canonical bytes of the block's own fields.
func (b *Block) HashData() ([]byte, error) {
	return CanonicalBytes(b.PrevHash, b.Payload, b.Timestamp, Difficulty, b.Nonce)
}

// storedBlock is the persisted form of a Block.
type storedBlock struct {
	Timestamp uint64
	Payload   string
	PrevHash  string
	Hash      string
	Height    uint64
	Nonce     uint64
}

// EncodeBlock serializes a block for storage
func EncodeBlock(b *Block) ([]byte, error) {
	if b.Nonce < 0 {
		return nil, fmt.Errorf("%w: negative nonce %d", ErrEncoding, b.Nonce)
	}

	data, err := rlp.EncodeToBytes(&storedBlock{
		Timestamp: b.Timestamp,
		Payload:   b.Payload,
		PrevHash:  b.PrevHash,
		Hash:      b.Hash,
		Height:    b.Height,
		Nonce:     uint64(b.Nonce),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	return data, nil
}

// DecodeBlock deserializes a block written by EncodeBlock
func DecodeBlock(data []byte) (*Block, error) {
	var sb storedBlock
	if err := rlp.DecodeBytes(data, &sb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	return &Block{
		Timestamp: sb.Timestamp,
		Payload:   sb.Payload,
		PrevHash:  sb.PrevHash,
		Hash:      sb.Hash,
		Height:    sb.Height,
		Nonce:     int64(sb.Nonce),
	}, nil
}
