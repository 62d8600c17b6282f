package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/yourusername/ledger/pkg/types"
)

// HashBytes returns SHA-256 hash of the input data
func HashBytes(data []byte) []byte {
	hash := sha256.Sum256(data)
	return hash[:]
}

// HashHex returns the SHA-256 hash of data rendered as lowercase hex
func HashHex(data []byte) string {
	return hex.EncodeToString(HashBytes(data))
}

// HashBlock computes the hash of a block from its own fields
func HashBlock(block *types.Block) (string, error) {
	data, err := block.HashData()
	if err != nil {
		return "", err
	}
	return HashHex(data), nil
}
