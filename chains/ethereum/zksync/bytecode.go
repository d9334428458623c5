package zksync

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

const (
	bytecodeWordSize = 32
	bytecodeVersion  = 1
	maxBytecodeWords = 1<<16 - 1
)

var ErrInvalidBytecode = errors.New("invalid factory dependency bytecode")

// HashBytecode returns the versioned hash zkSync uses to commit to a factory
// dependency: sha256(code) with byte 0 set to the version, byte 1 zeroed and
// bytes 2..3 holding the length in 32-byte words.
func HashBytecode(code []byte) (common.Hash, error) {
	if len(code) == 0 || len(code)%bytecodeWordSize != 0 {
		return common.Hash{}, fmt.Errorf("%w: length %d is not a positive multiple of %d",
			ErrInvalidBytecode, len(code), bytecodeWordSize)
	}
	words := len(code) / bytecodeWordSize
	if words > maxBytecodeWords {
		return common.Hash{}, fmt.Errorf("%w: %d words exceeds %d", ErrInvalidBytecode, words, maxBytecodeWords)
	}
	if words%2 == 0 {
		return common.Hash{}, fmt.Errorf("%w: word count %d must be odd", ErrInvalidBytecode, words)
	}

	h := common.Hash(sha256.Sum256(code))
	h[0] = bytecodeVersion
	h[1] = 0
	binary.BigEndian.PutUint16(h[2:4], uint16(words))
	return h, nil
}
