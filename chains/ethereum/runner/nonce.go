package runner

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NonceLocker serialises nonce use per account. A holder keeps the lock from
// reading the latest-block nonce until the transaction using it is broadcast,
// so two flows sharing an account never build with the same nonce.
type NonceLocker struct {
	locks sync.Map // common.Address -> *sync.Mutex
}

func NewNonceLocker() *NonceLocker {
	return &NonceLocker{}
}

// Lock blocks until addr is free and returns the matching unlock func.
func (l *NonceLocker) Lock(addr common.Address) func() {
	v, _ := l.locks.LoadOrStore(addr, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
