package mempool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/TuyenPKT/EGG-Project/pkg/core/consensus"
	"github.com/TuyenPKT/EGG-Project/pkg/core/types"
)

const (
	// DefaultMaxTxs bounds the number of pooled transactions.
	DefaultMaxTxs = 100_000
	// DefaultMaxTotalBytes bounds the total pooled payload size.
	DefaultMaxTotalBytes = 64 * 1024 * 1024
)

var (
	ErrFull = errors.New("mempool full")
)

// InvalidTxIDError reports a transaction whose id does not match its payload.
type InvalidTxIDError struct {
	Expected types.Hash256
	Got      types.Hash256
}

func (e *InvalidTxIDError) Error() string {
	return fmt.Sprintf("invalid tx id: expected %s, got %s", e.Expected, e.Got)
}

// TxTooLargeError reports a payload exceeding the pool's byte cap.
type TxTooLargeError struct{ Size int }

func (e *TxTooLargeError) Error() string { return fmt.Sprintf("tx payload too large: %d bytes", e.Size) }

// AddOutcome classifies the result of adding a transaction.
type AddOutcome int

const (
	Added AddOutcome = iota
	AlreadyKnown
)

// Mempool is a FIFO transaction pool deduplicated by payload hash.
type Mempool struct {
	mu                sync.Mutex
	byID              map[types.Hash256]types.Transaction
	order             []types.Hash256
	totalPayloadBytes int
}

// New creates an empty mempool.
func New() *Mempool {
	return &Mempool{byID: make(map[types.Hash256]types.Transaction)}
}

// Len returns the number of pooled transactions.
func (mp *Mempool) Len() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return len(mp.byID)
}

// TotalPayloadBytes returns the pooled payload size.
func (mp *Mempool) TotalPayloadBytes() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.totalPayloadBytes
}

// Contains reports whether the pool holds txid.
func (mp *Mempool) Contains(txid types.Hash256) bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	_, ok := mp.byID[txid]
	return ok
}

// Get returns the pooled transaction for txid, if present.
func (mp *Mempool) Get(txid types.Hash256) (types.Transaction, bool) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	tx, ok := mp.byID[txid]
	return tx, ok
}

// Add validates and pools a transaction. A tx whose id is already pooled is
// a no-op reported as AlreadyKnown.
func (mp *Mempool) Add(tx types.Transaction) (AddOutcome, error) {
	expected := consensus.TxIDFromPayload(tx.Payload)
	if tx.ID != expected {
		return 0, &InvalidTxIDError{Expected: expected, Got: tx.ID}
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, ok := mp.byID[tx.ID]; ok {
		return AlreadyKnown, nil
	}
	if len(tx.Payload) > DefaultMaxTotalBytes {
		return 0, &TxTooLargeError{Size: len(tx.Payload)}
	}
	if len(mp.byID) >= DefaultMaxTxs {
		return 0, ErrFull
	}
	if mp.totalPayloadBytes+len(tx.Payload) > DefaultMaxTotalBytes {
		return 0, ErrFull
	}

	mp.totalPayloadBytes += len(tx.Payload)
	mp.order = append(mp.order, tx.ID)
	mp.byID[tx.ID] = tx
	return Added, nil
}

// Remove drops txid from the pool, returning the removed tx if present.
func (mp *Mempool) Remove(txid types.Hash256) (types.Transaction, bool) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	tx, ok := mp.byID[txid]
	if !ok {
		return types.Transaction{}, false
	}
	delete(mp.byID, txid)
	mp.totalPayloadBytes -= len(tx.Payload)
	// order keeps the stale id; DrainFIFO skips removed entries.
	return tx, true
}

// DrainFIFO removes and returns up to max transactions in arrival order.
func (mp *Mempool) DrainFIFO(max int) []types.Transaction {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	var out []types.Transaction
	for len(out) < max && len(mp.order) > 0 {
		txid := mp.order[0]
		mp.order = mp.order[1:]
		tx, ok := mp.byID[txid]
		if !ok {
			continue
		}
		delete(mp.byID, txid)
		mp.totalPayloadBytes -= len(tx.Payload)
		out = append(out, tx)
	}
	return out
}
