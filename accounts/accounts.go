// Package accounts is the token-balance ledger: an address keyed map
// of {balance, nonce}, credited by deposits and debited by
// withdrawals.
package accounts

import (
	"sync"

	"github.com/dolthub/swiss"

	"github.com/BlockscapeNetwork/nomic/btcpeg"
)

// Account is a ledger entry. Created lazily on first credit, never
// deleted; Nonce only ever increases.
type Account struct {
	Balance uint64
	Nonce   uint64
}

// Ledger is the address→Account map, backed by a swiss-table hash map
// in place of the builtin map.
type Ledger struct {
	mu sync.RWMutex
	m  *swiss.Map[btcpeg.Address, Account]
}

// New returns an empty ledger sized for an expected number of accounts.
func New(sizeHint uint32) *Ledger {
	return &Ledger{m: swiss.NewMap[btcpeg.Address, Account](sizeHint)}
}

// Get returns the account at address, or found=false if none exists.
func (l *Ledger) Get(address btcpeg.Address) (Account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.m.Get(address)
}

// Insert writes (creates or replaces) the account at address.
func (l *Ledger) Insert(address btcpeg.Address, account Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.m.Put(address, account)
}

// Credit adds amount to address's balance, creating the account at
// zero balance/nonce first if it doesn't yet exist.
func (l *Ledger) Credit(address btcpeg.Address, amount uint64) Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, _ := l.m.Get(address)
	acct.Balance += amount
	l.m.Put(address, acct)
	return acct
}

// Len returns the number of accounts in the ledger.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.m.Count()
}
