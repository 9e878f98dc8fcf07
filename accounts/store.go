package accounts

import (
	"context"
	"encoding/hex"
	"encoding/json"

	"github.com/BlockscapeNetwork/nomic/btcpeg"
	"github.com/BlockscapeNetwork/nomic/errors"
	"github.com/BlockscapeNetwork/nomic/store"
)

const keyPrefix = "acct/"

// Store persists accounts under the shared store.KV capability,
// optionally fronted by an in-memory Ledger cache — the same
// cache-in-front-of-store shape spv.Cache uses for header lookups.
// The cache must only ever be attached to a persistent (deliver_tx)
// store handle: sharing it with a check_tx scratch overlay would leak
// speculative writes across calls once the overlay is discarded.
type Store struct {
	kv    store.KV
	cache *Ledger
}

// NewStore wraps kv. Pass a non-nil cache only for long-lived,
// persistent store handles.
func NewStore(kv store.KV, cache *Ledger) *Store {
	return &Store{kv: kv, cache: cache}
}

func acctKey(address btcpeg.Address) []byte {
	return []byte(keyPrefix + hex.EncodeToString(address[:]))
}

// Get loads the account at address, or found=false if none exists.
func (s *Store) Get(ctx context.Context, address btcpeg.Address) (Account, bool, error) {
	if s.cache != nil {
		if acct, ok := s.cache.Get(address); ok {
			return acct, true, nil
		}
	}

	raw, ok, err := s.kv.Get(ctx, acctKey(address))
	if err != nil {
		return Account{}, false, errors.New(errors.ERR_STORE, "accounts: get", err)
	}
	if !ok {
		return Account{}, false, nil
	}

	var acct Account
	if err := json.Unmarshal(raw, &acct); err != nil {
		return Account{}, false, errors.New(errors.ERR_DESERIALIZATION, "accounts: decode", err)
	}
	if s.cache != nil {
		s.cache.Insert(address, acct)
	}
	return acct, true, nil
}

// Put writes (creates or replaces) the account at address.
func (s *Store) Put(ctx context.Context, address btcpeg.Address, acct Account) error {
	raw, err := json.Marshal(acct)
	if err != nil {
		return errors.New(errors.ERR_DESERIALIZATION, "accounts: encode", err)
	}
	if err := s.kv.Put(ctx, acctKey(address), raw); err != nil {
		return errors.New(errors.ERR_STORE, "accounts: put", err)
	}
	if s.cache != nil {
		s.cache.Insert(address, acct)
	}
	return nil
}

// Credit adds amount to address's balance, creating the account at
// zero balance/nonce first if it doesn't yet exist, and persists it.
func (s *Store) Credit(ctx context.Context, address btcpeg.Address, amount uint64) (Account, error) {
	acct, _, err := s.Get(ctx, address)
	if err != nil {
		return Account{}, err
	}
	acct.Balance += amount
	if err := s.Put(ctx, address, acct); err != nil {
		return Account{}, err
	}
	return acct, nil
}
