//go:build aerospike

// Package aerokv is an Aerospike-backed KV: one bin per key under a
// fixed namespace/set, behind a build tag that keeps the aerospike
// client out of default builds.
package aerokv

import (
	"context"
	"fmt"
	"sort"

	as "github.com/aerospike/aerospike-client-go/v7"

	"github.com/BlockscapeNetwork/nomic/store"
)

const binName = "v"

// Store is an Aerospike-backed KV under a fixed namespace/set pair.
type Store struct {
	client    *as.Client
	namespace string
	set       string
}

var _ store.KV = (*Store)(nil)

// New dials host:port and returns a Store scoped to namespace/set.
func New(host string, port int, namespace, set string) (*Store, error) {
	client, err := as.NewClient(host, port)
	if err != nil {
		return nil, fmt.Errorf("aerokv: dial %s:%d: %w", host, port, err)
	}
	return &Store{client: client, namespace: namespace, set: set}, nil
}

func (s *Store) key(k []byte) (*as.Key, error) {
	return as.NewKey(s.namespace, s.set, string(k))
}

func (s *Store) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	k, err := s.key(key)
	if err != nil {
		return nil, false, err
	}

	record, err := s.client.Get(nil, k)
	if err != nil {
		if err == as.ErrKeyNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}

	raw, ok := record.Bins[binName].([]byte)
	if !ok {
		return nil, false, nil
	}
	return raw, true, nil
}

func (s *Store) Put(_ context.Context, key, value []byte) error {
	k, err := s.key(key)
	if err != nil {
		return err
	}
	bin := as.NewBin(binName, value)
	return s.client.PutBins(nil, k, bin)
}

func (s *Store) Delete(_ context.Context, key []byte) error {
	k, err := s.key(key)
	if err != nil {
		return err
	}
	_, err = s.client.Delete(nil, k)
	return err
}

// Iterate scans the whole set and filters client-side by prefix;
// Aerospike has no ordered-key range scan, so results are collected
// and sorted before the callback runs.
func (s *Store) Iterate(_ context.Context, prefix []byte, fn func(key, value []byte) (bool, error)) error {
	stmt := as.NewStatement(s.namespace, s.set)
	recordset, err := s.client.Query(nil, stmt)
	if err != nil {
		return err
	}
	defer recordset.Close()

	matched := map[string][]byte{}
	for res := range recordset.Results() {
		if res.Err != nil {
			return res.Err
		}
		keyStr, ok := res.Record.Key.Value().(string)
		if !ok {
			continue
		}
		if len(keyStr) < len(prefix) || keyStr[:len(prefix)] != string(prefix) {
			continue
		}
		raw, _ := res.Record.Bins[binName].([]byte)
		matched[keyStr] = raw
	}

	keys := make([]string, 0, len(matched))
	for k := range matched {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		cont, err := fn([]byte(k), matched[k])
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}
