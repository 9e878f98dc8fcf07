// Package store defines the narrow key/value capability threaded
// through every handler. The core is generic only over this
// capability, so check_tx can run against a scratch Overlay it
// discards while deliver_tx runs against an Overlay it commits to the
// persistent KV, with identical semantics either way.
package store

import "context"

// KV is the minimal capability every handler needs: get, put, delete,
// and a sorted-key walk (determinism requires all iteration to happen
// in sorted-key order).
type KV interface {
	Get(ctx context.Context, key []byte) ([]byte, bool, error)
	Put(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error
	// Iterate calls fn for every key with the given prefix, in
	// ascending byte order, until fn returns false or an error.
	Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) (bool, error)) error
}

// Overlay is a cache-write capability in front of a parent KV: reads
// fall through to the parent on miss, writes and deletes stay local
// until Commit is called. check_tx runs handlers against an Overlay
// and discards it; deliver_tx runs them against an Overlay and commits
// on success, giving every handler identical "stage then commit on Ok"
// semantics.
type Overlay struct {
	parent  KV
	writes  map[string][]byte
	deletes map[string]struct{}
}

// NewOverlay wraps parent in a fresh write buffer.
func NewOverlay(parent KV) *Overlay {
	return &Overlay{
		parent:  parent,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

func (o *Overlay) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	k := string(key)
	if _, deleted := o.deletes[k]; deleted {
		return nil, false, nil
	}
	if v, ok := o.writes[k]; ok {
		return v, true, nil
	}
	return o.parent.Get(ctx, key)
}

func (o *Overlay) Put(_ context.Context, key, value []byte) error {
	k := string(key)
	delete(o.deletes, k)
	buf := make([]byte, len(value))
	copy(buf, value)
	o.writes[k] = buf
	return nil
}

func (o *Overlay) Delete(_ context.Context, key []byte) error {
	k := string(key)
	delete(o.writes, k)
	o.deletes[k] = struct{}{}
	return nil
}

func (o *Overlay) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) (bool, error)) error {
	merged := map[string][]byte{}
	err := o.parent.Iterate(ctx, prefix, func(key, value []byte) (bool, error) {
		merged[string(key)] = value
		return true, nil
	})
	if err != nil {
		return err
	}
	for k, v := range o.writes {
		if len(k) >= len(prefix) && k[:len(prefix)] == string(prefix) {
			merged[k] = v
		}
	}
	for k := range o.deletes {
		delete(merged, k)
	}
	return iterateSorted(merged, fn)
}

// Commit flushes every staged write/delete to the parent KV. Nothing
// the overlay did is visible anywhere else until Commit runs, so a
// handler error before Commit leaves the parent untouched. Commit
// itself applies the staged changes one key at a time; if the parent
// fails partway, the changes applied before the failure remain.
func (o *Overlay) Commit(ctx context.Context) error {
	for k := range o.deletes {
		if err := o.parent.Delete(ctx, []byte(k)); err != nil {
			return err
		}
	}
	for k, v := range o.writes {
		if err := o.parent.Put(ctx, []byte(k), v); err != nil {
			return err
		}
	}
	return nil
}

// Discard drops every staged write/delete, used on check_tx's scratch
// path and on any handler failure.
func (o *Overlay) Discard() {
	o.writes = make(map[string][]byte)
	o.deletes = make(map[string]struct{})
}
