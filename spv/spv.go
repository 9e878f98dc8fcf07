// Package spv implements the append-only Bitcoin header chain the peg
// verifies deposits against: an SPV cache with a height index, pinned
// checkpoint bootstrapping, and proof-of-work-gated header append.
package spv

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/jellydator/ttlcache/v3"

	"github.com/BlockscapeNetwork/nomic/btcpeg"
	"github.com/BlockscapeNetwork/nomic/config"
	"github.com/BlockscapeNetwork/nomic/errors"
	"github.com/BlockscapeNetwork/nomic/store"
)

const (
	keyPrefixByHeight = "spv/h/" // spv/h/<8-byte height> -> serialized header
	keyPrefixHashIdx  = "spv/i/" // spv/i/<32-byte hash>  -> 8-byte height
	keyTip            = "spv/tip"
	keyRoot           = "spv/root"
)

// StoredHeader is a Bitcoin block header plus the height it was
// accepted at.
type StoredHeader struct {
	Header *wire.BlockHeader
	Height uint32
}

// Cache is the SPV header chain. It is long-lived (one per process,
// owned by the transaction handlers) and holds only the ttlcache
// fronting best-header lookups; the chain itself lives in the
// store.KV every method takes, which may be the persistent store or a
// transaction's scratch overlay. Any write through this Cache
// invalidates the hot tip, so repeated tip reads between header
// appends are served without touching the store.
type Cache struct {
	tipHot *ttlcache.Cache[string, *StoredHeader]
}

// New constructs a Cache. Proof-of-work enforcement uses
// btcpeg.TestnetPowLimit (testnet rules).
func New() *Cache {
	tipHot := ttlcache.New[string, *StoredHeader](
		ttlcache.WithTTL[string, *StoredHeader](30 * time.Second),
	)
	return &Cache{tipHot: tipHot}
}

func heightKey(height uint32) []byte {
	buf := make([]byte, 8+len(keyPrefixByHeight))
	copy(buf, keyPrefixByHeight)
	binary.BigEndian.PutUint64(buf[len(keyPrefixByHeight):], uint64(height))
	return buf
}

func hashKey(hash chainhash.Hash) []byte {
	buf := make([]byte, len(keyPrefixHashIdx)+chainhash.HashSize)
	copy(buf, keyPrefixHashIdx)
	copy(buf[len(keyPrefixHashIdx):], hash[:])
	return buf
}

func serializeHeader(h *wire.BlockHeader) ([]byte, error) {
	var buf bytes.Buffer
	if err := h.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func deserializeHeader(raw []byte) (*wire.BlockHeader, error) {
	h := &wire.BlockHeader{}
	if err := h.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, errors.New(errors.ERR_DESERIALIZATION, "spv: deserialize header", err)
	}
	return h, nil
}

// Initialize writes the pinned Bitcoin SPV checkpoint from a signed
// configuration artifact as the root of the chain, at its announced
// height. Idempotent; fails on a malformed artifact header or on store
// errors.
func (c *Cache) Initialize(ctx context.Context, kv store.KV, genesis *config.GenesisArtifact) error {
	header, err := deserializeHeader(genesis.Header)
	if err != nil {
		return err
	}
	return c.AddHeaderRaw(ctx, kv, header, genesis.Height)
}

// AddHeaderRaw stores header at an explicit height with no linkage or
// proof-of-work check. Initialize uses it for checkpoint bootstrapping,
// and AddHeader uses it to store a header once it has been validated.
func (c *Cache) AddHeaderRaw(ctx context.Context, kv store.KV, header *wire.BlockHeader, height uint32) error {
	raw, err := serializeHeader(header)
	if err != nil {
		return errors.New(errors.ERR_DESERIALIZATION, "spv: serialize header", err)
	}
	if err := kv.Put(ctx, heightKey(height), raw); err != nil {
		return errors.New(errors.ERR_STORE, "spv: put header", err)
	}
	hash := header.BlockHash()
	hb := make([]byte, 8)
	binary.BigEndian.PutUint64(hb, uint64(height))
	if err := kv.Put(ctx, hashKey(hash), hb); err != nil {
		return errors.New(errors.ERR_STORE, "spv: put hash index", err)
	}

	tip, ok, err := c.tipHeight(ctx, kv)
	if err != nil {
		return err
	}
	if !ok || height > tip {
		if err := putHeightKey(ctx, kv, keyTip, height); err != nil {
			return err
		}
	}

	root, ok, err := c.rootHeight(ctx, kv)
	if err != nil {
		return err
	}
	if !ok || height < root {
		if err := putHeightKey(ctx, kv, keyRoot, height); err != nil {
			return err
		}
	}

	c.tipHot.Delete(keyTip)
	return nil
}

// AddHeader links header onto the chain by its declared previous-block
// hash, enforces proof-of-work, and advances the tip. Rejects headers
// that don't extend a known block or whose PoW is below the network's
// current target.
func (c *Cache) AddHeader(ctx context.Context, kv store.KV, header *wire.BlockHeader) error {
	if !btcpeg.CheckProofOfWork(header, btcpeg.TestnetPowLimit) {
		return errors.New(errors.ERR_BAD_HEADER, "spv: proof of work below network target")
	}

	prevHeightRaw, found, err := kv.Get(ctx, hashKey(header.PrevBlock))
	if err != nil {
		return errors.New(errors.ERR_STORE, "spv: lookup prev header", err)
	}
	if !found {
		return errors.New(errors.ERR_BAD_HEADER, "spv: header does not extend a known block")
	}
	prevHeight := binary.BigEndian.Uint64(prevHeightRaw)

	return c.AddHeaderRaw(ctx, kv, header, uint32(prevHeight)+1)
}

// GetHeaderForHeight returns the header stored at height, or
// found=false if none is known.
func (c *Cache) GetHeaderForHeight(ctx context.Context, kv store.KV, height uint32) (*StoredHeader, bool, error) {
	raw, ok, err := kv.Get(ctx, heightKey(height))
	if err != nil {
		return nil, false, errors.New(errors.ERR_STORE, "spv: get header", err)
	}
	if !ok {
		return nil, false, nil
	}
	header, err := deserializeHeader(raw)
	if err != nil {
		return nil, false, err
	}
	return &StoredHeader{Header: header, Height: height}, true, nil
}

func (c *Cache) tipHeight(ctx context.Context, kv store.KV) (uint32, bool, error) {
	return getHeightKey(ctx, kv, keyTip)
}

func (c *Cache) rootHeight(ctx context.Context, kv store.KV) (uint32, bool, error) {
	return getHeightKey(ctx, kv, keyRoot)
}

func getHeightKey(ctx context.Context, kv store.KV, key string) (uint32, bool, error) {
	raw, ok, err := kv.Get(ctx, []byte(key))
	if err != nil {
		return 0, false, errors.New(errors.ERR_STORE, "spv: get %s", key, err)
	}
	if !ok {
		return 0, false, nil
	}
	return uint32(binary.BigEndian.Uint64(raw)), true, nil
}

func putHeightKey(ctx context.Context, kv store.KV, key string, height uint32) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(height))
	if err := kv.Put(ctx, []byte(key), buf); err != nil {
		return errors.New(errors.ERR_STORE, "spv: put %s", key, err)
	}
	return nil
}

// Tip returns the chain's current best (highest) header, served from
// the hot cache when a recent append or lookup already resolved it.
func (c *Cache) Tip(ctx context.Context, kv store.KV) (*StoredHeader, bool, error) {
	if item := c.tipHot.Get(keyTip); item != nil {
		return item.Value(), true, nil
	}

	height, ok, err := c.tipHeight(ctx, kv)
	if err != nil || !ok {
		return nil, false, err
	}
	stored, found, err := c.GetHeaderForHeight(ctx, kv, height)
	if err != nil || !found {
		return nil, false, err
	}
	c.tipHot.Set(keyTip, stored, ttlcache.DefaultTTL)
	return stored, true, nil
}

// Trunk returns the ordered sequence of header hashes from the chain's
// root (the pinned checkpoint) to its tip.
func (c *Cache) Trunk(ctx context.Context, kv store.KV) ([]chainhash.Hash, error) {
	tip, ok, err := c.Tip(ctx, kv)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	root, ok, err := c.rootHeight(ctx, kv)
	if err != nil {
		return nil, err
	}
	if !ok {
		root = 0
	}

	hashes := make([]chainhash.Hash, 0, tip.Height-root+1)
	for h := root; h <= tip.Height; h++ {
		stored, found, err := c.GetHeaderForHeight(ctx, kv, h)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, errors.New(errors.ERR_UNKNOWN_BLOCK, fmt.Sprintf("spv: trunk missing height %d", h))
		}
		hashes = append(hashes, stored.Header.BlockHash())
	}
	return hashes, nil
}
