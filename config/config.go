// Package config holds the peg core's protocol constants and a thin
// typed view over gocore's flat configuration store.
package config

import (
	"encoding/json"
	"os"

	"github.com/ordishs/gocore"
)

// Protocol constants pinned in code, never runtime configurable:
// changing them under the validator set's feet would fork the chain.
const (
	// CheckpointInterval is the minimum number of seconds between the
	// close of one checkpoint-opening window and the next.
	CheckpointInterval = int64(8 * 60 * 60)

	// SignatoryChangeInterval is how many checkpoints open between
	// signatory-set rotations.
	SignatoryChangeInterval = uint64(6)

	// CheckpointMinimumValue is the minimum total pending UTXO value,
	// in satoshis, required to open a checkpoint.
	CheckpointMinimumValue = uint64(1_000_000)

	// CheckpointFeeSatoshis is the flat fee subtracted from the
	// reserve output of every checkpoint sweep transaction. Any
	// deterministic constant works; there is no fee market here.
	CheckpointFeeSatoshis = uint64(10_000)

	// MinWorkProofDifficulty is the minimum number of leading zero
	// bits required of sha256(pubkey||nonce) for a WorkProof
	// transaction to grant validator power (a work value of 1<<20).
	MinWorkProofDifficulty = 20

	// DefaultListenAddr is the host adapter's default socket address.
	DefaultListenAddr = "127.0.0.1:26658"
)

// Settings is the mutable, host-supplied configuration surface. Reads
// go through gocore.Config()'s process-wide flat config store rather
// than a dependency-injected struct.
type Settings struct {
	ListenAddr         string
	StoreBackend       string // "memory" | "sqlite" | "aerospike"
	SQLitePath         string
	AerospikeURL       string // host:port
	AerospikeNamespace string
	AerospikeSet       string
	LogLevel           string
	KafkaBrokers       []string
	KafkaTopic         string
}

// Load resolves Settings from gocore's config store, falling back to
// spec-sensible defaults.
func Load() *Settings {
	cfg := gocore.Config()

	listen, _ := cfg.Get("listen_addr", DefaultListenAddr)
	backend, _ := cfg.Get("store_backend", "memory")
	sqlitePath, _ := cfg.Get("sqlite_path", "pegzone.db")
	aerospikeURL, _ := cfg.Get("aerospike_url", "localhost:3000")
	aerospikeNamespace, _ := cfg.Get("aerospike_namespace", "pegzone")
	aerospikeSet, _ := cfg.Get("aerospike_set", "kv")
	logLevel, _ := cfg.Get("log_level", "info")
	kafkaTopic, _ := cfg.Get("kafka_topic", "pegzone.events")
	kafkaBrokers, _ := cfg.GetMulti("kafka_brokers", "|")

	return &Settings{
		ListenAddr:         listen,
		StoreBackend:       backend,
		SQLitePath:         sqlitePath,
		AerospikeURL:       aerospikeURL,
		AerospikeNamespace: aerospikeNamespace,
		AerospikeSet:       aerospikeSet,
		LogLevel:           logLevel,
		KafkaBrokers:       kafkaBrokers,
		KafkaTopic:         kafkaTopic,
	}
}

// GenesisArtifact is the signed configuration artifact pinned at build
// time: the SPV checkpoint the chain's header cache is rooted at.
type GenesisArtifact struct {
	Header []byte `json:"header"` // raw 80-byte Bitcoin block header
	Height uint32 `json:"height"`
}

// LoadGenesisArtifact reads and decodes the pinned configuration
// artifact from disk.
func LoadGenesisArtifact(path string) (*GenesisArtifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var artifact GenesisArtifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return nil, err
	}
	return &artifact, nil
}
