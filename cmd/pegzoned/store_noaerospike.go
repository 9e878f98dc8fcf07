//go:build !aerospike

package main

import (
	"fmt"

	"github.com/BlockscapeNetwork/nomic/config"
	"github.com/BlockscapeNetwork/nomic/store"
)

func openAerospikeStore(*config.Settings) (store.KV, error) {
	return nil, fmt.Errorf("pegzoned: store backend \"aerospike\" requires building with -tags aerospike")
}
