//go:build aerospike

package main

import (
	"fmt"
	"net"
	"strconv"

	"github.com/BlockscapeNetwork/nomic/config"
	"github.com/BlockscapeNetwork/nomic/store"
	"github.com/BlockscapeNetwork/nomic/store/aerokv"
)

// openAerospikeStore dials the configured Aerospike cluster, selected
// with --store aerospike in builds tagged "aerospike".
func openAerospikeStore(settings *config.Settings) (store.KV, error) {
	host, portStr, err := net.SplitHostPort(settings.AerospikeURL)
	if err != nil {
		return nil, fmt.Errorf("pegzoned: aerospike_url must be host:port: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("pegzoned: aerospike_url port: %w", err)
	}
	return aerokv.New(host, port, settings.AerospikeNamespace, settings.AerospikeSet)
}
