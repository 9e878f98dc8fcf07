// Command pegzoned is the peg zone's host process: it wires the
// deterministic peg core to a store backend and serves the consensus
// host adapter on a TCP socket.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/BlockscapeNetwork/nomic/config"
	"github.com/BlockscapeNetwork/nomic/events"
	"github.com/BlockscapeNetwork/nomic/host"
	"github.com/BlockscapeNetwork/nomic/peg"
	"github.com/BlockscapeNetwork/nomic/store"
	"github.com/BlockscapeNetwork/nomic/store/memkv"
	"github.com/BlockscapeNetwork/nomic/store/sqlkv"
	"github.com/BlockscapeNetwork/nomic/ulogger"
)

func main() {
	app := &cli.App{
		Name:  "pegzoned",
		Usage: "Bitcoin peg zone state-machine host",
		Commands: []*cli.Command{
			startCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func startCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "run the peg host adapter, serving consensus on a TCP socket",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "genesis", Usage: "path to the pinned SPV genesis configuration artifact", Required: true},
			&cli.StringFlag{Name: "listen", Usage: "override the configured listen address"},
		},
		Action: runStart,
	}
}

func runStart(c *cli.Context) error {
	settings := config.Load()
	if listen := c.String("listen"); listen != "" {
		settings.ListenAddr = listen
	}

	log := ulogger.New("pegzoned", settings.LogLevel)

	genesis, err := config.LoadGenesisArtifact(c.String("genesis"))
	if err != nil {
		return fmt.Errorf("pegzoned: load genesis artifact: %w", err)
	}

	kv, err := openStore(settings)
	if err != nil {
		return fmt.Errorf("pegzoned: open store: %w", err)
	}

	var publisher *events.Publisher
	if len(settings.KafkaBrokers) > 0 {
		publisher, err = events.New(settings.KafkaBrokers, settings.KafkaTopic, log)
		if err != nil {
			return fmt.Errorf("pegzoned: connect kafka: %w", err)
		}
		defer publisher.Close()
	}

	handlers := peg.NewHandlers(log, publisher)
	app := host.New(kv, handlers, genesis, log)
	server := host.NewServer(app, log)

	ln, err := net.Listen("tcp", settings.ListenAddr)
	if err != nil {
		return fmt.Errorf("pegzoned: listen on %s: %w", settings.ListenAddr, err)
	}
	log.Infof("pegzoned: serving consensus on %s", settings.ListenAddr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return server.Serve(ctx, ln)
}

func openStore(settings *config.Settings) (store.KV, error) {
	switch settings.StoreBackend {
	case "", "memory":
		return memkv.New(), nil
	case "sqlite":
		return sqlkv.Open(settings.SQLitePath)
	case "aerospike":
		return openAerospikeStore(settings)
	default:
		return nil, fmt.Errorf("pegzoned: unknown store backend %q", settings.StoreBackend)
	}
}
