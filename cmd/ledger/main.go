package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/urfave/cli.v1"

	"github.com/yourusername/ledger/internal/blockchain"
	"github.com/yourusername/ledger/internal/grpc"
	"github.com/yourusername/ledger/internal/storage"
)

var (
	dbFlag = cli.StringFlag{
		Name:   "db",
		Value:  "./data/blocks",
		Usage:  "Path to the ledger database",
		EnvVar: "LEDGER_DB",
	}
	logLevelFlag = cli.StringFlag{
		Name:   "log-level",
		Value:  "info",
		Usage:  "Log level (debug, info, warn, error)",
		EnvVar: "LEDGER_LOG_LEVEL",
	}
	cacheFlag = cli.IntFlag{
		Name:   "cache",
		Value:  blockchain.DefaultCacheSize,
		Usage:  "Number of decoded blocks kept in memory",
		EnvVar: "LEDGER_CACHE",
	}
	addrFlag = cli.StringFlag{
		Name:   "addr",
		Value:  ":50051",
		Usage:  "gRPC listen address",
		EnvVar: "LEDGER_ADDR",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "ledger"
	app.Usage = "append-only proof-of-work ledger"
	app.Flags = []cli.Flag{dbFlag, logLevelFlag, cacheFlag}
	app.Commands = []cli.Command{
		{
			Name:      "addblock",
			Usage:     "seal DATA into a new block",
			ArgsUsage: "<DATA>",
			Action:    addBlock,
		},
		{
			Name:   "print",
			Usage:  "print every block from the tip to genesis",
			Action: printChain,
		},
		{
			Name:   "tip",
			Usage:  "print the tip hash and height",
			Action: printTip,
		},
		{
			Name:   "verify",
			Usage:  "check proof-of-work and links of the whole chain",
			Action: verifyChain,
		},
		{
			Name:   "serve",
			Usage:  "serve the ledger over gRPC",
			Flags:  []cli.Flag{addrFlag},
			Action: serve,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}

// withLedger opens the store and ledger, runs fn and closes the store
func withLedger(c *cli.Context, fn func(bc *blockchain.Blockchain, logger *zap.Logger) error) error {
	logger, err := newLogger(c.GlobalString(logLevelFlag.Name))
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("invalid log level: %v", err), 2)
	}
	defer logger.Sync()

	path := c.GlobalString(dbFlag.Name)
	logger.Debug("opening store", zap.String("path", path))
	store, err := storage.NewLevelDB(path)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := blockchain.DefaultOptions().
		WithLogger(logger).
		WithCacheSize(c.GlobalInt(cacheFlag.Name))
	bc, err := blockchain.Open(store, opts)
	if err != nil {
		return err
	}

	return fn(bc, logger)
}

func addBlock(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("addblock takes exactly one DATA argument", 2)
	}
	return withLedger(c, func(bc *blockchain.Blockchain, _ *zap.Logger) error {
		hash, err := bc.AddBlock(c.Args().First())
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	})
}

func printChain(c *cli.Context) error {
	return withLedger(c, func(bc *blockchain.Blockchain, _ *zap.Logger) error {
		it := bc.Iterator()
		for {
			block, ok := it.Next()
			if !ok {
				break
			}
			fmt.Printf("Block %d:\n", block.Height)
			fmt.Printf("  Hash:      %s\n", block.Hash)
			fmt.Printf("  Prev Hash: %s\n", block.PrevHash)
			fmt.Printf("  Timestamp: %s\n", time.UnixMilli(int64(block.Timestamp)).UTC().Format(time.RFC3339Nano))
			fmt.Printf("  Nonce:     %d\n", block.Nonce)
			fmt.Printf("  Payload:   %q\n", block.Payload)
		}
		return it.Err()
	})
}

func printTip(c *cli.Context) error {
	return withLedger(c, func(bc *blockchain.Blockchain, _ *zap.Logger) error {
		height, err := bc.Height()
		if err != nil {
			return err
		}
		fmt.Printf("%s %d\n", bc.TipHash(), height)
		return nil
	})
}

func verifyChain(c *cli.Context) error {
	return withLedger(c, func(bc *blockchain.Blockchain, _ *zap.Logger) error {
		if err := bc.ValidateChain(); err != nil {
			return cli.NewExitError(fmt.Sprintf("chain invalid: %v", err), 1)
		}
		fmt.Println("chain is valid")
		return nil
	})
}

func serve(c *cli.Context) error {
	return withLedger(c, func(bc *blockchain.Blockchain, logger *zap.Logger) error {
		server := grpc.NewServer(bc, logger)

		errc := make(chan error, 1)
		go func() {
			errc <- server.Start(c.String(addrFlag.Name))
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errc:
			return err
		case sig := <-sigChan:
			logger.Info("shutting down", zap.String("signal", sig.String()))
			server.Stop()
			return nil
		}
	})
}
