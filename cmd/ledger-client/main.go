package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/urfave/cli.v1"

	"github.com/yourusername/ledger/internal/grpc"
)

var (
	serverFlag = cli.StringFlag{
		Name:   "server",
		Value:  "localhost:50051",
		Usage:  "Address of the ledger gRPC server",
		EnvVar: "LEDGER_SERVER",
	}
	timeoutFlag = cli.DurationFlag{
		Name:  "timeout",
		Value: 30 * time.Second,
		Usage: "Deadline for each call",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "ledger-client"
	app.Usage = "talk to a running ledger server"
	app.Flags = []cli.Flag{serverFlag, timeoutFlag}
	app.Commands = []cli.Command{
		{
			Name:      "addblock",
			Usage:     "seal DATA into a new block on the server",
			ArgsUsage: "<DATA>",
			Action: func(c *cli.Context) error {
				if c.NArg() != 1 {
					return cli.NewExitError("addblock takes exactly one DATA argument", 2)
				}
				return withClient(c, func(ctx context.Context, client *grpc.Client) error {
					hash, err := client.AddBlock(ctx, c.Args().First())
					if err != nil {
						return err
					}
					fmt.Println(hash)
					return nil
				})
			},
		},
		{
			Name:  "tip",
			Usage: "print the server's tip hash",
			Action: func(c *cli.Context) error {
				return withClient(c, func(ctx context.Context, client *grpc.Client) error {
					hash, err := client.TipHash(ctx)
					if err != nil {
						return err
					}
					fmt.Println(hash)
					return nil
				})
			},
		},
		{
			Name:  "print",
			Usage: "print the server's chain from the tip to genesis",
			Action: func(c *cli.Context) error {
				return withClient(c, func(ctx context.Context, client *grpc.Client) error {
					blocks, err := client.Blocks(ctx)
					if err != nil {
						return err
					}
					for _, block := range blocks {
						fmt.Printf("%d %s %q\n", block.Height, block.Hash, block.Payload)
					}
					return nil
				})
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func withClient(c *cli.Context, fn func(ctx context.Context, client *grpc.Client) error) error {
	client, err := grpc.Dial(c.GlobalString(serverFlag.Name))
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), c.GlobalDuration(timeoutFlag.Name))
	defer cancel()

	return fn(ctx, client)
}
