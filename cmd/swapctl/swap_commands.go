package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/ledgerswap/client"
)

func swapCommands() *cli.Command {
	return &cli.Command{
		Name:  "swap",
		Usage: "Submit and track swaps through the HTTP API",
		Subcommands: []*cli.Command{
			submitCommand(),
			getCommand(),
			listCommand(),
			watchCommand(),
		},
	}
}

func newClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if c.Bool("debug") {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return client.NewClient(c.String("server-url"), nil, logger)
}

func submitCommand() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "Request a swap for funds received in a source transaction",
		ArgsUsage: "<transaction-id> <target-address>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "Wait until the swap is processed",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Polling interval when waiting",
				Value: 5 * time.Second,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up waiting after this long",
				Value: 30 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires exactly two arguments: transaction ID and target address")
			}
			txid := c.Args().Get(0)
			target := c.Args().Get(1)

			cl := newClient(c)
			result, err := cl.Submit(c.Context, txid, target)
			if err != nil {
				if reason := client.ReasonOf(err); reason != "" && !jsonOutput(c) {
					color.Red("✗ swap rejected (%s)", reason)
				}
				return err
			}

			if !c.Bool("wait") {
				if jsonOutput(c) {
					return printJSON(c, result)
				}
				fmt.Printf("%s %s\n", color.GreenString("✓"), result.Success)
				printSwap(result.Swap)
				return nil
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()
			return waitForSwap(ctx, c, cl, txid)
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show a swap by its source transaction ID",
		ArgsUsage: "<transaction-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction ID")
			}

			sw, err := newClient(c).Get(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			if jsonOutput(c) {
				return printJSON(c, sw)
			}
			printSwap(sw)
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List swaps through the HTTP API",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status (pending, processed)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of swaps",
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of swaps to skip",
			},
		},
		Action: func(c *cli.Context) error {
			swaps, err := newClient(c).List(c.Context, client.ListOptions{
				Status: c.String("status"),
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return err
			}
			if jsonOutput(c) {
				return printJSON(c, swaps)
			}
			printSwapTable(os.Stdout, swaps)
			return nil
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Poll a swap until it is processed",
		ArgsUsage: "<transaction-id>",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Polling interval",
				Value: 5 * time.Second,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up after this long",
				Value: 30 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction ID")
			}
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()
			return waitForSwap(ctx, c, newClient(c), c.Args().First())
		},
	}
}

// waitForSwap polls until the swap is processed, showing a spinner with the
// current confirmation count.
func waitForSwap(ctx context.Context, c *cli.Context, cl *client.Client, txid string) error {
	var s *spinner.Spinner
	if !jsonOutput(c) {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.Suffix = fmt.Sprintf(" waiting for swap %s", color.CyanString(txid))
		s.Start()
	}

	sw, err := cl.WaitProcessed(ctx, txid, c.Duration("interval"), func(sw *client.Swap) {
		if s != nil {
			s.Lock()
			s.Suffix = fmt.Sprintf(" swap %s %s, %d confirmations",
				color.CyanString(txid), coloredStatus(sw.Status), sw.Confirmations)
			s.Unlock()
		}
	})
	if s != nil {
		s.Stop()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("swap %s not processed before timeout", txid)
		}
		return err
	}

	if jsonOutput(c) {
		return printJSON(c, sw)
	}
	fmt.Printf("%s swap processed\n", color.GreenString("✓"))
	printSwap(sw)
	return nil
}

func printSwapTable(out io.Writer, swaps []*client.Swap) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TXID\tSTATUS\tAMOUNT\tCONFS\tTARGET ADDRESS\tTARGET AMOUNT\tTARGET TXID\tCREATED")
	for _, sw := range swaps {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%d\t%s\t%s\n",
			sw.Txid,
			sw.Status,
			sw.Amount,
			sw.Confirmations,
			sw.TargetAddress,
			sw.TargetAmount,
			formatOptional(sw.TargetTxid),
			sw.CreatedAt.Format(time.RFC3339),
		)
	}
	w.Flush()
	fmt.Fprintf(out, "\nTotal: %d swaps\n", len(swaps))
}

func printSwap(sw *client.Swap) {
	if sw == nil {
		return
	}
	fmt.Printf("Txid:           %s\n", sw.Txid)
	fmt.Printf("Status:         %s\n", coloredStatus(sw.Status))
	fmt.Printf("Amount:         %d\n", sw.Amount)
	fmt.Printf("Confirmations:  %d\n", sw.Confirmations)
	fmt.Printf("Target Address: %s\n", sw.TargetAddress)
	fmt.Printf("Target Amount:  %d\n", sw.TargetAmount)
	fmt.Printf("Target Txid:    %s\n", formatOptional(sw.TargetTxid))
	if sw.TargetTimestamp != nil {
		fmt.Printf("Paid At:        %s\n", sw.TargetTimestamp.Format(time.RFC3339))
	}
	fmt.Printf("Created:        %s\n", sw.CreatedAt.Format(time.RFC3339))
}
