package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/ledgerswap/service/db"
)

func listSwapsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-swaps",
		Usage:   "List swaps straight from the database",
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
				Value:   db.DefaultListLimit,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of swaps to skip",
			},
		},
		Action: func(c *cli.Context) error {
			params := db.ListSwapsParams{
				Limit:  int32(c.Int("limit")),
				Offset: int32(c.Int("offset")),
			}
			if s := c.String("status"); s != "" {
				status, err := db.ParseStatus(s)
				if err != nil {
					return err
				}
				params.Status = &status
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			swaps, err := store.ListSwaps(context.Background(), params)
			if err != nil {
				return fmt.Errorf("failed to list swaps: %w", err)
			}

			if jsonOutput(c) {
				return printJSON(c, swaps)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
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

			fmt.Printf("\nTotal: %d swaps\n", len(swaps))
			return nil
		},
	}
}

func getSwapCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-swap",
		Usage:     "Show every stored field of a swap",
		ArgsUsage: "<transaction-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction ID")
			}
			txid := c.Args().First()

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			sw, err := store.GetSwap(context.Background(), txid)
			if errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("no swap recorded for transaction %s", txid)
			}
			if err != nil {
				return fmt.Errorf("failed to get swap: %w", err)
			}

			if jsonOutput(c) {
				return printJSON(c, sw)
			}

			fmt.Printf("Txid:             %s\n", sw.Txid)
			fmt.Printf("Status:           %s\n", coloredStatus(sw.Status.String()))
			fmt.Printf("Source Address:   %s\n", sw.SourceAddress)
			fmt.Printf("Subaddress:       %d/%d\n", sw.SubaddrIndex.Major, sw.SubaddrIndex.Minor)
			fmt.Printf("Amount:           %d\n", sw.Amount)
			fmt.Printf("Fee:              %d\n", sw.Fee)
			fmt.Printf("Confirmations:    %d (suggested %d)\n", sw.Confirmations, sw.SuggestedConfirmationsThreshold)
			fmt.Printf("Height:           %d\n", sw.Height)
			fmt.Printf("Type:             %s\n", sw.Type)
			fmt.Printf("Double Spend:     %v\n", sw.DoubleSpendSeen)
			fmt.Printf("Unlock Time:      %d\n", sw.UnlockTime)
			if sw.PaymentID != "" {
				fmt.Printf("Payment ID:       %s\n", sw.PaymentID)
			}
			if sw.Note != "" {
				fmt.Printf("Note:             %s\n", sw.Note)
			}
			fmt.Printf("Target Address:   %s\n", sw.TargetAddress)
			fmt.Printf("Target Amount:    %d\n", sw.TargetAmount)
			fmt.Printf("Target Txid:      %s\n", formatOptional(sw.TargetTxid))
			if sw.TargetTimestamp != nil {
				fmt.Printf("Paid At:          %s\n", sw.TargetTimestamp.Format(time.RFC3339))
			}
			fmt.Printf("Created:          %s\n", sw.CreatedAt.Format(time.RFC3339))
			fmt.Printf("Updated:          %s\n", sw.UpdatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

// getStore creates a database store from CLI context.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool, nil)
	closer := func() { pool.Close() }

	return store, closer, nil
}
