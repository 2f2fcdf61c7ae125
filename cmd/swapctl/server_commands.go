package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/ledgerswap/client"
)

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := c.String("server-url")
			if serverURL == "" {
				return fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
			}

			cl := client.NewClient(serverURL, &http.Client{Timeout: c.Duration("timeout")}, nil)
			if err := cl.Health(c.Context); err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}

			fmt.Printf("%s Server is healthy\n", color.GreenString("✓"))
			fmt.Printf("  URL: %s\n", serverURL)
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show CLI build info and the source daemon version",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			daemon, err := newClient(c).Version(ctx)
			if err != nil {
				if !jsonOutput(c) {
					color.Yellow("daemon version unavailable: %v", err)
				}
			}

			if jsonOutput(c) {
				return printJSON(c, map[string]interface{}{
					"cli": map[string]string{
						"version": version,
						"commit":  commit,
						"date":    date,
					},
					"daemon": daemon,
				})
			}

			fmt.Printf("swapctl CLI\n")
			fmt.Printf("  Version: %s\n", version)
			fmt.Printf("  Commit:  %s\n", commit)
			fmt.Printf("  Built:   %s\n", date)
			if daemon != nil {
				var pretty interface{}
				if err := json.Unmarshal(daemon, &pretty); err != nil {
					fmt.Printf("Source daemon: %s\n", string(daemon))
					return nil
				}
				out, _ := json.MarshalIndent(pretty, "  ", "  ")
				fmt.Printf("Source daemon:\n  %s\n", out)
			}
			return nil
		},
	}
}
