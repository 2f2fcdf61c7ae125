package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"

	natspkg "github.com/brojonat/ledgerswap/service/nats"
)

// tailCommand follows swap lifecycle events on JetStream.
func tailCommand() *cli.Command {
	return &cli.Command{
		Name:  "tail",
		Usage: "Follow swap lifecycle events",
		Description: `Stream swap events published to NATS JetStream.

Events are published to swaps.accepted, swaps.processed and swaps.payout_failed.

Examples:
  swapctl nats tail
  swapctl nats tail --event processed
  swapctl nats tail --all --where '.target_amount > 1000000' --json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "event",
				Aliases: []string{"e"},
				Usage:   "Only show one event type (accepted, processed, payout_failed)",
			},
			&cli.StringFlag{
				Name:  "txid",
				Usage: "Only show events for one source transaction",
			},
			&cli.StringFlag{
				Name:  "where",
				Usage: "jq predicate an event must satisfy",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Replay retained events instead of only new ones",
			},
		},
		Action: func(c *cli.Context) error {
			subject, err := eventSubject(c.String("event"))
			if err != nil {
				return err
			}

			var where *gojq.Code
			if expr := c.String("where"); expr != "" {
				query, err := gojq.Parse(expr)
				if err != nil {
					return fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
				}
				if where, err = gojq.Compile(query); err != nil {
					return fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
				}
			}

			nc, err := natspkg.Connect(c.String("nats-url"), "swapctl")
			if err != nil {
				return err
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			deliver := jetstream.DeliverNewPolicy
			if c.Bool("all") {
				deliver = jetstream.DeliverAllPolicy
			}
			cons, err := js.CreateOrUpdateConsumer(c.Context, natspkg.StreamName, jetstream.ConsumerConfig{
				FilterSubject:     subject,
				AckPolicy:         jetstream.AckExplicitPolicy,
				DeliverPolicy:     deliver,
				InactiveThreshold: time.Minute,
			})
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			if !jsonOutput(c) {
				fmt.Printf("Subscribing to: %s\n", subject)
				fmt.Printf("   NATS: %s\n", c.String("nats-url"))
				fmt.Printf("\nWaiting for swap events... (Ctrl-C to exit)\n\n")
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			msgChan := make(chan jetstream.Msg, 10)
			consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
				msgChan <- msg
			})
			if err != nil {
				return fmt.Errorf("failed to consume events: %w", err)
			}
			defer consumeCtx.Stop()

			txid := c.String("txid")
			count := 0
			for {
				select {
				case msg := <-msgChan:
					var event natspkg.SwapEvent
					if err := json.Unmarshal(msg.Data(), &event); err != nil {
						fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
						_ = msg.Ack()
						continue
					}
					_ = msg.Ack()

					if txid != "" && event.Txid != txid {
						continue
					}
					if where != nil {
						ok, err := matchesJQ(where, &event)
						if err != nil {
							fmt.Fprintf(os.Stderr, "Error evaluating filter: %v\n", err)
							continue
						}
						if !ok {
							continue
						}
					}

					count++
					if jsonOutput(c) {
						if err := printEventJSON(c, &event); err != nil {
							return err
						}
						continue
					}
					printEvent(count, &event)

				case <-sigChan:
					if !jsonOutput(c) {
						fmt.Printf("\nReceived %d events\n", count)
					}
					return nil

				case <-c.Context.Done():
					return nil
				}
			}
		},
	}
}

// eventSubject maps an event name to its JetStream subject; "" means all.
func eventSubject(event string) (string, error) {
	switch natspkg.EventType(event) {
	case "":
		return natspkg.StreamSubjects, nil
	case natspkg.EventAccepted, natspkg.EventProcessed, natspkg.EventPayoutFailed:
		return natspkg.SubjectPrefix + event, nil
	default:
		return "", fmt.Errorf("unknown event %q (want accepted, processed or payout_failed)", event)
	}
}

func printEventJSON(c *cli.Context, event *natspkg.SwapEvent) error {
	if c.String("jq") != "" {
		return printJSON(c, event)
	}
	// One event per line so the output can be piped.
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printEvent(n int, event *natspkg.SwapEvent) {
	fmt.Printf("─────────────────────────────────────────────────────\n")
	fmt.Printf("Event #%d: %s\n", n, coloredEvent(string(event.Event)))
	fmt.Printf("─────────────────────────────────────────────────────\n")
	fmt.Printf("Txid:           %s\n", event.Txid)
	fmt.Printf("Amount:         %d\n", event.Amount)
	fmt.Printf("Confirmations:  %d\n", event.Confirmations)
	fmt.Printf("Target Address: %s\n", event.TargetAddress)
	fmt.Printf("Target Amount:  %d\n", event.TargetAmount)
	if event.TargetTxid != nil {
		fmt.Printf("Target Txid:    %s\n", *event.TargetTxid)
	}
	if event.Error != "" {
		fmt.Printf("Error:          %s\n", color.RedString(event.Error))
	}
	fmt.Printf("Published:      %s\n\n", event.PublishedAt.Format(time.RFC3339))
}

// inspectStreamCommand shows information about the SWAPS JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the SWAPS JetStream stream",
		Action: func(c *cli.Context) error {
			nc, err := natspkg.Connect(c.String("nats-url"), "swapctl")
			if err != nil {
				return err
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(context.Background(), natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if jsonOutput(c) {
				return printJSON(c, info)
			}

			fmt.Printf("Stream: %s\n", info.Config.Name)
			fmt.Printf("─────────────────────────────────────────────────────\n")
			fmt.Printf("Subjects:     %v\n", info.Config.Subjects)
			fmt.Printf("Messages:     %d\n", info.State.Msgs)
			fmt.Printf("Bytes:        %d\n", info.State.Bytes)
			fmt.Printf("First Seq:    %d\n", info.State.FirstSeq)
			fmt.Printf("Last Seq:     %d\n", info.State.LastSeq)
			fmt.Printf("Consumers:    %d\n", info.State.Consumers)
			fmt.Printf("Max Age:      %s\n", info.Config.MaxAge)
			fmt.Printf("Duplicates:   %s\n", info.Config.Duplicates)
			fmt.Printf("Storage:      %s\n", info.Config.Storage)
			return nil
		},
	}
}
