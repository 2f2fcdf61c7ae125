package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// jsonOutput reports whether the command should print JSON instead of tables.
func jsonOutput(c *cli.Context) bool {
	return c.Bool("json") || c.String("jq") != ""
}

func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printJSON writes v as JSON, filtered through --jq when it is set.
func printJSON(c *cli.Context, v interface{}) error {
	filter := c.String("jq")
	if filter == "" {
		return outputJSON(v)
	}
	return runJQ(os.Stdout, filter, v)
}

// runJQ evaluates filter against v and writes one JSON document per result.
func runJQ(w io.Writer, filter string, v interface{}) error {
	query, err := gojq.Parse(filter)
	if err != nil {
		return fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}

	// gojq only understands plain JSON values, so round-trip through encoding/json.
	input, err := toJQValue(v)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	iter := code.Run(input)
	for {
		out, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, ok := out.(error); ok {
			return fmt.Errorf("jq filter %q failed: %w", filter, err)
		}
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
}

// matchesJQ reports whether filter yields a truthy value for v.
func matchesJQ(code *gojq.Code, v interface{}) (bool, error) {
	input, err := toJQValue(v)
	if err != nil {
		return false, err
	}
	iter := code.Run(input)
	for {
		out, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if err, ok := out.(error); ok {
			return false, err
		}
		if isTruthy(out) {
			return true, nil
		}
	}
}

func toJQValue(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal output: %w", err)
	}
	return out, nil
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

func coloredStatus(status string) string {
	switch status {
	case "processed":
		return color.GreenString(status)
	case "pending":
		return color.YellowString(status)
	default:
		return color.RedString(status)
	}
}

func coloredEvent(event string) string {
	switch event {
	case "accepted":
		return color.CyanString(event)
	case "processed":
		return color.GreenString(event)
	case "payout_failed":
		return color.RedString(event)
	default:
		return event
	}
}

func formatOptional(s *string) string {
	if s != nil && *s != "" {
		return *s
	}
	return "-"
}
