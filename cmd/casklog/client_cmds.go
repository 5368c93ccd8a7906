package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/casklog/casklog/client"
	"github.com/casklog/casklog/config"
)

var clientAddr string

func clientCmds() []*cobra.Command {
	sendCmd := &cobra.Command{
		Use:   "send <topic> <msg>",
		Short: "Append a JSON message to a topic",
		Args:  cobra.ExactArgs(2),
		Run: runClient(func(ctx context.Context, c *client.Client, args []string) (interface{}, error) {
			msg := json.RawMessage(args[1])
			if !json.Valid(msg) {
				return nil, errors.Errorf("msg %q is not JSON", args[1])
			}
			offset, err := c.Send(ctx, clientAddr, args[0], msg)
			return map[string]uint64{"offset": offset}, err
		}),
	}
	pollCmd := &cobra.Command{
		Use:   "poll <topic=offset>...",
		Short: "Read topics from the given offsets on",
		Args:  cobra.MinimumNArgs(1),
		Run: runClient(func(ctx context.Context, c *client.Client, args []string) (interface{}, error) {
			offsets, err := parseOffsets(args)
			if err != nil {
				return nil, err
			}
			return c.Poll(ctx, clientAddr, offsets)
		}),
	}
	commitCmd := &cobra.Command{
		Use:   "commit <topic=offset>...",
		Short: "Commit offsets",
		Args:  cobra.MinimumNArgs(1),
		Run: runClient(func(ctx context.Context, c *client.Client, args []string) (interface{}, error) {
			offsets, err := parseOffsets(args)
			if err != nil {
				return nil, err
			}
			return offsets, c.CommitOffsets(ctx, clientAddr, offsets)
		}),
	}
	committedCmd := &cobra.Command{
		Use:   "committed <topic>...",
		Short: "List committed offsets",
		Args:  cobra.MinimumNArgs(1),
		Run: runClient(func(ctx context.Context, c *client.Client, args []string) (interface{}, error) {
			return c.ListCommittedOffsets(ctx, clientAddr, args)
		}),
	}

	cmds := []*cobra.Command{sendCmd, pollCmd, commitCmd, committedCmd}
	for _, cmd := range cmds {
		cmd.Flags().StringVar(&clientAddr, "addr", config.DefaultHTTPAddr, "Address of the node to talk to")
	}
	return cmds
}

func runClient(fn func(context.Context, *client.Client, []string) (interface{}, error)) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		res, err := fn(context.Background(), client.NewClient(nil, nil), args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
}

func parseOffsets(args []string) (map[string]uint64, error) {
	offsets := make(map[string]uint64, len(args))
	for _, arg := range args {
		i := strings.LastIndex(arg, "=")
		if i < 1 {
			return nil, errors.Errorf("bad argument %q, want topic=offset", arg)
		}
		off, err := strconv.ParseUint(arg[i+1:], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "bad offset in %q", arg)
		}
		offsets[arg[:i]] = off
	}
	return offsets, nil
}
