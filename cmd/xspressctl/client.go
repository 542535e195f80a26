package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/danmuck/xspressctl/internal/detector"
	"github.com/danmuck/xspressctl/internal/protocol"
)

// connect builds a one-shot controller and loads the server's current
// configuration so guards see live state.
func connect(ctx context.Context, opts *rootOptions, logger zerolog.Logger) (*detector.Controller, error) {
	cfg, err := opts.load()
	if err != nil {
		return nil, err
	}
	ctrl, err := detector.New(cfg.Detector(), logger)
	if err != nil {
		return nil, err
	}
	if err := ctrl.WaitTillConnected(ctx, cfg.ConnectTimeout); err != nil {
		_ = ctrl.Close(ctx)
		return nil, err
	}
	if _, err := ctrl.ReadConfig(ctx); err != nil {
		_ = ctrl.Close(ctx)
		return nil, err
	}
	return ctrl, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newGetCommand(opts *rootOptions, logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "get [path]",
		Short: "Read a parameter or subtree from the control server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := connect(cmd.Context(), opts, logger)
			if err != nil {
				return err
			}
			defer ctrl.Close(context.Background())
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			v, err := ctrl.Get(path)
			if err != nil {
				return err
			}
			return printJSON(cmd, v)
		},
	}
}

func newPutCommand(opts *rootOptions, logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "put <path> [json-value]",
		Short: "Write a parameter; a trailing numeric segment addresses a list element",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value any
			if len(args) == 2 {
				var err error
				if value, err = parseValue(args[1]); err != nil {
					return err
				}
			}
			ctrl, err := connect(cmd.Context(), opts, logger)
			if err != nil {
				return err
			}
			defer ctrl.Close(context.Background())
			path := strings.Trim(args[0], "/")
			var reply any
			if indexed(path) {
				reply, err = ctrl.PutArray(cmd.Context(), path, value)
			} else {
				reply, err = ctrl.PutSingle(cmd.Context(), path, value)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, reply)
		},
	}
}

// parseValue accepts any JSON literal; anything else is taken as a string.
func parseValue(raw string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	err := dec.Decode(&v)
	if err == nil && dec.More() {
		return raw, nil
	}
	if err != nil {
		if strings.ContainsAny(strings.TrimSpace(raw), "{[") {
			return nil, fmt.Errorf("parse value %q: %w", raw, err)
		}
		return raw, nil
	}
	return protocol.Normalize(v), nil
}

func indexed(path string) bool {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return false
	}
	_, err := strconv.Atoi(path[i+1:])
	return err == nil
}
