package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
)

func (c *commandContext) callContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(cmd.Context())
	}
	return context.WithTimeout(cmd.Context(), c.timeout)
}

func newGetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show the picture selector",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			callCtx, cancel := ctx.callContext(cmd)
			defer cancel()
			data, err := ctx.selector().GetSelector(callCtx)
			if err != nil {
				return err
			}
			return ctx.printSelector(cmd, data)
		},
	}
}

func newNextCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Advance to the next picture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			callCtx, cancel := ctx.callContext(cmd)
			defer cancel()
			data, err := ctx.selector().UpdatePicture(callCtx)
			if err != nil {
				return err
			}
			return ctx.printSelector(cmd, data)
		},
	}
}

func newSelectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "select <index>",
		Short: "Select the picture at index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid index %q: %w", args[0], err)
			}
			callCtx, cancel := ctx.callContext(cmd)
			defer cancel()
			data, err := ctx.selector().Select(callCtx, index)
			if err != nil {
				return err
			}
			return ctx.printSelector(cmd, data)
		},
	}
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the selector and every pushed change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			callCtx, cancel := ctx.callContext(cmd)
			data, updates, err := ctx.selector().Initialize(callCtx)
			cancel()
			if err != nil {
				return err
			}
			defer updates.Close()

			if err := ctx.printSelector(cmd, data); err != nil {
				return err
			}
			for seen := 0; count <= 0 || seen < count; seen++ {
				data, err := updates.Next(cmd.Context())
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				if err := ctx.printSelector(cmd, data); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Stop after this many updates (0 = forever)")
	return cmd
}

func newCallCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "call <method> [params-json]",
		Short: "Call an arbitrary method and print the raw result",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params any
			if len(args) == 2 {
				raw := json.RawMessage(args[1])
				if !json.Valid(raw) {
					return fmt.Errorf("params must be valid JSON")
				}
				params = raw
			}
			callCtx, cancel := ctx.callContext(cmd)
			defer cancel()
			result, err := ctx.conn().Call(callCtx, args[0], params)
			if err != nil {
				return err
			}
			return writeJSON(cmd, result)
		},
	}
}

