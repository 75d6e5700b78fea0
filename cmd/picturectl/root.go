package main

import (
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/spf13/cobra"
)

type defaults struct {
	URL     string        `env:"PICTURES_URL,default=ws://localhost:3000/"`
	Timeout time.Duration `env:"PICTURES_TIMEOUT,default=10s"`
}

func newRootCommand() *cobra.Command {
	return newRootCommandWithContext(newCommandContext())
}

func newRootCommandWithContext(ctx *commandContext) *cobra.Command {
	var env defaults
	_ = envdecode.Decode(&env)

	rootCmd := &cobra.Command{
		Use:           "picturectl",
		Short:         "Picture selector client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&ctx.url, "url", env.URL, "Backend WebSocket URL")
	rootCmd.PersistentFlags().DurationVar(&ctx.timeout, "timeout", env.Timeout, "Per-call timeout")
	rootCmd.PersistentFlags().BoolVar(&ctx.jsonOut, "json", false, "Print raw JSON")

	rootCmd.AddCommand(newGetCommand(ctx))
	rootCmd.AddCommand(newNextCommand(ctx))
	rootCmd.AddCommand(newSelectCommand(ctx))
	rootCmd.AddCommand(newWatchCommand(ctx))
	rootCmd.AddCommand(newCallCommand(ctx))

	return rootCmd
}
