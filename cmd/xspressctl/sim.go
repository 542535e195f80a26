package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/danmuck/xspressctl/internal/simulator"
)

func newSimCommand(logger zerolog.Logger) *cobra.Command {
	var endpoint string
	var reject []string
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run a simulated Xspress control server",
		RunE: func(cmd *cobra.Command, args []string) error {
			sim := simulator.New(logger)
			for _, path := range reject {
				sim.Reject(path)
			}
			return simulator.NewServer(sim).ListenAndServe(cmd.Context(), endpoint)
		},
	}
	cmd.Flags().StringVar(&endpoint, "bind", "tcp://127.0.0.1:12000", "ROUTER bind endpoint")
	cmd.Flags().StringSliceVar(&reject, "reject", nil, "parameter paths to answer with NACK")
	return cmd
}
