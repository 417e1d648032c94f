package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"artnetd/internal/artnet"
)

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "Poll the network and print the nodes that answer",
	RunE: func(cmd *cobra.Command, _ []string) error {
		wait, _ := cmd.Flags().GetDuration("wait")

		_, log, engine, err := setup(true)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		if err := engine.Start(ctx); err != nil {
			return err
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
		}
		engine.Stop()

		nodes := engine.Nodes()
		log.Debugf("%d nodes answered", len(nodes))
		for _, n := range nodes {
			fmt.Fprintln(cmd.OutOrStdout(), artnet.NodeToString(n))
		}
		return nil
	},
}

func init() {
	nodesCmd.Flags().Duration("wait", 3*time.Second, "How long to listen for poll replies")
}
