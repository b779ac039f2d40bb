// Command dwqm inspects and controls a running dwq deployment: showing or
// draining queues, and pausing/resuming/shutting down named workers.
// Subcommand shape is a direct port of dwq/dwqm.py's queue/control
// split; cobra wiring follows the teacher's cmd/cinch/main.go pattern of
// one constructor function per (sub)command.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/kaspar030/dwq/internal/broker"
	"github.com/kaspar030/dwq/internal/config"
	"github.com/kaspar030/dwq/internal/mgmt"
	"github.com/kaspar030/dwq/internal/version"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "dwqm",
		Short:   "dwq management tool: inspect queues, control workers",
		Version: version.Version,
	}
	rootCmd.PersistentFlags().StringSlice("broker", nil, "Broker node address(es)")
	rootCmd.AddCommand(queueCmd(), controlCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func connectTool(cmd *cobra.Command) (*mgmt.Tool, *broker.BrokerContext, error) {
	cfg, _, err := config.Load(".")
	if err != nil && !errors.Is(err, config.ErrNoConfig) {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	brokerAddrs, _ := cmd.Flags().GetStringSlice("broker")
	if len(brokerAddrs) > 0 {
		cfg.Broker = brokerAddrs
	}
	bc, err := broker.Connect(context.Background(), cfg.Broker, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to broker: %w", err)
	}
	return mgmt.New(bc, os.Stdout), bc, nil
}

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or drain broker queues",
	}
	show := cmd.Flags().Bool("show", false, "Print backlog/blocked counts (default when neither flag given)")
	drain := cmd.Flags().Bool("drain", false, "Remove every queued job without running it")
	cmd.Args = cobra.ArbitraryArgs
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if *show && *drain {
			return fmt.Errorf("dwqm: --show and --drain are mutually exclusive")
		}
		tool, bc, err := connectTool(cmd)
		if err != nil {
			return err
		}
		defer bc.Close()

		if *drain {
			return tool.DrainQueues(context.Background(), args)
		}
		return tool.ShowQueues(args)
	}
	return cmd
}

func controlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "control",
		Short: "List or control worker nodes",
	}
	list := cmd.Flags().Bool("list", false, "Best-effort listing of reachable broker nodes")
	pause := cmd.Flags().Bool("pause", false, "Pause the named worker(s)")
	resume := cmd.Flags().Bool("resume", false, "Resume the named worker(s)")
	shutdown := cmd.Flags().Bool("shutdown", false, "Shut down the named worker(s)")
	secret := cmd.Flags().String("secret", "", "Sign the control command with this shared secret")
	cmd.Args = cobra.ArbitraryArgs
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		set := 0
		for _, f := range []bool{*list, *pause, *resume, *shutdown} {
			if f {
				set++
			}
		}
		if set != 1 {
			return fmt.Errorf("dwqm: control requires exactly one of --list, --pause, --resume, --shutdown")
		}

		tool, bc, err := connectTool(cmd)
		if err != nil {
			return err
		}
		defer bc.Close()

		if *list {
			return tool.ListNodes(bc.Addrs()[0])
		}
		if len(args) == 0 {
			return fmt.Errorf("dwqm: control requires at least one worker name")
		}
		switch {
		case *pause:
			return tool.ControlNodes(context.Background(), args, "pause", *secret)
		case *resume:
			return tool.ControlNodes(context.Background(), args, "resume", *secret)
		default:
			return tool.ControlNodes(context.Background(), args, "shutdown", *secret)
		}
	}
	return cmd
}
