// Command dwqc submits jobs to a dwq broker queue and waits for their
// completions (including any subjobs they spawn), printing output as it
// arrives. Flag surface and submission/collection semantics are a direct
// port of dwq/dwqc.py; the cobra wiring and ctx/signal shape follow the
// teacher's cmd/cinch/main.go "run" command and internal/cli/run.go.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kaspar030/dwq/internal/broker"
	"github.com/kaspar030/dwq/internal/config"
	"github.com/kaspar030/dwq/internal/dispatch"
	"github.com/kaspar030/dwq/internal/version"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "dwqc [flags] -- command...",
		Short:   "dwq client: submit a job and wait for its result",
		Version: version.Version,
		Args:    cobra.ArbitraryArgs,
		RunE:    runDwqc,
	}
	rootCmd.Flags().StringSliceP("broker", "", nil, "Broker node address(es)")
	rootCmd.Flags().StringP("queue", "q", "", "Queue to submit to")
	rootCmd.Flags().StringP("repo", "r", "", "Repository URL")
	rootCmd.Flags().StringP("commit", "c", "", "Commit/ref to check out")
	rootCmd.Flags().BoolP("exclusive-jobdir", "e", false, "Request a private working directory")
	rootCmd.Flags().BoolP("progress", "P", false, "Print a progress line while waiting")
	rootCmd.Flags().StringP("report", "R", "", "Publish status updates to this queue")
	rootCmd.Flags().BoolP("verbose", "v", false, "Print a line per submitted job")
	rootCmd.Flags().BoolP("quiet", "Q", false, "Suppress job output")
	rootCmd.Flags().BoolP("stdin", "s", false, "Read one job per stdin line, substituting ${1}, ${2}, ... from the line")
	rootCmd.Flags().StringP("outfile", "o", "", "Write collected results as JSON to this file")
	rootCmd.Flags().BoolP("batch", "b", false, "Defer submission until all stdin lines are read")
	rootCmd.Flags().BoolP("subjob", "S", false, "Announce as a subjob of DWQ_JOBID on DWQ_CONTROL_QUEUE, then exit")
	rootCmd.Flags().StringArrayP("env", "E", nil, "Forward an environment variable: NAME or NAME=value (repeatable)")
	rootCmd.Flags().StringArrayP("file", "F", nil, "Materialize a local file into the job: local[:remote] (repeatable)")
	rootCmd.Flags().String("tail", "", "Live-watch job output over the given dwqw --tail-addr as it runs")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runDwqc(cmd *cobra.Command, args []string) error {
	cfg, _, err := config.Load(".")
	if err != nil && !errors.Is(err, config.ErrNoConfig) {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg == nil {
		cfg = config.Default()
	}

	brokerAddrs, _ := cmd.Flags().GetStringSlice("broker")
	if len(brokerAddrs) > 0 {
		cfg.Broker = brokerAddrs
	}
	queue, _ := cmd.Flags().GetString("queue")
	if queue == "" {
		queue = os.Getenv("DWQ_QUEUE")
	}
	if queue == "" {
		queue = cfg.Queue
	}
	repo, _ := cmd.Flags().GetString("repo")
	if repo == "" {
		repo = os.Getenv("DWQ_REPO")
	}
	commit, _ := cmd.Flags().GetString("commit")
	if commit == "" {
		commit = os.Getenv("DWQ_COMMIT")
	}
	if repo == "" {
		return fmt.Errorf("dwqc: --repo is required (or set $DWQ_REPO)")
	}
	if commit == "" {
		return fmt.Errorf("dwqc: --commit is required (or set $DWQ_COMMIT)")
	}
	exclusive, _ := cmd.Flags().GetBool("exclusive-jobdir")
	progress, _ := cmd.Flags().GetBool("progress")
	reportQueue, _ := cmd.Flags().GetString("report")
	verbose, _ := cmd.Flags().GetBool("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")
	stdin, _ := cmd.Flags().GetBool("stdin")
	outfile, _ := cmd.Flags().GetString("outfile")
	batch, _ := cmd.Flags().GetBool("batch")
	subjob, _ := cmd.Flags().GetBool("subjob")
	env, _ := cmd.Flags().GetStringArray("env")
	files, _ := cmd.Flags().GetStringArray("file")
	tailAddr, _ := cmd.Flags().GetString("tail")

	opts := dispatch.Options{
		Queue:           queue,
		Repo:            repo,
		Commit:          commit,
		ExclusiveJobdir: exclusive,
		Progress:        progress,
		ReportQueue:     reportQueue,
		Verbose:         verbose,
		Quiet:           quiet,
		Stdin:           stdin,
		Batch:           batch,
		Subjob:          subjob,
		Env:             env,
		Files:           files,
		Command:         strings.Join(args, " "),
		OutFile:         outfile,
		TailAddr:        tailAddr,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	bc, err := broker.Connect(ctx, cfg.Broker, nil)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer bc.Close()

	d := dispatch.New(bc, os.Stdout, os.Stderr)
	result, err := d.Run(ctx, opts, os.Stdin)
	if err != nil && result.ExitCode == 0 {
		result.ExitCode = 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "dwqc: %v\n", err)
	}

	if opts.OutFile != "" {
		if werr := writeResults(opts.OutFile, result); werr != nil {
			fmt.Fprintf(os.Stderr, "dwqc: writing --outfile: %v\n", werr)
		}
	}

	os.Exit(result.ExitCode)
	return nil
}

func writeResults(path string, result dispatch.Result) error {
	data, err := json.MarshalIndent(result.Results, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
