// Command dwqw runs a worker that pulls jobs from one or more broker
// queues, checks out the requested (repo, commit), runs the job's
// command, and reports the result. Structured the way the teacher's
// cmd/cinch/main.go wires its "worker"/"daemon" subcommands together
// with spf13/cobra, restructured around internal/workerloop instead of
// the teacher's websocket-pushed job model.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kaspar030/dwq/internal/broker"
	"github.com/kaspar030/dwq/internal/config"
	"github.com/kaspar030/dwq/internal/gitjobdir"
	"github.com/kaspar030/dwq/internal/jobstore"
	"github.com/kaspar030/dwq/internal/output"
	"github.com/kaspar030/dwq/internal/runner"
	"github.com/kaspar030/dwq/internal/tail"
	"github.com/kaspar030/dwq/internal/version"
	"github.com/kaspar030/dwq/internal/workerloop"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "dwqw",
		Short:   "dwq worker: pulls jobs from a broker queue and runs them",
		Version: version.Version,
		RunE:    runWorker,
	}
	rootCmd.Flags().StringSlice("broker", nil, "Broker node address(es), e.g. localhost:7711 (repeatable)")
	rootCmd.Flags().StringSlice("queue", nil, "Queue name(s) to pull jobs from (repeatable)")
	rootCmd.Flags().String("name", "", "Worker name (default: hostname); also used for control::worker::<name>")
	rootCmd.Flags().Int("slots", 0, "Number of concurrent job slots (default: 1)")
	rootCmd.Flags().String("jobdir-root", "", "Directory to cache git checkouts under")
	rootCmd.Flags().Int("jobdir-capacity", 0, "Maximum concurrent checkouts cached")
	rootCmd.Flags().String("jobstore-dsn", "", "Job history store DSN (sqlite path, :memory:, or postgres://...)")
	rootCmd.Flags().String("jobstore-secret", "", "If set, encrypt recorded job commands at rest in the job store")
	rootCmd.Flags().String("control-secret", "", "Shared secret required on signed dwqm control commands")
	rootCmd.Flags().String("output-bucket", "", "S3-compatible bucket for archiving oversized job output")
	rootCmd.Flags().String("output-prefix", "dwq", "Key prefix within --output-bucket")
	rootCmd.Flags().String("output-endpoint", "", "Custom S3 endpoint (for R2/MinIO/etc.)")
	rootCmd.Flags().String("tail-addr", "", "If set, serve a websocket live-log endpoint on this address")
	rootCmd.Flags().Bool("verbose", false, "Debug-level logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runWorker(cmd *cobra.Command, args []string) error {
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
	queues, _ := cmd.Flags().GetStringSlice("queue")
	if len(queues) == 0 {
		queues = []string{cfg.Queue}
	}
	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name = cfg.WorkerName
	}
	slots, _ := cmd.Flags().GetInt("slots")
	if slots == 0 {
		slots = cfg.Concurrency
	}
	jobdirRoot, _ := cmd.Flags().GetString("jobdir-root")
	if jobdirRoot == "" {
		jobdirRoot = cfg.JobdirRoot
	}
	jobdirCapacity, _ := cmd.Flags().GetInt("jobdir-capacity")
	if jobdirCapacity == 0 {
		jobdirCapacity = cfg.JobdirCapacity
	}
	jobstoreDSN, _ := cmd.Flags().GetString("jobstore-dsn")
	if jobstoreDSN == "" {
		jobstoreDSN = cfg.JobStoreDSN
	}
	jobstoreSecret, _ := cmd.Flags().GetString("jobstore-secret")
	if jobstoreSecret == "" {
		jobstoreSecret = cfg.JobStoreSecret
	}
	controlSecret, _ := cmd.Flags().GetString("control-secret")
	if controlSecret == "" {
		controlSecret = cfg.ControlSecret
	}
	outputBucket, _ := cmd.Flags().GetString("output-bucket")
	if outputBucket == "" {
		outputBucket = cfg.OutputBucket
	}
	outputPrefix, _ := cmd.Flags().GetString("output-prefix")
	if outputPrefix == "dwq" && cfg.OutputPrefix != "" {
		outputPrefix = cfg.OutputPrefix
	}
	outputEndpoint, _ := cmd.Flags().GetString("output-endpoint")
	tailAddr, _ := cmd.Flags().GetString("tail-addr")
	verbose, _ := cmd.Flags().GetBool("verbose")

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down, draining in-flight jobs")
		cancel()
	}()

	bc, err := broker.Connect(ctx, cfg.Broker, log)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer bc.Close()

	jobDir, err := gitjobdir.New(jobdirRoot, jobdirCapacity, gitjobdir.GitCloner{}, log)
	if err != nil {
		return fmt.Errorf("init jobdir cache: %w", err)
	}

	var store jobstore.Store
	if jobstoreDSN != "" {
		store, err = jobstore.Open(jobstoreDSN)
		if err != nil {
			return fmt.Errorf("open job store: %w", err)
		}
		defer store.Close()
		store, err = jobstore.WithEncryption(store, jobstoreSecret)
		if err != nil {
			return fmt.Errorf("init jobstore encryption: %w", err)
		}
	}

	var archive *output.Archive
	if outputBucket != "" {
		archive, err = output.New(ctx, output.Config{
			Endpoint: outputEndpoint,
			Bucket:   outputBucket,
			Prefix:   outputPrefix,
		})
		if err != nil {
			return fmt.Errorf("init output archive: %w", err)
		}
	}

	hub := tail.NewHub()
	if tailAddr != "" {
		srv := tail.NewServer(hub, log)
		go func() {
			log.Info("tail server listening", "addr", tailAddr)
			if err := http.ListenAndServe(tailAddr, srv); err != nil {
				log.Error("tail server stopped", "error", err)
			}
		}()
	}

	w := workerloop.New(workerloop.Config{
		Name:          name,
		Queues:        queues,
		Slots:         slots,
		Broker:        bc,
		JobDir:        jobDir,
		Runner:        runner.NewPool(slots),
		JobStore:      store,
		Output:        archive,
		TailHub:       hub,
		ControlSecret: controlSecret,
		Log:           log,
	})

	log.Info("dwqw starting", "queues", queues, "slots", slots, "broker", cfg.Broker)
	return w.Run(ctx)
}
