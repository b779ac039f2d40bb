// Package workerloop implements the worker side of the protocol: a pool
// of slots pulling jobs from the broker, preparing a working directory,
// running the command, and reporting the result, with cooperative
// shutdown and pause/resume control.
//
// Adapted from the teacher's internal/worker/worker.go: the slot
// lifecycle (connect/fetch/prepare/run/report), the active-job
// tracking used to drain on shutdown, and the per-component *slog.Logger
// field all follow that file's shape. The transport is restructured
// from gorilla/websocket server push to broker.BrokerContext poll, since
// dwq workers pull from named queues rather than being pushed jobs by a
// central server.
package workerloop

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kaspar030/dwq/internal/broker"
	"github.com/kaspar030/dwq/internal/gitjobdir"
	"github.com/kaspar030/dwq/internal/jobstore"
	"github.com/kaspar030/dwq/internal/output"
	"github.com/kaspar030/dwq/internal/runner"
	"github.com/kaspar030/dwq/internal/tail"
	"github.com/kaspar030/dwq/internal/token"
	"github.com/kaspar030/dwq/internal/wire"
)

const (
	reconnectBackoff = time.Second
	getJobTimeout     = 5 * time.Second
	slotRestartDelay  = 10 * time.Second
	workingHeartbeat  = 30 * time.Second
)

// Config configures a Worker.
type Config struct {
	Name          string
	Queues        []string
	Slots         int
	Broker        *broker.BrokerContext
	JobDir        *gitjobdir.Cache
	Runner        *runner.Pool
	JobStore      jobstore.Store  // optional; nil disables history recording
	Output        *output.Archive // optional; nil inlines all output regardless of size
	TailHub       *tail.Hub       // optional; nil disables the live-output publish below
	ControlSecret string          // optional; enables verifying signed control commands
	Log           *slog.Logger
}

// Worker runs Config.Slots concurrent fetch/run/report loops plus one
// control-queue listener.
type Worker struct {
	cfg          Config
	log          *slog.Logger
	controlQueue string

	paused       atomic.Bool
	shuttingDown atomic.Bool

	working *workingSet
	wg      sync.WaitGroup
}

// New creates a Worker from cfg, applying defaults for unset fields.
func New(cfg Config) *Worker {
	if cfg.Slots < 1 {
		cfg.Slots = 1
	}
	if cfg.Name == "" {
		host, _ := os.Hostname()
		cfg.Name = host
	}
	if len(cfg.Queues) == 0 {
		cfg.Queues = []string{"default"}
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		cfg:          cfg,
		log:          log,
		controlQueue: "control::worker::" + cfg.Name,
		working:      newWorkingSet(),
	}
}

// Run starts all slots and the control listener, blocking until ctx is
// cancelled or a shutdown command arrives on the control queue, at which
// point it drains in-flight jobs (NACKing them) and removes the
// working-directory cache before returning.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker starting", "name", w.cfg.Name, "slots", w.cfg.Slots, "queues", w.cfg.Queues)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i := 0; i < w.cfg.Slots; i++ {
		w.wg.Add(1)
		go w.slotLoop(ctx, i)
	}

	w.wg.Add(1)
	go w.controlLoop(ctx)

	for ctx.Err() == nil && !w.shuttingDown.Load() {
		select {
		case <-ctx.Done():
		case <-time.After(200 * time.Millisecond):
		}
	}
	cancel()
	w.log.Info("worker shutting down, draining in-flight jobs")
	w.shuttingDown.Store(true)
	w.wg.Wait()

	w.working.nackAll(w.cfg.Broker, w.log)

	if w.cfg.JobDir != nil {
		if err := w.cfg.JobDir.Cleanup(); err != nil {
			w.log.Warn("cleanup job dir cache failed", "error", err)
		}
	}
	return nil
}

// Pause stops slots from fetching new jobs; in-flight jobs still run to
// completion and are still reported.
func (w *Worker) Pause() { w.paused.Store(true) }

// Resume clears a prior Pause.
func (w *Worker) Resume() { w.paused.Store(false) }

func (w *Worker) slotLoop(ctx context.Context, slot int) {
	defer w.wg.Done()
	slotName := fmt.Sprintf("slot-%d", slot)
	var buildnum uint64

	for {
		if ctx.Err() != nil || w.shuttingDown.Load() {
			return
		}
		if w.paused.Load() {
			select {
			case <-time.After(200 * time.Millisecond):
			case <-ctx.Done():
			}
			continue
		}
		if !w.cfg.Broker.Connected() {
			if err := w.cfg.Broker.Reconnect(ctx); err != nil {
				continue
			}
		}

		jobs, err := w.cfg.Broker.GetJob(ctx, w.cfg.Queues, broker.GetJobOpts{Timeout: getJobTimeout, Count: 1})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("broker get failed", "slot", slotName, "error", err)
			select {
			case <-time.After(reconnectBackoff):
			case <-ctx.Done():
			}
			continue
		}
		if len(jobs) == 0 {
			continue
		}

		buildnum++
		w.processSafely(ctx, slotName, buildnum, jobs[0])
	}
}

// processSafely recovers from a panic in job processing so one bad job
// restarts the slot after slotRestartDelay instead of killing the
// worker process, mirroring the spec's erroring→idle slot transition.
func (w *Worker) processSafely(ctx context.Context, slot string, buildnum uint64, job broker.JobMsg) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("worker slot panic, restarting", "slot", slot, "job_id", job.ID, "panic", r)
			time.Sleep(slotRestartDelay)
		}
	}()
	w.process(ctx, slot, buildnum, job)
}

func (w *Worker) process(ctx context.Context, slot string, buildnum uint64, job broker.JobMsg) {
	w.working.add(job.ID, job)
	defer w.working.remove(job.ID)

	if w.shuttingDown.Load() {
		_ = w.cfg.Broker.Nack(job.ID)
		return
	}

	var body wire.Job
	if err := decodeJob(job.Body, &body); err != nil || body.Validate() != nil {
		w.reportDone(job, body, wire.Result{Status: "error", Output: invalidJobReason(job.Body, err)})
		_ = w.cfg.Broker.Ack(job.ID)
		return
	}

	exclusive := body.Options.Exclusive()
	scope := slot
	if exclusive {
		scope = token.ExclusiveJobdirToken(job.ID)
	}
	unique := token.Unique(job.ID)

	dir, release, err := w.cfg.JobDir.Get(ctx, gitjobdir.Key{Repo: body.Repo, Commit: body.Commit, Scope: scope}, exclusive)
	if err != nil {
		if job.Nacks < body.Options.MaxRetries() {
			_ = w.cfg.Broker.Nack(job.ID)
			return
		}
		w.reportDoneWithUnique(job, body, wire.Result{Status: "error", Output: err.Error()}, unique)
		_ = w.cfg.Broker.Ack(job.ID)
		return
	}
	defer release()

	if err := materializeFiles(dir, body.Options.Files); err != nil {
		if job.Nacks < body.Options.MaxRetries() {
			_ = w.cfg.Broker.Nack(job.ID)
			return
		}
		w.reportDoneWithUnique(job, body, wire.Result{Status: "error", Output: err.Error()}, unique)
		_ = w.cfg.Broker.Ack(job.ID)
		return
	}

	env := w.buildEnv(body, slot, job, unique, buildnum)

	heartbeatStop := w.startHeartbeat(job.ID)
	result, runErr := w.cfg.Runner.Run(ctx, dir, body.Command, env, runner.DefaultTimeout)
	heartbeatStop()
	if ctx.Err() != nil {
		// Shutdown cancelled the command; hand the job back for redelivery.
		_ = w.cfg.Broker.Nack(job.ID)
		return
	}

	// The runner captures output in full before returning rather than
	// streaming it incrementally, so a tail subscriber sees one chunk as
	// soon as the command finishes instead of a live feed.
	if runErr == nil && w.cfg.TailHub != nil && w.cfg.TailHub.HasSubscribers(job.ID) {
		w.cfg.TailHub.Publish(job.ID, "combined", []byte(result.Output))
	}
	if runErr != nil {
		if job.Nacks < body.Options.MaxRetries() {
			_ = w.cfg.Broker.Nack(job.ID)
			return
		}
		w.reportDoneWithUnique(job, body, wire.Result{Status: "error", Output: runErr.Error()}, unique)
		_ = w.cfg.Broker.Ack(job.ID)
		return
	}

	status := any(result.ExitCode)
	if result.Timeout {
		status = "timeout"
	}
	failed := result.Timeout || result.ExitCode != 0
	if failed && job.Nacks < body.Options.MaxRetries() {
		_ = w.cfg.Broker.Nack(job.ID)
		return
	}

	res := wire.Result{
		Status:  status,
		Output:  w.archiveIfOversized(ctx, job.ID, result.Output),
		Worker:  w.cfg.Name,
		Runtime: result.Runtime.Seconds(),
	}
	w.reportDoneWithUnique(job, body, res, unique)
	_ = w.cfg.Broker.Ack(job.ID)

	if w.cfg.JobStore != nil {
		rec := jobstore.Record{
			JobID:     job.ID,
			Repo:      body.Repo,
			Commit:    body.Commit,
			Command:   body.Command,
			Queue:     job.Queue,
			Status:    fmt.Sprintf("%v", status),
			Worker:    w.cfg.Name,
			RuntimeMs: result.Runtime.Milliseconds(),
		}
		if err := w.cfg.JobStore.Record(ctx, rec); err != nil {
			w.log.Warn("job history record failed", "job_id", job.ID, "error", err)
		}
	}
}

// archiveIfOversized uploads text to the configured output archive when it
// exceeds output.InlineLimitBytes, replacing it with a short reference so
// the completion notification stays broker-friendly. Falls through to the
// raw text when no archive is configured or the upload fails.
func (w *Worker) archiveIfOversized(ctx context.Context, jobID, text string) string {
	if w.cfg.Output == nil || len(text) <= output.InlineLimitBytes {
		return text
	}
	key, err := w.cfg.Output.Put(ctx, jobID, []byte(text))
	if err != nil {
		w.log.Warn("output archive failed, inlining despite size", "job_id", jobID, "error", err)
		return text
	}
	head := text
	if len(head) > output.InlineLimitBytes {
		head = head[:output.InlineLimitBytes]
	}
	return fmt.Sprintf("[output %d bytes, archived at %s]\n%s\n...(truncated; full output is archived under the key above)\n", len(text), key, head)
}

func (w *Worker) reportDone(job broker.JobMsg, body wire.Job, res wire.Result) {
	w.reportDoneWithUnique(job, body, res, token.Unique(job.ID))
}

func (w *Worker) reportDoneWithUnique(job broker.JobMsg, body wire.Job, res wire.Result, unique string) {
	res.Unique = unique
	res.Body = &body
	if res.Worker == "" {
		res.Worker = w.cfg.Name
	}
	completion := wire.NewCompletion(job.ID, res)
	data, err := wire.Encode(completion)
	if err != nil {
		w.log.Error("encode completion failed", "job_id", job.ID, "error", err)
		return
	}
	for _, q := range wire.ExpandStatusQueues(body.StatusQueues, job.ID) {
		if _, err := w.cfg.Broker.AddJob(q, data, 0); err != nil {
			w.log.Warn("publish completion failed", "job_id", job.ID, "queue", q, "error", err)
		}
	}
}

func (w *Worker) startHeartbeat(jobID string) (stop func()) {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(workingHeartbeat)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				_ = w.cfg.Broker.Working(jobID)
			}
		}
	}()
	return func() { close(done) }
}

func (w *Worker) buildEnv(body wire.Job, slot string, job broker.JobMsg, unique string, buildnum uint64) []string {
	env := os.Environ()
	for k, v := range body.Env {
		env = append(env, k+"="+v)
	}
	controlQueue := ""
	if len(body.StatusQueues) > 0 {
		controlQueue = wire.ExpandStatusQueues(body.StatusQueues, job.ID)[0]
	}
	mandatory := map[string]string{
		"DWQ_REPO":            body.Repo,
		"DWQ_COMMIT":          body.Commit,
		"DWQ_QUEUE":           job.Queue,
		"DWQ_WORKER":          w.cfg.Name,
		"DWQ_WORKER_THREAD":   slot,
		"DWQ_JOBID":           job.ID,
		"DWQ_JOB_UNIQUE":      unique,
		"DWQ_CONTROL_QUEUE":   controlQueue,
		"DWQ_WORKER_BUILDNUM": fmt.Sprintf("%d", buildnum),
	}
	for k, v := range mandatory {
		env = append(env, k+"="+v)
	}
	return env
}

func materializeFiles(dir string, files []wire.File) error {
	for _, f := range files {
		data, err := base64.StdEncoding.DecodeString(f.DataB64)
		if err != nil {
			return fmt.Errorf("decode file %s: %w", f.Path, err)
		}
		dest := filepath.Join(dir, f.Path)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("create parent dir for %s: %w", f.Path, err)
		}
		mode := os.FileMode(f.Mode)
		if mode == 0 {
			mode = 0o644
		}
		if err := os.WriteFile(dest, data, mode); err != nil {
			return fmt.Errorf("write file %s: %w", f.Path, err)
		}
	}
	return nil
}

func decodeJob(raw []byte, out *wire.Job) error {
	v, err := wire.Decode[wire.Job](raw)
	if err != nil {
		return err
	}
	*out = v
	return nil
}

func invalidJobReason(raw []byte, err error) string {
	if err != nil {
		return "invalid job description: " + err.Error()
	}
	return "invalid job description"
}
