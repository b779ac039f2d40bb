// Package dispatch implements dwqc's submission and completion-collection
// algorithm: build job bodies from CLI input, enqueue them on the broker,
// then drain a private control queue until every submitted job (and every
// subjob announced against it) has reported a completion. Grounded
// field-for-field on dwq/dwqc.py, restructured into the teacher's
// cmd-package/context.Context/signal.Notify shape from internal/cli/run.go.
package dispatch

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kaspar030/dwq/internal/broker"
	"github.com/kaspar030/dwq/internal/tail"
	"github.com/kaspar030/dwq/internal/token"
	"github.com/kaspar030/dwq/internal/wire"
)

// Options configures one dwqc invocation, mirroring dwq/dwqc.py's CLI flags.
type Options struct {
	Queue            string
	Repo             string
	Commit           string
	ExclusiveJobdir  bool
	Progress         bool
	ReportQueue      string
	Verbose          bool
	Quiet            bool
	Stdin            bool
	Batch            bool
	Subjob           bool
	Env              []string
	Files            []string
	Command          string
	OutFile          string

	// TailAddr, when set, attaches a live log watch (internal/tail) to
	// every job this invocation submits, printing chunks as they arrive
	// alongside the normal buffered completion output.
	TailAddr string

	// Subjob mode reads these from the environment a worker set up for
	// the command it's running; exposed here so callers (and tests) can
	// inject them without touching the process environment.
	ControlQueueEnv string
	ParentJobIDEnv  string
	JobUniqueEnv    string
}

// Result summarizes a completed dwqc run.
type Result struct {
	ExitCode int
	Passed   int
	Failed   int
	Results  []wire.Completion // every collected completion; dwqc writes them to Options.OutFile when set
}

// Dispatcher submits jobs and collects their completions.
type Dispatcher struct {
	broker *broker.BrokerContext
	out    io.Writer
	errOut io.Writer
}

// New creates a Dispatcher writing progress/output to out/errOut.
func New(b *broker.BrokerContext, out, errOut io.Writer) *Dispatcher {
	return &Dispatcher{broker: b, out: out, errOut: errOut}
}

// Run executes one dwqc invocation against stdin (for stdin-driven job
// lists) per opts, returning the process exit code dwqc would use.
func (d *Dispatcher) Run(ctx context.Context, opts Options, stdin io.Reader) (Result, error) {
	if opts.Subjob {
		return d.runSubjob(ctx, opts, stdin)
	}
	return d.runMaster(ctx, opts, stdin)
}

func (d *Dispatcher) runSubjob(ctx context.Context, opts Options, stdin io.Reader) (Result, error) {
	controlQueue := opts.ControlQueueEnv
	if controlQueue == "" {
		controlQueue = os.Getenv("DWQ_CONTROL_QUEUE")
	}
	if controlQueue == "" {
		return Result{ExitCode: 1}, fmt.Errorf("dwqc: --subjob specified, but DWQ_CONTROL_QUEUE unset")
	}
	parentJobID := opts.ParentJobIDEnv
	if parentJobID == "" {
		parentJobID = os.Getenv("DWQ_JOBID")
	}
	if parentJobID == "" {
		return Result{ExitCode: 1}, fmt.Errorf("dwqc: --subjob specified, but DWQ_JOBID unset")
	}
	unique := opts.JobUniqueEnv
	if unique == "" {
		unique = os.Getenv("DWQ_JOB_UNIQUE")
	}

	fileData, err := genFileData(opts.Files)
	if err != nil {
		return Result{ExitCode: 1}, fmt.Errorf("dwqc: error processing --file argument: %w", err)
	}

	commands, err := d.collectCommands(opts, stdin)
	if err != nil {
		return Result{ExitCode: 1}, err
	}

	for _, cmd := range commands {
		job := buildJob(opts, cmd, fileData, parentJobID)
		// The subjob's completion is published to the same control queue
		// the top-level dwqc process is already polling, so it folds into
		// that reconciliation loop alongside the announcement below.
		job.StatusQueues = []string{controlQueue}
		jobID, err := d.broker.AddJob(opts.Queue, mustEncode(job), 0)
		if err != nil {
			return Result{ExitCode: 1}, fmt.Errorf("add job: %w", err)
		}
		ann := wire.SubjobAnnouncement{Parent: parentJobID, Subjob: jobID, Unique: unique}
		if _, err := d.broker.AddJob(controlQueue, mustEncode(ann), 0); err != nil {
			return Result{ExitCode: 1}, fmt.Errorf("announce subjob: %w", err)
		}
	}

	if opts.ReportQueue != "" {
		d.report(opts.ReportQueue, map[string]any{"status": "done"})
	}
	return Result{ExitCode: 0}, nil
}

func (d *Dispatcher) runMaster(ctx context.Context, opts Options, stdin io.Reader) (Result, error) {
	controlQueue := token.QueueName("control")
	start := time.Now()

	if opts.ReportQueue != "" {
		d.report(opts.ReportQueue, map[string]any{"status": "collecting jobs"})
	}

	fileData, err := genFileData(opts.Files)
	if err != nil {
		return Result{ExitCode: 1}, fmt.Errorf("dwqc: error processing --file argument: %w", err)
	}

	tr := newTracker()

	submit := func(cmd string) error {
		job := buildJob(opts, cmd, fileData, "")
		job.StatusQueues = []string{controlQueue}
		jobID, err := d.broker.AddJob(opts.Queue, mustEncode(job), 0)
		if err != nil {
			return fmt.Errorf("add job: %w", err)
		}
		tr.addJob(jobID)
		if opts.Verbose {
			fmt.Fprintf(d.out, "dwqc: job %s command=%q sent.\n", jobID, cmd)
		}
		if opts.TailAddr != "" {
			go d.watchTail(ctx, opts.TailAddr, jobID)
		}
		return nil
	}

	// A bare --command (no stdin involved) is always a single submission.
	// Stdin-driven input submits each job as its line is read unless
	// --batch defers everything until EOF, matching dwq/dwqc.py: plain
	// mode keeps workers fed while a slow producer is still writing
	// lines, batch mode waits for the full list before sending any job.
	readsStdin := opts.Command == "" || opts.Stdin
	switch {
	case !readsStdin:
		if err := submit(opts.Command); err != nil {
			return Result{ExitCode: 1}, err
		}
	case opts.Batch:
		commands, err := d.collectCommands(opts, stdin)
		if err != nil {
			return Result{ExitCode: 1}, err
		}
		for _, cmd := range commands {
			if err := submit(cmd); err != nil {
				return Result{ExitCode: 1}, err
			}
		}
	default:
		if err := streamSubmit(opts, stdin, submit); err != nil {
			return Result{ExitCode: 1}, err
		}
	}

	if opts.Stdin {
		fmt.Fprintln(d.out, "dwqc: all jobs sent.")
	}

	progress := newProgressRenderer(d.out, opts.Progress)

	for !tr.done() {
		// A completion discovered while resolving another one (its
		// announcement had already arrived) is replayed before the next
		// broker round-trip, so a batch of chained subjobs drains in one
		// pass rather than one poll per level.
		for {
			comp, ok := tr.popEarly()
			if !ok {
				break
			}
			d.handleCompletion(comp, opts, tr, start, progress)
		}
		if tr.done() {
			break
		}

		if ctx.Err() != nil {
			d.cancelAll(tr)
			if opts.ReportQueue != "" {
				d.report(opts.ReportQueue, map[string]any{"status": "canceled"})
			}
			return Result{ExitCode: 1}, ctx.Err()
		}

		msgs, err := d.broker.GetJob(ctx, []string{controlQueue}, broker.GetJobOpts{Timeout: 5 * time.Second, Count: 128})
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			return Result{ExitCode: 1}, fmt.Errorf("collect completions: %w", err)
		}
		for _, m := range msgs {
			_ = d.broker.FastAck(m.ID)
			if ann, ok := wire.IsAnnouncement(m.Body); ok {
				tr.addAnnouncement(ann)
				continue
			}
			comp, err := wire.Decode[wire.Completion](m.Body)
			if err != nil {
				continue
			}
			d.handleCompletion(comp, opts, tr, start, progress)
		}
	}

	if opts.ReportQueue != "" {
		d.report(opts.ReportQueue, map[string]any{"status": "done", "passed": tr.passed, "failed": tr.failed})
	}

	res := Result{ExitCode: 0, Passed: tr.passed, Failed: tr.failed, Results: tr.completions}
	if tr.failed > 0 {
		res.ExitCode = 1
	}
	return res, nil
}

// handleCompletion folds one completion into tr, printing its output and
// reporting progress. Completions whose job id isn't yet tracked (their
// announcement hasn't arrived) are queued in tr.unexpected and produce no
// visible effect until reconciled.
func (d *Dispatcher) handleCompletion(comp wire.Completion, opts Options, tr *tracker, start time.Time, progress *progressRenderer) {
	newJobs, ok := tr.addCompletion(comp)
	if !ok {
		return
	}
	for _, j := range newJobs {
		tr.addJob(j)
	}

	if !opts.Quiet {
		fmt.Fprint(d.out, comp.Result.Output)
	}

	elapsed := time.Since(start)
	progress.render(elapsed, tr)
	if opts.ReportQueue != "" {
		d.report(opts.ReportQueue, map[string]any{
			"status": "working", "elapsed": elapsed.Seconds(),
			"total": tr.total, "passed": tr.passed, "failed": tr.failed,
		})
	}
}

// watchTail attaches to jobID's live output over addr and prints each
// chunk as it arrives. Purely observational: a dial failure or dropped
// connection only stops the tail, it never affects the job itself or the
// buffered completion output handleCompletion prints separately.
func (d *Dispatcher) watchTail(ctx context.Context, addr, jobID string) {
	chunks, err := tail.Watch(ctx, addr, jobID)
	if err != nil {
		fmt.Fprintf(d.errOut, "dwqc: tail %s: %v\n", jobID, err)
		return
	}
	for c := range chunks {
		fmt.Fprintf(d.out, "[tail %s/%s] %s", jobID, c.Stream, c.Data)
	}
}

func (d *Dispatcher) cancelAll(tr *tracker) {
	fmt.Fprintln(d.errOut, "dwqc: cancelling...")
	for id := range tr.jobs {
		_ = d.broker.Del(id)
	}
}

func (d *Dispatcher) report(queue string, fields map[string]any) {
	data, err := json.Marshal(fields)
	if err != nil {
		return
	}
	_, _ = d.broker.AddJob(queue, data, 0)
}

// collectCommands expands opts into the list of shell commands to submit:
// a single --command, or one per non-empty stdin line (with placeholder
// substitution when Stdin is set). Each line is used whole: a trailing
// "###{json options}" suffix is neither split off nor applied as per-line
// options.
func (d *Dispatcher) collectCommands(opts Options, stdin io.Reader) ([]string, error) {
	if opts.Command != "" && !opts.Stdin {
		return []string{opts.Command}, nil
	}

	var commands []string
	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		command := line
		if opts.Stdin {
			command = substitutePlaceholders(opts.Command, line)
		}
		commands = append(commands, command)
	}
	return commands, scanner.Err()
}

// streamSubmit scans stdin line by line, invoking submit for each command
// as soon as it is read rather than collecting the whole list first. Used
// for non-batch stdin mode so a long-running producer keeps workers fed
// while it is still writing lines.
func streamSubmit(opts Options, stdin io.Reader, submit func(cmd string) error) error {
	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		cmd := line
		if opts.Stdin {
			cmd = substitutePlaceholders(opts.Command, line)
		}
		if err := submit(cmd); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// substitutePlaceholders replaces ${1}, ${2}, ... in template with
// whitespace-split fields of line, mirroring dwq/dwqc.py's --stdin mode.
func substitutePlaceholders(template, line string) string {
	fields := strings.Fields(line)
	out := template
	for i, f := range fields {
		out = strings.ReplaceAll(out, fmt.Sprintf("${%d}", i+1), f)
	}
	return out
}

func buildJob(opts Options, command string, fileData []wire.File, parent string) wire.Job {
	job := wire.Job{
		Repo:    opts.Repo,
		Commit:  opts.Commit,
		Command: command,
		Parent:  parent,
		Env:     getEnv(opts.Env),
	}
	if opts.ExclusiveJobdir {
		job.Options.Jobdir = "exclusive"
	}
	if len(fileData) > 0 {
		job.Options.Files = fileData
	}
	return job
}

// getEnv parses "--env" values shaped "NAME=value" or "NAME" (forwarding
// the client's own environment variable), mirroring dwq/dwqc.py's get_env.
func getEnv(specs []string) map[string]string {
	if len(specs) == 0 {
		return nil
	}
	out := make(map[string]string)
	for _, spec := range specs {
		parts := strings.SplitN(spec, "=", 2)
		if len(parts) == 1 {
			val, ok := os.LookupEnv(parts[0])
			if !ok {
				continue
			}
			out[parts[0]] = val
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out
}

// genFileData reads "--file" specs shaped "localpath[:remotepath]" and
// base64-encodes their contents into wire.File entries materialized into
// the job's working directory before the command runs.
func genFileData(specs []string) ([]wire.File, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	var out []wire.File
	for _, spec := range specs {
		parts := strings.SplitN(spec, ":", 2)
		localPath := parts[0]
		remotePath := localPath
		if len(parts) == 2 {
			remotePath = parts[1]
		}
		data, err := os.ReadFile(localPath)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", localPath, err)
		}
		info, err := os.Stat(localPath)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", localPath, err)
		}
		out = append(out, wire.File{
			Path:    remotePath,
			Mode:    uint32(info.Mode().Perm()),
			DataB64: base64.StdEncoding.EncodeToString(data),
		})
	}
	return out, nil
}

func mustEncode(v any) []byte {
	data, err := wire.Encode(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
