package workerloop

import (
	"context"
	"time"

	"github.com/kaspar030/dwq/internal/broker"
	"github.com/kaspar030/dwq/internal/wire"
)

// controlLoop listens on this worker's private control queue
// (control::worker::<name>) for pause/resume/shutdown commands from
// dwqm. When Config.ControlSecret is set, commands must carry a valid
// HS256 signature over their cmd field, verified the same way the
// teacher's internal/server/auth.go validates its session cookie JWTs;
// unsigned commands are accepted with a logged warning otherwise, since
// the broker channel itself (like the rest of this module's transport)
// is outside the authentication/TLS non-goal.
func (w *Worker) controlLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := w.cfg.Broker.GetJob(ctx, []string{w.controlQueue}, broker.GetJobOpts{Timeout: getJobTimeout, Count: 8})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			time.Sleep(reconnectBackoff)
			continue
		}
		for _, m := range msgs {
			w.handleControl(m)
		}
	}
}

func (w *Worker) handleControl(m broker.JobMsg) {
	defer func() { _ = w.cfg.Broker.FastAck(m.ID) }()

	cmd, err := wire.Decode[wire.ControlCommand](m.Body)
	if err != nil {
		w.log.Warn("malformed control command", "error", err)
		return
	}

	if w.cfg.ControlSecret != "" {
		if cmd.Sig == "" {
			w.log.Warn("rejecting unsigned control command: secret configured", "cmd", cmd.Control.Cmd)
			return
		}
		if err := wire.VerifyControl(cmd, w.cfg.ControlSecret); err != nil {
			w.log.Warn("rejecting control command: bad signature", "cmd", cmd.Control.Cmd, "error", err)
			return
		}
	} else if cmd.Sig != "" {
		w.log.Warn("control command carries a signature but no secret is configured locally; proceeding unverified")
	} else {
		w.log.Warn("accepting unsigned control command: no control secret configured", "cmd", cmd.Control.Cmd)
	}

	switch cmd.Control.Cmd {
	case "pause":
		w.log.Info("pausing worker: will stop fetching new jobs")
		w.Pause()
	case "resume":
		w.log.Info("resuming worker")
		w.Resume()
	case "shutdown":
		w.log.Info("shutdown requested via control queue")
		w.shuttingDown.Store(true)
	default:
		w.log.Warn("unknown control command", "cmd", cmd.Control.Cmd)
	}
}
