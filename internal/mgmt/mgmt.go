// Package mgmt implements dwqm's queue and worker control operations
// against the broker: inspecting/draining queues, and publishing signed
// control commands to worker control queues. Grounded on dwq/dwqm.py's
// show/drain/control_cmd functions, adapted onto internal/broker.BrokerContext
// and internal/wire.ControlCommand.
package mgmt

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/kaspar030/dwq/internal/broker"
	"github.com/kaspar030/dwq/internal/token"
	"github.com/kaspar030/dwq/internal/wire"
)

// controlReplyTimeout bounds how long ControlNodes waits on its reply
// queue; workers are not required to answer, so this stays short.
const controlReplyTimeout = 2 * time.Second

// Tool wraps a broker connection with the operations dwqm exposes.
type Tool struct {
	broker *broker.BrokerContext
	out    io.Writer
}

// New creates a Tool writing human-readable output to out.
func New(b *broker.BrokerContext, out io.Writer) *Tool {
	return &Tool{broker: b, out: out}
}

// ShowQueues prints one "name: X len: Y blocked: Z" line per queue named
// in queues, sorted by name. Only the named queues are queried: when
// queues is empty nothing is printed, since queues are not discovered
// from the broker.
func (t *Tool) ShowQueues(queues []string) error {
	stats, err := t.broker.QStat(queues...)
	if err != nil {
		return fmt.Errorf("qstat: %w", err)
	}
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := stats[name]
		fmt.Fprintf(t.out, "name: %s len: %d blocked: %d\n", name, s.Len, s.Blocked)
	}
	return nil
}

// DrainQueues removes every job currently queued on queues without
// running them, by repeatedly NOHANG-fetching and fast-acking until each
// queue reports empty. Mirrors dwq/dwqm.py's drain(), which requires at
// least one queue name.
func (t *Tool) DrainQueues(ctx context.Context, queues []string) error {
	if len(queues) == 0 {
		return fmt.Errorf("dwqm: drain requires at least one queue name")
	}
	for {
		msgs, err := t.broker.GetJob(ctx, queues, broker.GetJobOpts{NoHang: true, Count: 1024})
		if err != nil {
			return fmt.Errorf("getjob: %w", err)
		}
		if len(msgs) == 0 {
			return nil
		}
		ids := make([]string, len(msgs))
		for i, m := range msgs {
			ids[i] = m.ID
		}
		if err := t.broker.FastAck(ids...); err != nil {
			return fmt.Errorf("fastack: %w", err)
		}
		fmt.Fprintf(t.out, "drained %d job(s)\n", len(ids))
	}
}

// ControlNodes sends cmd ("pause", "resume", or "shutdown") to each named
// worker's control queue, signing the command when secret is non-empty,
// then drains the shared reply queue for a short timeout and prints any
// raw reply for operator visibility. Mirrors dwq/dwqm.py's
// control_cmd()/control_send_cmd(): a worker has no reply obligation, so
// the drain is best-effort and never treated as confirmation of effect.
func (t *Tool) ControlNodes(ctx context.Context, nodes []string, cmd string, secret string) error {
	replyQueue := token.QueueName("control")
	for _, node := range nodes {
		ctrl := wire.ControlCommand{ReplyQueue: replyQueue}
		ctrl.Control.Cmd = cmd
		if secret != "" {
			sig, err := wire.SignControl(cmd, secret)
			if err != nil {
				return fmt.Errorf("sign control command for %s: %w", node, err)
			}
			ctrl.Sig = sig
		}
		body, err := wire.Encode(ctrl)
		if err != nil {
			return fmt.Errorf("encode control command for %s: %w", node, err)
		}
		queue := "control::worker::" + node
		if _, err := t.broker.AddJob(queue, body, 0); err != nil {
			return fmt.Errorf("send %s to %s: %w", cmd, node, err)
		}
		fmt.Fprintf(t.out, "sent %s to %s\n", cmd, node)
	}
	t.drainReplies(ctx, replyQueue, len(nodes))
	return nil
}

// drainReplies reads up to want replies off queue within
// controlReplyTimeout and prints each raw body it gets, fast-acking as it
// goes. Silence is normal; nothing in the protocol requires a worker to
// answer a control command.
func (t *Tool) drainReplies(ctx context.Context, queue string, want int) {
	if want == 0 {
		return
	}
	msgs, err := t.broker.GetJob(ctx, []string{queue}, broker.GetJobOpts{Timeout: controlReplyTimeout, Count: want})
	if err != nil || len(msgs) == 0 {
		return
	}
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
		fmt.Fprintf(t.out, "reply: %s\n", string(m.Body))
	}
	_ = t.broker.FastAck(ids...)
}

// ListNodes is a best-effort worker listing. The broker has no worker
// registry (workers are anonymous queue consumers), so this can only
// report the broker address dwqm is talking to; it cannot enumerate live
// workers the way a central daemon with heartbeats could.
func (t *Tool) ListNodes(brokerAddr string) error {
	fmt.Fprintf(t.out, "no worker registry: broker at %s tracks queues, not worker identities\n", brokerAddr)
	fmt.Fprintln(t.out, "use 'dwqm queue --show' to see queue backlogs, or target workers by name with 'dwqm control'")
	return nil
}
