// Package broker is a thin client for the external Disque-compatible job
// broker: opaque job ids, named queues, at-least-once delivery via
// ACK/FASTACK/NACK, and a blocking GETJOB primitive. The broker process
// itself is out of scope for this module; this package only speaks its
// wire protocol.
package broker

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// Client is a single connection to one broker node.
type Client struct {
	addr string

	mu   sync.Mutex
	conn net.Conn
	w    *respWriter
	r    *respReader
}

// Dial connects to a single broker node.
func Dial(ctx context.Context, addr string) (*Client, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("broker: dial %s: %w", addr, err)
	}
	return &Client{
		addr: addr,
		conn: conn,
		w:    newRespWriter(conn),
		r:    newRespReader(conn),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Connected reports whether the connection is still believed live. This
// is best-effort: a dead TCP peer is only discovered on the next call.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) call(args ...string) (respValue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return respValue{}, fmt.Errorf("broker: not connected")
	}
	if err := c.w.writeCommand(args...); err != nil {
		c.conn = nil
		return respValue{}, fmt.Errorf("broker: write: %w", err)
	}
	v, err := c.r.readValue()
	if err != nil {
		c.conn = nil
		return respValue{}, fmt.Errorf("broker: read: %w", err)
	}
	if e := v.asError(); e != nil {
		return respValue{}, e
	}
	return v, nil
}

// setReadDeadline lets GetJob bound a blocking read by the caller's
// context deadline, since the broker wire protocol has no in-band
// cancel. A context cancelled without a deadline does not interrupt a
// read already in progress.
func (c *Client) setReadDeadline(d time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.SetReadDeadline(d)
	}
}

// AddJob enqueues a job body and returns its broker-assigned id.
func (c *Client) AddJob(queue string, body []byte, timeout time.Duration) (string, error) {
	v, err := c.call("ADDJOB", queue, string(body), strconv.FormatInt(timeout.Milliseconds(), 10))
	if err != nil {
		return "", err
	}
	return v.Str, nil
}

// JobMsg is one delivery returned by GetJob.
type JobMsg struct {
	Queue      string
	ID         string
	Body       []byte
	Nacks      int
	Deliveries int
}

// GetJobOpts configures a GetJob call.
type GetJobOpts struct {
	Timeout time.Duration // 0 blocks indefinitely (subject to ctx)
	Count   int           // 0 means 1
	NoHang  bool
}

// GetJob blocks (subject to ctx and opts.Timeout) until at least one job
// is available on one of queues, or returns immediately with none when
// NoHang is set.
func (c *Client) GetJob(ctx context.Context, queues []string, opts GetJobOpts) ([]JobMsg, error) {
	args := []string{"GETJOB"}
	if opts.NoHang {
		args = append(args, "NOHANG")
	} else {
		timeoutMs := opts.Timeout.Milliseconds()
		if timeoutMs <= 0 {
			timeoutMs = 0
		}
		args = append(args, "TIMEOUT", strconv.FormatInt(timeoutMs, 10))
	}
	count := opts.Count
	if count <= 0 {
		count = 1
	}
	args = append(args, "COUNT", strconv.Itoa(count), "WITHCOUNTERS", "FROM")
	args = append(args, queues...)

	if deadline, ok := ctx.Deadline(); ok {
		c.setReadDeadline(deadline)
		defer c.setReadDeadline(time.Time{})
	}

	v, err := c.call(args...)
	if err != nil {
		return nil, err
	}
	if v.Null || len(v.Array) == 0 {
		return nil, nil
	}
	out := make([]JobMsg, 0, len(v.Array))
	for _, item := range v.Array {
		// [queue, id, body, nacks, deliveries]
		if len(item.Array) < 3 {
			continue
		}
		jm := JobMsg{
			Queue: item.Array[0].Str,
			ID:    item.Array[1].Str,
			Body:  []byte(item.Array[2].Str),
		}
		if len(item.Array) >= 5 {
			jm.Nacks = int(item.Array[3].Int)
			jm.Deliveries = int(item.Array[4].Int)
		}
		out = append(out, jm)
	}
	return out, nil
}

// Ack permanently removes a job after successful processing.
func (c *Client) Ack(id string) error {
	_, err := c.call("ACKJOB", id)
	return err
}

// FastAck acks without the replication round-trip the real ACKJOB does;
// used by the management tool's drain, which doesn't need delivery
// guarantees on the ack itself.
func (c *Client) FastAck(ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := c.call(append([]string{"FASTACK"}, ids...)...)
	return err
}

// Nack requests immediate redelivery, incrementing the job's nack
// counter.
func (c *Client) Nack(id string) error {
	_, err := c.call("NACK", id)
	return err
}

// Del removes jobs outright (used by client cancellation).
func (c *Client) Del(ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := c.call(append([]string{"DELJOB"}, ids...)...)
	return err
}

// Working extends a job's processing lease; workers call this as a
// heartbeat on long-running commands so the broker doesn't consider the
// job abandoned.
func (c *Client) Working(id string) error {
	_, err := c.call("WORKING", id)
	return err
}

// QueueStat describes one queue's backlog.
type QueueStat struct {
	Len     int
	Blocked int
}

// QStat reports backlog/blocked-consumer counts per queue.
func (c *Client) QStat(queues ...string) (map[string]QueueStat, error) {
	out := make(map[string]QueueStat, len(queues))
	for _, q := range queues {
		v, err := c.call("QSTAT", q)
		if err != nil {
			return nil, err
		}
		stat := QueueStat{}
		for i := 0; i+1 < len(v.Array); i += 2 {
			switch v.Array[i].Str {
			case "len":
				stat.Len = int(v.Array[i+1].Int)
			case "blocked":
				stat.Blocked = int(v.Array[i+1].Int)
			}
		}
		out[q] = stat
	}
	return out, nil
}
