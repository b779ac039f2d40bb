package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// BrokerContext is the single handle through which a client, worker, or
// management process talks to the broker cluster. It is always passed
// explicitly — the teacher's own equivalents (storage, logstore) are
// constructed once and threaded through via struct fields rather than
// package-level state, and this follows the same discipline rather than
// keeping a hidden global connection.
type BrokerContext struct {
	addrs []string
	log   *slog.Logger

	mu      sync.Mutex
	client  *Client
	backoff time.Duration
}

const (
	minReconnectBackoff = time.Second
	maxReconnectBackoff = 60 * time.Second
)

// Connect dials the first reachable node among addrs.
func Connect(ctx context.Context, addrs []string, log *slog.Logger) (*BrokerContext, error) {
	if log == nil {
		log = slog.Default()
	}
	if len(addrs) == 0 {
		addrs = []string{"localhost:7711"}
	}
	bc := &BrokerContext{addrs: addrs, log: log, backoff: minReconnectBackoff}
	if err := bc.reconnectLocked(ctx); err != nil {
		return nil, err
	}
	return bc, nil
}

// Connected reports whether the handle currently has a live connection.
func (bc *BrokerContext) Connected() bool {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.client != nil && bc.client.Connected()
}

// Close releases the underlying connection.
func (bc *BrokerContext) Close() error {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.client == nil {
		return nil
	}
	err := bc.client.Close()
	bc.client = nil
	return err
}

func (bc *BrokerContext) reconnectLocked(ctx context.Context) error {
	var lastErr error
	for _, addr := range bc.addrs {
		c, err := Dial(ctx, addr)
		if err == nil {
			bc.client = c
			bc.backoff = minReconnectBackoff
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("broker: no reachable node among %v: %w", bc.addrs, lastErr)
}

// Reconnect re-dials with exponential backoff (1s doubling to 60s), per
// the worker's top-level reconnect policy.
func (bc *BrokerContext) Reconnect(ctx context.Context) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if err := bc.reconnectLocked(ctx); err != nil {
		bc.log.Warn("broker reconnect failed", "error", err, "backoff", bc.backoff)
		wait := bc.backoff
		bc.backoff *= 2
		if bc.backoff > maxReconnectBackoff {
			bc.backoff = maxReconnectBackoff
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
		}
		return err
	}
	return nil
}

// current returns the live client, or an error if none is connected.
func (bc *BrokerContext) current() (*Client, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.client == nil {
		return nil, fmt.Errorf("broker: not connected")
	}
	return bc.client, nil
}

func (bc *BrokerContext) AddJob(queue string, body []byte, timeout time.Duration) (string, error) {
	c, err := bc.current()
	if err != nil {
		return "", err
	}
	return c.AddJob(queue, body, timeout)
}

func (bc *BrokerContext) GetJob(ctx context.Context, queues []string, opts GetJobOpts) ([]JobMsg, error) {
	c, err := bc.current()
	if err != nil {
		return nil, err
	}
	return c.GetJob(ctx, queues, opts)
}

func (bc *BrokerContext) Ack(id string) error {
	c, err := bc.current()
	if err != nil {
		return err
	}
	return c.Ack(id)
}

func (bc *BrokerContext) FastAck(ids ...string) error {
	c, err := bc.current()
	if err != nil {
		return err
	}
	return c.FastAck(ids...)
}

func (bc *BrokerContext) Nack(id string) error {
	c, err := bc.current()
	if err != nil {
		return err
	}
	return c.Nack(id)
}

func (bc *BrokerContext) Del(ids ...string) error {
	c, err := bc.current()
	if err != nil {
		return err
	}
	return c.Del(ids...)
}

func (bc *BrokerContext) Working(id string) error {
	c, err := bc.current()
	if err != nil {
		return err
	}
	return c.Working(id)
}

func (bc *BrokerContext) QStat(queues ...string) (map[string]QueueStat, error) {
	c, err := bc.current()
	if err != nil {
		return nil, err
	}
	return c.QStat(queues...)
}

// Addrs returns the configured broker node addresses, used by dwqm's
// best-effort "control --list".
func (bc *BrokerContext) Addrs() []string {
	return append([]string(nil), bc.addrs...)
}
