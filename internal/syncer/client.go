package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/possuite/possync/internal/auth"
	"github.com/possuite/possync/internal/cursor"
	"github.com/possuite/possync/internal/model"
	"github.com/possuite/possync/internal/outbox"
	"github.com/possuite/possync/internal/resolver"
)

// ErrSyncInProgress means a cycle was requested while one is running.
var ErrSyncInProgress = errors.New("sync cycle already in progress")

// ErrNotAuthorized means the actor may not trigger a manual sync.
var ErrNotAuthorized = errors.New("actor may not trigger manual sync")

// HubClient is the transport to the hub. Implementations must be safe to
// retry: the engine resends identical batches after any failure.
type HubClient interface {
	Push(ctx context.Context, batch model.SyncBatch) (model.PushAck, error)
	Pull(ctx context.Context, terminalID string, sinceToken uint64) (model.PullResult, error)
}

// State is the coarse health of the replication subsystem. Degraded never
// blocks local business operations.
type State int

const (
	StateIdle State = iota
	StateSyncing
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSyncing:
		return "syncing"
	default:
		return "degraded"
	}
}

// Status is a point-in-time snapshot of the engine's health.
type Status struct {
	State       State
	Failures    int
	LastError   string
	LastSyncUTC time.Time
}

// Config tunes the engine.
type Config struct {
	TerminalID string
	Interval   time.Duration
	BackoffCap time.Duration
	BatchLimit int
}

// Client drives the periodic push/pull exchange with the hub. A cycle is
// single-flight: a tick or manual trigger that lands while one runs is
// skipped, never interleaved.
type Client struct {
	cfg   Config
	ob    *outbox.Outbox
	curs  *cursor.Store
	res   *resolver.Resolver
	hub   HubClient
	authz auth.Authorizer
	log   *zap.SugaredLogger

	runMu   sync.Mutex
	trigger chan struct{}

	stMu   sync.Mutex
	status Status
}

func New(cfg Config, ob *outbox.Outbox, curs *cursor.Store, res *resolver.Resolver,
	hub HubClient, authz auth.Authorizer, log *zap.SugaredLogger) *Client {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 10 * time.Minute
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 500
	}
	return &Client{
		cfg: cfg, ob: ob, curs: curs, res: res, hub: hub, authz: authz,
		log: log, trigger: make(chan struct{}, 1),
	}
}

// RunLoop runs cycles until ctx is cancelled. Repeated failures stretch the
// delay exponentially up to the configured cap.
func (c *Client) RunLoop(ctx context.Context) {
	c.log.Infof("sync loop started, terminal=%s interval=%s", c.cfg.TerminalID, c.cfg.Interval)
	for {
		timer := time.NewTimer(c.nextDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			c.log.Info("sync loop stopped")
			return
		case <-timer.C:
		case <-c.trigger:
			timer.Stop()
		}
		if err := c.runCycle(ctx); err != nil && ctx.Err() != nil {
			c.log.Info("sync loop stopped")
			return
		}
	}
}

// SyncNow runs one cycle on demand, gated by the authorizer.
func (c *Client) SyncNow(ctx context.Context, actor auth.Actor) error {
	if !c.authz.CanTriggerManualSync(actor) {
		return ErrNotAuthorized
	}
	return c.runCycle(ctx)
}

// Status reports the engine's health without touching the hub.
func (c *Client) Status() Status {
	c.stMu.Lock()
	defer c.stMu.Unlock()
	return c.status
}

func (c *Client) nextDelay() time.Duration {
	c.stMu.Lock()
	failures := c.status.Failures
	c.stMu.Unlock()
	d := c.cfg.Interval
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= c.cfg.BackoffCap {
			return c.cfg.BackoffCap
		}
	}
	return d
}

func (c *Client) runCycle(ctx context.Context) error {
	if !c.runMu.TryLock() {
		return ErrSyncInProgress
	}
	defer c.runMu.Unlock()

	c.setState(StateSyncing, nil)
	err := c.push(ctx)
	if err == nil {
		err = c.pull(ctx)
	}
	if err != nil {
		c.stMu.Lock()
		c.status.Failures++
		c.status.State = StateDegraded
		c.status.LastError = err.Error()
		failures := c.status.Failures
		c.stMu.Unlock()
		c.log.Warnf("sync degraded (failure %d): %v", failures, err)
		return err
	}
	c.stMu.Lock()
	c.status = Status{State: StateIdle, LastSyncUTC: time.Now().UTC()}
	c.stMu.Unlock()
	return nil
}

func (c *Client) setState(s State, err error) {
	c.stMu.Lock()
	c.status.State = s
	if err != nil {
		c.status.LastError = err.Error()
	}
	c.stMu.Unlock()
}

// push sends every unacknowledged outbox record above the cursor, in commit
// order, and advances only to what the hub confirms. A partial ack leaves
// the tail pending for the next cycle; envelopes are never mutated or
// reordered, so resends are safe duplicates.
func (c *Client) push(ctx context.Context) error {
	cur, err := c.curs.Get(ctx, c.cfg.TerminalID)
	if err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}
	recs, err := c.ob.Pending(ctx, cur.LastPushedSeq, c.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("read outbox: %w", err)
	}
	if len(recs) == 0 {
		return nil
	}
	changes := make([]model.BatchChange, len(recs))
	for i, r := range recs {
		changes[i] = model.BatchChange{Seq: r.Seq, SyncEnvelope: r.Envelope()}
	}
	ack, err := c.hub.Push(ctx, model.SyncBatch{
		TerminalID: c.cfg.TerminalID,
		FromToken:  cur.LastPulledToken,
		Changes:    changes,
	})
	if err != nil {
		return fmt.Errorf("push %d changes: %w", len(changes), err)
	}
	if ack.AcceptedUpToSeq > cur.LastPushedSeq {
		if err := c.ob.MarkAcked(ctx, ack.AcceptedUpToSeq); err != nil {
			return err
		}
		if err := c.curs.AdvancePushed(ctx, c.cfg.TerminalID, ack.AcceptedUpToSeq); err != nil {
			return err
		}
	}
	c.log.Infof("pushed %d changes, accepted up to seq %d", len(changes), ack.AcceptedUpToSeq)
	return nil
}

// pull fetches batches addressed to this terminal since the cursor and
// feeds them to the resolver in batch order. The cursor advances only after
// every envelope applied; a Rejected envelope halts the pull with the
// cursor still pointing at it.
func (c *Client) pull(ctx context.Context) error {
	cur, err := c.curs.Get(ctx, c.cfg.TerminalID)
	if err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}
	res, err := c.hub.Pull(ctx, c.cfg.TerminalID, cur.LastPulledToken)
	if err != nil {
		return fmt.Errorf("pull since token %d: %w", cur.LastPulledToken, err)
	}
	applied := 0
	for _, b := range res.Batches {
		for _, ch := range b.Changes {
			out, err := c.res.Apply(ctx, ch.SyncEnvelope)
			if err != nil {
				return fmt.Errorf("apply halted at %s %s from %s: %w",
					ch.Kind, ch.PublicID, b.TerminalID, err)
			}
			if out == resolver.Applied {
				applied++
			}
		}
	}
	if res.HighestToken > cur.LastPulledToken {
		if err := c.curs.AdvancePulled(ctx, c.cfg.TerminalID, res.HighestToken); err != nil {
			return err
		}
		c.log.Infof("pulled %d batches, applied %d changes, token %d",
			len(res.Batches), applied, res.HighestToken)
	}
	return nil
}

// Trigger nudges the loop without waiting for the next tick. Used by the
// terminal agent when connectivity returns.
func (c *Client) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}
