// Package orchestrator drives a single capture session from start to drained
// shutdown.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/LinkTsang/go-sniffer/internal/output"
	"github.com/LinkTsang/go-sniffer/internal/pipeline"
	"github.com/LinkTsang/go-sniffer/internal/sniffer"
)

var ErrDrainTimeout = errors.New("timed out waiting for queued packets to be written")

type State int

const (
	Idle State = iota
	Running
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting down"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Coordinator struct {
	session      sniffer.Session
	consumer     output.RecordConsumer
	log          *zap.SugaredLogger
	drainTimeout time.Duration
	onState      func(State)
	drain        func(output.Receiver, output.RecordConsumer, *zap.SugaredLogger, *output.Progress) output.DrainResult

	mu    sync.Mutex
	state State
}

type Option func(*Coordinator)

// WithDrainTimeout bounds how long Run waits for queued packets after the
// shutdown signal. Zero waits until the pipeline is empty.
func WithDrainTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.drainTimeout = d }
}

// WithStateHook is called on every state transition.
func WithStateHook(fn func(State)) Option {
	return func(c *Coordinator) { c.onState = fn }
}

func New(session sniffer.Session, consumer output.RecordConsumer, log *zap.SugaredLogger, opts ...Option) *Coordinator {
	c := &Coordinator{
		session:  session,
		consumer: consumer,
		log:      log,
		drain:    output.DrainInto,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.log.Debugf("coordinator %v", s)
	if c.onState != nil {
		c.onState(s)
	}
}

// Run starts the session, persists packets until ctx is canceled by the
// operator, then stops the session and waits for every queued packet to be
// consumed.
func (c *Coordinator) Run(ctx context.Context, cfg sniffer.Config) (output.DrainResult, error) {
	p := pipeline.New()
	sink := p.Sender()

	handle, err := c.session.Start(cfg, sink)
	if err != nil {
		sink.Close()
		return output.DrainResult{}, err
	}

	progress := &output.Progress{}
	drained := make(chan output.DrainResult, 1)
	go func() {
		drained <- c.drain(p, c.consumer, c.log, progress)
	}()
	c.setState(Running)
	c.log.Info("waiting for packets...")

	var signalErr error
	select {
	case <-ctx.Done():
		c.setState(ShuttingDown)
		c.log.Info("shutting down...")
		if err := handle.Signal(); err != nil {
			signalErr = fmt.Errorf("failed to signal capture shutdown: %w", err)
			c.log.Error(signalErr)
		}
	case <-handle.Done():
		// No operator interrupt arrived; the pipeline still gets drained the
		// same way.
		c.setState(ShuttingDown)
		c.log.Warn("capture session ended without an operator interrupt, shutting down anyway")
	}
	c.setState(Stopped)

	var timeout <-chan time.Time
	if c.drainTimeout > 0 {
		timer := time.NewTimer(c.drainTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-drained:
		c.log.Infof("drained %d packets (%d failed)", res.Consumed, res.Failed)
		return res, signalErr
	case <-timeout:
		res := progress.Result()
		c.log.Warnf("%d packets still queued after %v, drained %d (%d failed)", p.Len(), c.drainTimeout, res.Consumed, res.Failed)
		return res, multierr.Append(signalErr, ErrDrainTimeout)
	}
}
