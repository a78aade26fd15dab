package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"l2-controller/internal/bridge"
	"l2-controller/internal/dispatch"
	"l2-controller/internal/platform"
	"l2-controller/internal/proxyarp"
	"l2-controller/internal/stats"
	"l2-controller/internal/table"
	"l2-controller/pkg/types"
)

// FastPath forwards frames that already match an installed rule. Ingress reports whether
// the frame was handled.
type FastPath interface {
	Ingress(raw types.RawFrame) bool
}

// Options tunes the controller's concurrency.
type Options struct {
	AppID           string
	DispatchWorkers int
	QueueSize       int
	ExecutorWorkers int
	ExecutorQueue   int
}

// Deps are the collaborators the controller drives. Source, FastPath, Filter and Edges are
// optional; a nil engine disables its application.
type Deps struct {
	Source      platform.PacketSource
	Transmitter platform.PacketTransmitter
	Installer   platform.FlowRuleInstaller
	Edges       platform.EdgePortDirectory
	FastPath    FastPath
	Filter      *platform.Filter
	Bridge      *bridge.Engine
	ProxyARP    *proxyarp.Engine
	Stats       *stats.Collector
}

// Controller receives frames, runs them through the applications on a bounded worker pool,
// and hands the resulting decisions to the executor.
type Controller struct {
	opts       Options
	deps       Deps
	dispatcher *dispatch.Dispatcher
	executor   *Executor
	stats      *stats.Collector

	queue  chan types.RawFrame
	closed bool
	mu     sync.RWMutex

	cancel    context.CancelFunc
	done      chan struct{}
	sourceErr error
	started   bool
	// wait is set when the source accepts backpressure; frames and side effects are then
	// queued without loss.
	wait bool
}

// New wires a controller. It does not start any goroutine.
func New(opts Options, deps Deps) (*Controller, error) {
	if deps.Bridge == nil && deps.ProxyARP == nil {
		return nil, fmt.Errorf("at least one of bridge and proxy ARP must be enabled")
	}
	if deps.Transmitter == nil {
		return nil, fmt.Errorf("packet transmitter is required")
	}
	if deps.Bridge != nil && deps.Installer == nil {
		return nil, fmt.Errorf("flow rule installer is required by the bridge")
	}
	if opts.DispatchWorkers <= 0 {
		opts.DispatchWorkers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if deps.Stats == nil {
		deps.Stats = stats.NewCollector()
	}

	return &Controller{
		opts:       opts,
		deps:       deps,
		dispatcher: dispatch.NewDispatcher(deps.Bridge, deps.ProxyARP, deps.Edges),
		executor: NewExecutor(deps.Transmitter, deps.Installer, deps.Stats,
			opts.AppID, opts.ExecutorWorkers, opts.ExecutorQueue),
		stats: deps.Stats,
		queue: make(chan types.RawFrame, opts.QueueSize),
		done:  make(chan struct{}),
	}, nil
}

// Start launches the dispatch workers and, when a source is configured, begins reading it.
// The intake closes by itself once the source is exhausted.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("controller already started")
	}
	c.started = true
	// Queued side effects still run after Stop cancels the source.
	c.executor.Start(context.WithoutCancel(ctx))
	ctx, c.cancel = context.WithCancel(ctx)
	c.wait = c.deps.Source != nil && platform.CanWait(c.deps.Source)
	c.mu.Unlock()

	go c.dispatchLoop()

	if c.deps.Source != nil {
		deliver := func(raw types.RawFrame) { c.Submit(raw) }
		if c.wait {
			deliver = func(raw types.RawFrame) { c.SubmitWait(ctx, raw) }
		}
		go func() {
			err := c.deps.Source.Run(ctx, deliver)
			if err != nil && !errors.Is(err, context.Canceled) {
				c.mu.Lock()
				c.sourceErr = err
				c.mu.Unlock()
			}
			c.closeIntake()
		}()
	}

	log.WithFields(log.Fields{
		"dispatch_workers": c.opts.DispatchWorkers,
		"queue_size":       c.opts.QueueSize,
		"backpressure":     c.wait,
		"bridge":           c.deps.Bridge != nil,
		"proxy_arp":        c.deps.ProxyARP != nil,
	}).Info("Controller started")
	return nil
}

// Submit offers one frame to the controller without blocking. It returns false when the
// frame is filtered out, the queue is full, or the controller has stopped.
func (c *Controller) Submit(raw types.RawFrame) bool {
	pending, accepted := c.intake(raw)
	if !pending {
		return accepted
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.stats.RecordDropped()
		return false
	}

	select {
	case c.queue <- raw:
		return true
	default:
		c.stats.RecordDropped()
		log.WithFields(log.Fields{
			"device": raw.Device,
			"port":   raw.Port,
		}).Warn("Dispatch queue full, dropping frame")
		return false
	}
}

// SubmitWait is Submit for sources that can be held back: on a full queue it waits for a
// free slot. It returns false when the frame is filtered out, ctx is done, or the controller
// has stopped.
func (c *Controller) SubmitWait(ctx context.Context, raw types.RawFrame) bool {
	pending, accepted := c.intake(raw)
	if !pending {
		return accepted
	}

	// Stop cancels ctx before closing the intake, so a waiting sender never holds the lock
	// closeIntake needs.
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.stats.RecordDropped()
		return false
	}

	select {
	case c.queue <- raw:
		return true
	case <-ctx.Done():
		c.stats.RecordDropped()
		return false
	}
}

// intake counts raw and runs it through the filter and fast path. pending is false when
// the frame needs no dispatch; accepted then tells whether it was consumed.
func (c *Controller) intake(raw types.RawFrame) (pending, accepted bool) {
	c.stats.RecordReceived()

	if c.deps.Filter != nil && !c.deps.Filter.Admits(raw.Data) {
		c.stats.RecordFiltered()
		return false, false
	}
	if c.deps.FastPath != nil && c.deps.FastPath.Ingress(raw) {
		c.stats.RecordFastPath()
		return false, true
	}
	return true, false
}

func (c *Controller) closeIntake() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
}

func (c *Controller) dispatchLoop() {
	p := pool.New().WithMaxGoroutines(c.opts.DispatchWorkers)
	for raw := range c.queue {
		p.Go(func() { c.handle(raw) })
	}
	p.Wait()
	c.executor.Close()
	close(c.done)
}

func (c *Controller) handle(raw types.RawFrame) {
	start := time.Now()
	res, err := c.dispatcher.Dispatch(raw)
	if err != nil {
		c.stats.RecordParseError()
		log.WithError(err).Warn("Dropping unparseable frame")
		return
	}
	if res.Route == dispatch.RouteIgnore {
		c.stats.RecordControlFrame()
	}
	c.stats.RecordDecision(res.Route.String(), res.Decision.Kind.String(), time.Since(start))

	log.WithFields(log.Fields{
		"device":   raw.Device,
		"port":     raw.Port,
		"route":    res.Route,
		"decision": res.Decision,
	}).Debug("Decision")

	if c.wait {
		c.executor.ExecuteWait(raw, res)
		return
	}
	c.executor.Execute(raw, res)
}

// Wait blocks until the intake has closed and every queued frame and side effect is done.
// It returns the packet source's error, if any.
func (c *Controller) Wait() error {
	<-c.done
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sourceErr
}

// Stop cancels the packet source, drains queued work, and waits for it.
func (c *Controller) Stop() error {
	c.mu.RLock()
	cancel := c.cancel
	c.mu.RUnlock()
	if cancel == nil {
		return fmt.Errorf("controller not started")
	}
	cancel()
	c.closeIntake()
	return c.Wait()
}

// MacTable returns the bridge's table, or nil when the bridge is disabled.
func (c *Controller) MacTable() *table.MacTable {
	if c.deps.Bridge == nil {
		return nil
	}
	return c.deps.Bridge.Table()
}

// ArpCache returns the proxy ARP cache, or nil when proxy ARP is disabled.
func (c *Controller) ArpCache() *table.ArpCache {
	if c.deps.ProxyARP == nil {
		return nil
	}
	return c.deps.ProxyARP.Cache()
}

// Stats returns the controller's collector.
func (c *Controller) Stats() *stats.Collector {
	return c.stats
}
