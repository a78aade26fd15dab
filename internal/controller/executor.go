package controller

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"l2-controller/internal/decision"
	"l2-controller/internal/dispatch"
	"l2-controller/internal/frame"
	"l2-controller/internal/platform"
	"l2-controller/internal/stats"
	"l2-controller/pkg/types"
)

type job struct {
	raw types.RawFrame
	res dispatch.Result
}

// Executor carries out decisions against the platform. Side effects run on a small worker
// set fed by a bounded queue; they are never retried.
type Executor struct {
	tx        platform.PacketTransmitter
	installer platform.FlowRuleInstaller
	stats     *stats.Collector
	appID     string
	workers   int
	queue     chan job
	wg        conc.WaitGroup
}

// NewExecutor creates an executor with the given worker count and queue capacity.
func NewExecutor(tx platform.PacketTransmitter, installer platform.FlowRuleInstaller, collector *stats.Collector,
	appID string, workers, queueSize int) *Executor {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Executor{
		tx:        tx,
		installer: installer,
		stats:     collector,
		appID:     appID,
		workers:   workers,
		queue:     make(chan job, queueSize),
	}
}

// Start launches the workers. Queued side effects are drained by Close.
func (e *Executor) Start(ctx context.Context) {
	for i := 0; i < e.workers; i++ {
		e.wg.Go(func() {
			for j := range e.queue {
				e.apply(ctx, j)
			}
		})
	}
}

// Execute queues the side effects of res without waiting for them. It returns false when
// the queue is full and the side effects were dropped. Ignore decisions are never queued.
func (e *Executor) Execute(raw types.RawFrame, res dispatch.Result) bool {
	if res.Decision.Kind == decision.Ignore {
		return true
	}

	select {
	case e.queue <- job{raw: raw, res: res}:
		return true
	default:
		e.stats.RecordSideEffectDropped()
		log.WithFields(log.Fields{
			"device":   raw.Device,
			"port":     raw.Port,
			"decision": res.Decision.Kind,
		}).Warn("Side effect queue full, dropping decision")
		return false
	}
}

// ExecuteWait queues the side effects of res, waiting for a free slot when the queue is
// full. Workers drain the queue until Close, so the wait is bounded by their progress.
func (e *Executor) ExecuteWait(raw types.RawFrame, res dispatch.Result) {
	if res.Decision.Kind == decision.Ignore {
		return
	}
	e.queue <- job{raw: raw, res: res}
}

// Close stops accepting work and waits for queued side effects to finish.
// Execute must not be called after Close.
func (e *Executor) Close() {
	close(e.queue)
	e.wg.Wait()
}

func (e *Executor) apply(ctx context.Context, j job) {
	d := j.res.Decision
	raw := j.raw

	switch d.Kind {
	case decision.Flood:
		e.transmit(raw, d, e.tx.FloodExcept(raw.Device, raw.Port, raw.Data))

	case decision.Forward:
		e.transmit(raw, d, e.tx.Emit(raw.Device, d.Port, raw.Data))

	case decision.InstallAndForward:
		rule := types.FlowRule{
			Device:     raw.Device,
			MatchSrc:   d.MatchSrc,
			MatchDst:   d.MatchDst,
			Output:     d.Port,
			Priority:   d.Priority,
			TimeoutSec: d.TimeoutSec,
			AppID:      e.appID,
		}
		err := e.installer.Install(ctx, rule)
		e.stats.RecordInstall(err)
		if err != nil {
			log.WithError(err).WithField("rule", rule.String()).Warn("Failed to install flow rule")
		}
		// The triggering frame is forwarded even when the rule was refused.
		e.transmit(raw, d, e.tx.Emit(raw.Device, d.Port, raw.Data))

	case decision.ArpReply:
		reply, err := frame.BuildARPReply(j.res.View, d.TargetIP, d.TargetMAC)
		if err != nil {
			e.transmit(raw, d, fmt.Errorf("failed to build ARP reply: %w", err))
			return
		}
		e.transmit(raw, d, e.tx.Emit(raw.Device, raw.Port, reply))

	case decision.FloodArpRequest:
		for _, cp := range d.Targets {
			e.transmit(raw, d, e.tx.Emit(cp.Device, cp.Port, raw.Data))
		}
	}
}

func (e *Executor) transmit(raw types.RawFrame, d decision.Decision, err error) {
	e.stats.RecordTransmit(err)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"device":   raw.Device,
			"port":     raw.Port,
			"decision": d.Kind,
		}).Warn("Failed to send frame")
	}
}
